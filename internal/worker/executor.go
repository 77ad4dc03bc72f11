package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/logging"
	"github.com/jonesrussell/scrapecore/internal/metrics"
	"github.com/jonesrussell/scrapecore/internal/queue"
	"github.com/jonesrussell/scrapecore/internal/store"
)

// Fetcher is the polymorphic scrape capability dispatched per job, backed by
// the LIGHT_HTTP and HEADLESS_BROWSER variants.
type Fetcher interface {
	Fetch(ctx context.Context, job *domain.Job) (*domain.JobResult, error)
}

// Executor runs the full per-job lifecycle: CAS transition into RUNNING,
// dispatch to a Fetcher, retry-vs-terminal decision on failure, result
// persistence, and best-effort callback delivery. Retry belongs here, not in
// any Fetcher variant.
type Executor struct {
	store      store.Store
	dispatcher Fetcher
	q          *queue.Queue
	log        logging.Logger
	m          *metrics.Metrics
	bulk       *BulkCoordinator

	httpClient      *http.Client
	callbackTimeout time.Duration
}

// NewExecutor wires the store, fetch dispatcher, and re-enqueue queue
// together into a single per-job execution protocol. bulk may be nil, in
// which case bulk-tagged jobs run with no cross-worker coordination (every
// job behaves as if it had no bulk_id).
func NewExecutor(st store.Store, dispatcher Fetcher, q *queue.Queue, log logging.Logger, m *metrics.Metrics, bulk *BulkCoordinator) *Executor {
	if log == nil {
		log = logging.NewNop()
	}
	return &Executor{
		store:           st,
		dispatcher:      dispatcher,
		q:               q,
		log:             log,
		m:               m,
		bulk:            bulk,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		callbackTimeout: 10 * time.Second,
	}
}

// Execute runs one job end to end. It returns an error only for conditions
// the caller should log; business outcomes (FAILED, CANCELLED) are recorded
// in the store and are not themselves errors.
func (e *Executor) Execute(ctx context.Context, job *domain.Job) error {
	if e.bulk != nil && e.bulk.Aborted(job.BulkID) {
		defer e.bulk.DiscardPending(job.BulkID, 1)
		return e.cancelBulkAbortedJob(ctx, job)
	}

	release, aborted, err := e.acquireBulkSlot(ctx, job)
	if err != nil {
		return fmt.Errorf("acquire bulk slot: %w", err)
	}
	defer release()
	if aborted {
		return e.cancelBulkAbortedJob(ctx, job)
	}

	if err := e.store.Transition(ctx, job.ID, domain.StatusQueued, domain.StatusRunning); err != nil {
		if errors.Is(err, store.ErrCASMismatch) {
			e.log.Debug("job no longer queued at dequeue time, skipping", logging.String("job_id", job.ID))
			return nil
		}
		return fmt.Errorf("transition to running: %w", err)
	}

	if e.m != nil {
		e.m.JobsRunning.Inc()
	}

	current, err := e.store.Get(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("reload job after transition: %w", err)
	}
	if current.CancelRequested {
		return e.finishCancelled(ctx, job)
	}

	_ = e.store.SetProgress(ctx, job.ID, 10, "fetching")

	fetchCtx, cancel := context.WithTimeout(ctx, job.Config.Timeout)
	defer cancel()

	start := time.Now()
	result, fetchErr := e.dispatcher.Fetch(fetchCtx, job)
	elapsed := time.Since(start)

	if fetchErr != nil {
		return e.handleFailure(ctx, job, fetchErr, elapsed)
	}

	if err := e.store.AttachResult(ctx, job.ID, result); err != nil {
		return fmt.Errorf("attach result: %w", err)
	}
	e.recordFinish(job, domain.StatusCompleted, elapsed)
	e.fireCallback(job, current, domain.StatusCompleted, "")
	return nil
}

// acquireBulkSlot blocks until job's bulk (if any) has a free parallelism
// slot, returning a release func that must be called exactly once. Jobs with
// no bulk_id pass through immediately.
func (e *Executor) acquireBulkSlot(ctx context.Context, job *domain.Job) (release func(), aborted bool, err error) {
	if e.bulk == nil {
		return func() {}, false, nil
	}
	return e.bulk.Acquire(ctx, job.BulkID)
}

// cancelBulkAbortedJob transitions a QUEUED job straight to CANCELLED
// without ever running it, per §4.7's stop_on_error contract: once a bulk's
// abort flag trips, every worker observing a pending job from that bulk
// cancels it rather than dispatching a fetch.
func (e *Executor) cancelBulkAbortedJob(ctx context.Context, job *domain.Job) error {
	if err := e.store.Transition(ctx, job.ID, domain.StatusQueued, domain.StatusCancelled); err != nil {
		if errors.Is(err, store.ErrCASMismatch) {
			return nil
		}
		return fmt.Errorf("transition to cancelled (bulk abort): %w", err)
	}
	e.recordTerminal(job, domain.StatusCancelled, 0)
	e.fireCallback(job, job, domain.StatusCancelled, "")
	e.log.Info("job cancelled: bulk aborted by stop_on_error",
		logging.String("job_id", job.ID), logging.String("bulk_id", job.BulkID))
	return nil
}

func (e *Executor) finishCancelled(ctx context.Context, job *domain.Job) error {
	if err := e.store.Transition(ctx, job.ID, domain.StatusRunning, domain.StatusCancelled); err != nil {
		return fmt.Errorf("transition to cancelled: %w", err)
	}
	e.recordFinish(job, domain.StatusCancelled, 0)
	e.fireCallback(job, job, domain.StatusCancelled, "")
	return nil
}

func (e *Executor) handleFailure(ctx context.Context, job *domain.Job, fetchErr error, elapsed time.Duration) error {
	var fe *domain.FetchError
	retryable := errors.As(fetchErr, &fe) && fe.Retryable

	current, getErr := e.store.Get(ctx, job.ID)
	if getErr != nil {
		return fmt.Errorf("reload job after fetch failure: %w", getErr)
	}
	if current.CancelRequested {
		return e.finishCancelled(ctx, job)
	}

	if retryable && current.RetryCount < current.MaxRetries {
		updated, err := e.store.IncrementRetry(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("increment retry: %w", err)
		}
		if e.m != nil {
			e.m.RetriesTotal.Inc()
			e.m.JobsRunning.Dec()
		}

		delay := job.Config.DelayBetweenRetries
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := e.q.Enqueue(updated); err != nil {
			return fmt.Errorf("re-enqueue after retry: %w", err)
		}
		e.log.Info("job requeued for retry",
			logging.String("job_id", job.ID), logging.Int("retry_count", updated.RetryCount))
		return nil
	}

	errMsg := fetchErr.Error()
	if e.bulk != nil {
		e.bulk.ReportFailure(job.BulkID)
	}
	if err := e.store.Fail(ctx, job.ID, errMsg); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	e.recordFinish(job, domain.StatusFailed, elapsed)
	e.fireCallback(job, current, domain.StatusFailed, errMsg)
	return nil
}

// HandlePanic records the job FAILED after Worker.runOne has recovered a
// panic raised inside Execute (most likely a variant's Fetch, e.g. a chromedp
// or colly callback), so the panic does not end the worker goroutine, per the
// failure-semantics table's "Variant panic/crash | Catch at worker boundary;
// record FAILED". r is the recovered value, as returned by recover().
func (e *Executor) HandlePanic(ctx context.Context, job *domain.Job, r any) {
	errMsg := fmt.Sprintf("panic: %v", r)
	e.log.Error("worker panic recovered, marking job failed",
		logging.String("job_id", job.ID), logging.Any("panic", r))

	if e.bulk != nil {
		e.bulk.ReportFailure(job.BulkID)
	}

	if err := e.store.Fail(ctx, job.ID, errMsg); err != nil {
		if !errors.Is(err, store.ErrCASMismatch) {
			e.log.Warn("failed to mark panicked job FAILED",
				logging.String("job_id", job.ID), logging.Error(err))
		}
		return
	}
	e.recordFinish(job, domain.StatusFailed, 0)
	e.fireCallback(job, job, domain.StatusFailed, errMsg)
}

// recordFinish records a terminal outcome (COMPLETED, FAILED, CANCELLED)
// reached from RUNNING, decrementing the RUNNING gauge to match the Inc in
// Execute; it is not called on the retry path, which returns the job to
// QUEUED instead of a terminal state.
func (e *Executor) recordFinish(job *domain.Job, status domain.Status, elapsed time.Duration) {
	if e.m == nil {
		return
	}
	e.m.JobsRunning.Dec()
	e.recordTerminal(job, status, elapsed)
}

// recordTerminal records a terminal outcome reached without ever entering
// RUNNING (a bulk-aborted job cancelled straight from QUEUED), so it must
// not touch the RUNNING gauge.
func (e *Executor) recordTerminal(job *domain.Job, status domain.Status, elapsed time.Duration) {
	if e.m == nil {
		return
	}
	e.m.JobsFinishedTotal.WithLabelValues(string(status)).Inc()
	if elapsed > 0 {
		e.m.JobDurationSeconds.WithLabelValues(string(job.ScraperVariant), string(status)).Observe(elapsed.Seconds())
	}
}

type callbackPayload struct {
	JobID  string        `json:"job_id"`
	Status domain.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// fireCallback posts the terminal status to job.CallbackURL on a best-effort
// basis: the executor never blocks job completion on the callback succeeding.
func (e *Executor) fireCallback(job, fromStore *domain.Job, status domain.Status, errMsg string) {
	url := job.CallbackURL
	if url == "" {
		url = fromStore.CallbackURL
	}
	if url == "" {
		return
	}

	payload, err := json.Marshal(callbackPayload{JobID: job.ID, Status: status, Error: errMsg})
	if err != nil {
		e.log.Warn("failed to marshal callback payload", logging.Error(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.callbackTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			e.log.Warn("failed to build callback request", logging.String("job_id", job.ID), logging.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(req)
		if err != nil {
			e.log.Warn("callback delivery failed", logging.String("job_id", job.ID), logging.Error(err))
			return
		}
		defer resp.Body.Close()
	}()
}
