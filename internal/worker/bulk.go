package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/errs"
	"github.com/jonesrussell/scrapecore/internal/logging"
	"github.com/jonesrussell/scrapecore/internal/metrics"
	"github.com/jonesrussell/scrapecore/internal/queue"
	"github.com/jonesrussell/scrapecore/internal/store"
)

// BulkSubmitter creates and enqueues every job in a BulkScrapeRequest under
// one shared bulk_id, bounding concurrent submission with a per-bulk
// semaphore and honoring StopOnError.
type BulkSubmitter struct {
	store store.Store
	q     *queue.Queue
	log   logging.Logger
	m     *metrics.Metrics
	bulk  *BulkCoordinator
}

// NewBulkSubmitter builds a BulkSubmitter over st and q. m and bulk may be
// nil; without a coordinator, submitted jobs carry a bulk_id tag but get no
// cross-worker parallelism cap or stop_on_error abort propagation at
// execution time (only this submitter's own submission-time StopOnError
// handling applies).
func NewBulkSubmitter(st store.Store, q *queue.Queue, log logging.Logger, m *metrics.Metrics, bulk *BulkCoordinator) *BulkSubmitter {
	if log == nil {
		log = logging.NewNop()
	}
	return &BulkSubmitter{store: st, q: q, log: log, m: m, bulk: bulk}
}

// Submit validates req, then creates and enqueues each sub-job concurrently,
// bounded by req.ParallelLimit. If req.StopOnError is set, an in-flight
// abort flag stops launching further submissions once one fails; jobs
// already accepted are left queued.
func (b *BulkSubmitter) Submit(ctx context.Context, req domain.BulkScrapeRequest) (*domain.BulkSubmitResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	bulkID := uuid.NewString()
	if b.bulk != nil {
		b.bulk.Register(bulkID, req.ParallelLimit, req.StopOnError, len(req.Jobs))
	}
	sem := make(chan struct{}, req.ParallelLimit)
	var wg sync.WaitGroup
	var aborted atomic.Bool
	var mu sync.Mutex
	var jobIDs []string
	var firstErr error

	for i := range req.Jobs {
		if req.StopOnError && aborted.Load() {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(sub domain.ScrapeRequest) {
			defer wg.Done()
			defer func() { <-sem }()

			if req.StopOnError && aborted.Load() {
				return
			}

			job := &domain.Job{
				ID:             uuid.NewString(),
				URL:            sub.URL,
				Method:         sub.Method,
				Headers:        sub.Headers,
				Params:         sub.Params,
				Body:           sub.Body,
				ScraperVariant: sub.ScraperVariant,
				Config:         sub.Config,
				Tags:           sub.Tags,
				Priority:       sub.Priority,
				Status:         domain.StatusQueued,
				MaxRetries:     sub.Config.MaxRetries,
				CallbackURL:    sub.CallbackURL,
				BulkID:         bulkID,
			}

			if err := b.store.Create(ctx, job); err != nil {
				b.log.Warn("bulk job creation failed", logging.String("url", sub.URL), logging.Error(err))
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				if req.StopOnError {
					aborted.Store(true)
				}
				return
			}

			if err := b.q.Enqueue(job); err != nil {
				enqueueErr := err
				if errors.Is(err, queue.ErrFull) {
					enqueueErr = errs.New(errs.QueueFull, err)
				}
				b.log.Warn("bulk job enqueue failed", logging.String("job_id", job.ID), logging.Error(enqueueErr))
				mu.Lock()
				if firstErr == nil {
					firstErr = enqueueErr
				}
				mu.Unlock()
				if req.StopOnError {
					aborted.Store(true)
				}
				return
			}

			if b.m != nil {
				b.m.JobsSubmittedTotal.WithLabelValues(string(job.ScraperVariant)).Inc()
			}

			mu.Lock()
			jobIDs = append(jobIDs, job.ID)
			mu.Unlock()
		}(req.Jobs[i])
	}

	wg.Wait()

	if b.bulk != nil {
		if notSubmitted := len(req.Jobs) - len(jobIDs); notSubmitted > 0 {
			b.bulk.DiscardPending(bulkID, notSubmitted)
		}
	}

	if req.StopOnError && firstErr != nil && len(jobIDs) == 0 {
		return nil, errs.WrapWithContext(firstErr, "bulk submission aborted")
	}

	return &domain.BulkSubmitResult{
		BulkID:        bulkID,
		JobIDs:        jobIDs,
		AcceptedCount: len(jobIDs),
	}, nil
}
