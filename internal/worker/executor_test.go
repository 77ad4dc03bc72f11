package worker

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/logging"
	"github.com/jonesrussell/scrapecore/internal/metrics"
	"github.com/jonesrussell/scrapecore/internal/queue"
	"github.com/jonesrussell/scrapecore/internal/store"
)

type stubFetcher struct {
	result *domain.JobResult
	err    error
}

func (f *stubFetcher) Fetch(_ context.Context, _ *domain.Job) (*domain.JobResult, error) {
	return f.result, f.err
}

func newQueuedJob(id string) *domain.Job {
	return &domain.Job{
		ID:             id,
		URL:            "https://example.com",
		Method:         domain.MethodGet,
		ScraperVariant: domain.VariantLightHTTP,
		Status:         domain.StatusQueued,
		Config:         domain.Config{Timeout: time.Second, MaxRetries: 2, DelayBetweenRetries: time.Millisecond},
		MaxRetries:     2,
	}
}

func TestExecutorSuccessAttachesResultAndCompletes(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	ctx := context.Background()

	job := newQueuedJob("job-1")
	require.NoError(t, st.Create(ctx, job))

	fetcher := &stubFetcher{result: &domain.JobResult{JobID: "job-1", StatusCode: 200}}
	exec := NewExecutor(st, fetcher, q, logging.NewNop(), nil, nil)

	require.NoError(t, exec.Execute(ctx, job))

	got, err := st.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 200, got.Result.StatusCode)
}

func TestExecutorRetryableFailureRequeues(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	ctx := context.Background()

	job := newQueuedJob("job-1")
	require.NoError(t, st.Create(ctx, job))

	fetcher := &stubFetcher{err: domain.NewFetchError(domain.FetchErrorNetwork, true, assertErr("connection reset"))}
	exec := NewExecutor(st, fetcher, q, logging.NewNop(), nil, nil)

	require.NoError(t, exec.Execute(ctx, job))

	got, err := st.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, 1, q.Len())
}

func TestExecutorNonRetryableFailureMarksFailed(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	ctx := context.Background()

	job := newQueuedJob("job-1")
	require.NoError(t, st.Create(ctx, job))

	fetcher := &stubFetcher{err: domain.NewFetchError(domain.FetchErrorHTTP, false, assertErr("404 not found"))}
	exec := NewExecutor(st, fetcher, q, logging.NewNop(), nil, nil)

	require.NoError(t, exec.Execute(ctx, job))

	got, err := st.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestExecutorExhaustedRetriesMarksFailed(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	ctx := context.Background()

	job := newQueuedJob("job-1")
	job.RetryCount = 2
	job.MaxRetries = 2
	require.NoError(t, st.Create(ctx, job))

	fetcher := &stubFetcher{err: domain.NewFetchError(domain.FetchErrorNetwork, true, assertErr("timeout"))}
	exec := NewExecutor(st, fetcher, q, logging.NewNop(), nil, nil)

	require.NoError(t, exec.Execute(ctx, job))

	got, err := st.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestExecutorJobsRunningGaugeReturnsToZeroAfterCompletion(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	ctx := context.Background()
	m := metrics.New(nil)

	job := newQueuedJob("job-1")
	require.NoError(t, st.Create(ctx, job))

	fetcher := &stubFetcher{result: &domain.JobResult{JobID: "job-1", StatusCode: 200}}
	exec := NewExecutor(st, fetcher, q, logging.NewNop(), m, nil)

	require.NoError(t, exec.Execute(ctx, job))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.JobsRunning))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsFinishedTotal.WithLabelValues(string(domain.StatusCompleted))))
}

func TestExecutorJobsRunningGaugeReturnsToZeroAfterRetryRequeue(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	ctx := context.Background()
	m := metrics.New(nil)

	job := newQueuedJob("job-1")
	require.NoError(t, st.Create(ctx, job))

	fetcher := &stubFetcher{err: domain.NewFetchError(domain.FetchErrorNetwork, true, assertErr("connection reset"))}
	exec := NewExecutor(st, fetcher, q, logging.NewNop(), m, nil)

	require.NoError(t, exec.Execute(ctx, job))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.JobsRunning))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RetriesTotal))
}

func TestExecutorSkipsJobNoLongerQueued(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	ctx := context.Background()

	job := newQueuedJob("job-1")
	require.NoError(t, st.Create(ctx, job))
	require.NoError(t, st.Transition(ctx, "job-1", domain.StatusQueued, domain.StatusRunning))
	require.NoError(t, st.Fail(ctx, "job-1", "already handled"))

	fetcher := &stubFetcher{result: &domain.JobResult{JobID: "job-1"}}
	exec := NewExecutor(st, fetcher, q, logging.NewNop(), nil, nil)

	require.NoError(t, exec.Execute(ctx, job))

	got, err := st.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "already handled", got.ErrorMessage)
}

func TestExecutorCancelsPendingBulkJobWithoutFetchingAfterAbort(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	ctx := context.Background()

	job := newQueuedJob("job-5")
	job.BulkID = "bulk-1"
	require.NoError(t, st.Create(ctx, job))

	bulk := NewBulkCoordinator()
	bulk.Register("bulk-1", 2, true, 1)
	bulk.ReportFailure("bulk-1")

	fetchCalled := false
	fetcher := &fetchObserverFetcher{called: &fetchCalled, result: &domain.JobResult{JobID: "job-5", StatusCode: 200}}
	exec := NewExecutor(st, fetcher, q, logging.NewNop(), nil, bulk)

	require.NoError(t, exec.Execute(ctx, job))

	got, err := st.Get(ctx, "job-5")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.False(t, fetchCalled, "bulk-aborted job must never reach the fetcher")
}

func TestExecutorNonBulkJobIgnoresNilCoordinator(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	ctx := context.Background()

	job := newQueuedJob("job-6")
	require.NoError(t, st.Create(ctx, job))

	fetcher := &stubFetcher{result: &domain.JobResult{JobID: "job-6", StatusCode: 200}}
	exec := NewExecutor(st, fetcher, q, logging.NewNop(), nil, nil)

	require.NoError(t, exec.Execute(ctx, job))

	got, err := st.Get(ctx, "job-6")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

type fetchObserverFetcher struct {
	called *bool
	result *domain.JobResult
}

func (f *fetchObserverFetcher) Fetch(_ context.Context, _ *domain.Job) (*domain.JobResult, error) {
	*f.called = true
	return f.result, nil
}

func TestExecutorHandlePanicMarksRunningJobFailed(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	ctx := context.Background()

	job := newQueuedJob("job-7")
	require.NoError(t, st.Create(ctx, job))
	require.NoError(t, st.Transition(ctx, "job-7", domain.StatusQueued, domain.StatusRunning))

	exec := NewExecutor(st, &stubFetcher{}, q, logging.NewNop(), nil, nil)
	exec.HandlePanic(ctx, job, "boom")

	got, err := st.Get(ctx, "job-7")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "boom")
}

func TestExecutorHandlePanicOnNonRunningJobIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	ctx := context.Background()

	job := newQueuedJob("job-8")
	require.NoError(t, st.Create(ctx, job))

	exec := NewExecutor(st, &stubFetcher{}, q, logging.NewNop(), nil, nil)
	exec.HandlePanic(ctx, job, "boom")

	got, err := st.Get(ctx, "job-8")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
