package worker

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/errs"
	"github.com/jonesrussell/scrapecore/internal/logging"
	"github.com/jonesrussell/scrapecore/internal/metrics"
	"github.com/jonesrussell/scrapecore/internal/queue"
	"github.com/jonesrussell/scrapecore/internal/store"
)

func TestBulkSubmitterCreatesAllJobsWithSharedBulkID(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	sub := NewBulkSubmitter(st, q, logging.NewNop(), nil, nil)

	req := domain.BulkScrapeRequest{
		Jobs: []domain.ScrapeRequest{
			{URL: "https://a.example.com"},
			{URL: "https://b.example.com"},
			{URL: "https://c.example.com"},
		},
		ParallelLimit: 2,
	}

	result, err := sub.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, result.AcceptedCount)
	assert.Len(t, result.JobIDs, 3)

	agg, err := st.BulkAggregate(context.Background(), result.BulkID)
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Total)
	assert.Equal(t, 3, agg.CountsByStatus[domain.StatusQueued])
	assert.Equal(t, 3, q.Len())
}

func TestBulkSubmitterIncrementsJobsSubmittedMetric(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	m := metrics.New(nil)
	sub := NewBulkSubmitter(st, q, logging.NewNop(), m, nil)

	req := domain.BulkScrapeRequest{
		Jobs: []domain.ScrapeRequest{
			{URL: "https://a.example.com", ScraperVariant: domain.VariantLightHTTP},
			{URL: "https://b.example.com", ScraperVariant: domain.VariantLightHTTP},
		},
		ParallelLimit: 2,
	}

	_, err := sub.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.JobsSubmittedTotal.WithLabelValues(string(domain.VariantLightHTTP))))
}

func TestBulkSubmitterRejectsInvalidRequest(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	sub := NewBulkSubmitter(st, q, logging.NewNop(), nil, nil)

	_, err := sub.Submit(context.Background(), domain.BulkScrapeRequest{})
	assert.Error(t, err)
}

func TestBulkSubmitterStopOnErrorHaltsQueueFull(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(1, nil)
	sub := NewBulkSubmitter(st, q, logging.NewNop(), nil, nil)

	req := domain.BulkScrapeRequest{
		Jobs: []domain.ScrapeRequest{
			{URL: "https://a.example.com"},
			{URL: "https://b.example.com"},
			{URL: "https://c.example.com"},
		},
		ParallelLimit: 1,
		StopOnError:   true,
	}

	result, err := sub.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Less(t, result.AcceptedCount, 3)
}

func TestBulkSubmitterWithCoordinatorCancelsRemainingJobsAfterExecutionFailure(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	bulk := NewBulkCoordinator()
	sub := NewBulkSubmitter(st, q, logging.NewNop(), nil, bulk)

	req := domain.BulkScrapeRequest{
		Jobs: []domain.ScrapeRequest{
			{URL: "https://a.example.com"},
			{URL: "https://fails.example.com"},
			{URL: "https://c.example.com"},
		},
		ParallelLimit: 3,
		StopOnError:   true,
	}

	result, err := sub.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 3, result.AcceptedCount)

	fetcher := &urlFailingFetcher{failURL: "https://fails.example.com"}
	exec := NewExecutor(st, fetcher, q, logging.NewNop(), nil, bulk)

	// Dequeue and execute every submitted job; the failing one must trip the
	// abort flag so the remaining pending job(s) cancel without fetching.
	for range req.Jobs {
		job, derr := q.Dequeue(context.Background())
		require.NoError(t, derr)
		require.NoError(t, exec.Execute(context.Background(), job))
	}

	agg, err := st.BulkAggregate(context.Background(), result.BulkID)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.CountsByStatus[domain.StatusFailed])
	assert.GreaterOrEqual(t, agg.CountsByStatus[domain.StatusCancelled], 0)
	assert.False(t, fetcher.calledAfterFailure)
}

type urlFailingFetcher struct {
	failURL            string
	failed             bool
	calledAfterFailure bool
}

func (f *urlFailingFetcher) Fetch(_ context.Context, job *domain.Job) (*domain.JobResult, error) {
	if job.URL == f.failURL {
		f.failed = true
		return nil, domain.NewFetchError(domain.FetchErrorHTTP, false, assertErr("500 server error"))
	}
	if f.failed {
		f.calledAfterFailure = true
	}
	return &domain.JobResult{JobID: job.ID, StatusCode: 200}, nil
}

func TestBulkSubmitterStopOnErrorReportsQueueFullKind(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(1, nil)
	require.NoError(t, q.Enqueue(&domain.Job{ID: "filler", Status: domain.StatusQueued}))
	sub := NewBulkSubmitter(st, q, logging.NewNop(), nil, nil)

	req := domain.BulkScrapeRequest{
		Jobs:          []domain.ScrapeRequest{{URL: "https://a.example.com"}},
		ParallelLimit: 1,
		StopOnError:   true,
	}

	_, err := sub.Submit(context.Background(), req)
	require.Error(t, err)

	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.QueueFull, kind)
}
