package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/logging"
	"github.com/jonesrussell/scrapecore/internal/queue"
	"github.com/jonesrussell/scrapecore/internal/store"
)

func TestPoolProcessesEnqueuedJobEndToEnd(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	fetcher := &stubFetcher{result: &domain.JobResult{JobID: "job-1", StatusCode: 200}}
	exec := NewExecutor(st, fetcher, q, logging.NewNop(), nil, nil)

	cfg := DefaultConfig()
	cfg.PoolSize = 2
	pool, err := NewPool(cfg, q, exec, logging.NewNop(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))

	job := newQueuedJob("job-1")
	require.NoError(t, st.Create(context.Background(), job))
	require.NoError(t, q.Enqueue(job))

	require.Eventually(t, func() bool {
		got, err := st.Get(context.Background(), "job-1")
		return err == nil && got.Status == domain.StatusCompleted
	}, time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, pool.Stop(stopCtx))
	assert.Equal(t, PoolStateStopped, pool.State())
}

func TestPoolRejectsDoubleStart(t *testing.T) {
	st := store.NewMemoryStore()
	q := queue.New(0, nil)
	exec := NewExecutor(st, &stubFetcher{}, q, logging.NewNop(), nil, nil)
	pool, err := NewPool(DefaultConfig(), q, exec, logging.NewNop(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))
	assert.Error(t, pool.Start(ctx))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, pool.Stop(stopCtx))
}
