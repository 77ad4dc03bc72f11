package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jonesrussell/scrapecore/internal/logging"
	"github.com/jonesrussell/scrapecore/internal/metrics"
	"github.com/jonesrussell/scrapecore/internal/queue"
)

// PoolState represents the current state of the pool.
type PoolState int32

const (
	PoolStateStopped PoolState = iota
	PoolStateRunning
	PoolStateDraining
)

func (s PoolState) String() string {
	switch s {
	case PoolStateStopped:
		return "stopped"
	case PoolStateRunning:
		return "running"
	case PoolStateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Pool manages a fixed-size pool of workers. Bounded concurrency falls out
// of running exactly PoolSize worker goroutines against one shared queue,
// rather than a separate submission-time semaphore.
type Pool struct {
	config  Config
	workers []*Worker
	q       *queue.Queue
	log     logging.Logger
	m       *metrics.Metrics

	state  atomic.Int32
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool builds a Pool of cfg.PoolSize workers, each driven by executor,
// pulling from q.
func NewPool(cfg Config, q *queue.Queue, executor *Executor, log logging.Logger, m *metrics.Metrics) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker pool config: %w", err)
	}
	if q == nil {
		return nil, errors.New("queue cannot be nil")
	}
	if executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if log == nil {
		log = logging.NewNop()
	}

	p := &Pool{config: cfg, q: q, log: log, m: m}
	p.workers = make([]*Worker, cfg.PoolSize)
	for i := range p.workers {
		p.workers[i] = NewWorker(i, executor, log)
	}
	p.state.Store(int32(PoolStateStopped))
	return p, nil
}

// Start launches every worker's pull loop.
func (p *Pool) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PoolStateStopped), int32(PoolStateRunning)) {
		return errors.New("pool is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if p.m != nil {
		p.m.WorkerPoolSize.Set(float64(p.config.PoolSize))
	}

	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(runCtx, p.q)
		}(w)
	}

	p.log.Info("worker pool started", logging.Int("pool_size", p.config.PoolSize))
	return nil
}

// Stop signals every worker to stop pulling new jobs and waits up to
// DrainTimeout (or until ctx is cancelled) for in-flight jobs to finish.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PoolStateRunning), int32(PoolStateDraining)) {
		return errors.New("pool is not running")
	}
	p.log.Info("worker pool draining")

	drainCtx, cancelDrain := context.WithTimeout(ctx, p.config.DrainTimeout)
	defer cancelDrain()

	p.q.Close()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("worker pool stopped gracefully")
	case <-drainCtx.Done():
		p.log.Warn("worker pool stop timed out")
	}

	p.state.Store(int32(PoolStateStopped))
	return nil
}

func (p *Pool) State() PoolState { return PoolState(p.state.Load()) }

// Stats aggregates every worker's lifetime counters plus busy/idle gauges,
// and (when a Metrics instance is wired) publishes the gauges.
func (p *Pool) Stats() PoolStats {
	stats := PoolStats{PoolSize: p.config.PoolSize, State: p.State()}
	workerStats := make([]Stats, len(p.workers))
	for i, w := range p.workers {
		ws := w.Stats()
		workerStats[i] = ws
		stats.JobsProcessed += ws.JobsProcessed
		stats.JobsSucceeded += ws.JobsSucceeded
		stats.JobsFailed += ws.JobsFailed
		if ws.State == StateBusy {
			stats.BusyWorkers++
		}
	}
	stats.IdleWorkers = stats.PoolSize - stats.BusyWorkers
	stats.Workers = workerStats

	if p.m != nil {
		p.m.WorkersBusy.Set(float64(stats.BusyWorkers))
		p.m.WorkersIdle.Set(float64(stats.IdleWorkers))
	}
	return stats
}

// PoolStats holds aggregate statistics for the pool.
type PoolStats struct {
	State         PoolState
	PoolSize      int
	BusyWorkers   int
	IdleWorkers   int
	JobsProcessed int64
	JobsSucceeded int64
	JobsFailed    int64
	Workers       []Stats
}

// Utilization returns busy/pool-size as a percentage.
func (s PoolStats) Utilization() float64 {
	if s.PoolSize == 0 {
		return 0
	}
	return float64(s.BusyWorkers) / float64(s.PoolSize) * 100
}
