package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/logging"
	"github.com/jonesrussell/scrapecore/internal/queue"
)

// State represents the current state of a single worker goroutine.
type State int32

const (
	StateIdle State = iota
	StateBusy
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats snapshots one worker's lifetime counters.
type Stats struct {
	ID            int
	State         State
	JobsProcessed int64
	JobsSucceeded int64
	JobsFailed    int64
	CurrentJobID  string
}

// Worker pulls jobs off a shared Queue, one at a time, and runs them through
// an Executor until its context is cancelled.
type Worker struct {
	id       int
	state    atomic.Int32
	executor *Executor
	log      logging.Logger

	jobsProcessed atomic.Int64
	jobsSucceeded atomic.Int64
	jobsFailed    atomic.Int64
	currentJob    atomic.Value
}

// NewWorker builds a Worker identified by id.
func NewWorker(id int, executor *Executor, log logging.Logger) *Worker {
	w := &Worker{id: id, executor: executor, log: log}
	w.state.Store(int32(StateIdle))
	w.currentJob.Store("")
	return w
}

// Run loops Dequeue->Execute until ctx is cancelled or q is closed.
func (w *Worker) Run(ctx context.Context, q *queue.Queue) {
	for {
		job, err := q.Dequeue(ctx)
		if err != nil {
			w.state.Store(int32(StateStopped))
			return
		}

		w.runOne(ctx, job)
	}
}

func (w *Worker) runOne(ctx context.Context, job *domain.Job) {
	w.state.Store(int32(StateBusy))
	w.currentJob.Store(job.ID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker panic recovered",
				logging.Int("worker_id", w.id), logging.String("job_id", job.ID),
				logging.Any("panic", r))
			w.executor.HandlePanic(ctx, job, r)
			w.jobsProcessed.Add(1)
			w.jobsFailed.Add(1)
		}
		w.currentJob.Store("")
		w.state.Store(int32(StateIdle))
	}()

	err := w.executor.Execute(ctx, job)

	w.jobsProcessed.Add(1)
	if err != nil {
		w.jobsFailed.Add(1)
		w.log.Warn("job execution returned error",
			logging.String("job_id", job.ID), logging.Error(err),
			logging.Duration("elapsed", time.Since(start)))
	} else {
		w.jobsSucceeded.Add(1)
	}
}

func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) Stats() Stats {
	return Stats{
		ID:            w.id,
		State:         w.State(),
		JobsProcessed: w.jobsProcessed.Load(),
		JobsSucceeded: w.jobsSucceeded.Load(),
		JobsFailed:    w.jobsFailed.Load(),
		CurrentJobID:  w.currentJob.Load().(string),
	}
}
