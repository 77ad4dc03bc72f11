package worker

import (
	"context"
	"sync"
	"sync/atomic"
)

// bulkState tracks the per-bulk parallelism semaphore and stop_on_error abort
// flag shared by every worker that dispatches a job bearing that bulk_id.
type bulkState struct {
	sem         chan struct{}
	stopOnError bool
	aborted     atomic.Bool
	pending     atomic.Int64
}

// BulkCoordinator realizes §4.7's bulk-submission contract across workers:
// a counting semaphore caps how many of one bulk's jobs run concurrently
// regardless of overall pool size, and a shared abort flag, once tripped by
// a non-retryable failure under stop_on_error, causes every worker to cancel
// that bulk's remaining jobs instead of executing them. It is safe for
// concurrent use by every worker goroutine.
type BulkCoordinator struct {
	mu    sync.Mutex
	bulks map[string]*bulkState
}

// NewBulkCoordinator returns an empty coordinator.
func NewBulkCoordinator() *BulkCoordinator {
	return &BulkCoordinator{bulks: make(map[string]*bulkState)}
}

// Register installs bookkeeping for a new bulk_id. jobCount is the number of
// jobs submitted under this bulk; the coordinator's entry is torn down once
// that many jobs have reached Release.
func (c *BulkCoordinator) Register(bulkID string, parallelLimit int, stopOnError bool, jobCount int) {
	if bulkID == "" {
		return
	}
	if parallelLimit <= 0 {
		parallelLimit = 1
	}
	st := &bulkState{sem: make(chan struct{}, parallelLimit), stopOnError: stopOnError}
	st.pending.Store(int64(jobCount))

	c.mu.Lock()
	c.bulks[bulkID] = st
	c.mu.Unlock()
}

// Acquire blocks until a parallelism slot for bulkID is free (or ctx is
// cancelled), then reports whether the bulk has since been aborted. A caller
// that receives aborted=true must not execute the job and should still call
// the returned release func to free bookkeeping. A job with no bulkID (not
// part of a bulk submission) always returns a no-op release and
// aborted=false.
func (c *BulkCoordinator) Acquire(ctx context.Context, bulkID string) (release func(), aborted bool, err error) {
	if bulkID == "" {
		return func() {}, false, nil
	}

	c.mu.Lock()
	st, ok := c.bulks[bulkID]
	c.mu.Unlock()
	if !ok {
		return func() {}, false, nil
	}

	select {
	case st.sem <- struct{}{}:
	case <-ctx.Done():
		return func() {}, false, ctx.Err()
	}

	release = func() {
		<-st.sem
		if st.pending.Add(-1) <= 0 {
			c.mu.Lock()
			delete(c.bulks, bulkID)
			c.mu.Unlock()
		}
	}
	return release, st.aborted.Load(), nil
}

// DiscardPending accounts for n jobs that were registered under bulkID but
// will never reach Acquire/release (submission-time creation or enqueue
// failure, jobs never attempted because StopOnError tripped before they
// were submitted, or jobs the executor cancels before acquiring a slot),
// tearing the bulk down once every registered job has been either executed
// or discarded.
func (c *BulkCoordinator) DiscardPending(bulkID string, n int) {
	if bulkID == "" || n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.bulks[bulkID]
	if !ok {
		return
	}
	if st.pending.Add(-int64(n)) <= 0 {
		delete(c.bulks, bulkID)
	}
}

// Aborted reports whether bulkID's abort flag has been tripped, without
// acquiring a parallelism slot. Used before the QUEUED->RUNNING transition so
// a job can be cancelled without ever entering the semaphore.
func (c *BulkCoordinator) Aborted(bulkID string) bool {
	if bulkID == "" {
		return false
	}
	c.mu.Lock()
	st, ok := c.bulks[bulkID]
	c.mu.Unlock()
	return ok && st.aborted.Load()
}

// ReportFailure trips bulkID's abort flag if that bulk was registered with
// stop_on_error. A no-op for unknown or non-stop_on_error bulks.
func (c *BulkCoordinator) ReportFailure(bulkID string) {
	if bulkID == "" {
		return
	}
	c.mu.Lock()
	st, ok := c.bulks[bulkID]
	c.mu.Unlock()
	if ok && st.stopOnError {
		st.aborted.Store(true)
	}
}
