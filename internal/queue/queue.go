// Package queue implements the in-memory priority FIFO queue that feeds the
// worker pool: (priority desc, enqueue_seq asc) ordering over container/heap,
// with bounded capacity and cooperative cancellation.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/metrics"
)

// ErrFull is returned by Enqueue when the queue is at capacity.
var ErrFull = errors.New("queue is full")

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue is closed")

type item struct {
	job        *domain.Job
	enqueueSeq int64
	enqueuedAt time.Time
	index      int
}

// priorityHeap orders by priority descending, then enqueue_seq ascending,
// matching the FIFO-within-priority-class requirement.
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].enqueueSeq < h[j].enqueueSeq
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a bounded, priority-ordered FIFO of jobs awaiting a worker.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	heap     priorityHeap
	byID     map[string]*item
	capacity int
	nextSeq  int64
	closed   bool
	m        *metrics.Metrics
}

// New returns an empty Queue bounded at capacity entries. capacity<=0 means
// unbounded.
func New(capacity int, m *metrics.Metrics) *Queue {
	q := &Queue{
		heap:     make(priorityHeap, 0),
		byID:     make(map[string]*item),
		capacity: capacity,
		m:        m,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	heap.Init(&q.heap)
	return q
}

// Enqueue adds job to the queue, failing immediately with ErrFull if the
// queue is at capacity rather than blocking the submitter.
func (q *Queue) Enqueue(job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.capacity > 0 && len(q.heap) >= q.capacity {
		return ErrFull
	}

	q.nextSeq++
	it := &item{job: job, enqueueSeq: q.nextSeq, enqueuedAt: time.Now()}
	heap.Push(&q.heap, it)
	q.byID[job.ID] = it

	if q.m != nil {
		bucket := priorityBucket(job.Priority)
		q.m.QueueEnqueued.WithLabelValues(bucket).Inc()
		q.m.QueueDepth.WithLabelValues(bucket).Set(float64(len(q.heap)))
	}

	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until a job is available, ctx is cancelled, or the queue is
// closed.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Job, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 && !q.closed {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.notEmpty.Wait()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(q.heap) == 0 && q.closed {
		return nil, ErrClosed
	}

	it := heap.Pop(&q.heap).(*item)
	delete(q.byID, it.job.ID)

	if q.m != nil {
		bucket := priorityBucket(it.job.Priority)
		q.m.QueueDequeued.WithLabelValues(bucket).Inc()
		q.m.QueueDepth.WithLabelValues(bucket).Set(float64(len(q.heap)))
		q.m.QueueWaitSeconds.WithLabelValues(bucket).Observe(time.Since(it.enqueuedAt).Seconds())
	}

	return it.job, nil
}

// Cancel removes a still-queued job by ID, returning false if it is not
// present (already dequeued or never enqueued).
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, it.index)
	delete(q.byID, id)
	return true
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close wakes every blocked Dequeue call with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}

func priorityBucket(priority int) string {
	switch {
	case priority > 0:
		return "high"
	case priority < 0:
		return "low"
	default:
		return "normal"
	}
}
