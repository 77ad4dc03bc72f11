// Package store persists jobs and their results and serves the indexed
// list/search/pagination and bulk-aggregation queries over them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/errs"
)

// Store is the persistence boundary the worker pool and composition root
// depend on. PostgresStore and MemoryStore both implement it.
type Store interface {
	// Create inserts a new job in QUEUED status.
	Create(ctx context.Context, job *domain.Job) error

	// Get retrieves a single job by ID.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// List returns a page of jobs matching the filter/sort/pagination in req.
	// req.Tags is not applied as a filter.
	List(ctx context.Context, req domain.JobSearchRequest) (*domain.PageResult, error)

	// Transition performs a compare-and-swap status change: it only succeeds
	// if the job's current status is exactly expectedFrom.
	Transition(ctx context.Context, id string, expectedFrom, to domain.Status) error

	// AttachResult stores the JobResult and marks the job COMPLETED, subject
	// to the same CAS guard as Transition (must be RUNNING).
	AttachResult(ctx context.Context, id string, result *domain.JobResult) error

	// Fail marks a RUNNING job FAILED with the given error message.
	Fail(ctx context.Context, id string, errMsg string) error

	// SetProgress updates the progress percentage and message of a RUNNING job.
	SetProgress(ctx context.Context, id string, progress int, message string) error

	// IncrementRetry bumps retry_count and returns the updated job.
	IncrementRetry(ctx context.Context, id string) (*domain.Job, error)

	// MarkCancelRequested flags a job for cooperative cancellation. It does
	// not itself change Status.
	MarkCancelRequested(ctx context.Context, id string) error

	// RequeueOrphans finds jobs left RUNNING by a crashed worker process
	// (started_at older than olderThan) and returns them to QUEUED so the
	// queue can pick them back up on startup.
	RequeueOrphans(ctx context.Context, olderThan time.Duration) ([]*domain.Job, error)

	// BulkAggregate rolls up status counts for every job sharing bulkID.
	BulkAggregate(ctx context.Context, bulkID string) (*domain.BulkStatusResult, error)
}

// ErrNotFound is returned when a lookup by ID finds no matching job. It
// classifies as errs.NotFound, so callers that only care about the taxonomy
// can use errs.KindOf instead of comparing against this sentinel directly.
var ErrNotFound = errs.New(errs.NotFound, errors.New("job not found"))

// ErrCASMismatch is returned by Transition/AttachResult/Fail when the job's
// current status does not match the expected starting status. It classifies
// as errs.InvalidTransition.
var ErrCASMismatch = errs.New(errs.InvalidTransition, errors.New("job status does not match expected value"))
