package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/errs"
)

// MemoryStore is an in-process Store used by the demo composition root and
// by tests that don't need to exercise SQL generation directly.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*domain.Job)}
}

func cloneJob(j *domain.Job) *domain.Job {
	cp := *j
	return &cp
}

func (s *MemoryStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errs.New(errs.DuplicateID, fmt.Errorf("duplicate job id: %s", job.ID))
	}
	job.CreatedAt = time.Now()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) List(_ context.Context, req domain.JobSearchRequest) (*domain.PageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !matchesSearch(j, req) {
			continue
		}
		matched = append(matched, j)
	}

	sort.Slice(matched, func(i, k int) bool {
		less := lessBy(matched[i], matched[k], req.SortBy)
		if req.SortOrder == domain.SortDesc {
			return !less
		}
		return less
	})

	total := len(matched)
	totalPages := (total + req.PageSize - 1) / req.PageSize
	start := (req.Page - 1) * req.PageSize
	end := start + req.PageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	page := make([]*domain.Job, 0, end-start)
	for _, j := range matched[start:end] {
		page = append(page, cloneJob(j))
	}

	return &domain.PageResult{
		Jobs:       page,
		Total:      total,
		Page:       req.Page,
		PageSize:   req.PageSize,
		TotalPages: totalPages,
		HasNext:    req.Page < totalPages,
		HasPrev:    req.Page > 1,
	}, nil
}

func matchesSearch(j *domain.Job, req domain.JobSearchRequest) bool {
	if len(req.Statuses) > 0 {
		found := false
		for _, st := range req.Statuses {
			if j.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(req.ScraperVariants) > 0 {
		found := false
		for _, v := range req.ScraperVariants {
			if j.ScraperVariant == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if req.Query != "" {
		q := strings.ToLower(req.Query)
		if !strings.Contains(strings.ToLower(j.ID), q) && !strings.Contains(strings.ToLower(j.URL), q) {
			return false
		}
	}
	if req.DateFrom != nil && j.CreatedAt.Before(*req.DateFrom) {
		return false
	}
	if req.DateTo != nil && j.CreatedAt.After(*req.DateTo) {
		return false
	}
	return true
}

func lessBy(a, b *domain.Job, field domain.SortField) bool {
	switch field {
	case domain.SortPriority:
		return a.Priority < b.Priority
	case domain.SortStatus:
		return a.Status < b.Status
	default:
		return a.CreatedAt.Before(b.CreatedAt)
	}
}

func (s *MemoryStore) Transition(_ context.Context, id string, expectedFrom, to domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != expectedFrom {
		return ErrCASMismatch
	}
	j.Status = to
	now := time.Now()
	switch to {
	case domain.StatusRunning:
		j.StartedAt = &now
	case domain.StatusCancelled:
		j.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) AttachResult(_ context.Context, id string, result *domain.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != domain.StatusRunning {
		return ErrCASMismatch
	}
	now := time.Now()
	j.Status = domain.StatusCompleted
	j.Progress = 100
	j.CompletedAt = &now
	result.CreatedAt = now
	j.Result = result
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != domain.StatusRunning {
		return ErrCASMismatch
	}
	now := time.Now()
	j.Status = domain.StatusFailed
	j.ErrorMessage = errMsg
	j.CompletedAt = &now
	return nil
}

func (s *MemoryStore) SetProgress(_ context.Context, id string, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != domain.StatusRunning {
		return ErrCASMismatch
	}
	j.Progress = progress
	j.ProgressMsg = message
	return nil
}

func (s *MemoryStore) IncrementRetry(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	j.RetryCount++
	j.Status = domain.StatusQueued
	j.StartedAt = nil
	return cloneJob(j), nil
}

func (s *MemoryStore) MarkCancelRequested(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.IsTerminal() {
		return ErrCASMismatch
	}
	j.CancelRequested = true
	return nil
}

func (s *MemoryStore) RequeueOrphans(_ context.Context, olderThan time.Duration) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var recovered []*domain.Job
	for _, j := range s.jobs {
		if j.Status == domain.StatusRunning && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			j.Status = domain.StatusQueued
			j.StartedAt = nil
			j.RetryCount++
			recovered = append(recovered, cloneJob(j))
		}
	}
	return recovered, nil
}

func (s *MemoryStore) BulkAggregate(_ context.Context, bulkID string) (*domain.BulkStatusResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := &domain.BulkStatusResult{
		BulkID:         bulkID,
		CountsByStatus: make(map[domain.Status]int),
	}
	for _, j := range s.jobs {
		if j.BulkID != bulkID {
			continue
		}
		result.CountsByStatus[j.Status]++
		result.Total++
	}
	return result, nil
}
