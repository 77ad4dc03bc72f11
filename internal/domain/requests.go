package domain

import (
	"strconv"
	"time"
)

// ScrapeRequest is the typed input the composition root (standing in for the
// API layer) hands to the core to submit one job.
type ScrapeRequest struct {
	URL            string
	Method         Method
	Headers        map[string]string
	Params         map[string]string
	Body           []byte
	ScraperVariant ScraperVariant
	Config         Config
	Tags           []string
	Priority       int
	CallbackURL    string
}

// Validate checks the structural constraints on a ScrapeRequest, clamping
// defaults the same way Config.Validate does.
func (r *ScrapeRequest) Validate() error {
	if r.URL == "" {
		return errRequired("url")
	}
	if r.Method == "" {
		r.Method = MethodGet
	}
	if r.ScraperVariant == "" {
		r.ScraperVariant = VariantLightHTTP
	}
	if len(r.Tags) > MaxTags {
		return errTooMany("tags", MaxTags)
	}
	if r.Priority < -10 || r.Priority > 10 {
		return errRange("priority", -10, 10)
	}
	return r.Config.Validate()
}

// BulkScrapeRequest decomposes into N individual jobs sharing one bulk_id.
type BulkScrapeRequest struct {
	Jobs          []ScrapeRequest
	ParallelLimit int
	StopOnError   bool
}

// Validate checks the bulk-level constraints (§6).
func (r *BulkScrapeRequest) Validate() error {
	if len(r.Jobs) < 1 || len(r.Jobs) > 100 {
		return errRange("jobs", 1, 100)
	}
	if r.ParallelLimit == 0 {
		r.ParallelLimit = 1
	}
	if r.ParallelLimit < 1 || r.ParallelLimit > 20 {
		return errRange("parallel_limit", 1, 20)
	}
	for i := range r.Jobs {
		if err := r.Jobs[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SortField is a column JobSearchRequest may sort by.
type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortUpdatedAt SortField = "updated_at"
	SortPriority  SortField = "priority"
	SortStatus    SortField = "status"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// JobSearchRequest is the typed input for list/search queries (§6).
type JobSearchRequest struct {
	Query          string
	Statuses       []Status
	ScraperVariants []ScraperVariant
	Tags           []string
	DateFrom       *time.Time
	DateTo         *time.Time
	Page           int
	PageSize       int
	SortBy         SortField
	SortOrder      SortOrder
}

// Validate clamps paging defaults and checks sort field/order.
func (r *JobSearchRequest) Validate() error {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize == 0 {
		r.PageSize = 20
	}
	if r.PageSize < 1 || r.PageSize > 100 {
		return errRange("page_size", 1, 100)
	}
	if r.SortBy == "" {
		r.SortBy = SortCreatedAt
	}
	if r.SortOrder == "" {
		r.SortOrder = SortDesc
	}
	switch r.SortBy {
	case SortCreatedAt, SortUpdatedAt, SortPriority, SortStatus:
	default:
		return &validationError{msg: "sort_by must be one of created_at, updated_at, priority, status"}
	}
	if r.SortOrder != SortAsc && r.SortOrder != SortDesc {
		return &validationError{msg: "sort_order must be asc or desc"}
	}
	return nil
}

// PageResult is the common pagination envelope for list/search results.
type PageResult struct {
	Jobs       []*Job
	Total      int
	Page       int
	PageSize   int
	TotalPages int
	HasNext    bool
	HasPrev    bool
}

// BulkSubmitResult is returned when a bulk request is accepted.
type BulkSubmitResult struct {
	BulkID        string
	JobIDs        []string
	AcceptedCount int
}

// BulkStatusResult reports the status rollup for one bulk_id.
type BulkStatusResult struct {
	BulkID       string
	CountsByStatus map[Status]int
	Total        int
}

func errRequired(field string) error {
	return &validationError{msg: field + " is required"}
}

func errTooMany(field string, max int) error {
	return &validationError{msg: field + " exceeds maximum of " + strconv.Itoa(max)}
}

func errRange(field string, lo, hi int) error {
	return &validationError{msg: field + " must be between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi)}
}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
