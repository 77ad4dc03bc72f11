// Package domain defines the Job/JobResult entities and the status
// transition table that every mutation in the core must respect.
package domain

import (
	"fmt"
	"time"
)

// Method is an HTTP method a scrape request may use.
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodPatch   Method = "PATCH"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
)

// ScraperVariant selects which Fetcher implementation executes a job.
type ScraperVariant string

const (
	VariantLightHTTP      ScraperVariant = "LIGHT_HTTP"
	VariantHeadlessBrowser ScraperVariant = "HEADLESS_BROWSER"
)

// Status is one of the five states a Job may occupy. Transitions are
// validated by ValidTransition, never bypassed.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether status is a sticky end state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitions enumerates every status this state machine permits moving to
// from a given status. Anything not listed here is an INVALID_TRANSITION.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// ValidTransition reports whether moving from -> to is permitted.
func ValidTransition(from, to Status) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// MaxTags is the maximum number of tags a job may carry.
const MaxTags = 10

// Config holds the per-job scrape configuration (§6 config options).
type Config struct {
	Timeout             time.Duration
	MaxRetries          int
	DelayBetweenRetries time.Duration
	Headless            bool
	UserAgent           string
	WindowSize          string
	Proxy               string
	BypassCloudflare    bool
	ExtractText         bool
	ExtractLinks        bool
	ExtractImages       bool
	WaitForSelector     string
	ExecuteScript       string
	CaptureScreenshot   bool
}

// Default config bounds and values, per SPEC_FULL.md §6.
const (
	DefaultTimeout             = 30 * time.Second
	MinTimeout                 = 1 * time.Second
	MaxTimeout                 = 300 * time.Second
	DefaultMaxRetries          = 3
	MaxMaxRetries              = 10
	DefaultDelayBetweenRetries = 1 * time.Second
	MaxDelayBetweenRetries     = 60 * time.Second
	DefaultWindowSize          = "1920,1080"
)

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		MaxRetries:          DefaultMaxRetries,
		DelayBetweenRetries: DefaultDelayBetweenRetries,
		Headless:            true,
		WindowSize:          DefaultWindowSize,
		BypassCloudflare:    true,
	}
}

// Validate clamps and checks config fields against their documented ranges.
func (c *Config) Validate() error {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Timeout < MinTimeout || c.Timeout > MaxTimeout {
		return fmt.Errorf("timeout must be between %s and %s", MinTimeout, MaxTimeout)
	}
	if c.MaxRetries < 0 || c.MaxRetries > MaxMaxRetries {
		return fmt.Errorf("max_retries must be between 0 and %d", MaxMaxRetries)
	}
	if c.DelayBetweenRetries < 0 || c.DelayBetweenRetries > MaxDelayBetweenRetries {
		return fmt.Errorf("delay_between_retries must be between 0 and %s", MaxDelayBetweenRetries)
	}
	if c.WindowSize == "" {
		c.WindowSize = DefaultWindowSize
	}
	return nil
}

// Job is the central entity of the core.
type Job struct {
	ID             string            `db:"id"              json:"id"`
	URL            string            `db:"url"              json:"url"`
	Method         Method            `db:"method"           json:"method"`
	Headers        map[string]string `db:"-"                json:"headers,omitempty"`
	Params         map[string]string `db:"-"                json:"params,omitempty"`
	Body           []byte            `db:"body"             json:"body,omitempty"`
	ScraperVariant ScraperVariant    `db:"scraper_variant"  json:"scraper_variant"`
	Config         Config            `db:"-"                json:"config"`
	Tags           []string          `db:"-"                json:"tags,omitempty"`
	Priority       int               `db:"priority"         json:"priority"`
	Status         Status            `db:"status"           json:"status"`
	Progress       int               `db:"progress"         json:"progress"`
	ProgressMsg    string            `db:"progress_message" json:"progress_message,omitempty"`
	RetryCount     int               `db:"retry_count"      json:"retry_count"`
	MaxRetries     int               `db:"max_retries"      json:"max_retries"`
	CreatedAt      time.Time         `db:"created_at"       json:"created_at"`
	StartedAt      *time.Time        `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt    *time.Time        `db:"completed_at"     json:"completed_at,omitempty"`
	ErrorMessage   string            `db:"error_message"    json:"error_message,omitempty"`
	CallbackURL    string            `db:"callback_url"     json:"callback_url,omitempty"`
	CancelRequested bool             `db:"cancel_requested" json:"-"`
	BulkID         string            `db:"bulk_id"          json:"bulk_id,omitempty"`
	Result         *JobResult        `db:"-"                json:"result,omitempty"`
}

// HasTag reports whether the job carries the given tag.
func (j *Job) HasTag(tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// JobResult is the normalized outcome of one successful fetch.
type JobResult struct {
	JobID          string            `db:"job_id"           json:"job_id"`
	StatusCode     int               `db:"status_code"      json:"status_code"`
	ResponseTimeMs int64             `db:"response_time_ms" json:"response_time_ms"`
	ContentLength  int64             `db:"content_length"   json:"content_length"`
	ContentType    string            `db:"content_type"     json:"content_type"`
	Headers        map[string]string `db:"-"                json:"headers,omitempty"`
	Content        []byte            `db:"content"          json:"content,omitempty"`
	Text           string            `db:"extracted_text"   json:"text,omitempty"`
	Links          []string          `db:"-"                json:"links,omitempty"`
	Images         []string          `db:"-"                json:"images,omitempty"`
	FinalURL       string            `db:"final_url"        json:"final_url,omitempty"`
	ScreenshotPNG  []byte            `db:"-"                json:"screenshot,omitempty"`
	CreatedAt      time.Time         `db:"created_at"       json:"created_at"`
}
