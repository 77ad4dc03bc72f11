package scraper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/jonesrussell/scrapecore/internal/cache"
	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/logging"
)

// fetchCachePrefix namespaces memoized fetch results within the shared
// Manager, away from any other consumer of the same cache tiers.
const fetchCachePrefix = "fetch"

// CachingFetcher memoizes a wrapped Fetcher's JobResult in a *cache.Manager,
// keyed on the URL and every Config field that changes the response shape.
// It implements Fetcher itself, so it drops in wherever a Dispatcher does.
type CachingFetcher struct {
	next  Fetcher
	cache *cache.Manager
	ttl   time.Duration
	log   logging.Logger
}

// NewCachingFetcher wraps next with read-through/write-through memoization.
// mgr may be nil, in which case Fetch always delegates straight to next.
func NewCachingFetcher(next Fetcher, mgr *cache.Manager, ttl time.Duration, log logging.Logger) *CachingFetcher {
	if log == nil {
		log = logging.NewNop()
	}
	return &CachingFetcher{next: next, cache: mgr, ttl: ttl, log: log}
}

// Fetch serves a cache hit when available, otherwise delegates to next and
// memoizes a successful result. Fetch errors are never cached: a transient
// failure must not poison subsequent attempts at the same URL.
func (f *CachingFetcher) Fetch(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	if f.cache == nil || !cacheableFetch(job) {
		return f.next.Fetch(ctx, job)
	}

	key := fetchCacheKey(job)

	var cached domain.JobResult
	if hit, err := f.cache.Get(ctx, fetchCachePrefix, key, &cached); err != nil {
		f.log.Warn("fetch cache lookup failed, falling through to fetcher",
			logging.String("job_id", job.ID), logging.Error(err))
	} else if hit {
		f.log.Debug("fetch cache hit", logging.String("job_id", job.ID), logging.String("url", job.URL))
		result := cached
		return &result, nil
	}

	result, err := f.next.Fetch(ctx, job)
	if err != nil {
		return nil, err
	}

	if err := f.cache.Set(ctx, fetchCachePrefix, key, result, f.ttl); err != nil {
		f.log.Warn("failed to cache fetch result",
			logging.String("job_id", job.ID), logging.Error(err))
	}
	return result, nil
}

// cacheableFetch excludes requests whose outcome depends on more than the
// URL and Config: a POST/PUT/PATCH body, or a job-specific screenshot
// capture (ScreenshotPNG is job-shaped evidence, not an idempotent read).
func cacheableFetch(job *domain.Job) bool {
	return job.Method == domain.MethodGet && !job.Config.CaptureScreenshot
}

// fetchCacheKeyFields is the subset of a job that determines its JobResult
// shape; two jobs with the same fields here are fungible for caching
// purposes even if their IDs differ.
type fetchCacheKeyFields struct {
	URL             string                `json:"url"`
	Method          domain.Method         `json:"method"`
	Variant         domain.ScraperVariant `json:"variant"`
	ExtractText     bool                  `json:"extract_text"`
	ExtractLinks    bool                  `json:"extract_links"`
	ExtractImages   bool                  `json:"extract_images"`
	WaitForSelector string                `json:"wait_for_selector"`
	ExecuteScript   string                `json:"execute_script"`
}

func fetchCacheKey(job *domain.Job) string {
	fields := fetchCacheKeyFields{
		URL:             job.URL,
		Method:          job.Method,
		Variant:         job.ScraperVariant,
		ExtractText:     job.Config.ExtractText,
		ExtractLinks:    job.Config.ExtractLinks,
		ExtractImages:   job.Config.ExtractImages,
		WaitForSelector: job.Config.WaitForSelector,
		ExecuteScript:   job.Config.ExecuteScript,
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return job.URL
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
