package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/scrapecore/internal/cache"
	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/logging"
)

type countingFetcher struct {
	calls  int
	result *domain.JobResult
	err    error
}

func (f *countingFetcher) Fetch(_ context.Context, _ *domain.Job) (*domain.JobResult, error) {
	f.calls++
	return f.result, f.err
}

func newCacheTestJob(url string) *domain.Job {
	return &domain.Job{
		ID:             "job-1",
		URL:            url,
		Method:         domain.MethodGet,
		ScraperVariant: domain.VariantLightHTTP,
		Config:         domain.Config{Timeout: time.Second},
	}
}

func TestCachingFetcherServesSecondCallFromCache(t *testing.T) {
	mgr := cache.NewManager(cache.DefaultManagerConfig(), nil, logging.NewNop(), nil)
	inner := &countingFetcher{result: &domain.JobResult{JobID: "job-1", StatusCode: 200, Text: "hi"}}
	f := NewCachingFetcher(inner, mgr, time.Minute, logging.NewNop())

	job := newCacheTestJob("https://example.com/a")
	ctx := context.Background()

	first, err := f.Fetch(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 200, first.StatusCode)
	assert.Equal(t, 1, inner.calls)

	second, err := f.Fetch(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "hi", second.Text)
	assert.Equal(t, 1, inner.calls, "second fetch for the same URL+config must be served from cache")
}

func TestCachingFetcherBypassesCacheForPost(t *testing.T) {
	mgr := cache.NewManager(cache.DefaultManagerConfig(), nil, logging.NewNop(), nil)
	inner := &countingFetcher{result: &domain.JobResult{JobID: "job-1", StatusCode: 200}}
	f := NewCachingFetcher(inner, mgr, time.Minute, logging.NewNop())

	job := newCacheTestJob("https://example.com/a")
	job.Method = domain.MethodPost
	ctx := context.Background()

	_, err := f.Fetch(ctx, job)
	require.NoError(t, err)
	_, err = f.Fetch(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls, "POST requests must never be memoized")
}

func TestCachingFetcherDoesNotCacheFetchErrors(t *testing.T) {
	mgr := cache.NewManager(cache.DefaultManagerConfig(), nil, logging.NewNop(), nil)
	inner := &countingFetcher{err: domain.NewFetchError(domain.FetchErrorNetwork, true, assertErr("boom"))}
	f := NewCachingFetcher(inner, mgr, time.Minute, logging.NewNop())

	job := newCacheTestJob("https://example.com/a")
	ctx := context.Background()

	_, err := f.Fetch(ctx, job)
	require.Error(t, err)
	_, err = f.Fetch(ctx, job)
	require.Error(t, err)

	assert.Equal(t, 2, inner.calls, "a failed fetch must not be memoized")
}

func TestCachingFetcherDistinguishesExtractionConfig(t *testing.T) {
	mgr := cache.NewManager(cache.DefaultManagerConfig(), nil, logging.NewNop(), nil)
	inner := &countingFetcher{result: &domain.JobResult{JobID: "job-1", StatusCode: 200}}
	f := NewCachingFetcher(inner, mgr, time.Minute, logging.NewNop())

	ctx := context.Background()
	plain := newCacheTestJob("https://example.com/a")
	_, err := f.Fetch(ctx, plain)
	require.NoError(t, err)

	withExtraction := newCacheTestJob("https://example.com/a")
	withExtraction.Config.ExtractText = true
	_, err = f.Fetch(ctx, withExtraction)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls, "different extraction config must not share a cache key")
}

func TestCachingFetcherNilManagerAlwaysDelegates(t *testing.T) {
	inner := &countingFetcher{result: &domain.JobResult{JobID: "job-1", StatusCode: 200}}
	f := NewCachingFetcher(inner, nil, time.Minute, logging.NewNop())

	ctx := context.Background()
	job := newCacheTestJob("https://example.com/a")
	_, err := f.Fetch(ctx, job)
	require.NoError(t, err)
	_, err = f.Fetch(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
