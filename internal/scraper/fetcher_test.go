package scraper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/scrapecore/internal/domain"
)

type stubFetcher struct {
	result *domain.JobResult
	err    error
}

func (f *stubFetcher) Fetch(_ context.Context, _ *domain.Job) (*domain.JobResult, error) {
	return f.result, f.err
}

func TestDispatcherRoutesToRegisteredVariant(t *testing.T) {
	light := &stubFetcher{result: &domain.JobResult{StatusCode: 200}}
	headless := &stubFetcher{result: &domain.JobResult{StatusCode: 201}}
	d := NewDispatcher(light, headless)

	job := &domain.Job{URL: "https://example.com", ScraperVariant: domain.VariantHeadlessBrowser}
	result, err := d.Fetch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 201, result.StatusCode)

	job.ScraperVariant = domain.VariantLightHTTP
	result, err = d.Fetch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 200, result.StatusCode)
}

func TestDispatcherRejectsUnregisteredVariant(t *testing.T) {
	d := NewDispatcher(&stubFetcher{}, &stubFetcher{})
	job := &domain.Job{URL: "https://example.com", ScraperVariant: domain.ScraperVariant("SOMETHING_ELSE")}

	_, err := d.Fetch(context.Background(), job)
	require.Error(t, err)

	var fetchErr *domain.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, domain.FetchErrorUnsupported, fetchErr.Kind)
	assert.False(t, fetchErr.Retryable)
}
