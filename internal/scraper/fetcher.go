// Package scraper dispatches a job to the Fetcher variant its
// ScraperVariant selects: LIGHT_HTTP (colly) or HEADLESS_BROWSER
// (chromedp), and performs the shared post-fetch extraction both variants
// rely on.
package scraper

import (
	"context"
	"fmt"

	"github.com/jonesrussell/scrapecore/internal/domain"
)

// Fetcher is the polymorphic capability {fetch(request, config) -> JobResult
// | FetchError} every scraper variant implements.
type Fetcher interface {
	Fetch(ctx context.Context, job *domain.Job) (*domain.JobResult, error)
}

// Dispatcher selects a Fetcher by ScraperVariant and delegates to it. It is
// itself a Fetcher, so the worker executor can depend on one interface
// regardless of how many variants are registered.
type Dispatcher struct {
	fetchers map[domain.ScraperVariant]Fetcher
}

// NewDispatcher wires the LIGHT_HTTP and HEADLESS_BROWSER fetchers into a
// single dispatch point.
func NewDispatcher(light, headless Fetcher) *Dispatcher {
	return &Dispatcher{
		fetchers: map[domain.ScraperVariant]Fetcher{
			domain.VariantLightHTTP:       light,
			domain.VariantHeadlessBrowser: headless,
		},
	}
}

// Fetch dispatches job to the Fetcher registered for its ScraperVariant.
func (d *Dispatcher) Fetch(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	fetcher, ok := d.fetchers[job.ScraperVariant]
	if !ok {
		return nil, domain.NewFetchError(domain.FetchErrorUnsupported, false,
			fmt.Errorf("no fetcher registered for variant %q", job.ScraperVariant))
	}
	return fetcher.Fetch(ctx, job)
}
