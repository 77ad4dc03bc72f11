package scraper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/logging"
)

// HeadlessPool manages a fixed set of chromedp browser contexts, allocated
// round-robin, so concurrent HEADLESS_BROWSER jobs don't each pay the cost
// of launching a fresh browser process.
type HeadlessPool struct {
	mu           sync.Mutex
	contexts     []context.Context
	cancels      []context.CancelFunc
	currentIndex int
}

// NewHeadlessPool launches size independent browser instances.
func NewHeadlessPool(size int, log logging.Logger) (*HeadlessPool, error) {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logging.NewNop()
	}

	pool := &HeadlessPool{
		contexts: make([]context.Context, 0, size),
		cancels:  make([]context.CancelFunc, 0, size),
	}

	for i := 0; i < size; i++ {
		allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		testCtx, testCancel := context.WithTimeout(browserCtx, 10*time.Second)
		err := chromedp.Run(testCtx, chromedp.Navigate("about:blank"))
		testCancel()
		if err != nil {
			browserCancel()
			allocCancel()
			log.Warn("failed to start headless browser instance", logging.Int("index", i), logging.Error(err))
			continue
		}

		pool.contexts = append(pool.contexts, browserCtx)
		pool.cancels = append(pool.cancels, func() { browserCancel(); allocCancel() })
	}

	if len(pool.contexts) == 0 {
		return nil, fmt.Errorf("failed to start any headless browser instance")
	}
	return pool, nil
}

// acquire returns the next pool context round-robin.
func (p *HeadlessPool) acquire() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx := p.contexts[p.currentIndex]
	p.currentIndex = (p.currentIndex + 1) % len(p.contexts)
	return ctx
}

// Close tears down every browser instance in the pool.
func (p *HeadlessPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.cancels {
		cancel()
	}
}

// HeadlessFetcher is the HEADLESS_BROWSER Fetcher: navigates with a real
// Chrome instance, optionally waits for a CSS selector, runs custom JS, and
// captures a screenshot, before handing the rendered HTML to the shared
// extraction helpers.
type HeadlessFetcher struct {
	pool *HeadlessPool
	log  logging.Logger
}

// NewHeadlessFetcher wraps an already-initialized HeadlessPool.
func NewHeadlessFetcher(pool *HeadlessPool, log logging.Logger) *HeadlessFetcher {
	if log == nil {
		log = logging.NewNop()
	}
	return &HeadlessFetcher{pool: pool, log: log}
}

// needsDedicatedBrowser reports whether job's config can't be satisfied by
// the shared pool. Headless mode and the proxy server are Chrome launch
// flags, set once when the process starts and not changeable per tab, so a
// job requesting a non-default value for either needs its own browser
// instance rather than one borrowed from the pool.
func needsDedicatedBrowser(cfg domain.Config) bool {
	return !cfg.Headless || cfg.Proxy != ""
}

// launchDedicatedBrowser starts a single throwaway browser instance honoring
// job-specific launch flags the pool can't express, mirroring
// NewHeadlessPool's allocator setup.
func launchDedicatedBrowser(cfg domain.Config) (context.Context, context.CancelFunc, error) {
	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.Proxy != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ProxyServer(cfg.Proxy))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	cancel := func() { browserCancel(); allocCancel() }

	testCtx, testCancel := context.WithTimeout(browserCtx, 10*time.Second)
	err := chromedp.Run(testCtx, chromedp.Navigate("about:blank"))
	testCancel()
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("launch dedicated browser: %w", err)
	}
	return browserCtx, cancel, nil
}

func (f *HeadlessFetcher) Fetch(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	var browserCtx context.Context
	releaseBrowser := func() {}

	if needsDedicatedBrowser(job.Config) {
		dedicated, cancel, err := launchDedicatedBrowser(job.Config)
		if err != nil {
			return nil, domain.NewFetchError(domain.FetchErrorUnsupported, false, err)
		}
		browserCtx = dedicated
		releaseBrowser = cancel
	} else {
		browserCtx = f.pool.acquire()
	}
	defer releaseBrowser()

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()

	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, job.Config.Timeout)
	defer timeoutCancel()

	width, height := parseWindowSize(job.Config.WindowSize)

	var html string
	var screenshot []byte
	var jsResult string

	actions := []chromedp.Action{
		chromedp.UserAgent(userAgentOrDefault(job.Config.UserAgent)),
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(job.URL),
	}

	if job.Config.WaitForSelector != "" {
		actions = append(actions, chromedp.WaitVisible(job.Config.WaitForSelector, chromedp.ByQuery))
	}
	if job.Config.ExecuteScript != "" {
		actions = append(actions, chromedp.Evaluate(job.Config.ExecuteScript, &jsResult))
	}
	actions = append(actions, chromedp.OuterHTML("html", &html))
	if job.Config.CaptureScreenshot {
		actions = append(actions, chromedp.FullScreenshot(&screenshot, 90))
	}

	startTime := time.Now()
	err := chromedp.Run(tabCtx, actions...)
	if err != nil {
		if ctx.Err() != nil || tabCtx.Err() != nil {
			return nil, domain.NewFetchError(domain.FetchErrorTimeout, true, err)
		}
		return nil, domain.NewFetchError(domain.FetchErrorNetwork, true, fmt.Errorf("headless browser run: %w", err))
	}

	result := &domain.JobResult{
		StatusCode:     200,
		ResponseTimeMs: time.Since(startTime).Milliseconds(),
		ContentLength:  int64(len(html)),
		ContentType:    "text/html",
		Content:        []byte(html),
		FinalURL:       job.URL,
		ScreenshotPNG:  screenshot,
	}

	if job.Config.ExtractText || job.Config.ExtractLinks || job.Config.ExtractImages {
		doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(html))
		if parseErr != nil {
			f.log.Warn("failed to parse rendered HTML for extraction",
				logging.String("url", job.URL), logging.Error(parseErr))
		} else {
			if job.Config.ExtractText {
				selector := job.Config.WaitForSelector
				if selector == "" {
					selector = "body"
				}
				result.Text = extractText(doc, selector)
			}
			if job.Config.ExtractLinks {
				result.Links = extractLinks(doc)
			}
			if job.Config.ExtractImages {
				result.Images = extractImages(doc)
			}
		}
	}

	return result, nil
}

func parseWindowSize(spec string) (int, int) {
	const defaultWidth, defaultHeight = 1920, 1080
	if spec == "" {
		return defaultWidth, defaultHeight
	}
	parts := strings.Split(spec, ",")
	if len(parts) != 2 {
		return defaultWidth, defaultHeight
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return defaultWidth, defaultHeight
	}
	return w, h
}
