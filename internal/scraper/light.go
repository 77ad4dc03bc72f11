package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/jonesrussell/scrapecore/internal/domain"
	"github.com/jonesrussell/scrapecore/internal/logging"
)

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
)

// cloudflareChallengeMarkers are body/header substrings that indicate the
// response is a Cloudflare JS challenge page rather than real content. Light
// HTTP has no JS engine to solve the challenge; it can only detect one and
// let the executor's retry decision escalate (the caller is expected to
// re-submit as HEADLESS_BROWSER, since the core never auto-upgrades a job's
// variant mid-flight).
var cloudflareChallengeMarkers = []string{
	"cf-browser-verification",
	"checking your browser before accessing",
	"cf-chl-bypass",
}

// LightFetcher is the LIGHT_HTTP Fetcher: a plain HTTP request via colly
// with Cloudflare-challenge detection.
type LightFetcher struct {
	log logging.Logger
}

// NewLightFetcher builds a LightFetcher.
func NewLightFetcher(log logging.Logger) *LightFetcher {
	if log == nil {
		log = logging.NewNop()
	}
	return &LightFetcher{log: log}
}

type fetchOutcome struct {
	statusCode int
	headers    http.Header
	body       []byte
	finalURL   string
}

// Fetch performs a single HTTP request per colly.CollectorOption conventions
// used elsewhere in this codebase, detects Cloudflare challenge pages, and
// runs the shared extraction helpers over the response body.
func (f *LightFetcher) Fetch(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	transport := &http.Transport{
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
	}

	c := colly.NewCollector(
		colly.UserAgent(userAgentOrDefault(job.Config.UserAgent)),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
	)
	c.WithTransport(transport)

	if job.Config.Proxy != "" {
		if err := c.SetProxy(job.Config.Proxy); err != nil {
			return nil, domain.NewFetchError(domain.FetchErrorNetwork, false, fmt.Errorf("set proxy: %w", err))
		}
	}

	for k, v := range job.Headers {
		c.OnRequest(func(r *colly.Request) { r.Headers.Set(k, v) })
	}

	var outcome fetchOutcome
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		outcome.statusCode = r.StatusCode
		outcome.headers = *r.Headers
		outcome.body = r.Body
		outcome.finalURL = r.Request.URL.String()
	})
	c.OnError(func(r *colly.Response, err error) {
		outcome.statusCode = r.StatusCode
		fetchErr = err
	})

	startTime := time.Now()
	done := make(chan struct{})
	go func() {
		defer close(done)
		var visitErr error
		switch job.Method {
		case domain.MethodPost, domain.MethodPut, domain.MethodPatch:
			visitErr = c.Request(string(job.Method), job.URL, bytesReader(job.Body), nil, nil)
		default:
			visitErr = c.Visit(job.URL)
		}
		if visitErr != nil && fetchErr == nil {
			fetchErr = visitErr
		}
		c.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, domain.NewFetchError(domain.FetchErrorTimeout, true, ctx.Err())
	}

	if fetchErr != nil {
		return nil, domain.NewFetchError(domain.FetchErrorNetwork, true, fetchErr)
	}

	if job.Config.BypassCloudflare && looksLikeCloudflareChallenge(outcome.statusCode, outcome.body) {
		return nil, domain.NewFetchError(domain.FetchErrorHTTP, false,
			fmt.Errorf("cloudflare challenge detected for %s, requires HEADLESS_BROWSER", job.URL))
	}

	if outcome.statusCode >= 500 {
		return nil, domain.NewFetchError(domain.FetchErrorHTTP, true,
			fmt.Errorf("server error: status %d", outcome.statusCode))
	}
	if outcome.statusCode >= 400 {
		return nil, domain.NewFetchError(domain.FetchErrorHTTP, false,
			fmt.Errorf("client error: status %d", outcome.statusCode))
	}

	result := &domain.JobResult{
		StatusCode:     outcome.statusCode,
		ResponseTimeMs: time.Since(startTime).Milliseconds(),
		ContentLength:  int64(len(outcome.body)),
		ContentType:    outcome.headers.Get("Content-Type"),
		Content:        outcome.body,
		FinalURL:       outcome.finalURL,
	}

	if job.Config.ExtractText || job.Config.ExtractLinks || job.Config.ExtractImages {
		doc, err := goquery.NewDocumentFromReader(bytesReader(outcome.body))
		if err != nil {
			f.log.Warn("failed to parse response for extraction",
				logging.String("url", job.URL), logging.Error(err))
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

func looksLikeCloudflareChallenge(statusCode int, body []byte) bool {
	if statusCode != http.StatusServiceUnavailable && statusCode != http.StatusForbidden {
		return false
	}
	lowered := strings.ToLower(string(body))
	for _, marker := range cloudflareChallengeMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func userAgentOrDefault(ua string) string {
	if ua == "" {
		return "scrapecore/1.0"
	}
	return ua
}
