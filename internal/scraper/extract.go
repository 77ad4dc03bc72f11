package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractText returns the trimmed text of the first element matched by any
// of selector's comma-separated candidates, trying each in turn until one
// matches. Mirrors the fallback-chain behavior extractors in this codebase
// already rely on for brittle, inconsistently-marked-up pages.
func extractText(doc *goquery.Document, selector string) string {
	for _, sel := range splitSelectors(selector) {
		sel := doc.Find(sel).First()
		if sel.Length() == 0 {
			continue
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			return text
		}
	}
	return ""
}

// extractLinks collects every non-empty href on the page exactly as written:
// relative paths are returned unresolved (resolution against the page's
// base URL is the caller's job, since only it knows the final URL).
func extractLinks(doc *goquery.Document) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			links = append(links, href)
		}
	})
	return links
}

// extractImages collects every img src on the page.
func extractImages(doc *goquery.Document) []string {
	var images []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			images = append(images, src)
		}
	})
	return images
}

func splitSelectors(selector string) []string {
	if selector == "" {
		return nil
	}
	parts := strings.Split(selector, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
