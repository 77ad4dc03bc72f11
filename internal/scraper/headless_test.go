package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/scrapecore/internal/domain"
)

func TestParseWindowSizeValidSpec(t *testing.T) {
	w, h := parseWindowSize("1280,720")
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
}

func TestParseWindowSizeDefaultsOnEmpty(t *testing.T) {
	w, h := parseWindowSize("")
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}

func TestParseWindowSizeDefaultsOnMalformed(t *testing.T) {
	w, h := parseWindowSize("not-a-size")
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	w, h = parseWindowSize("0,500")
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	w, h = parseWindowSize("640")
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}

func TestNeedsDedicatedBrowserOnPoolDefaults(t *testing.T) {
	assert.False(t, needsDedicatedBrowser(domain.Config{Headless: true}))
}

func TestNeedsDedicatedBrowserOnNonHeadlessJob(t *testing.T) {
	assert.True(t, needsDedicatedBrowser(domain.Config{Headless: false}))
}

func TestNeedsDedicatedBrowserOnProxyJob(t *testing.T) {
	assert.True(t, needsDedicatedBrowser(domain.Config{Headless: true, Proxy: "http://proxy.internal:8080"}))
}
