package enricher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/pipeline"
	"github.com/amasri/newspipe/internal/retry"
)

type fakeFetcher struct {
	pages    map[string][]byte
	errs     map[string]error
	failures int
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient fetch error")
	}
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if page, ok := f.pages[url]; ok {
		return page, nil
	}
	return nil, fmt.Errorf("http status 404: not found")
}

func testConfig() Config {
	return Config{
		Retry:          retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		AttemptTimeout: time.Second,
		MinBodyBytes:   50,
	}
}

func articlePage(body string) []byte {
	return []byte(fmt.Sprintf(`<html><head><script>track()</script></head>
<body><nav>menu</nav><article><p>%s</p></article><footer>legal</footer></body></html>`, body))
}

func env(link string) pipeline.Envelope {
	return pipeline.Envelope{ID: "env-" + link, Link: link, Summary: "short feed summary"}
}

func TestEnrichSuccessExtractsArticle(t *testing.T) {
	long := strings.Repeat("Inflation data surprised markets today. ", 5)
	fetcher := &fakeFetcher{pages: map[string][]byte{
		"https://example.com/a": articlePage(long),
	}}
	e := New(fetcher, testConfig(), zap.NewNop())

	body, status := e.Enrich(context.Background(), env("https://example.com/a"))
	assert.Equal(t, pipeline.ContentStatusSuccess, status)
	assert.Contains(t, body, "Inflation data surprised markets")
	assert.NotContains(t, body, "track()")
	assert.NotContains(t, body, "menu")
	assert.NotContains(t, body, "legal")
}

func TestEnrichRetriesTransientErrors(t *testing.T) {
	long := strings.Repeat("word ", 30)
	fetcher := &fakeFetcher{
		failures: 2,
		pages:    map[string][]byte{"https://example.com/a": articlePage(long)},
	}
	e := New(fetcher, testConfig(), zap.NewNop())

	_, status := e.Enrich(context.Background(), env("https://example.com/a"))
	assert.Equal(t, pipeline.ContentStatusSuccess, status)
	assert.Equal(t, 3, fetcher.calls)
}

func TestEnrichClassifiesTimeout(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{
		"https://example.com/slow": fmt.Errorf("fetch canceled: %w", context.DeadlineExceeded),
	}}
	cfg := testConfig()
	cfg.Retry.MaxAttempts = 1
	e := New(fetcher, cfg, zap.NewNop())

	body, status := e.Enrich(context.Background(), env("https://example.com/slow"))
	assert.Empty(t, body)
	assert.Equal(t, pipeline.ContentStatusTimeout, status)
}

func TestEnrichClassifiesParseErrorOnHTTPFailure(t *testing.T) {
	fetcher := &fakeFetcher{}
	e := New(fetcher, testConfig(), zap.NewNop())

	body, status := e.Enrich(context.Background(), env("https://example.com/missing"))
	assert.Empty(t, body)
	assert.Equal(t, pipeline.ContentStatusParseError, status)
}

func TestEnrichClassifiesShortBodyAsPaywall(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		"https://example.com/teaser": articlePage("Subscribe to read."),
	}}
	e := New(fetcher, testConfig(), zap.NewNop())

	body, status := e.Enrich(context.Background(), env("https://example.com/teaser"))
	assert.Empty(t, body)
	assert.Equal(t, pipeline.ContentStatusPaywall, status)
}

func TestEnrichClassifiesEmptyDocumentAsParseError(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		"https://example.com/blank": []byte("<html><body><script>x</script></body></html>"),
	}}
	e := New(fetcher, testConfig(), zap.NewNop())

	_, status := e.Enrich(context.Background(), env("https://example.com/blank"))
	assert.Equal(t, pipeline.ContentStatusParseError, status)
}

func TestCollyFetcherAgainstServer(t *testing.T) {
	page := string(articlePage(strings.Repeat("content ", 40)))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	fetcher := NewCollyFetcher(5 * time.Second)
	body, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(body), "content")
}

func TestCollyFetcherReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	fetcher := NewCollyFetcher(5 * time.Second)
	_, err := fetcher.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestExtractPrefersContentContainers(t *testing.T) {
	page := []byte(`<html><body>
<div id="content">Body container text here.</div>
<article>Article element wins over div#content.</article>
</body></html>`)
	text := extractMainContent(page)
	assert.Equal(t, "Article element wins over div#content.", text)
}

func TestExtractFallsBackToBody(t *testing.T) {
	page := []byte(`<html><body><p>Plain paragraph with no container.</p></body></html>`)
	text := extractMainContent(page)
	assert.Equal(t, "Plain paragraph with no container.", text)
}
