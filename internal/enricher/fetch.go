package enricher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
)

// Fetcher retrieves the raw HTML document behind a link.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Browser user agents rotated across fetches. Feeds that block default Go
// clients usually let these through.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/125.0",
}

// CollyFetcher fetches pages through a colly collector. Each fetch clones the
// base collector so per-request state never leaks between fetches.
type CollyFetcher struct {
	base    *colly.Collector
	timeout time.Duration
	agents  []string
	next    atomic.Uint64
}

// FetcherOption adjusts a CollyFetcher.
type FetcherOption func(*CollyFetcher)

// WithUserAgents replaces the built-in user agent pool.
func WithUserAgents(agents []string) FetcherOption {
	return func(f *CollyFetcher) {
		if len(agents) > 0 {
			f.agents = agents
		}
	}
}

// NewCollyFetcher builds a fetcher with the given per-attempt timeout.
func NewCollyFetcher(timeout time.Duration, opts ...FetcherOption) *CollyFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	})
	f := &CollyFetcher{base: c, timeout: timeout, agents: userAgents}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch executes one HTTP GET and returns the response body.
func (f *CollyFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	collector := f.base.Clone()
	collector.UserAgent = f.userAgent()
	collector.SetRequestTimeout(f.timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 400 {
			fetchErr = fmt.Errorf("http status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		return body, nil
	}
}

func (f *CollyFetcher) userAgent() string {
	n := f.next.Add(1)
	return f.agents[int(n)%len(f.agents)]
}
