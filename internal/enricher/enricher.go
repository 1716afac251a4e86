// Package enricher fetches full article content for published envelopes and
// classifies every outcome. It never surfaces errors to callers: a fetch
// that cannot succeed becomes a classified status, and the worker decides
// between summary fallback and permanent failure.
package enricher

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/pipeline"
	"github.com/amasri/newspipe/internal/retry"
)

// Config controls fetch retry behavior and classification thresholds.
type Config struct {
	Retry retry.Policy
	// AttemptTimeout bounds each fetch attempt.
	AttemptTimeout time.Duration
	// MinBodyBytes is the extracted-text length below which a page is
	// classified as paywalled or blocked rather than successfully fetched.
	MinBodyBytes int
}

// DefaultConfig returns the enricher defaults.
func DefaultConfig() Config {
	return Config{
		Retry:          retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
		AttemptTimeout: 10 * time.Second,
		MinBodyBytes:   800,
	}
}

var errAttemptTimeout = errors.New("attempt timed out")

// Enricher implements pipeline.Enricher over a Fetcher.
type Enricher struct {
	fetcher Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New constructs an Enricher.
func New(fetcher Fetcher, cfg Config, logger *zap.Logger) *Enricher {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.MinBodyBytes <= 0 {
		cfg.MinBodyBytes = 800
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	return &Enricher{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Enrich fetches the envelope's link with bounded retries and classifies the
// outcome. The returned body is meaningful only for success.
func (e *Enricher) Enrich(ctx context.Context, env pipeline.Envelope) (string, pipeline.ContentStatus) {
	page, err := e.fetchWithRetry(ctx, env.Link)
	if err != nil {
		status := classifyFetchError(err)
		e.logger.Info("enrichment fetch failed",
			zap.String("envelope_id", env.ID),
			zap.String("link", env.Link),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return "", status
	}

	text := extractMainContent(page)
	if text == "" {
		e.logger.Info("no extractable content",
			zap.String("envelope_id", env.ID),
			zap.String("link", env.Link),
		)
		return "", pipeline.ContentStatusParseError
	}
	if len(text) < e.cfg.MinBodyBytes {
		e.logger.Info("content below body threshold",
			zap.String("envelope_id", env.ID),
			zap.String("link", env.Link),
			zap.Int("bytes", len(text)),
		)
		return "", pipeline.ContentStatusPaywall
	}
	return text, pipeline.ContentStatusSuccess
}

func (e *Enricher) fetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	state := e.cfg.Retry.Start()
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		page, err := e.fetcher.Fetch(attemptCtx, url)
		cancel()
		// An expired attempt deadline is retryable as long as the outer
		// context is still live.
		attemptErr := err
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			attemptErr = errAttemptTimeout
		}
		delay, again := state.Next(attemptErr)
		if err == nil {
			return page, nil
		}
		if !again {
			return nil, err
		}
		e.logger.Debug("fetch attempt failed; backing off",
			zap.String("url", url),
			zap.Int("attempt", state.Attempt()),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if serr := retry.Sleep(ctx, delay); serr != nil {
			return nil, err
		}
	}
}

// classifyFetchError maps a terminal fetch error onto a content status.
// Deadline and network timeouts are timeout; everything else is treated as a
// parse failure of the target.
func classifyFetchError(err error) pipeline.ContentStatus {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pipeline.ContentStatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return pipeline.ContentStatusTimeout
	}
	if strings.Contains(err.Error(), "Client.Timeout") {
		return pipeline.ContentStatusTimeout
	}
	return pipeline.ContentStatusParseError
}
