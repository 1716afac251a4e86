// Package poller fetches raw items from feed sources with per-source fault
// isolation: one bad source never aborts polling of the others.
package poller

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/htmltext"
	"github.com/amasri/newspipe/internal/pipeline"
	"github.com/amasri/newspipe/internal/sources"
)

// Config controls poller behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// PollResult carries one source's items or its error, never both.
type PollResult struct {
	Source sources.Source
	Items  []pipeline.Item
	Err    error
}

// FeedParser parses one feed URL. Satisfied by gofeed and by test fakes.
type FeedParser interface {
	ParseURLWithContext(url string, ctx context.Context) (*gofeed.Feed, error)
}

// Poller reads feeds and emits raw items.
type Poller struct {
	parser FeedParser
	clock  pipeline.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Poller backed by gofeed.
func New(cfg Config, clock pipeline.Clock, logger *zap.Logger) *Poller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	fp := gofeed.NewParser()
	fp.Client = &http.Client{Timeout: cfg.Timeout}
	if cfg.UserAgent != "" {
		fp.UserAgent = cfg.UserAgent
	}
	return &Poller{parser: fp, clock: clock, cfg: cfg, logger: logger}
}

// NewWithParser constructs a Poller with an injected parser (tests).
func NewWithParser(parser FeedParser, cfg Config, clock pipeline.Clock, logger *zap.Logger) *Poller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Poller{parser: parser, clock: clock, cfg: cfg, logger: logger}
}

// Poll fetches every source independently and returns one result per source.
// Failure policy: log and record the error; retries belong to the scheduler
// that invokes Poll periodically.
func (p *Poller) Poll(ctx context.Context, srcs []sources.Source) []PollResult {
	results := make([]PollResult, 0, len(srcs))
	for _, src := range srcs {
		items, err := p.pollOne(ctx, src)
		if err != nil {
			p.logger.Warn("source poll failed",
				zap.String("source_id", src.ID),
				zap.String("url", src.URL),
				zap.Error(err),
			)
			results = append(results, PollResult{Source: src, Err: err})
			continue
		}
		p.logger.Debug("source polled",
			zap.String("source_id", src.ID),
			zap.Int("items", len(items)),
		)
		results = append(results, PollResult{Source: src, Items: items})
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

func (p *Poller) pollOne(ctx context.Context, src sources.Source) ([]pipeline.Item, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	feed, err := p.parser.ParseURLWithContext(src.URL, fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.URL, err)
	}

	sourceName := strings.TrimSpace(feed.Title)
	if sourceName == "" {
		sourceName = "Unknown Source"
	}
	now := p.clock.Now()

	items := make([]pipeline.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		title := strings.TrimSpace(entry.Title)
		link := strings.TrimSpace(entry.Link)
		if title == "" || link == "" {
			p.logger.Warn("skipping entry with missing title or link",
				zap.String("source_id", src.ID))
			continue
		}
		items = append(items, pipeline.Item{
			SourceID:    src.ID,
			Source:      sourceName,
			Category:    src.Category,
			Title:       title,
			Link:        link,
			PublishDate: strings.TrimSpace(entry.Published),
			Summary:     htmltext.Clean(entrySummary(entry)),
			FetchedAt:   now,
		})
	}
	return items, nil
}

// entrySummary prefers the summary field and falls back to the full content
// block some feeds put everything in.
func entrySummary(entry *gofeed.Item) string {
	if strings.TrimSpace(entry.Description) != "" {
		return entry.Description
	}
	return entry.Content
}
