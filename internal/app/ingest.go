package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/dedup"
	"github.com/amasri/newspipe/internal/metrics"
	"github.com/amasri/newspipe/internal/pipeline"
	"github.com/amasri/newspipe/internal/poller"
)

// Ingest runs the produce half of the pipeline: poll feeds, deduplicate,
// publish accepted items.
type Ingest struct {
	poller    *poller.Poller
	index     *dedup.Index
	publisher pipeline.Publisher
	idGen     pipeline.IDGenerator
	clock     pipeline.Clock
	logger    *zap.Logger
}

// NewIngest assembles the produce half from the container. When dedup
// seeding is enabled, links already present in storage are marked seen so
// restarts do not republish old items.
func (a *App) NewIngest(ctx context.Context) (*Ingest, error) {
	index := dedup.NewIndex(dedup.Config{
		SimilarityThreshold: a.cfg.Dedup.SimilarityThreshold,
		FingerprintPrefix:   a.cfg.Dedup.FingerprintPrefix,
		TitleWindow:         a.cfg.Dedup.TitleWindow,
	}, a.hasher)

	if a.cfg.Dedup.SeedFromStorage {
		links, err := a.store.SeenKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("seed dedup index: %w", err)
		}
		index.Seed(links)
		a.logger.Info("dedup index seeded", zap.Int("links", len(links)))
	}

	p := poller.New(poller.Config{Timeout: a.cfg.Poller.Timeout()}, a.clock, a.logger)
	return &Ingest{
		poller:    p,
		index:     index,
		publisher: a.itemsPublisher,
		idGen:     a.idGen,
		clock:     a.clock,
		logger:    a.logger,
	}, nil
}

// RunOnce executes one poll cycle over the selected categories and returns
// the cycle's counts. Publish failures are logged and counted; they never
// abort the cycle.
func (a *App) RunOnce(ctx context.Context, ing *Ingest) pipeline.RunStats {
	var stats pipeline.RunStats
	srcs := a.catalog.Select(a.cfg.Sources.Categories)
	started := a.clock.Now()

	for _, result := range ing.poller.Poll(ctx, srcs) {
		stats.SourcesPolled++
		if result.Err != nil {
			stats.SourcesFailed++
			continue
		}
		for _, item := range result.Items {
			stats.ItemsFetched++
			ok, reason := ing.index.Accept(item)
			if !ok {
				stats.AddReject(string(reason))
				metrics.ItemRejected(string(reason))
				continue
			}
			stats.ItemsAccepted++
			metrics.ItemAccepted(item.Category)

			id, err := ing.idGen.NewID()
			if err != nil {
				stats.PublishFailures++
				ing.logger.Error("generate envelope id", zap.Error(err))
				continue
			}
			// The publisher records the publish counters itself.
			env := pipeline.NewEnvelope(id, item, ing.clock.Now().UTC())
			if err := ing.publisher.Publish(ctx, env); err != nil {
				stats.PublishFailures++
				ing.logger.Error("publish envelope",
					zap.String("link", env.Link),
					zap.Error(err),
				)
				continue
			}
			stats.Published++
		}
	}

	ing.logger.Info("poll cycle finished",
		zap.Int("sources_polled", stats.SourcesPolled),
		zap.Int("sources_failed", stats.SourcesFailed),
		zap.Int("items_fetched", stats.ItemsFetched),
		zap.Int("items_accepted", stats.ItemsAccepted),
		zap.Int("items_rejected", stats.ItemsRejected),
		zap.Int("published", stats.Published),
		zap.Int("publish_failures", stats.PublishFailures),
		zap.Duration("elapsed", a.clock.Now().Sub(started)),
	)
	return stats
}
