// Package worker implements the consume side of the pipeline: pull a batch,
// enrich each envelope, persist idempotently, then commit the batch position.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/metrics"
	"github.com/amasri/newspipe/internal/pipeline"
)

// Config controls Pool behavior.
type Config struct {
	// BatchSize bounds how many envelopes one pull may return.
	BatchSize int
	// Concurrency is the number of envelopes enriched in parallel within a
	// batch. 1 means strictly sequential processing.
	Concurrency int
	// MaxItems stops the run after processing this many envelopes. Zero
	// means unbounded.
	MaxItems int
	// MaxDuration stops the run after this much wall time. Zero means
	// unbounded.
	MaxDuration time.Duration
	// IdleSleep is how long the loop waits after an empty pull before
	// polling again.
	IdleSleep time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 2 * time.Second
	}
}

// Pool drives enrichment over a consumer. Within a batch, work runs under a
// bounded semaphore; the batch position is committed only after every
// envelope in it has reached a terminal state.
type Pool struct {
	consumer   pipeline.Consumer
	enricher   pipeline.Enricher
	store      pipeline.Store
	deadletter pipeline.DeadLetter
	clock      pipeline.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Pool.
func New(
	consumer pipeline.Consumer,
	enricher pipeline.Enricher,
	store pipeline.Store,
	deadletter pipeline.DeadLetter,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Pool {
	cfg.applyDefaults()
	return &Pool{
		consumer:   consumer,
		enricher:   enricher,
		store:      store,
		deadletter: deadletter,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run pulls and processes batches until the context ends or a configured
// bound (MaxItems, MaxDuration) is reached. It always returns the stats
// accumulated so far.
func (p *Pool) Run(ctx context.Context) (pipeline.RunStats, error) {
	var stats pipeline.RunStats
	deadline := time.Time{}
	if p.cfg.MaxDuration > 0 {
		deadline = p.clock.Now().Add(p.cfg.MaxDuration)
	}
	processed := 0

	for {
		if ctx.Err() != nil {
			return stats, nil
		}
		if !deadline.IsZero() && !p.clock.Now().Before(deadline) {
			p.logger.Info("run duration bound reached", zap.Int("processed", processed))
			return stats, nil
		}
		if p.cfg.MaxItems > 0 && processed >= p.cfg.MaxItems {
			p.logger.Info("run item bound reached", zap.Int("processed", processed))
			return stats, nil
		}

		batch, commit, err := p.consumer.PullBatch(ctx, p.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return stats, nil
			}
			return stats, fmt.Errorf("pull batch: %w", err)
		}
		if len(batch) == 0 {
			if err := sleep(ctx, p.cfg.IdleSleep); err != nil {
				return stats, nil
			}
			continue
		}

		results := p.ProcessBatch(ctx, batch)
		var storeErr error
		for _, res := range results {
			if res.Err != nil {
				if storeErr == nil {
					storeErr = res.Err
				}
				continue
			}
			switch res.RecordStatus {
			case pipeline.RecordStatusEnriched:
				stats.Enriched++
			case pipeline.RecordStatusEnrichedFallback:
				stats.Fallback++
			case pipeline.RecordStatusFailedPermanent:
				stats.FailedPermanent++
			}
		}
		if storeErr != nil {
			// An unpersisted item must not be committed past. The
			// uncommitted batch redelivers and idempotent upserts absorb
			// the replay of the items that did persist.
			return stats, fmt.Errorf("persist batch: %w", storeErr)
		}
		processed += len(batch)

		// Commit after the whole batch is terminal. A crash before this
		// point redelivers the batch; upserts keyed by link absorb the
		// replay.
		if err := commit(ctx); err != nil {
			return stats, fmt.Errorf("commit batch: %w", err)
		}
		metrics.BatchCommitted()
		p.logger.Info("batch committed",
			zap.Int("size", len(batch)),
			zap.Int("processed_total", processed),
		)
	}
}

// ProcessBatch enriches and persists every envelope in the batch, at most
// Concurrency at a time, and returns one result per envelope in input order.
func (p *Pool) ProcessBatch(ctx context.Context, batch []pipeline.Envelope) []pipeline.Result {
	results := make([]pipeline.Result, len(batch))
	if p.cfg.Concurrency == 1 {
		for i, env := range batch {
			results[i] = p.processOne(ctx, env)
		}
		return results
	}

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, env := range batch {
		wg.Add(1)
		go func(i int, env pipeline.Envelope) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = p.processOne(ctx, env)
		}(i, env)
	}
	wg.Wait()
	return results
}

func (p *Pool) processOne(ctx context.Context, env pipeline.Envelope) pipeline.Result {
	metrics.EnrichmentStarted()
	defer metrics.EnrichmentFinished()

	body, contentStatus := p.enricher.Enrich(ctx, env)
	record := pipeline.EnrichedRecord{
		Envelope:      env,
		FullContent:   body,
		EnrichedAt:    p.clock.Now().UTC(),
		ContentStatus: contentStatus,
	}

	switch {
	case contentStatus == pipeline.ContentStatusSuccess:
		record.RecordStatus = pipeline.RecordStatusEnriched
	case env.Summary != "":
		// Fetch failed but the feed summary stands in for the body.
		record.FullContent = env.Summary
		record.RecordStatus = pipeline.RecordStatusEnrichedFallback
	default:
		record.FullContent = ""
		record.RecordStatus = pipeline.RecordStatusFailedPermanent
	}

	result := pipeline.Result{
		EnvelopeID:    env.ID,
		Link:          env.Link,
		ContentStatus: contentStatus,
		RecordStatus:  record.RecordStatus,
	}

	if err := p.store.Upsert(ctx, record); err != nil {
		p.logger.Error("upsert failed",
			zap.String("envelope_id", env.ID),
			zap.String("link", env.Link),
			zap.Error(err),
		)
		result.Err = err
		return result
	}
	metrics.Enriched(string(record.RecordStatus))

	if record.RecordStatus == pipeline.RecordStatusFailedPermanent && p.deadletter != nil {
		if err := p.deadletter.Report(ctx, result, env); err != nil {
			// The record is already persisted as failed; a dead letter miss
			// loses only the operator notification.
			p.logger.Warn("dead letter report failed",
				zap.String("envelope_id", env.ID),
				zap.Error(err),
			)
		}
	}
	return result
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
