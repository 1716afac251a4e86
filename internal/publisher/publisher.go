// Package publisher appends accepted envelopes to the partitioned log with
// at-least-once delivery and bounded retry.
package publisher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/metrics"
	"github.com/amasri/newspipe/internal/pipeline"
	"github.com/amasri/newspipe/internal/retry"
)

// Transport delivers one envelope to a concrete broker. Implementations set
// the partition/ordering key from the envelope's category.
type Transport interface {
	Send(ctx context.Context, env pipeline.Envelope) error
	Close() error
}

// Config controls retry behavior for publishes.
type Config struct {
	Retry retry.Policy
	// AttemptTimeout bounds each delivery attempt so a publish never blocks
	// indefinitely.
	AttemptTimeout time.Duration
}

// Publisher implements pipeline.Publisher over a Transport, retrying
// transient broker errors with exponential backoff before surfacing a
// terminal error. The caller logs terminal errors and continues with the next
// item.
type Publisher struct {
	transport Transport
	cfg       Config
	logger    *zap.Logger
}

// New wires a Publisher.
func New(transport Transport, cfg Config, logger *zap.Logger) *Publisher {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Default()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	return &Publisher{transport: transport, cfg: cfg, logger: logger}
}

// Publish delivers the envelope, retrying transient failures.
func (p *Publisher) Publish(ctx context.Context, env pipeline.Envelope) error {
	state := p.cfg.Retry.Start()
	for {
		err := p.sendOnce(ctx, env)
		delay, again := state.Next(err)
		if err == nil {
			metrics.EnvelopePublished(env.Category)
			return nil
		}
		if !again {
			metrics.PublishFailed()
			return fmt.Errorf("publish %s after %d attempts: %w", env.ID, state.Attempt(), err)
		}
		p.logger.Warn("publish attempt failed; backing off",
			zap.String("envelope_id", env.ID),
			zap.Int("attempt", state.Attempt()),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if serr := retry.Sleep(ctx, delay); serr != nil {
			metrics.PublishFailed()
			return fmt.Errorf("publish %s canceled during backoff: %w", env.ID, serr)
		}
	}
}

func (p *Publisher) sendOnce(ctx context.Context, env pipeline.Envelope) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()
	return p.transport.Send(attemptCtx, env)
}

// Close releases the underlying transport.
func (p *Publisher) Close() error {
	if err := p.transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}
