// Package pubsub adapts a Google Cloud Pub/Sub subscription to the pipeline
// consumer contract. The streaming Receive callback is bridged into pulled
// batches; messages not committed are left unacked and Pub/Sub redelivers
// them after the ack deadline.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/pipeline"
)

type inbound struct {
	env pipeline.Envelope
	msg *pubsub.Message
}

// Consumer implements pipeline.Consumer over one subscription.
type Consumer struct {
	client    *pubsub.Client
	logger    *zap.Logger
	linger    time.Duration
	ownClient bool

	ch     chan inbound
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	subID     string
}

// Option tweaks consumer construction.
type Option func(*Consumer)

// WithLinger sets how long PullBatch waits to fill a batch after the first
// message arrives.
func WithLinger(d time.Duration) Option {
	return func(c *Consumer) { c.linger = d }
}

// New dials Pub/Sub with Application Default Credentials and prepares a
// consumer for the subscription.
func New(ctx context.Context, projectID, subscriptionID string, logger *zap.Logger, opts ...Option) (*Consumer, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	c := NewWithClient(client, subscriptionID, logger, opts...)
	c.ownClient = true
	return c, nil
}

// NewWithClient builds a Consumer over an existing client (tests, emulator).
func NewWithClient(client *pubsub.Client, subscriptionID string, logger *zap.Logger, opts ...Option) *Consumer {
	c := &Consumer{
		client: client,
		logger: logger,
		linger: 500 * time.Millisecond,
		ch:     make(chan inbound),
		done:   make(chan struct{}),
		subID:  subscriptionID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// start launches the streaming receiver. The unbuffered channel applies
// backpressure: Receive callbacks block until PullBatch takes the message.
func (c *Consumer) start() {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		subscriber := c.client.Subscriber(c.subID)
		go func() {
			defer close(c.done)
			err := subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
				var env pipeline.Envelope
				if uerr := json.Unmarshal(msg.Data, &env); uerr != nil {
					// A malformed payload can never succeed; ack it so the
					// subscription does not wedge on a poison message.
					c.logger.Warn("dropping undecodable message",
						zap.String("message_id", msg.ID),
						zap.Error(uerr),
					)
					msg.Ack()
					return
				}
				select {
				case c.ch <- inbound{env: env, msg: msg}:
				case <-ctx.Done():
					msg.Nack()
				}
			})
			if err != nil && ctx.Err() == nil {
				c.logger.Error("subscription receive terminated", zap.Error(err))
			}
		}()
	})
}

// PullBatch blocks until at least one envelope arrives (or ctx ends), then
// lingers briefly to fill the batch up to max. The returned commit acks
// every message in the batch exactly once.
func (c *Consumer) PullBatch(ctx context.Context, max int) ([]pipeline.Envelope, pipeline.CommitFunc, error) {
	if max <= 0 {
		return nil, nil, fmt.Errorf("pull batch: max must be positive, got %d", max)
	}
	c.start()

	var batch []inbound
	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("pull batch: %w", ctx.Err())
	case <-c.done:
		return nil, nil, fmt.Errorf("pull batch: subscriber stopped")
	case first := <-c.ch:
		batch = append(batch, first)
	}

	timer := time.NewTimer(c.linger)
	defer timer.Stop()
fill:
	for len(batch) < max {
		select {
		case in := <-c.ch:
			batch = append(batch, in)
		case <-timer.C:
			break fill
		case <-ctx.Done():
			break fill
		}
	}

	envs := make([]pipeline.Envelope, len(batch))
	for i, in := range batch {
		envs[i] = in.env
	}
	var once sync.Once
	commit := func(_ context.Context) error {
		once.Do(func() {
			for _, in := range batch {
				in.msg.Ack()
			}
		})
		return nil
	}
	return envs, commit, nil
}

// Close stops the receiver and, when owned, the client. Unacked messages are
// redelivered by Pub/Sub after the ack deadline.
func (c *Consumer) Close() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	if !c.ownClient {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
