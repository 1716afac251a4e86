// Package pubsub implements the publisher transport on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/amasri/newspipe/internal/pipeline"
)

// Transport publishes envelopes to one Pub/Sub topic. The envelope's category
// becomes the message ordering key, preserving per-category order without
// requiring global ordering.
type Transport struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	ownClient bool
}

// New creates a Pub/Sub client and a publisher for the topic. It
// authenticates using Application Default Credentials.
func New(ctx context.Context, projectID, topicID string) (*Transport, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	t := newWithClient(client, topicID)
	t.ownClient = true
	return t, nil
}

// NewWithClient builds a Transport over an existing client (tests, emulator).
func NewWithClient(client *pubsub.Client, topicID string) *Transport {
	return newWithClient(client, topicID)
}

func newWithClient(client *pubsub.Client, topicID string) *Transport {
	publisher := client.Publisher(topicID)
	publisher.EnableMessageOrdering = true
	return &Transport{client: client, publisher: publisher}
}

// Send marshals the envelope to JSON and publishes it, waiting for the server
// acknowledgement so the caller's retry budget sees real broker errors.
func (t *Transport) Send(ctx context.Context, env pipeline.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := &pubsub.Message{
		Data:        data,
		OrderingKey: env.Category,
		Attributes: map[string]string{
			"category": env.Category,
			"source":   env.Source,
		},
	}
	result := t.publisher.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		// A failed ordered publish pauses the key until resumed.
		t.publisher.ResumePublish(env.Category)
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close stops the publisher and, when owned, the client.
func (t *Transport) Close() error {
	t.publisher.Stop()
	if !t.ownClient {
		return nil
	}
	if err := t.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
