// Package memory contains an in-memory publisher transport for tests and
// single-process runs.
package memory

import (
	"context"
	"sync"

	"github.com/amasri/newspipe/internal/pipeline"
)

// Transport stores sent envelopes for inspection or hands them to a sink.
type Transport struct {
	mu     sync.RWMutex
	sent   []pipeline.Envelope
	sink   func(pipeline.Envelope)
	closed bool
}

// New returns a memory Transport. The optional sink receives every envelope,
// letting the in-process broker consume directly from publishes.
func New(sink func(pipeline.Envelope)) *Transport {
	return &Transport{sink: sink}
}

// Send records the envelope.
func (t *Transport) Send(_ context.Context, env pipeline.Envelope) error {
	t.mu.Lock()
	t.sent = append(t.sent, env)
	sink := t.sink
	t.mu.Unlock()
	if sink != nil {
		sink(env)
	}
	return nil
}

// Sent returns a copy of the recorded envelopes.
func (t *Transport) Sent() []pipeline.Envelope {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]pipeline.Envelope, len(t.sent))
	copy(out, t.sent)
	return out
}

// Close marks the transport closed.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
