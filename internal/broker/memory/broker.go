// Package memory provides an in-process broker for single-binary runs and
// tests. It keeps a FIFO of pending envelopes and redelivers batches that
// were pulled but never committed.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/amasri/newspipe/internal/pipeline"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker closed")

type pulledBatch struct {
	envelopes []pipeline.Envelope
	committed bool
}

// Broker is a mutex-guarded FIFO of envelopes implementing both sides of the
// log: Enqueue for the publisher transport sink and PullBatch for consumers.
type Broker struct {
	mu          sync.Mutex
	pending     []pipeline.Envelope
	uncommitted []*pulledBatch
	closed      bool
}

// New returns an empty Broker.
func New() *Broker {
	return &Broker{}
}

// Enqueue appends an envelope to the pending queue. Enqueues after Close are
// dropped.
func (b *Broker) Enqueue(env pipeline.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.pending = append(b.pending, env)
}

// Len reports the number of deliverable envelopes.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// PullBatch removes up to max envelopes and returns them with a commit
// function. Committing twice is a no-op. An empty queue yields an empty
// batch, not an error; uncommitted batches are restored by Redeliver.
func (b *Broker) PullBatch(_ context.Context, max int) ([]pipeline.Envelope, pipeline.CommitFunc, error) {
	if max <= 0 {
		return nil, nil, fmt.Errorf("pull batch: max must be positive, got %d", max)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrClosed
	}
	n := max
	if n > len(b.pending) {
		n = len(b.pending)
	}
	if n == 0 {
		return nil, noopCommit, nil
	}
	batch := make([]pipeline.Envelope, n)
	copy(batch, b.pending[:n])
	b.pending = b.pending[n:]

	pb := &pulledBatch{envelopes: batch}
	b.uncommitted = append(b.uncommitted, pb)

	var once sync.Once
	commit := func(_ context.Context) error {
		once.Do(func() {
			b.mu.Lock()
			pb.committed = true
			b.mu.Unlock()
		})
		return nil
	}
	return batch, commit, nil
}

// Redeliver returns every pulled-but-uncommitted batch to the head of the
// queue in pull order and reports how many envelopes were restored.
// Consumers call this on restart so at-least-once delivery holds across
// crashes.
func (b *Broker) Redeliver() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var restored []pipeline.Envelope
	for _, pb := range b.uncommitted {
		if pb.committed {
			continue
		}
		restored = append(restored, pb.envelopes...)
	}
	b.uncommitted = nil
	if len(restored) > 0 {
		b.pending = append(restored, b.pending...)
	}
	return len(restored)
}

// Close marks the broker closed and discards pending envelopes.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.pending = nil
	b.uncommitted = nil
	return nil
}

func noopCommit(_ context.Context) error { return nil }
