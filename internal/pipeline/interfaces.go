package pipeline

import (
	"context"
	"time"
)

// Publisher appends envelopes to the partitioned log. Delivery is
// at-least-once; implementations retry transient errors with bounded backoff
// and surface a terminal error to the caller.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// CommitFunc advances the consumer group position past a pulled batch.
// Calling it more than once is a no-op.
type CommitFunc func(ctx context.Context) error

// Consumer pulls batches of envelopes from the log. Batches not committed are
// redelivered, which is safe because storage writes are idempotent.
type Consumer interface {
	PullBatch(ctx context.Context, max int) ([]Envelope, CommitFunc, error)
	Close() error
}

// Enricher fetches full content for an envelope and classifies the outcome.
// It never returns an error: every outcome is a (body, status) pair.
type Enricher interface {
	Enrich(ctx context.Context, env Envelope) (string, ContentStatus)
}

// Store persists enriched records idempotently, keyed by link.
type Store interface {
	Upsert(ctx context.Context, record EnrichedRecord) error
	SeenKeys(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (StorageStats, error)
	Close() error
}

// DeadLetter mirrors permanently failed items for operator inspection.
type DeadLetter interface {
	Report(ctx context.Context, result Result, env Envelope) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces envelope IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests for content fingerprinting.
type Hasher interface {
	Hash(data []byte) (string, error)
}
