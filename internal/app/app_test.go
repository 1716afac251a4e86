package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mmcdole/gofeed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amasri/newspipe/internal/config"
	"github.com/amasri/newspipe/internal/dedup"
	"github.com/amasri/newspipe/internal/pipeline"
	"github.com/amasri/newspipe/internal/poller"
)

func memoryConfig() config.Config {
	return config.Config{
		Broker:  config.BrokerConfig{Provider: "memory"},
		Storage: config.StorageConfig{Provider: "memory"},
		Worker:  config.WorkerConfig{Concurrency: 1, BatchSize: 10},
		Dedup:   config.DedupConfig{SimilarityThreshold: 0.85, FingerprintPrefix: 200, TitleWindow: 256},
		Server:  config.ServerConfig{Port: 8080},
	}
}

func TestNewWithMemoryProviders(t *testing.T) {
	a, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Store())
	assert.NotNil(t, a.ItemsPublisher())
	assert.NotNil(t, a.Consumer())
	assert.NotNil(t, a.MemoryBroker())
	assert.NotNil(t, a.DeadLetter())
	assert.NotEmpty(t, a.Catalog().Categories())
}

func TestNewRejectsUnknownProviders(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Provider = "mysql"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)

	cfg = memoryConfig()
	cfg.Broker.Provider = "kafka"
	_, err = New(context.Background(), cfg)
	require.Error(t, err)
}

func TestPublishedEnvelopesFlowToConsumer(t *testing.T) {
	a, err := New(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	env := pipeline.Envelope{ID: "env-1", Link: "https://example.com/a", Category: "economy"}
	require.NoError(t, a.ItemsPublisher().Publish(context.Background(), env))

	batch, commit, err := a.Consumer().PullBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "env-1", batch[0].ID)
	require.NoError(t, commit(context.Background()))
}

func TestIngestSeedsDedupFromStorage(t *testing.T) {
	cfg := memoryConfig()
	cfg.Dedup.SeedFromStorage = true
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	seen := pipeline.EnrichedRecord{
		Envelope:     pipeline.Envelope{ID: "old", Link: "https://example.com/old", Title: "old title"},
		RecordStatus: pipeline.RecordStatusEnriched,
	}
	require.NoError(t, a.Store().Upsert(context.Background(), seen))

	ing, err := a.NewIngest(context.Background())
	require.NoError(t, err)

	// A republished link must be rejected without reaching the broker.
	ok, reason := ingestAccept(ing, "https://example.com/old", "completely different headline")
	assert.False(t, ok)
	assert.Equal(t, "duplicate_key", reason)
}

func ingestAccept(ing *Ingest, link, title string) (bool, string) {
	ok, reason := ing.index.Accept(pipeline.Item{Link: link, Title: title})
	return ok, string(reason)
}

type stubParser struct{ feed *gofeed.Feed }

func (p stubParser) ParseURLWithContext(_ string, _ context.Context) (*gofeed.Feed, error) {
	return p.feed, nil
}

// The publisher is the single recording point for the publish counters; a
// poll cycle must not bump them a second time.
func TestRunOncePublishCountersMatchPublished(t *testing.T) {
	registry := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(registry,
		[]byte("feeds:\n  books:\n    - \"https://example.com/books.xml\"\n"), 0o600))

	cfg := memoryConfig()
	cfg.Sources.File = registry
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	feed := &gofeed.Feed{Title: "Books Daily", Items: []*gofeed.Item{
		{Title: "a novel worth rereading", Link: "https://example.com/books/1"},
		{Title: "poetry prize shortlist", Link: "https://example.com/books/2"},
	}}
	ing := &Ingest{
		poller:    poller.NewWithParser(stubParser{feed: feed}, poller.Config{}, a.clock, a.logger),
		index:     dedup.NewIndex(dedup.DefaultConfig(), a.hasher),
		publisher: a.itemsPublisher,
		idGen:     a.idGen,
		clock:     a.clock,
		logger:    a.logger,
	}

	before := publishedCount(t, "books")
	stats := a.RunOnce(context.Background(), ing)
	require.Equal(t, 2, stats.Published)
	assert.Equal(t, before+2, publishedCount(t, "books"))
}

func publishedCount(t *testing.T, category string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != "newspipe_envelopes_published_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "category" && label.GetValue() == category {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
