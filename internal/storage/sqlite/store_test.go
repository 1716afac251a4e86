package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amasri/newspipe/internal/pipeline"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "articles.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(link, category, status string) pipeline.EnrichedRecord {
	now := time.Unix(1700000000, 0).UTC()
	return pipeline.EnrichedRecord{
		Envelope: pipeline.Envelope{
			ID:         "id-" + link,
			Title:      "title " + link,
			Link:       link,
			Source:     "example",
			Category:   category,
			Summary:    "summary",
			FetchedAt:  now,
			EnqueuedAt: now,
		},
		FullContent:   "body",
		EnrichedAt:    now,
		ContentStatus: pipeline.ContentStatusSuccess,
		RecordStatus:  pipeline.RecordStatus(status),
	}
}

func TestUpsertIsIdempotentPerLink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := record("https://example.com/a", "economy", "enriched")
	require.NoError(t, store.Upsert(ctx, rec))

	// Replaying the same link overwrites instead of adding a row.
	rec.FullContent = "updated body"
	rec.RecordStatus = pipeline.RecordStatusEnrichedFallback
	require.NoError(t, store.Upsert(ctx, rec))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRows)
	assert.Equal(t, 1, stats.ByStatus["enriched_fallback"])

	var content string
	require.NoError(t, store.db.QueryRow(
		"SELECT full_content FROM articles WHERE link = ?", rec.Link).Scan(&content))
	assert.Equal(t, "updated body", content)
}

func TestConcurrentUpsertsOneRowPerKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := record("https://example.com/contested", "economy", "enriched")
			assert.NoError(t, store.Upsert(ctx, rec))
		}()
	}
	wg.Wait()

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRows)
}

func TestSeenKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, record("https://example.com/a", "economy", "enriched")))
	require.NoError(t, store.Upsert(ctx, record("https://example.com/b", "tech", "enriched")))

	keys, err := store.SeenKeys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"https://example.com/a", "https://example.com/b"}, keys)
}

func TestStatsGroupings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, record("https://example.com/a", "economy", "enriched")))
	require.NoError(t, store.Upsert(ctx, record("https://example.com/b", "economy", "enriched")))
	require.NoError(t, store.Upsert(ctx, record("https://example.com/c", "tech", "failed_permanent")))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRows)
	assert.Equal(t, 2, stats.ByCategory["economy"])
	assert.Equal(t, 1, stats.ByCategory["tech"])
	assert.Equal(t, 2, stats.ByStatus["enriched"])
	assert.Equal(t, 1, stats.ByStatus["failed_permanent"])
	assert.Equal(t, 3, stats.TopSources["example"])
}

func TestStatsTolerateNullGroupKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, record("https://example.com/a", "economy", "enriched")))
	// Rows written before category and source existed carry NULLs.
	_, err := store.db.ExecContext(ctx,
		`INSERT INTO articles (id, link, title, category, source, record_status)
		 VALUES ('id-legacy', 'https://example.com/legacy', 'legacy title', NULL, NULL, 'enriched')`)
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRows)
	assert.Equal(t, 1, stats.ByCategory["economy"])
	assert.Equal(t, 1, stats.ByCategory[""])
	assert.Equal(t, 1, stats.TopSources[""])
}

func TestMigrationIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "articles.db")

	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.Upsert(context.Background(), record("https://example.com/a", "economy", "enriched")))
	require.NoError(t, first.Close())

	// Reopening re-runs migrations against the existing schema.
	second, err := New(path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	keys, err := second.SeenKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a"}, keys)
}

func TestWALJournalMode(t *testing.T) {
	store := newTestStore(t)

	var mode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}
