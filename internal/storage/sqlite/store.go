// Package sqlite provides the SQLite-backed article store for single-host
// deployments. WAL journal mode allows concurrent readers; a process-level
// write mutex serializes writers, which SQLite requires anyway.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/amasri/newspipe/internal/pipeline"
)

// Store persists enriched article records in a local SQLite file.
type Store struct {
	db      *sql.DB
	path    string
	writeMu sync.Mutex
}

// New opens (or creates) the database at path and applies migrations.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const create = `CREATE TABLE IF NOT EXISTS articles (
		id TEXT NOT NULL,
		title TEXT NOT NULL,
		link TEXT NOT NULL UNIQUE,
		publish_date TEXT,
		source TEXT,
		category TEXT,
		summary TEXT,
		full_content TEXT,
		content_status TEXT NOT NULL DEFAULT 'success',
		record_status TEXT NOT NULL DEFAULT 'enriched',
		fetched_at TIMESTAMP,
		enqueued_at TIMESTAMP,
		enriched_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := s.db.Exec(create); err != nil {
		return fmt.Errorf("create articles table: %w", err)
	}

	// SQLite has no ADD COLUMN IF NOT EXISTS; check the catalog first so the
	// migration stays idempotent across restarts.
	additive := map[string]string{
		"content_status": "ALTER TABLE articles ADD COLUMN content_status TEXT NOT NULL DEFAULT 'success'",
		"record_status":  "ALTER TABLE articles ADD COLUMN record_status TEXT NOT NULL DEFAULT 'enriched'",
	}
	existing, err := s.columns()
	if err != nil {
		return err
	}
	for column, stmt := range additive {
		if existing[column] {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("add column %s: %w", column, err)
		}
	}

	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS articles_category_idx ON articles (category)",
		"CREATE INDEX IF NOT EXISTS articles_record_status_idx ON articles (record_status)",
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func (s *Store) columns() (map[string]bool, error) {
	rows, err := s.db.Query("PRAGMA table_info(articles)")
	if err != nil {
		return nil, fmt.Errorf("read table info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

// Upsert inserts or replaces the row for the record's link in one statement.
func (s *Store) Upsert(ctx context.Context, record pipeline.EnrichedRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	const query = `
		INSERT INTO articles (
			id, title, link, publish_date, source, category, summary,
			full_content, content_status, record_status,
			fetched_at, enqueued_at, enriched_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (link) DO UPDATE SET
			id = excluded.id,
			title = excluded.title,
			publish_date = excluded.publish_date,
			source = excluded.source,
			category = excluded.category,
			summary = excluded.summary,
			full_content = excluded.full_content,
			content_status = excluded.content_status,
			record_status = excluded.record_status,
			fetched_at = excluded.fetched_at,
			enqueued_at = excluded.enqueued_at,
			enriched_at = excluded.enriched_at,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Title,
		record.Link,
		record.PublishDate,
		record.Source,
		record.Category,
		record.Summary,
		record.FullContent,
		string(record.ContentStatus),
		string(record.RecordStatus),
		record.FetchedAt,
		record.EnqueuedAt,
		record.EnrichedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", record.Link, err)
	}
	return nil
}

// SeenKeys returns every stored link, used to seed the dedup index.
func (s *Store) SeenKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT link FROM articles")
	if err != nil {
		return nil, fmt.Errorf("select links: %w", err)
	}
	defer rows.Close()

	var links []string
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

// Stats aggregates row counts for the status endpoint.
func (s *Store) Stats(ctx context.Context) (pipeline.StorageStats, error) {
	stats := pipeline.StorageStats{
		ByCategory: make(map[string]int),
		TopSources: make(map[string]int),
		ByStatus:   make(map[string]int),
	}
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Question)

	totalSQL, _, err := builder.Select("COUNT(*)").From("articles").ToSql()
	if err != nil {
		return stats, fmt.Errorf("build total query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, totalSQL).Scan(&stats.TotalRows); err != nil {
		return stats, fmt.Errorf("count rows: %w", err)
	}

	if err := s.countGroup(ctx, builder, "category", stats.ByCategory, 0); err != nil {
		return stats, err
	}
	if err := s.countGroup(ctx, builder, "record_status", stats.ByStatus, 0); err != nil {
		return stats, err
	}
	if err := s.countGroup(ctx, builder, "source", stats.TopSources, 10); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *Store) countGroup(ctx context.Context, builder sq.StatementBuilderType, column string, into map[string]int, limit uint64) error {
	// COALESCE keeps legacy rows with a NULL group key scannable.
	q := builder.Select("COALESCE("+column+", '')", "COUNT(*)").
		From("articles").GroupBy(column).OrderBy("COUNT(*) DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s query: %w", column, err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("query %s counts: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s counts: %w", column, err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
