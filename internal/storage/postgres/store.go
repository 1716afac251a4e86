// Package postgres provides the Postgres-backed article store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amasri/newspipe/internal/pipeline"
	"github.com/amasri/newspipe/internal/retry"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	TxRetry         retry.Policy
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists enriched article records, one row per link.
type Store struct {
	pool    pgxPool
	table   string
	txRetry retry.Policy
}

// New creates a Store using the provided config and runs migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table, cfg.TxRetry)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing). Migrations are not run.
func NewWithPool(pool pgxPool, table string, txRetry retry.Policy) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "articles"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if txRetry.MaxAttempts <= 0 {
		txRetry = retry.Policy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	}
	return &Store{pool: pool, table: table, txRetry: txRetry}, nil
}

// Migrate creates the table and applies additive column migrations. Every
// statement is a no-op when its object already exists, so running it on each
// start is safe.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			title TEXT NOT NULL,
			link TEXT NOT NULL UNIQUE,
			publish_date TEXT,
			source TEXT,
			category TEXT,
			summary TEXT,
			full_content TEXT,
			content_status TEXT NOT NULL,
			record_status TEXT NOT NULL,
			fetched_at TIMESTAMPTZ,
			enqueued_at TIMESTAMPTZ,
			enriched_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS content_status TEXT NOT NULL DEFAULT 'success'`, s.table),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS record_status TEXT NOT NULL DEFAULT 'enriched'`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_category_idx ON %s (category)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_record_status_idx ON %s (record_status)`, s.table, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.table, err)
		}
	}
	return nil
}

// Upsert inserts or replaces the row for the record's link in one atomic
// statement. Serialization and lock contention errors are retried a bounded
// number of times; exhaustion surfaces the last error.
func (s *Store) Upsert(ctx context.Context, record pipeline.EnrichedRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, title, link, publish_date, source, category, summary,
			full_content, content_status, record_status,
			fetched_at, enqueued_at, enriched_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (link) DO UPDATE SET
			id = EXCLUDED.id,
			title = EXCLUDED.title,
			publish_date = EXCLUDED.publish_date,
			source = EXCLUDED.source,
			category = EXCLUDED.category,
			summary = EXCLUDED.summary,
			full_content = EXCLUDED.full_content,
			content_status = EXCLUDED.content_status,
			record_status = EXCLUDED.record_status,
			fetched_at = EXCLUDED.fetched_at,
			enqueued_at = EXCLUDED.enqueued_at,
			enriched_at = EXCLUDED.enriched_at,
			updated_at = NOW()
	`, s.table)

	state := s.txRetry.Start()
	for {
		_, err := s.pool.Exec(ctx, query,
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
		if err == nil {
			return nil
		}
		if !contentionError(err) {
			return fmt.Errorf("upsert %s: %w", record.Link, err)
		}
		delay, again := state.Next(err)
		if !again {
			return fmt.Errorf("upsert %s after %d attempts: %w", record.Link, state.Attempt(), err)
		}
		if serr := retry.Sleep(ctx, delay); serr != nil {
			return fmt.Errorf("upsert %s: %w", record.Link, serr)
		}
	}
}

// Contention codes worth retrying at the statement level:
// serialization_failure, deadlock_detected, lock_not_available.
func contentionError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

// SeenKeys returns every stored link, used to seed the dedup index.
func (s *Store) SeenKeys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT link FROM %s`, s.table))
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
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	totalSQL, _, err := builder.Select("COUNT(*)").From(s.table).ToSql()
	if err != nil {
		return stats, fmt.Errorf("build total query: %w", err)
	}
	if err := s.pool.QueryRow(ctx, totalSQL).Scan(&stats.TotalRows); err != nil {
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
		From(s.table).GroupBy(column).OrderBy("COUNT(*) DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s query: %w", column, err)
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
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

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
