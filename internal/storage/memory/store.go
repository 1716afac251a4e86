// Package memory provides an in-memory article store for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/amasri/newspipe/internal/pipeline"
)

// Store keeps enriched records in a map keyed by link.
type Store struct {
	mu      sync.RWMutex
	records map[string]pipeline.EnrichedRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]pipeline.EnrichedRecord)}
}

// Upsert replaces the record for its link.
func (s *Store) Upsert(_ context.Context, record pipeline.EnrichedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Link] = record
	return nil
}

// Get returns the stored record for a link.
func (s *Store) Get(link string) (pipeline.EnrichedRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[link]
	return rec, ok
}

// SeenKeys returns every stored link in sorted order.
func (s *Store) SeenKeys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats aggregates counts over the stored records.
func (s *Store) Stats(_ context.Context) (pipeline.StorageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := pipeline.StorageStats{
		TotalRows:  len(s.records),
		ByCategory: make(map[string]int),
		TopSources: make(map[string]int),
		ByStatus:   make(map[string]int),
	}
	for _, rec := range s.records {
		stats.ByCategory[rec.Category]++
		stats.TopSources[rec.Source]++
		stats.ByStatus[string(rec.RecordStatus)]++
	}
	return stats, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
