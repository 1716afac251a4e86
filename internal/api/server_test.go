package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amasri/newspipe/internal/pipeline"
	"github.com/amasri/newspipe/internal/storage/memory"
)

type failingStore struct{ pipeline.Store }

func (failingStore) Stats(context.Context) (pipeline.StorageStats, error) {
	return pipeline.StorageStats{}, errors.New("db down")
}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	for _, rec := range []pipeline.EnrichedRecord{
		{Envelope: pipeline.Envelope{Link: "a", Category: "economy", Source: "s1"}, RecordStatus: pipeline.RecordStatusEnriched},
		{Envelope: pipeline.Envelope{Link: "b", Category: "tech", Source: "s2"}, RecordStatus: pipeline.RecordStatusFailedPermanent},
	} {
		require.NoError(t, store.Upsert(context.Background(), rec))
	}
	return store
}

func TestHealthz(t *testing.T) {
	srv := NewServer(memory.New(), zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStatsEndpoint(t *testing.T) {
	srv := NewServer(seedStore(t), zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var stats pipeline.StorageStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalRows)
	assert.Equal(t, 1, stats.ByCategory["economy"])
	assert.Equal(t, 1, stats.ByStatus["failed_permanent"])
}

func TestStatsFailureReturns500(t *testing.T) {
	srv := NewServer(failingStore{}, zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReadyzReflectsStore(t *testing.T) {
	ready := httptest.NewRecorder()
	NewServer(memory.New(), zap.NewNop()).Handler().
		ServeHTTP(ready, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, ready.Code)

	notReady := httptest.NewRecorder()
	NewServer(failingStore{}, zap.NewNop()).Handler().
		ServeHTTP(notReady, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, notReady.Code)
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	srv := NewServer(memory.New(), zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
