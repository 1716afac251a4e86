// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	itemsAcceptedTotal    *prometheus.CounterVec
	itemsRejectedTotal    *prometheus.CounterVec
	envelopesPublished    *prometheus.CounterVec
	publishFailuresTotal  prometheus.Counter
	enrichedTotal         *prometheus.CounterVec
	batchesCommittedTotal prometheus.Counter
	inFlightEnrichments   prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		itemsAcceptedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newspipe_items_accepted_total",
				Help: "Items accepted by the deduplicator, labeled by category.",
			},
			[]string{"category"},
		)
		itemsRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newspipe_items_rejected_total",
				Help: "Items rejected by the deduplicator, labeled by reason class.",
			},
			[]string{"reason"},
		)
		envelopesPublished = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newspipe_envelopes_published_total",
				Help: "Envelopes appended to the log, labeled by category.",
			},
			[]string{"category"},
		)
		publishFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newspipe_publish_failures_total",
				Help: "Publishes that exhausted their retry budget.",
			},
		)
		enrichedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newspipe_enriched_total",
				Help: "Enrichment outcomes, labeled by content status.",
			},
			[]string{"status"},
		)
		batchesCommittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newspipe_batches_committed_total",
				Help: "Consumer batches committed after reaching terminal state.",
			},
		)
		inFlightEnrichments = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newspipe_inflight_enrichments",
				Help: "Enrichment fetches currently in flight.",
			},
		)
	})
}

// ItemAccepted records one accepted item.
func ItemAccepted(category string) {
	if itemsAcceptedTotal != nil {
		itemsAcceptedTotal.WithLabelValues(category).Inc()
	}
}

// ItemRejected records one rejected item. Ratio-bearing reasons collapse to
// their prefix to keep label cardinality bounded.
func ItemRejected(reason string) {
	if itemsRejectedTotal != nil {
		itemsRejectedTotal.WithLabelValues(reasonClass(reason)).Inc()
	}
}

// EnvelopePublished records one successful publish.
func EnvelopePublished(category string) {
	if envelopesPublished != nil {
		envelopesPublished.WithLabelValues(category).Inc()
	}
}

// PublishFailed records one terminal publish failure.
func PublishFailed() {
	if publishFailuresTotal != nil {
		publishFailuresTotal.Inc()
	}
}

// Enriched records one terminal enrichment outcome.
func Enriched(status string) {
	if enrichedTotal != nil {
		enrichedTotal.WithLabelValues(status).Inc()
	}
}

// BatchCommitted records one committed batch.
func BatchCommitted() {
	if batchesCommittedTotal != nil {
		batchesCommittedTotal.Inc()
	}
}

// EnrichmentStarted bumps the in-flight gauge.
func EnrichmentStarted() {
	if inFlightEnrichments != nil {
		inFlightEnrichments.Inc()
	}
}

// EnrichmentFinished drops the in-flight gauge.
func EnrichmentFinished() {
	if inFlightEnrichments != nil {
		inFlightEnrichments.Dec()
	}
}

func reasonClass(reason string) string {
	const prefix = "similar_title_"
	if len(reason) > len(prefix) && reason[:len(prefix)] == prefix {
		return "similar_title"
	}
	return reason
}
