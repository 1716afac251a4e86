// Package pipeline defines core types shared across subsystems.
package pipeline

import "time"

// ContentStatus classifies the outcome of an enrichment fetch.
type ContentStatus string

// Content status values carried on enriched records.
const (
	ContentStatusSuccess    ContentStatus = "success"
	ContentStatusTimeout    ContentStatus = "timeout"
	ContentStatusPaywall    ContentStatus = "paywall"
	ContentStatusParseError ContentStatus = "parse_error"
)

// RecordStatus represents the lifecycle state of an item keyed by link.
type RecordStatus string

// Record status values persisted in storage. There is no transition back to
// unseen; re-delivery of the same link re-enters enriching and overwrites.
const (
	RecordStatusPublished        RecordStatus = "published"
	RecordStatusEnriching        RecordStatus = "enriching"
	RecordStatusEnriched         RecordStatus = "enriched"
	RecordStatusEnrichedFallback RecordStatus = "enriched_fallback"
	RecordStatusFailedPermanent  RecordStatus = "failed_permanent"
)

// Item is a raw article parsed from one feed entry. It is ephemeral: created
// per poll cycle and discarded after the dedup decision.
type Item struct {
	SourceID    string
	Source      string
	Category    string
	Title       string
	Link        string
	PublishDate string
	Summary     string
	FetchedAt   time.Time
}

// Envelope is the unit of transport on the log, immutable once published.
type Envelope struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	PublishDate string    `json:"publish_date"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	Summary     string    `json:"summary"`
	FetchedAt   time.Time `json:"fetched_at"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// NewEnvelope wraps an accepted item for publishing.
func NewEnvelope(id string, item Item, enqueuedAt time.Time) Envelope {
	return Envelope{
		ID:          id,
		Title:       item.Title,
		Link:        item.Link,
		PublishDate: item.PublishDate,
		Source:      item.Source,
		Category:    item.Category,
		Summary:     item.Summary,
		FetchedAt:   item.FetchedAt,
		EnqueuedAt:  enqueuedAt,
	}
}

// EnrichedRecord is the unit persisted to storage, keyed by Link.
type EnrichedRecord struct {
	Envelope
	FullContent   string        `json:"full_content"`
	EnrichedAt    time.Time     `json:"enriched_at"`
	ContentStatus ContentStatus `json:"content_status"`
	RecordStatus  RecordStatus  `json:"record_status"`
}

// Result is the terminal outcome of processing one envelope in a batch.
type Result struct {
	EnvelopeID    string
	Link          string
	ContentStatus ContentStatus
	RecordStatus  RecordStatus
	Err           error
}

// RunStats summarizes one pipeline run. Every run ends with these counts,
// never a silent partial result.
type RunStats struct {
	SourcesPolled   int
	SourcesFailed   int
	ItemsFetched    int
	ItemsAccepted   int
	ItemsRejected   int
	RejectReasons   map[string]int
	Published       int
	PublishFailures int
	Enriched        int
	Fallback        int
	FailedPermanent int
}

// AddReject records one rejected item under its reason.
func (s *RunStats) AddReject(reason string) {
	if s.RejectReasons == nil {
		s.RejectReasons = make(map[string]int)
	}
	s.RejectReasons[reason]++
	s.ItemsRejected++
}

// StorageStats reports aggregate row counts for the status endpoint.
type StorageStats struct {
	TotalRows  int            `json:"total_rows"`
	ByCategory map[string]int `json:"by_category"`
	TopSources map[string]int `json:"top_sources"`
	ByStatus   map[string]int `json:"by_status"`
}
