// Package dedup decides whether an incoming item has already been seen during
// a pipeline run. Membership checks run cheapest-first: exact link, then
// content fingerprint, then fuzzy title similarity against a bounded window of
// recent titles.
package dedup

import (
	"fmt"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/amasri/newspipe/internal/htmltext"
	"github.com/amasri/newspipe/internal/pipeline"
)

// Reason explains a rejection. Reasons are returned for observability only,
// never for control flow elsewhere.
type Reason string

// Rejection reasons.
const (
	ReasonNone                 Reason = ""
	ReasonDuplicateKey         Reason = "duplicate_key"
	ReasonDuplicateFingerprint Reason = "duplicate_fingerprint"
)

// SimilarTitleReason formats the near-duplicate reason with the observed
// ratio, e.g. "similar_title_0.92".
func SimilarTitleReason(ratio float64) Reason {
	return Reason(fmt.Sprintf("similar_title_%.2f", ratio))
}

// Config tunes the index. The thresholds were tuned empirically against real
// feed corpora, so they stay configurable rather than constant.
type Config struct {
	// SimilarityThreshold is the minimum normalized edit-similarity ratio at
	// which two titles count as near-duplicates.
	SimilarityThreshold float64
	// FingerprintPrefix is how many bytes of the summary participate in the
	// content fingerprint.
	FingerprintPrefix int
	// TitleWindow bounds how many recent titles fuzzy matching scans.
	TitleWindow int
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.85,
		FingerprintPrefix:   200,
		TitleWindow:         256,
	}
}

// Index holds the seen-sets for one pipeline run. It is passed explicitly
// into the poll path, never kept as a process-wide singleton, so parallel and
// test runs get independent state.
type Index struct {
	mu           sync.Mutex
	cfg          Config
	hasher       pipeline.Hasher
	keys         map[string]struct{}
	fingerprints map[string]struct{}
	titles       []string
}

// NewIndex builds an empty index for one run.
func NewIndex(cfg Config, hasher pipeline.Hasher) *Index {
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = 0.85
	}
	if cfg.FingerprintPrefix <= 0 {
		cfg.FingerprintPrefix = 200
	}
	if cfg.TitleWindow <= 0 {
		cfg.TitleWindow = 256
	}
	return &Index{
		cfg:          cfg,
		hasher:       hasher,
		keys:         make(map[string]struct{}),
		fingerprints: make(map[string]struct{}),
	}
}

// Seed marks links as already seen, typically loaded from storage for
// cross-run deduplication.
func (x *Index) Seed(links []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, l := range links {
		l = strings.TrimSpace(l)
		if l != "" {
			x.keys[l] = struct{}{}
		}
	}
}

// Accept decides whether the item is new. On acceptance the item's key,
// fingerprint, and title are recorded before returning; the check-and-record
// step is atomic with respect to other Accept calls, so concurrent calls never
// both accept duplicates.
func (x *Index) Accept(item pipeline.Item) (bool, Reason) {
	key := strings.TrimSpace(item.Link)
	print := x.fingerprint(item)
	title := normalizeTitle(item.Title)

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, dup := x.keys[key]; dup {
		return false, ReasonDuplicateKey
	}
	if _, dup := x.fingerprints[print]; dup {
		return false, ReasonDuplicateFingerprint
	}
	if ratio, near := x.nearestTitle(title); near {
		return false, SimilarTitleReason(ratio)
	}

	x.keys[key] = struct{}{}
	x.fingerprints[print] = struct{}{}
	x.titles = append(x.titles, title)
	if len(x.titles) > x.cfg.TitleWindow {
		x.titles = x.titles[len(x.titles)-x.cfg.TitleWindow:]
	}
	return true, ReasonNone
}

// fingerprint hashes normalized title plus a truncated summary, catching
// identical text re-published under a different URL.
func (x *Index) fingerprint(item pipeline.Item) string {
	summary := strings.ToLower(strings.TrimSpace(item.Summary))
	if len(summary) > x.cfg.FingerprintPrefix {
		summary = summary[:x.cfg.FingerprintPrefix]
	}
	input := normalizeTitle(item.Title) + summary
	digest, err := x.hasher.Hash([]byte(input))
	if err != nil {
		// Hashing plain bytes cannot fail with the sha256 hasher; fall back
		// to the raw input so dedup still works.
		return input
	}
	return digest
}

func (x *Index) nearestTitle(title string) (float64, bool) {
	if title == "" {
		return 0, false
	}
	for i := len(x.titles) - 1; i >= 0; i-- {
		ratio := Similarity(title, x.titles[i])
		if ratio >= x.cfg.SimilarityThreshold {
			return ratio, true
		}
	}
	return 0, false
}

// Similarity returns a normalized edit-similarity ratio in [0,1]:
// 1 - distance/maxLen over the normalized titles.
func Similarity(a, b string) float64 {
	a, b = normalizeTitle(a), normalizeTitle(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

func normalizeTitle(title string) string {
	return htmltext.Collapse(strings.ToLower(title))
}
