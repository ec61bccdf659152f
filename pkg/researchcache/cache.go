// Package researchcache defines the content-addressed cache for per-term
// medical research results. Entries are keyed by a stable SHA-256 of the
// normalized term and the canonical research configuration, governed by a
// per-content-type TTL policy with source-driven boosts, and optionally
// gzip-compressed.
//
// The cache is a process-wide store with its own lifecycle, independent of
// any class session. Implementations live in subpackages: pgcache
// (PostgreSQL, production) and memcache (in-memory, tests).
package researchcache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aulavox/aulavox/pkg/types"
)

// ErrMiss is returned by Lookup when no fresh, valid entry exists for the
// key. Expired or invalidated entries count as misses while remaining in
// storage until cleanup.
var ErrMiss = errors.New("researchcache: miss")

// ContentType classifies a cached research payload for TTL selection.
type ContentType string

const (
	ContentAcademic     ContentType = "academic"
	ContentClinical     ContentType = "clinical"
	ContentDrugInfo     ContentType = "drug_info"
	ContentEpidemiology ContentType = "epidemiology"
	ContentGeneral      ContentType = "general"
	ContentNews         ContentType = "news"
)

// ttlHours is the base TTL per content type.
var ttlHours = map[ContentType]int{
	ContentAcademic:     720,
	ContentClinical:     168,
	ContentDrugInfo:     24,
	ContentEpidemiology: 72,
	ContentGeneral:      168,
	ContentNews:         6,
}

// TTLFor returns the retention for a payload of the given content type backed
// by the given sources. PubMed-backed entries keep at least 720h; WHO or NIH
// backing keeps at least 336h. Unknown content types fall back to the general
// TTL.
func TTLFor(ct ContentType, sources []types.SourceType) time.Duration {
	hours, ok := ttlHours[ct]
	if !ok {
		hours = ttlHours[ContentGeneral]
	}
	for _, s := range sources {
		switch s {
		case types.SourcePubMed:
			if hours < 720 {
				hours = 720
			}
		case types.SourceWHO, types.SourceNIH:
			if hours < 336 {
				hours = 336
			}
		}
	}
	return time.Duration(hours) * time.Hour
}

// NormalizeTerm lowercases, trims and collapses inner whitespace so that
// cosmetic variants of a term share a cache key.
func NormalizeTerm(term string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(term))), " ")
}

// Key derives the stable cache key for a term under a research configuration.
// fingerprint must already be canonical (see research.Config.Fingerprint);
// the term is normalized here, so Key(term, f) == Key(NormalizeTerm(term), f).
func Key(term, fingerprint string) string {
	h := sha256.Sum256([]byte(NormalizeTerm(term) + "\x00" + fingerprint))
	return hex.EncodeToString(h[:])
}

// compressMin is the smallest payload considered for compression, and
// compressMaxRatio the largest compressed/original ratio still worth storing.
const (
	compressMin      = 1024
	compressMaxRatio = 0.8
)

// Compress gzips data when it is at least 1 KiB and compression saves at
// least 20%. It returns the stored bytes and whether they are compressed.
func Compress(data []byte) ([]byte, bool) {
	if len(data) < compressMin {
		return data, false
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return data, false
	}
	if err := zw.Close(); err != nil {
		return data, false
	}
	if float64(buf.Len())/float64(len(data)) > compressMaxRatio {
		return data, false
	}
	return buf.Bytes(), true
}

// Decompress reverses [Compress] for stored bytes flagged as compressed.
func Decompress(stored []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return stored, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("researchcache: decompress: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("researchcache: decompress: %w", err)
	}
	return data, nil
}

// Meta carries the classification stored alongside a payload.
type Meta struct {
	ContentType  ContentType
	SourceTypes  []types.SourceType
	SourcesCount int
	Language     string
	Preset       string
	Quality      types.ResearchQuality
}

// Entry is one cached research payload with its retention and usage metadata.
// Payload is always returned decompressed.
type Entry struct {
	Key  string
	Term string // normalized

	Payload    []byte
	Compressed bool

	ContentType  ContentType
	SourceTypes  []types.SourceType
	SourcesCount int
	Language     string
	Preset       string
	Quality      types.ResearchQuality

	OriginalTTL time.Duration
	ExpiresAt   time.Time
	CreatedAt   time.Time

	LastAccessed    time.Time
	AccessCount     int
	HitsSinceUpdate int

	Valid              bool
	InvalidationReason string
	RefreshRequested   bool
	RefreshReason      string

	// Frequency is access_count divided by days since creation, recomputed
	// lazily when a read finds FrequencyCalculatedAt older than 24h.
	Frequency             float64
	FrequencyCalculatedAt time.Time
}

// Fresh reports whether the entry may be served at the given instant.
func (e *Entry) Fresh(now time.Time) bool {
	return e.Valid && now.Before(e.ExpiresAt)
}

// Cache is the research cache contract. All methods are safe for concurrent
// use; readers never block writers.
type Cache interface {
	// Lookup returns the fresh entry for (term, fingerprint) with its
	// access counters bumped, or ErrMiss.
	Lookup(ctx context.Context, term, fingerprint string) (*Entry, error)

	// Store computes the TTL from meta, compresses the payload when
	// worthwhile and upserts the entry, resetting validity and counters.
	Store(ctx context.Context, term, fingerprint string, payload []byte, meta Meta) (*Entry, error)

	// Invalidate marks the entry invalid with an audit reason. The entry is
	// not deleted; cleanup removes it once also expired.
	Invalidate(ctx context.Context, key, reason string) error

	// MarkForRefresh flags the entry for background recomputation without
	// affecting reads.
	MarkForRefresh(ctx context.Context, key, reason string) error

	// CleanupExpired deletes entries that are both expired and invalid,
	// returning how many were removed.
	CleanupExpired(ctx context.Context) (int, error)
}

// RecalcFrequency applies the lazy access-frequency rule: when at least 24h
// passed since the last calculation, frequency becomes access_count per day
// of entry lifetime. It reports whether the value was recomputed.
func RecalcFrequency(e *Entry, now time.Time) bool {
	if now.Sub(e.FrequencyCalculatedAt) < 24*time.Hour {
		return false
	}
	days := now.Sub(e.CreatedAt).Hours() / 24
	if days < 1 {
		days = 1
	}
	e.Frequency = float64(e.AccessCount) / days
	e.FrequencyCalculatedAt = now
	return true
}
