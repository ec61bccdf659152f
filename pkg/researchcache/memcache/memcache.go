// Package memcache provides an in-memory implementation of
// [researchcache.Cache] for tests and single-process deployments.
package memcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aulavox/aulavox/pkg/researchcache"
	"github.com/aulavox/aulavox/pkg/types"
)

var _ researchcache.Cache = (*MemCache)(nil)

// MemCache stores entries in a map guarded by a single mutex. Payloads are
// kept in their stored (possibly compressed) form and decompressed on the
// way out, mirroring the PostgreSQL implementation.
type MemCache struct {
	mu      sync.Mutex
	entries map[string]*record

	// Clock overrides the time source. Nil means time.Now.
	Clock func() time.Time
}

type record struct {
	entry  researchcache.Entry
	stored []byte
}

// NewMemCache returns an empty cache.
func NewMemCache() *MemCache {
	return &MemCache{entries: make(map[string]*record)}
}

func (m *MemCache) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

// Lookup implements [researchcache.Cache].
func (m *MemCache) Lookup(_ context.Context, term, fingerprint string) (*researchcache.Entry, error) {
	key := researchcache.Key(term, fingerprint)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.entries[key]
	if !ok || !rec.entry.Fresh(now) {
		return nil, fmt.Errorf("memcache: lookup %s: %w", key, researchcache.ErrMiss)
	}

	rec.entry.AccessCount++
	rec.entry.HitsSinceUpdate++
	rec.entry.LastAccessed = now
	researchcache.RecalcFrequency(&rec.entry, now)

	return cloneEntry(rec)
}

// Store implements [researchcache.Cache].
func (m *MemCache) Store(_ context.Context, term, fingerprint string, payload []byte, meta researchcache.Meta) (*researchcache.Entry, error) {
	key := researchcache.Key(term, fingerprint)
	stored, compressed := researchcache.Compress(payload)
	ttl := researchcache.TTLFor(meta.ContentType, meta.SourceTypes)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec := &record{
		entry: researchcache.Entry{
			Key:                   key,
			Term:                  researchcache.NormalizeTerm(term),
			Compressed:            compressed,
			ContentType:           meta.ContentType,
			SourceTypes:           append([]types.SourceType(nil), meta.SourceTypes...),
			SourcesCount:          meta.SourcesCount,
			Language:              meta.Language,
			Preset:                meta.Preset,
			Quality:               meta.Quality,
			OriginalTTL:           ttl,
			ExpiresAt:             now.Add(ttl),
			CreatedAt:             now,
			LastAccessed:          now,
			Valid:                 true,
			FrequencyCalculatedAt: now,
		},
		stored: append([]byte(nil), stored...),
	}
	m.entries[key] = rec

	return cloneEntry(rec)
}

// Invalidate implements [researchcache.Cache].
func (m *MemCache) Invalidate(_ context.Context, key, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("memcache: invalidate %s: %w", key, researchcache.ErrMiss)
	}
	rec.entry.Valid = false
	rec.entry.InvalidationReason = reason
	return nil
}

// MarkForRefresh implements [researchcache.Cache].
func (m *MemCache) MarkForRefresh(_ context.Context, key, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("memcache: mark for refresh %s: %w", key, researchcache.ErrMiss)
	}
	rec.entry.RefreshRequested = true
	rec.entry.RefreshReason = reason
	return nil
}

// CleanupExpired implements [researchcache.Cache].
func (m *MemCache) CleanupExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, rec := range m.entries {
		if now.After(rec.entry.ExpiresAt) && !rec.entry.Valid {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of entries currently held, expired or not.
func (m *MemCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func cloneEntry(rec *record) (*researchcache.Entry, error) {
	out := rec.entry
	out.SourceTypes = append([]types.SourceType(nil), rec.entry.SourceTypes...)
	payload, err := researchcache.Decompress(rec.stored, rec.entry.Compressed)
	if err != nil {
		return nil, fmt.Errorf("memcache: decompress: %w", err)
	}
	out.Payload = payload
	return &out, nil
}
