// Package pgcache provides the PostgreSQL-backed implementation of
// [researchcache.Cache]. The cache owns its table and pool: it is a
// process-wide store independent of the entity store's lifecycle.
package pgcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aulavox/aulavox/pkg/researchcache"
)

var _ researchcache.Cache = (*Cache)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS research_cache (
    cache_key               TEXT             PRIMARY KEY,
    term                    TEXT             NOT NULL,
    payload                 BYTEA            NOT NULL,
    is_compressed           BOOLEAN          NOT NULL DEFAULT FALSE,
    content_type            TEXT             NOT NULL DEFAULT 'general',
    source_types            JSONB            NOT NULL DEFAULT '[]',
    sources_count           INT              NOT NULL DEFAULT 0,
    language                TEXT             NOT NULL DEFAULT '',
    preset                  TEXT             NOT NULL DEFAULT '',
    quality                 JSONB            NOT NULL DEFAULT '{}',
    original_ttl_sec        BIGINT           NOT NULL DEFAULT 0,
    expires_at              TIMESTAMPTZ      NOT NULL,
    created_at              TIMESTAMPTZ      NOT NULL DEFAULT now(),
    last_accessed           TIMESTAMPTZ      NOT NULL DEFAULT now(),
    access_count            INT              NOT NULL DEFAULT 0,
    hits_since_update       INT              NOT NULL DEFAULT 0,
    is_valid                BOOLEAN          NOT NULL DEFAULT TRUE,
    invalidation_reason     TEXT             NOT NULL DEFAULT '',
    refresh_requested       BOOLEAN          NOT NULL DEFAULT FALSE,
    refresh_reason          TEXT             NOT NULL DEFAULT '',
    frequency               DOUBLE PRECISION NOT NULL DEFAULT 0,
    frequency_calculated_at TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_research_cache_expires
    ON research_cache (expires_at);
`

// Cache is the PostgreSQL research cache. All methods are safe for concurrent
// use; lookups bump counters with a single conditional UPDATE so readers
// never block writers.
type Cache struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn and ensures the cache table exists.
func New(ctx context.Context, dsn string) (*Cache, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgcache: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgcache: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgcache: migrate: %w", err)
	}
	return &Cache{pool: pool}, nil
}

// Ping verifies the database connection is alive.
func (c *Cache) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }

// Close releases the connection pool.
func (c *Cache) Close() { c.pool.Close() }

const entryColumns = `
	    cache_key, term, payload, is_compressed, content_type, source_types,
	    sources_count, language, preset, quality, original_ttl_sec,
	    expires_at, created_at, last_accessed, access_count, hits_since_update,
	    is_valid, invalidation_reason, refresh_requested, refresh_reason,
	    frequency, frequency_calculated_at`

// Lookup implements [researchcache.Cache]. Counter bumps and the freshness
// check happen in one statement, so a concurrent Store simply wins or loses
// the row version race without blocking.
func (c *Cache) Lookup(ctx context.Context, term, fingerprint string) (*researchcache.Entry, error) {
	key := researchcache.Key(term, fingerprint)

	const q = `
		UPDATE research_cache
		SET    access_count      = access_count + 1,
		       hits_since_update = hits_since_update + 1,
		       last_accessed     = now()
		WHERE  cache_key = $1
		  AND  is_valid
		  AND  expires_at > now()
		RETURNING` + entryColumns

	entry, err := scanEntry(c.pool.QueryRow(ctx, q, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pgcache: lookup %s: %w", key, researchcache.ErrMiss)
		}
		return nil, fmt.Errorf("pgcache: lookup: %w", err)
	}

	if researchcache.RecalcFrequency(entry, time.Now()) {
		const fq = `
			UPDATE research_cache
			SET    frequency = $2, frequency_calculated_at = $3
			WHERE  cache_key = $1`
		if _, err := c.pool.Exec(ctx, fq, key, entry.Frequency, entry.FrequencyCalculatedAt); err != nil {
			return nil, fmt.Errorf("pgcache: lookup: frequency: %w", err)
		}
	}
	return entry, nil
}

// Store implements [researchcache.Cache]. Upserting an existing key renews
// the entry completely: validity restored, counters reset, creation time
// refreshed.
func (c *Cache) Store(ctx context.Context, term, fingerprint string, payload []byte, meta researchcache.Meta) (*researchcache.Entry, error) {
	key := researchcache.Key(term, fingerprint)
	stored, compressed := researchcache.Compress(payload)
	ttl := researchcache.TTLFor(meta.ContentType, meta.SourceTypes)

	sourceTypes, err := json.Marshal(meta.SourceTypes)
	if err != nil {
		return nil, fmt.Errorf("pgcache: marshal source types: %w", err)
	}
	quality, err := json.Marshal(meta.Quality)
	if err != nil {
		return nil, fmt.Errorf("pgcache: marshal quality: %w", err)
	}

	const q = `
		INSERT INTO research_cache
		    (cache_key, term, payload, is_compressed, content_type, source_types,
		     sources_count, language, preset, quality, original_ttl_sec, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now() + ($11 * interval '1 second'))
		ON CONFLICT (cache_key) DO UPDATE SET
		    term                    = EXCLUDED.term,
		    payload                 = EXCLUDED.payload,
		    is_compressed           = EXCLUDED.is_compressed,
		    content_type            = EXCLUDED.content_type,
		    source_types            = EXCLUDED.source_types,
		    sources_count           = EXCLUDED.sources_count,
		    language                = EXCLUDED.language,
		    preset                  = EXCLUDED.preset,
		    quality                 = EXCLUDED.quality,
		    original_ttl_sec        = EXCLUDED.original_ttl_sec,
		    expires_at              = EXCLUDED.expires_at,
		    created_at              = now(),
		    last_accessed           = now(),
		    access_count            = 0,
		    hits_since_update       = 0,
		    is_valid                = TRUE,
		    invalidation_reason     = '',
		    refresh_requested       = FALSE,
		    refresh_reason          = '',
		    frequency               = 0,
		    frequency_calculated_at = now()
		RETURNING` + entryColumns

	entry, err := scanEntry(c.pool.QueryRow(ctx, q,
		key,
		researchcache.NormalizeTerm(term),
		stored,
		compressed,
		string(meta.ContentType),
		sourceTypes,
		meta.SourcesCount,
		meta.Language,
		meta.Preset,
		quality,
		int64(ttl.Seconds()),
	))
	if err != nil {
		return nil, fmt.Errorf("pgcache: store: %w", err)
	}
	return entry, nil
}

// Invalidate implements [researchcache.Cache].
func (c *Cache) Invalidate(ctx context.Context, key, reason string) error {
	const q = `
		UPDATE research_cache
		SET    is_valid = FALSE, invalidation_reason = $2
		WHERE  cache_key = $1`

	tag, err := c.pool.Exec(ctx, q, key, reason)
	if err != nil {
		return fmt.Errorf("pgcache: invalidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgcache: invalidate %s: %w", key, researchcache.ErrMiss)
	}
	return nil
}

// MarkForRefresh implements [researchcache.Cache].
func (c *Cache) MarkForRefresh(ctx context.Context, key, reason string) error {
	const q = `
		UPDATE research_cache
		SET    refresh_requested = TRUE, refresh_reason = $2
		WHERE  cache_key = $1`

	tag, err := c.pool.Exec(ctx, q, key, reason)
	if err != nil {
		return fmt.Errorf("pgcache: mark for refresh: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgcache: mark for refresh %s: %w", key, researchcache.ErrMiss)
	}
	return nil
}

// CleanupExpired implements [researchcache.Cache]. Only entries that are both
// expired and invalidated are removed; expired-but-valid entries stay for
// forensic value until someone invalidates them.
func (c *Cache) CleanupExpired(ctx context.Context) (int, error) {
	const q = `DELETE FROM research_cache WHERE expires_at < now() AND NOT is_valid`

	tag, err := c.pool.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("pgcache: cleanup expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanEntry scans one research_cache row and decompresses the payload.
func scanEntry(row pgx.Row) (*researchcache.Entry, error) {
	var (
		e           researchcache.Entry
		stored      []byte
		sourceTypes []byte
		quality     []byte
		ttlSec      int64
	)
	err := row.Scan(
		&e.Key,
		&e.Term,
		&stored,
		&e.Compressed,
		&e.ContentType,
		&sourceTypes,
		&e.SourcesCount,
		&e.Language,
		&e.Preset,
		&quality,
		&ttlSec,
		&e.ExpiresAt,
		&e.CreatedAt,
		&e.LastAccessed,
		&e.AccessCount,
		&e.HitsSinceUpdate,
		&e.Valid,
		&e.InvalidationReason,
		&e.RefreshRequested,
		&e.RefreshReason,
		&e.Frequency,
		&e.FrequencyCalculatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sourceTypes, &e.SourceTypes); err != nil {
		return nil, fmt.Errorf("decode source types: %w", err)
	}
	if err := json.Unmarshal(quality, &e.Quality); err != nil {
		return nil, fmt.Errorf("decode quality: %w", err)
	}
	e.OriginalTTL = time.Duration(ttlSec) * time.Second
	e.Payload, err = researchcache.Decompress(stored, e.Compressed)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
