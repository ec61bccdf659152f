package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// UploadStore
// ─────────────────────────────────────────────────────────────────────────────

// chunkRecord is the JSONB shape of one received chunk. Keys of the chunks
// object are decimal chunk numbers.
type chunkRecord struct {
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	ReceivedAt time.Time `json:"received_at"`
}

// CreateUploadSession implements [store.UploadStore]. The one-active-session
// rule is enforced by a partial unique index over non-terminal states.
func (s *Store) CreateUploadSession(ctx context.Context, us *types.UploadSession) error {
	chunksJSON, err := marshalChunks(us.Chunks)
	if err != nil {
		return fmt.Errorf("upload sessions: marshal chunks: %w", err)
	}

	const q = `
		INSERT INTO upload_sessions
		    (id, class_session_id, original_filename, sanitized_filename, content_type,
		     total_size, chunk_size, expected_chunks, expected_checksum,
		     state, chunks, final_url, last_error, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())`

	_, err = s.pool.Exec(ctx, q,
		us.ID,
		us.ClassSessionID,
		us.OriginalFilename,
		us.SanitizedFilename,
		us.ContentType,
		us.TotalSize,
		us.ChunkSize,
		us.ExpectedChunks,
		us.ExpectedChecksum,
		string(us.State),
		chunksJSON,
		us.FinalURL,
		us.LastError,
		us.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("upload sessions: create for class session %s: %w", us.ClassSessionID, store.ErrDuplicate)
		}
		return fmt.Errorf("upload sessions: create: %w", err)
	}
	return nil
}

// GetUploadSession implements [store.UploadStore].
func (s *Store) GetUploadSession(ctx context.Context, id string) (*types.UploadSession, error) {
	const q = uploadSelect + ` WHERE id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	us, err := scanUploadSession(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("upload sessions: get %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("upload sessions: get: %w", err)
	}
	return us, nil
}

// ActiveUploadSessionFor implements [store.UploadStore].
func (s *Store) ActiveUploadSessionFor(ctx context.Context, classSessionID string) (*types.UploadSession, error) {
	const q = uploadSelect + `
		WHERE class_session_id = $1
		  AND state IN ('INITIATED', 'UPLOADING', 'VALIDATING', 'ASSEMBLING')`

	row := s.pool.QueryRow(ctx, q, classSessionID)
	us, err := scanUploadSession(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("upload sessions: active for %s: %w", classSessionID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("upload sessions: active for %s: %w", classSessionID, err)
	}
	return us, nil
}

// RecordChunk implements [store.UploadStore]. The chunk map update is a
// conditional JSONB set that only applies when the chunk number is absent, so
// concurrent duplicates of the same chunk race safely: exactly one wins and
// the rest report duplicate without overwriting anything. The audit row is
// written in the same transaction as the winning update.
func (s *Store) RecordChunk(ctx context.Context, sessionID string, chunkNumber int, info types.ChunkInfo, audit types.ChunkUpload) (added bool, err error) {
	recJSON, err := json.Marshal(chunkRecord{
		Size:       info.Size,
		Checksum:   info.Checksum,
		ReceivedAt: info.ReceivedAt,
	})
	if err != nil {
		return false, fmt.Errorf("upload sessions: marshal chunk record: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("upload sessions: record chunk: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	key := strconv.Itoa(chunkNumber)

	const upd = `
		UPDATE upload_sessions
		SET    chunks     = jsonb_set(chunks, ARRAY[$2::text], $3::jsonb),
		       updated_at = now()
		WHERE  id = $1
		  AND  NOT (chunks ? $2::text)`

	tag, err := tx.Exec(ctx, upd, sessionID, key, recJSON)
	if err != nil {
		return false, fmt.Errorf("upload sessions: record chunk: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Either the session is gone or the chunk already exists.
		var present bool
		err := tx.QueryRow(ctx, `SELECT chunks ? $2::text FROM upload_sessions WHERE id = $1`, sessionID, key).Scan(&present)
		if err != nil {
			if isNoRows(err) {
				return false, fmt.Errorf("upload sessions: record chunk %s: %w", sessionID, store.ErrNotFound)
			}
			return false, fmt.Errorf("upload sessions: record chunk: %w", err)
		}
		if present {
			return false, tx.Commit(ctx)
		}
		return false, fmt.Errorf("upload sessions: record chunk %s/%d: lost conditional update", sessionID, chunkNumber)
	}

	const ins = `
		INSERT INTO chunk_uploads
		    (id, upload_session_id, chunk_number, size_bytes, checksum, storage_key, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = tx.Exec(ctx, ins,
		audit.ID,
		audit.UploadSessionID,
		audit.ChunkNumber,
		audit.Size,
		audit.Checksum,
		audit.StorageKey,
		audit.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upload sessions: record chunk audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("upload sessions: record chunk: commit: %w", err)
	}
	return true, nil
}

// SetUploadExpectedChunks implements [store.UploadStore].
func (s *Store) SetUploadExpectedChunks(ctx context.Context, sessionID string, n int) error {
	const q = `
		UPDATE upload_sessions
		SET    expected_chunks = $2,
		       updated_at      = now()
		WHERE  id = $1`
	return s.execOne(ctx, "upload sessions: set expected chunks", q, sessionID, n)
}

// SetUploadState implements [store.UploadStore].
func (s *Store) SetUploadState(ctx context.Context, sessionID string, state types.UploadState, lastError string) error {
	const q = `
		UPDATE upload_sessions
		SET    state      = $2,
		       last_error = $3,
		       updated_at = now()
		WHERE  id = $1`
	return s.execOne(ctx, "upload sessions: set state", q, sessionID, string(state), lastError)
}

// CompleteUpload implements [store.UploadStore].
func (s *Store) CompleteUpload(ctx context.Context, sessionID, finalURL string) error {
	const q = `
		UPDATE upload_sessions
		SET    state      = 'COMPLETED',
		       final_url  = $2,
		       last_error = '',
		       updated_at = now()
		WHERE  id = $1`
	return s.execOne(ctx, "upload sessions: complete", q, sessionID, finalURL)
}

// ListExpiredUploadSessions implements [store.UploadStore].
func (s *Store) ListExpiredUploadSessions(ctx context.Context, now time.Time, limit int) ([]*types.UploadSession, error) {
	const q = uploadSelect + `
		WHERE state IN ('INITIATED', 'UPLOADING', 'VALIDATING', 'ASSEMBLING')
		  AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("upload sessions: list expired: %w", err)
	}
	defer rows.Close()

	var sessions []*types.UploadSession
	for rows.Next() {
		us, err := scanUploadSession(rows)
		if err != nil {
			return nil, fmt.Errorf("upload sessions: list expired: %w", err)
		}
		sessions = append(sessions, us)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("upload sessions: list expired: %w", err)
	}
	return sessions, nil
}

const uploadSelect = `
		SELECT id, class_session_id, original_filename, sanitized_filename, content_type,
		       total_size, chunk_size, expected_chunks, expected_checksum,
		       state, chunks, final_url, last_error, expires_at, created_at, updated_at
		FROM   upload_sessions`

// scanUploadSession scans one upload_sessions row, decoding the JSONB chunk
// map back into 1-based integer keys.
func scanUploadSession(row pgx.Row) (*types.UploadSession, error) {
	var (
		us         types.UploadSession
		chunksJSON []byte
	)
	err := row.Scan(
		&us.ID,
		&us.ClassSessionID,
		&us.OriginalFilename,
		&us.SanitizedFilename,
		&us.ContentType,
		&us.TotalSize,
		&us.ChunkSize,
		&us.ExpectedChunks,
		&us.ExpectedChecksum,
		&us.State,
		&chunksJSON,
		&us.FinalURL,
		&us.LastError,
		&us.ExpiresAt,
		&us.CreatedAt,
		&us.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	var raw map[string]chunkRecord
	if err := json.Unmarshal(chunksJSON, &raw); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	us.Chunks = make(map[int]types.ChunkInfo, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("decode chunks: bad chunk key %q", k)
		}
		us.Chunks[n] = types.ChunkInfo{Size: v.Size, Checksum: v.Checksum, ReceivedAt: v.ReceivedAt}
	}
	return &us, nil
}

// marshalChunks encodes a chunk map as the JSONB object stored in the chunks
// column.
func marshalChunks(chunks map[int]types.ChunkInfo) ([]byte, error) {
	raw := make(map[string]chunkRecord, len(chunks))
	for n, c := range chunks {
		raw[strconv.Itoa(n)] = chunkRecord{Size: c.Size, Checksum: c.Checksum, ReceivedAt: c.ReceivedAt}
	}
	return json.Marshal(raw)
}
