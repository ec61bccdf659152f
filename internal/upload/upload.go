// Package upload implements the chunked upload subsystem: session creation,
// idempotent chunk ingestion, streaming assembly with checksum verification,
// status projection and expiry cleanup.
//
// A recording arrives as a sequence of 1-based chunks persisted individually
// to the object store under uploads/{class_session}/chunks/. Once every
// expected chunk is present the session is assembled: chunks are concatenated
// in ascending order through a scratch file, verified, and promoted to the
// immutable recording object the pipeline consumes. At most one active
// session exists per class session; pkg/store enforces the rule and this
// package translates its sentinels into classified errors.
package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aulavox/aulavox/pkg/blob"
	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/types"
)

const (
	// DefaultSessionTTL is how long a session may stay active before the
	// expiry sweep reclaims it.
	DefaultSessionTTL = 24 * time.Hour

	// DefaultChunkSize is assumed when the client does not declare one.
	DefaultChunkSize = 10 << 20

	// DefaultMaxChunkBytes caps a single chunk body.
	DefaultMaxChunkBytes = 64 << 20

	// speedSmoothing is the EMA weight of the newest throughput sample.
	speedSmoothing = 0.3

	chunkContentType = "application/octet-stream"
)

// Store is the persistence slice the manager depends on.
type Store interface {
	store.UploadStore

	GetClassSession(ctx context.Context, id string) (*types.ClassSession, error)
	SetSessionAudio(ctx context.Context, id, audioURL string) error
}

// Manager coordinates chunked upload sessions. All methods are safe for
// concurrent use.
type Manager struct {
	store Store
	blobs blob.Store

	ttl        time.Duration
	maxChunk   int64
	scratchDir string
	now        func() time.Time

	mu     sync.Mutex
	speeds map[string]*speedTracker
}

// Option customises a Manager.
type Option func(*Manager)

// WithSessionTTL overrides the default 24h session lifetime.
func WithSessionTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithMaxChunkBytes overrides the per-chunk size cap.
func WithMaxChunkBytes(n int64) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxChunk = n
		}
	}
}

// WithScratchDir places assembly scratch files in dir instead of the system
// temp directory.
func WithScratchDir(dir string) Option {
	return func(m *Manager) {
		if dir != "" {
			m.scratchDir = dir
		}
	}
}

// WithClock substitutes the time source. Tests use it to drive expiry and
// throughput measurements deterministically.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New builds a Manager over the given persistence and object stores.
func New(st Store, blobs blob.Store, opts ...Option) (*Manager, error) {
	if st == nil {
		return nil, types.Errorf(types.KindConfiguration, "upload: store is nil")
	}
	if blobs == nil {
		return nil, types.Errorf(types.KindConfiguration, "upload: blob store is nil")
	}
	m := &Manager{
		store:    st,
		blobs:    blobs,
		ttl:      DefaultSessionTTL,
		maxChunk: DefaultMaxChunkBytes,
		now:      time.Now,
		speeds:   make(map[string]*speedTracker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateRequest carries the parameters of a new upload session.
type CreateRequest struct {
	ClassSessionID string
	Filename       string
	ContentType    string

	// TotalSize is the declared byte size of the whole file; zero when the
	// client does not know it upfront.
	TotalSize int64

	// ChunkSize is the client's chunk size in bytes; DefaultChunkSize when
	// zero. The last chunk may be smaller.
	ChunkSize int64

	// Checksum is the optional MD5 hex digest of the assembled file. When
	// present, assembly verifies the concatenation against it.
	Checksum string
}

// CreateSession opens a chunked upload session for a class session. The
// parent must exist and must not already have an active session. When
// TotalSize is declared the expected chunk count is derived immediately;
// otherwise the first UploadChunk call carrying a total fixes it.
func (m *Manager) CreateSession(ctx context.Context, req CreateRequest) (*types.UploadSession, error) {
	if req.ClassSessionID == "" {
		return nil, types.Errorf(types.KindValidation, "upload: class session id is empty")
	}
	if strings.TrimSpace(req.Filename) == "" {
		return nil, types.Errorf(types.KindValidation, "upload: filename is empty")
	}
	if req.TotalSize < 0 {
		return nil, types.Errorf(types.KindValidation, "upload: negative total size %d", req.TotalSize)
	}
	checksum, err := normalizeMD5(req.Checksum)
	if err != nil {
		return nil, err
	}
	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < 0 || chunkSize > m.maxChunk {
		return nil, types.Errorf(types.KindValidation, "upload: chunk size %d outside (0, %d]", chunkSize, m.maxChunk)
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = chunkContentType
	}

	if _, err := m.store.GetClassSession(ctx, req.ClassSessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, types.WithKind(types.KindNotFound, fmt.Errorf("upload: class session %s: %w", req.ClassSessionID, err))
		}
		return nil, types.WithKind(types.KindTransient, err)
	}

	now := m.now()
	us := &types.UploadSession{
		ID:                uuid.NewString(),
		ClassSessionID:    req.ClassSessionID,
		OriginalFilename:  req.Filename,
		SanitizedFilename: sanitizeFilename(req.Filename),
		ContentType:       contentType,
		TotalSize:         req.TotalSize,
		ChunkSize:         chunkSize,
		ExpectedChecksum:  checksum,
		State:             types.UploadInitiated,
		Chunks:            make(map[int]types.ChunkInfo),
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(m.ttl),
	}
	if req.TotalSize > 0 {
		us.ExpectedChunks = int((req.TotalSize + chunkSize - 1) / chunkSize)
	}

	if err := m.store.CreateUploadSession(ctx, us); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, types.WithKind(types.KindInvalidState,
				fmt.Errorf("upload: class session %s already has an active upload session: %w", req.ClassSessionID, err))
		}
		return nil, types.WithKind(types.KindTransient, err)
	}
	return us, nil
}

// UploadChunk ingests one chunk body. Chunk numbers are 1-based. Receiving a
// number that was already stored is an idempotent replay: the receipt comes
// back with status duplicate and nothing is overwritten. declaredTotal, when
// positive, fixes the expected chunk count of a session created without a
// total size; a contradicting total is rejected.
func (m *Manager) UploadChunk(ctx context.Context, sessionID string, chunkNumber int, body io.Reader, declaredTotal int) (*types.ChunkReceipt, error) {
	us, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if us.Expired(m.now()) {
		return nil, m.expire(ctx, us)
	}
	if us.State.Terminal() {
		return nil, types.Errorf(types.KindInvalidState, "upload: session %s is %s", sessionID, us.State)
	}
	if chunkNumber < 1 {
		return nil, types.Errorf(types.KindValidation, "upload: chunk number %d, want >= 1", chunkNumber)
	}
	if declaredTotal > 0 {
		switch {
		case us.ExpectedChunks == 0:
			if err := m.store.SetUploadExpectedChunks(ctx, sessionID, declaredTotal); err != nil {
				return nil, types.WithKind(types.KindTransient, err)
			}
			us.ExpectedChunks = declaredTotal
		case declaredTotal != us.ExpectedChunks:
			return nil, types.Errorf(types.KindValidation, "upload: declared total %d contradicts expected %d", declaredTotal, us.ExpectedChunks)
		}
	}
	if us.ExpectedChunks > 0 && chunkNumber > us.ExpectedChunks {
		return nil, types.Errorf(types.KindValidation, "upload: chunk number %d exceeds expected %d", chunkNumber, us.ExpectedChunks)
	}

	if _, dup := us.Chunks[chunkNumber]; dup {
		return m.receipt(us, chunkNumber, types.ChunkDuplicate), nil
	}

	data, err := readChunk(body, m.maxChunk)
	if err != nil {
		return nil, err
	}

	key := blob.ChunkKey(us.ClassSessionID, chunkNumber)
	sum := md5.Sum(data)
	receivedAt := m.now()
	_, err = m.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), chunkContentType, map[string]string{
		"upload_session": sessionID,
		"chunk_number":   strconv.Itoa(chunkNumber),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		return nil, types.WithKind(types.KindTransient, fmt.Errorf("upload: store chunk %d: %w", chunkNumber, err))
	}

	info := types.ChunkInfo{
		Size:       int64(len(data)),
		Checksum:   hex.EncodeToString(sum[:]),
		ReceivedAt: receivedAt,
	}
	audit := types.ChunkUpload{
		ID:              uuid.NewString(),
		UploadSessionID: sessionID,
		ChunkNumber:     chunkNumber,
		Size:            info.Size,
		Checksum:        info.Checksum,
		StorageKey:      key,
		ReceivedAt:      receivedAt,
	}
	added, err := m.store.RecordChunk(ctx, sessionID, chunkNumber, info, audit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, types.WithKind(types.KindNotFound, err)
		}
		return nil, types.WithKind(types.KindTransient, err)
	}

	fresh, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !added {
		// Lost a replay race; the first write of this number stands. The
		// recorded checksum is authoritative and assembly verifies against it.
		return m.receipt(fresh, chunkNumber, types.ChunkDuplicate), nil
	}
	if us.State == types.UploadInitiated {
		if err := m.store.SetUploadState(ctx, sessionID, types.UploadUploading, ""); err != nil {
			return nil, types.WithKind(types.KindTransient, err)
		}
		fresh.State = types.UploadUploading
	}
	m.observeChunk(sessionID, info.Size, receivedAt)
	return m.receipt(fresh, chunkNumber, types.ChunkReceived), nil
}

// GetStatus projects the session for status polling. A session past its
// deadline is lazily transitioned to EXPIRED here.
func (m *Manager) GetStatus(ctx context.Context, sessionID string) (*types.UploadStatus, error) {
	us, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if us.Expired(m.now()) {
		if err := m.store.SetUploadState(ctx, sessionID, types.UploadExpired, "session expired"); err != nil {
			return nil, types.WithKind(types.KindTransient, err)
		}
		us.State = types.UploadExpired
		us.LastError = "session expired"
		m.dropSpeed(sessionID)
	}
	bps := m.currentSpeed(sessionID)
	return &types.UploadStatus{
		SessionID:     us.ID,
		State:         us.State,
		Received:      len(us.Chunks),
		Expected:      us.ExpectedChunks,
		Pct:           progressPct(us),
		BytesUploaded: us.BytesUploaded(),
		SpeedBps:      bps,
		ETASeconds:    etaSeconds(us, bps),
		MissingChunks: us.MissingChunks(),
		FinalURL:      us.FinalURL,
		LastError:     us.LastError,
		ExpiresAt:     us.ExpiresAt,
	}, nil
}

// Cancel aborts an active session and removes its staged chunks. cancelled is
// false when the session was already terminal; cancelling twice is a no-op.
func (m *Manager) Cancel(ctx context.Context, sessionID string) (cancelled bool, err error) {
	us, err := m.getSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if us.State.Terminal() {
		return false, nil
	}
	if err := m.store.SetUploadState(ctx, sessionID, types.UploadCancelled, ""); err != nil {
		return false, types.WithKind(types.KindTransient, err)
	}
	m.dropSpeed(sessionID)
	m.removeChunks(ctx, us.ClassSessionID)
	return true, nil
}

// CleanupExpired marks overdue sessions EXPIRED and removes their staged
// chunks, up to limit per sweep. It returns the number of sessions cleaned.
// Chunk removal is best effort; objects that survive a failed delete are
// caught by the bucket lifecycle rule on the uploads/ prefix.
func (m *Manager) CleanupExpired(ctx context.Context, limit int) (int, error) {
	sessions, err := m.store.ListExpiredUploadSessions(ctx, m.now(), limit)
	if err != nil {
		return 0, types.WithKind(types.KindTransient, err)
	}
	cleaned := 0
	for _, us := range sessions {
		if err := m.store.SetUploadState(ctx, us.ID, types.UploadExpired, "session expired"); err != nil {
			return cleaned, types.WithKind(types.KindTransient, err)
		}
		m.dropSpeed(us.ID)
		m.removeChunks(ctx, us.ClassSessionID)
		cleaned++
	}
	return cleaned, nil
}

func (m *Manager) getSession(ctx context.Context, id string) (*types.UploadSession, error) {
	us, err := m.store.GetUploadSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, types.WithKind(types.KindNotFound, err)
		}
		return nil, types.WithKind(types.KindTransient, err)
	}
	return us, nil
}

// expire marks an overdue session EXPIRED and returns the terminal error the
// caller surfaces.
func (m *Manager) expire(ctx context.Context, us *types.UploadSession) error {
	if err := m.store.SetUploadState(ctx, us.ID, types.UploadExpired, "session expired"); err != nil {
		return types.WithKind(types.KindTransient, err)
	}
	us.State = types.UploadExpired
	m.dropSpeed(us.ID)
	return types.Errorf(types.KindInvalidState, "upload: session %s expired at %s", us.ID, us.ExpiresAt.UTC().Format(time.RFC3339))
}

// removeChunks deletes every staged chunk object of a class session. Failures
// are logged, not returned.
func (m *Manager) removeChunks(ctx context.Context, classSessionID string) {
	prefix := blob.ChunkPrefix(classSessionID)
	keys, err := m.blobs.List(ctx, prefix)
	if err != nil {
		slog.Warn("chunk cleanup: list failed", "prefix", prefix, "error", err)
		return
	}
	for _, key := range keys {
		if err := m.blobs.Delete(ctx, key); err != nil {
			slog.Warn("chunk cleanup: delete failed", "key", key, "error", err)
		}
	}
}

func readChunk(body io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, max+1))
	if err != nil {
		return nil, types.WithKind(types.KindTransient, fmt.Errorf("upload: read chunk body: %w", err))
	}
	if len(data) == 0 {
		return nil, types.Errorf(types.KindValidation, "upload: empty chunk body")
	}
	if int64(len(data)) > max {
		return nil, types.Errorf(types.KindValidation, "upload: chunk exceeds %d byte limit", max)
	}
	return data, nil
}

func normalizeMD5(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	s = strings.ToLower(strings.TrimSpace(s))
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != md5.Size {
		return "", types.Errorf(types.KindValidation, "upload: %q is not an MD5 hex digest", s)
	}
	return s, nil
}

func (m *Manager) receipt(us *types.UploadSession, chunkNumber int, status types.ChunkStatus) *types.ChunkReceipt {
	bps := m.currentSpeed(us.ID)
	return &types.ChunkReceipt{
		Status:        status,
		ChunkNumber:   chunkNumber,
		Received:      len(us.Chunks),
		Expected:      us.ExpectedChunks,
		Pct:           progressPct(us),
		Complete:      us.ExpectedChunks > 0 && len(us.Chunks) >= us.ExpectedChunks,
		BytesUploaded: us.BytesUploaded(),
		SpeedBps:      bps,
		ETASeconds:    etaSeconds(us, bps),
	}
}

// progressPct favours byte accuracy when the client declared a total size and
// falls back to chunk counting. The result is in [0, 100].
func progressPct(us *types.UploadSession) float64 {
	switch {
	case us.TotalSize > 0:
		return math.Min(float64(us.BytesUploaded())/float64(us.TotalSize)*100, 100)
	case us.ExpectedChunks > 0:
		return float64(len(us.Chunks)) / float64(us.ExpectedChunks) * 100
	default:
		return 0
	}
}

// etaSeconds estimates remaining upload time from the current throughput.
// Zero means unknown: no measurable speed yet or no way to size the remainder.
func etaSeconds(us *types.UploadSession, bps float64) float64 {
	if bps <= 0 {
		return 0
	}
	var remaining int64
	switch {
	case us.TotalSize > 0:
		remaining = us.TotalSize - us.BytesUploaded()
	case us.ExpectedChunks > 0 && us.ChunkSize > 0:
		remaining = int64(us.ExpectedChunks-len(us.Chunks)) * us.ChunkSize
	}
	if remaining <= 0 {
		return 0
	}
	return float64(remaining) / bps
}

// speedTracker holds the per-session throughput EMA. The first chunk only
// arms the timer; speed becomes measurable from the second chunk on.
type speedTracker struct {
	lastAt time.Time
	bps    float64
}

func (m *Manager) observeChunk(sessionID string, size int64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.speeds[sessionID]
	if !ok {
		m.speeds[sessionID] = &speedTracker{lastAt: at}
		return
	}
	dt := at.Sub(t.lastAt).Seconds()
	if dt <= 0 {
		dt = time.Millisecond.Seconds()
	}
	inst := float64(size) / dt
	if t.bps == 0 {
		t.bps = inst
	} else {
		t.bps = speedSmoothing*inst + (1-speedSmoothing)*t.bps
	}
	t.lastAt = at
}

func (m *Manager) currentSpeed(sessionID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.speeds[sessionID]; ok {
		return t.bps
	}
	return 0
}

func (m *Manager) dropSpeed(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.speeds, sessionID)
}
