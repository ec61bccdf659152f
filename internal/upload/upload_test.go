package upload_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aulavox/aulavox/internal/upload"
	"github.com/aulavox/aulavox/pkg/blob"
	"github.com/aulavox/aulavox/pkg/blob/memblob"
	"github.com/aulavox/aulavox/pkg/store"
	"github.com/aulavox/aulavox/pkg/store/memstore"
	"github.com/aulavox/aulavox/pkg/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type env struct {
	mgr   *upload.Manager
	store *memstore.MemStore
	blobs *memblob.Store
	clock *fakeClock
}

func newEnv(t *testing.T, opts ...upload.Option) *env {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	st := memstore.NewMemStore()
	blobs := memblob.New("test")
	opts = append([]upload.Option{upload.WithClock(clock.Now)}, opts...)
	mgr, err := upload.New(st, blobs, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &env{mgr: mgr, store: st, blobs: blobs, clock: clock}
}

func (e *env) seedClass(t *testing.T, id string) {
	t.Helper()
	err := e.store.CreateClassSession(context.Background(), &types.ClassSession{
		ID:            id,
		Subject:       "Cardiologia",
		Topic:         "Scompenso cardiaco",
		Language:      "it",
		PipelineState: types.StateUploaded,
	})
	if err != nil {
		t.Fatalf("seed class session: %v", err)
	}
}

func (e *env) create(t *testing.T, req upload.CreateRequest) *types.UploadSession {
	t.Helper()
	us, err := e.mgr.CreateSession(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return us
}

func (e *env) upload(t *testing.T, sessionID string, n int, data []byte) *types.ChunkReceipt {
	t.Helper()
	r, err := e.mgr.UploadChunk(context.Background(), sessionID, n, bytes.NewReader(data), 0)
	if err != nil {
		t.Fatalf("UploadChunk(%d): %v", n, err)
	}
	return r
}

// defaultRequest declares a 25-byte file split into 10-byte chunks, so three
// chunks of 10/10/5 bytes complete it.
func defaultRequest(classSessionID string) upload.CreateRequest {
	return upload.CreateRequest{
		ClassSessionID: classSessionID,
		Filename:       "lezione cardiologia 03.wav",
		ContentType:    "audio/wav",
		TotalSize:      25,
		ChunkSize:      10,
	}
}

var (
	chunkA = []byte("aaaaaaaaaa")
	chunkB = []byte("bbbbbbbbbb")
	chunkC = []byte("ccccc")
)

func wantKind(t *testing.T, err error, kind types.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("want %v error, got nil", kind)
	}
	if got := types.Classify(err); got != kind {
		t.Fatalf("error kind = %v, want %v (err: %v)", got, kind, err)
	}
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")

	us := e.create(t, defaultRequest("cs-1"))

	if us.ID == "" {
		t.Error("session ID is empty")
	}
	if us.State != types.UploadInitiated {
		t.Errorf("state = %s, want INITIATED", us.State)
	}
	if us.SanitizedFilename != "lezione_cardiologia_03.wav" {
		t.Errorf("sanitized filename = %q", us.SanitizedFilename)
	}
	if us.ExpectedChunks != 3 {
		t.Errorf("expected chunks = %d, want 3", us.ExpectedChunks)
	}
	wantExpiry := e.clock.Now().Add(upload.DefaultSessionTTL)
	if !us.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expires at = %v, want %v", us.ExpiresAt, wantExpiry)
	}
	if len(us.Chunks) != 0 {
		t.Errorf("chunks = %d, want none", len(us.Chunks))
	}
}

func TestCreateSessionValidation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")

	cases := []struct {
		name string
		req  upload.CreateRequest
	}{
		{"empty class session", upload.CreateRequest{Filename: "a.wav"}},
		{"blank filename", upload.CreateRequest{ClassSessionID: "cs-1", Filename: "   "}},
		{"bad checksum", upload.CreateRequest{ClassSessionID: "cs-1", Filename: "a.wav", Checksum: "not-hex"}},
		{"negative total size", upload.CreateRequest{ClassSessionID: "cs-1", Filename: "a.wav", TotalSize: -1}},
		{"chunk size above cap", upload.CreateRequest{ClassSessionID: "cs-1", Filename: "a.wav", ChunkSize: upload.DefaultMaxChunkBytes + 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.mgr.CreateSession(context.Background(), tc.req)
			wantKind(t, err, types.KindValidation)
		})
	}
}

func TestCreateSessionUnknownClassSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	_, err := e.mgr.CreateSession(context.Background(), defaultRequest("nope"))
	wantKind(t, err, types.KindNotFound)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("want store.ErrNotFound in chain, got %v", err)
	}
}

func TestCreateSessionOneActivePerClassSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")

	first := e.create(t, defaultRequest("cs-1"))

	_, err := e.mgr.CreateSession(context.Background(), defaultRequest("cs-1"))
	wantKind(t, err, types.KindInvalidState)
	if !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("want store.ErrDuplicate in chain, got %v", err)
	}

	// Cancelling the active session frees the slot.
	if _, err := e.mgr.Cancel(context.Background(), first.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	e.create(t, defaultRequest("cs-1"))
}

func TestUploadChunkLifecycle(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	us := e.create(t, defaultRequest("cs-1"))
	ctx := context.Background()

	r1 := e.upload(t, us.ID, 1, chunkA)
	if r1.Status != types.ChunkReceived {
		t.Errorf("chunk 1 status = %s, want received", r1.Status)
	}
	if r1.Received != 1 || r1.Expected != 3 {
		t.Errorf("chunk 1 received/expected = %d/%d, want 1/3", r1.Received, r1.Expected)
	}
	if r1.Pct != 40 {
		t.Errorf("chunk 1 pct = %v, want 40", r1.Pct)
	}
	if r1.Complete {
		t.Error("chunk 1 reported complete")
	}
	if r1.SpeedBps != 0 {
		t.Errorf("chunk 1 speed = %v, want 0 (not yet measurable)", r1.SpeedBps)
	}

	stored, err := e.store.GetUploadSession(ctx, us.ID)
	if err != nil {
		t.Fatalf("GetUploadSession: %v", err)
	}
	if stored.State != types.UploadUploading {
		t.Errorf("state after first chunk = %s, want UPLOADING", stored.State)
	}

	r2 := e.upload(t, us.ID, 2, chunkB)
	if r2.Pct != 80 || r2.Received != 2 {
		t.Errorf("chunk 2 pct/received = %v/%d, want 80/2", r2.Pct, r2.Received)
	}

	r3 := e.upload(t, us.ID, 3, chunkC)
	if !r3.Complete {
		t.Error("chunk 3 not reported complete")
	}
	if r3.Pct != 100 {
		t.Errorf("chunk 3 pct = %v, want 100", r3.Pct)
	}
	if r3.BytesUploaded != 25 {
		t.Errorf("bytes uploaded = %d, want 25", r3.BytesUploaded)
	}

	for n, want := range map[int][]byte{1: chunkA, 2: chunkB, 3: chunkC} {
		got, err := e.blobs.Get(ctx, blob.ChunkKey("cs-1", n))
		if err != nil {
			t.Fatalf("chunk %d object: %v", n, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("chunk %d object body mismatch", n)
		}
	}

	audits := e.store.AuditTrail()
	if len(audits) != 3 {
		t.Fatalf("audit rows = %d, want 3", len(audits))
	}
	if audits[0].StorageKey != blob.ChunkKey("cs-1", 1) {
		t.Errorf("audit storage key = %q", audits[0].StorageKey)
	}
}

func TestUploadChunkDuplicate(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	us := e.create(t, defaultRequest("cs-1"))
	ctx := context.Background()

	e.upload(t, us.ID, 1, chunkA)
	e.upload(t, us.ID, 2, chunkB)

	// Replaying chunk 2 with different bytes must not overwrite anything.
	r, err := e.mgr.UploadChunk(ctx, us.ID, 2, strings.NewReader("XXXXXXXXXX"), 0)
	if err != nil {
		t.Fatalf("duplicate UploadChunk: %v", err)
	}
	if r.Status != types.ChunkDuplicate {
		t.Errorf("status = %s, want duplicate", r.Status)
	}
	if r.Received != 2 || r.BytesUploaded != 20 {
		t.Errorf("received/bytes = %d/%d, want 2/20", r.Received, r.BytesUploaded)
	}

	got, err := e.blobs.Get(ctx, blob.ChunkKey("cs-1", 2))
	if err != nil {
		t.Fatalf("chunk 2 object: %v", err)
	}
	if !bytes.Equal(got, chunkB) {
		t.Error("duplicate overwrote the stored chunk")
	}
	if n := len(e.store.AuditTrail()); n != 2 {
		t.Errorf("audit rows = %d, want 2", n)
	}
}

func TestUploadChunkValidation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	us := e.create(t, defaultRequest("cs-1"))
	ctx := context.Background()

	_, err := e.mgr.UploadChunk(ctx, us.ID, 0, bytes.NewReader(chunkA), 0)
	wantKind(t, err, types.KindValidation)

	_, err = e.mgr.UploadChunk(ctx, us.ID, 4, bytes.NewReader(chunkA), 0)
	wantKind(t, err, types.KindValidation)

	_, err = e.mgr.UploadChunk(ctx, us.ID, 1, bytes.NewReader(nil), 0)
	wantKind(t, err, types.KindValidation)

	// A total contradicting the derived chunk count is rejected.
	_, err = e.mgr.UploadChunk(ctx, us.ID, 1, bytes.NewReader(chunkA), 5)
	wantKind(t, err, types.KindValidation)
}

func TestUploadChunkSizeCap(t *testing.T) {
	t.Parallel()
	e := newEnv(t, upload.WithMaxChunkBytes(8))
	e.seedClass(t, "cs-1")
	us := e.create(t, upload.CreateRequest{
		ClassSessionID: "cs-1",
		Filename:       "lezione.wav",
		ChunkSize:      8,
	})

	_, err := e.mgr.UploadChunk(context.Background(), us.ID, 1, strings.NewReader("123456789"), 0)
	wantKind(t, err, types.KindValidation)
	if len(e.store.AuditTrail()) != 0 {
		t.Error("oversized chunk left an audit row")
	}
}

func TestUploadChunkDeclaredTotal(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	us := e.create(t, upload.CreateRequest{
		ClassSessionID: "cs-1",
		Filename:       "lezione.wav",
		ChunkSize:      10,
	})
	ctx := context.Background()

	r1, err := e.mgr.UploadChunk(ctx, us.ID, 1, bytes.NewReader(chunkA), 2)
	if err != nil {
		t.Fatalf("UploadChunk(1): %v", err)
	}
	if r1.Expected != 2 {
		t.Errorf("expected = %d, want 2", r1.Expected)
	}
	if r1.Pct != 50 {
		t.Errorf("pct = %v, want 50 (chunk counting)", r1.Pct)
	}

	r2, err := e.mgr.UploadChunk(ctx, us.ID, 2, bytes.NewReader(chunkC), 2)
	if err != nil {
		t.Fatalf("UploadChunk(2): %v", err)
	}
	if !r2.Complete {
		t.Error("not complete after declared total reached")
	}

	stored, err := e.store.GetUploadSession(ctx, us.ID)
	if err != nil {
		t.Fatalf("GetUploadSession: %v", err)
	}
	if stored.ExpectedChunks != 2 {
		t.Errorf("persisted expected chunks = %d, want 2", stored.ExpectedChunks)
	}
}

func TestUploadChunkExpiredSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	us := e.create(t, defaultRequest("cs-1"))

	e.clock.Advance(upload.DefaultSessionTTL + time.Second)

	_, err := e.mgr.UploadChunk(context.Background(), us.ID, 1, bytes.NewReader(chunkA), 0)
	wantKind(t, err, types.KindInvalidState)
	if !strings.Contains(err.Error(), "expired") {
		t.Errorf("error = %v, want mention of expiry", err)
	}

	stored, err := e.store.GetUploadSession(context.Background(), us.ID)
	if err != nil {
		t.Fatalf("GetUploadSession: %v", err)
	}
	if stored.State != types.UploadExpired {
		t.Errorf("state = %s, want EXPIRED", stored.State)
	}
}

func TestUploadChunkTerminalSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	us := e.create(t, defaultRequest("cs-1"))

	if _, err := e.mgr.Cancel(context.Background(), us.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, err := e.mgr.UploadChunk(context.Background(), us.ID, 1, bytes.NewReader(chunkA), 0)
	wantKind(t, err, types.KindInvalidState)
	if !strings.Contains(err.Error(), string(types.UploadCancelled)) {
		t.Errorf("error = %v, want mention of CANCELLED", err)
	}
}

func TestUploadSpeedAndETA(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	us := e.create(t, upload.CreateRequest{
		ClassSessionID: "cs-1",
		Filename:       "lezione.wav",
		TotalSize:      40,
		ChunkSize:      10,
	})

	r1 := e.upload(t, us.ID, 1, chunkA)
	if r1.SpeedBps != 0 || r1.ETASeconds != 0 {
		t.Errorf("first chunk speed/eta = %v/%v, want 0/0", r1.SpeedBps, r1.ETASeconds)
	}

	// 10 bytes after 1s: first measurable sample sets the EMA directly.
	e.clock.Advance(time.Second)
	r2 := e.upload(t, us.ID, 2, chunkB)
	if math.Abs(r2.SpeedBps-10) > 1e-9 {
		t.Errorf("speed after second chunk = %v, want 10", r2.SpeedBps)
	}
	if math.Abs(r2.ETASeconds-2) > 1e-9 {
		t.Errorf("eta after second chunk = %v, want 2", r2.ETASeconds)
	}

	// 10 bytes after 2s: instantaneous 5 Bps smoothed into the average.
	e.clock.Advance(2 * time.Second)
	r3 := e.upload(t, us.ID, 3, chunkA)
	wantSpeed := 0.3*5 + 0.7*10
	if math.Abs(r3.SpeedBps-wantSpeed) > 1e-9 {
		t.Errorf("speed after third chunk = %v, want %v", r3.SpeedBps, wantSpeed)
	}
	if math.Abs(r3.ETASeconds-10/wantSpeed) > 1e-9 {
		t.Errorf("eta after third chunk = %v, want %v", r3.ETASeconds, 10/wantSpeed)
	}
}

func TestAssemble(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	ctx := context.Background()

	full := append(append(append([]byte(nil), chunkA...), chunkB...), chunkC...)
	sum := md5.Sum(full)

	req := defaultRequest("cs-1")
	req.Filename = "lezione finale.wav"
	req.Checksum = hex.EncodeToString(sum[:])
	us := e.create(t, req)

	e.upload(t, us.ID, 1, chunkA)
	e.upload(t, us.ID, 2, chunkB)
	e.upload(t, us.ID, 3, chunkC)

	finalURL, err := e.mgr.Assemble(ctx, us.ID)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if finalURL == "" {
		t.Fatal("final URL is empty")
	}

	stored, err := e.store.GetUploadSession(ctx, us.ID)
	if err != nil {
		t.Fatalf("GetUploadSession: %v", err)
	}
	if stored.State != types.UploadCompleted {
		t.Errorf("state = %s, want COMPLETED", stored.State)
	}
	if stored.FinalURL != finalURL {
		t.Errorf("final URL = %q, want %q", stored.FinalURL, finalURL)
	}

	cs, err := e.store.GetClassSession(ctx, "cs-1")
	if err != nil {
		t.Fatalf("GetClassSession: %v", err)
	}
	if cs.AudioURL != finalURL {
		t.Errorf("class session audio URL = %q, want %q", cs.AudioURL, finalURL)
	}

	key := blob.RecordingKey("cs-1", "lezione_finale.wav")
	body, err := e.blobs.Get(ctx, key)
	if err != nil {
		t.Fatalf("recording object: %v", err)
	}
	if !bytes.Equal(body, full) {
		t.Error("assembled body differs from chunk concatenation")
	}

	info, err := e.blobs.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.ContentType != "audio/wav" {
		t.Errorf("content type = %q, want audio/wav", info.ContentType)
	}
	if info.Metadata["total_chunks"] != "3" {
		t.Errorf("total_chunks metadata = %q, want 3", info.Metadata["total_chunks"])
	}
	if info.Metadata["checksum"] != req.Checksum {
		t.Errorf("checksum metadata = %q, want %q", info.Metadata["checksum"], req.Checksum)
	}
	if info.Metadata["original_filename"] != "lezione finale.wav" {
		t.Errorf("original_filename metadata = %q", info.Metadata["original_filename"])
	}

	keys, err := e.blobs.List(ctx, blob.ChunkPrefix("cs-1"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("chunk objects remain after assembly: %v", keys)
	}
}

func TestAssembleChecksumMismatch(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	ctx := context.Background()

	wrong := md5.Sum([]byte("different content"))
	req := defaultRequest("cs-1")
	req.Checksum = hex.EncodeToString(wrong[:])
	us := e.create(t, req)

	e.upload(t, us.ID, 1, chunkA)
	e.upload(t, us.ID, 2, chunkB)
	e.upload(t, us.ID, 3, chunkC)

	_, err := e.mgr.Assemble(ctx, us.ID)
	wantKind(t, err, types.KindValidation)
	if !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("error = %v, want checksum mismatch", err)
	}

	stored, err := e.store.GetUploadSession(ctx, us.ID)
	if err != nil {
		t.Fatalf("GetUploadSession: %v", err)
	}
	if stored.State != types.UploadError {
		t.Errorf("state = %s, want ERROR", stored.State)
	}
	if !strings.Contains(stored.LastError, "checksum mismatch") {
		t.Errorf("last error = %q", stored.LastError)
	}

	// The recording object must not exist when validation fails.
	if _, err := e.blobs.Get(ctx, blob.RecordingKey("cs-1", us.SanitizedFilename)); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("recording object error = %v, want ErrNotFound", err)
	}
}

func TestAssembleMissingChunks(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	us := e.create(t, defaultRequest("cs-1"))

	e.upload(t, us.ID, 1, chunkA)
	e.upload(t, us.ID, 3, chunkC)

	_, err := e.mgr.Assemble(context.Background(), us.ID)
	wantKind(t, err, types.KindInvalidState)
	if !strings.Contains(err.Error(), "missing 1 chunk(s), first [2]") {
		t.Errorf("error = %v, want missing chunk 2", err)
	}
}

func TestAssembleWrongState(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	us := e.create(t, defaultRequest("cs-1"))
	ctx := context.Background()

	// No chunk received yet: still INITIATED.
	_, err := e.mgr.Assemble(ctx, us.ID)
	wantKind(t, err, types.KindInvalidState)

	e.upload(t, us.ID, 1, chunkA)
	e.upload(t, us.ID, 2, chunkB)
	e.upload(t, us.ID, 3, chunkC)
	if _, err := e.mgr.Assemble(ctx, us.ID); err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	// COMPLETED is terminal.
	_, err = e.mgr.Assemble(ctx, us.ID)
	wantKind(t, err, types.KindInvalidState)
}

func TestAssembleCorruptedChunk(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	us := e.create(t, defaultRequest("cs-1"))
	ctx := context.Background()

	e.upload(t, us.ID, 1, chunkA)
	e.upload(t, us.ID, 2, chunkB)
	e.upload(t, us.ID, 3, chunkC)

	// Tamper with the stored object after ingestion recorded its MD5.
	_, err := e.blobs.Put(ctx, blob.ChunkKey("cs-1", 2), strings.NewReader("tampered!!"), 10, "application/octet-stream", nil)
	if err != nil {
		t.Fatalf("tamper Put: %v", err)
	}

	_, err = e.mgr.Assemble(ctx, us.ID)
	wantKind(t, err, types.KindValidation)
	if !strings.Contains(err.Error(), "chunk 2 checksum mismatch") {
		t.Errorf("error = %v, want chunk 2 checksum mismatch", err)
	}

	stored, err := e.store.GetUploadSession(ctx, us.ID)
	if err != nil {
		t.Fatalf("GetUploadSession: %v", err)
	}
	if stored.State != types.UploadError {
		t.Errorf("state = %s, want ERROR", stored.State)
	}
}

func TestAssembleUnknownTotal(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	us := e.create(t, upload.CreateRequest{
		ClassSessionID: "cs-1",
		Filename:       "lezione.wav",
		ChunkSize:      10,
	})

	e.upload(t, us.ID, 1, chunkA)

	_, err := e.mgr.Assemble(context.Background(), us.ID)
	wantKind(t, err, types.KindValidation)
}

func TestGetStatus(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	us := e.create(t, defaultRequest("cs-1"))
	ctx := context.Background()

	e.upload(t, us.ID, 1, chunkA)
	e.upload(t, us.ID, 3, chunkC)

	st, err := e.mgr.GetStatus(ctx, us.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.State != types.UploadUploading {
		t.Errorf("state = %s, want UPLOADING", st.State)
	}
	if st.Received != 2 || st.Expected != 3 {
		t.Errorf("received/expected = %d/%d, want 2/3", st.Received, st.Expected)
	}
	if st.BytesUploaded != 15 {
		t.Errorf("bytes uploaded = %d, want 15", st.BytesUploaded)
	}
	if st.Pct != 60 {
		t.Errorf("pct = %v, want 60", st.Pct)
	}
	if len(st.MissingChunks) != 1 || st.MissingChunks[0] != 2 {
		t.Errorf("missing chunks = %v, want [2]", st.MissingChunks)
	}

	// Status polling lazily expires overdue sessions.
	e.clock.Advance(upload.DefaultSessionTTL + time.Hour)
	st, err = e.mgr.GetStatus(ctx, us.ID)
	if err != nil {
		t.Fatalf("GetStatus after expiry: %v", err)
	}
	if st.State != types.UploadExpired {
		t.Errorf("state = %s, want EXPIRED", st.State)
	}
	if st.LastError != "session expired" {
		t.Errorf("last error = %q", st.LastError)
	}
}

func TestGetStatusUnknownSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	_, err := e.mgr.GetStatus(context.Background(), "nope")
	wantKind(t, err, types.KindNotFound)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	us := e.create(t, defaultRequest("cs-1"))
	ctx := context.Background()

	e.upload(t, us.ID, 1, chunkA)

	cancelled, err := e.mgr.Cancel(ctx, us.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !cancelled {
		t.Fatal("cancelled = false, want true")
	}

	stored, err := e.store.GetUploadSession(ctx, us.ID)
	if err != nil {
		t.Fatalf("GetUploadSession: %v", err)
	}
	if stored.State != types.UploadCancelled {
		t.Errorf("state = %s, want CANCELLED", stored.State)
	}

	keys, err := e.blobs.List(ctx, blob.ChunkPrefix("cs-1"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("chunk objects remain after cancel: %v", keys)
	}

	// Cancelling a terminal session is a no-op.
	cancelled, err = e.mgr.Cancel(ctx, us.ID)
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if cancelled {
		t.Error("cancelled = true on terminal session")
	}
}

func TestCleanupExpired(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seedClass(t, "cs-1")
	e.seedClass(t, "cs-2")
	ctx := context.Background()

	oldSession := e.create(t, defaultRequest("cs-1"))
	e.upload(t, oldSession.ID, 1, chunkA)

	e.clock.Advance(10 * time.Hour)
	fresh := e.create(t, defaultRequest("cs-2"))
	e.upload(t, fresh.ID, 1, chunkB)

	// 25h after the first session started: only it is overdue.
	e.clock.Advance(15 * time.Hour)

	cleaned, err := e.mgr.CleanupExpired(ctx, 10)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("cleaned = %d, want 1", cleaned)
	}

	expired, err := e.store.GetUploadSession(ctx, oldSession.ID)
	if err != nil {
		t.Fatalf("GetUploadSession: %v", err)
	}
	if expired.State != types.UploadExpired {
		t.Errorf("old session state = %s, want EXPIRED", expired.State)
	}

	keys, err := e.blobs.List(ctx, blob.ChunkPrefix("cs-1"))
	if err != nil {
		t.Fatalf("List cs-1: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expired session chunks remain: %v", keys)
	}

	keys, err = e.blobs.List(ctx, blob.ChunkPrefix("cs-2"))
	if err != nil {
		t.Fatalf("List cs-2: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("fresh session chunks = %v, want one", keys)
	}

	still, err := e.store.GetUploadSession(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetUploadSession fresh: %v", err)
	}
	if still.State != types.UploadUploading {
		t.Errorf("fresh session state = %s, want UPLOADING", still.State)
	}
}
