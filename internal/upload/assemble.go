package upload

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aulavox/aulavox/pkg/blob"
	"github.com/aulavox/aulavox/pkg/types"
)

// Assemble concatenates the staged chunks of a complete session into the
// immutable recording object and returns its URL.
//
// Chunks are streamed in ascending order through a scratch file so memory
// stays bounded regardless of recording length. Each chunk is verified
// against the MD5 recorded at ingestion; the concatenation is verified
// against the whole-file checksum when one was declared at creation. Any
// failure after the ASSEMBLING transition is terminal: the session moves to
// ERROR and partial state is not rolled back.
func (m *Manager) Assemble(ctx context.Context, sessionID string) (string, error) {
	us, err := m.getSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if us.Expired(m.now()) {
		return "", m.expire(ctx, us)
	}
	switch us.State {
	case types.UploadUploading, types.UploadValidating, types.UploadAssembling:
	default:
		return "", types.Errorf(types.KindInvalidState, "upload: cannot assemble session %s in state %s", sessionID, us.State)
	}
	if us.ExpectedChunks <= 0 {
		return "", types.Errorf(types.KindValidation, "upload: session %s has no expected chunk count", sessionID)
	}
	if missing := us.MissingChunks(); len(missing) > 0 {
		shown := missing
		if len(shown) > 8 {
			shown = shown[:8]
		}
		return "", types.Errorf(types.KindInvalidState, "upload: session %s is missing %d chunk(s), first %v", sessionID, len(missing), shown)
	}

	if err := m.setState(ctx, sessionID, types.UploadAssembling); err != nil {
		return "", err
	}

	finalURL, err := m.assemble(ctx, us)
	if err != nil {
		if serr := m.store.SetUploadState(ctx, sessionID, types.UploadError, err.Error()); serr != nil {
			slog.Warn("assembly: failed to record error state", "session", sessionID, "error", serr)
		}
		return "", err
	}

	if err := m.store.CompleteUpload(ctx, sessionID, finalURL); err != nil {
		return "", types.WithKind(types.KindTransient, err)
	}
	if err := m.store.SetSessionAudio(ctx, us.ClassSessionID, finalURL); err != nil {
		return "", types.WithKind(types.KindTransient, err)
	}
	m.dropSpeed(sessionID)
	m.removeChunks(ctx, us.ClassSessionID)
	return finalURL, nil
}

// assemble performs the chunk concatenation, verification and final upload.
// Every error it returns marks the session ERROR in the caller.
func (m *Manager) assemble(ctx context.Context, us *types.UploadSession) (string, error) {
	scratch, err := os.CreateTemp(m.scratchDir, "aulavox-assemble-*.part")
	if err != nil {
		return "", types.Errorf(types.KindFatal, "upload: create scratch file: %v", err)
	}
	defer func() {
		scratch.Close()
		os.Remove(scratch.Name())
	}()

	total := md5.New()
	w := io.MultiWriter(scratch, total)
	var size int64
	for n := 1; n <= us.ExpectedChunks; n++ {
		if ctx.Err() != nil {
			return "", types.ErrCancelled
		}
		written, err := m.copyChunk(ctx, us, n, w)
		if err != nil {
			return "", err
		}
		size += written
	}

	if err := m.setState(ctx, us.ID, types.UploadValidating); err != nil {
		return "", err
	}
	checksum := hex.EncodeToString(total.Sum(nil))
	if us.ExpectedChecksum != "" && checksum != us.ExpectedChecksum {
		return "", types.Errorf(types.KindValidation, "upload: checksum mismatch: assembled %s, declared %s", checksum, us.ExpectedChecksum)
	}
	if us.TotalSize > 0 && size != us.TotalSize {
		return "", types.Errorf(types.KindValidation, "upload: assembled %d bytes, declared %d", size, us.TotalSize)
	}

	if _, err := scratch.Seek(0, io.SeekStart); err != nil {
		return "", types.Errorf(types.KindFatal, "upload: rewind scratch file: %v", err)
	}
	key := blob.RecordingKey(us.ClassSessionID, us.SanitizedFilename)
	meta := map[string]string{
		"original_filename": us.OriginalFilename,
		"total_chunks":      strconv.Itoa(us.ExpectedChunks),
		"checksum":          checksum,
		"assembled_at":      m.now().UTC().Format(time.RFC3339),
	}
	url, err := m.blobs.Put(ctx, key, scratch, size, us.ContentType, meta)
	if err != nil {
		if ctx.Err() != nil {
			return "", types.ErrCancelled
		}
		return "", types.WithKind(types.KindFatal, fmt.Errorf("upload: store recording: %w", err))
	}
	return url, nil
}

// copyChunk streams one staged chunk into w, verifying size and MD5 against
// the values recorded at ingestion.
func (m *Manager) copyChunk(ctx context.Context, us *types.UploadSession, n int, w io.Writer) (int64, error) {
	info := us.Chunks[n]
	key := blob.ChunkKey(us.ClassSessionID, n)
	rc, err := m.blobs.Open(ctx, key)
	if err != nil {
		return 0, types.WithKind(types.KindFatal, fmt.Errorf("upload: open chunk %d: %w", n, err))
	}
	defer rc.Close()

	h := md5.New()
	written, err := io.Copy(io.MultiWriter(w, h), rc)
	if err != nil {
		if ctx.Err() != nil {
			return 0, types.ErrCancelled
		}
		return 0, types.WithKind(types.KindFatal, fmt.Errorf("upload: read chunk %d: %w", n, err))
	}
	if written != info.Size {
		return 0, types.Errorf(types.KindValidation, "upload: chunk %d is %d bytes, recorded %d", n, written, info.Size)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != info.Checksum {
		return 0, types.Errorf(types.KindValidation, "upload: chunk %d checksum mismatch", n)
	}
	return written, nil
}

func (m *Manager) setState(ctx context.Context, sessionID string, st types.UploadState) error {
	if err := m.store.SetUploadState(ctx, sessionID, st, ""); err != nil {
		return types.WithKind(types.KindTransient, err)
	}
	return nil
}
