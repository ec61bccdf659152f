// Package blob defines the object-store contract used for recording media,
// in-flight upload chunks and generated artifacts, plus the canonical key
// layout shared by all components.
//
// Implementations live in subpackages: s3 (MinIO/S3-compatible endpoints)
// and memblob (in-memory, for tests and single-process development).
package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is wrapped by implementations when the requested key does not
// exist.
var ErrNotFound = errors.New("object not found")

// StorageError is the uniform failure surface of a store. Op names the failed
// operation ("put", "get", ...), Key the object involved.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("blob %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Info describes a stored object.
type Info struct {
	Key          string
	SizeBytes    int64
	ContentType  string
	Metadata     map[string]string
	LastModified time.Time
}

// Store is the typed file I/O surface over an S3-compatible blob store. All
// operations are blocking and safe for concurrent use. The backing bucket is
// auto-created on first use.
type Store interface {
	// Put streams body into the object at key and returns the object's
	// canonical URL. size may be -1 when unknown.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string) (string, error)

	// Get returns the full object body.
	Get(ctx context.Context, key string) ([]byte, error)

	// Open returns a streaming reader over the object body. The caller must
	// close it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns object metadata without the body.
	Stat(ctx context.Context, key string) (Info, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// PresignedGet returns a time-limited URL granting read access to key.
	PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ─── Key layout ───────────────────────────────────────────────────────────────

// ChunkKey addresses an in-flight upload chunk. Chunk numbers are 1-based and
// zero-padded to six digits so lexical order equals numeric order.
func ChunkKey(classSessionID string, chunkNumber int) string {
	return fmt.Sprintf("uploads/%s/chunks/chunk_%06d", classSessionID, chunkNumber)
}

// ChunkPrefix is the common prefix of every chunk belonging to one class
// session, for bulk listing and cleanup.
func ChunkPrefix(classSessionID string) string {
	return fmt.Sprintf("uploads/%s/chunks/", classSessionID)
}

// RecordingKey addresses the assembled immutable recording.
func RecordingKey(classSessionID, sanitizedFilename string) string {
	return fmt.Sprintf("recordings/%s/%s", classSessionID, sanitizedFilename)
}

// RecordingPrefix is the common prefix of a class session's recording
// objects. A session holds exactly one recording; stage workers resolve it by
// listing this prefix instead of parsing the stored URL.
func RecordingPrefix(classSessionID string) string {
	return fmt.Sprintf("recordings/%s/", classSessionID)
}

// ExportKey addresses one rendered export file.
func ExportKey(exportSessionID, ext string) string {
	return fmt.Sprintf("%s/export.%s", exportSessionID, ext)
}

// GeneratedAudioKey addresses a synthesized audio file. suffix should come
// from RandomSuffix.
func GeneratedAudioKey(prefix, suffix, ext string) string {
	return fmt.Sprintf("generated/%s_%s.%s", prefix, suffix, ext)
}

// RandomSuffix returns an 8-hex-character collision-avoidance suffix for
// generated object names.
func RandomSuffix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("blob: crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}
