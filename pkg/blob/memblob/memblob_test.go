package memblob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aulavox/aulavox/pkg/blob"
)

func TestPutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := New("test")

	url, err := s.Put(ctx, "recordings/cs/a.wav", strings.NewReader("audio-bytes"), -1, "audio/wav", map[string]string{"checksum": "abc"})
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if url != "mem://test/recordings/cs/a.wav" {
		t.Errorf("Put() url = %q", url)
	}

	data, err := s.Get(ctx, "recordings/cs/a.wav")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("Get() = %q, want %q", data, "audio-bytes")
	}

	info, err := s.Stat(ctx, "recordings/cs/a.wav")
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.SizeBytes != int64(len("audio-bytes")) || info.ContentType != "audio/wav" {
		t.Errorf("Stat() = %+v", info)
	}
	if info.Metadata["checksum"] != "abc" {
		t.Errorf("Stat() metadata = %v, want checksum=abc", info.Metadata)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := New("")
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want blob.ErrNotFound", err)
	}
	var se *blob.StorageError
	if !errors.As(err, &se) {
		t.Fatal("Get(missing) error is not a *blob.StorageError")
	}
	if se.Op != "get" || se.Key != "nope" {
		t.Errorf("StorageError = %+v", se)
	}
}

func TestOpenStreams(t *testing.T) {
	ctx := context.Background()
	s := New("")
	payload := bytes.Repeat([]byte{0xAB}, 4096)
	if _, err := s.Put(ctx, "k", bytes.NewReader(payload), int64(len(payload)), "application/octet-stream", nil); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	rc, err := s.Open(ctx, "k")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Open() read %d bytes, want %d identical", len(got), len(payload))
	}
}

func TestListPrefixOrdering(t *testing.T) {
	ctx := context.Background()
	s := New("")
	for _, k := range []string{
		"uploads/cs/chunks/chunk_000002",
		"uploads/cs/chunks/chunk_000001",
		"uploads/other/chunks/chunk_000001",
	} {
		if _, err := s.Put(ctx, k, strings.NewReader("x"), 1, "", nil); err != nil {
			t.Fatalf("Put(%s) error: %v", k, err)
		}
	}

	keys, err := s.List(ctx, "uploads/cs/")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	want := []string{"uploads/cs/chunks/chunk_000001", "uploads/cs/chunks/chunk_000002"}
	if len(keys) != len(want) {
		t.Fatalf("List() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New("")
	if _, err := s.Put(ctx, "k", strings.NewReader("x"), 1, "", nil); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete(missing) error = %v, want nil", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after delete, want 0", s.Len())
	}
}

func TestPresignedGet(t *testing.T) {
	ctx := context.Background()
	s := New("bkt")
	if _, err := s.Put(ctx, "k", strings.NewReader("x"), 1, "", nil); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	u, err := s.PresignedGet(ctx, "k", time.Hour)
	if err != nil {
		t.Fatalf("PresignedGet() error: %v", err)
	}
	if !strings.HasPrefix(u, "mem://bkt/k?expires=") {
		t.Errorf("PresignedGet() = %q", u)
	}
	if _, err := s.PresignedGet(ctx, "missing", time.Hour); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("PresignedGet(missing) error = %v, want ErrNotFound", err)
	}
}
