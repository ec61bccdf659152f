// Package memblob is an in-memory blob.Store used by tests and single-process
// development setups. Objects live in a map guarded by a mutex; presigned
// URLs are synthetic.
package memblob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aulavox/aulavox/pkg/blob"
)

// Compile-time assertion that Store implements blob.Store.
var _ blob.Store = (*Store)(nil)

type object struct {
	data         []byte
	contentType  string
	metadata     map[string]string
	lastModified time.Time
}

// Store is an in-memory blob.Store.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	bucket  string
}

// New returns an empty store. The bucket name only affects synthetic URLs.
func New(bucket string) *Store {
	if bucket == "" {
		bucket = "aulavox"
	}
	return &Store{
		objects: make(map[string]object),
		bucket:  bucket,
	}
}

// Put stores body under key.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &blob.StorageError{Op: "put", Key: key, Err: err}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", &blob.StorageError{Op: "put", Key: key, Err: err}
	}
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	s.mu.Lock()
	s.objects[key] = object{
		data:         data,
		contentType:  contentType,
		metadata:     meta,
		lastModified: time.Now(),
	}
	s.mu.Unlock()

	return s.url(key), nil
}

// Get returns a copy of the object body.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, &blob.StorageError{Op: "get", Key: key, Err: blob.ErrNotFound}
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

// Open returns a reader over a snapshot of the object body.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, &blob.StorageError{Op: "open", Key: key, Err: blob.ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Stat returns object metadata.
func (s *Store) Stat(ctx context.Context, key string) (blob.Info, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return blob.Info{}, &blob.StorageError{Op: "stat", Key: key, Err: blob.ErrNotFound}
	}
	return blob.Info{
		Key:          key,
		SizeBytes:    int64(len(obj.data)),
		ContentType:  obj.contentType,
		Metadata:     obj.metadata,
		LastModified: obj.lastModified,
	}, nil
}

// Delete removes the object; missing keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// PresignedGet returns a synthetic URL carrying the expiry.
func (s *Store) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", &blob.StorageError{Op: "presign", Key: key, Err: blob.ErrNotFound}
	}
	return fmt.Sprintf("%s?expires=%d", s.url(key), time.Now().Add(ttl).Unix()), nil
}

// List returns keys under prefix in lexical order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// Len reports the number of stored objects. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *Store) url(key string) string {
	return fmt.Sprintf("mem://%s/%s", s.bucket, key)
}
