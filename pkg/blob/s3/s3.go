// Package s3 implements blob.Store against any S3-compatible endpoint (MinIO,
// AWS S3, Ceph RGW) using the MinIO client. The bucket is created on first
// use when missing.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aulavox/aulavox/pkg/blob"
)

// Compile-time assertion that Store implements blob.Store.
var _ blob.Store = (*Store)(nil)

// Config carries the connection parameters of an S3-compatible endpoint.
type Config struct {
	Endpoint  string // host:port, no scheme
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// Store is an S3-backed blob.Store.
type Store struct {
	client *minio.Client
	bucket string
	secure bool
}

// New connects to the endpoint and ensures the bucket exists. Endpoint,
// credentials and bucket must be non-empty.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("s3: endpoint must not be empty")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket must not be empty")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}

	s := &Store{client: client, bucket: cfg.Bucket, secure: cfg.UseSSL}
	if err := s.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureBucket creates the bucket when missing. Creation races with other
// processes are tolerated.
func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return &blob.StorageError{Op: "bucket-check", Key: s.bucket, Err: err}
	}
	if exists {
		return nil
	}
	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region})
	if err != nil {
		exists, checkErr := s.client.BucketExists(ctx, s.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return &blob.StorageError{Op: "bucket-create", Key: s.bucket, Err: err}
	}
	return nil
}

// Put uploads body under key and returns the object's canonical URL.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string) (string, error) {
	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	}
	if _, err := s.client.PutObject(ctx, s.bucket, key, body, size, opts); err != nil {
		return "", &blob.StorageError{Op: "put", Key: key, Err: err}
	}
	return s.objectURL(key), nil
}

// Get returns the full object body.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &blob.StorageError{Op: "get", Key: key, Err: translateErr(err)}
	}
	return data, nil
}

// Open returns a streaming reader over the object body.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, &blob.StorageError{Op: "open", Key: key, Err: translateErr(err)}
	}
	// GetObject is lazy; a Stat forces the first round trip so missing keys
	// surface here instead of on the first Read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, &blob.StorageError{Op: "open", Key: key, Err: translateErr(err)}
	}
	return obj, nil
}

// Stat returns object metadata without the body.
func (s *Store) Stat(ctx context.Context, key string) (blob.Info, error) {
	st, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return blob.Info{}, &blob.StorageError{Op: "stat", Key: key, Err: translateErr(err)}
	}
	return blob.Info{
		Key:          key,
		SizeBytes:    st.Size,
		ContentType:  st.ContentType,
		Metadata:     st.UserMetadata,
		LastModified: st.LastModified,
	}, nil
}

// Delete removes the object; missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return &blob.StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// PresignedGet returns a time-limited read URL for key.
func (s *Store) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", &blob.StorageError{Op: "presign", Key: key, Err: err}
	}
	return u.String(), nil
}

// List returns the keys under prefix in lexical order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, &blob.StorageError{Op: "list", Key: prefix, Err: obj.Err}
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Ping verifies the endpoint is reachable. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return &blob.StorageError{Op: "ping", Key: s.bucket, Err: err}
	}
	return nil
}

func (s *Store) objectURL(key string) string {
	scheme := "http"
	if s.secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.client.EndpointURL().Host, s.bucket, key)
}

// translateErr maps the S3 "no such key" responses onto blob.ErrNotFound so
// callers can test with errors.Is.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if isNoSuchKey(err) {
		return fmt.Errorf("%w: %w", blob.ErrNotFound, err)
	}
	return err
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
