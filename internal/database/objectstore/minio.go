// Package objectstore keeps index snapshots in S3-compatible object storage.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/kozaktomas/face-resolver/internal/config"
	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store implements database.BlobStore for MinIO and S3-compatible storage.
// A single PutObject replaces the object atomically.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ database.BlobStore = (*Store)(nil)

// NewStore creates a blob store over an existing client.
// prefix is prepended to all keys (e.g. "snapshots/").
func NewStore(client *minio.Client, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// NewFromConfig connects to the configured endpoint and ensures the bucket exists.
func NewFromConfig(ctx context.Context, cfg config.S3Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating S3 client for %s: %w", cfg.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
	}
	return NewStore(client, cfg.Bucket, cfg.Prefix), nil
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Location describes where a blob lives, for logs and stats output.
func (s *Store) Location(name string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key(name))
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Get downloads a blob.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", s.Location(name), database.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("getting %s: %w", s.Location(name), err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", s.Location(name), database.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", s.Location(name), err)
	}
	return data, nil
}

// Put uploads a blob, replacing any previous version.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("putting %s: %w", s.Location(name), err)
	}
	return nil
}
