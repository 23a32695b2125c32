package remote

import (
	"context"
	"fmt"
	"io"

	"github.com/hyperjump/shiori/internal/errs"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStore keeps snapshot files in a MinIO (or other S3-compatible) bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIOStore wraps a MinIO client.
func NewMinIOStore(client *minio.Client, bucket, prefix string) *MinIOStore {
	return &MinIOStore{client: client, bucket: bucket, prefix: prefix}
}

// NewMinIOFromConfig connects with static credentials.
func NewMinIOFromConfig(cfg Config) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return NewMinIOStore(client, cfg.Bucket, cfg.Prefix), nil
}

// Fetch streams name into w.
func (s *MinIOStore) Fetch(ctx context.Context, name string, w io.Writer) error {
	key := objectKey(s.prefix, name)
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return s.wrap(key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return s.wrap(key, err)
	}
	defer obj.Close()
	if _, err := io.Copy(w, obj); err != nil {
		return s.wrap(key, err)
	}
	return nil
}

// Put uploads size bytes from r as name. A negative size streams the upload.
func (s *MinIOStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	key := objectKey(s.prefix, name)
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return fmt.Errorf("minio put %s: %w", key, err)
	}
	return nil
}

func (s *MinIOStore) wrap(key string, err error) error {
	if isMinIONotFound(err) {
		return fmt.Errorf("minio object %s: %w", key, errs.ErrNotFound)
	}
	return fmt.Errorf("minio fetch %s: %w", key, err)
}

func isMinIONotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}
