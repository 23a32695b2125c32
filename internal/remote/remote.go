// Package remote moves snapshot files to and from object storage so a fresh
// machine can start from a published index instead of re-embedding the corpus.
package remote

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"
)

// Store reads and writes named snapshot files. Fetch on a missing object
// returns an error wrapping errs.ErrNotFound.
type Store interface {
	Fetch(ctx context.Context, name string, w io.Writer) error
	Put(ctx context.Context, name string, r io.Reader, size int64) error
}

// Store types.
const (
	TypeNone  = ""
	TypeS3    = "s3"
	TypeMinIO = "minio"
	TypeDir   = "dir"
)

// Config selects and addresses a remote store. Credentials are already resolved
// from the environment.
type Config struct {
	Type      string
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	UseSSL    bool
	AccessKey string
	SecretKey string
}

// New builds the store named by cfg.Type. It returns nil, nil for TypeNone.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Type) {
	case TypeNone:
		return nil, nil
	case TypeS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("remote s3: bucket is required")
		}
		s, err := NewS3FromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Debug("remote store", zap.String("type", "s3"), zap.String("bucket", cfg.Bucket), zap.String("prefix", cfg.Prefix))
		return s, nil
	case TypeMinIO:
		if cfg.Bucket == "" || cfg.Endpoint == "" {
			return nil, fmt.Errorf("remote minio: bucket and endpoint are required")
		}
		s, err := NewMinIOFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		logger.Debug("remote store", zap.String("type", "minio"), zap.String("endpoint", cfg.Endpoint), zap.String("bucket", cfg.Bucket))
		return s, nil
	case TypeDir:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("remote dir: bucket (directory) is required")
		}
		return NewDir(cfg.Bucket, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown remote type: %s (supported: s3, minio, dir)", cfg.Type)
	}
}

// objectKey joins prefix and name with a single slash.
func objectKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
