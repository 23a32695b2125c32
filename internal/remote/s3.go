package remote

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hyperjump/shiori/internal/errs"
)

// partSize is used for both multipart uploads and ranged downloads.
const partSize = 8 * 1024 * 1024

// S3Client is the subset of *s3.Client the store uses.
type S3Client interface {
	manager.UploadAPIClient
	manager.DownloadAPIClient
}

// S3Store keeps snapshot files in an S3 bucket.
type S3Store struct {
	client     S3Client
	bucket     string
	prefix     string
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// NewS3Store wraps an S3 client.
func NewS3Store(client S3Client, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.PartSize = partSize
		}),
	}
}

// NewS3FromConfig loads the default AWS configuration chain (environment,
// shared config, instance role) and builds a store. A custom endpoint switches
// to path-style addressing for S3-compatible services.
func NewS3FromConfig(ctx context.Context, cfg Config) (*S3Store, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Store(client, cfg.Bucket, cfg.Prefix), nil
}

// Fetch downloads name into w. Writers that support WriteAt (files) receive
// parts concurrently; others are buffered.
func (s *S3Store) Fetch(ctx context.Context, name string, w io.Writer) error {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(s.prefix, name)),
	}
	if wa, ok := w.(io.WriterAt); ok {
		_, err := s.downloader.Download(ctx, wa, input)
		return s.wrap(name, err)
	}
	buf := manager.NewWriteAtBuffer(nil)
	if _, err := s.downloader.Download(ctx, buf, input); err != nil {
		return s.wrap(name, err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Put uploads size bytes from r as name.
func (s *S3Store) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(s.prefix, name)),
		Body:   r,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3 put %s: %w", name, err)
	}
	return nil
}

func (s *S3Store) wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return fmt.Errorf("s3 object %s: %w", objectKey(s.prefix, name), errs.ErrNotFound)
	}
	return fmt.Errorf("s3 fetch %s: %w", name, err)
}
