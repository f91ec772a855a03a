// Package s3 reads archives from an S3-compatible object store with ranged
// GET requests.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/logging"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/metrics"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/retry"
)

const backendType = "s3"

// BackendConfig holds S3 connection settings.
type BackendConfig struct {
	Endpoint  string // empty uses the AWS default endpoint
	Bucket    string
	AccessKey string // empty uses the default credential chain
	SecretKey string
	Region    string
	UseSSL    bool   // scheme for endpoints given without one
	Prefix    string // prepended to every key
}

// S3Backend implements read access to archives held in a bucket.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
	policy retry.Policy
}

// NewBackend creates a new S3 backend from a BackendConfig.
func NewBackend(ctx context.Context, cfg BackendConfig) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := endpointURL(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	backend := &S3Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		policy: retry.DefaultPolicy(),
	}

	// The mount is read-only, so a missing bucket is only reported.
	if err := backend.checkBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.String("bucket", cfg.Bucket), zap.Error(err))
	}

	return backend, nil
}

func endpointURL(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func (b *S3Backend) checkBucket(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	metrics.RecordStorageOperation(backendType, "head_bucket", time.Since(start), err == nil)
	return err
}

// objectKey maps an archive path to an object key.
func (b *S3Backend) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

// Stat returns the object size via HeadObject.
func (b *S3Backend) Stat(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	metrics.RecordStorageOperation(backendType, "head_object", time.Since(start), err == nil)
	if err != nil {
		return 0, fmt.Errorf("head object %s: %w", key, classify(err))
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Open resolves the object size and returns a ranged reader over it.
// ctx bounds every later ReadAt on the object.
func (b *S3Backend) Open(ctx context.Context, key string) (*Object, error) {
	size, err := b.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Object{
		ctx:     ctx,
		backend: b,
		key:     b.objectKey(key),
		size:    size,
	}, nil
}

// PutObject uploads content to the bucket.
func (b *S3Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.objectKey(key)),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	metrics.RecordStorageOperation(backendType, "put_object", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	logging.Debug("S3 put object", zap.String("key", key), zap.Int64("size", size))
	return nil
}

// Type returns "s3".
func (b *S3Backend) Type() string { return backendType }

// Close is a no-op; the SDK client holds no resources that need releasing.
func (b *S3Backend) Close() error { return nil }

// classify marks errors that another attempt could fix and maps missing
// objects onto fs.ErrNotExist.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
		case "AccessDenied", "InvalidRange", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return retry.Transient(err)
}
