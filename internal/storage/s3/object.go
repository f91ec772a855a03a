package s3

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/metrics"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/retry"
)

// Object serves positional reads with one ranged GET per call.
type Object struct {
	ctx     context.Context
	backend *S3Backend
	key     string
	size    int64
}

// Size is the object length reported when it was opened.
func (o *Object) Size() int64 { return o.size }

// ReadAt fetches bytes [off, off+len(p)) clamped to the object size.
// Failed requests are retried per the backend policy; a body that ends
// early is returned as a short read.
func (o *Object) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("s3: negative offset %d", off)
	}
	if off >= o.size {
		return 0, io.EOF
	}
	want := p
	clamped := false
	if remain := o.size - off; int64(len(p)) > remain {
		want = p[:remain]
		clamped = true
	}

	var n int
	err := retry.Do(o.ctx, o.backend.policy, func() error {
		var err error
		n, err = o.fetch(want, off)
		return err
	})
	if err == nil && clamped {
		err = io.EOF
	}
	return n, err
}

func (o *Object) fetch(p []byte, off int64) (int, error) {
	start := time.Now()
	out, err := o.backend.client.GetObject(o.ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.backend.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)),
	})
	if err != nil {
		metrics.RecordStorageOperation(backendType, "get_range", time.Since(start), false)
		return 0, fmt.Errorf("get object %s: %w", o.key, classify(err))
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p)
	metrics.RecordStorageOperation(backendType, "get_range", time.Since(start), err == nil)
	if err != nil {
		return n, fmt.Errorf("read object %s at %d: %w", o.key, off, err)
	}
	return n, nil
}

// Close is a no-op: every ReadAt owns its own response body.
func (o *Object) Close() error { return nil }
