// Package storage defines how archive bytes are fetched. Implementations
// live in the local, smb and s3 subpackages; NewBackend picks one from
// configuration.
package storage

import (
	"context"
	"io"
)

// Object is an opened archive supporting positional reads. ReadAt must be
// safe to call concurrently, as with *os.File.
type Object interface {
	io.ReaderAt
	io.Closer

	// Size is the physical length in bytes.
	Size() int64
}

// Backend is the interface for archive storage backends.
type Backend interface {
	// Open prepares key for positional reads.
	Open(ctx context.Context, key string) (Object, error)

	// Stat returns the physical size of key. A missing key yields an
	// error matching fs.ErrNotExist.
	Stat(ctx context.Context, key string) (int64, error)

	// PutObject stores body under key. Used to publish containers.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// Type returns the backend type identifier ("local", "smb", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// opener is what each implementation package provides; their Open returns
// a concrete object type so they need not import this package.
type opener[O Object] interface {
	Open(ctx context.Context, key string) (O, error)
	Stat(ctx context.Context, key string) (int64, error)
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error
	Type() string
	Close() error
}

type adapter[O Object] struct {
	opener[O]
}

func (a adapter[O]) Open(ctx context.Context, key string) (Object, error) {
	o, err := a.opener.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Wrap turns an implementation with a concrete Open result into a Backend.
func Wrap[O Object](b opener[O]) Backend {
	return adapter[O]{b}
}
