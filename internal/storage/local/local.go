// Package local provides a local filesystem storage backend.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/metrics"
)

// Config holds local filesystem backend settings.
type Config struct {
	// RootPath is prepended to every key. Empty means keys are used as
	// filesystem paths directly, which is how catalog archive paths are
	// usually stored.
	RootPath string

	// Label is reported by Type and in metrics. Defaults to "local".
	Label string
}

// LocalBackend reads archives from the local filesystem.
type LocalBackend struct {
	rootPath string
	label    string
}

// New creates a new local filesystem backend.
func New(cfg Config) (*LocalBackend, error) {
	if cfg.RootPath != "" {
		info, err := os.Stat(cfg.RootPath)
		if err != nil {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
		}
	}
	label := cfg.Label
	if label == "" {
		label = "local"
	}
	return &LocalBackend{rootPath: cfg.RootPath, label: label}, nil
}

func (b *LocalBackend) fullPath(key string) string {
	if b.rootPath == "" {
		return filepath.Clean(filepath.FromSlash(key))
	}
	return filepath.Join(b.rootPath, filepath.FromSlash(key))
}

// Object is an open archive file.
type Object struct {
	f    *os.File
	size int64
}

func (o *Object) ReadAt(p []byte, off int64) (int, error) { return o.f.ReadAt(p, off) }

func (o *Object) Size() int64 { return o.size }

func (o *Object) Close() error { return o.f.Close() }

// Open opens key for positional reads.
func (b *LocalBackend) Open(_ context.Context, key string) (*Object, error) {
	start := time.Now()
	f, err := os.Open(b.fullPath(key))
	if err != nil {
		metrics.RecordStorageOperation(b.label, "open", time.Since(start), false)
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		metrics.RecordStorageOperation(b.label, "open", time.Since(start), false)
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	if info.IsDir() {
		f.Close()
		metrics.RecordStorageOperation(b.label, "open", time.Since(start), false)
		return nil, fmt.Errorf("open %s: is a directory", key)
	}
	metrics.RecordStorageOperation(b.label, "open", time.Since(start), true)
	return &Object{f: f, size: info.Size()}, nil
}

// Stat returns the size of key.
func (b *LocalBackend) Stat(_ context.Context, key string) (int64, error) {
	start := time.Now()
	info, err := os.Stat(b.fullPath(key))
	metrics.RecordStorageOperation(b.label, "stat", time.Since(start), err == nil)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Size(), nil
}

// PutObject writes content to the local filesystem atomically.
func (b *LocalBackend) PutObject(_ context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()
	path := b.fullPath(key)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", key, err)
	}

	// Write to temp file then rename for atomicity
	tmp, err := os.CreateTemp(dir, ".ega-fuse-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, body)
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("wrote %d bytes, expected %d", n, size)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	metrics.RecordStorageOperation(b.label, "put", time.Since(start), err == nil)
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Type returns the backend label.
func (b *LocalBackend) Type() string { return b.label }

// Close is a no-op for local storage.
func (b *LocalBackend) Close() error { return nil }
