// Package session serves plaintext byte ranges of one archive for the
// lifetime of an open file.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/archive"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/cip"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/logging"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/metrics"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/storage"
)

// ErrConfig marks a session that can never produce data, for example
// because its cipher strength is unsupported.
var ErrConfig = errors.New("session: bad configuration")

// Session is the decryption state for one open file. Reads are serialized.
type Session struct {
	ctx     context.Context
	backend storage.Backend
	desc    archive.Descriptor
	key     []byte
	cfgErr  error
	log     *zap.Logger

	mu     sync.Mutex
	obj    storage.Object
	plain  io.ReaderAt
	size   int64
	closed bool
}

// New prepares a session for desc. It never fails: configuration problems
// are logged and the session then returns no data. Entries are logged
// through the logger carried by ctx, tagged with the archive path.
func New(ctx context.Context, backend storage.Backend, desc archive.Descriptor) *Session {
	ctx = logging.NewContext(ctx, logging.Archive(desc.ArchivePath))
	s := &Session{ctx: ctx, backend: backend, desc: desc, log: logging.WithContext(ctx)}
	if desc.Encrypted() {
		key, err := cip.DeriveKey(desc.Key, desc.CipherBits)
		if err != nil {
			s.cfgErr = fmt.Errorf("%w: %v", ErrConfig, err)
			metrics.RecordSessionFailure("config")
			s.log.Error("decryption session not configured",
				zap.Int("cipher_bits", desc.CipherBits),
				zap.Error(err))
		}
		s.key = key
	}
	metrics.SessionOpened()
	return s
}

// open fetches the physical object and, for encrypted archives, its
// trailer. s.mu must be held.
func (s *Session) open() error {
	if s.plain != nil {
		return nil
	}
	obj, err := s.backend.Open(s.ctx, s.desc.ArchivePath)
	if err != nil {
		return err
	}
	if !s.desc.Encrypted() {
		s.obj, s.plain, s.size = obj, obj, obj.Size()
		return nil
	}
	r, err := cip.NewReader(obj, obj.Size(), s.key)
	if err != nil {
		obj.Close()
		return err
	}
	s.obj, s.plain, s.size = obj, r, r.Size()
	return nil
}

// ReadAt fills dest with plaintext starting at offset and returns the
// number of bytes produced. The length is clamped to the logical size.
// I/O failures are logged and yield 0; a short physical read yields a
// short result.
func (s *Session) ReadAt(dest []byte, offset int64) int {
	if s.cfgErr != nil || offset < 0 || len(dest) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	if err := s.open(); err != nil {
		metrics.RecordSessionFailure("io")
		s.log.Warn("open archive failed", zap.Error(err))
		return 0
	}
	if offset >= s.size {
		return 0
	}
	if remain := s.size - offset; int64(len(dest)) > remain {
		dest = dest[:remain]
	}

	n, err := s.plain.ReadAt(dest, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		metrics.RecordSessionFailure("io")
		s.log.Warn("read archive failed",
			zap.Int64("offset", offset),
			zap.Int("requested", len(dest)),
			zap.Int("read", n),
			zap.Error(err))
	}
	return n
}

// Close releases the physical stream. Later reads return 0.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	metrics.SessionClosed()
	if s.obj == nil {
		return nil
	}
	err := s.obj.Close()
	s.obj, s.plain = nil, nil
	return err
}
