package fusefs

import (
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/session"
)

// invalidFh is what cgofuse passes when no handle is associated.
const invalidFh = ^uint64(0)

// allocFh registers s under a fresh handle.
func (fs *FS) allocFh(s *session.Session) uint64 {
	fh := fs.nextFh.Add(1)
	fs.mu.Lock()
	fs.sessions[fh] = s
	fs.mu.Unlock()
	return fh
}

func (fs *FS) getFh(fh uint64) *session.Session {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.sessions[fh]
}

func (fs *FS) freeFh(fh uint64) *session.Session {
	fs.mu.Lock()
	s := fs.sessions[fh]
	delete(fs.sessions, fh)
	fs.mu.Unlock()
	return s
}

// openSessions is the number of handles not yet released.
func (fs *FS) openSessions() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.sessions)
}

// closeAll releases every session still registered. Called once the host
// has stopped dispatching.
func (fs *FS) closeAll() int {
	fs.mu.Lock()
	open := fs.sessions
	fs.sessions = make(map[uint64]*session.Session)
	fs.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
	return len(open)
}
