// Package fusefs serves the archive tree through cgofuse.
package fusefs

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/winfsp/cgofuse/fuse"
	"go.uber.org/zap"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/logging"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/metrics"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/session"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/storage"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/vfs"
)

// Extended attributes exposed on files.
const (
	XattrArchivePath = "user.ega.archive_path"
	XattrEncrypted   = "user.ega.encrypted"
	XattrCipherBits  = "user.ega.cipher_bits"
)

var xattrNames = []string{XattrArchivePath, XattrEncrypted, XattrCipherBits}

// FS implements fuse.FileSystemInterface over a vfs.Tree. Content comes
// from one decryption session per open handle. Verbs it does not override
// (write, create, truncate...) answer ENOSYS through FileSystemBase.
type FS struct {
	fuse.FileSystemBase

	ctx       context.Context
	tree      *vfs.Tree
	backend   storage.Backend
	uid, gid  uint32
	mountTime fuse.Timespec

	mu       sync.Mutex
	sessions map[uint64]*session.Session
	nextFh   atomic.Uint64
}

// NewFS returns a dispatcher for tree. ctx bounds storage calls.
func NewFS(ctx context.Context, tree *vfs.Tree, backend storage.Backend) *FS {
	return &FS{
		ctx:       ctx,
		tree:      tree,
		backend:   backend,
		uid:       uint32(os.Getuid()),
		gid:       uint32(os.Getgid()),
		mountTime: fuse.NewTimespec(time.Now()),
		sessions:  make(map[uint64]*session.Session),
	}
}

func done(op string, errc int) int {
	metrics.RecordFSOperation(op, errc)
	return errc
}

func (fs *FS) Init() {
	logging.Debug("filesystem init", zap.Int("nodes", fs.tree.Count()))
}

func (fs *FS) Destroy() {
	logging.Debug("filesystem destroy")
}

func (fs *FS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	n, ok := fs.tree.Resolve(path)
	if !ok {
		return done("getattr", -fuse.ENOENT)
	}
	fs.fillStat(n, stat)
	return done("getattr", 0)
}

func (fs *FS) Open(path string, flags int) (int, uint64) {
	n, ok := fs.tree.Resolve(path)
	if !ok {
		return done("open", -fuse.ENOENT), invalidFh
	}
	f, ok := n.File()
	if !ok {
		return done("open", -fuse.EISDIR), invalidFh
	}
	if flags&(os.O_WRONLY|os.O_RDWR) != 0 {
		return done("open", -fuse.EROFS), invalidFh
	}

	s := session.New(logging.NewContext(fs.ctx, logging.Path(path)), fs.backend, f.Desc)
	return done("open", 0), fs.allocFh(s)
}

func (fs *FS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	start := time.Now()
	n, ok := fs.tree.Resolve(path)
	if !ok {
		return done("read", -fuse.ENOENT)
	}
	f, ok := n.File()
	if !ok {
		return done("read", -fuse.EISDIR)
	}

	size := fs.logicalSize(f)
	if ofst >= size {
		return done("read", 0)
	}
	if remain := size - ofst; int64(len(buff)) > remain {
		buff = buff[:remain]
	}

	s := fs.getFh(fh)
	if s == nil {
		s = session.New(logging.NewContext(fs.ctx, logging.Path(path)), fs.backend, f.Desc)
		defer s.Close()
	}
	got := s.ReadAt(buff, ofst)
	metrics.RecordRead(got, time.Since(start))
	metrics.RecordFSOperation("read", 0)
	return got
}

func (fs *FS) Release(path string, fh uint64) int {
	if s := fs.freeFh(fh); s != nil {
		s.Close()
	}
	return done("release", 0)
}

func (fs *FS) Opendir(path string) (int, uint64) {
	n, ok := fs.tree.Resolve(path)
	if !ok {
		return done("opendir", -fuse.ENOENT), invalidFh
	}
	if _, ok := n.Dir(); !ok {
		return done("opendir", -fuse.ENOTDIR), invalidFh
	}
	return done("opendir", 0), 0
}

func (fs *FS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	n, ok := fs.tree.Resolve(path)
	if !ok {
		return done("readdir", -fuse.ENOENT)
	}
	children, err := fs.tree.Children(n.Handle())
	if err != nil {
		return done("readdir", errno(err))
	}

	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, c := range children {
		var st fuse.Stat_t
		fs.fillStat(c, &st)
		if !fill(c.Name(), &st, 0) {
			break
		}
	}
	return done("readdir", 0)
}

func (fs *FS) Mkdir(path string, mode uint32) int {
	if _, ok := fs.tree.Resolve(path); ok {
		return done("mkdir", -fuse.EEXIST)
	}
	parent, ok := fs.tree.Resolve(vfs.ParentOf(path))
	if !ok {
		return done("mkdir", -fuse.ENOENT)
	}
	if _, ok := parent.Dir(); !ok {
		return done("mkdir", -fuse.ENOENT)
	}
	if _, err := fs.tree.AddChild(parent.Handle(), vfs.LastComponent(path), vfs.NewDirectory()); err != nil {
		return done("mkdir", errno(err))
	}
	metrics.SetTreeNodes(fs.tree.Count())
	logging.Info("created directory", logging.Path(path))
	return done("mkdir", 0)
}

func (fs *FS) Rename(oldpath string, newpath string) int {
	src, ok := fs.tree.Resolve(oldpath)
	if !ok {
		return done("rename", -fuse.ENOENT)
	}
	dst, ok := fs.tree.Resolve(vfs.ParentOf(newpath))
	if !ok {
		return done("rename", -fuse.ENOENT)
	}
	if err := fs.tree.Rename(src.Handle(), dst.Handle(), vfs.LastComponent(newpath)); err != nil {
		return done("rename", errno(err))
	}
	metrics.SetTreeNodes(fs.tree.Count())
	if p, ok := fs.tree.Path(src.Handle()); ok {
		newpath = p
	}
	logging.Info("renamed", zap.String("from", oldpath), zap.String("to", newpath))
	return done("rename", 0)
}

func (fs *FS) Rmdir(path string) int {
	n, ok := fs.tree.Resolve(path)
	if !ok {
		return done("rmdir", -fuse.ENOENT)
	}
	if _, ok := n.Dir(); !ok {
		return done("rmdir", -fuse.ENOTDIR)
	}
	return done("rmdir", fs.remove(n, path))
}

func (fs *FS) Unlink(path string) int {
	n, ok := fs.tree.Resolve(path)
	if !ok {
		return done("unlink", -fuse.ENOENT)
	}
	return done("unlink", fs.remove(n, path))
}

func (fs *FS) remove(n *vfs.Node, path string) int {
	if err := fs.tree.RemoveChild(n.Handle()); err != nil {
		return errno(err)
	}
	metrics.SetTreeNodes(fs.tree.Count())
	logging.Info("removed", logging.Path(path))
	return 0
}

func (fs *FS) Statfs(path string, stat *fuse.Statfs_t) int {
	stat.Bsize = 4096
	stat.Frsize = 4096
	stat.Files = uint64(fs.tree.Count())
	stat.Namemax = 255
	return done("statfs", 0)
}

func (fs *FS) Getxattr(path string, name string) (int, []byte) {
	n, ok := fs.tree.Resolve(path)
	if !ok {
		return done("getxattr", -fuse.ENOENT), nil
	}
	f, ok := n.File()
	if !ok {
		return done("getxattr", -fuse.ENODATA), nil
	}
	var v string
	switch name {
	case XattrArchivePath:
		v = f.Desc.ArchivePath
	case XattrEncrypted:
		v = strconv.FormatBool(f.Desc.Encrypted())
	case XattrCipherBits:
		if !f.Desc.Encrypted() {
			return done("getxattr", -fuse.ENODATA), nil
		}
		v = strconv.Itoa(f.Desc.CipherBits)
	default:
		return done("getxattr", -fuse.ENODATA), nil
	}
	return done("getxattr", 0), []byte(v)
}

func (fs *FS) Listxattr(path string, fill func(name string) bool) int {
	n, ok := fs.tree.Resolve(path)
	if !ok {
		return done("listxattr", -fuse.ENOENT)
	}
	f, ok := n.File()
	if !ok {
		return done("listxattr", 0)
	}
	for _, name := range xattrNames {
		if name == XattrCipherBits && !f.Desc.Encrypted() {
			continue
		}
		if !fill(name) {
			return done("listxattr", -fuse.ERANGE)
		}
	}
	return done("listxattr", 0)
}
