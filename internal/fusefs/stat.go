package fusefs

import (
	"errors"

	"github.com/winfsp/cgofuse/fuse"
	"go.uber.org/zap"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/cip"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/logging"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/metrics"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/vfs"
)

const (
	dirMode  = fuse.S_IFDIR | 0o755
	fileMode = fuse.S_IFREG | 0o444
)

// logicalSize is the size readers see. The physical size is fetched once
// per file and cached on the node; failures are logged and report 0.
func (fs *FS) logicalSize(f *vfs.File) int64 {
	phys, ok := f.PhysicalSize()
	if !ok {
		n, err := fs.backend.Stat(fs.ctx, f.Desc.ArchivePath)
		if err != nil {
			metrics.RecordSessionFailure("stat")
			logging.Warn("stat archive failed", logging.Archive(f.Desc.ArchivePath), zap.Error(err))
			return 0
		}
		f.SetPhysicalSize(n)
		phys = n
	}
	return cip.LogicalSize(phys, f.Desc.Encrypted())
}

func (fs *FS) fillStat(n *vfs.Node, stat *fuse.Stat_t) {
	switch e := n.Entry().(type) {
	case *vfs.Directory:
		stat.Mode = dirMode
		stat.Nlink = 2
	case *vfs.File:
		stat.Mode = fileMode
		stat.Nlink = 1
		stat.Size = fs.logicalSize(e)
	}
	stat.Uid = fs.uid
	stat.Gid = fs.gid
	stat.Mtim = fs.mountTime
	stat.Atim = fs.mountTime
	stat.Ctim = fs.mountTime
	stat.Birthtim = fs.mountTime
}

// errno maps tree errors onto negative FUSE status codes.
func errno(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, vfs.ErrNotFound):
		return -fuse.ENOENT
	case errors.Is(err, vfs.ErrNotDirectory):
		return -fuse.ENOTDIR
	case errors.Is(err, vfs.ErrIsDirectory):
		return -fuse.EISDIR
	case errors.Is(err, vfs.ErrExists):
		return -fuse.EEXIST
	case errors.Is(err, vfs.ErrNotEmpty):
		return -fuse.ENOTEMPTY
	case errors.Is(err, vfs.ErrBusy):
		return -fuse.EBUSY
	case errors.Is(err, vfs.ErrInvalid):
		return -fuse.EINVAL
	default:
		return -fuse.EIO
	}
}
