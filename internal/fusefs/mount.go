package fusefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/winfsp/cgofuse/fuse"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/archive"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/logging"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/metrics"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/storage"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/vfs"
)

// DefaultFSName is reported to the kernel as the mount source.
const DefaultFSName = "ega-fuse"

// Options configures a mount.
type Options struct {
	MountPoint string
	AllowOther bool
	FSName     string
	// Extra are passed to the host verbatim, e.g. {"-o", "debug"}.
	Extra []string
}

// Mounter owns one mount: the tree built from the catalog and the host
// serving it.
type Mounter struct {
	opts Options
	fs   *FS
}

// BuildTree places one file per descriptor directly under the root, in
// order. A descriptor whose name is already taken is logged and skipped.
func BuildTree(descs []archive.Descriptor) *vfs.Tree {
	t := vfs.New()
	for _, d := range descs {
		name := d.Name()
		if _, err := t.AddChild(vfs.RootHandle, name, vfs.NewFile(d)); err != nil {
			logging.Warn("skipping archive",
				logging.Archive(d.ArchivePath),
				zap.String("name", name),
				zap.Error(err))
		}
	}
	metrics.SetTreeNodes(t.Count())
	return t
}

// NewMounter builds the tree for descs. ctx bounds storage calls made while
// serving.
func NewMounter(ctx context.Context, descs []archive.Descriptor, backend storage.Backend, opts Options) *Mounter {
	if opts.FSName == "" {
		opts.FSName = DefaultFSName
	}
	return &Mounter{
		opts: opts,
		fs:   NewFS(ctx, BuildTree(descs), backend),
	}
}

// FS returns the dispatcher handed to the host.
func (m *Mounter) FS() *FS { return m.fs }

// Args returns the host command line for this mount.
func (m *Mounter) Args() []string {
	args := []string{"-o", "fsname=" + m.opts.FSName}
	if m.opts.AllowOther {
		args = append(args, "-o", "allow_other")
	}
	return append(args, m.opts.Extra...)
}

// Run mounts and blocks until the filesystem is unmounted, either
// externally (fusermount -u) or because ctx was cancelled.
func (m *Mounter) Run(ctx context.Context) error {
	if err := CheckMountPoint(m.opts.MountPoint); err != nil {
		return err
	}

	host := fuse.NewFileSystemHost(m.fs)
	host.SetCapReaddirPlus(false)
	defer func() {
		if n := m.fs.closeAll(); n > 0 {
			logging.Info("closed sessions left open at unmount", zap.Int("count", n))
		}
	}()

	logging.Info("mounting",
		zap.String("mountpoint", m.opts.MountPoint),
		zap.Int("nodes", m.fs.tree.Count()),
		zap.Bool("allow_other", m.opts.AllowOther))
	return serve(ctx, host, m.opts.MountPoint, m.Args())
}

// fuseHost is the part of *fuse.FileSystemHost that serve drives.
type fuseHost interface {
	Mount(mountpoint string, opts []string) bool
	Unmount() bool
}

// unmountRetry is how often serve repeats an unmount the host refused
// because it had not finished mounting yet.
var unmountRetry = 100 * time.Millisecond

// serve runs host.Mount, which blocks until unmounted, and unmounts when ctx
// is cancelled.
func serve(ctx context.Context, host fuseHost, mountpoint string, args []string) error {
	mounted := make(chan bool, 1)
	go func() {
		mounted <- host.Mount(mountpoint, args)
	}()

	select {
	case ok := <-mounted:
		if !ok {
			return fmt.Errorf("mount %s failed", mountpoint)
		}
		logging.Info("unmounted", zap.String("mountpoint", mountpoint))
		return nil
	case <-ctx.Done():
	}

	logging.Info("unmounting", zap.String("mountpoint", mountpoint))
	ticker := time.NewTicker(unmountRetry)
	defer ticker.Stop()
	for !host.Unmount() {
		select {
		case <-mounted:
			return nil
		case <-ticker.C:
		}
	}
	<-mounted
	return nil
}

var (
	ErrMountPointMissing  = errors.New("mountpoint does not exist")
	ErrMountPointNotDir   = errors.New("mountpoint is not a directory")
	ErrMountPointNotEmpty = errors.New("mountpoint is not empty")
	ErrMountPointReadOnly = errors.New("mountpoint is not writable")
)

// CheckMountPoint verifies that p exists, is an empty directory and is
// writable by the current user.
func CheckMountPoint(p string) error {
	if p == "" {
		return ErrMountPointMissing
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrMountPointMissing, p)
		}
		return fmt.Errorf("stat mountpoint: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrMountPointNotDir, p)
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return fmt.Errorf("read mountpoint: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s", ErrMountPointNotEmpty, p)
	}
	if err := unix.Access(p, unix.W_OK); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMountPointReadOnly, p, err)
	}
	return nil
}
