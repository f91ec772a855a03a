// Package smb provides an SMB/CIFS network share storage backend.
// The share must be pre-mounted on the OS (via mount.cifs or fstab).
// This backend delegates to the local filesystem backend at the mount path.
package smb

import (
	"fmt"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/storage/local"
)

// Config holds SMB backend settings.
type Config struct {
	MountPath string // local mount point where the share is mounted
}

// SMBBackend wraps a LocalBackend at the SMB mount point.
type SMBBackend struct {
	*local.LocalBackend
}

// New creates a new SMB backend from the given config.
func New(cfg Config) (*SMBBackend, error) {
	if cfg.MountPath == "" {
		return nil, fmt.Errorf("smb mount_path is required")
	}

	lb, err := local.New(local.Config{RootPath: cfg.MountPath, Label: "smb"})
	if err != nil {
		return nil, fmt.Errorf("smb backend at %s: %w", cfg.MountPath, err)
	}
	return &SMBBackend{LocalBackend: lb}, nil
}
