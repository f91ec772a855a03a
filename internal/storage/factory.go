package storage

import (
	"context"
	"fmt"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/config"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/storage/local"
	s3backend "github.com/elixir-europe/human-data-local-ega-fuse/internal/storage/s3"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/storage/smb"
)

// NewBackend creates a Backend from the storage section of the config file.
// An empty backend name selects local storage with archive paths used as is.
func NewBackend(ctx context.Context, cfg config.Storage) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		b, err := local.New(local.Config{RootPath: cfg.Local.Root})
		if err != nil {
			return nil, err
		}
		return Wrap[*local.Object](b), nil
	case "smb":
		b, err := smb.New(smb.Config{MountPath: cfg.SMB.MountPath})
		if err != nil {
			return nil, err
		}
		return Wrap[*local.Object](b), nil
	case "s3":
		b, err := s3backend.NewBackend(ctx, s3backend.BackendConfig{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
			Prefix:    cfg.S3.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return Wrap[*s3backend.Object](b), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
