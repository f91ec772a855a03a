package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/archive"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/catalog"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/cip"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/config"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/fusefs"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/logging"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/storage"
)

// listFiles resolves the configured selection into descriptors.
func listFiles(ctx context.Context, cfg *config.Config) ([]archive.Descriptor, error) {
	src, err := openCatalog(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	descs, err := src.Files(ctx, catalog.Selection{Dataset: cfg.Dataset, User: cfg.User})
	if err != nil {
		return nil, err
	}
	logging.Info("resolved file list",
		zap.Int("files", len(descs)),
		zap.String("dataset", cfg.Dataset),
		zap.String("user", cfg.User))
	return descs, nil
}

func runMount(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateMount(); err != nil {
		return err
	}
	descs, err := listFiles(ctx, cfg)
	if err != nil {
		return err
	}
	backend, err := storage.NewBackend(ctx, cfg.File.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	m := fusefs.NewMounter(ctx, descs, backend, fusefs.Options{
		MountPoint: cfg.MountPoint,
		AllowOther: cfg.AllowOther,
	})
	return m.Run(ctx)
}

func runList(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateSource(); err != nil {
		return err
	}
	descs, err := listFiles(ctx, cfg)
	if err != nil {
		return err
	}
	backend, err := storage.NewBackend(ctx, cfg.File.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	return writeListing(os.Stdout, descs, func(d archive.Descriptor) (int64, bool) {
		n, err := backend.Stat(ctx, d.ArchivePath)
		if err != nil {
			logging.Debug("stat archive failed", logging.Archive(d.ArchivePath), zap.Error(err))
			return 0, false
		}
		return cip.LogicalSize(n, d.Encrypted()), true
	})
}

// writeListing prints one line per descriptor: entry name, decrypted size
// and archive path. size reports false when the archive is unreachable.
func writeListing(w io.Writer, descs []archive.Descriptor, size func(archive.Descriptor) (int64, bool)) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tARCHIVE")
	for _, d := range descs {
		human := "-"
		if n, ok := size(d); ok {
			human = humanize.Bytes(uint64(n))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name(), human, d.ArchivePath)
	}
	return tw.Flush()
}

func runDatasets(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateSource(); err != nil {
		return err
	}
	src, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	names, err := src.Datasets(ctx, cfg.User)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

// runEncrypt seals a plaintext file into a container and stores it through
// the configured backend.
func runEncrypt(ctx context.Context, cfg *config.Config) error {
	if len(cfg.Args) != 2 {
		return fmt.Errorf("usage: ega-fuse encrypt -p PASSWORD [-k BITS] <plaintext> <archive-path>")
	}
	in, dest := cfg.Args[0], cfg.Args[1]

	key, err := cip.DeriveKey(cfg.Password, cfg.CipherBits)
	if err != nil {
		return err
	}
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	backend, err := storage.NewBackend(ctx, cfg.File.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	size := info.Size() + cip.TrailerSize
	if err := encryptTo(ctx, backend, dest, f, key, size); err != nil {
		return err
	}
	logging.Info("archive written",
		logging.Archive(dest),
		zap.String("backend", backend.Type()),
		zap.String("size", humanize.Bytes(uint64(size))),
		zap.Int("bits", cfg.CipherBits))
	return nil
}

// encryptTo streams the container for src into backend under key dest.
func encryptTo(ctx context.Context, backend storage.Backend, dest string, src io.Reader, key []byte, size int64) error {
	pr, pw := io.Pipe()
	go func() {
		_, err := cip.Encrypt(pw, src, key)
		pw.CloseWithError(err)
	}()
	err := backend.PutObject(ctx, dest, pr, size)
	pr.CloseWithError(err)
	return err
}
