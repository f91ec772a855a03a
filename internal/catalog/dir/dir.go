// Package dir lists the archives found in one local directory. It stands in
// for the database catalog on workstations and in tests.
package dir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/archive"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/catalog"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/logging"
)

// Catalog lists the regular files directly inside a directory.
type Catalog struct {
	root string
	keys catalog.Keys
}

// New returns a catalog over root, which must be a directory.
func New(root string, keys catalog.Keys) (*Catalog, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat source dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", abs)
	}
	return &Catalog{root: abs, keys: keys}, nil
}

// Files returns one descriptor per regular file, sorted by name. Only
// files ending in .cip carry key material. The selection is ignored.
func (c *Catalog) Files(ctx context.Context, sel catalog.Selection) ([]archive.Descriptor, error) {
	if sel.ByDataset() || (sel.User != "" && sel.User != catalog.Wildcard) {
		logging.Debug("dir source ignores dataset and user filters",
			zap.String("dataset", sel.Dataset), zap.String("user", sel.User))
	}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.root, err)
	}
	var out []archive.Descriptor
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		desc := archive.Descriptor{
			DisplayName: name,
			ArchivePath: filepath.Join(c.root, name),
			CipherBits:  c.keys.CipherBits,
		}
		if archive.HasEncryptedSuffix(name) {
			if c.keys.Password == "" {
				return nil, fmt.Errorf("%s is encrypted but no password was given", name)
			}
			desc.Key = c.keys.Password
		}
		out = append(out, desc)
	}
	return out, nil
}

// Datasets reports the directory itself as the only dataset.
func (c *Catalog) Datasets(context.Context, string) ([]string, error) {
	return []string{filepath.Base(c.root)}, nil
}

// Close is a no-op.
func (c *Catalog) Close() error { return nil }
