// Package catalog defines where the list of mounted files comes from.
package catalog

import (
	"context"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/archive"
)

// Wildcard selects everything for a dataset or user filter.
const Wildcard = "*"

// Selection narrows the listed files. A concrete Dataset takes precedence
// over User.
type Selection struct {
	Dataset string
	User    string
}

// ByDataset reports whether the selection names a single dataset.
func (s Selection) ByDataset() bool {
	return s.Dataset != "" && s.Dataset != Wildcard
}

// Keys is the key material attached to every listed file.
type Keys struct {
	Password   string
	CipherBits int
}

// Describe builds a descriptor for one listed file.
func (k Keys) Describe(name, archivePath string) archive.Descriptor {
	return archive.Descriptor{
		DisplayName: name,
		ArchivePath: archivePath,
		Key:         k.Password,
		CipherBits:  k.CipherBits,
	}
}

// Source lists archives and datasets.
type Source interface {
	Files(ctx context.Context, sel Selection) ([]archive.Descriptor, error)
	Datasets(ctx context.Context, user string) ([]string, error)
	Close() error
}
