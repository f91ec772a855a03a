// Package archive describes the files exposed by the mount.
package archive

import (
	"path"
	"strings"
)

// EncryptedSuffix marks encrypted containers in archive paths.
const EncryptedSuffix = ".cip"

// Descriptor is one file as reported by the catalog.
type Descriptor struct {
	DisplayName string `json:"display_name"`
	ArchivePath string `json:"archive_path"`
	Key         string `json:"-"`
	CipherBits  int    `json:"cipher_bits"`
}

// Encrypted reports whether the archive must be decrypted on read.
func (d Descriptor) Encrypted() bool {
	return d.Key != ""
}

// Name is the entry name shown in the mount: the base name of DisplayName
// (or of ArchivePath when DisplayName is empty) with a trailing .cip removed.
func (d Descriptor) Name() string {
	src := d.DisplayName
	if src == "" {
		src = d.ArchivePath
	}
	return DisplayName(src)
}

// DisplayName turns an archive name into an entry name. It never returns a
// string containing '/'.
func DisplayName(name string) string {
	name = strings.TrimRight(name, "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if len(name) > len(EncryptedSuffix) && strings.EqualFold(path.Ext(name), EncryptedSuffix) {
		name = name[:len(name)-len(EncryptedSuffix)]
	}
	return name
}

// HasEncryptedSuffix reports whether name ends in .cip, ignoring case.
func HasEncryptedSuffix(name string) bool {
	return strings.EqualFold(path.Ext(name), EncryptedSuffix)
}
