package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/config"
)

func TestNewBackend(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "x"), []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tests := []struct {
		name     string
		cfg      config.Storage
		wantType string
		wantErr  bool
	}{
		{"default", config.Storage{}, "local", false},
		{"local", config.Storage{Backend: "local", Local: config.LocalStorage{Root: root}}, "local", false},
		{"smb", config.Storage{Backend: "smb", SMB: config.SMBStorage{MountPath: root}}, "smb", false},
		{"smb without path", config.Storage{Backend: "smb"}, "", true},
		{"unknown", config.Storage{Backend: "ftp"}, "", true},
	}
	for _, tt := range tests {
		b, err := NewBackend(ctx, tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: NewBackend() error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if err == nil && b.Type() != tt.wantType {
			t.Errorf("%s: Type() = %q, want %q", tt.name, b.Type(), tt.wantType)
		}
	}
}

func TestWrappedOpen(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "x"), []byte("abcdef"), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := NewBackend(context.Background(), config.Storage{Local: config.LocalStorage{Root: root}})
	if err != nil {
		t.Fatal(err)
	}
	obj, err := b.Open(context.Background(), "x")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer obj.Close()
	if obj.Size() != 6 {
		t.Errorf("Size() = %d", obj.Size())
	}

	// A failed open must yield a nil interface, not a typed nil.
	obj2, err := b.Open(context.Background(), "missing")
	if err == nil || obj2 != nil {
		t.Errorf("Open(missing) = %v, %v", obj2, err)
	}
}
