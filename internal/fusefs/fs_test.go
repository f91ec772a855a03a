package fusefs

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/winfsp/cgofuse/fuse"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/archive"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/cip"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/logging"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/storage"
	"github.com/elixir-europe/human-data-local-ega-fuse/internal/storage/local"
)

const testPassword = "secret"

type fixture struct {
	fs        *FS
	encrypted []byte
	cleartext []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	enc := make([]byte, 1000)
	rand.New(rand.NewSource(1)).Read(enc)
	key, err := cip.DeriveKey(testPassword, 256)
	if err != nil {
		t.Fatal(err)
	}
	var sealed bytes.Buffer
	if _, err := cip.Encrypt(&sealed, bytes.NewReader(enc), key); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "reads.bam.cip"), sealed.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	plain := []byte("cleartext payload\n")
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), plain, 0o644); err != nil {
		t.Fatal(err)
	}

	lb, err := local.New(local.Config{RootPath: root})
	if err != nil {
		t.Fatal(err)
	}
	descs := []archive.Descriptor{
		{DisplayName: "reads.bam.cip", ArchivePath: "reads.bam.cip", Key: testPassword, CipherBits: 256},
		{DisplayName: "notes.txt", ArchivePath: "notes.txt"},
		{DisplayName: "missing.cip", ArchivePath: "missing.cip", Key: testPassword, CipherBits: 256},
	}
	fs := NewFS(context.Background(), BuildTree(descs), storage.Wrap[*local.Object](lb))
	return &fixture{fs: fs, encrypted: enc, cleartext: plain}
}

func (f *fixture) readdir(t *testing.T, path string) (int, []string) {
	t.Helper()
	var names []string
	errc := f.fs.Readdir(path, func(name string, _ *fuse.Stat_t, _ int64) bool {
		names = append(names, name)
		return true
	}, 0, 0)
	return errc, names
}

func TestGetattr(t *testing.T) {
	f := newFixture(t)

	var st fuse.Stat_t
	if errc := f.fs.Getattr("/", &st, invalidFh); errc != 0 || st.Mode != dirMode {
		t.Errorf("Getattr(/) = %d, mode %o", errc, st.Mode)
	}

	st = fuse.Stat_t{}
	if errc := f.fs.Getattr("/reads.bam", &st, invalidFh); errc != 0 {
		t.Fatalf("Getattr(/reads.bam) = %d", errc)
	}
	if st.Mode != fileMode || st.Size != 1000 {
		t.Errorf("encrypted file mode %o size %d, want %o 1000", st.Mode, st.Size, fileMode)
	}

	st = fuse.Stat_t{}
	f.fs.Getattr("/notes.txt", &st, invalidFh)
	if st.Size != int64(len(f.cleartext)) {
		t.Errorf("cleartext size = %d, want %d", st.Size, len(f.cleartext))
	}

	// Stat failure reports size 0 rather than an error.
	st = fuse.Stat_t{}
	if errc := f.fs.Getattr("/missing", &st, invalidFh); errc != 0 || st.Size != 0 {
		t.Errorf("Getattr(/missing) = %d, size %d", errc, st.Size)
	}

	if errc := f.fs.Getattr("/nope", &st, invalidFh); errc != -fuse.ENOENT {
		t.Errorf("Getattr(/nope) = %d, want -ENOENT", errc)
	}
}

func TestOpenReadRelease(t *testing.T) {
	f := newFixture(t)

	errc, fh := f.fs.Open("/reads.bam", fuse.O_RDONLY)
	if errc != 0 {
		t.Fatalf("Open() = %d", errc)
	}
	if f.fs.openSessions() != 1 {
		t.Errorf("openSessions() = %d", f.fs.openSessions())
	}

	buf := make([]byte, 100)
	if n := f.fs.Read("/reads.bam", buf, 500, fh); n != 100 || !bytes.Equal(buf, f.encrypted[500:600]) {
		t.Errorf("Read(500, 100) = %d bytes, match=%v", n, bytes.Equal(buf, f.encrypted[500:600]))
	}

	buf = make([]byte, 64)
	if n := f.fs.Read("/reads.bam", buf, 980, fh); n != 20 || !bytes.Equal(buf[:n], f.encrypted[980:]) {
		t.Errorf("Read(980, 64) = %d, want 20", n)
	}
	if n := f.fs.Read("/reads.bam", buf, 1000, fh); n != 0 {
		t.Errorf("Read at end = %d, want 0", n)
	}

	if errc := f.fs.Release("/reads.bam", fh); errc != 0 {
		t.Errorf("Release() = %d", errc)
	}
	if f.fs.openSessions() != 0 {
		t.Errorf("session not released")
	}
}

func TestReadWithoutHandle(t *testing.T) {
	f := newFixture(t)
	buf := make([]byte, 9)
	if n := f.fs.Read("/notes.txt", buf, 0, invalidFh); n != 9 || string(buf) != "cleartext" {
		t.Errorf("Read() = %d, %q", n, buf)
	}
}

func TestOpenErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		path  string
		flags int
		want  int
	}{
		{"/nope", fuse.O_RDONLY, -fuse.ENOENT},
		{"/", fuse.O_RDONLY, -fuse.EISDIR},
		{"/notes.txt", fuse.O_RDWR, -fuse.EROFS},
	}
	for _, tt := range tests {
		if errc, _ := f.fs.Open(tt.path, tt.flags); errc != tt.want {
			t.Errorf("Open(%q) = %d, want %d", tt.path, errc, tt.want)
		}
	}
	if n := f.fs.Read("/", make([]byte, 1), 0, invalidFh); n != -fuse.EISDIR {
		t.Errorf("Read(/) = %d, want -EISDIR", n)
	}
	if n := f.fs.Read("/nope", make([]byte, 1), 0, invalidFh); n != -fuse.ENOENT {
		t.Errorf("Read(/nope) = %d, want -ENOENT", n)
	}
}

func TestReaddir(t *testing.T) {
	f := newFixture(t)
	errc, names := f.readdir(t, "/")
	if errc != 0 {
		t.Fatalf("Readdir(/) = %d", errc)
	}
	want := []string{".", "..", "reads.bam", "notes.txt", "missing"}
	if len(names) != len(want) {
		t.Fatalf("Readdir(/) = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, names[i], want[i])
		}
	}

	if errc, _ := f.readdir(t, "/notes.txt"); errc != -fuse.ENOTDIR {
		t.Errorf("Readdir(file) = %d, want -ENOTDIR", errc)
	}
	if errc, _ := f.readdir(t, "/nope"); errc != -fuse.ENOENT {
		t.Errorf("Readdir(missing) = %d, want -ENOENT", errc)
	}
	if errc, _ := f.fs.Opendir("/notes.txt"); errc != -fuse.ENOTDIR {
		t.Errorf("Opendir(file) = %d", errc)
	}
}

func TestMkdirRenameRemove(t *testing.T) {
	f := newFixture(t)

	if errc := f.fs.Mkdir("/d", 0o755); errc != 0 {
		t.Fatalf("Mkdir(/d) = %d", errc)
	}
	if errc := f.fs.Mkdir("/d", 0o755); errc != -fuse.EEXIST {
		t.Errorf("Mkdir(/d) again = %d, want -EEXIST", errc)
	}
	if errc := f.fs.Mkdir("/x/y", 0o755); errc != -fuse.ENOENT {
		t.Errorf("Mkdir under missing parent = %d, want -ENOENT", errc)
	}
	if errc := f.fs.Mkdir("/notes.txt/y", 0o755); errc != -fuse.ENOENT {
		t.Errorf("Mkdir under file = %d, want -ENOENT", errc)
	}

	if errc := f.fs.Rename("/reads.bam", "/d/sample.bam"); errc != 0 {
		t.Fatalf("Rename() = %d", errc)
	}
	var st fuse.Stat_t
	if errc := f.fs.Getattr("/reads.bam", &st, invalidFh); errc != -fuse.ENOENT {
		t.Errorf("old path Getattr = %d, want -ENOENT", errc)
	}
	if errc := f.fs.Getattr("/d/sample.bam", &st, invalidFh); errc != 0 || st.Size != 1000 {
		t.Errorf("new path Getattr = %d, size %d", errc, st.Size)
	}
	buf := make([]byte, 10)
	if n := f.fs.Read("/d/sample.bam", buf, 0, invalidFh); n != 10 || !bytes.Equal(buf, f.encrypted[:10]) {
		t.Error("content changed after rename")
	}

	renameErrors := []struct {
		from, to string
		want     int
	}{
		{"/nope", "/x", -fuse.ENOENT},
		{"/notes.txt", "/nodir/x", -fuse.ENOENT},
		{"/notes.txt", "/missing/x", -fuse.ENOTDIR},
		{"/d", "/d/inner", -fuse.EINVAL},
		{"/", "/r", -fuse.EBUSY},
	}
	for _, tt := range renameErrors {
		if errc := f.fs.Rename(tt.from, tt.to); errc != tt.want {
			t.Errorf("Rename(%q, %q) = %d, want %d", tt.from, tt.to, errc, tt.want)
		}
	}

	if errc := f.fs.Rmdir("/notes.txt"); errc != -fuse.ENOTDIR {
		t.Errorf("Rmdir(file) = %d, want -ENOTDIR", errc)
	}
	if errc := f.fs.Rmdir("/nope"); errc != -fuse.ENOENT {
		t.Errorf("Rmdir(missing) = %d", errc)
	}
	// Non-empty directories are detached whole.
	if errc := f.fs.Rmdir("/d"); errc != 0 {
		t.Errorf("Rmdir(/d) = %d", errc)
	}
	if errc := f.fs.Getattr("/d/sample.bam", &st, invalidFh); errc != -fuse.ENOENT {
		t.Errorf("child of removed dir still resolves: %d", errc)
	}
	if errc := f.fs.Rmdir("/"); errc != -fuse.EBUSY {
		t.Errorf("Rmdir(/) = %d, want -EBUSY", errc)
	}

	if errc := f.fs.Unlink("/notes.txt"); errc != 0 {
		t.Errorf("Unlink() = %d", errc)
	}
	if errc := f.fs.Unlink("/notes.txt"); errc != -fuse.ENOENT {
		t.Errorf("Unlink() again = %d", errc)
	}
	_, names := f.readdir(t, "/")
	if len(names) != 3 || names[2] != "missing" {
		t.Errorf("root after removals = %v", names)
	}
}

func TestRenameLogsTreePath(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	defer logging.Replace(zap.New(core))()

	f := newFixture(t)
	f.fs.Mkdir("/d", 0o755)
	if errc := f.fs.Rename("/notes.txt", "//d//notes.txt"); errc != 0 {
		t.Fatalf("Rename() = %d", errc)
	}
	entries := logs.FilterMessage("renamed").All()
	if len(entries) != 1 {
		t.Fatalf("got %d rename entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["to"]; got != "/d/notes.txt" {
		t.Errorf("logged destination = %v, want /d/notes.txt", got)
	}
}

func TestOpenTagsSessionLogs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	defer logging.Replace(zap.New(core))()

	f := newFixture(t)
	errc, fh := f.fs.Open("/missing", fuse.O_RDONLY)
	if errc != 0 {
		t.Fatalf("Open() = %d", errc)
	}
	defer f.fs.Release("/missing", fh)
	f.fs.sessions[fh].ReadAt(make([]byte, 4), 0)

	entries := logs.FilterMessage("open archive failed").All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["path"] != "/missing" || fields["archive"] != "missing.cip" {
		t.Errorf("fields = %v", fields)
	}
}

func TestXattrs(t *testing.T) {
	f := newFixture(t)

	errc, v := f.fs.Getxattr("/reads.bam", XattrArchivePath)
	if errc != 0 || string(v) != "reads.bam.cip" {
		t.Errorf("Getxattr(archive_path) = %d, %q", errc, v)
	}
	if errc, v := f.fs.Getxattr("/reads.bam", XattrCipherBits); errc != 0 || string(v) != "256" {
		t.Errorf("Getxattr(cipher_bits) = %d, %q", errc, v)
	}
	if errc, v := f.fs.Getxattr("/notes.txt", XattrEncrypted); errc != 0 || string(v) != "false" {
		t.Errorf("Getxattr(encrypted) = %d, %q", errc, v)
	}
	if errc, _ := f.fs.Getxattr("/notes.txt", XattrCipherBits); errc != -fuse.ENODATA {
		t.Errorf("cipher_bits on cleartext = %d, want -ENODATA", errc)
	}
	if errc, _ := f.fs.Getxattr("/", XattrEncrypted); errc != -fuse.ENODATA {
		t.Errorf("xattr on dir = %d", errc)
	}

	var names []string
	f.fs.Listxattr("/reads.bam", func(name string) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	if len(names) != 3 {
		t.Errorf("Listxattr() = %v", names)
	}
}

func TestStatfs(t *testing.T) {
	f := newFixture(t)
	var st fuse.Statfs_t
	if errc := f.fs.Statfs("/", &st); errc != 0 || st.Files != 4 || st.Namemax != 255 {
		t.Errorf("Statfs() = %d, %+v", errc, st)
	}
}

func TestConcurrentHandles(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errc, fh := f.fs.Open("/reads.bam", fuse.O_RDONLY)
			if errc != 0 {
				t.Errorf("Open() = %d", errc)
				return
			}
			defer f.fs.Release("/reads.bam", fh)
			for off := i * 7; off < 1000; off += 97 {
				buf := make([]byte, 50)
				n := f.fs.Read("/reads.bam", buf, int64(off), fh)
				end := off + n
				if !bytes.Equal(buf[:n], f.encrypted[off:end]) {
					t.Errorf("Read(%d) mismatch", off)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	if f.fs.openSessions() != 0 {
		t.Errorf("sessions leaked: %d", f.fs.openSessions())
	}
}

func TestCloseAll(t *testing.T) {
	f := newFixture(t)
	f.fs.Open("/reads.bam", fuse.O_RDONLY)
	f.fs.Open("/notes.txt", fuse.O_RDONLY)
	if n := f.fs.closeAll(); n != 2 {
		t.Errorf("closeAll() = %d, want 2", n)
	}
	if f.fs.openSessions() != 0 {
		t.Error("sessions remain after closeAll")
	}
}
