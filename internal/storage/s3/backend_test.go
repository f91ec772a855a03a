package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
)

// fakeS3 serves HEAD and ranged GET requests for a path-style bucket.
type fakeS3 struct {
	bucket  string
	objects map[string][]byte
	gets    atomic.Int64
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == f.bucket {
		w.WriteHeader(http.StatusOK)
		return
	}
	key := strings.TrimPrefix(path, f.bucket+"/")
	data, ok := f.objects[key]
	if !ok {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
		return
	}

	switch r.Method {
	case http.MethodHead:
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		f.gets.Add(1)
		var start, end int
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		if end >= len(data) {
			end = len(data) - 1
		}
		body := data[start : end+1]
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestBackend(t *testing.T, objects map[string][]byte) (*S3Backend, *fakeS3) {
	t.Helper()
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")
	fake := &fakeS3{bucket: "archive", objects: objects}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	b, err := NewBackend(context.Background(), BackendConfig{
		Endpoint:  srv.URL,
		Bucket:    "archive",
		AccessKey: "test",
		SecretKey: "test",
		Region:    "us-east-1",
		Prefix:    "/staging/",
	})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	return b, fake
}

func TestStatAndRangedRead(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 20)
	b, fake := newTestBackend(t, map[string][]byte{"staging/dir/a.cip": data})
	ctx := context.Background()

	n, err := b.Stat(ctx, "/dir/a.cip")
	if err != nil || n != int64(len(data)) {
		t.Fatalf("Stat() = %d, %v", n, err)
	}

	obj, err := b.Open(ctx, "/dir/a.cip")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer obj.Close()

	buf := make([]byte, 15)
	got, err := obj.ReadAt(buf, 42)
	if err != nil || got != 15 {
		t.Fatalf("ReadAt() = %d, %v", got, err)
	}
	if !bytes.Equal(buf, data[42:57]) {
		t.Errorf("ReadAt() bytes = %q, want %q", buf, data[42:57])
	}

	got, err = obj.ReadAt(buf, 195)
	if got != 5 || err != io.EOF {
		t.Errorf("ReadAt past end = %d, %v; want 5, EOF", got, err)
	}
	if got, err := obj.ReadAt(buf, 200); got != 0 || err != io.EOF {
		t.Errorf("ReadAt at end = %d, %v", got, err)
	}
	if fake.gets.Load() != 2 {
		t.Errorf("GET requests = %d, want 2", fake.gets.Load())
	}
}

func TestMissingObject(t *testing.T) {
	b, _ := newTestBackend(t, map[string][]byte{})
	_, err := b.Stat(context.Background(), "nope.cip")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat(missing) error = %v, want ErrNotExist", err)
	}
	if _, err := b.Open(context.Background(), "nope.cip"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open(missing) error = %v", err)
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, key, want string
	}{
		{"", "/a/b.cip", "a/b.cip"},
		{"", "a", "a"},
		{"p", "/a", "p/a"},
	}
	for _, tt := range tests {
		b := &S3Backend{prefix: tt.prefix}
		if got := b.objectKey(tt.key); got != tt.want {
			t.Errorf("objectKey(%q) with prefix %q = %q, want %q", tt.key, tt.prefix, got, tt.want)
		}
	}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"", false, ""},
		{"minio:9000", false, "http://minio:9000"},
		{"minio:9000", true, "https://minio:9000"},
		{"https://s3.example.org", false, "https://s3.example.org"},
	}
	for _, tt := range tests {
		if got := endpointURL(tt.in, tt.ssl); got != tt.want {
			t.Errorf("endpointURL(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.want)
		}
	}
}

func TestNewBackendRequiresBucket(t *testing.T) {
	if _, err := NewBackend(context.Background(), BackendConfig{}); err == nil {
		t.Error("missing bucket should fail")
	}
}
