package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aerodocs/aerodocs/internal/config"
)

// newTestBackend creates a LocalBackend rooted in a temporary directory.
func newTestBackend(t *testing.T, baseURL string) *LocalBackend {
	t.Helper()
	dir, err := os.MkdirTemp("", "local-storage-test-*")
	if err != nil {
		t.Fatal("MkdirTemp:", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := &config.LocalStorageConfig{BasePath: dir}
	b, err := New(cfg, baseURL)
	if err != nil {
		t.Fatal("New:", err)
	}
	return b
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_CreatesDirectory(t *testing.T) {
	dir, err := os.MkdirTemp("", "new-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	subDir := filepath.Join(dir, "a", "b", "c")
	cfg := &config.LocalStorageConfig{BasePath: subDir}
	_, err = New(cfg, "http://localhost")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(subDir); os.IsNotExist(err) {
		t.Error("New() did not create base directory")
	}
}

// ---------------------------------------------------------------------------
// Put
// ---------------------------------------------------------------------------

func TestPut(t *testing.T) {
	b := newTestBackend(t, "http://localhost")
	ctx := context.Background()

	content := "hello, world"
	result, err := b.Put(ctx, "test/hello.pdf", strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	if result.Path != "test/hello.pdf" {
		t.Errorf("Path = %q, want test/hello.pdf", result.Path)
	}
	if result.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", result.Size, len(content))
	}
	if len(result.Checksum) != 64 {
		t.Errorf("Checksum len = %d, want 64 (SHA256 hex)", len(result.Checksum))
	}
}

func TestPut_CreatesSubdirectories(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()

	_, err := b.Put(ctx, "pilots/pilot-1/doc-1/medical.pdf", strings.NewReader("data"), 4)
	if err != nil {
		t.Fatalf("Put() error for deep path: %v", err)
	}

	fullPath := filepath.Join(b.basePath, "pilots", "pilot-1", "doc-1", "medical.pdf")
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		t.Error("Put() did not create file at nested path")
	}
}

func TestPut_ChecksumConsistency(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()

	content := "consistent data"
	r1, _ := b.Put(ctx, "file1.pdf", strings.NewReader(content), int64(len(content)))
	b.Delete(ctx, "file1.pdf")
	r2, _ := b.Put(ctx, "file1.pdf", strings.NewReader(content), int64(len(content)))

	if r1.Checksum != r2.Checksum {
		t.Errorf("same content produced different checksums: %q vs %q", r1.Checksum, r2.Checksum)
	}
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func TestGet(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()

	want := "download me"
	if _, err := b.Put(ctx, "dl.pdf", strings.NewReader(want), int64(len(want))); err != nil {
		t.Fatal("Put:", err)
	}

	rc, err := b.Get(ctx, "dl.pdf")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != want {
		t.Errorf("Get() content = %q, want %q", string(data), want)
	}
}

func TestGet_NotFound(t *testing.T) {
	b := newTestBackend(t, "")

	_, err := b.Get(context.Background(), "nonexistent.pdf")
	if err == nil {
		t.Error("Get() expected error for missing file, got nil")
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestDelete(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()

	if _, err := b.Put(ctx, "to-delete.pdf", strings.NewReader("bye"), 3); err != nil {
		t.Fatal("Put:", err)
	}

	if err := b.Delete(ctx, "to-delete.pdf"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	exists, _ := b.Exists(ctx, "to-delete.pdf")
	if exists {
		t.Error("Delete() file still exists after deletion")
	}
}

func TestDelete_NonExistentFile(t *testing.T) {
	b := newTestBackend(t, "")

	if err := b.Delete(context.Background(), "does-not-exist.pdf"); err != nil {
		t.Errorf("Delete() error for non-existent file: %v (want nil)", err)
	}
}

func TestDelete_CleansUpEmptyParentDirs(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()

	if _, err := b.Put(ctx, "pilots/pilot-1/leaf.pdf", strings.NewReader("x"), 1); err != nil {
		t.Fatal("Put:", err)
	}

	if err := b.Delete(ctx, "pilots/pilot-1/leaf.pdf"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	subDir := filepath.Join(b.basePath, "pilots")
	if _, err := os.Stat(subDir); !os.IsNotExist(err) {
		t.Error("Delete() should clean up empty parent directories")
	}
}

// ---------------------------------------------------------------------------
// Exists
// ---------------------------------------------------------------------------

func TestExists(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()

	ok, err := b.Exists(ctx, "no-such.pdf")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if ok {
		t.Error("Exists() = true for non-existent file, want false")
	}

	if _, err := b.Put(ctx, "yes.pdf", strings.NewReader("data"), 4); err != nil {
		t.Fatal("Put:", err)
	}

	ok, err = b.Exists(ctx, "yes.pdf")
	if err != nil {
		t.Fatalf("Exists() error after upload: %v", err)
	}
	if !ok {
		t.Error("Exists() = false for existing file, want true")
	}
}

// ---------------------------------------------------------------------------
// SignedURL
// ---------------------------------------------------------------------------

func TestSignedURL(t *testing.T) {
	b := newTestBackend(t, "https://docs.example.com")
	ctx := context.Background()

	if _, err := b.Put(ctx, "pilots/pilot-1/doc-1/medical.pdf", strings.NewReader("data"), 4); err != nil {
		t.Fatal("Put:", err)
	}

	url, err := b.SignedURL(ctx, "pilots/pilot-1/doc-1/medical.pdf", time.Hour)
	if err != nil {
		t.Fatalf("SignedURL() error: %v", err)
	}
	want := "https://docs.example.com/api/v1/files/pilots/pilot-1/doc-1/medical.pdf"
	if url != want {
		t.Errorf("SignedURL() = %q, want %q", url, want)
	}
}

func TestSignedURL_NotFound(t *testing.T) {
	b := newTestBackend(t, "https://docs.example.com")

	_, err := b.SignedURL(context.Background(), "missing.pdf", time.Hour)
	if err == nil {
		t.Error("SignedURL() expected error for missing file, got nil")
	}
}

// ---------------------------------------------------------------------------
// Stat
// ---------------------------------------------------------------------------

func TestStat(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()

	content := []byte("metadata test content")
	if _, err := b.Put(ctx, "meta.pdf", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatal("Put:", err)
	}

	info, err := b.Stat(ctx, "meta.pdf")
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}

	if info.Path != "meta.pdf" {
		t.Errorf("Path = %q, want meta.pdf", info.Path)
	}
	if info.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", info.Size, len(content))
	}
	if len(info.Checksum) != 64 {
		t.Errorf("Checksum len = %d, want 64", len(info.Checksum))
	}
	if info.LastModified.IsZero() {
		t.Error("LastModified should not be zero")
	}
}

func TestStat_ChecksumMatchesPut(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()

	content := "checksum consistency check"
	putResult, err := b.Put(ctx, "cksum.pdf", strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatal("Put:", err)
	}

	info, err := b.Stat(ctx, "cksum.pdf")
	if err != nil {
		t.Fatal("Stat:", err)
	}

	if info.Checksum != putResult.Checksum {
		t.Errorf("Stat checksum %q != Put checksum %q", info.Checksum, putResult.Checksum)
	}
}
