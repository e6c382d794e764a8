package storage_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aerodocs/aerodocs/internal/config"
	"github.com/aerodocs/aerodocs/internal/storage"
)

// ---------------------------------------------------------------------------
// Minimal mock Backend implementation for Register tests
// ---------------------------------------------------------------------------

type mockBackend struct{}

func (m *mockBackend) Put(_ context.Context, _ string, _ io.Reader, _ int64) (*storage.PutResult, error) {
	return nil, nil
}
func (m *mockBackend) Get(_ context.Context, _ string) (io.ReadCloser, error) { return nil, nil }
func (m *mockBackend) Delete(_ context.Context, _ string) error               { return nil }
func (m *mockBackend) SignedURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", nil
}
func (m *mockBackend) Exists(_ context.Context, _ string) (bool, error) { return false, nil }
func (m *mockBackend) Stat(_ context.Context, _ string) (*storage.FileInfo, error) {
	return nil, nil
}

// ---------------------------------------------------------------------------
// Register
// ---------------------------------------------------------------------------

func TestRegister_AddsFactory(t *testing.T) {
	storage.Register("test-backend", func(_ *config.Config) (storage.Backend, error) {
		return &mockBackend{}, nil
	})

	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "test-backend"

	b, err := storage.NewBackend(cfg)
	if err != nil {
		t.Fatalf("NewBackend() error: %v", err)
	}
	if b == nil {
		t.Fatal("NewBackend() returned nil")
	}
}

// ---------------------------------------------------------------------------
// NewBackend
// ---------------------------------------------------------------------------

func TestNewBackend_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "completely-unknown-backend"

	_, err := storage.NewBackend(cfg)
	if err == nil {
		t.Error("NewBackend() = nil error, want error for unregistered backend")
	}
}

func TestNewBackend_EmptyBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = ""

	_, err := storage.NewBackend(cfg)
	if err == nil {
		t.Error("NewBackend() = nil error, want error for empty backend name")
	}
}

// ---------------------------------------------------------------------------
// DocumentPath
// ---------------------------------------------------------------------------

func TestDocumentPath(t *testing.T) {
	got := storage.DocumentPath("pilot-1", "doc-1", "medical.pdf")
	want := "pilots/pilot-1/doc-1/medical.pdf"
	if got != want {
		t.Errorf("DocumentPath() = %q, want %q", got, want)
	}
}
