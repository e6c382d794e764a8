// Package local implements the local filesystem storage backend. Intended
// for development and single-node deployments; multiple API instances would
// need a shared filesystem. Production deployments should use a cloud
// backend.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aerodocs/aerodocs/internal/config"
	"github.com/aerodocs/aerodocs/internal/storage"
	"github.com/aerodocs/aerodocs/pkg/checksum"
)

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Backend, error) {
		return New(&cfg.Storage.Local, cfg.Server.GetPublicURL())
	})
}

// LocalBackend implements storage.Backend on the local filesystem
type LocalBackend struct {
	basePath string
	baseURL  string
}

// New creates a local filesystem backend rooted at cfg.BasePath
func New(cfg *config.LocalStorageConfig, serverBaseURL string) (*LocalBackend, error) {
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalBackend{
		basePath: cfg.BasePath,
		baseURL:  serverBaseURL,
	}, nil
}

func (b *LocalBackend) fullPath(path string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(path))
}

// Put stores a file, hashing the bytes as they are written
func (b *LocalBackend) Put(ctx context.Context, path string, reader io.Reader, size int64) (*storage.PutResult, error) {
	fullPath := b.fullPath(path)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(file, hasher), reader)
	if err != nil {
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &storage.PutResult{
		Path:     path,
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Get retrieves a file from the local filesystem
func (b *LocalBackend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	file, err := os.Open(b.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes a file and prunes any emptied parent directories
func (b *LocalBackend) Delete(ctx context.Context, path string) error {
	fullPath := b.fullPath(path)

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	dir := filepath.Dir(fullPath)
	for dir != b.basePath {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	return nil
}

// SignedURL returns an API-served path. Local files are always proxied
// through the server so access control and download capture still apply.
func (b *LocalBackend) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exists, err := b.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("file not found: %s", path)
	}

	return fmt.Sprintf("%s/api/v1/files/%s", b.baseURL, path), nil
}

// Exists checks if a file exists at the specified path
func (b *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(b.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}

	return true, nil
}

// Stat retrieves file metadata, computing the checksum from the stored bytes
func (b *LocalBackend) Stat(ctx context.Context, path string) (*storage.FileInfo, error) {
	fullPath := b.fullPath(path)

	stat, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer file.Close()

	sum, err := checksum.CalculateSHA256(file)
	if err != nil {
		return nil, err
	}

	return &storage.FileInfo{
		Path:         path,
		Size:         stat.Size(),
		Checksum:     sum,
		LastModified: stat.ModTime(),
	}, nil
}
