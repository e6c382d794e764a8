// Package gcs implements the Google Cloud Storage backend. Signed downloads
// use time-limited V4 signed URLs generated via the GCS signing API.
// Supports Application Default Credentials, service account JSON keys, and
// Workload Identity Federation for keyless authentication.
package gcs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/aerodocs/aerodocs/internal/config"
	appstorage "github.com/aerodocs/aerodocs/internal/storage"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Backend, error) {
		return New(&cfg.Storage.GCS)
	})
}

// GCSBackend implements storage.Backend on Google Cloud Storage
type GCSBackend struct {
	client *storage.Client
	bucket string
}

// New creates a Google Cloud Storage backend.
//
// Authentication methods:
//   - "default" or empty: Application Default Credentials (env var, metadata
//     service, gcloud auth application-default login)
//   - "service_account": a service account key file or inline JSON
//   - "workload_identity": Workload Identity Federation (GKE, GitHub Actions)
func New(cfg *appconfig.GCSStorageConfig) (*GCSBackend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	ctx := context.Background()
	var opts []option.ClientOption

	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			authMethod = "service_account"
		} else {
			authMethod = "default"
		}
	}

	switch authMethod {
	case "service_account":
		if cfg.CredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		} else if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		} else {
			return nil, fmt.Errorf("credentials_file or credentials_json is required for service_account auth")
		}

	case "workload_identity", "default":
		// ADC is picked up automatically by the client

	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'service_account', or 'workload_identity')", authMethod)
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSBackend{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Close closes the GCS client
func (b *GCSBackend) Close() error {
	return b.client.Close()
}

// Put stores a file in GCS with the SHA-256 checksum in object metadata
func (b *GCSBackend) Put(ctx context.Context, path string, reader io.Reader, size int64) (*appstorage.PutResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	hasher := sha256.New()
	hasher.Write(data)
	checksum := hex.EncodeToString(hasher.Sum(nil))

	obj := b.client.Bucket(b.bucket).Object(path)
	writer := obj.NewWriter(ctx)
	writer.Metadata = map[string]string{
		"sha256": checksum,
	}

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &appstorage.PutResult{
		Path:     path,
		Size:     int64(len(data)),
		Checksum: checksum,
	}, nil
}

// Get retrieves a file from GCS
func (b *GCSBackend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	reader, err := b.client.Bucket(b.bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}

	return reader, nil
}

// Delete removes a file from GCS
func (b *GCSBackend) Delete(ctx context.Context, path string) error {
	if err := b.client.Bucket(b.bucket).Object(path).Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return nil
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}

	return nil
}

// SignedURL returns a V4 signed URL for downloading the file. Requires the
// service account to hold iam.serviceAccountTokenCreator or equivalent
// signBlob permission.
func (b *GCSBackend) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exists, err := b.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("file not found: %s", path)
	}

	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	}

	url, err := b.client.Bucket(b.bucket).SignedURL(path, opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return url, nil
}

// Exists checks if a file exists at the specified path
func (b *GCSBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.Bucket(b.bucket).Object(path).Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// Stat retrieves file metadata. The checksum comes from the sha256 object
// metadata written at upload; objects without it are read back and hashed.
func (b *GCSBackend) Stat(ctx context.Context, path string) (*appstorage.FileInfo, error) {
	attrs, err := b.client.Bucket(b.bucket).Object(path).Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	var checksum string
	if attrs.Metadata != nil {
		checksum = attrs.Metadata["sha256"]
	}
	if checksum == "" {
		reader, err := b.Get(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to download for checksum: %w", err)
		}
		defer reader.Close()

		hasher := sha256.New()
		if _, err := io.Copy(hasher, reader); err != nil {
			return nil, fmt.Errorf("failed to compute checksum: %w", err)
		}
		checksum = hex.EncodeToString(hasher.Sum(nil))
	}

	return &appstorage.FileInfo{
		Path:         path,
		Size:         attrs.Size,
		Checksum:     checksum,
		LastModified: attrs.Updated,
	}, nil
}
