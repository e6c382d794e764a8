// Package azure implements the Azure Blob Storage backend. Uploads go
// directly to Blob Storage; signed downloads use time-limited SAS (Shared
// Access Signature) URLs generated on demand.
package azure

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/aerodocs/aerodocs/internal/config"
	"github.com/aerodocs/aerodocs/internal/storage"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Backend, error) {
		return New(&cfg.Storage.Azure)
	})
}

// AzureBackend implements storage.Backend on Azure Blob Storage
type AzureBackend struct {
	client        *azblob.Client
	containerName string
	accountName   string
	accountKey    string
}

// New creates an Azure Blob Storage backend using shared key credentials
func New(cfg *config.AzureStorageConfig) (*AzureBackend, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureBackend{
		client:        client,
		containerName: cfg.ContainerName,
		accountName:   cfg.AccountName,
		accountKey:    cfg.AccountKey,
	}, nil
}

// Put stores a file in Azure Blob Storage. The SHA-256 checksum is written
// into blob metadata so Stat can report it without a download.
func (b *AzureBackend) Put(ctx context.Context, path string, reader io.Reader, size int64) (*storage.PutResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	hasher := sha256.New()
	hasher.Write(data)
	checksum := hex.EncodeToString(hasher.Sum(nil))

	blobClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlockBlobClient(path)
	_, err = blobClient.Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), &blockblob.UploadOptions{
		Metadata: map[string]*string{
			"sha256": &checksum,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	return &storage.PutResult{
		Path:     path,
		Size:     int64(len(data)),
		Checksum: checksum,
	}, nil
}

// Get retrieves a file from Azure Blob Storage
func (b *AzureBackend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	blobClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlobClient(path)

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}

	return resp.Body, nil
}

// Delete removes a file from Azure Blob Storage
func (b *AzureBackend) Delete(ctx context.Context, path string) error {
	blobClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlobClient(path)

	if _, err := blobClient.Delete(ctx, nil); err != nil {
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}

	return nil
}

// SignedURL returns a SAS URL for downloading the file
func (b *AzureBackend) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exists, err := b.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("file not found: %s", path)
	}

	credential, err := azblob.NewSharedKeyCredential(b.accountName, b.accountKey)
	if err != nil {
		return "", fmt.Errorf("failed to create credential for SAS: %w", err)
	}

	sasPermissions := sas.BlobPermissions{Read: true}
	startTime := time.Now().UTC().Add(-5 * time.Minute) // allow for clock skew
	expiryTime := time.Now().UTC().Add(ttl)

	sasQueryParams, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     startTime,
		ExpiryTime:    expiryTime,
		Permissions:   sasPermissions.String(),
		ContainerName: b.containerName,
		BlobName:      path,
	}.SignWithSharedKey(credential)
	if err != nil {
		return "", fmt.Errorf("failed to generate SAS token: %w", err)
	}

	blobURL := fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s",
		b.accountName, b.containerName, url.PathEscape(path))

	return fmt.Sprintf("%s?%s", blobURL, sasQueryParams.Encode()), nil
}

// Exists checks if a file exists at the specified path
func (b *AzureBackend) Exists(ctx context.Context, path string) (bool, error) {
	blobClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlobClient(path)

	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		return false, nil
	}

	return true, nil
}

// Stat retrieves file metadata. Azure stores MD5 natively, so the SHA-256
// comes from the metadata written at upload; blobs without it are read back
// and hashed.
func (b *AzureBackend) Stat(ctx context.Context, path string) (*storage.FileInfo, error) {
	blobClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlobClient(path)

	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}

	var checksum string
	if props.Metadata != nil {
		if sha256Val, ok := props.Metadata["sha256"]; ok && sha256Val != nil {
			checksum = *sha256Val
		}
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

	var size int64
	if props.ContentLength != nil {
		size = *props.ContentLength
	}

	var lastModified time.Time
	if props.LastModified != nil {
		lastModified = *props.LastModified
	}

	return &storage.FileInfo{
		Path:         path,
		Size:         size,
		Checksum:     checksum,
		LastModified: lastModified,
	}, nil
}

// EnsureContainer creates the container if it doesn't exist
func (b *AzureBackend) EnsureContainer(ctx context.Context) error {
	containerClient := b.client.ServiceClient().NewContainerClient(b.containerName)

	// Create returns an error when the container already exists; that's fine
	_, _ = containerClient.Create(ctx, nil)
	return nil
}
