// Package storage defines the Backend interface shared by all document file
// stores.
//
// New backends are added by implementing Backend and registering with the
// factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Backend, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger
// init(), so adding a backend requires no changes to the factory or main
// package beyond the import line.
//
// Document files are compliance evidence: the checksum returned by Put is
// persisted on the document row and verified against what regulators
// download. Backends must compute it over exactly the bytes stored.
package storage

import (
	"context"
	"io"
	"time"
)

// Backend is the interface all document file stores implement
type Backend interface {
	// Put stores a file and returns the result with size and SHA-256 checksum
	Put(ctx context.Context, path string, reader io.Reader, size int64) (*PutResult, error)

	// Get retrieves a file as a reader. The caller closes it.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes a file. Deleting a missing file is not an error.
	Delete(ctx context.Context, path string) error

	// SignedURL returns a direct download URL valid for the given TTL.
	// Local storage returns an API-served path instead of a signed URL.
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Exists checks whether a file is present at the path
	Exists(ctx context.Context, path string) (bool, error)

	// Stat retrieves file metadata without downloading the whole file
	Stat(ctx context.Context, path string) (*FileInfo, error)
}

// PutResult describes a stored file
type PutResult struct {
	// Path is the storage path where the file was stored
	Path string

	// Size is the stored size in bytes
	Size int64

	// Checksum is the SHA-256 hash of the stored bytes, hex encoded
	Checksum string
}

// FileInfo describes a stored file without its contents
type FileInfo struct {
	Path         string
	Size         int64
	Checksum     string
	LastModified time.Time
}

// DocumentPath builds the canonical storage path for a document file.
// Files are grouped per pilot so a pilot's documents can be removed together.
func DocumentPath(pilotID, documentID, fileName string) string {
	return "pilots/" + pilotID + "/" + documentID + "/" + fileName
}
