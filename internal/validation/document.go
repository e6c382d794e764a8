// Package validation provides input validation for document uploads. Each
// validator checks a specific aspect of the upload: content type, file size,
// filename safety, and date plausibility. Validators run before any data is
// persisted so invalid uploads are rejected early without consuming storage.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

const (
	// DefaultMaxUploadSizeMB caps uploads when config gives no limit (25MB)
	DefaultMaxUploadSizeMB = 25

	// MaxFileNameLength bounds sanitized filenames
	MaxFileNameLength = 255
)

// AllowedContentTypes lists the content types accepted for document uploads.
// Compliance documents are scans or exports; executables and archives are
// not accepted.
var AllowedContentTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/tiff",
}

// ValidateContentType checks that the declared content type is accepted
func ValidateContentType(contentType string) error {
	if contentType == "" {
		return fmt.Errorf("content type cannot be empty")
	}

	// Strip any parameters like "; charset=binary"
	base := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	for _, allowed := range AllowedContentTypes {
		if strings.EqualFold(base, allowed) {
			return nil
		}
	}

	return fmt.Errorf("unsupported content type: %s (supported: %v)", base, AllowedContentTypes)
}

// ValidateFileSize checks the upload size against the configured cap in MB.
// A non-positive maxMB falls back to the default.
func ValidateFileSize(size int64, maxMB int) error {
	if size <= 0 {
		return fmt.Errorf("file is empty")
	}

	if maxMB <= 0 {
		maxMB = DefaultMaxUploadSizeMB
	}
	maxBytes := int64(maxMB) * 1024 * 1024
	if size > maxBytes {
		return fmt.Errorf("file size %d exceeds maximum allowed size of %dMB", size, maxMB)
	}

	return nil
}

// SanitizeFileName strips path components and unsafe characters from a
// client-supplied filename. The result is safe to embed in a storage path.
func SanitizeFileName(name string) (string, error) {
	// Take the final path element, uploads sometimes carry full client paths
	name = filepath.Base(filepath.Clean(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "", fmt.Errorf("invalid file name")
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}

	sanitized := strings.Trim(b.String(), ".")
	if sanitized == "" {
		return "", fmt.Errorf("file name contains no usable characters")
	}
	if len(sanitized) > MaxFileNameLength {
		sanitized = sanitized[len(sanitized)-MaxFileNameLength:]
	}

	return sanitized, nil
}

// ValidateDocumentDates checks that issue and expiry dates are plausible.
// Either may be nil; when both are present expiry must follow issue.
func ValidateDocumentDates(issued, expiry *time.Time, now time.Time) error {
	if issued != nil && issued.After(now.AddDate(0, 0, 1)) {
		return fmt.Errorf("issue date cannot be in the future")
	}
	if issued != nil && expiry != nil && !expiry.After(*issued) {
		return fmt.Errorf("expiry date must be after issue date")
	}

	return nil
}
