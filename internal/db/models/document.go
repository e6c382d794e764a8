// Package models - document.go defines the Document model for compliance documents
// uploaded by pilots (medical certificates, licenses, training records). Documents
// are a tracked resource: every mutation is captured in the audit trail.
package models

import "time"

// Document types
const (
	DocTypeMedicalCertificate = "medical_certificate"
	DocTypeLicense            = "license"
	DocTypeTrainingRecord     = "training_record"
	DocTypeLogbook            = "logbook"
	DocTypeOther              = "other"
)

// Document review statuses
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// ValidDocType reports whether t is a recognized document type.
func ValidDocType(t string) bool {
	switch t {
	case DocTypeMedicalCertificate, DocTypeLicense, DocTypeTrainingRecord, DocTypeLogbook, DocTypeOther:
		return true
	}
	return false
}

// ValidStatus reports whether s is a recognized review status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Document represents a compliance document uploaded by a pilot
type Document struct {
	ID              string     `json:"id"`
	PilotID         string     `json:"pilot_id"`
	DocType         string     `json:"doc_type"`
	Title           string     `json:"title"`
	FilePath        string     `json:"file_path"` // Path within the configured storage backend
	FileSize        int64      `json:"file_size"`
	Checksum        string     `json:"checksum"` // SHA-256 of the stored file
	ContentType     string     `json:"content_type"`
	Status          string     `json:"status"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	IssuedDate      *time.Time `json:"issued_date,omitempty"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty"`
	ReviewedBy      *string    `json:"reviewed_by,omitempty"` // User ID of the reviewing admin/inspector
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Expired returns true if the document carries an expiry date in the past.
func (d *Document) Expired(now time.Time) bool {
	return d.ExpiryDate != nil && d.ExpiryDate.Before(now)
}
