// Package models - pilot.go defines the Pilot profile record linking an account to
// airman certificate details. Pilots are a tracked resource: every mutation is
// captured in the audit trail.
package models

import "time"

// Pilot represents a pilot profile
type Pilot struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	FullName      string    `json:"full_name"`
	LicenseNumber string    `json:"license_number"`
	LicenseType   string    `json:"license_type"` // e.g. "PPL", "CPL", "ATPL"
	MedicalClass  string    `json:"medical_class"` // e.g. "first", "second", "third"
	BaseAirport   string    `json:"base_airport"` // ICAO code of the pilot's home base
	Phone         *string   `json:"phone,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
