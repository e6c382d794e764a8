// Package models - user.go defines the User model for AeroDocs accounts with email,
// display name, OIDC subject, and the single application role assigned to the account.
package models

import "time"

// Role names. Every user carries exactly one role; new accounts default to
// RolePilot and only an admin may change the assignment afterwards.
const (
	RolePilot     = "pilot"
	RoleAdmin     = "admin"
	RoleInspector = "inspector"
)

// ValidRole reports whether role is one of the three recognized roles.
func ValidRole(role string) bool {
	switch role {
	case RolePilot, RoleAdmin, RoleInspector:
		return true
	}
	return false
}

// User represents an account in the system
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash *string   `json:"-"` // Nullable; OIDC-provisioned users have no local password
	OIDCSub      *string   `json:"oidc_sub,omitempty"` // OIDC subject identifier (unique per provider)
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Redacted returns a copy safe for audit snapshots and API responses: the
// password hash never leaves the users table, not even inside a before/after
// snapshot on the trail.
func (u User) Redacted() *User {
	u.PasswordHash = nil
	return &u
}

// IsReviewer returns true if the user may approve or reject documents and
// browse audit entries across all actors.
func (u *User) IsReviewer() bool {
	return u.Role == RoleAdmin || u.Role == RoleInspector
}

// IsAdmin returns true if the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
