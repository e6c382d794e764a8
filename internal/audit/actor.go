package audit

import (
	"github.com/aerodocs/aerodocs/internal/db/models"
)

// Actor identifies who performed an audited action, plus the request context
// it arrived with. All fields are optional: a nil or empty Actor produces an
// entry with null actor columns, which records system-initiated or
// unattributable actions without blocking them.
type Actor struct {
	ID        *string
	Email     *string
	Role      *string
	IPAddress *string
	UserAgent *string
	SessionID *string
}

// ActorFromUser builds an Actor from an authenticated user.
func ActorFromUser(u *models.User) *Actor {
	if u == nil {
		return &Actor{}
	}
	id := u.ID
	email := u.Email
	role := u.Role
	return &Actor{ID: &id, Email: &email, Role: &role}
}

// Apply copies actor identity and request context onto an entry.
func (a *Actor) Apply(e *models.AuditEntry) {
	if a == nil {
		return
	}
	e.ActorID = a.ID
	e.ActorEmail = a.Email
	e.ActorRole = a.Role
	e.IPAddress = a.IPAddress
	e.UserAgent = a.UserAgent
	e.SessionID = a.SessionID
}
