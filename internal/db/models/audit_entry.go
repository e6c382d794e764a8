// Package models - audit_entry.go defines the AuditEntry model: one immutable record
// per tracked action, capturing the actor at the time of the action, before/after row
// snapshots, the exact set of changed fields, and request-origin context.
package models

import "time"

// Action types form a closed set. Writes carrying any other value are rejected
// outright rather than coerced; a compliance log with invented action names is
// worse than a failed write.
const (
	ActionCreate   = "CREATE"
	ActionUpdate   = "UPDATE"
	ActionDelete   = "DELETE"
	ActionApprove  = "APPROVE"
	ActionReject   = "REJECT"
	ActionUpload   = "UPLOAD"
	ActionDownload = "DOWNLOAD"
	ActionLogin    = "LOGIN"
	ActionLogout   = "LOGOUT"
	ActionView     = "VIEW"
	ActionExport   = "EXPORT"
)

// ActionTypes lists every recognized action type, in declaration order.
var ActionTypes = []string{
	ActionCreate, ActionUpdate, ActionDelete, ActionApprove, ActionReject,
	ActionUpload, ActionDownload, ActionLogin, ActionLogout, ActionView,
	ActionExport,
}

// ValidActionType reports whether a is a member of the closed action-type set.
func ValidActionType(a string) bool {
	for _, t := range ActionTypes {
		if a == t {
			return true
		}
	}
	return false
}

// AuditEntry represents one immutable entry in the audit trail.
//
// Actor fields are denormalized on purpose: they record the identity and role
// at the moment the action happened and must not shift if the user's role is
// later reassigned. All actor and request-context fields are nullable — an
// entry with an unknown actor is preferable to a blocked mutation.
type AuditEntry struct {
	ID            string                 `json:"id"`
	TableName     string                 `json:"table_name"`
	RecordID      *string                `json:"record_id,omitempty"` // Nullable for actions with no single target (e.g. bulk export)
	ActionType    string                 `json:"action_type"`
	ActorID       *string                `json:"actor_id,omitempty"`
	ActorEmail    *string                `json:"actor_email,omitempty"`
	ActorRole     *string                `json:"actor_role,omitempty"`
	BeforeValues  map[string]interface{} `json:"before_values,omitempty"` // Absent on CREATE
	AfterValues   map[string]interface{} `json:"after_values,omitempty"`  // Absent on DELETE
	ChangedFields []string               `json:"changed_fields,omitempty"` // Empty on CREATE/DELETE
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	IPAddress     *string                `json:"ip_address,omitempty"`
	UserAgent     *string                `json:"user_agent,omitempty"`
	SessionID     *string                `json:"session_id,omitempty"`
	CreatedAt     time.Time              `json:"created_at"` // Sole ordering key for the log
}

// AuditEntryWithContext is an AuditEntry joined with human-readable context for
// display: the actor's pilot profile (when one exists) and a description of the
// affected record derived per table.
type AuditEntryWithContext struct {
	AuditEntry
	ActorName         *string `json:"actor_name,omitempty"`         // Pilot full name when the actor maps to a pilot record
	ActorLicense      *string `json:"actor_license,omitempty"`      // Pilot license number, same condition
	RecordDescription *string `json:"record_description,omitempty"` // Document title / pilot full name / raw table name
}
