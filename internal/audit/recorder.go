package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aerodocs/aerodocs/internal/db/models"
	"github.com/aerodocs/aerodocs/internal/safego"
	"github.com/aerodocs/aerodocs/internal/telemetry"
)

// Recorder writes audit entries. Record is the transactional path used by
// tracked repositories; Log is the explicit path for actions that have no
// surrounding transaction (logins, downloads, exports).
type Recorder struct {
	db      *sqlx.DB
	shipper Shipper
	enabled bool
}

// NewRecorder creates a Recorder. shipper may be nil when no external
// destinations are configured.
func NewRecorder(db *sqlx.DB, shipper Shipper, enabled bool) *Recorder {
	return &Recorder{db: db, shipper: shipper, enabled: enabled}
}

// Enabled reports whether audit capture is active.
func (r *Recorder) Enabled() bool {
	return r.enabled
}

// BuildEntry assembles an entry from a mutation's pre- and post-images.
// before and after may be nil (creations have no before, deletions no after).
// Fields whose values could not be represented in JSON are coerced to strings
// and listed under the coerced_fields metadata key.
func BuildEntry(tableName string, recordID *string, action string, actor *Actor, before, after interface{}) (*models.AuditEntry, error) {
	if !models.ValidActionType(action) {
		return nil, fmt.Errorf("invalid audit action type: %s", action)
	}

	beforeVals, beforeCoerced, err := Snapshot(before)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot before values: %w", err)
	}
	afterVals, afterCoerced, err := Snapshot(after)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot after values: %w", err)
	}

	e := &models.AuditEntry{
		TableName:    tableName,
		RecordID:     recordID,
		ActionType:   action,
		BeforeValues: beforeVals,
		AfterValues:  afterVals,
	}
	actor.Apply(e)

	if beforeVals != nil && afterVals != nil {
		e.ChangedFields = Diff(beforeVals, afterVals)
	}

	coerced := append(beforeCoerced, afterCoerced...)
	if len(coerced) > 0 {
		e.Metadata = map[string]interface{}{"coerced_fields": coerced}
	}

	return e, nil
}

// Record inserts an entry using ec, which is either the surrounding mutation's
// transaction or the pool itself. When ec is a transaction, a failed insert
// causes the caller to roll the whole mutation back. Record never ships to
// external destinations; shipping happens after commit via Ship.
func (r *Recorder) Record(ctx context.Context, ec sqlx.ExtContext, e *models.AuditEntry) error {
	if !r.enabled {
		return nil
	}

	if !models.ValidActionType(e.ActionType) {
		telemetry.AuditWriteFailuresTotal.Inc()
		return fmt.Errorf("invalid audit action type: %s", e.ActionType)
	}
	if e.TableName == "" {
		telemetry.AuditWriteFailuresTotal.Inc()
		return fmt.Errorf("audit entry requires a table name")
	}

	e.ID = uuid.New().String()
	e.CreatedAt = time.Now().UTC()

	beforeJSON, err := marshalValues(e.BeforeValues)
	if err != nil {
		telemetry.AuditWriteFailuresTotal.Inc()
		return fmt.Errorf("failed to marshal before values: %w", err)
	}
	afterJSON, err := marshalValues(e.AfterValues)
	if err != nil {
		telemetry.AuditWriteFailuresTotal.Inc()
		return fmt.Errorf("failed to marshal after values: %w", err)
	}
	metadataJSON, err := marshalValues(e.Metadata)
	if err != nil {
		telemetry.AuditWriteFailuresTotal.Inc()
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO audit_entries (id, table_name, record_id, action_type, actor_id, actor_email, actor_role,
			before_values, after_values, changed_fields, metadata, ip_address, user_agent, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = ec.ExecContext(ctx, query,
		e.ID,
		e.TableName,
		e.RecordID,
		e.ActionType,
		e.ActorID,
		e.ActorEmail,
		e.ActorRole,
		beforeJSON,
		afterJSON,
		pq.Array(e.ChangedFields),
		metadataJSON,
		e.IPAddress,
		e.UserAgent,
		e.SessionID,
		e.CreatedAt,
	)
	if err != nil {
		telemetry.AuditWriteFailuresTotal.Inc()
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	telemetry.AuditEntriesTotal.WithLabelValues(e.ActionType).Inc()
	return nil
}

// Log records an entry outside any mutation transaction and ships it. Used
// for explicit captures where there is no row change to make atomic: logins,
// logouts, views, downloads, exports.
func (r *Recorder) Log(ctx context.Context, e *models.AuditEntry) error {
	if !r.enabled {
		return nil
	}
	if err := r.Record(ctx, r.db, e); err != nil {
		return err
	}
	r.Ship(e)
	return nil
}

// Ship forwards a committed entry to external destinations. Shipping is
// best-effort and asynchronous; a SIEM outage must not slow down or roll back
// mutations that are already durable in the database.
func (r *Recorder) Ship(e *models.AuditEntry) {
	if r.shipper == nil || e == nil {
		return
	}
	entry := shipEntryFromModel(e)
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := r.shipper.Ship(ctx, entry); err != nil {
			slog.Warn("failed to ship audit entry", "entry_id", e.ID, "error", err)
		}
	})
}

func marshalValues(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
