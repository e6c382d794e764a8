// audit_repository.go implements AuditRepository, the read side of the audit
// trail. Writes go through audit.Recorder; this repository only queries,
// aggregates, exports, and purges.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aerodocs/aerodocs/internal/db/models"
	"github.com/aerodocs/aerodocs/internal/telemetry"
)

// ErrExportTooLarge is returned when an export request matches more rows
// than the configured cap.
var ErrExportTooLarge = errors.New("export exceeds maximum row count")

const (
	// DefaultAuditPageSize is applied when a list request gives no limit.
	DefaultAuditPageSize = 50
	// MaxAuditPageSize caps a single page of audit results.
	MaxAuditPageSize = 200
)

// AuditRepository handles audit trail queries
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilter holds optional filters for audit trail queries
type AuditFilter struct {
	TableName  string
	RecordID   string
	ActionType string
	ActorID    string
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
	Offset     int
}

// buildWhere turns the filter into a WHERE clause over the ae alias. The
// same clause serves List, CountMatching and ExportRows so counts always
// agree with the rows returned.
func (f AuditFilter) buildWhere() (string, []interface{}, int) {
	conditions := []string{}
	args := []interface{}{}
	paramIndex := 1

	if f.TableName != "" {
		conditions = append(conditions, fmt.Sprintf("ae.table_name = $%d", paramIndex))
		args = append(args, f.TableName)
		paramIndex++
	}
	if f.RecordID != "" {
		conditions = append(conditions, fmt.Sprintf("ae.record_id = $%d", paramIndex))
		args = append(args, f.RecordID)
		paramIndex++
	}
	if f.ActionType != "" {
		conditions = append(conditions, fmt.Sprintf("ae.action_type = $%d", paramIndex))
		args = append(args, f.ActionType)
		paramIndex++
	}
	if f.ActorID != "" {
		conditions = append(conditions, fmt.Sprintf("ae.actor_id = $%d", paramIndex))
		args = append(args, f.ActorID)
		paramIndex++
	}
	if f.StartDate != nil {
		conditions = append(conditions, fmt.Sprintf("ae.created_at >= $%d", paramIndex))
		args = append(args, *f.StartDate)
		paramIndex++
	}
	if f.EndDate != nil {
		conditions = append(conditions, fmt.Sprintf("ae.created_at <= $%d", paramIndex))
		args = append(args, *f.EndDate)
		paramIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}
	return whereClause, args, paramIndex
}

const auditSelectColumns = `
	ae.id, ae.table_name, ae.record_id, ae.action_type,
	ae.actor_id, ae.actor_email, ae.actor_role,
	ae.before_values, ae.after_values, ae.changed_fields, ae.metadata,
	ae.ip_address, ae.user_agent, ae.session_id, ae.created_at,
	ap.full_name AS actor_name, ap.license_number AS actor_license,
	COALESCE(doc.title, rp.full_name, ru.email, ae.table_name) AS record_description`

// The context joins resolve the actor back to a pilot profile and the record
// to a human-readable description. All joins are LEFT so entries whose
// subject or actor no longer exists still list.
const auditContextJoins = `
	LEFT JOIN pilots ap ON ap.user_id::text = ae.actor_id::text
	LEFT JOIN documents doc ON ae.table_name = 'documents' AND doc.id::text = ae.record_id
	LEFT JOIN pilots rp ON ae.table_name = 'pilots' AND rp.id::text = ae.record_id
	LEFT JOIN users ru ON ae.table_name = 'users' AND ru.id::text = ae.record_id`

func scanAuditEntry(row interface{ Scan(...interface{}) error }) (*models.AuditEntryWithContext, error) {
	e := &models.AuditEntryWithContext{}
	var beforeJSON, afterJSON, metadataJSON []byte
	var changedFields pq.StringArray

	err := row.Scan(
		&e.ID,
		&e.TableName,
		&e.RecordID,
		&e.ActionType,
		&e.ActorID,
		&e.ActorEmail,
		&e.ActorRole,
		&beforeJSON,
		&afterJSON,
		&changedFields,
		&metadataJSON,
		&e.IPAddress,
		&e.UserAgent,
		&e.SessionID,
		&e.CreatedAt,
		&e.ActorName,
		&e.ActorLicense,
		&e.RecordDescription,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if len(beforeJSON) > 0 {
		if err := json.Unmarshal(beforeJSON, &e.BeforeValues); err != nil {
			return nil, fmt.Errorf("unmarshaling before values: %w", err)
		}
	}
	if len(afterJSON) > 0 {
		if err := json.Unmarshal(afterJSON, &e.AfterValues); err != nil {
			return nil, fmt.Errorf("unmarshaling after values: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	if changedFields != nil {
		e.ChangedFields = []string(changedFields)
	}
	return e, nil
}

// List retrieves audit entries matching the filter, newest first, with the
// total match count for pagination.
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]*models.AuditEntryWithContext, int, error) {
	whereClause, args, paramIndex := filter.buildWhere()

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_entries ae` + whereClause
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultAuditPageSize
	}
	if limit > MaxAuditPageSize {
		limit = MaxAuditPageSize
	}

	query := fmt.Sprintf(`
		SELECT `+auditSelectColumns+`
		FROM audit_entries ae`+auditContextJoins+`
		%s
		ORDER BY ae.created_at DESC, ae.id DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, paramIndex, paramIndex+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]*models.AuditEntryWithContext, 0)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}

	return entries, total, rows.Err()
}

// GetEntry retrieves a single audit entry with its joined context
func (r *AuditRepository) GetEntry(ctx context.Context, entryID string) (*models.AuditEntryWithContext, error) {
	query := `
		SELECT ` + auditSelectColumns + `
		FROM audit_entries ae` + auditContextJoins + `
		WHERE ae.id = $1
	`
	return scanAuditEntry(r.db.QueryRowContext(ctx, query, entryID))
}

// CountMatching returns the number of entries the filter would match
func (r *AuditRepository) CountMatching(ctx context.Context, filter AuditFilter) (int, error) {
	whereClause, args, _ := filter.buildWhere()
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries ae`+whereClause, args...).Scan(&total)
	return total, err
}

// AuditStats aggregates activity over a window
type AuditStats struct {
	Total        int            `json:"total"`
	ByActionType map[string]int `json:"by_action_type"`
	ByActor      map[string]int `json:"by_actor"`
	ByTable      map[string]int `json:"by_table"`
	ByDay        map[string]int `json:"by_day"`
}

// SystemActorKey groups entries with no actor email in statistics.
const SystemActorKey = "system"

// Stats computes activity statistics for entries inside [since, until]. A
// zero until defaults to now; a zero since defaults to 30 days before until,
// so callers can ask for a trailing window or any historic period. The
// grouping columns are streamed once and aggregated in a single pass.
func (r *AuditRepository) Stats(ctx context.Context, since, until time.Time) (*AuditStats, error) {
	if until.IsZero() {
		until = time.Now().UTC()
	}
	if since.IsZero() {
		since = until.AddDate(0, 0, -30)
	}

	query := `
		SELECT action_type, actor_email, table_name, to_char(created_at, 'YYYY-MM-DD')
		FROM audit_entries
		WHERE created_at >= $1 AND created_at <= $2
	`

	rows, err := r.db.QueryContext(ctx, query, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &AuditStats{
		ByActionType: make(map[string]int),
		ByActor:      make(map[string]int),
		ByTable:      make(map[string]int),
		ByDay:        make(map[string]int),
	}

	for rows.Next() {
		var actionType, tableName, day string
		var actorEmail *string
		if err := rows.Scan(&actionType, &actorEmail, &tableName, &day); err != nil {
			return nil, err
		}

		stats.Total++
		stats.ByActionType[actionType]++
		stats.ByTable[tableName]++
		stats.ByDay[day]++
		if actorEmail != nil && *actorEmail != "" {
			stats.ByActor[*actorEmail]++
		} else {
			stats.ByActor[SystemActorKey]++
		}
	}

	return stats, rows.Err()
}

// ExportRows retrieves every entry matching the filter for export. The match
// count is checked against maxRows before any row is fetched; oversized
// requests fail with ErrExportTooLarge.
func (r *AuditRepository) ExportRows(ctx context.Context, filter AuditFilter, maxRows int) ([]*models.AuditEntryWithContext, error) {
	total, err := r.CountMatching(ctx, filter)
	if err != nil {
		return nil, err
	}
	if maxRows > 0 && total > maxRows {
		return nil, fmt.Errorf("%w: %d rows match, limit is %d", ErrExportTooLarge, total, maxRows)
	}

	whereClause, args, _ := filter.buildWhere()
	query := `
		SELECT ` + auditSelectColumns + `
		FROM audit_entries ae` + auditContextJoins +
		whereClause + `
		ORDER BY ae.created_at DESC, ae.id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*models.AuditEntryWithContext, 0, total)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Purge deletes entries older than the cutoff and returns how many were
// removed. The purge counter is incremented here, once per deleted row,
// regardless of which caller triggered the purge. Callers are expected to
// record the purge itself in the trail.
func (r *AuditRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	telemetry.AuditEntriesPurgedTotal.Add(float64(purged))
	return purged, nil
}
