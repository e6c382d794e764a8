// document_repository.go implements DocumentRepository, the tracked write
// path for compliance documents. Status transitions record APPROVE/REJECT
// entries; plain field edits record UPDATE.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aerodocs/aerodocs/internal/audit"
	"github.com/aerodocs/aerodocs/internal/db/models"
)

// DocumentRepository handles document database operations
type DocumentRepository struct {
	db       *sqlx.DB
	recorder *audit.Recorder
}

// NewDocumentRepository creates a new DocumentRepository
func NewDocumentRepository(db *sqlx.DB, recorder *audit.Recorder) *DocumentRepository {
	return &DocumentRepository{db: db, recorder: recorder}
}

const documentColumns = `id, pilot_id, doc_type, title, file_path, file_size, checksum, content_type, status, rejection_reason, issued_date, expiry_date, reviewed_by, reviewed_at, created_at, updated_at`

func scanDocument(row interface{ Scan(...interface{}) error }) (*models.Document, error) {
	d := &models.Document{}
	err := row.Scan(
		&d.ID,
		&d.PilotID,
		&d.DocType,
		&d.Title,
		&d.FilePath,
		&d.FileSize,
		&d.Checksum,
		&d.ContentType,
		&d.Status,
		&d.RejectionReason,
		&d.IssuedDate,
		&d.ExpiryDate,
		&d.ReviewedBy,
		&d.ReviewedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// CreateDocument creates a new document record. New documents always start
// in pending status. The insert and its UPLOAD audit entry commit in the same
// transaction, so a document row never exists without its upload trail. The
// metadata map (file name, size, checksum) is attached to the entry.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *models.Document, actor *audit.Actor, metadata map[string]interface{}) error {
	if !models.ValidDocType(doc.DocType) {
		return fmt.Errorf("invalid document type: %s", doc.DocType)
	}

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.Status = models.StatusPending
	doc.RejectionReason = nil
	doc.ReviewedBy = nil
	doc.ReviewedAt = nil
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = time.Now()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO documents (id, pilot_id, doc_type, title, file_path, file_size, checksum, content_type, status, issued_date, expiry_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.ExecContext(ctx, query,
		doc.ID,
		doc.PilotID,
		doc.DocType,
		doc.Title,
		doc.FilePath,
		doc.FileSize,
		doc.Checksum,
		doc.ContentType,
		doc.Status,
		doc.IssuedDate,
		doc.ExpiryDate,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return err
	}

	entry, err := audit.BuildEntry("documents", &doc.ID, models.ActionUpload, actor, nil, doc)
	if err != nil {
		return err
	}
	if metadata != nil {
		entry.Metadata = metadata
	}
	if err := r.recorder.Record(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	r.recorder.Ship(entry)
	return nil
}

// GetDocumentByID retrieves a document by ID
func (r *DocumentRepository) GetDocumentByID(ctx context.Context, docID string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return scanDocument(r.db.QueryRowContext(ctx, query, docID))
}

// UpdateDocument updates a document's editable metadata. Status fields are
// only touched through SetStatus.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *models.Document, actor *audit.Actor) (*models.Document, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 FOR UPDATE`
	before, err := scanDocument(tx.QueryRowContext(ctx, query, doc.ID))
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, nil
	}

	after := *before
	after.Title = doc.Title
	after.IssuedDate = doc.IssuedDate
	after.ExpiryDate = doc.ExpiryDate
	after.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		UPDATE documents
		SET title = $2, issued_date = $3, expiry_date = $4, updated_at = $5
		WHERE id = $1
	`, after.ID, after.Title, after.IssuedDate, after.ExpiryDate, after.UpdatedAt)
	if err != nil {
		return nil, err
	}

	entry, err := audit.BuildEntry("documents", &after.ID, models.ActionUpdate, actor, before, &after)
	if err != nil {
		return nil, err
	}
	if err := r.recorder.Record(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	r.recorder.Ship(entry)
	return &after, nil
}

// SetStatus transitions a document to approved or rejected. The recorded
// action mirrors the outcome. Rejections require a reason; approvals clear
// any previous one.
func (r *DocumentRepository) SetStatus(ctx context.Context, docID, status, reviewerID string, rejectionReason *string, actor *audit.Actor) (*models.Document, error) {
	var action string
	switch status {
	case models.StatusApproved:
		action = models.ActionApprove
	case models.StatusRejected:
		action = models.ActionReject
		if rejectionReason == nil || strings.TrimSpace(*rejectionReason) == "" {
			return nil, fmt.Errorf("rejection requires a reason")
		}
	default:
		return nil, fmt.Errorf("invalid review status: %s", status)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 FOR UPDATE`
	before, err := scanDocument(tx.QueryRowContext(ctx, query, docID))
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, nil
	}

	now := time.Now()
	after := *before
	after.Status = status
	after.ReviewedBy = &reviewerID
	after.ReviewedAt = &now
	after.UpdatedAt = now
	if status == models.StatusApproved {
		after.RejectionReason = nil
	} else {
		after.RejectionReason = rejectionReason
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE documents
		SET status = $2, rejection_reason = $3, reviewed_by = $4, reviewed_at = $5, updated_at = $6
		WHERE id = $1
	`, after.ID, after.Status, after.RejectionReason, after.ReviewedBy, after.ReviewedAt, after.UpdatedAt)
	if err != nil {
		return nil, err
	}

	entry, err := audit.BuildEntry("documents", &after.ID, action, actor, before, &after)
	if err != nil {
		return nil, err
	}
	if err := r.recorder.Record(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	r.recorder.Ship(entry)
	return &after, nil
}

// DeleteDocument removes a document record and returns the deleted row so
// the caller can clean up the stored file after the commit succeeds.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, docID string, actor *audit.Actor) (*models.Document, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 FOR UPDATE`
	before, err := scanDocument(tx.QueryRowContext(ctx, query, docID))
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, docID); err != nil {
		return nil, err
	}

	entry, err := audit.BuildEntry("documents", &docID, models.ActionDelete, actor, before, nil)
	if err != nil {
		return nil, err
	}
	if err := r.recorder.Record(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	r.recorder.Ship(entry)
	return before, nil
}

// DocumentFilter holds optional filters for listing documents
type DocumentFilter struct {
	PilotID string
	Status  string
	DocType string
	Limit   int
	Offset  int
}

// ListDocuments retrieves documents matching the filter with a total count
func (r *DocumentRepository) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*models.Document, int, error) {
	whereClause := ""
	args := []interface{}{}
	paramIndex := 1
	conditions := []string{}

	if filter.PilotID != "" {
		conditions = append(conditions, fmt.Sprintf("pilot_id = $%d", paramIndex))
		args = append(args, filter.PilotID)
		paramIndex++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", paramIndex))
		args = append(args, filter.Status)
		paramIndex++
	}
	if filter.DocType != "" {
		conditions = append(conditions, fmt.Sprintf("doc_type = $%d", paramIndex))
		args = append(args, filter.DocType)
		paramIndex++
	}
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM documents` + whereClause
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT `+documentColumns+`
		FROM documents%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, paramIndex, paramIndex+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, d)
	}

	return docs, total, rows.Err()
}

// ExpiringBetween returns documents whose expiry date falls inside the given
// window, used by the expiry notifier.
func (r *DocumentRepository) ExpiringBetween(ctx context.Context, from, to time.Time) ([]*models.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE expiry_date IS NOT NULL AND expiry_date >= $1 AND expiry_date < $2
		ORDER BY expiry_date ASC
	`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}

	return docs, rows.Err()
}

// FindExpiringDocuments returns documents expiring within warningDays that
// have not had an expiry notification sent yet. The notifier marks each one
// after a successful send, so restarts never re-mail the same document.
func (r *DocumentRepository) FindExpiringDocuments(ctx context.Context, warningDays int) ([]*models.Document, error) {
	now := time.Now()
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE expiry_date IS NOT NULL
		  AND expiry_date >= $1 AND expiry_date < $2
		  AND expiry_notified_at IS NULL
		ORDER BY expiry_date ASC
	`

	rows, err := r.db.QueryContext(ctx, query, now, now.AddDate(0, 0, warningDays))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}

	return docs, rows.Err()
}

// MarkExpiryNotificationSent stamps a document so the notifier skips it on
// later runs.
func (r *DocumentRepository) MarkExpiryNotificationSent(ctx context.Context, documentID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE documents SET expiry_notified_at = $1 WHERE id = $2`,
		time.Now(), documentID,
	)
	return err
}

// CountByStatus returns document counts grouped by status
func (r *DocumentRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
