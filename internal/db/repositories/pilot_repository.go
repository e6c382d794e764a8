// pilot_repository.go implements PilotRepository, the tracked write path for
// pilot profiles. Every mutation records its audit entry inside the same
// transaction.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aerodocs/aerodocs/internal/audit"
	"github.com/aerodocs/aerodocs/internal/db/models"
)

// PilotRepository handles pilot profile database operations
type PilotRepository struct {
	db       *sqlx.DB
	recorder *audit.Recorder
}

// NewPilotRepository creates a new PilotRepository
func NewPilotRepository(db *sqlx.DB, recorder *audit.Recorder) *PilotRepository {
	return &PilotRepository{db: db, recorder: recorder}
}

const pilotColumns = `id, user_id, full_name, license_number, license_type, medical_class, base_airport, phone, created_at, updated_at`

func scanPilot(row interface{ Scan(...interface{}) error }) (*models.Pilot, error) {
	p := &models.Pilot{}
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.FullName,
		&p.LicenseNumber,
		&p.LicenseType,
		&p.MedicalClass,
		&p.BaseAirport,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreatePilot creates a new pilot profile
func (r *PilotRepository) CreatePilot(ctx context.Context, pilot *models.Pilot, actor *audit.Actor) error {
	pilot.ID = uuid.New().String()
	pilot.CreatedAt = time.Now()
	pilot.UpdatedAt = time.Now()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO pilots (id, user_id, full_name, license_number, license_type, medical_class, base_airport, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = tx.ExecContext(ctx, query,
		pilot.ID,
		pilot.UserID,
		pilot.FullName,
		pilot.LicenseNumber,
		pilot.LicenseType,
		pilot.MedicalClass,
		pilot.BaseAirport,
		pilot.Phone,
		pilot.CreatedAt,
		pilot.UpdatedAt,
	)
	if err != nil {
		return err
	}

	entry, err := audit.BuildEntry("pilots", &pilot.ID, models.ActionCreate, actor, nil, pilot)
	if err != nil {
		return err
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

// GetPilotByID retrieves a pilot profile by ID
func (r *PilotRepository) GetPilotByID(ctx context.Context, pilotID string) (*models.Pilot, error) {
	query := `SELECT ` + pilotColumns + ` FROM pilots WHERE id = $1`
	return scanPilot(r.db.QueryRowContext(ctx, query, pilotID))
}

// GetPilotByUserID retrieves the pilot profile belonging to a user account
func (r *PilotRepository) GetPilotByUserID(ctx context.Context, userID string) (*models.Pilot, error) {
	query := `SELECT ` + pilotColumns + ` FROM pilots WHERE user_id = $1`
	return scanPilot(r.db.QueryRowContext(ctx, query, userID))
}

// UpdatePilot updates a pilot profile. The pre-image is locked FOR UPDATE so
// the recorded snapshots cannot race a concurrent edit.
func (r *PilotRepository) UpdatePilot(ctx context.Context, pilot *models.Pilot, actor *audit.Actor) (*models.Pilot, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + pilotColumns + ` FROM pilots WHERE id = $1 FOR UPDATE`
	before, err := scanPilot(tx.QueryRowContext(ctx, query, pilot.ID))
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, nil
	}

	after := *before
	after.FullName = pilot.FullName
	after.LicenseNumber = pilot.LicenseNumber
	after.LicenseType = pilot.LicenseType
	after.MedicalClass = pilot.MedicalClass
	after.BaseAirport = pilot.BaseAirport
	after.Phone = pilot.Phone
	after.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		UPDATE pilots
		SET full_name = $2, license_number = $3, license_type = $4, medical_class = $5, base_airport = $6, phone = $7, updated_at = $8
		WHERE id = $1
	`,
		after.ID,
		after.FullName,
		after.LicenseNumber,
		after.LicenseType,
		after.MedicalClass,
		after.BaseAirport,
		after.Phone,
		after.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry, err := audit.BuildEntry("pilots", &after.ID, models.ActionUpdate, actor, before, &after)
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

// DeletePilot removes a pilot profile together with every document it owns,
// recording a DELETE entry for each removed row in the same transaction.
// Document rows are never dropped by an FK cascade (the schema RESTRICTs),
// so every one is enumerated here and shows up in the trail with its full
// pre-image. The deleted documents are returned so the caller can remove
// the stored files after the commit. Returns nil, false when no pilot with
// that ID exists.
func (r *PilotRepository) DeletePilot(ctx context.Context, pilotID string, actor *audit.Actor) ([]*models.Document, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	query := `SELECT ` + pilotColumns + ` FROM pilots WHERE id = $1 FOR UPDATE`
	before, err := scanPilot(tx.QueryRowContext(ctx, query, pilotID))
	if err != nil {
		return nil, false, err
	}
	if before == nil {
		return nil, false, nil
	}

	docs, err := lockPilotDocuments(ctx, tx, pilotID)
	if err != nil {
		return nil, false, err
	}

	entries := make([]*models.AuditEntry, 0, len(docs)+1)
	for _, doc := range docs {
		docID := doc.ID
		entry, err := audit.BuildEntry("documents", &docID, models.ActionDelete, actor, doc, nil)
		if err != nil {
			return nil, false, err
		}
		entry.Metadata = map[string]interface{}{
			"cascade_from": "pilots/" + pilotID,
		}
		entries = append(entries, entry)
	}

	if len(docs) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE pilot_id = $1`, pilotID); err != nil {
			return nil, false, err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pilots WHERE id = $1`, pilotID); err != nil {
		return nil, false, err
	}

	pilotEntry, err := audit.BuildEntry("pilots", &pilotID, models.ActionDelete, actor, before, nil)
	if err != nil {
		return nil, false, err
	}
	if len(docs) > 0 {
		pilotEntry.Metadata = map[string]interface{}{
			"deleted_documents": len(docs),
		}
	}
	entries = append(entries, pilotEntry)

	for _, entry := range entries {
		if err := r.recorder.Record(ctx, tx, entry); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	for _, entry := range entries {
		r.recorder.Ship(entry)
	}
	return docs, true, nil
}

// lockPilotDocuments loads and locks every document owned by a pilot inside
// the caller's transaction.
func lockPilotDocuments(ctx context.Context, tx *sqlx.Tx, pilotID string) ([]*models.Document, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE pilot_id = $1 FOR UPDATE`, pilotID)
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

// ListPilots retrieves a paginated list of pilot profiles
func (r *PilotRepository) ListPilots(ctx context.Context, limit, offset int) ([]*models.Pilot, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pilots`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + pilotColumns + `
		FROM pilots
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	pilots := make([]*models.Pilot, 0)
	for rows.Next() {
		p, err := scanPilot(rows)
		if err != nil {
			return nil, 0, err
		}
		pilots = append(pilots, p)
	}

	return pilots, total, rows.Err()
}

// Count returns the total number of pilot profiles
func (r *PilotRepository) Count(ctx context.Context) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pilots`).Scan(&total)
	return total, err
}
