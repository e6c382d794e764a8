// Package repositories implements the data access layer (repository pattern) for AeroDocs.
// Each repository type encapsulates all database queries for a domain entity.
// Handlers never issue SQL directly — all database access goes through this layer.
// Repositories over tracked tables (users, pilots, documents) are also the sole
// write path: every mutation opens a transaction, captures the row's pre-image,
// applies the change, and records the audit entry before committing. A mutation
// whose audit entry cannot be written is rolled back.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aerodocs/aerodocs/internal/audit"
	"github.com/aerodocs/aerodocs/internal/db/models"
)

// UserRepository handles user database operations
type UserRepository struct {
	db       *sqlx.DB
	recorder *audit.Recorder
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sqlx.DB, recorder *audit.Recorder) *UserRepository {
	return &UserRepository{db: db, recorder: recorder}
}

const userColumns = `id, email, name, password_hash, oidc_sub, role, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.OIDCSub,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser creates a new user and records the creation on the audit trail
// within the same transaction.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User, actor *audit.Actor) error {
	if user.Role == "" {
		user.Role = models.RolePilot
	}
	if !models.ValidRole(user.Role) {
		return fmt.Errorf("invalid role: %s", user.Role)
	}

	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO users (id, email, name, password_hash, oidc_sub, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = tx.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.OIDCSub,
		user.Role,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return err
	}

	entry, err := audit.BuildEntry("users", &user.ID, models.ActionCreate, actor, nil, user.Redacted())
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

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, userID))
}

// GetUserByEmail retrieves a user by email
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetUserByOIDCSub retrieves a user by OIDC subject identifier
func (r *UserRepository) GetUserByOIDCSub(ctx context.Context, oidcSub string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE oidc_sub = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, oidcSub))
}

// UpdateRole changes a user's role. The pre-image is locked FOR UPDATE so the
// recorded before/after snapshots cannot race a concurrent role change.
func (r *UserRepository) UpdateRole(ctx context.Context, userID, newRole string, actor *audit.Actor) (*models.User, error) {
	if !models.ValidRole(newRole) {
		return nil, fmt.Errorf("invalid role: %s", newRole)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	before, err := scanUser(tx.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, nil
	}

	after := *before
	after.Role = newRole
	after.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`,
		userID, after.Role, after.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry, err := audit.BuildEntry("users", &userID, models.ActionUpdate, actor, before.Redacted(), after.Redacted())
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

// UpdateProfile updates a user's email and name, recording the change.
func (r *UserRepository) UpdateProfile(ctx context.Context, userID, email, name string, actor *audit.Actor) (*models.User, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	before, err := scanUser(tx.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, nil
	}

	after := *before
	after.Email = email
	after.Name = name
	after.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET email = $2, name = $3, updated_at = $4 WHERE id = $1`,
		userID, after.Email, after.Name, after.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry, err := audit.BuildEntry("users", &userID, models.ActionUpdate, actor, before.Redacted(), after.Redacted())
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

// ListUsers retrieves a paginated list of users
func (r *UserRepository) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}

	return users, total, rows.Err()
}

// GetOrCreateUserFromOIDC gets or creates a user from OIDC authentication.
// New users default to the pilot role; role elevation is an explicit admin
// action so it always appears on the trail.
func (r *UserRepository) GetOrCreateUserFromOIDC(ctx context.Context, oidcSub, email, name string, actor *audit.Actor) (*models.User, error) {
	user, err := r.GetUserByOIDCSub(ctx, oidcSub)
	if err != nil {
		return nil, err
	}

	if user != nil {
		if user.Email != email || user.Name != name {
			updated, err := r.UpdateProfile(ctx, user.ID, email, name, actor)
			if err != nil {
				return nil, err
			}
			return updated, nil
		}
		return user, nil
	}

	newUser := &models.User{
		Email:   email,
		Name:    name,
		OIDCSub: &oidcSub,
		Role:    models.RolePilot,
	}

	if err := r.CreateUser(ctx, newUser, actor); err != nil {
		return nil, err
	}

	return newUser, nil
}

// Count returns the total number of users
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total)
	return total, err
}
