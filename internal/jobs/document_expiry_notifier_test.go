package jobs

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/aerodocs/aerodocs/internal/audit"
	"github.com/aerodocs/aerodocs/internal/config"
	"github.com/aerodocs/aerodocs/internal/db/repositories"
	"github.com/jmoiron/sqlx"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newNotifierConfig(enabled bool, smtpHost string) *config.NotificationsConfig {
	return &config.NotificationsConfig{
		Enabled: enabled,
		SMTP: config.SMTPConfig{
			Host: smtpHost,
			Port: 25,
			From: "noreply@aerodocs.example",
		},
		DocumentExpiryWarningDays:        30,
		DocumentExpiryCheckIntervalHours: 24,
	}
}

func newNotifierRepos(t *testing.T) (*repositories.DocumentRepository, *repositories.PilotRepository, *repositories.UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	recorder := audit.NewRecorder(db, nil, false)
	return repositories.NewDocumentRepository(db, recorder),
		repositories.NewPilotRepository(db, recorder),
		repositories.NewUserRepository(db, recorder),
		mock
}

// ---------------------------------------------------------------------------
// NewDocumentExpiryNotifier — construction and interval defaulting
// ---------------------------------------------------------------------------

func TestNewDocumentExpiryNotifier_DefaultInterval(t *testing.T) {
	cfg := newNotifierConfig(true, "smtp.example.com")
	cfg.DocumentExpiryCheckIntervalHours = 0 // should default to 24

	n := NewDocumentExpiryNotifier(nil, nil, nil, cfg)
	if n == nil {
		t.Fatal("NewDocumentExpiryNotifier returned nil")
	}
	if n.interval != 24*time.Hour {
		t.Errorf("interval = %v, want 24h", n.interval)
	}
}

func TestNewDocumentExpiryNotifier_CustomInterval(t *testing.T) {
	cfg := newNotifierConfig(true, "smtp.example.com")
	cfg.DocumentExpiryCheckIntervalHours = 6

	n := NewDocumentExpiryNotifier(nil, nil, nil, cfg)
	if n.interval != 6*time.Hour {
		t.Errorf("interval = %v, want 6h", n.interval)
	}
}

func TestNewDocumentExpiryNotifier_StopChanInitialised(t *testing.T) {
	n := NewDocumentExpiryNotifier(nil, nil, nil, newNotifierConfig(true, "smtp.example.com"))
	if n.stopChan == nil {
		t.Error("stopChan should not be nil after construction")
	}
}

// ---------------------------------------------------------------------------
// Start — early exits (no goroutine needed)
// ---------------------------------------------------------------------------

func TestExpiryNotifier_Start_DisabledConfig(t *testing.T) {
	cfg := newNotifierConfig(false, "smtp.example.com")
	n := NewDocumentExpiryNotifier(nil, nil, nil, cfg)

	done := make(chan struct{})
	go func() {
		n.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
		// Start returned immediately because Enabled=false
	case <-time.After(2 * time.Second):
		t.Error("Start did not return quickly when notifications are disabled")
	}
}

func TestExpiryNotifier_Start_BlankSMTPHost(t *testing.T) {
	cfg := newNotifierConfig(true, "") // blank host → should exit
	n := NewDocumentExpiryNotifier(nil, nil, nil, cfg)

	done := make(chan struct{})
	go func() {
		n.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
		// Start returned immediately because SMTP host is blank
	case <-time.After(2 * time.Second):
		t.Error("Start did not return quickly when SMTP host is blank")
	}
}

// ---------------------------------------------------------------------------
// Stop — channel close
// ---------------------------------------------------------------------------

func TestExpiryNotifier_Stop_DoesNotPanic(t *testing.T) {
	n := NewDocumentExpiryNotifier(nil, nil, nil, newNotifierConfig(true, "smtp.example.com"))
	n.Stop() // must not panic
}

// ---------------------------------------------------------------------------
// sendExpiryEmail — covers body composition up to smtp.SendMail call
// Uses an unreachable SMTP address so the formatting code is executed and
// the send step fails with "connection refused" (which is expected).
// ---------------------------------------------------------------------------

func TestExpiryNotifier_SendExpiryEmail_NoTLS_CoverBodyComposition(t *testing.T) {
	cfg := newNotifierConfig(true, "127.0.0.1")
	cfg.SMTP.Port = 1 // nothing listening on port 1
	cfg.SMTP.UseTLS = false

	n := NewDocumentExpiryNotifier(nil, nil, nil, cfg)
	expiresAt := time.Now().Add(5 * 24 * time.Hour)

	// Error is expected (connection refused); we only care that no panic occurs
	// and that all the body-composition statements are exercised.
	_ = n.sendExpiryEmail("pilot@example.com", "Jordan Avery", "Class 1 Medical", "medical_certificate", expiresAt)
}

func TestExpiryNotifier_SendExpiryEmail_TLS_CoverSendMailTLS(t *testing.T) {
	cfg := newNotifierConfig(true, "127.0.0.1")
	cfg.SMTP.Port = 1      // nothing listening on port 1
	cfg.SMTP.UseTLS = true // routes through sendMailTLS, which falls back on dial failure

	n := NewDocumentExpiryNotifier(nil, nil, nil, cfg)
	expiresAt := time.Now().Add(3 * 24 * time.Hour)

	_ = n.sendExpiryEmail("pilot@example.com", "Sam Reyes", "ATPL License", "license", expiresAt)
}

func TestExpiryNotifier_SendExpiryEmail_AlreadyExpired(t *testing.T) {
	cfg := newNotifierConfig(true, "127.0.0.1")
	cfg.SMTP.Port = 1
	cfg.SMTP.UseTLS = false

	n := NewDocumentExpiryNotifier(nil, nil, nil, cfg)
	// expiresAt in the past → daysLeft clamps to 0
	expiresAt := time.Now().Add(-48 * time.Hour)

	_ = n.sendExpiryEmail("pilot@example.com", "Alex Kim", "Lapsed Medical", "medical_certificate", expiresAt)
}

// ---------------------------------------------------------------------------
// runCheck — exercised via sqlmock
// ---------------------------------------------------------------------------

func TestExpiryNotifier_RunCheck_NoExpiringDocuments(t *testing.T) {
	docRepo, pilotRepo, userRepo, mock := newNotifierRepos(t)
	cfg := newNotifierConfig(true, "smtp.example.com")

	mock.ExpectQuery("SELECT id.*FROM documents.*expiry_notified_at IS NULL").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "pilot_id", "doc_type", "title", "file_path", "file_size",
			"checksum", "content_type", "status", "rejection_reason",
			"issued_date", "expiry_date", "reviewed_by", "reviewed_at",
			"created_at", "updated_at",
		}))

	n := NewDocumentExpiryNotifier(docRepo, pilotRepo, userRepo, cfg)
	n.runCheck(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExpiryNotifier_RunCheck_QueryError_DoesNotPanic(t *testing.T) {
	docRepo, pilotRepo, userRepo, mock := newNotifierRepos(t)
	cfg := newNotifierConfig(true, "smtp.example.com")

	mock.ExpectQuery("SELECT id.*FROM documents.*expiry_notified_at IS NULL").
		WillReturnError(context.DeadlineExceeded)

	n := NewDocumentExpiryNotifier(docRepo, pilotRepo, userRepo, cfg)
	n.runCheck(context.Background())
}

func TestExpiryNotifier_RunCheck_SendFailure_DoesNotMarkNotified(t *testing.T) {
	docRepo, pilotRepo, userRepo, mock := newNotifierRepos(t)
	cfg := newNotifierConfig(true, "127.0.0.1")
	cfg.SMTP.Port = 1 // send will fail with connection refused

	now := time.Now()
	expiry := now.Add(10 * 24 * time.Hour)
	docRows := sqlmock.NewRows([]string{
		"id", "pilot_id", "doc_type", "title", "file_path", "file_size",
		"checksum", "content_type", "status", "rejection_reason",
		"issued_date", "expiry_date", "reviewed_by", "reviewed_at",
		"created_at", "updated_at",
	}).AddRow(
		"doc-1", "pilot-1", "medical_certificate", "Class 1 Medical",
		"pilots/pilot-1/doc-1/medical.pdf", int64(11), "abc", "application/pdf",
		"approved", nil, nil, expiry, nil, nil, now, now,
	)

	mock.ExpectQuery("SELECT id.*FROM documents.*expiry_notified_at IS NULL").
		WillReturnRows(docRows)
	mock.ExpectQuery("SELECT id.*FROM pilots WHERE id").
		WithArgs("pilot-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "full_name", "license_number", "license_type",
			"medical_class", "base_airport", "phone", "created_at", "updated_at",
		}).AddRow("pilot-1", "user-1", "Jordan Avery", "ATP-1", "ATPL", "first", "KJFK", nil, now, now))
	mock.ExpectQuery("SELECT id.*FROM users WHERE id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "name", "password_hash", "oidc_sub", "role",
			"created_at", "updated_at",
		}).AddRow("user-1", "pilot@example.com", "Jordan Avery", nil, nil, "pilot", now, now))
	// no UPDATE documents expectation: the failed send must not mark the row

	n := NewDocumentExpiryNotifier(docRepo, pilotRepo, userRepo, cfg)
	n.runCheck(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
