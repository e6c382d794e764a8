// audit_retention.go implements the AuditRetentionJob background job, which
// periodically deletes audit entries older than the configured retention
// window. Each purge is itself recorded in the trail with the cutoff and the
// row count, so the trail always shows where and why it was truncated. The
// job is a no-op when retention_days is zero, which means keep forever.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/aerodocs/aerodocs/internal/audit"
	"github.com/aerodocs/aerodocs/internal/config"
	"github.com/aerodocs/aerodocs/internal/db/models"
	"github.com/aerodocs/aerodocs/internal/db/repositories"
)

// AuditRetentionJob periodically purges audit entries past the retention
// window.
type AuditRetentionJob struct {
	auditRepo *repositories.AuditRepository
	recorder  *audit.Recorder
	cfg       *config.AuditConfig
	interval  time.Duration
	stopChan  chan struct{}
}

// NewAuditRetentionJob creates a new AuditRetentionJob.
// The check interval defaults to 24h.
func NewAuditRetentionJob(
	auditRepo *repositories.AuditRepository,
	recorder *audit.Recorder,
	cfg *config.AuditConfig,
) *AuditRetentionJob {
	hours := cfg.RetentionCheckIntervalHours
	if hours <= 0 {
		hours = 24
	}
	return &AuditRetentionJob{
		auditRepo: auditRepo,
		recorder:  recorder,
		cfg:       cfg,
		interval:  time.Duration(hours) * time.Hour,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background retention loop.
// It runs an initial purge immediately, then repeats on the configured
// interval. The loop exits when ctx is cancelled or Stop() is called.
func (j *AuditRetentionJob) Start(ctx context.Context) {
	if j.cfg.RetentionDays <= 0 {
		log.Println("Audit retention job: disabled (audit.retention_days=0, entries kept forever)")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Printf("Audit retention job started (check interval: %v, retention: %d days)",
		j.interval, j.cfg.RetentionDays)

	// Run once immediately on startup
	j.runPurge(ctx)

	for {
		select {
		case <-ticker.C:
			j.runPurge(ctx)
		case <-j.stopChan:
			log.Println("Audit retention job stopped")
			return
		case <-ctx.Done():
			log.Println("Audit retention job context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *AuditRetentionJob) Stop() {
	close(j.stopChan)
}

// runPurge deletes entries older than the cutoff and records the purge.
func (j *AuditRetentionJob) runPurge(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -j.cfg.RetentionDays)

	purged, err := j.auditRepo.Purge(ctx, cutoff)
	if err != nil {
		log.Printf("Audit retention job: purge failed: %v", err)
		return
	}
	if purged == 0 {
		return
	}

	log.Printf("Audit retention job: purged %d entries older than %s",
		purged, cutoff.Format(time.RFC3339))

	// Record the purge with a null actor; the scheduler has no user identity.
	entry, err := audit.BuildEntry("audit_entries", nil, models.ActionDelete, nil, nil, nil)
	if err != nil {
		log.Printf("Audit retention job: failed to build purge entry: %v", err)
		return
	}
	entry.Metadata = map[string]interface{}{
		"purged_count": purged,
		"cutoff":       cutoff.Format(time.RFC3339),
		"source":       "retention_job",
	}
	if err := j.recorder.Log(ctx, entry); err != nil {
		log.Printf("Audit retention job: failed to record purge entry: %v", err)
	}
}
