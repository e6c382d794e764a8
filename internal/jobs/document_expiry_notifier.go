// document_expiry_notifier.go implements the DocumentExpiryNotifier background
// job, which periodically scans for compliance documents approaching their
// expiry date and emails the owning pilot. Notification state is persisted in
// the database (expiry_notified_at column) so emails are sent exactly once
// even across server restarts. The job is a no-op when notifications.enabled
// is false or when the SMTP host is not configured, so it is always safe to
// start regardless of deployment environment.
package jobs

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/aerodocs/aerodocs/internal/config"
	"github.com/aerodocs/aerodocs/internal/db/repositories"
)

// DocumentExpiryNotifier periodically emails pilots whose documents are
// about to expire.
type DocumentExpiryNotifier struct {
	docRepo   *repositories.DocumentRepository
	pilotRepo *repositories.PilotRepository
	userRepo  *repositories.UserRepository
	cfg       *config.NotificationsConfig
	interval  time.Duration
	stopChan  chan struct{}
}

// NewDocumentExpiryNotifier creates a new DocumentExpiryNotifier.
// The check interval defaults to 24h.
func NewDocumentExpiryNotifier(
	docRepo *repositories.DocumentRepository,
	pilotRepo *repositories.PilotRepository,
	userRepo *repositories.UserRepository,
	cfg *config.NotificationsConfig,
) *DocumentExpiryNotifier {
	hours := cfg.DocumentExpiryCheckIntervalHours
	if hours <= 0 {
		hours = 24
	}
	return &DocumentExpiryNotifier{
		docRepo:   docRepo,
		pilotRepo: pilotRepo,
		userRepo:  userRepo,
		cfg:       cfg,
		interval:  time.Duration(hours) * time.Hour,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background expiry-notification loop.
// It runs an initial check immediately, then repeats on the configured
// interval. The loop exits when ctx is cancelled or Stop() is called.
func (n *DocumentExpiryNotifier) Start(ctx context.Context) {
	if !n.cfg.Enabled {
		log.Println("Document expiry notifier: disabled (notifications.enabled=false)")
		return
	}
	if n.cfg.SMTP.Host == "" {
		log.Println("Document expiry notifier: disabled (notifications.smtp.host not set)")
		return
	}

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	log.Printf("Document expiry notifier started (check interval: %v, warning window: %d days)",
		n.interval, n.cfg.DocumentExpiryWarningDays)

	// Run once immediately on startup
	n.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			n.runCheck(ctx)
		case <-n.stopChan:
			log.Println("Document expiry notifier stopped")
			return
		case <-ctx.Done():
			log.Println("Document expiry notifier context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (n *DocumentExpiryNotifier) Stop() {
	close(n.stopChan)
}

// runCheck queries for expiring documents and sends notification emails.
func (n *DocumentExpiryNotifier) runCheck(ctx context.Context) {
	warningDays := n.cfg.DocumentExpiryWarningDays
	if warningDays <= 0 {
		warningDays = 30
	}

	docs, err := n.docRepo.FindExpiringDocuments(ctx, warningDays)
	if err != nil {
		log.Printf("Document expiry notifier: failed to query expiring documents: %v", err)
		return
	}

	if len(docs) == 0 {
		return
	}

	log.Printf("Document expiry notifier: found %d document(s) approaching expiry", len(docs))

	for _, doc := range docs {
		if doc.ExpiryDate == nil {
			continue
		}

		pilot, err := n.pilotRepo.GetPilotByID(ctx, doc.PilotID)
		if err != nil || pilot == nil {
			log.Printf("Document expiry notifier: could not resolve pilot %s for document %s: %v",
				doc.PilotID, doc.ID, err)
			continue
		}

		user, err := n.userRepo.GetUserByID(ctx, pilot.UserID)
		if err != nil || user == nil {
			log.Printf("Document expiry notifier: could not resolve user %s for pilot %s: %v",
				pilot.UserID, pilot.ID, err)
			continue
		}
		if user.Email == "" {
			continue
		}

		if err := n.sendExpiryEmail(user.Email, pilot.FullName, doc.Title, doc.DocType, *doc.ExpiryDate); err != nil {
			log.Printf("Document expiry notifier: failed to send email to %s: %v", user.Email, err)
			continue
		}

		if err := n.docRepo.MarkExpiryNotificationSent(ctx, doc.ID); err != nil {
			log.Printf("Document expiry notifier: failed to mark notification sent for document %s: %v", doc.ID, err)
		}
	}
}

// sendExpiryEmail composes and delivers a plain-text warning email via SMTP.
func (n *DocumentExpiryNotifier) sendExpiryEmail(toEmail, pilotName, title, docType string, expiresAt time.Time) error {
	daysLeft := int(time.Until(expiresAt).Hours()/24) + 1
	if daysLeft < 0 {
		daysLeft = 0
	}

	subject := fmt.Sprintf("Action Required: '%s' expires in %d day(s)", title, daysLeft)
	body := strings.Join([]string{
		fmt.Sprintf("Hello %s,", pilotName),
		"",
		fmt.Sprintf("Your %s '%s' will expire on %s (%d day(s) from now).",
			strings.ReplaceAll(docType, "_", " "), title,
			expiresAt.UTC().Format("Monday, 2 January 2006"), daysLeft),
		"",
		"To remain compliant, please upload a renewed document before the expiry date:",
		"  1. Log in to AeroDocs.",
		"  2. Navigate to My Documents.",
		"  3. Upload the renewed document for review.",
		"",
		"Expired documents are flagged to inspectors automatically.",
		"",
		"— AeroDocs",
	}, "\r\n")

	smtpCfg := &n.cfg.SMTP
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		smtpCfg.From, toEmail, subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)
	auth := smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)

	if smtpCfg.UseTLS {
		return sendMailTLS(addr, smtpCfg.Host, auth, smtpCfg.From, []string{toEmail}, msg)
	}
	return smtp.SendMail(addr, auth, smtpCfg.From, []string{toEmail}, msg)
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a message.
// For port 587 STARTTLS, smtp.SendMail handles the upgrade automatically, but
// this path is used whenever UseTLS=true so the config is unambiguous:
// UseTLS=true always means an encrypted connection.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		// Fall back to STARTTLS via the standard smtp.SendMail path (port 587 pattern)
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, addr := range to {
		if err := c.Rcpt(addr); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", addr, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
