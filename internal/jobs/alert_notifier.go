// alert_notifier.go implements the AlertNotifier background job, which
// periodically emails operators about unacknowledged critical alerts.
// Notification state is persisted in the database (notified_at column) so
// each alert is emailed exactly once even across server restarts. The job is
// a no-op when notifications.enabled is false or when the SMTP host is not
// configured, so it is always safe to start regardless of deployment
// environment.
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

	"github.com/technically-fit/trust-engine/internal/config"
	"github.com/technically-fit/trust-engine/internal/db/models"
	"github.com/technically-fit/trust-engine/internal/db/repositories"
	"github.com/technically-fit/trust-engine/internal/telemetry"
)

// AlertNotifier periodically emails operators about open critical alerts.
type AlertNotifier struct {
	alertRepo *repositories.AlertRepository
	cfg       *config.NotificationsConfig
	interval  time.Duration
	stopChan  chan struct{}
}

// NewAlertNotifier creates a new AlertNotifier.
// cfg.AlertCheckIntervalMinutes controls how often the check runs (default 5m).
func NewAlertNotifier(alertRepo *repositories.AlertRepository, cfg *config.NotificationsConfig) *AlertNotifier {
	minutes := cfg.AlertCheckIntervalMinutes
	if minutes <= 0 {
		minutes = 5
	}
	return &AlertNotifier{
		alertRepo: alertRepo,
		cfg:       cfg,
		interval:  time.Duration(minutes) * time.Minute,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background notification loop.
// It runs an initial check immediately, then repeats on the configured interval.
// The loop exits when ctx is cancelled or Stop() is called.
func (n *AlertNotifier) Start(ctx context.Context) {
	if !n.cfg.Enabled {
		log.Println("Alert notifier: disabled (notifications.enabled=false)")
		return
	}
	if n.cfg.SMTP.Host == "" {
		log.Println("Alert notifier: disabled (notifications.smtp.host not set)")
		return
	}
	if len(n.cfg.AlertRecipients) == 0 {
		log.Println("Alert notifier: disabled (notifications.alert_recipients not set)")
		return
	}

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	log.Printf("Alert notifier started (check interval: %v, recipients: %d)",
		n.interval, len(n.cfg.AlertRecipients))

	// Run once immediately on startup
	n.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			n.runCheck(ctx)
		case <-n.stopChan:
			log.Println("Alert notifier stopped")
			return
		case <-ctx.Done():
			log.Println("Alert notifier context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (n *AlertNotifier) Stop() {
	close(n.stopChan)
}

// runCheck queries for unnotified critical alerts and sends one email each.
func (n *AlertNotifier) runCheck(ctx context.Context) {
	alerts, err := n.alertRepo.FindUnnotifiedCritical(ctx)
	if err != nil {
		log.Printf("Alert notifier: failed to query unnotified alerts: %v", err)
		return
	}

	if len(alerts) == 0 {
		return
	}

	log.Printf("Alert notifier: %d critical alert(s) awaiting notification", len(alerts))

	for _, alert := range alerts {
		if err := n.sendAlertEmail(alert); err != nil {
			log.Printf("Alert notifier: failed to send email for alert %s: %v", alert.ID, err)
			continue
		}

		telemetry.AlertNotificationsSentTotal.Inc()

		if err := n.alertRepo.MarkNotified(ctx, alert.ID); err != nil {
			log.Printf("Alert notifier: failed to mark alert %s notified: %v", alert.ID, err)
		}
	}
}

// sendAlertEmail composes and delivers a plain-text alert email via SMTP.
func (n *AlertNotifier) sendAlertEmail(alert *models.SecurityAlert) error {
	subject := fmt.Sprintf("[trust-engine] CRITICAL security alert: %s", alert.ID)
	body := strings.Join([]string{
		"A critical security alert requires acknowledgment.",
		"",
		fmt.Sprintf("Alert ID:     %s", alert.ID),
		fmt.Sprintf("Level:        %s", alert.AlertLevel),
		fmt.Sprintf("Summary:      %s", alert.Summary),
		fmt.Sprintf("Source event: %s", alert.SourceEventID),
		fmt.Sprintf("Raised at:    %s", alert.CreatedAt.UTC().Format(time.RFC1123)),
		"",
		"Acknowledge it via POST /api/v1/alerts/{id}/acknowledge once handled.",
		"",
		"— TechnicallyFit trust engine",
	}, "\r\n")

	smtpCfg := &n.cfg.SMTP
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		smtpCfg.From, strings.Join(n.cfg.AlertRecipients, ", "), subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)
	auth := smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)

	if smtpCfg.UseTLS {
		return sendMailTLS(addr, smtpCfg.Host, auth, smtpCfg.From, n.cfg.AlertRecipients, msg)
	}
	return smtp.SendMail(addr, auth, smtpCfg.From, n.cfg.AlertRecipients, msg)
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a message.
// Use this when UseTLS=true and the port is 465; for port 587 STARTTLS,
// smtp.SendMail handles the upgrade automatically — but we call this path for
// both so the config is unambiguous: UseTLS=true always means an encrypted connection.
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
