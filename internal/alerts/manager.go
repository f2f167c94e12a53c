// Package alerts raises and resolves security alerts. Alerts are created
// automatically from high/critical audit events and from critical anomaly
// findings, deduplicated per source event, and stay open until an operator
// acknowledges them.
package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/technically-fit/trust-engine/internal/db/models"
	"github.com/technically-fit/trust-engine/internal/db/repositories"
	"github.com/technically-fit/trust-engine/internal/detection"
	"github.com/technically-fit/trust-engine/internal/telemetry"
)

// NotFoundError reports an acknowledge against an alert ID that does not
// exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("alert %s not found", e.ID)
}

// AlreadyAcknowledgedError reports an acknowledge against an alert that was
// already handled, including by a concurrent caller that won the race.
type AlreadyAcknowledgedError struct {
	ID string
	By string
}

func (e *AlreadyAcknowledgedError) Error() string {
	if e.By != "" {
		return fmt.Sprintf("alert %s already acknowledged by %s", e.ID, e.By)
	}
	return fmt.Sprintf("alert %s already acknowledged", e.ID)
}

// Manager owns the alert lifecycle on top of AlertRepository. The repository
// reports race outcomes as booleans; the manager re-reads after a loss and
// converts them into the typed errors API callers branch on.
type Manager struct {
	repo *repositories.AlertRepository
}

// NewManager creates a Manager.
func NewManager(repo *repositories.AlertRepository) *Manager {
	return &Manager{repo: repo}
}

// CreateForEvent raises an alert for a high or critical audit event. Lower
// severities are a no-op. Creation is idempotent per source event: concurrent
// or repeated calls for the same event leave exactly one alert.
func (m *Manager) CreateForEvent(ctx context.Context, event *models.AuditEvent) error {
	if event.Severity != models.SeverityHigh && event.Severity != models.SeverityCritical {
		return nil
	}

	alert := &models.SecurityAlert{
		SourceEventID: event.ID,
		AlertLevel:    models.AlertLevel(event.Severity),
		Summary:       fmt.Sprintf("%s severity %s: %s on %s by %s", event.Severity, event.Category, event.Action, event.Resource, event.ActorID),
	}

	inserted, err := m.repo.CreateAlert(ctx, alert)
	if err != nil {
		return fmt.Errorf("create alert for event %s: %w", event.ID, err)
	}
	if !inserted {
		// An alert for this event already exists; nothing to do.
		return nil
	}

	telemetry.AlertsCreatedTotal.WithLabelValues(string(alert.AlertLevel)).Inc()
	slog.Info("security alert created",
		"alert_id", alert.ID,
		"source_event_id", event.ID,
		"level", alert.AlertLevel,
	)
	return nil
}

// CreateForFinding raises an alert for a critical anomaly finding.
// sourceEventID is the audit event the scan job recorded for the finding; it
// carries the idempotency key, so re-scanning the same window cannot raise a
// second alert for the same materialized finding.
func (m *Manager) CreateForFinding(ctx context.Context, finding detection.Finding, sourceEventID string) error {
	if finding.Severity != models.SeverityCritical {
		return nil
	}

	alert := &models.SecurityAlert{
		SourceEventID: sourceEventID,
		AlertLevel:    models.AlertLevelCritical,
		Summary:       fmt.Sprintf("anomaly %s for actor %s: %s", finding.PatternType, finding.ScopeActorID, finding.Description),
	}

	inserted, err := m.repo.CreateAlert(ctx, alert)
	if err != nil {
		return fmt.Errorf("create alert for finding %s: %w", finding.PatternType, err)
	}
	if !inserted {
		return nil
	}

	telemetry.AlertsCreatedTotal.WithLabelValues(string(alert.AlertLevel)).Inc()
	slog.Info("security alert created from anomaly finding",
		"alert_id", alert.ID,
		"pattern", finding.PatternType,
		"scope_actor_id", finding.ScopeActorID,
	)
	return nil
}

// Acknowledge marks an alert handled. Exactly one of N concurrent calls for
// the same alert succeeds; every other caller gets AlreadyAcknowledgedError,
// and an unknown ID gets NotFoundError.
func (m *Manager) Acknowledge(ctx context.Context, id, actorID string, resolution *string) error {
	won, err := m.repo.Acknowledge(ctx, id, actorID, resolution)
	if err != nil {
		return fmt.Errorf("acknowledge alert %s: %w", id, err)
	}
	if won {
		telemetry.AlertsAcknowledgedTotal.Inc()
		slog.Info("security alert acknowledged", "alert_id", id, "acknowledged_by", actorID)
		return nil
	}

	// Lost the guarded update. Re-read to tell the caller why.
	alert, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert %s: %w", id, err)
	}
	if alert == nil {
		return &NotFoundError{ID: id}
	}
	ackErr := &AlreadyAcknowledgedError{ID: id}
	if alert.AcknowledgedBy != nil {
		ackErr.By = *alert.AcknowledgedBy
	}
	return ackErr
}

// Get returns one alert, or NotFoundError.
func (m *Manager) Get(ctx context.Context, id string) (*models.SecurityAlert, error) {
	alert, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, &NotFoundError{ID: id}
	}
	return alert, nil
}

// ListUnacknowledged returns open alerts, newest first.
func (m *Manager) ListUnacknowledged(ctx context.Context) ([]*models.SecurityAlert, error) {
	return m.repo.ListUnacknowledged(ctx)
}

// ListAcknowledged returns handled alerts, newest first.
func (m *Manager) ListAcknowledged(ctx context.Context) ([]*models.SecurityAlert, error) {
	return m.repo.ListAcknowledged(ctx)
}
