// alert_repository.go implements AlertRepository, providing database queries
// for security alert creation, acknowledgment, and listing. Idempotency and
// the single-winner acknowledge race are enforced here at the SQL level
// rather than in the service layer, so every caller gets the same guarantees.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/technically-fit/trust-engine/internal/db/models"
)

// AlertRepository handles security alert database operations
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository creates a new AlertRepository
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `id, source_event_id, alert_level, summary, acknowledged, acknowledged_by, resolution, created_at, acknowledged_at, notified_at`

// CreateAlert inserts a new alert unless one already exists for the same
// source event. The unique index on source_event_id plus ON CONFLICT DO
// NOTHING makes creation idempotent under concurrent retries. Returns true
// when a row was actually inserted.
func (r *AlertRepository) CreateAlert(ctx context.Context, alert *models.SecurityAlert) (bool, error) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO security_alerts (id, source_event_id, alert_level, summary, acknowledged, created_at)
		VALUES ($1, $2, $3, $4, false, $5)
		ON CONFLICT (source_event_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		alert.ID,
		alert.SourceEventID,
		alert.AlertLevel,
		alert.Summary,
		alert.CreatedAt,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// GetAlert retrieves an alert by ID. Returns (nil, nil) if no alert exists.
func (r *AlertRepository) GetAlert(ctx context.Context, id string) (*models.SecurityAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM security_alerts WHERE id = $1`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// GetAlertBySourceEvent retrieves the alert raised for a given source event,
// or (nil, nil) if none was raised.
func (r *AlertRepository) GetAlertBySourceEvent(ctx context.Context, sourceEventID string) (*models.SecurityAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM security_alerts WHERE source_event_id = $1`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, sourceEventID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// Acknowledge marks an alert acknowledged if and only if it is not already.
// The WHERE guard makes exactly one of N concurrent acknowledgments win;
// the losers see zero rows affected and the caller re-reads to distinguish
// "unknown alert" from "already acknowledged". Returns true when this call
// was the winner.
func (r *AlertRepository) Acknowledge(ctx context.Context, id, actorID string, resolution *string) (bool, error) {
	query := `
		UPDATE security_alerts
		SET acknowledged = true, acknowledged_by = $2, resolution = $3, acknowledged_at = $4
		WHERE id = $1 AND acknowledged = false
	`

	result, err := r.db.ExecContext(ctx, query, id, actorID, resolution, time.Now().UTC())
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ListUnacknowledged returns open alerts, newest first.
func (r *AlertRepository) ListUnacknowledged(ctx context.Context) ([]*models.SecurityAlert, error) {
	return r.listByAcknowledged(ctx, false)
}

// ListAcknowledged returns handled alerts, newest first.
func (r *AlertRepository) ListAcknowledged(ctx context.Context) ([]*models.SecurityAlert, error) {
	return r.listByAcknowledged(ctx, true)
}

func (r *AlertRepository) listByAcknowledged(ctx context.Context, acknowledged bool) ([]*models.SecurityAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM security_alerts WHERE acknowledged = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, acknowledged)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]*models.SecurityAlert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// FindUnnotifiedCritical returns unacknowledged critical alerts that the
// notifier job has not yet emailed about (notified_at IS NULL).
func (r *AlertRepository) FindUnnotifiedCritical(ctx context.Context) ([]*models.SecurityAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM security_alerts
		WHERE acknowledged = false
		  AND alert_level = $1
		  AND notified_at IS NULL
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, models.AlertLevelCritical)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]*models.SecurityAlert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// MarkNotified records that the notification email for an alert was sent,
// preventing duplicate emails on subsequent job runs.
func (r *AlertRepository) MarkNotified(ctx context.Context, id string) error {
	query := `UPDATE security_alerts SET notified_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	return err
}

func scanAlert(row rowScanner) (*models.SecurityAlert, error) {
	alert := &models.SecurityAlert{}
	err := row.Scan(
		&alert.ID,
		&alert.SourceEventID,
		&alert.AlertLevel,
		&alert.Summary,
		&alert.Acknowledged,
		&alert.AcknowledgedBy,
		&alert.Resolution,
		&alert.CreatedAt,
		&alert.AcknowledgedAt,
		&alert.NotifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return alert, nil
}
