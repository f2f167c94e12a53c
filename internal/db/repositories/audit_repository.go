// Package repositories implements the persistence layer for the trust
// engine. Each repository wraps a database handle and owns the SQL for one
// aggregate; callers never see raw rows. Not-found reads return (nil, nil)
// so the service layer decides which absence is an error.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/technically-fit/trust-engine/internal/db/models"
)

const (
	// DefaultQueryLimit applies when a caller does not specify a page size.
	DefaultQueryLimit = 50
	// MaxQueryLimit caps a single page regardless of what the caller asks for.
	MaxQueryLimit = 1000
)

// AuditRepository handles audit event database operations. Events are
// append-only: there is no update path, and deletion happens exclusively
// through DeleteEventsBefore (the retention sweeper).
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditEventColumns = `id, actor_id, action, resource, resource_id, severity, category, outcome, error_message, ip_address, metadata, created_at`

// CreateAuditEvent inserts a new audit event. ID and CreatedAt are assigned
// here if unset so callers can pass a bare event.
func (r *AuditRepository) CreateAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (id, actor_id, action, resource, resource_id, severity, category, outcome, error_message, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.ActorID,
		event.Action,
		event.Resource,
		event.ResourceID,
		event.Severity,
		event.Category,
		event.Outcome,
		event.ErrorMessage,
		event.IPAddress,
		metadataJSON,
		event.CreatedAt,
	)

	return err
}

// GetAuditEvent retrieves a single audit event by ID. Returns (nil, nil) if
// no event exists.
func (r *AuditRepository) GetAuditEvent(ctx context.Context, id string) (*models.AuditEvent, error) {
	query := `SELECT ` + auditEventColumns + ` FROM audit_events WHERE id = $1`

	event, err := scanAuditEvent(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// QueryEvents runs a filtered audit query. Exactly one filter dimension
// drives the SQL WHERE clause — chosen by filter.PrimaryDimension() — plus
// any time bounds; all remaining dimensions are applied as post-filter
// predicates while streaming rows. This bounds every query to a single
// index scan no matter how many dimensions the caller combines.
//
// Results are ordered newest-first. The second return value reports whether
// more matching rows exist beyond the requested page.
func (r *AuditRepository) QueryEvents(ctx context.Context, filter *models.EventFilter) ([]*models.AuditEvent, bool, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + auditEventColumns + ` FROM audit_events WHERE 1=1`
	args := []interface{}{}
	paramIndex := 1

	switch filter.PrimaryDimension() {
	case models.DimensionActor:
		query += fmt.Sprintf(" AND actor_id = $%d", paramIndex)
		args = append(args, *filter.ActorID)
		paramIndex++
	case models.DimensionSeverity:
		query += fmt.Sprintf(" AND severity = $%d", paramIndex)
		args = append(args, *filter.Severity)
		paramIndex++
	case models.DimensionCategory:
		query += fmt.Sprintf(" AND category = $%d", paramIndex)
		args = append(args, *filter.Category)
		paramIndex++
	case models.DimensionAction:
		query += fmt.Sprintf(" AND action = $%d", paramIndex)
		args = append(args, *filter.Action)
		paramIndex++
	case models.DimensionResource:
		query += fmt.Sprintf(" AND resource = $%d", paramIndex)
		args = append(args, *filter.Resource)
		paramIndex++
	}

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", paramIndex)
		args = append(args, *filter.StartTime)
		paramIndex++
	}
	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", paramIndex)
		args = append(args, *filter.EndTime)
		paramIndex++
	}

	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0, limit)
	skipped := 0
	hasMore := false

	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, false, err
		}
		if !filter.Matches(event) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == limit {
			// One matching row past the page is enough to know there is more.
			hasMore = true
			break
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return events, hasMore, nil
}

// RecentCriticalEvents returns critical-severity events from the trailing
// window, newest first.
func (r *AuditRepository) RecentCriticalEvents(ctx context.Context, hours, limit int) ([]*models.AuditEvent, error) {
	if hours <= 0 {
		hours = 24
	}
	severity := models.SeverityCritical
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	events, _, err := r.QueryEvents(ctx, &models.EventFilter{
		Severity:  &severity,
		StartTime: &since,
		Limit:     limit,
	})
	return events, err
}

// Statistics aggregates the audit trail over [start, end]. The aggregation
// runs over the same predicate QueryEvents would use for that range, so the
// totals reconcile with an unfiltered query.
func (r *AuditRepository) Statistics(ctx context.Context, start, end time.Time) (*models.AuditStatistics, error) {
	stats := &models.AuditStatistics{
		ByCategory: make(map[string]int),
		BySeverity: make(map[string]int),
		ByOutcome:  make(map[string]int),
		StartTime:  start,
		EndTime:    end,
	}

	totalsQuery := `
		SELECT COUNT(*), COUNT(DISTINCT actor_id)
		FROM audit_events
		WHERE created_at >= $1 AND created_at <= $2
	`
	err := r.db.QueryRowContext(ctx, totalsQuery, start, end).Scan(&stats.TotalActions, &stats.UniqueActors)
	if err != nil {
		return nil, err
	}

	groupQuery := `
		SELECT severity, category, outcome, COUNT(*)
		FROM audit_events
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY severity, category, outcome
	`
	rows, err := r.db.QueryContext(ctx, groupQuery, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var severity, category, outcome string
		var count int
		if err := rows.Scan(&severity, &category, &outcome, &count); err != nil {
			return nil, err
		}
		stats.BySeverity[severity] += count
		stats.ByCategory[category] += count
		stats.ByOutcome[outcome] += count
	}

	return stats, rows.Err()
}

// EventsInWindow returns all events since the given time, oldest first,
// optionally scoped to one actor. The detector consumes this ordering to
// evaluate sequence rules without re-sorting.
func (r *AuditRepository) EventsInWindow(ctx context.Context, since time.Time, actorID *string) ([]*models.AuditEvent, error) {
	query := `SELECT ` + auditEventColumns + ` FROM audit_events WHERE created_at >= $1`
	args := []interface{}{since}

	if actorID != nil {
		query += ` AND actor_id = $2`
		args = append(args, *actorID)
	}

	query += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// DeleteEventsBefore removes all events strictly older than cutoff and
// returns how many rows were deleted. Rows at or after the cutoff are never
// touched, so the sweeper is safe to run concurrently with appends.
func (r *AuditRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM audit_events WHERE created_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditEvent(row rowScanner) (*models.AuditEvent, error) {
	event := &models.AuditEvent{}
	var metadataJSON []byte

	err := row.Scan(
		&event.ID,
		&event.ActorID,
		&event.Action,
		&event.Resource,
		&event.ResourceID,
		&event.Severity,
		&event.Category,
		&event.Outcome,
		&event.ErrorMessage,
		&event.IPAddress,
		&metadataJSON,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
	}
	return event, nil
}
