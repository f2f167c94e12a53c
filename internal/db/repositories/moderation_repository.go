// moderation_repository.go implements ModerationRepository over sqlx. The
// review state machine's legal transitions are enforced by guarded UPDATEs:
// each mutation names the statuses it may leave, and a zero rows-affected
// result tells the service layer the transition lost a race or was illegal.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/technically-fit/trust-engine/internal/db/models"
)

// ModerationRepository handles moderation item database operations
type ModerationRepository struct {
	db *sqlx.DB
}

// NewModerationRepository creates a new ModerationRepository
func NewModerationRepository(db *sqlx.DB) *ModerationRepository {
	return &ModerationRepository{db: db}
}

const moderationColumns = `id, item_type, item_id, reported_by, report_reason, priority, status, assigned_to, content, content_digest, flags, auto_flagged, confidence_score, decision, decision_reason, created_at, assigned_at, reviewed_at, escalated_at`

// ModerationFilters narrows a moderation item listing. Nil fields are
// ignored; set fields are combined conjunctively.
type ModerationFilters struct {
	Status     *models.ModerationStatus
	Priority   *models.ModerationPriority
	ItemType   *models.ModerationItemType
	AssignedTo *string
	Limit      int
	Offset     int
}

// CreateItem inserts a new moderation item. ID and CreatedAt are assigned
// here if unset; ContentRaw/FlagsRaw must already be encoded by the caller.
func (r *ModerationRepository) CreateItem(ctx context.Context, item *models.ModerationItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO moderation_items (id, item_type, item_id, reported_by, report_reason, priority, status, content, content_digest, flags, auto_flagged, confidence_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.ItemType,
		item.ItemID,
		item.ReportedBy,
		item.ReportReason,
		item.Priority,
		item.Status,
		item.ContentRaw,
		item.ContentDigest,
		item.FlagsRaw,
		item.AutoFlagged,
		item.ConfidenceScore,
		item.CreatedAt,
	)

	return err
}

// GetItem retrieves a moderation item by ID. Returns (nil, nil) if absent.
func (r *ModerationRepository) GetItem(ctx context.Context, id string) (*models.ModerationItem, error) {
	query := `SELECT ` + moderationColumns + ` FROM moderation_items WHERE id = $1`

	item := &models.ModerationItem{}
	err := r.db.GetContext(ctx, item, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := item.DecodePayloads(); err != nil {
		return nil, err
	}
	return item, nil
}

// ListItems returns moderation items matching the filters, most urgent and
// oldest first so the review queue surfaces the worst backlog at the top.
func (r *ModerationRepository) ListItems(ctx context.Context, filters ModerationFilters) ([]*models.ModerationItem, error) {
	query := `SELECT ` + moderationColumns + ` FROM moderation_items WHERE 1=1`
	args := []interface{}{}
	paramIndex := 1

	if filters.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", paramIndex)
		args = append(args, *filters.Status)
		paramIndex++
	}
	if filters.Priority != nil {
		query += fmt.Sprintf(" AND priority = $%d", paramIndex)
		args = append(args, *filters.Priority)
		paramIndex++
	}
	if filters.ItemType != nil {
		query += fmt.Sprintf(" AND item_type = $%d", paramIndex)
		args = append(args, *filters.ItemType)
		paramIndex++
	}
	if filters.AssignedTo != nil {
		query += fmt.Sprintf(" AND assigned_to = $%d", paramIndex)
		args = append(args, *filters.AssignedTo)
		paramIndex++
	}

	query += `
		ORDER BY CASE priority
			WHEN 'urgent' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			ELSE 3
		END, created_at ASC`

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	query += fmt.Sprintf(" LIMIT $%d", paramIndex)
	args = append(args, limit)
	paramIndex++

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", paramIndex)
		args = append(args, filters.Offset)
	}

	items := []*models.ModerationItem{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := item.DecodePayloads(); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// FindOpenByDigest returns a non-terminal auto-flagged item carrying the
// same content digest, or (nil, nil). Used to avoid queueing the identical
// snapshot twice when a scanner retries.
func (r *ModerationRepository) FindOpenByDigest(ctx context.Context, digest string) (*models.ModerationItem, error) {
	query := `
		SELECT ` + moderationColumns + `
		FROM moderation_items
		WHERE content_digest = $1
		  AND auto_flagged = true
		  AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	item := &models.ModerationItem{}
	err := r.db.GetContext(ctx, item, query, digest, models.StatusPending, models.StatusUnderReview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := item.DecodePayloads(); err != nil {
		return nil, err
	}
	return item, nil
}

// MarkUnderReview moves a pending item to under_review and records the
// assignee. Returns true when this call performed the transition; false
// means the item was not in pending (absent, already assigned, or terminal).
func (r *ModerationRepository) MarkUnderReview(ctx context.Context, id, operatorID string) (bool, error) {
	query := `
		UPDATE moderation_items
		SET status = $2, assigned_to = $3, assigned_at = $4
		WHERE id = $1 AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query, id, models.StatusUnderReview, operatorID, time.Now().UTC(), models.StatusPending)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// RecordDecision finalizes a review: it moves an item from pending or
// under_review into the given terminal status and records the decision.
// Review from pending is the bypass path for operators who skip explicit
// assignment. Returns true when this call performed the transition.
func (r *ModerationRepository) RecordDecision(ctx context.Context, id string, decision models.ModerationDecision, reason *string, newStatus models.ModerationStatus, operatorID string) (bool, error) {
	now := time.Now().UTC()
	var escalatedAt *time.Time
	if newStatus == models.StatusEscalated {
		escalatedAt = &now
	}

	query := `
		UPDATE moderation_items
		SET status = $2, decision = $3, decision_reason = $4, reviewed_at = $5, escalated_at = COALESCE($6, escalated_at),
		    assigned_to = COALESCE(assigned_to, $7)
		WHERE id = $1 AND status IN ($8, $9)
	`

	result, err := r.db.ExecContext(ctx, query,
		id, newStatus, decision, reason, now, escalatedAt, operatorID,
		models.StatusPending, models.StatusUnderReview,
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

// MarkEscalated routes an item to escalated from any non-terminal state,
// independent of the review path. Returns true when this call performed the
// transition.
func (r *ModerationRepository) MarkEscalated(ctx context.Context, id string, reason *string, operatorID string) (bool, error) {
	query := `
		UPDATE moderation_items
		SET status = $2, decision_reason = COALESCE($3, decision_reason), escalated_at = $4,
		    assigned_to = COALESCE(assigned_to, $5)
		WHERE id = $1 AND status IN ($6, $7)
	`

	result, err := r.db.ExecContext(ctx, query,
		id, models.StatusEscalated, reason, time.Now().UTC(), operatorID,
		models.StatusPending, models.StatusUnderReview,
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
