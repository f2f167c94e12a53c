// Package moderation implements the content review queue. Items enter
// pending, move to under_review on assignment, and end in approved, rejected
// or escalated. Terminal items never transition again; an appeal is a brand
// new item that references the contested one through its content payload.
package moderation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/technically-fit/trust-engine/internal/db/models"
	"github.com/technically-fit/trust-engine/internal/db/repositories"
	"github.com/technically-fit/trust-engine/internal/telemetry"
	"github.com/technically-fit/trust-engine/pkg/checksum"
)

// Flags that force urgent priority regardless of confidence.
var highRiskFlags = map[string]struct{}{
	"harassment":      {},
	"threat":          {},
	"illegal_content": {},
	"violence":        {},
}

// FlagAppeal marks an item created through the appeal path.
const FlagAppeal = "appeal"

// ValidationError reports a malformed create request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid moderation item: %s: %s", e.Field, e.Message)
}

// NotFoundError reports an operation against an item ID that does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("moderation item %s not found", e.ID)
}

// StateTransitionError reports an operation that is illegal from the item's
// current status, including losing a race to a concurrent reviewer.
type StateTransitionError struct {
	ID        string
	From      models.ModerationStatus
	Operation string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("moderation item %s: cannot %s from status %s", e.ID, e.Operation, e.From)
}

// CreateRequest is one submission into the queue, from a content-safety
// scanner (AutoFlagged true, with a confidence) or from a user report.
type CreateRequest struct {
	ItemID          string
	ReportedBy      *string
	ReportReason    *string
	Content         models.ModerationContent
	Flags           []string
	AutoFlagged     bool
	ConfidenceScore *float64
}

// Queue is the moderation service. The repository enforces transitions with
// guarded updates and reports outcomes as booleans; the queue re-reads after
// a loss and converts them into the typed errors handlers branch on.
type Queue struct {
	repo *repositories.ModerationRepository
}

// NewQueue creates a Queue.
func NewQueue(repo *repositories.ModerationRepository) *Queue {
	return &Queue{repo: repo}
}

// Create validates a submission and inserts it in pending with a computed
// priority. Auto-flagged submissions are deduplicated on a digest of the
// content snapshot: a scanner retrying the identical snapshot gets the open
// item back instead of a second queue entry.
func (q *Queue) Create(ctx context.Context, req CreateRequest) (*models.ModerationItem, error) {
	if req.ItemID == "" {
		return nil, &ValidationError{Field: "item_id", Message: "is required"}
	}
	variant, err := req.Content.Variant()
	if err != nil {
		return nil, &ValidationError{Field: "content", Message: err.Error()}
	}
	if req.AutoFlagged && req.ConfidenceScore == nil {
		return nil, &ValidationError{Field: "confidence_score", Message: "is required for auto-flagged items"}
	}
	if !req.AutoFlagged && req.ConfidenceScore != nil {
		return nil, &ValidationError{Field: "confidence_score", Message: "is only allowed on auto-flagged items"}
	}
	if req.ConfidenceScore != nil && (*req.ConfidenceScore < 0 || *req.ConfidenceScore > 1) {
		return nil, &ValidationError{Field: "confidence_score", Message: "must be between 0 and 1"}
	}

	contentRaw, err := req.Content.MarshalJSONB()
	if err != nil {
		return nil, fmt.Errorf("encode moderation content: %w", err)
	}
	flagsRaw, err := models.MarshalFlags(req.Flags)
	if err != nil {
		return nil, fmt.Errorf("encode moderation flags: %w", err)
	}

	item := &models.ModerationItem{
		ItemType:        variant,
		ItemID:          req.ItemID,
		ReportedBy:      req.ReportedBy,
		ReportReason:    req.ReportReason,
		Priority:        ComputePriority(req.Flags, req.AutoFlagged, req.ConfidenceScore),
		Status:          models.StatusPending,
		Content:         req.Content,
		ContentRaw:      contentRaw,
		Flags:           req.Flags,
		FlagsRaw:        flagsRaw,
		AutoFlagged:     req.AutoFlagged,
		ConfidenceScore: req.ConfidenceScore,
	}

	if req.AutoFlagged {
		digest := checksum.SumBytes(contentRaw)
		item.ContentDigest = &digest

		existing, err := q.repo.FindOpenByDigest(ctx, digest)
		if err != nil {
			return nil, fmt.Errorf("dedupe moderation item: %w", err)
		}
		if existing != nil {
			slog.Debug("moderation item deduplicated",
				"existing_id", existing.ID,
				"item_type", existing.ItemType,
			)
			return existing, nil
		}
	}

	if err := q.repo.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create moderation item: %w", err)
	}

	telemetry.ModerationItemsCreatedTotal.WithLabelValues(string(item.ItemType), string(item.Priority)).Inc()
	slog.Info("moderation item created",
		"item_id", item.ID,
		"item_type", item.ItemType,
		"priority", item.Priority,
		"auto_flagged", item.AutoFlagged,
	)
	return item, nil
}

// ComputePriority derives the review priority from flags and confidence.
// High-risk flags and very confident scanner hits jump the queue; weak
// scanner hits sink below everything a human reported.
func ComputePriority(flags []string, autoFlagged bool, confidence *float64) models.ModerationPriority {
	for _, f := range flags {
		if _, ok := highRiskFlags[f]; ok {
			return models.PriorityUrgent
		}
	}
	if confidence != nil && *confidence >= 0.9 {
		return models.PriorityUrgent
	}
	if autoFlagged && confidence != nil {
		if *confidence < 0.5 {
			return models.PriorityLow
		}
		if *confidence >= 0.7 {
			return models.PriorityHigh
		}
	}
	return models.PriorityMedium
}

// Get returns one item, or NotFoundError.
func (q *Queue) Get(ctx context.Context, id string) (*models.ModerationItem, error) {
	item, err := q.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &NotFoundError{ID: id}
	}
	return item, nil
}

// List returns items matching the filters, most urgent and oldest first.
func (q *Queue) List(ctx context.Context, filters repositories.ModerationFilters) ([]*models.ModerationItem, error) {
	return q.repo.ListItems(ctx, filters)
}

// Assign moves a pending item to under_review and records the operator.
func (q *Queue) Assign(ctx context.Context, id, operatorID string) (*models.ModerationItem, error) {
	moved, err := q.repo.MarkUnderReview(ctx, id, operatorID)
	if err != nil {
		return nil, fmt.Errorf("assign moderation item %s: %w", id, err)
	}
	if !moved {
		return nil, q.transitionFailure(ctx, id, "assign")
	}

	slog.Info("moderation item assigned", "item_id", id, "assigned_to", operatorID)
	return q.Get(ctx, id)
}

// Review finalizes an item. Approve and modify both land in approved (the
// decision value keeps them distinguishable), reject lands in rejected,
// escalate lands in escalated. Review from pending is allowed so operators
// can skip the explicit assignment step.
func (q *Queue) Review(ctx context.Context, id string, decision models.ModerationDecision, reason *string, operatorID string) (*models.ModerationItem, error) {
	if !decision.Valid() {
		return nil, &ValidationError{Field: "decision", Message: fmt.Sprintf("unknown value %q", decision)}
	}

	var newStatus models.ModerationStatus
	switch decision {
	case models.DecisionApprove, models.DecisionModify:
		newStatus = models.StatusApproved
	case models.DecisionReject:
		newStatus = models.StatusRejected
	case models.DecisionEscalate:
		newStatus = models.StatusEscalated
	}

	moved, err := q.repo.RecordDecision(ctx, id, decision, reason, newStatus, operatorID)
	if err != nil {
		return nil, fmt.Errorf("review moderation item %s: %w", id, err)
	}
	if !moved {
		return nil, q.transitionFailure(ctx, id, "review")
	}

	telemetry.ModerationDecisionsTotal.WithLabelValues(string(decision)).Inc()
	slog.Info("moderation decision recorded",
		"item_id", id,
		"decision", decision,
		"status", newStatus,
		"reviewed_by", operatorID,
	)
	return q.Get(ctx, id)
}

// Escalate routes an item to escalated from any non-terminal state without
// going through the review path.
func (q *Queue) Escalate(ctx context.Context, id string, reason *string, operatorID string) (*models.ModerationItem, error) {
	moved, err := q.repo.MarkEscalated(ctx, id, reason, operatorID)
	if err != nil {
		return nil, fmt.Errorf("escalate moderation item %s: %w", id, err)
	}
	if !moved {
		return nil, q.transitionFailure(ctx, id, "escalate")
	}

	slog.Info("moderation item escalated", "item_id", id, "escalated_by", operatorID)
	return q.Get(ctx, id)
}

// Appeal creates a new user_report item contesting a prior decision. The
// original item is read to verify it exists but is never mutated; the new
// item links back to it through the content payload.
func (q *Queue) Appeal(ctx context.Context, originalItemID, appellantID, reason string, evidence *string) (*models.ModerationItem, error) {
	if appellantID == "" {
		return nil, &ValidationError{Field: "appellant_id", Message: "is required"}
	}
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "is required"}
	}

	original, err := q.repo.GetItem(ctx, originalItemID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, &NotFoundError{ID: originalItemID}
	}

	report := &models.UserReportContent{
		ReporterID:       appellantID,
		Description:      reason,
		OriginalActionID: original.ID,
	}
	if evidence != nil {
		report.Evidence = *evidence
	}

	return q.Create(ctx, CreateRequest{
		ItemID:       original.ItemID,
		ReportedBy:   &appellantID,
		ReportReason: &reason,
		Content:      models.ModerationContent{UserReport: report},
		Flags:        []string{FlagAppeal},
		AutoFlagged:  false,
	})
}

// transitionFailure distinguishes why a guarded update moved zero rows:
// the item does not exist, or its current status forbids the operation.
func (q *Queue) transitionFailure(ctx context.Context, id, operation string) error {
	item, err := q.repo.GetItem(ctx, id)
	if err != nil {
		return fmt.Errorf("%s moderation item %s: %w", operation, id, err)
	}
	if item == nil {
		return &NotFoundError{ID: id}
	}
	return &StateTransitionError{ID: id, From: item.Status, Operation: operation}
}
