package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ModerationItemType identifies what kind of content a moderation item wraps.
type ModerationItemType string

const (
	ItemTypeCustomExercise ModerationItemType = "custom_exercise"
	ItemTypeTrainerMessage ModerationItemType = "trainer_message"
	ItemTypeUserReport     ModerationItemType = "user_report"
	ItemTypeProgramContent ModerationItemType = "program_content"
	ItemTypeUserProfile    ModerationItemType = "user_profile"
)

// Valid reports whether t is one of the known item types.
func (t ModerationItemType) Valid() bool {
	switch t {
	case ItemTypeCustomExercise, ItemTypeTrainerMessage, ItemTypeUserReport,
		ItemTypeProgramContent, ItemTypeUserProfile:
		return true
	}
	return false
}

// ModerationStatus is a state in the review state machine:
//
//	pending → under_review → {approved, rejected, escalated}
//
// approved, rejected and escalated are terminal. An appeal is a new item,
// never a transition out of a terminal state.
type ModerationStatus string

const (
	StatusPending     ModerationStatus = "pending"
	StatusUnderReview ModerationStatus = "under_review"
	StatusApproved    ModerationStatus = "approved"
	StatusRejected    ModerationStatus = "rejected"
	StatusEscalated   ModerationStatus = "escalated"
)

// Terminal reports whether no further transitions are allowed from s.
func (s ModerationStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusEscalated:
		return true
	}
	return false
}

// ModerationPriority orders the review queue.
type ModerationPriority string

const (
	PriorityLow    ModerationPriority = "low"
	PriorityMedium ModerationPriority = "medium"
	PriorityHigh   ModerationPriority = "high"
	PriorityUrgent ModerationPriority = "urgent"
)

// ModerationDecision is the reviewer's verdict. Modify approves the content
// after edits: the item lands in approved with the distinct decision value
// recorded, so reporting can tell the two apart.
type ModerationDecision string

const (
	DecisionApprove  ModerationDecision = "approve"
	DecisionReject   ModerationDecision = "reject"
	DecisionModify   ModerationDecision = "modify"
	DecisionEscalate ModerationDecision = "escalate"
)

// Valid reports whether d is one of the known decisions.
func (d ModerationDecision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionModify, DecisionEscalate:
		return true
	}
	return false
}

// ModerationContent is the typed content snapshot carried by a moderation
// item. Exactly one variant is set, matching the item's type. The snapshot is
// taken at creation time so reviewers see what was flagged even if the live
// content changes afterwards.
type ModerationContent struct {
	CustomExercise *CustomExerciseContent  `json:"custom_exercise,omitempty"`
	TrainerMessage *TrainerMessageContent  `json:"trainer_message,omitempty"`
	UserReport     *UserReportContent      `json:"user_report,omitempty"`
	ProgramContent *ProgramContentSnapshot `json:"program_content,omitempty"`
	UserProfile    *UserProfileContent     `json:"user_profile,omitempty"`
}

// CustomExerciseContent is a member-authored exercise pending review.
type CustomExerciseContent struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Instructions []string `json:"instructions,omitempty"`
	MediaURLs    []string `json:"media_urls,omitempty"`
	AuthorID     string   `json:"author_id"`
}

// TrainerMessageContent is a direct message sent by a trainer to a client.
type TrainerMessageContent struct {
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Body        string    `json:"body"`
	SentAt      time.Time `json:"sent_at"`
}

// UserReportContent is a member-submitted report, including appeals of a
// prior moderation decision. OriginalActionID links an appeal back to the
// item being contested; it is empty for ordinary reports.
type UserReportContent struct {
	ReporterID       string `json:"reporter_id"`
	SubjectID        string `json:"subject_id,omitempty"`
	Description      string `json:"description"`
	Evidence         string `json:"evidence,omitempty"`
	OriginalActionID string `json:"originalActionId,omitempty"`
}

// ProgramContentSnapshot is a training program (title, sales copy) under review.
type ProgramContentSnapshot struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	TrainerID   string `json:"trainer_id"`
	PriceCents  *int64 `json:"price_cents,omitempty"`
}

// UserProfileContent is a member profile (display name, bio, avatar) under review.
type UserProfileContent struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Variant returns the populated content variant and its item type. Returns
// an error unless exactly one variant is set.
func (c *ModerationContent) Variant() (ModerationItemType, error) {
	var found ModerationItemType
	count := 0
	if c.CustomExercise != nil {
		found, count = ItemTypeCustomExercise, count+1
	}
	if c.TrainerMessage != nil {
		found, count = ItemTypeTrainerMessage, count+1
	}
	if c.UserReport != nil {
		found, count = ItemTypeUserReport, count+1
	}
	if c.ProgramContent != nil {
		found, count = ItemTypeProgramContent, count+1
	}
	if c.UserProfile != nil {
		found, count = ItemTypeUserProfile, count+1
	}
	if count != 1 {
		return "", fmt.Errorf("moderation content must have exactly one variant, got %d", count)
	}
	return found, nil
}

// MarshalJSONB serializes the content for JSONB storage.
func (c *ModerationContent) MarshalJSONB() ([]byte, error) {
	return json.Marshal(c)
}

// MarshalFlags serializes a flag set for JSONB storage. A nil set encodes as
// an empty array so the column is never SQL NULL.
func MarshalFlags(flags []string) ([]byte, error) {
	if flags == nil {
		flags = []string{}
	}
	return json.Marshal(flags)
}

// ModerationItem is one unit of reviewable content or behavior. Items move
// through the state machine above; everything else on the struct is recorded
// once (at creation or at decision time) and never rewritten.
type ModerationItem struct {
	ID              string              `db:"id" json:"id"`
	ItemType        ModerationItemType  `db:"item_type" json:"item_type"`
	ItemID          string              `db:"item_id" json:"item_id"`
	ReportedBy      *string             `db:"reported_by" json:"reported_by,omitempty"`
	ReportReason    *string             `db:"report_reason" json:"report_reason,omitempty"`
	Priority        ModerationPriority  `db:"priority" json:"priority"`
	Status          ModerationStatus    `db:"status" json:"status"`
	AssignedTo      *string             `db:"assigned_to" json:"assigned_to,omitempty"`
	Content         ModerationContent   `db:"-" json:"content"`
	ContentRaw      []byte              `db:"content" json:"-"`
	ContentDigest   *string             `db:"content_digest" json:"-"`
	Flags           []string            `db:"-" json:"flags"`
	FlagsRaw        []byte              `db:"flags" json:"-"`
	AutoFlagged     bool                `db:"auto_flagged" json:"auto_flagged"`
	ConfidenceScore *float64            `db:"confidence_score" json:"confidence_score,omitempty"`
	Decision        *ModerationDecision `db:"decision" json:"decision,omitempty"`
	DecisionReason  *string             `db:"decision_reason" json:"decision_reason,omitempty"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	AssignedAt      *time.Time          `db:"assigned_at" json:"assigned_at,omitempty"`
	ReviewedAt      *time.Time          `db:"reviewed_at" json:"reviewed_at,omitempty"`
	EscalatedAt     *time.Time          `db:"escalated_at" json:"escalated_at,omitempty"`
}

// HasFlag reports whether the item carries the given flag.
func (m *ModerationItem) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// DecodePayloads unmarshals the raw JSONB columns into the typed fields.
// Called by the repository after scanning a row.
func (m *ModerationItem) DecodePayloads() error {
	if len(m.ContentRaw) > 0 {
		if err := json.Unmarshal(m.ContentRaw, &m.Content); err != nil {
			return fmt.Errorf("decode moderation content: %w", err)
		}
	}
	if len(m.FlagsRaw) > 0 {
		if err := json.Unmarshal(m.FlagsRaw, &m.Flags); err != nil {
			return fmt.Errorf("decode moderation flags: %w", err)
		}
	}
	return nil
}
