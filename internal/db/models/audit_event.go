// Package models defines the database model types for the trust engine.
// Each type corresponds to a database table and uses struct tags for both JSON serialization and sqlx row scanning.
// Models are pure data types — business logic belongs in the service layer, query logic belongs in the repositories layer.
package models

import "time"

// Severity classifies how dangerous an audited action is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Category groups audited actions by functional area.
type Category string

const (
	CategoryAuthentication    Category = "authentication"
	CategoryUserManagement    Category = "user_management"
	CategoryContentModeration Category = "content_moderation"
	CategoryFinancial         Category = "financial"
	CategorySystemConfig      Category = "system_config"
	CategoryDataAccess        Category = "data_access"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryAuthentication, CategoryUserManagement, CategoryContentModeration,
		CategoryFinancial, CategorySystemConfig, CategoryDataAccess:
		return true
	}
	return false
}

// Outcome records whether the audited action succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomePartial:
		return true
	}
	return false
}

// SystemActorID is the stored representation of the platform itself acting
// (retention sweeps, anomaly scans, scheduled jobs). It is reserved: no user
// account may use it.
const SystemActorID = "system"

// Actor identifies who performed an audited action: either a platform user
// or the platform itself. The zero value is not valid; construct with
// UserActor or SystemActor.
type Actor struct {
	id     string
	system bool
}

// UserActor returns an Actor for a platform user.
func UserActor(id string) Actor {
	return Actor{id: id}
}

// SystemActor returns the Actor representing the platform itself.
func SystemActor() Actor {
	return Actor{id: SystemActorID, system: true}
}

// IsSystem reports whether the actor is the platform itself.
func (a Actor) IsSystem() bool {
	return a.system || a.id == SystemActorID
}

// ID returns the stored actor identifier ("system" for the platform actor).
func (a Actor) ID() string {
	if a.system {
		return SystemActorID
	}
	return a.id
}

// AuditEvent is one immutable entry in the audit trail. Events are only ever
// appended and (eventually) deleted by the retention sweeper — never updated.
type AuditEvent struct {
	ID           string                 `json:"id"`
	ActorID      string                 `json:"actor_id"`
	Action       string                 `json:"action"`
	Resource     string                 `json:"resource"`
	ResourceID   *string                `json:"resource_id,omitempty"` // Optional: specific entity acted on
	Severity     Severity               `json:"severity"`
	Category     Category               `json:"category"`
	Outcome      Outcome                `json:"outcome"`
	ErrorMessage *string                `json:"error_message,omitempty"` // Set when outcome is failure
	IPAddress    *string                `json:"ip_address,omitempty"`    // Optional client address
	Metadata     map[string]interface{} `json:"metadata,omitempty"`      // JSONB, free-form context
	CreatedAt    time.Time              `json:"created_at"`
}

// Actor reconstructs the Actor sum type from the stored actor_id.
func (e *AuditEvent) Actor() Actor {
	if e.ActorID == SystemActorID {
		return SystemActor()
	}
	return UserActor(e.ActorID)
}

// EventFilter describes one audit query. All set fields are combined
// conjunctively. Exactly one field drives the indexed SQL WHERE clause
// (see PrimaryDimension); the rest are applied as post-filters so that a
// single hot index is hit per query regardless of how many dimensions the
// caller sets.
type EventFilter struct {
	ActorID    *string
	Action     *string
	Resource   *string
	ResourceID *string
	Severity   *Severity
	Category   *Category
	Outcome    *Outcome
	IPAddress  *string
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
	Offset     int
}

// FilterDimension names the dimension chosen to drive the indexed lookup.
type FilterDimension string

const (
	DimensionActor    FilterDimension = "actor_id"
	DimensionSeverity FilterDimension = "severity"
	DimensionCategory FilterDimension = "category"
	DimensionAction   FilterDimension = "action"
	DimensionResource FilterDimension = "resource"
	DimensionNone     FilterDimension = ""
)

// PrimaryDimension selects which single filter dimension drives the SQL
// WHERE clause. Precedence: actor > severity > category > action > resource.
// This ordering is part of the query contract; callers and the repository
// both rely on it rather than re-deriving it locally.
func (f *EventFilter) PrimaryDimension() FilterDimension {
	switch {
	case f.ActorID != nil:
		return DimensionActor
	case f.Severity != nil:
		return DimensionSeverity
	case f.Category != nil:
		return DimensionCategory
	case f.Action != nil:
		return DimensionAction
	case f.Resource != nil:
		return DimensionResource
	}
	return DimensionNone
}

// Matches applies every set dimension of the filter to an event, including
// the primary one. Used by the repository for post-filtering rows returned
// by the indexed query; time bounds are inclusive.
func (f *EventFilter) Matches(e *AuditEvent) bool {
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.Action != nil && e.Action != *f.Action {
		return false
	}
	if f.Resource != nil && e.Resource != *f.Resource {
		return false
	}
	if f.ResourceID != nil && (e.ResourceID == nil || *e.ResourceID != *f.ResourceID) {
		return false
	}
	if f.Severity != nil && e.Severity != *f.Severity {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	if f.Outcome != nil && e.Outcome != *f.Outcome {
		return false
	}
	if f.IPAddress != nil && (e.IPAddress == nil || *e.IPAddress != *f.IPAddress) {
		return false
	}
	if f.StartTime != nil && e.CreatedAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.CreatedAt.After(*f.EndTime) {
		return false
	}
	return true
}

// AuditStatistics summarizes the audit trail over a time range. The numbers
// are computed over the same predicate the query path uses, so totals always
// reconcile with an unfiltered query over the same range.
type AuditStatistics struct {
	TotalActions int            `json:"total_actions"`
	ByCategory   map[string]int `json:"by_category"`
	BySeverity   map[string]int `json:"by_severity"`
	ByOutcome    map[string]int `json:"by_outcome"`
	UniqueActors int            `json:"unique_actors"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
}
