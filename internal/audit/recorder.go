package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/technically-fit/trust-engine/internal/db/models"
	"github.com/technically-fit/trust-engine/internal/db/repositories"
	"github.com/technically-fit/trust-engine/internal/safego"
	"github.com/technically-fit/trust-engine/internal/telemetry"
)

// ValidationError reports a malformed append request. Field names the first
// offending field so API callers can fix their payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid audit event: %s: %s", e.Field, e.Message)
}

// Alerter is the hook the recorder calls after persisting a qualifying
// event. Implemented by the alerts manager; kept as a local interface so the
// audit package does not import it.
type Alerter interface {
	CreateForEvent(ctx context.Context, event *models.AuditEvent) error
}

// Recorder is the single append path for audit events. Every event — HTTP
// appends, middleware captures, detector materializations, job activity —
// goes through Record so validation, alerting, and shipping happen exactly
// once, in one place.
type Recorder struct {
	repo    *repositories.AuditRepository
	alerter Alerter
	shipper Shipper
}

// NewRecorder creates a Recorder. alerter and shipper may be nil; both are
// best-effort side effects, never append preconditions.
func NewRecorder(repo *repositories.AuditRepository, alerter Alerter, shipper Shipper) *Recorder {
	return &Recorder{repo: repo, alerter: alerter, shipper: shipper}
}

// Record validates and persists one audit event, then hands it to the alert
// manager and shippers asynchronously. The returned ID is the persisted
// event's ID. Alerting/shipping failures are logged, not returned: the
// append must not fail because a side channel is down.
func (r *Recorder) Record(ctx context.Context, event *models.AuditEvent) (string, error) {
	if err := Validate(event); err != nil {
		return "", err
	}

	if err := r.repo.CreateAuditEvent(ctx, event); err != nil {
		return "", fmt.Errorf("persist audit event: %w", err)
	}

	telemetry.AuditEventsTotal.WithLabelValues(string(event.Category), string(event.Severity)).Inc()

	// Alert creation and shipping are fire-and-forget on a detached context:
	// the caller's request context may be cancelled the moment we return.
	recorded := *event
	if r.alerter != nil && (recorded.Severity == models.SeverityHigh || recorded.Severity == models.SeverityCritical) {
		safego.Go(func() {
			alertCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.alerter.CreateForEvent(alertCtx, &recorded); err != nil {
				slog.Error("alert creation failed", "event_id", recorded.ID, "error", err)
			}
		})
	}
	if r.shipper != nil {
		safego.Go(func() {
			shipCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.shipper.Ship(shipCtx, &recorded); err != nil {
				slog.Error("audit shipping failed", "event_id", recorded.ID, "error", err)
			}
		})
	}

	return event.ID, nil
}

// Validate checks the required fields and enum values of an audit event.
// IDs and timestamps are assigned later by the repository, so they are not
// validated here.
func Validate(event *models.AuditEvent) error {
	if event.ActorID == "" {
		return &ValidationError{Field: "actor_id", Message: "is required"}
	}
	if event.Action == "" {
		return &ValidationError{Field: "action", Message: "is required"}
	}
	if event.Resource == "" {
		return &ValidationError{Field: "resource", Message: "is required"}
	}
	if !event.Severity.Valid() {
		return &ValidationError{Field: "severity", Message: fmt.Sprintf("unknown value %q", event.Severity)}
	}
	if !event.Category.Valid() {
		return &ValidationError{Field: "category", Message: fmt.Sprintf("unknown value %q", event.Category)}
	}
	if !event.Outcome.Valid() {
		return &ValidationError{Field: "outcome", Message: fmt.Sprintf("unknown value %q", event.Outcome)}
	}
	if event.IPAddress != nil && *event.IPAddress != "" {
		if net.ParseIP(*event.IPAddress) == nil {
			return &ValidationError{Field: "ip_address", Message: fmt.Sprintf("not a valid IP address: %q", *event.IPAddress)}
		}
	}
	return nil
}
