package detection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/technically-fit/trust-engine/internal/db/models"
	"github.com/technically-fit/trust-engine/internal/telemetry"
)

// Pattern names the fixed detection rules.
type Pattern string

const (
	PatternMultipleFailedLogins      Pattern = "multiple_failed_logins"
	PatternUnusualAccessHours        Pattern = "unusual_access_hours"
	PatternRapidPermissionChanges    Pattern = "rapid_permission_changes"
	PatternExcessiveFinancialAccess  Pattern = "excessive_financial_access"
	PatternMultipleIPs               Pattern = "multiple_ips"
	PatternRapidSequence             Pattern = "rapid_sequence"
	PatternRateLimitExceeded         Pattern = "rate_limit_exceeded"
)

// Finding is one detector observation: a rule that matched one actor's
// events within the scanned window. Findings are not persisted on their own;
// qualifying ones are materialized into alerts or audit events by the caller.
type Finding struct {
	PatternType  Pattern         `json:"pattern_type"`
	Count        int             `json:"count"`
	Severity     models.Severity `json:"severity"`
	Description  string          `json:"description"`
	ScopeActorID string          `json:"scope_actor_id"`
}

// FindingDedupKey derives the idempotency key under which a finding's alert
// is created. Deterministic per pattern, actor and UTC day, so re-scans of
// the same anomaly dedupe against the alert store's unique source constraint.
func FindingDedupKey(f Finding) string {
	return fmt.Sprintf("finding:%s:%s:%s",
		f.PatternType, f.ScopeActorID, time.Now().UTC().Format("2006-01-02"))
}

// EventSource is the slice of the audit repository the detector reads.
type EventSource interface {
	EventsInWindow(ctx context.Context, since time.Time, actorID *string) ([]*models.AuditEvent, error)
}

// EventWriter materializes rate_limit_exceeded findings back into the audit
// trail. Optional: a nil writer makes Scan strictly read-only.
type EventWriter interface {
	Record(ctx context.Context, event *models.AuditEvent) (string, error)
}

// Detector evaluates the fixed rule set. It keeps no state between scans;
// everything derives from the events loaded for one window, so a scan over
// the same event set and boundaries always yields the same findings.
type Detector struct {
	source EventSource
	writer EventWriter
	policy Policy
}

// NewDetector creates a Detector. writer may be nil to disable finding
// materialization.
func NewDetector(source EventSource, writer EventWriter, policy Policy) *Detector {
	return &Detector{source: source, writer: writer, policy: policy}
}

// Scan evaluates all rules over the trailing window, optionally scoped to
// one actor. Events are grouped per actor and each rule is evaluated
// independently per group; findings are returned in deterministic order
// (actor, then rule). now is captured once at entry — events appended after
// that boundary are the next scan's business.
func (d *Detector) Scan(ctx context.Context, scopeActorID *string, windowHours int) ([]Finding, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	started := time.Now()
	since := started.UTC().Add(-time.Duration(windowHours) * time.Hour)

	events, err := d.source.EventsInWindow(ctx, since, scopeActorID)
	if err != nil {
		return nil, fmt.Errorf("load scan window: %w", err)
	}

	byActor := make(map[string][]*models.AuditEvent)
	for _, event := range events {
		byActor[event.ActorID] = append(byActor[event.ActorID], event)
	}

	actors := make([]string, 0, len(byActor))
	for actor := range byActor {
		actors = append(actors, actor)
	}
	sort.Strings(actors)

	findings := make([]Finding, 0)
	for _, actor := range actors {
		actorEvents := byActor[actor]
		findings = append(findings, d.scanActor(ctx, actor, actorEvents)...)
	}

	telemetry.ScanDuration.Observe(time.Since(started).Seconds())
	for _, f := range findings {
		telemetry.FindingsTotal.WithLabelValues(string(f.PatternType), string(f.Severity)).Inc()
	}
	return findings, nil
}

// scanActor runs every rule against one actor's events (already in ascending
// timestamp order from the repository).
func (d *Detector) scanActor(ctx context.Context, actorID string, events []*models.AuditEvent) []Finding {
	findings := make([]Finding, 0)

	if f, ok := d.failedLogins(actorID, events); ok {
		findings = append(findings, f)
	}
	if f, ok := d.offHours(actorID, events); ok {
		findings = append(findings, f)
	}
	if f, ok := d.permissionChanges(actorID, events); ok {
		findings = append(findings, f)
	}
	if f, ok := d.financialAccess(actorID, events); ok {
		findings = append(findings, f)
	}
	if f, ok := d.multipleIPs(actorID, events); ok {
		findings = append(findings, f)
	}
	findings = append(findings, d.rapidSequences(actorID, events)...)
	findings = append(findings, d.rateLimit(ctx, actorID, events)...)

	return findings
}

func (d *Detector) failedLogins(actorID string, events []*models.AuditEvent) (Finding, bool) {
	count := 0
	for _, e := range events {
		if e.Category == models.CategoryAuthentication && e.Outcome == models.OutcomeFailure {
			count++
		}
	}
	if count < d.policy.FailedLoginThreshold {
		return Finding{}, false
	}
	return Finding{
		PatternType:  PatternMultipleFailedLogins,
		Count:        count,
		Severity:     models.SeverityHigh,
		Description:  fmt.Sprintf("%d failed authentication attempts within the window", count),
		ScopeActorID: actorID,
	}, true
}

func (d *Detector) offHours(actorID string, events []*models.AuditEvent) (Finding, bool) {
	count := 0
	for _, e := range events {
		hour := e.CreatedAt.Local().Hour()
		if hour < d.policy.DayStartHour || hour > d.policy.DayEndHour {
			count++
		}
	}
	if count < d.policy.OffHoursThreshold {
		return Finding{}, false
	}
	return Finding{
		PatternType:  PatternUnusualAccessHours,
		Count:        count,
		Severity:     models.SeverityMedium,
		Description:  fmt.Sprintf("%d actions outside normal access hours", count),
		ScopeActorID: actorID,
	}, true
}

func (d *Detector) permissionChanges(actorID string, events []*models.AuditEvent) (Finding, bool) {
	count := 0
	for _, e := range events {
		action := strings.ToLower(e.Action)
		if strings.Contains(action, "permission") || strings.Contains(action, "role") || e.Resource == "admin_users" {
			count++
		}
	}
	if count < d.policy.PermissionChangeThreshold {
		return Finding{}, false
	}
	return Finding{
		PatternType:  PatternRapidPermissionChanges,
		Count:        count,
		Severity:     models.SeverityCritical,
		Description:  fmt.Sprintf("%d permission or role changes within the window", count),
		ScopeActorID: actorID,
	}, true
}

func (d *Detector) financialAccess(actorID string, events []*models.AuditEvent) (Finding, bool) {
	count := 0
	for _, e := range events {
		resource := strings.ToLower(e.Resource)
		if e.Category == models.CategoryFinancial ||
			strings.Contains(resource, "financial") ||
			strings.Contains(resource, "revenue") ||
			strings.Contains(resource, "payout") {
			count++
		}
	}
	if count < d.policy.FinancialAccessThreshold {
		return Finding{}, false
	}
	return Finding{
		PatternType:  PatternExcessiveFinancialAccess,
		Count:        count,
		Severity:     models.SeverityHigh,
		Description:  fmt.Sprintf("%d financial data accesses within the window", count),
		ScopeActorID: actorID,
	}, true
}

func (d *Detector) multipleIPs(actorID string, events []*models.AuditEvent) (Finding, bool) {
	ips := make(map[string]struct{})
	for _, e := range events {
		if e.IPAddress != nil && *e.IPAddress != "" {
			ips[*e.IPAddress] = struct{}{}
		}
	}
	if len(ips) < d.policy.DistinctIPThreshold {
		return Finding{}, false
	}
	return Finding{
		PatternType:  PatternMultipleIPs,
		Count:        len(ips),
		Severity:     models.SeverityHigh,
		Description:  fmt.Sprintf("activity from %d distinct IP addresses within the window", len(ips)),
		ScopeActorID: actorID,
	}, true
}

// rapidSequences flags bursts of identical actions: a run of at least
// RapidSequenceCount consecutive same-action events whose median inter-event
// gap is at most RapidSequenceMedianGap. Runs slide across the window the
// same way rateLimit's sub-window does, so a burst still fires when the same
// action also occurs at an ordinary pace elsewhere in the window. One finding
// per qualifying action, actions evaluated in sorted order for deterministic
// output.
func (d *Detector) rapidSequences(actorID string, events []*models.AuditEvent) []Finding {
	byAction := groupByAction(events)
	actions := sortedKeys(byAction)

	findings := make([]Finding, 0)
	for _, action := range actions {
		burst := d.longestBurst(byAction[action])
		if burst < d.policy.RapidSequenceCount {
			continue
		}
		findings = append(findings, Finding{
			PatternType:  PatternRapidSequence,
			Count:        burst,
			Severity:     models.SeverityMedium,
			Description:  fmt.Sprintf("%d %q events in rapid succession", burst, action),
			ScopeActorID: actorID,
		})
	}
	return findings
}

// longestBurst returns the length of the longest run of consecutive events
// whose median inter-event gap stays within RapidSequenceMedianGap, or 0 when
// no run reaches RapidSequenceCount events. Events are already in ascending
// timestamp order.
func (d *Detector) longestBurst(group []*models.AuditEvent) int {
	need := d.policy.RapidSequenceCount
	if need < 2 || len(group) < need {
		return 0
	}

	gaps := make([]time.Duration, len(group)-1)
	for i := 1; i < len(group); i++ {
		gaps[i-1] = group[i].CreatedAt.Sub(group[i-1].CreatedAt)
	}

	longest := 0
	for start := 0; start+need <= len(group); start++ {
		// Events start..end-1 have gaps start..end-2.
		for end := start + need; end <= len(group); end++ {
			if medianDuration(gaps[start:end-1]) > d.policy.RapidSequenceMedianGap {
				continue
			}
			if run := end - start; run > longest {
				longest = run
			}
		}
	}
	return longest
}

// rateLimit flags more than RateLimitPerMinute same-action events inside any
// sliding one-minute sub-window. A qualifying burst is also materialized as
// a new audit event (system actor, category authentication, severity medium)
// so the ordinary append→alert path picks it up without a second code path.
func (d *Detector) rateLimit(ctx context.Context, actorID string, events []*models.AuditEvent) []Finding {
	byAction := groupByAction(events)
	actions := sortedKeys(byAction)

	findings := make([]Finding, 0)
	for _, action := range actions {
		group := byAction[action]
		peak := 0
		start := 0
		for end := range group {
			for group[end].CreatedAt.Sub(group[start].CreatedAt) > time.Minute {
				start++
			}
			if window := end - start + 1; window > peak {
				peak = window
			}
		}
		if peak <= d.policy.RateLimitPerMinute {
			continue
		}

		finding := Finding{
			PatternType:  PatternRateLimitExceeded,
			Count:        peak,
			Severity:     models.SeverityMedium,
			Description:  fmt.Sprintf("%d %q events within one minute", peak, action),
			ScopeActorID: actorID,
		}
		findings = append(findings, finding)

		if d.writer != nil {
			_, err := d.writer.Record(ctx, &models.AuditEvent{
				ActorID:  models.SystemActorID,
				Action:   string(PatternRateLimitExceeded),
				Resource: "authentication",
				Severity: models.SeverityMedium,
				Category: models.CategoryAuthentication,
				Outcome:  models.OutcomeSuccess,
				Metadata: map[string]interface{}{
					"scope_actor_id": actorID,
					"action":         action,
					"count":          peak,
				},
			})
			if err != nil {
				// Materialization is best-effort; the finding itself still
				// reaches the caller.
				slog.Error("failed to materialize rate limit audit event",
					"scope_actor_id", actorID,
					"action", action,
					"error", err,
				)
			}
		}
	}
	return findings
}

func groupByAction(events []*models.AuditEvent) map[string][]*models.AuditEvent {
	byAction := make(map[string][]*models.AuditEvent)
	for _, e := range events {
		byAction[e.Action] = append(byAction[e.Action], e)
	}
	return byAction
}

func sortedKeys(m map[string][]*models.AuditEvent) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func medianDuration(gaps []time.Duration) time.Duration {
	if len(gaps) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(gaps))
	copy(sorted, gaps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
