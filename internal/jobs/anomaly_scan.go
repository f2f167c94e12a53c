// anomaly_scan.go implements the AnomalyScan background job, which runs the
// detector over a trailing window on a fixed schedule. Critical findings are
// materialized as audit events and raised as security alerts. The alert is
// keyed on a deterministic finding identity (pattern + actor + UTC day), so
// overlapping windows scanned on the same day cannot re-alert on the same
// anomaly — the one-alert-per-source guard absorbs the duplicates.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/technically-fit/trust-engine/internal/config"
	"github.com/technically-fit/trust-engine/internal/db/models"
	"github.com/technically-fit/trust-engine/internal/detection"
)

// EventRecorder is the slice of the audit recorder the scan job writes through.
type EventRecorder interface {
	Record(ctx context.Context, event *models.AuditEvent) (string, error)
}

// AlertCreator raises alerts for critical findings.
type AlertCreator interface {
	CreateForFinding(ctx context.Context, finding detection.Finding, sourceEventID string) error
}

// AnomalyScan periodically scans the audit trail for suspicious activity.
type AnomalyScan struct {
	detector *detection.Detector
	recorder EventRecorder
	alerts   AlertCreator
	cfg      *config.ScanConfig
	interval time.Duration
	stopChan chan struct{}
}

// NewAnomalyScan creates a new AnomalyScan job.
// cfg.IntervalMinutes controls how often the scan runs (default 30m).
func NewAnomalyScan(detector *detection.Detector, recorder EventRecorder, alerts AlertCreator, cfg *config.ScanConfig) *AnomalyScan {
	minutes := cfg.IntervalMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return &AnomalyScan{
		detector: detector,
		recorder: recorder,
		alerts:   alerts,
		cfg:      cfg,
		interval: time.Duration(minutes) * time.Minute,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background scan loop.
// It runs an initial scan immediately, then repeats on the configured interval.
// The loop exits when ctx is cancelled or Stop() is called.
func (j *AnomalyScan) Start(ctx context.Context) {
	if !j.cfg.Enabled {
		log.Println("Anomaly scan: disabled (detection.scan.enabled=false)")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Printf("Anomaly scan started (interval: %v, window: %dh)", j.interval, j.cfg.WindowHours)

	// Run once immediately on startup
	j.runScan(ctx)

	for {
		select {
		case <-ticker.C:
			j.runScan(ctx)
		case <-j.stopChan:
			log.Println("Anomaly scan stopped")
			return
		case <-ctx.Done():
			log.Println("Anomaly scan context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *AnomalyScan) Stop() {
	close(j.stopChan)
}

// runScan executes one unscoped scan and handles its critical findings.
func (j *AnomalyScan) runScan(ctx context.Context) {
	findings, err := j.detector.Scan(ctx, nil, j.cfg.WindowHours)
	if err != nil {
		log.Printf("Anomaly scan: scan failed: %v", err)
		return
	}
	if len(findings) == 0 {
		return
	}

	log.Printf("Anomaly scan: %d finding(s) in the last %dh window", len(findings), j.cfg.WindowHours)

	for _, finding := range findings {
		if finding.Severity != models.SeverityCritical {
			continue
		}

		// The materialized event carries medium severity so the ordinary
		// append-to-alert path stays quiet; the alert raised below carries
		// the finding's critical level and a pattern-specific summary.
		eventID, err := j.recorder.Record(ctx, &models.AuditEvent{
			ActorID:  models.SystemActorID,
			Action:   "anomaly_detected",
			Resource: "audit_events",
			Severity: models.SeverityMedium,
			Category: models.CategoryDataAccess,
			Outcome:  models.OutcomeSuccess,
			Metadata: map[string]interface{}{
				"pattern":        string(finding.PatternType),
				"count":          finding.Count,
				"scope_actor_id": finding.ScopeActorID,
				"description":    finding.Description,
			},
		})
		if err != nil {
			log.Printf("Anomaly scan: failed to materialize finding %s: %v", finding.PatternType, err)
			continue
		}
		log.Printf("Anomaly scan: materialized critical finding %s as event %s", finding.PatternType, eventID)

		if err := j.alerts.CreateForFinding(ctx, finding, detection.FindingDedupKey(finding)); err != nil {
			log.Printf("Anomaly scan: failed to raise alert for finding %s: %v", finding.PatternType, err)
		}
	}
}
