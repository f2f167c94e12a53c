// retention_sweeper.go implements the RetentionSweeper background job, which
// periodically deletes audit events older than the configured retention
// horizon. The cutoff is computed once at the start of each sweep, so events
// appended while the DELETE runs are never eligible — the sweep is safe to
// run concurrently with appends. Security alerts and moderation items are
// never touched; they are retained indefinitely as the trust record.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/technically-fit/trust-engine/internal/config"
	"github.com/technically-fit/trust-engine/internal/db/repositories"
	"github.com/technically-fit/trust-engine/internal/telemetry"
)

// RetentionSweeper periodically deletes audit events past the retention horizon.
type RetentionSweeper struct {
	auditRepo *repositories.AuditRepository
	cfg       *config.RetentionConfig
	interval  time.Duration
	stopChan  chan struct{}
}

// NewRetentionSweeper creates a new RetentionSweeper.
// cfg.SweepIntervalHours controls how often the sweep runs (default 24h).
func NewRetentionSweeper(auditRepo *repositories.AuditRepository, cfg *config.RetentionConfig) *RetentionSweeper {
	hours := cfg.SweepIntervalHours
	if hours <= 0 {
		hours = 24
	}
	return &RetentionSweeper{
		auditRepo: auditRepo,
		cfg:       cfg,
		interval:  time.Duration(hours) * time.Hour,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background sweep loop.
// It runs an initial sweep immediately, then repeats on the configured interval.
// The loop exits when ctx is cancelled or Stop() is called.
func (s *RetentionSweeper) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("Retention sweeper: disabled (audit.retention.enabled=false)")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("Retention sweeper started (sweep interval: %v, horizon: %d days)",
		s.interval, s.cfg.Days)

	// Run once immediately on startup
	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopChan:
			log.Println("Retention sweeper stopped")
			return
		case <-ctx.Done():
			log.Println("Retention sweeper context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (s *RetentionSweeper) Stop() {
	close(s.stopChan)
}

// runSweep deletes all audit events strictly older than the cutoff. The
// cutoff is fixed before the delete starts.
func (s *RetentionSweeper) runSweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.Days)

	deleted, err := s.auditRepo.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		log.Printf("Retention sweeper: sweep failed: %v", err)
		return
	}

	telemetry.RetentionDeletedTotal.Add(float64(deleted))
	if deleted > 0 {
		log.Printf("Retention sweeper: deleted %d audit event(s) older than %s",
			deleted, cutoff.Format(time.RFC3339))
	}
}
