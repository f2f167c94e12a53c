// Package detection exposes on-demand anomaly scans over HTTP.
package detection

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/technically-fit/trust-engine/internal/alerts"
	"github.com/technically-fit/trust-engine/internal/db/models"
	detsvc "github.com/technically-fit/trust-engine/internal/detection"
)

// Handler handles anomaly detection API requests
type Handler struct {
	detector *detsvc.Detector
	alerter  *alerts.Manager
}

// NewHandler creates a new detection handler. alerter may be nil to skip
// alert materialization for critical findings.
func NewHandler(detector *detsvc.Detector, alerter *alerts.Manager) *Handler {
	return &Handler{detector: detector, alerter: alerter}
}

type scanRequest struct {
	ActorID     *string `json:"actor_id,omitempty"`
	WindowHours int     `json:"window_hours,omitempty"`
}

// @Summary      Run an anomaly scan
// @Description  Evaluates the detection rules over the trailing window, optionally scoped to one actor. Critical findings raise security alerts.
// @Tags         Detection
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "findings, window_hours"
// @Failure      400  {object}  map[string]interface{}  "invalid scan parameters"
// @Router       /api/v1/detection/scan [post]
func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
	}
	if req.WindowHours < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_hours must not be negative"})
		return
	}
	if req.WindowHours == 0 {
		req.WindowHours = 24
	}

	findings, err := h.detector.Scan(c.Request.Context(), req.ActorID, req.WindowHours)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Anomaly scan failed"})
		return
	}

	// Critical findings become alerts; duplicates within the dedup window
	// are absorbed by the manager's idempotent create. Alert creation is
	// best-effort; the scan response carries the findings either way.
	if h.alerter != nil {
		for _, f := range findings {
			if f.Severity != models.SeverityCritical {
				continue
			}
			if err := h.alerter.CreateForFinding(c.Request.Context(), f, detsvc.FindingDedupKey(f)); err != nil {
				slog.Error("failed to create alert for finding",
					"pattern_type", f.PatternType,
					"scope_actor_id", f.ScopeActorID,
					"error", err,
				)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"findings":     findings,
		"window_hours": req.WindowHours,
	})
}
