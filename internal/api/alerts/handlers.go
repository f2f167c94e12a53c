// Package alerts exposes the security alert lifecycle over HTTP: listing
// open and resolved alerts and acknowledging them.
package alerts

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	alertsvc "github.com/technically-fit/trust-engine/internal/alerts"
)

// Handler handles security alert API requests
type Handler struct {
	manager *alertsvc.Manager
}

// NewHandler creates a new security alerts handler
func NewHandler(manager *alertsvc.Manager) *Handler {
	return &Handler{manager: manager}
}

// @Summary      List unacknowledged alerts
// @Description  Returns all alerts awaiting review, newest first.
// @Tags         Alerts
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "alerts"
// @Router       /api/v1/alerts/unacknowledged [get]
func (h *Handler) ListUnacknowledged(c *gin.Context) {
	list, err := h.manager.ListUnacknowledged(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list})
}

// @Summary      List acknowledged alerts
// @Description  Returns alerts that have been acknowledged, newest first.
// @Tags         Alerts
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "alerts"
// @Router       /api/v1/alerts/acknowledged [get]
func (h *Handler) ListAcknowledged(c *gin.Context) {
	list, err := h.manager.ListAcknowledged(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list})
}

// @Summary      Get an alert
// @Tags         Alerts
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.SecurityAlert
// @Failure      404  {object}  map[string]interface{}  "alert not found"
// @Router       /api/v1/alerts/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	alert, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		var nf *alertsvc.NotFoundError
		if errors.As(err, &nf) {
			c.JSON(http.StatusNotFound, gin.H{"error": nf.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load alert"})
		return
	}
	c.JSON(http.StatusOK, alert)
}

type acknowledgeRequest struct {
	Resolution *string `json:"resolution,omitempty"`
}

// @Summary      Acknowledge an alert
// @Description  Marks an alert as acknowledged by the calling operator. Exactly one concurrent acknowledger wins; the rest receive 409.
// @Tags         Alerts
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {object}  models.SecurityAlert
// @Failure      404  {object}  map[string]interface{}  "alert not found"
// @Failure      409  {object}  map[string]interface{}  "already acknowledged"
// @Router       /api/v1/alerts/{id}/acknowledge [post]
func (h *Handler) Acknowledge(c *gin.Context) {
	var req acknowledgeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
	}

	actorID := "unknown"
	if v, exists := c.Get("user_id"); exists {
		if id, ok := v.(string); ok && id != "" {
			actorID = id
		}
	}

	id := c.Param("id")
	if err := h.manager.Acknowledge(c.Request.Context(), id, actorID, req.Resolution); err != nil {
		var nf *alertsvc.NotFoundError
		if errors.As(err, &nf) {
			c.JSON(http.StatusNotFound, gin.H{"error": nf.Error()})
			return
		}
		var ack *alertsvc.AlreadyAcknowledgedError
		if errors.As(err, &ack) {
			c.JSON(http.StatusConflict, gin.H{"error": ack.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to acknowledge alert"})
		return
	}

	alert, err := h.manager.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load alert"})
		return
	}
	c.JSON(http.StatusOK, alert)
}
