// Package events implements the HTTP surface of the audit trail: appending
// events, querying with conjunctive filters, statistics, and the recent
// critical actions feed.
package events

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/technically-fit/trust-engine/internal/audit"
	"github.com/technically-fit/trust-engine/internal/db/models"
	"github.com/technically-fit/trust-engine/internal/db/repositories"
)

// Handler handles audit event API requests
type Handler struct {
	recorder *audit.Recorder
	repo     *repositories.AuditRepository
}

// NewHandler creates a new audit events handler
func NewHandler(recorder *audit.Recorder, repo *repositories.AuditRepository) *Handler {
	return &Handler{recorder: recorder, repo: repo}
}

// appendRequest is the JSON body for POST /api/v1/events.
type appendRequest struct {
	ActorID      string                 `json:"actor_id"`
	Action       string                 `json:"action"`
	Resource     string                 `json:"resource"`
	ResourceID   *string                `json:"resource_id,omitempty"`
	Severity     models.Severity        `json:"severity"`
	Category     models.Category        `json:"category"`
	Outcome      models.Outcome         `json:"outcome"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	IPAddress    *string                `json:"ip_address,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// @Summary      Append an audit event
// @Description  Validates and persists one audit event. High/critical events raise a security alert as a side effect.
// @Tags         Events
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      201  {object}  map[string]interface{}  "id of the persisted event"
// @Failure      400  {object}  map[string]interface{}  "validation error"
// @Router       /api/v1/events [post]
func (h *Handler) Append(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	event := &models.AuditEvent{
		ActorID:      req.ActorID,
		Action:       req.Action,
		Resource:     req.Resource,
		ResourceID:   req.ResourceID,
		Severity:     req.Severity,
		Category:     req.Category,
		Outcome:      req.Outcome,
		ErrorMessage: req.ErrorMessage,
		IPAddress:    req.IPAddress,
		Metadata:     req.Metadata,
	}

	id, err := h.recorder.Record(c.Request.Context(), event)
	if err != nil {
		var verr *audit.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record audit event"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// @Summary      Query audit events
// @Description  Returns events matching all supplied filters, newest first. One filter dimension drives the index; the rest are applied as post-filters.
// @Tags         Events
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "events, has_more"
// @Failure      400  {object}  map[string]interface{}  "invalid filter parameter"
// @Router       /api/v1/events [get]
func (h *Handler) Query(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, hasMore, err := h.repo.QueryEvents(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query audit events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events":   events,
		"has_more": hasMore,
	})
}

// @Summary      Audit statistics
// @Description  Returns aggregate counts (total, by category/severity/outcome, unique actors) over a time range.
// @Tags         Events
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.AuditStatistics
// @Failure      400  {object}  map[string]interface{}  "invalid time range"
// @Router       /api/v1/events/statistics [get]
func (h *Handler) Statistics(c *gin.Context) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	if v := c.Query("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_time must be RFC3339"})
			return
		}
		start = t
	}
	if v := c.Query("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_time must be RFC3339"})
			return
		}
		end = t
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_time must not precede start_time"})
		return
	}

	stats, err := h.repo.Statistics(c.Request.Context(), start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute statistics"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// @Summary      Recent critical actions
// @Description  Returns the newest critical-severity events within the lookback window.
// @Tags         Events
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "events"
// @Failure      400  {object}  map[string]interface{}  "invalid hours or limit"
// @Router       /api/v1/events/critical [get]
func (h *Handler) RecentCritical(c *gin.Context) {
	hours, err := positiveIntQuery(c, "hours", 24)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := positiveIntQuery(c, "limit", 50)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := h.repo.RecentCriticalEvents(c.Request.Context(), hours, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load critical events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// filterFromQuery builds an EventFilter from URL query parameters. Enum
// values are validated here so a typo'd severity is a 400, not a silent
// empty result set.
func filterFromQuery(c *gin.Context) (*models.EventFilter, error) {
	filter := &models.EventFilter{}

	if v := c.Query("actor_id"); v != "" {
		filter.ActorID = &v
	}
	if v := c.Query("action"); v != "" {
		filter.Action = &v
	}
	if v := c.Query("resource"); v != "" {
		filter.Resource = &v
	}
	if v := c.Query("resource_id"); v != "" {
		filter.ResourceID = &v
	}
	if v := c.Query("ip_address"); v != "" {
		filter.IPAddress = &v
	}
	if v := c.Query("severity"); v != "" {
		s := models.Severity(v)
		if !s.Valid() {
			return nil, errors.New("unknown severity: " + v)
		}
		filter.Severity = &s
	}
	if v := c.Query("category"); v != "" {
		cat := models.Category(v)
		if !cat.Valid() {
			return nil, errors.New("unknown category: " + v)
		}
		filter.Category = &cat
	}
	if v := c.Query("outcome"); v != "" {
		o := models.Outcome(v)
		if !o.Valid() {
			return nil, errors.New("unknown outcome: " + v)
		}
		filter.Outcome = &o
	}
	if v := c.Query("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, errors.New("start_time must be RFC3339")
		}
		filter.StartTime = &t
	}
	if v := c.Query("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, errors.New("end_time must be RFC3339")
		}
		filter.EndTime = &t
	}

	var err error
	if filter.Limit, err = positiveIntQuery(c, "limit", 100); err != nil {
		return nil, err
	}
	if filter.Offset, err = nonNegativeIntQuery(c, "offset", 0); err != nil {
		return nil, err
	}

	return filter, nil
}

func positiveIntQuery(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return n, nil
}

func nonNegativeIntQuery(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}
