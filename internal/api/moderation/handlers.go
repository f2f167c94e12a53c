// Package moderation exposes the content review queue over HTTP: flagging
// content, assignment, review decisions, escalation and appeals.
package moderation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/technically-fit/trust-engine/internal/db/models"
	"github.com/technically-fit/trust-engine/internal/db/repositories"
	modsvc "github.com/technically-fit/trust-engine/internal/moderation"
)

// Handler handles moderation queue API requests
type Handler struct {
	queue *modsvc.Queue
}

// NewHandler creates a new moderation handler
func NewHandler(queue *modsvc.Queue) *Handler {
	return &Handler{queue: queue}
}

// operatorID returns the authenticated caller's identity for attribution on
// review actions.
func operatorID(c *gin.Context) string {
	if v, exists := c.Get("user_id"); exists {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return "unknown"
}

// respondError translates the queue's typed errors into HTTP status codes.
func respondError(c *gin.Context, err error) {
	var verr *modsvc.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
		return
	}
	var nf *modsvc.NotFoundError
	if errors.As(err, &nf) {
		c.JSON(http.StatusNotFound, gin.H{"error": nf.Error()})
		return
	}
	var ste *modsvc.StateTransitionError
	if errors.As(err, &ste) {
		c.JSON(http.StatusConflict, gin.H{"error": ste.Error(), "status": ste.From})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Moderation operation failed"})
}

type createRequest struct {
	ItemID          string                   `json:"item_id"`
	ReportedBy      *string                  `json:"reported_by,omitempty"`
	ReportReason    *string                  `json:"report_reason,omitempty"`
	Content         models.ModerationContent `json:"content"`
	Flags           []string                 `json:"flags,omitempty"`
	AutoFlagged     bool                     `json:"auto_flagged"`
	ConfidenceScore *float64                 `json:"confidence_score,omitempty"`
}

// @Summary      Flag content for review
// @Description  Creates a pending moderation item. Priority is derived from the flags and, for auto-flagged content, the classifier confidence.
// @Tags         Moderation
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      201  {object}  models.ModerationItem
// @Failure      400  {object}  map[string]interface{}  "validation error"
// @Router       /api/v1/moderation/items [post]
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	item, err := h.queue.Create(c.Request.Context(), modsvc.CreateRequest{
		ItemID:          req.ItemID,
		ReportedBy:      req.ReportedBy,
		ReportReason:    req.ReportReason,
		Content:         req.Content,
		Flags:           req.Flags,
		AutoFlagged:     req.AutoFlagged,
		ConfidenceScore: req.ConfidenceScore,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, item)
}

// @Summary      List moderation items
// @Description  Returns items matching the status/priority/type/assignee filters, most urgent and oldest first.
// @Tags         Moderation
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "items"
// @Failure      400  {object}  map[string]interface{}  "invalid filter parameter"
// @Router       /api/v1/moderation/items [get]
func (h *Handler) List(c *gin.Context) {
	filters := repositories.ModerationFilters{Limit: 100}

	if v := c.Query("status"); v != "" {
		s := models.ModerationStatus(v)
		filters.Status = &s
	}
	if v := c.Query("priority"); v != "" {
		p := models.ModerationPriority(v)
		filters.Priority = &p
	}
	if v := c.Query("item_type"); v != "" {
		it := models.ModerationItemType(v)
		if !it.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown item_type: " + v})
			return
		}
		filters.ItemType = &it
	}
	if v := c.Query("assigned_to"); v != "" {
		filters.AssignedTo = &v
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filters.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return
		}
		filters.Offset = n
	}

	items, err := h.queue.List(c.Request.Context(), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list moderation items"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary      Get a moderation item
// @Tags         Moderation
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.ModerationItem
// @Failure      404  {object}  map[string]interface{}  "item not found"
// @Router       /api/v1/moderation/items/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	item, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// @Summary      Assign an item for review
// @Description  Moves a pending item to under_review and records the reviewing operator.
// @Tags         Moderation
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.ModerationItem
// @Failure      404  {object}  map[string]interface{}  "item not found"
// @Failure      409  {object}  map[string]interface{}  "illegal transition"
// @Router       /api/v1/moderation/items/{id}/assign [post]
func (h *Handler) Assign(c *gin.Context) {
	item, err := h.queue.Assign(c.Request.Context(), c.Param("id"), operatorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type reviewRequest struct {
	Decision models.ModerationDecision `json:"decision"`
	Reason   *string                   `json:"reason,omitempty"`
}

// @Summary      Review an item
// @Description  Records a decision (approve, reject, modify, escalate). Modify approves with the distinct decision value preserved. Reviewing straight from pending is allowed.
// @Tags         Moderation
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {object}  models.ModerationItem
// @Failure      400  {object}  map[string]interface{}  "unknown decision"
// @Failure      404  {object}  map[string]interface{}  "item not found"
// @Failure      409  {object}  map[string]interface{}  "illegal transition"
// @Router       /api/v1/moderation/items/{id}/review [post]
func (h *Handler) Review(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	item, err := h.queue.Review(c.Request.Context(), c.Param("id"), req.Decision, req.Reason, operatorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type escalateRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// @Summary      Escalate an item
// @Description  Moves any non-terminal item to escalated for senior review.
// @Tags         Moderation
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {object}  models.ModerationItem
// @Failure      404  {object}  map[string]interface{}  "item not found"
// @Failure      409  {object}  map[string]interface{}  "item already terminal"
// @Router       /api/v1/moderation/items/{id}/escalate [post]
func (h *Handler) Escalate(c *gin.Context) {
	var req escalateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
	}

	item, err := h.queue.Escalate(c.Request.Context(), c.Param("id"), req.Reason, operatorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type appealRequest struct {
	AppellantID string  `json:"appellant_id"`
	Reason      string  `json:"reason"`
	Evidence    *string `json:"evidence,omitempty"`
}

// @Summary      Appeal a moderation decision
// @Description  Files a new user_report item contesting a previous decision. The original item is left untouched; the appeal links back to it.
// @Tags         Moderation
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      201  {object}  models.ModerationItem
// @Failure      400  {object}  map[string]interface{}  "validation error"
// @Failure      404  {object}  map[string]interface{}  "original item not found"
// @Router       /api/v1/moderation/items/{id}/appeal [post]
func (h *Handler) Appeal(c *gin.Context) {
	var req appealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	appellant := req.AppellantID
	if appellant == "" {
		appellant = operatorID(c)
	}

	item, err := h.queue.Appeal(c.Request.Context(), c.Param("id"), appellant, req.Reason, req.Evidence)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}
