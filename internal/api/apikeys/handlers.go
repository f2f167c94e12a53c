// Package apikeys implements management endpoints for machine credentials.
// All routes require the api_keys:manage scope.
package apikeys

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/technically-fit/trust-engine/internal/auth"
	"github.com/technically-fit/trust-engine/internal/db/models"
	"github.com/technically-fit/trust-engine/internal/db/repositories"
)

// Handler handles API key management requests
type Handler struct {
	repo *repositories.APIKeyRepository
}

// NewHandler creates a new API key handler
func NewHandler(repo *repositories.APIKeyRepository) *Handler {
	return &Handler{repo: repo}
}

// CreateRequest is the body for POST /api/v1/apikeys.
type CreateRequest struct {
	Name      string   `json:"name" binding:"required"`
	Scopes    []string `json:"scopes" binding:"required"`
	ExpiresAt *string  `json:"expires_at"` // RFC3339
}

// CreateResponse carries the plaintext key. It is returned exactly once, at
// creation; only the bcrypt hash survives.
type CreateResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	KeyPrefix string     `json:"key_prefix"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// keySummary is an API key without secret material, for listings.
type keySummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func summarize(k *models.APIKey) keySummary {
	return keySummary{
		ID:         k.ID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		Scopes:     k.Scopes,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

// @Summary      Create an API key
// @Description  Issues a new machine credential. The plaintext key appears only in this response.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      201  {object}  CreateResponse
// @Failure      400  {object}  map[string]interface{}  "invalid name, scopes or expiry"
// @Router       /api/v1/apikeys [post]
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	if err := auth.ValidateScopes(req.Scopes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be RFC3339"})
			return
		}
		if t.Before(time.Now()) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be in the future"})
			return
		}
		expiresAt = &t
	}

	key, hash, prefix, err := auth.GenerateAPIKey("tse")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate API key"})
		return
	}

	// The repository assigns the ID and creation timestamp.
	apiKey := &models.APIKey{
		Name:      req.Name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		Scopes:    req.Scopes,
		ExpiresAt: expiresAt,
	}
	if err := h.repo.CreateAPIKey(c.Request.Context(), apiKey); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store API key"})
		return
	}

	c.JSON(http.StatusCreated, CreateResponse{
		ID:        apiKey.ID,
		Name:      apiKey.Name,
		Key:       key,
		KeyPrefix: prefix,
		Scopes:    apiKey.Scopes,
		ExpiresAt: expiresAt,
		CreatedAt: apiKey.CreatedAt,
	})
}

// @Summary      List API keys
// @Description  Returns all active keys without secret material.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "keys"
// @Router       /api/v1/apikeys [get]
func (h *Handler) List(c *gin.Context) {
	keys, err := h.repo.ListAPIKeys(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list API keys"})
		return
	}

	out := make([]keySummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, summarize(k))
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

// @Summary      Get an API key
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  keySummary
// @Failure      404  {object}  map[string]interface{}  "key not found"
// @Router       /api/v1/apikeys/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	key, err := h.repo.GetAPIKeyByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load API key"})
		return
	}
	if key == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return
	}
	c.JSON(http.StatusOK, summarize(key))
}

// @Summary      Revoke an API key
// @Description  Deletes the key; in-flight requests already authenticated with it are unaffected.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "revoked"
// @Failure      404  {object}  map[string]interface{}  "key not found"
// @Router       /api/v1/apikeys/{id} [delete]
func (h *Handler) Revoke(c *gin.Context) {
	id := c.Param("id")
	key, err := h.repo.GetAPIKeyByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load API key"})
		return
	}
	if key == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return
	}

	if err := h.repo.RevokeAPIKey(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke API key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true, "id": id})
}
