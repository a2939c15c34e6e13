package tiers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plinthhq/plinth/internal/directory"
	"github.com/plinthhq/plinth/internal/vault"
)

// Handler exposes tier configuration over HTTP.
type Handler struct {
	svc *Service
	dir directory.Store
}

// NewHandler creates a tiers handler.
func NewHandler(svc *Service, dir directory.Store) *Handler {
	return &Handler{svc: svc, dir: dir}
}

// RegisterRoutes sets up tier config routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/config/tiers", h.SaveConfig)
	r.GET("/config/tiers", h.GetConfig)
}

// SaveConfig handles POST /config/tiers.
func (h *Handler) SaveConfig(c *gin.Context) {
	var req struct {
		TenantID string  `json:"tenantId" binding:"required"`
		Mode     string  `json:"mode"`
		Config   *Config `json:"config" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "tenantId and config required"})
		return
	}

	mode, err := directory.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_mode", "message": "mode must be test or live"})
		return
	}

	if _, err := h.dir.GetTenant(c.Request.Context(), req.TenantID); err != nil {
		if errors.Is(err, directory.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant_not_found", "message": "unknown tenant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load tenant"})
		return
	}

	if err := h.svc.SaveConfig(c.Request.Context(), req.TenantID, mode, req.Config); err != nil {
		switch {
		case errors.Is(err, vault.ErrProvisionFailed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "provision_failed", "message": "namespace creation failed, retry"})
		case errors.Is(err, ErrInvalidConfig):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to save config"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetConfig handles GET /config/tiers?tenantId=&mode=.
func (h *Handler) GetConfig(c *gin.Context) {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "tenantId required"})
		return
	}
	mode, err := directory.ParseMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_mode", "message": "mode must be test or live"})
		return
	}

	cfg, err := h.svc.Get(c.Request.Context(), tenantID, mode)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_configured", "message": "no tier config for this mode"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load config"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"config": cfg})
}
