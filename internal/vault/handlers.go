package vault

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plinthhq/plinth/internal/directory"
)

// Handler exposes namespace provisioning over HTTP.
type Handler struct {
	vault *Vault
	dir   directory.Store
}

// NewHandler creates a vault handler.
func NewHandler(v *Vault, dir directory.Store) *Handler {
	return &Handler{vault: v, dir: dir}
}

// RegisterRoutes sets up namespace routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/kv/create", h.CreateNamespace)
}

// CreateNamespace handles POST /kv/create. Idempotent: repeat calls
// for the same tenant return the existing handle.
func (h *Handler) CreateNamespace(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenantId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "tenantId required"})
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

	handle, err := h.vault.CreateNamespace(c.Request.Context(), req.TenantID)
	if err != nil {
		if errors.Is(err, ErrProvisionFailed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "provision_failed", "message": "namespace creation failed, retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create namespace"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"namespaceHandle": string(handle)})
}
