package oauthflow

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/plinthhq/plinth/internal/directory"
	"github.com/plinthhq/plinth/internal/logging"
)

// Handler exposes the authorize/callback endpoints. Callbacks always
// land as a redirect back to the frontend with a success/failure flag;
// the frontend renders whatever it is told.
type Handler struct {
	svc         *Service
	frontendURL string
}

// NewHandler creates an OAuth handler redirecting back to frontendURL.
func NewHandler(svc *Service, frontendURL string) *Handler {
	return &Handler{svc: svc, frontendURL: frontendURL}
}

// RegisterRoutes sets up the provider flows.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/oauth/:provider/authorize", h.Authorize)
	r.GET("/oauth/:provider/callback", h.Callback)
}

// Authorize handles GET /oauth/:provider/authorize?tenantId=&mode=.
func (h *Handler) Authorize(c *gin.Context) {
	provider := c.Param("provider")
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

	redirect, err := h.svc.Start(c.Request.Context(), provider, tenantID, mode)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownProvider):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider", "message": "no such provider"})
		case errors.Is(err, directory.ErrTenantNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant_not_found", "message": "unknown tenant"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to start authorization"})
		}
		return
	}

	c.Redirect(http.StatusFound, redirect)
}

// Callback handles GET /oauth/:provider/callback?code=&state=.
func (h *Handler) Callback(c *gin.Context) {
	provider := c.Param("provider")
	ctx := c.Request.Context()

	err := h.svc.Callback(ctx, provider, c.Query("code"), c.Query("state"))
	if err == nil {
		c.Redirect(http.StatusFound, h.frontendRedirect(provider, "success", ""))
		return
	}

	logging.L(ctx).Warn("oauth callback failed", "provider", provider, "error", err)

	reason := "internal"
	switch {
	case errors.Is(err, ErrUnknownProvider):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider", "message": "no such provider"})
		return
	case errors.Is(err, ErrInvalidState):
		reason = "invalid_state"
	case errors.Is(err, ErrNamespaceMissing):
		reason = "namespace_missing"
	case errors.Is(err, ErrProviderRejected):
		reason = "provider_rejected"
	}
	c.Redirect(http.StatusFound, h.frontendRedirect(provider, "error", reason))
}

func (h *Handler) frontendRedirect(provider, result, reason string) string {
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("connect", result)
	if reason != "" {
		q.Set("reason", reason)
	}
	return h.frontendURL + "/settings/connections?" + q.Encode()
}
