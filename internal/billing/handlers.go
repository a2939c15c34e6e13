package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plinthhq/plinth/internal/apikey"
	"github.com/plinthhq/plinth/internal/logging"
	"github.com/plinthhq/plinth/internal/security"
	"github.com/plinthhq/plinth/internal/tiers"
	"github.com/plinthhq/plinth/internal/usage"
)

// Handlers exposes the subscriber-facing billing routes. The usage
// service supplies the provider customer id for portal sessions;
// frontendURL is the fallback return target for portal sessions.
type Handlers struct {
	svc         *Service
	usage       *usage.Service
	frontendURL string
}

func NewHandlers(svc *Service, u *usage.Service, frontendURL string) *Handlers {
	return &Handlers{svc: svc, usage: u, frontendURL: frontendURL}
}

// RegisterRoutes wires the authenticated routes onto the group. The
// group is expected to carry apikey middleware and a subject check.
func (h *Handlers) RegisterRoutes(r gin.IRoutes) {
	r.POST("/create-checkout", h.CreateCheckout)
	r.POST("/customer-portal", h.CustomerPortal)
}

type checkoutRequest struct {
	Tier       string `json:"tier"`
	PriceID    string `json:"priceId"`
	SuccessURL string `json:"successUrl" binding:"required"`
	CancelURL  string `json:"cancelUrl" binding:"required"`
}

// CreateCheckout creates a provider checkout session and returns its
// redirect URL.
func (h *Handlers) CreateCheckout(c *gin.Context) {
	var body checkoutRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "successUrl and cancelUrl are required",
		})
		return
	}
	if security.ValidateRedirectURL(body.SuccessURL) != nil || security.ValidateRedirectURL(body.CancelURL) != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "successUrl and cancelUrl must be http(s) URLs",
		})
		return
	}

	ctx := c.Request.Context()
	url, err := h.svc.CreateCheckoutSession(ctx, &CheckoutRequest{
		TenantID:     apikey.TenantID(c),
		PublicKey:    apikey.PublicKey(c),
		Mode:         apikey.Mode(c),
		Tier:         body.Tier,
		PriceID:      body.PriceID,
		SubjectID:    apikey.Subject(c),
		SubjectEmail: apikey.Email(c),
		SuccessURL:   body.SuccessURL,
		CancelURL:    body.CancelURL,
	})
	if err != nil {
		h.writeError(c, "checkout", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

type portalRequest struct {
	ReturnURL string `json:"returnUrl"`
}

// CustomerPortal creates a billing-portal session for the subject's
// existing provider customer. returnUrl is optional; an empty body
// sends the subscriber back to the configured frontend.
func (h *Handlers) CustomerPortal(c *gin.Context) {
	var body portalRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "malformed request body",
		})
		return
	}
	returnURL := body.ReturnURL
	if returnURL == "" {
		returnURL = h.frontendURL
	} else if security.ValidateRedirectURL(returnURL) != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "returnUrl must be an http(s) URL",
		})
		return
	}

	ctx := c.Request.Context()
	sub, err := h.usage.Get(ctx, apikey.TenantID(c), apikey.PublicKey(c), apikey.Subject(c))
	if err != nil && !errors.Is(err, usage.ErrNotFound) {
		logging.L(ctx).Error("portal lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "failed to load subscription",
		})
		return
	}
	if sub == nil || sub.CustomerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "no_active_subscription",
			"message": "subject has no billing customer; complete a checkout first",
		})
		return
	}

	url, err := h.svc.CreatePortalSession(ctx, apikey.TenantID(c), apikey.Mode(c), sub.CustomerID, returnURL)
	if err != nil {
		h.writeError(c, "portal", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// writeError maps service failures onto responses. Provider rejections
// pass through with their upstream status and message untouched.
func (h *Handlers) writeError(c *gin.Context, op string, err error) {
	var pe *ProviderError
	switch {
	case errors.As(err, &pe):
		c.JSON(pe.StatusCode, gin.H{
			"error":   "provider_error",
			"message": pe.Message,
		})
	case errors.Is(err, ErrNotConnected):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "not_connected",
			"message": "tenant has no billing account connected",
		})
	case errors.Is(err, tiers.ErrNotConfigured):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "tiers_not_configured",
			"message": "no tier configuration for this environment",
		})
	case errors.Is(err, tiers.ErrTierNotFound):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unknown_tier",
			"message": "requested tier is not configured",
		})
	case errors.Is(err, tiers.ErrNoPrice):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "no_price",
			"message": "requested tier has no price attached",
		})
	default:
		logging.L(c.Request.Context()).Error("billing request failed", "op", op, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "billing_failed",
			"message": "failed to create session",
		})
	}
}
