package usage

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plinthhq/plinth/internal/apikey"
	"github.com/plinthhq/plinth/internal/logging"
)

// Handlers exposes the subscriber-facing sync and usage routes.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// RegisterRoutes wires the authenticated routes onto the group. The
// group is expected to carry the apikey middleware already.
func (h *Handlers) RegisterRoutes(r gin.IRoutes) {
	r.POST("/sync/signup", h.SyncSignup)
	r.POST("/usage/increment", h.IncrementUsage)
	r.GET("/subscription", h.GetSubscription)
}

// SyncSignup upserts the subscription row for the authenticated
// subject. Safe to call on every login; only the first call creates.
func (h *Handlers) SyncSignup(c *gin.Context) {
	ctx := c.Request.Context()
	subject := apikey.Subject(c)

	sub, created, err := h.svc.EnsureSignup(ctx,
		apikey.TenantID(c), apikey.PublicKey(c), apikey.Mode(c), subject)
	if err != nil {
		if errors.Is(err, ErrSubjectConflict) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "subject_conflict",
				"message": "subject is registered under a different tenant",
			})
			return
		}
		logging.L(ctx).Error("signup sync failed", "error", err, "subject", subject)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "sync_failed",
			"message": "failed to sync signup",
		})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"subscription": sub, "created": created})
}

// IncrementUsage bumps the metered counter and returns the new total.
func (h *Handlers) IncrementUsage(c *gin.Context) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	// Body is optional; an empty body means increment by one.
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()
	count, err := h.svc.Increment(ctx,
		apikey.TenantID(c), apikey.PublicKey(c), apikey.Subject(c), req.Amount)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "no subscription for subject; call signup sync first",
			})
			return
		}
		logging.L(ctx).Error("usage increment failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "increment_failed",
			"message": "failed to increment usage",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"usageCount": count})
}

// GetSubscription returns the row for the authenticated subject.
func (h *Handlers) GetSubscription(c *gin.Context) {
	sub, err := h.svc.Get(c.Request.Context(),
		apikey.TenantID(c), apikey.PublicKey(c), apikey.Subject(c))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "no subscription for subject",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "lookup_failed",
			"message": "failed to load subscription",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}
