// Package hooks receives the payment provider's signed event
// notifications and folds them into subscription state. Events are the
// provider's source of truth; handlers apply them last-write-wins.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/plinthhq/plinth/internal/directory"
	"github.com/plinthhq/plinth/internal/identity"
	"github.com/plinthhq/plinth/internal/logging"
	"github.com/plinthhq/plinth/internal/usage"
)

// ErrNoSecret means signature verification cannot run.
var ErrNoSecret = errors.New("hooks: webhook secret not configured")

const bodyLimit = 1 << 20 // 1 MiB, well above any provider event

// Handler verifies and dispatches provider events.
type Handler struct {
	secret   string
	dir      directory.Store
	usage    *usage.Service
	identity *identity.Client
}

// NewHandler creates a webhook handler. identity may be disabled; the
// metadata mirror is best-effort either way.
func NewHandler(secret string, dir directory.Store, u *usage.Service, id *identity.Client) *Handler {
	return &Handler{secret: secret, dir: dir, usage: u, identity: id}
}

// RegisterRoutes wires the unauthenticated webhook endpoint. Signature
// verification is the authentication.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/hooks/stripe", h.Receive)
}

// Receive verifies the event signature and applies the event.
func (h *Handler) Receive(c *gin.Context) {
	ctx := c.Request.Context()

	if h.secret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "not_configured",
			"message": "webhook secret not configured",
		})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_body",
			"message": "failed to read request body",
		})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload,
		c.GetHeader("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		eventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_signature",
			"message": "event signature verification failed",
		})
		return
	}

	if err := h.handleEvent(c, &event); err != nil {
		eventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		logging.L(ctx).Error("webhook processing failed",
			"event", event.ID, "type", event.Type, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "processing_failed",
			"message": "event processing failed",
		})
		return
	}

	eventsTotal.WithLabelValues(string(event.Type), "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) handleEvent(c *gin.Context, event *stripe.Event) error {
	ctx := c.Request.Context()

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		return h.checkoutCompleted(ctx, &session)

	case "customer.subscription.created",
		"customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.subscriptionChanged(ctx, &sub, mapStatus(sub.Status))

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.subscriptionChanged(ctx, &sub, usage.StatusCanceled)

	default:
		logging.L(ctx).Debug("webhook event ignored", "type", event.Type, "event", event.ID)
		return nil
	}
}

// checkoutCompleted records the provider customer. The subscription
// status itself arrives via the subscription events of the same
// checkout, so only the customer linkage happens here.
func (h *Handler) checkoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	subject := session.Metadata["subjectId"]
	publicKey := session.Metadata["publicKey"]
	if subject == "" || publicKey == "" {
		// Not a session this platform created; nothing to correlate.
		logging.L(ctx).Warn("checkout event without correlation metadata", "session", session.ID)
		return nil
	}

	tenantID, err := h.dir.ResolveByPublicKey(ctx, publicKey)
	if err != nil {
		return fmt.Errorf("resolve tenant for checkout: %w", err)
	}

	if session.Customer != nil && session.Customer.ID != "" {
		if err := h.usage.RecordCustomer(ctx, tenantID, subject, session.Customer.ID); err != nil {
			return fmt.Errorf("record customer: %w", err)
		}
	}

	h.mirrorMetadata(ctx, subject, session.Metadata["tier"], string(usage.StatusActive))
	return nil
}

func (h *Handler) subscriptionChanged(ctx context.Context, sub *stripe.Subscription, status usage.Status) error {
	subject := sub.Metadata["subjectId"]
	publicKey := sub.Metadata["publicKey"]
	if subject == "" || publicKey == "" {
		logging.L(ctx).Warn("subscription event without correlation metadata", "subscription", sub.ID)
		return nil
	}

	tenantID, err := h.dir.ResolveByPublicKey(ctx, publicKey)
	if err != nil {
		return fmt.Errorf("resolve tenant for subscription: %w", err)
	}

	var periodEnd time.Time
	if sub.CurrentPeriodEnd > 0 {
		periodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}

	if err := h.usage.ApplyStatusChange(ctx, tenantID, subject, status, periodEnd); err != nil {
		if errors.Is(err, usage.ErrNotFound) {
			// Subject was wiped or never synced; drop, the provider
			// would retry forever otherwise.
			logging.L(ctx).Warn("status change for unknown subject",
				"tenant", tenantID, "subject", subject)
			return nil
		}
		return err
	}

	h.mirrorMetadata(ctx, subject, sub.Metadata["tier"], string(status))
	return nil
}

// mirrorMetadata pushes billing state into the identity provider's
// user metadata. Best-effort: failures are logged, never retried, and
// never fail the webhook.
func (h *Handler) mirrorMetadata(ctx context.Context, subject, plan, status string) {
	if h.identity == nil || !h.identity.Enabled() {
		return
	}
	if err := h.identity.PatchMetadata(ctx, subject, &identity.Metadata{Plan: plan, Status: status}); err != nil {
		logging.L(ctx).Warn("identity metadata mirror failed", "subject", subject, "error", err)
	}
}

// mapStatus converts provider subscription statuses to the stored
// lifecycle states. Unrecognized transitional states stay "none".
func mapStatus(s stripe.SubscriptionStatus) usage.Status {
	switch s {
	case stripe.SubscriptionStatusTrialing:
		return usage.StatusTrialing
	case stripe.SubscriptionStatusActive:
		return usage.StatusActive
	case stripe.SubscriptionStatusPastDue:
		return usage.StatusPastDue
	case stripe.SubscriptionStatusCanceled,
		stripe.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusIncompleteExpired:
		return usage.StatusCanceled
	default:
		return usage.StatusNone
	}
}
