// Package usage maintains the denormalized per-tenant subscription and
// usage rows that dashboards read. Signup creation is idempotent;
// status transitions arrive from the payment provider and are applied
// last-write-wins.
package usage

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound = errors.New("usage: subscription not found")
	// ErrSubjectConflict is the signup collision: the subject already
	// belongs to a different tenant. Not retryable with the same input.
	ErrSubjectConflict = errors.New("usage: subject belongs to a different tenant")
	ErrInvalidStatus   = errors.New("usage: invalid subscription status")
)

// Status is the subscription lifecycle state. The payment provider is
// the source of truth for transitions.
type Status string

const (
	StatusNone     Status = "none"
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNone, StatusTrialing, StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// DefaultPlan is assigned at signup before any checkout completes.
const DefaultPlan = "free"

// Subscription is one durable row, keyed by (tenant, public key,
// subject). Created once per (tenant, subject); never hard-deleted
// except by a tenant-initiated full wipe.
type Subscription struct {
	TenantID  string `json:"tenantId"`
	PublicKey string `json:"publicKey"`
	SubjectID string `json:"subjectId"`

	Plan   string `json:"plan"`
	Status Status `json:"status"`

	UsageCount int64 `json:"usageCount"`
	UsageLimit int64 `json:"usageLimit"`

	// CustomerID is the payment-provider customer, recorded when the
	// first checkout completes. Required for portal sessions.
	CustomerID string `json:"customerId,omitempty"`

	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// monthBounds computes the calendar-month usage window containing t.
func monthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
