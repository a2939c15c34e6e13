package usage

import (
	"context"
	"time"

	"github.com/plinthhq/plinth/internal/pagination"
)

// Store persists subscription rows.
type Store interface {
	// Insert creates the row only if absent (conflict-tolerant) and
	// reports whether it actually inserted.
	Insert(ctx context.Context, sub *Subscription) (bool, error)

	Get(ctx context.Context, tenantID, publicKey, subjectID string) (*Subscription, error)

	// SubjectTenant returns which tenant a subject is registered under,
	// if any. Used to detect cross-tenant signup collisions.
	SubjectTenant(ctx context.Context, subjectID string) (string, bool, error)

	// UpdateStatus unconditionally overwrites status and period end for
	// every row of (tenant, subject). Last write wins.
	UpdateStatus(ctx context.Context, tenantID, subjectID string, status Status, periodEnd time.Time) (int64, error)

	// SetCustomer records the payment-provider customer id.
	SetCustomer(ctx context.Context, tenantID, subjectID, customerID string) error

	// Increment bumps the usage counter and returns the new value.
	Increment(ctx context.Context, tenantID, publicKey, subjectID string, n int64) (int64, error)

	// ListByTenant returns up to limit+1 rows for the tenant ordered by
	// (created_at, subject_id), starting after the cursor position when
	// one is given. Callers trim the extra row via pagination.ComputePage.
	ListByTenant(ctx context.Context, tenantID string, limit int, cursor *pagination.Cursor) ([]*Subscription, error)

	// DeleteTenant removes every row scoped to the tenant (full wipe)
	// and returns how many were removed.
	DeleteTenant(ctx context.Context, tenantID string) (int64, error)
}
