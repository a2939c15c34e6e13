package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/plinthhq/plinth/internal/directory"
	"github.com/plinthhq/plinth/internal/logging"
	"github.com/plinthhq/plinth/internal/pagination"
	"github.com/plinthhq/plinth/internal/tiers"
)

// Service applies signup and status-change events to the durable rows.
type Service struct {
	store Store
	tiers *tiers.Service
}

// NewService creates a sync service. tiers may be nil in tests that do
// not exercise trial detection.
func NewService(store Store, t *tiers.Service) *Service {
	return &Service{store: store, tiers: t}
}

// EnsureSignup creates the subscription row on first signup and is a
// no-op on repeats: an existing row keeps its counters and status
// untouched. A subject already registered under a different tenant is
// a conflict, not an upsert.
func (s *Service) EnsureSignup(ctx context.Context, tenantID, publicKey string, mode directory.Mode, subjectID string) (*Subscription, bool, error) {
	owner, found, err := s.store.SubjectTenant(ctx, subjectID)
	if err != nil {
		return nil, false, err
	}
	if found && owner != tenantID {
		return nil, false, ErrSubjectConflict
	}

	status := StatusNone
	var usageLimit int64
	if s.tiers != nil {
		cfg, err := s.tiers.Get(ctx, tenantID, mode)
		switch {
		case err == nil:
			if cfg.TrialDays > 0 {
				status = StatusTrialing
			}
			if free, ok := cfg.Find(DefaultPlan); ok {
				usageLimit = free.UsageLimit
			}
		case errors.Is(err, tiers.ErrNotConfigured):
			// Signup before tier setup is fine; defaults apply.
		default:
			return nil, false, err
		}
	}

	now := time.Now().UTC()
	periodStart, periodEnd := monthBounds(now)
	sub := &Subscription{
		TenantID:    tenantID,
		PublicKey:   publicKey,
		SubjectID:   subjectID,
		Plan:        DefaultPlan,
		Status:      status,
		UsageLimit:  usageLimit,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	inserted, err := s.store.Insert(ctx, sub)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		signupsTotal.WithLabelValues(string(mode)).Inc()
		return sub, true, nil
	}

	existing, err := s.store.Get(ctx, tenantID, publicKey, subjectID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ApplyStatusChange is the single entry point the payment-provider
// webhook collaborator calls. Unconditional overwrite; the provider is
// the source of truth for ordering.
func (s *Service) ApplyStatusChange(ctx context.Context, tenantID, subjectID string, newStatus Status, periodEnd time.Time) error {
	if !ValidStatus(newStatus) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	n, err := s.store.UpdateStatus(ctx, tenantID, subjectID, newStatus, periodEnd)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	statusChangesTotal.WithLabelValues(string(newStatus)).Inc()
	logging.L(ctx).Info("subscription status applied",
		"tenant", tenantID, "subject", subjectID, "status", newStatus)
	return nil
}

// RecordCustomer stores the payment-provider customer id once the
// first checkout completes. Needed later for portal sessions.
func (s *Service) RecordCustomer(ctx context.Context, tenantID, subjectID, customerID string) error {
	return s.store.SetCustomer(ctx, tenantID, subjectID, customerID)
}

// Increment bumps the metered-usage counter.
func (s *Service) Increment(ctx context.Context, tenantID, publicKey, subjectID string, n int64) (int64, error) {
	if n <= 0 {
		n = 1
	}
	return s.store.Increment(ctx, tenantID, publicKey, subjectID, n)
}

// Get returns the row for dashboard consumption.
func (s *Service) Get(ctx context.Context, tenantID, publicKey, subjectID string) (*Subscription, error) {
	return s.store.Get(ctx, tenantID, publicKey, subjectID)
}

// List returns one page of the tenant's subscription rows plus the
// cursor for the next page, empty when the listing is exhausted.
func (s *Service) List(ctx context.Context, tenantID string, limit int, cursor *pagination.Cursor) ([]*Subscription, string, bool, error) {
	rows, err := s.store.ListByTenant(ctx, tenantID, limit, cursor)
	if err != nil {
		return nil, "", false, err
	}
	page, next, hasMore := pagination.ComputePage(rows, limit, func(sub *Subscription) (time.Time, string) {
		return sub.CreatedAt, sub.SubjectID
	})
	return page, next, hasMore, nil
}

// Wipe removes every subscription row scoped to the tenant.
func (s *Service) Wipe(ctx context.Context, tenantID string) (int64, error) {
	return s.store.DeleteTenant(ctx, tenantID)
}
