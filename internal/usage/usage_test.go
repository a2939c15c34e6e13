package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plinthhq/plinth/internal/directory"
	"github.com/plinthhq/plinth/internal/kv"
	"github.com/plinthhq/plinth/internal/pagination"
	"github.com/plinthhq/plinth/internal/tiers"
	"github.com/plinthhq/plinth/internal/vault"
)

type usageFixture struct {
	dir   *directory.MemoryStore
	tiers *tiers.Service
	store *MemoryStore
	svc   *Service
	ten   *directory.Tenant
	key   string
}

func newUsageFixture(t *testing.T) *usageFixture {
	t.Helper()
	ctx := context.Background()

	dir := directory.NewMemoryStore()
	ten := directory.NewTenant("acme")
	require.NoError(t, dir.CreateTenant(ctx, ten))

	v := vault.New(kv.NewMemory(), dir)
	ts := tiers.NewService(dir, v)

	store := NewMemoryStore()
	return &usageFixture{
		dir:   dir,
		tiers: ts,
		store: store,
		svc:   NewService(store, ts),
		ten:   ten,
		key:   ten.PublicKeys[directory.ModeTest],
	}
}

func TestEnsureSignupCreatesOnce(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	sub, created, err := f.svc.EnsureSignup(ctx, f.ten.ID, f.key, directory.ModeTest, "user_1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, DefaultPlan, sub.Plan)
	assert.Equal(t, StatusNone, sub.Status)
	assert.Equal(t, int64(0), sub.UsageCount)

	// Second sync is a no-op: counters and status survive.
	_, err = f.svc.Increment(ctx, f.ten.ID, f.key, "user_1", 5)
	require.NoError(t, err)

	again, created, err := f.svc.EnsureSignup(ctx, f.ten.ID, f.key, directory.ModeTest, "user_1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(5), again.UsageCount)
}

func TestEnsureSignupCalendarMonthPeriod(t *testing.T) {
	f := newUsageFixture(t)

	sub, _, err := f.svc.EnsureSignup(context.Background(), f.ten.ID, f.key, directory.ModeTest, "user_1")
	require.NoError(t, err)

	now := time.Now().UTC()
	wantStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, wantStart, sub.PeriodStart)
	assert.Equal(t, wantStart.AddDate(0, 1, 0), sub.PeriodEnd)
}

func TestEnsureSignupTrialFromTierConfig(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	cfg := &tiers.Config{
		TrialDays: 14,
		Tiers: []tiers.Tier{
			{Name: "free", DisplayName: "Free", UsageLimit: 100},
			{Name: "pro", DisplayName: "Pro", PriceID: "price_123"},
		},
	}
	require.NoError(t, f.tiers.SaveConfig(ctx, f.ten.ID, directory.ModeTest, cfg))

	sub, created, err := f.svc.EnsureSignup(ctx, f.ten.ID, f.key, directory.ModeTest, "user_1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusTrialing, sub.Status)
	assert.Equal(t, int64(100), sub.UsageLimit)
}

func TestEnsureSignupSubjectConflict(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	other := directory.NewTenant("rival")
	require.NoError(t, f.dir.CreateTenant(ctx, other))

	_, _, err := f.svc.EnsureSignup(ctx, f.ten.ID, f.key, directory.ModeTest, "user_1")
	require.NoError(t, err)

	_, _, err = f.svc.EnsureSignup(ctx, other.ID, other.PublicKeys[directory.ModeTest], directory.ModeTest, "user_1")
	assert.ErrorIs(t, err, ErrSubjectConflict)
}

func TestApplyStatusChangeLastWriteWins(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.EnsureSignup(ctx, f.ten.ID, f.key, directory.ModeTest, "user_1")
	require.NoError(t, err)

	end := time.Now().UTC().AddDate(0, 1, 0).Truncate(time.Second)
	require.NoError(t, f.svc.ApplyStatusChange(ctx, f.ten.ID, "user_1", StatusActive, end))

	sub, err := f.svc.Get(ctx, f.ten.ID, f.key, "user_1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Equal(t, end, sub.PeriodEnd)

	// A later, contradictory event still overwrites; no ordering checks.
	require.NoError(t, f.svc.ApplyStatusChange(ctx, f.ten.ID, "user_1", StatusCanceled, time.Time{}))
	sub, err = f.svc.Get(ctx, f.ten.ID, f.key, "user_1")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, sub.Status)
	assert.Equal(t, end, sub.PeriodEnd, "zero period end leaves the stored one intact")
}

func TestApplyStatusChangeUnknownSubject(t *testing.T) {
	f := newUsageFixture(t)

	err := f.svc.ApplyStatusChange(context.Background(), f.ten.ID, "ghost", StatusActive, time.Time{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyStatusChangeRejectsUnknownStatus(t *testing.T) {
	f := newUsageFixture(t)

	err := f.svc.ApplyStatusChange(context.Background(), f.ten.ID, "user_1", Status("paused"), time.Time{})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestIncrementDefaultsToOne(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.EnsureSignup(ctx, f.ten.ID, f.key, directory.ModeTest, "user_1")
	require.NoError(t, err)

	count, err := f.svc.Increment(ctx, f.ten.ID, f.key, "user_1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = f.svc.Increment(ctx, f.ten.ID, f.key, "user_1", 9)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}

func TestRecordCustomer(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.EnsureSignup(ctx, f.ten.ID, f.key, directory.ModeTest, "user_1")
	require.NoError(t, err)

	require.NoError(t, f.svc.RecordCustomer(ctx, f.ten.ID, "user_1", "cus_abc"))

	sub, err := f.svc.Get(ctx, f.ten.ID, f.key, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_abc", sub.CustomerID)

	assert.ErrorIs(t, f.svc.RecordCustomer(ctx, f.ten.ID, "ghost", "cus_x"), ErrNotFound)
}

func TestWipeRemovesOnlyTenantRows(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	other := directory.NewTenant("rival")
	require.NoError(t, f.dir.CreateTenant(ctx, other))
	otherKey := other.PublicKeys[directory.ModeTest]

	_, _, err := f.svc.EnsureSignup(ctx, f.ten.ID, f.key, directory.ModeTest, "user_1")
	require.NoError(t, err)
	_, _, err = f.svc.EnsureSignup(ctx, other.ID, otherKey, directory.ModeTest, "user_2")
	require.NoError(t, err)

	n, err := f.svc.Wipe(ctx, f.ten.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.svc.Get(ctx, f.ten.ID, f.key, "user_1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Get(ctx, other.ID, otherKey, "user_2")
	assert.NoError(t, err)
}

func TestListPagesThroughTenantRows(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, subject := range []string{"user_a", "user_b", "user_c", "user_d", "user_e"} {
		_, err := f.store.Insert(ctx, &Subscription{
			TenantID:  f.ten.ID,
			PublicKey: f.key,
			SubjectID: subject,
			Plan:      DefaultPlan,
			Status:    StatusNone,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	// Another tenant's rows must never appear.
	other := directory.NewTenant("rival")
	require.NoError(t, f.dir.CreateTenant(ctx, other))
	_, err := f.store.Insert(ctx, &Subscription{
		TenantID:  other.ID,
		PublicKey: other.PublicKeys[directory.ModeTest],
		SubjectID: "user_z",
		CreatedAt: base,
	})
	require.NoError(t, err)

	page1, cursor, hasMore, err := f.svc.List(ctx, f.ten.ID, 2, nil)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.True(t, hasMore)
	assert.Equal(t, "user_a", page1[0].SubjectID)
	assert.Equal(t, "user_b", page1[1].SubjectID)

	c, err := pagination.Decode(cursor)
	require.NoError(t, err)
	page2, cursor, hasMore, err := f.svc.List(ctx, f.ten.ID, 2, c)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.True(t, hasMore)
	assert.Equal(t, "user_c", page2[0].SubjectID)

	c, err = pagination.Decode(cursor)
	require.NoError(t, err)
	page3, _, hasMore, err := f.svc.List(ctx, f.ten.ID, 2, c)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.False(t, hasMore)
	assert.Equal(t, "user_e", page3[0].SubjectID)
}
