//go:build integration

package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plinthhq/plinth/internal/pagination"
	"github.com/plinthhq/plinth/internal/testutil"
)

func testSub(tenantID, publicKey, subjectID string) *Subscription {
	now := time.Now().UTC().Truncate(time.Microsecond)
	start, end := monthBounds(now)
	return &Subscription{
		TenantID:    tenantID,
		PublicKey:   publicKey,
		SubjectID:   subjectID,
		Plan:        DefaultPlan,
		Status:      StatusNone,
		PeriodStart: start,
		PeriodEnd:   end,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestPostgresInsertConflictTolerant(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	inserted, err := store.Insert(ctx, testSub("ten_a", "pk_test_a", "user_1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.Insert(ctx, testSub("ten_a", "pk_test_a", "user_1"))
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestPostgresStatusAndCustomer(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := store.Insert(ctx, testSub("ten_a", "pk_test_a", "user_1"))
	require.NoError(t, err)

	end := time.Now().UTC().AddDate(0, 1, 0).Truncate(time.Microsecond)
	n, err := store.UpdateStatus(ctx, "ten_a", "user_1", StatusActive, end)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.SetCustomer(ctx, "ten_a", "user_1", "cus_abc"))

	sub, err := store.Get(ctx, "ten_a", "pk_test_a", "user_1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Equal(t, "cus_abc", sub.CustomerID)
	assert.WithinDuration(t, end, sub.PeriodEnd, time.Millisecond)

	n, err = store.UpdateStatus(ctx, "ten_a", "ghost", StatusCanceled, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPostgresIncrementAndWipe(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := store.Insert(ctx, testSub("ten_a", "pk_test_a", "user_1"))
	require.NoError(t, err)
	_, err = store.Insert(ctx, testSub("ten_b", "pk_test_b", "user_2"))
	require.NoError(t, err)

	count, err := store.Increment(ctx, "ten_a", "pk_test_a", "user_1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	_, err = store.Increment(ctx, "ten_a", "pk_test_a", "ghost", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	tenant, found, err := store.SubjectTenant(ctx, "user_2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ten_b", tenant)

	n, err := store.DeleteTenant(ctx, "ten_a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, "ten_a", "pk_test_a", "user_1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "ten_b", "pk_test_b", "user_2")
	assert.NoError(t, err)
}

func TestPostgresListByTenant(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, subject := range []string{"user_a", "user_b", "user_c"} {
		sub := testSub("ten_a", "pk_test_a", subject)
		sub.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, err := store.Insert(ctx, sub)
		require.NoError(t, err)
	}
	_, err := store.Insert(ctx, testSub("ten_b", "pk_test_b", "user_z"))
	require.NoError(t, err)

	// limit+1 fetch semantics: asking for 2 returns at most 3 rows.
	rows, err := store.ListByTenant(ctx, "ten_a", 2, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "user_a", rows[0].SubjectID)

	rows, err = store.ListByTenant(ctx, "ten_a", 2, &pagination.Cursor{
		CreatedAt: rows[1].CreatedAt, ID: rows[1].SubjectID,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "user_c", rows[0].SubjectID)
}
