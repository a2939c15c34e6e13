package tiers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plinthhq/plinth/internal/directory"
	"github.com/plinthhq/plinth/internal/kv"
	"github.com/plinthhq/plinth/internal/vault"
)

func newTestService() (*Service, *directory.MemoryStore) {
	dir := directory.NewMemoryStore()
	v := vault.New(kv.NewMemory(), dir)
	return NewService(dir, v), dir
}

func testConfig() *Config {
	return &Config{
		Tiers: []Tier{
			{Name: "free", UsageLimit: 5},
			{Name: "pro", DisplayName: "Pro", PriceID: "price_abc", UsageLimit: 1000, Popular: true},
		},
	}
}

func TestResolve_Deterministic(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	require.NoError(t, svc.SaveConfig(ctx, "ten_a", directory.ModeTest, testConfig()))

	p1, err := svc.Resolve(ctx, "ten_a", directory.ModeTest, "pro")
	require.NoError(t, err)
	p2, err := svc.Resolve(ctx, "ten_a", directory.ModeTest, "pro")
	require.NoError(t, err)
	assert.Equal(t, "price_abc", p1)
	assert.Equal(t, p1, p2)
}

func TestResolve_NotConfigured(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	_, err := svc.Resolve(ctx, "ten_nobody", directory.ModeTest, "pro")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestResolve_ModeScoped(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	// Config exists in test mode only.
	require.NoError(t, svc.SaveConfig(ctx, "ten_a", directory.ModeTest, testConfig()))

	_, err := svc.Resolve(ctx, "ten_a", directory.ModeLive, "pro")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestResolve_UnknownTierIsNotDefaulted(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	require.NoError(t, svc.SaveConfig(ctx, "ten_a", directory.ModeTest, testConfig()))

	_, err := svc.Resolve(ctx, "ten_a", directory.ModeTest, "enterprise")
	assert.ErrorIs(t, err, ErrTierNotFound)
}

func TestResolve_EmptyTierUsesDefault(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	require.NoError(t, svc.SaveConfig(ctx, "ten_a", directory.ModeTest, testConfig()))

	priceID, err := svc.Resolve(ctx, "ten_a", directory.ModeTest, "")
	require.NoError(t, err)
	assert.Equal(t, "price_abc", priceID)
}

func TestResolve_FreeTierHasNoPrice(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	require.NoError(t, svc.SaveConfig(ctx, "ten_a", directory.ModeTest, testConfig()))

	_, err := svc.Resolve(ctx, "ten_a", directory.ModeTest, "free")
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestSaveConfig_AtomicReplace(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	require.NoError(t, svc.SaveConfig(ctx, "ten_a", directory.ModeTest, testConfig()))

	// A full replacement drops tiers absent from the new blob.
	replacement := &Config{Tiers: []Tier{{Name: "pro", PriceID: "price_new"}}}
	require.NoError(t, svc.SaveConfig(ctx, "ten_a", directory.ModeTest, replacement))

	cfg, err := svc.Get(ctx, "ten_a", directory.ModeTest)
	require.NoError(t, err)
	require.Len(t, cfg.Tiers, 1)
	assert.Equal(t, "price_new", cfg.Tiers[0].PriceID)

	_, err = svc.Resolve(ctx, "ten_a", directory.ModeTest, "free")
	assert.ErrorIs(t, err, ErrTierNotFound)
}

func TestSaveConfig_CreatesNamespaceLazily(t *testing.T) {
	ctx := context.Background()
	svc, dir := newTestService()

	_, err := dir.GetNamespaceHandle(ctx, "ten_a")
	require.ErrorIs(t, err, directory.ErrNoNamespace)

	require.NoError(t, svc.SaveConfig(ctx, "ten_a", directory.ModeTest, testConfig()))

	h, err := dir.GetNamespaceHandle(ctx, "ten_a")
	require.NoError(t, err)
	assert.NotEmpty(t, h)
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorIs(t, (&Config{}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{Tiers: []Tier{{Name: ""}}}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{Tiers: []Tier{{Name: "a"}, {Name: "a"}}}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{Tiers: []Tier{{Name: "a"}}, TrialDays: -1}).Validate(), ErrInvalidConfig)
	assert.NoError(t, testConfig().Validate())
}
