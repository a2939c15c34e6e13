// Package tiers resolves a tenant's named pricing plans to concrete
// payment-provider price identifiers. Configuration is one atomically
// replaced JSON blob per (tenant, mode), stored inside the tenant's
// credential namespace.
package tiers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/plinthhq/plinth/internal/directory"
	"github.com/plinthhq/plinth/internal/vault"
)

// Errors
var (
	// ErrNotConfigured means the tenant has no tier configuration for
	// the requested mode: setup is incomplete.
	ErrNotConfigured = errors.New("tiers: not configured")
	// ErrTierNotFound means the configuration exists but the caller
	// asked for a tier name that is not in it.
	ErrTierNotFound = errors.New("tiers: tier not found")
	// ErrNoPrice means the tier exists but carries no price id (e.g. a
	// free tier), so it cannot be checked out.
	ErrNoPrice = errors.New("tiers: tier has no price")
	// ErrInvalidConfig rejects malformed configuration blobs on write.
	ErrInvalidConfig = errors.New("tiers: invalid config")
)

// DefaultTierName is substituted only when the caller omits the tier
// argument entirely, never for an unrecognized name.
const DefaultTierName = "pro"

// Tier is one named plan.
type Tier struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	PriceID     string `json:"priceId,omitempty"`
	UsageLimit  int64  `json:"usageLimit,omitempty"`
	Popular     bool   `json:"popular,omitempty"`
}

// Config is the per-(tenant, mode) tier configuration blob.
type Config struct {
	Tiers     []Tier `json:"tiers"`
	TrialDays int64  `json:"trialDays,omitempty"`
}

// Find returns the named tier, if present.
func (c *Config) Find(name string) (*Tier, bool) {
	for i := range c.Tiers {
		if c.Tiers[i].Name == name {
			return &c.Tiers[i], true
		}
	}
	return nil, false
}

// Validate rejects blobs that could not be resolved deterministically.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("%w: needs at least one tier", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Tiers))
	for _, t := range c.Tiers {
		if t.Name == "" {
			return fmt.Errorf("%w: tier name required", ErrInvalidConfig)
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate tier %q", ErrInvalidConfig, t.Name)
		}
		seen[t.Name] = true
	}
	if c.TrialDays < 0 {
		return fmt.Errorf("%w: trialDays must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ConfigKey names the blob slot for a mode inside a namespace.
func ConfigKey(mode directory.Mode) string {
	return "tiers:" + string(mode)
}

// Service reads and writes tier configuration.
type Service struct {
	dir   directory.Store
	vault *vault.Vault
}

// NewService creates a tier service.
func NewService(dir directory.Store, v *vault.Vault) *Service {
	return &Service{dir: dir, vault: v}
}

// SaveConfig atomically replaces the tenant's tier configuration for a
// mode. This is the one path allowed to create the namespace lazily.
func (s *Service) SaveConfig(ctx context.Context, tenantID string, mode directory.Mode, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	handle, err := s.vault.CreateNamespace(ctx, tenantID)
	if err != nil {
		return err
	}

	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("tiers: marshal config: %w", err)
	}
	return s.vault.Write(ctx, handle, ConfigKey(mode), string(blob))
}

// Get returns the configuration for (tenant, mode), or ErrNotConfigured.
func (s *Service) Get(ctx context.Context, tenantID string, mode directory.Mode) (*Config, error) {
	handle, err := s.dir.GetNamespaceHandle(ctx, tenantID)
	if err != nil {
		if errors.Is(err, directory.ErrNoNamespace) {
			return nil, ErrNotConfigured
		}
		return nil, err
	}

	blob, ok, err := s.vault.Read(ctx, vault.Handle(handle), ConfigKey(mode))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotConfigured
	}

	var cfg Config
	if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
		return nil, fmt.Errorf("tiers: unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Resolve maps (tenant, mode, tierName) to a price id. An empty
// tierName selects DefaultTierName.
func (s *Service) Resolve(ctx context.Context, tenantID string, mode directory.Mode, tierName string) (string, error) {
	cfg, err := s.Get(ctx, tenantID, mode)
	if err != nil {
		return "", err
	}

	if tierName == "" {
		tierName = DefaultTierName
	}
	tier, ok := cfg.Find(tierName)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTierNotFound, tierName)
	}
	if tier.PriceID == "" {
		return "", fmt.Errorf("%w: %q", ErrNoPrice, tierName)
	}
	return tier.PriceID, nil
}
