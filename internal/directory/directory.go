// Package directory is the shared tenant registry: tenant id → credential
// namespace handle, and public API key → tenant id. It holds no secrets.
package directory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/plinthhq/plinth/internal/idgen"
)

// Errors
var (
	ErrTenantNotFound = errors.New("directory: tenant not found")
	ErrKeyNotFound    = errors.New("directory: public key not found")
	ErrNoNamespace    = errors.New("directory: no namespace assigned")
	// ErrHandleExists is returned when a second, different handle is
	// offered for a tenant. The mapping is write-once.
	ErrHandleExists = errors.New("directory: namespace handle already assigned")
	ErrTenantExists = errors.New("directory: tenant already exists")
)

// Mode is the environment dimension on keys, credentials, and tier
// configuration.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeTest || m == ModeLive
}

// ParseMode normalizes a mode string, defaulting empty to test.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeTest):
		return ModeTest, nil
	case string(ModeLive):
		return ModeLive, nil
	}
	return "", fmt.Errorf("directory: unknown mode %q", s)
}

// Public key prefixes, one per mode.
const (
	publicKeyTestPrefix = "pk_test_"
	publicKeyLivePrefix = "pk_live_"
)

// NewPublicKey mints a public API key for a mode.
func NewPublicKey(mode Mode) string {
	if mode == ModeLive {
		return publicKeyLivePrefix + idgen.Hex(16)
	}
	return publicKeyTestPrefix + idgen.Hex(16)
}

// ModeFromPublicKey derives the environment mode from a key's prefix.
func ModeFromPublicKey(key string) (Mode, error) {
	switch {
	case strings.HasPrefix(key, publicKeyTestPrefix):
		return ModeTest, nil
	case strings.HasPrefix(key, publicKeyLivePrefix):
		return ModeLive, nil
	}
	return "", ErrKeyNotFound
}

// Tenant is a registered platform customer. The namespace handle lives
// in its own write-once mapping, not on this record.
type Tenant struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	PublicKeys map[Mode]string `json:"publicKeys"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// NewTenant creates a tenant with freshly minted keys for both modes.
func NewTenant(name string) *Tenant {
	return &Tenant{
		ID:   idgen.WithPrefix("ten_"),
		Name: name,
		PublicKeys: map[Mode]string{
			ModeTest: NewPublicKey(ModeTest),
			ModeLive: NewPublicKey(ModeLive),
		},
		CreatedAt: time.Now(),
	}
}
