// Package vault is the isolated credential store. Every tenant gets one
// exclusively-owned namespace, addressed only by an unguessable handle
// obtained from the directory. No code path reads a secret from a bare
// tenant id, and no enumeration across namespaces is exposed.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/plinthhq/plinth/internal/directory"
	"github.com/plinthhq/plinth/internal/idgen"
	"github.com/plinthhq/plinth/internal/kv"
)

// ErrProvisionFailed indicates the namespace could not be created on
// the backing storage platform. Retryable; no directory entry is
// recorded until provisioning succeeds.
var ErrProvisionFailed = errors.New("vault: namespace provisioning failed")

// Handle addresses exactly one tenant namespace. Opaque and
// unguessable; holding one is the only way to read that namespace.
type Handle string

// Credential is the secret payload written after a successful OAuth
// exchange. Overwritten in place on re-authorization.
type Credential struct {
	AccessToken string `json:"accessToken"`
	// AccountID is the provider-side connected-account identifier,
	// when the provider has one (e.g. an acct_ id).
	AccountID string `json:"accountId,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Livemode  bool   `json:"livemode,omitempty"`
}

// CredentialKey names the slot for a (provider, mode) credential inside
// a namespace.
func CredentialKey(provider string, mode directory.Mode) string {
	return "cred:" + provider + ":" + string(mode)
}

// Vault provisions and accesses per-tenant namespaces. Namespace
// creation is the only operation that touches the directory; reads and
// writes go straight to storage via the handle.
type Vault struct {
	kv  kv.Store
	dir directory.Store
}

// New creates a vault over the given storage and directory.
func New(store kv.Store, dir directory.Store) *Vault {
	return &Vault{kv: store, dir: dir}
}

// CreateNamespace returns the tenant's namespace handle, provisioning
// one if none exists. Idempotent: concurrent duplicate calls converge
// on a single namespace via the directory's conditional write; the
// loser discards its orphan and adopts the winner's handle.
func (v *Vault) CreateNamespace(ctx context.Context, tenantID string) (Handle, error) {
	if h, err := v.dir.GetNamespaceHandle(ctx, tenantID); err == nil {
		return Handle(h), nil
	} else if !errors.Is(err, directory.ErrNoNamespace) {
		return "", err
	}

	handle := Handle(idgen.WithPrefix("ns_"))

	// Provision first. The directory mapping is recorded only after
	// this succeeds, so a failure here never leaves a dangling entry.
	if err := v.kv.Set(ctx, v.metaKey(handle), tenantID, 0); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvisionFailed, err)
	}

	if err := v.dir.SetNamespaceHandle(ctx, tenantID, string(handle)); err != nil {
		if errors.Is(err, directory.ErrHandleExists) {
			_ = v.kv.Del(ctx, v.metaKey(handle))
			winner, gerr := v.dir.GetNamespaceHandle(ctx, tenantID)
			if gerr != nil {
				return "", gerr
			}
			return Handle(winner), nil
		}
		return "", err
	}
	return handle, nil
}

// Write stores a value inside the namespace. Whole-value replace.
func (v *Vault) Write(ctx context.Context, h Handle, key, value string) error {
	if h == "" {
		return errors.New("vault: empty namespace handle")
	}
	return v.kv.Set(ctx, v.dataKey(h, key), value, 0)
}

// Read fetches a value from the namespace.
func (v *Vault) Read(ctx context.Context, h Handle, key string) (string, bool, error) {
	if h == "" {
		return "", false, errors.New("vault: empty namespace handle")
	}
	return v.kv.Get(ctx, v.dataKey(h, key))
}

// WriteCredential serializes and stores a provider credential.
func (v *Vault) WriteCredential(ctx context.Context, h Handle, provider string, mode directory.Mode, cred *Credential) error {
	blob, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("vault: marshal credential: %w", err)
	}
	return v.Write(ctx, h, CredentialKey(provider, mode), string(blob))
}

// ReadCredential fetches a provider credential, reporting absence
// without error.
func (v *Vault) ReadCredential(ctx context.Context, h Handle, provider string, mode directory.Mode) (*Credential, bool, error) {
	blob, ok, err := v.Read(ctx, h, CredentialKey(provider, mode))
	if err != nil || !ok {
		return nil, false, err
	}
	var cred Credential
	if err := json.Unmarshal([]byte(blob), &cred); err != nil {
		return nil, false, fmt.Errorf("vault: unmarshal credential: %w", err)
	}
	return &cred, true, nil
}

// Destroy removes the namespace marker plus the given data keys. Used
// by tenant data wipe; the caller supplies the key list because the
// store deliberately has no enumeration.
func (v *Vault) Destroy(ctx context.Context, h Handle, keys ...string) error {
	if h == "" {
		return nil
	}
	for _, k := range keys {
		if err := v.kv.Del(ctx, v.dataKey(h, k)); err != nil {
			return err
		}
	}
	return v.kv.Del(ctx, v.metaKey(h))
}

func (v *Vault) dataKey(h Handle, key string) string {
	return "ns:" + string(h) + ":" + key
}

func (v *Vault) metaKey(h Handle) string {
	return "ns:" + string(h) + ":.tenant"
}
