package directory

import "context"

// Store persists the tenant registry. Read-heavy: ResolveByPublicKey is
// on the hot path of every authenticated request and should sit behind
// the caching decorator in production.
type Store interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)

	// ResolveByPublicKey maps a public API key to its tenant id.
	ResolveByPublicKey(ctx context.Context, key string) (string, error)

	// GetNamespaceHandle returns the tenant's credential-namespace
	// handle, or ErrNoNamespace if one was never assigned.
	GetNamespaceHandle(ctx context.Context, tenantID string) (string, error)

	// SetNamespaceHandle records the handle with first-writer-wins
	// semantics. Re-offering the winning handle is a no-op; offering a
	// different one returns ErrHandleExists.
	SetNamespaceHandle(ctx context.Context, tenantID, handle string) error

	// DeleteTenant removes the tenant, its key index entries, and its
	// handle mapping (offboarding).
	DeleteTenant(ctx context.Context, tenantID string) error
}
