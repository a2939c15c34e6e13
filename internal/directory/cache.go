package directory

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how stale a hot-path key resolution may be.
const DefaultCacheTTL = 30 * time.Second

// CachedResolver decorates a Store with an in-process TTL cache over
// ResolveByPublicKey. Misses and errors are never cached, and
// DeleteTenant drops the tenant's keys synchronously, so a deleted row
// is observed no later than the TTL and immediately on the node that
// performed the delete.
type CachedResolver struct {
	Store

	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	tenantID  string
	expiresAt time.Time
}

// NewCachedResolver wraps a store with the default TTL.
func NewCachedResolver(inner Store) *CachedResolver {
	return &CachedResolver{
		Store:   inner,
		ttl:     DefaultCacheTTL,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedResolver) ResolveByPublicKey(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.tenantID, nil
	}

	id, err := c.Store.ResolveByPublicKey(ctx, key)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{tenantID: id, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return id, nil
}

func (c *CachedResolver) DeleteTenant(ctx context.Context, tenantID string) error {
	// Need the key list before the row disappears.
	t, err := c.Store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := c.Store.DeleteTenant(ctx, tenantID); err != nil {
		return err
	}

	c.mu.Lock()
	for _, k := range t.PublicKeys {
		delete(c.entries, k)
	}
	c.mu.Unlock()
	return nil
}
