package directory

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory registry for tests and development.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	keys    map[string]string // public key → tenant ID
	handles map[string]string // tenant ID → namespace handle
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]*Tenant),
		keys:    make(map[string]string),
		handles: make(map[string]string),
	}
}

func (m *MemoryStore) CreateTenant(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tenants[t.ID]; exists {
		return ErrTenantExists
	}
	cp := *t
	m.tenants[t.ID] = &cp
	for _, k := range t.PublicKeys {
		m.keys[k] = t.ID
	}
	return nil
}

func (m *MemoryStore) GetTenant(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ResolveByPublicKey(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.keys[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return id, nil
}

func (m *MemoryStore) GetNamespaceHandle(_ context.Context, tenantID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.handles[tenantID]
	if !ok {
		return "", ErrNoNamespace
	}
	return h, nil
}

func (m *MemoryStore) SetNamespaceHandle(_ context.Context, tenantID, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.handles[tenantID]; ok {
		if existing == handle {
			return nil
		}
		return ErrHandleExists
	}
	m.handles[tenantID] = handle
	return nil
}

func (m *MemoryStore) DeleteTenant(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[tenantID]
	if !ok {
		return ErrTenantNotFound
	}
	for _, k := range t.PublicKeys {
		delete(m.keys, k)
	}
	delete(m.handles, tenantID)
	delete(m.tenants, tenantID)
	return nil
}
