package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/plinthhq/plinth/internal/kv"
)

// Key layout in the shared directory store.
const (
	tenantKeyPrefix = "dir:tenant:"
	pubKeyPrefix    = "dir:pk:"
	handleKeyPrefix = "dir:ns:"
)

// KVStore is the production registry, backed by a low-latency
// key-value store (Redis in deployment).
type KVStore struct {
	kv kv.Store
}

// NewKVStore creates a registry on top of a kv.Store.
func NewKVStore(store kv.Store) *KVStore {
	return &KVStore{kv: store}
}

func (s *KVStore) CreateTenant(ctx context.Context, t *Tenant) error {
	blob, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("directory: marshal tenant: %w", err)
	}
	won, err := s.kv.SetNX(ctx, tenantKeyPrefix+t.ID, string(blob), 0)
	if err != nil {
		return err
	}
	if !won {
		return ErrTenantExists
	}
	for _, k := range t.PublicKeys {
		if err := s.kv.Set(ctx, pubKeyPrefix+k, t.ID, 0); err != nil {
			return err
		}
	}
	return nil
}

func (s *KVStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	blob, ok, err := s.kv.Get(ctx, tenantKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTenantNotFound
	}
	var t Tenant
	if err := json.Unmarshal([]byte(blob), &t); err != nil {
		return nil, fmt.Errorf("directory: unmarshal tenant %s: %w", id, err)
	}
	return &t, nil
}

func (s *KVStore) ResolveByPublicKey(ctx context.Context, key string) (string, error) {
	id, ok, err := s.kv.Get(ctx, pubKeyPrefix+key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrKeyNotFound
	}
	return id, nil
}

func (s *KVStore) GetNamespaceHandle(ctx context.Context, tenantID string) (string, error) {
	h, ok, err := s.kv.Get(ctx, handleKeyPrefix+tenantID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoNamespace
	}
	return h, nil
}

func (s *KVStore) SetNamespaceHandle(ctx context.Context, tenantID, handle string) error {
	won, err := s.kv.SetNX(ctx, handleKeyPrefix+tenantID, handle, 0)
	if err != nil {
		return err
	}
	if won {
		return nil
	}
	existing, ok, err := s.kv.Get(ctx, handleKeyPrefix+tenantID)
	if err != nil {
		return err
	}
	if ok && existing == handle {
		return nil
	}
	return ErrHandleExists
}

func (s *KVStore) DeleteTenant(ctx context.Context, tenantID string) error {
	t, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, k := range t.PublicKeys {
		if err := s.kv.Del(ctx, pubKeyPrefix+k); err != nil {
			return err
		}
	}
	if err := s.kv.Del(ctx, handleKeyPrefix+tenantID); err != nil {
		return err
	}
	return s.kv.Del(ctx, tenantKeyPrefix+tenantID)
}
