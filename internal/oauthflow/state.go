package oauthflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/plinthhq/plinth/internal/directory"
	"github.com/plinthhq/plinth/internal/kv"
)

const stateKeyPrefix = "oauth:state:"

// State is the ephemeral anti-forgery record bound to one redirect.
type State struct {
	Provider string         `json:"provider"`
	TenantID string         `json:"tenantId"`
	Mode     directory.Mode `json:"mode"`
}

// StateStore persists state tokens with a hard TTL and read-once
// consumption semantics.
type StateStore struct {
	kv kv.Store
}

// NewStateStore creates a state store over a kv.Store.
func NewStateStore(store kv.Store) *StateStore {
	return &StateStore{kv: store}
}

// Put records the state under the token for StateTTL.
func (s *StateStore) Put(ctx context.Context, token string, st *State) error {
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("oauthflow: marshal state: %w", err)
	}
	return s.kv.Set(ctx, stateKeyPrefix+token, string(blob), StateTTL)
}

// Take consumes the state token atomically. A second Take for the same
// token reports absence regardless of TTL.
func (s *StateStore) Take(ctx context.Context, token string) (*State, bool, error) {
	blob, ok, err := s.kv.GetDel(ctx, stateKeyPrefix+token)
	if err != nil || !ok {
		return nil, false, err
	}
	var st State
	if err := json.Unmarshal([]byte(blob), &st); err != nil {
		return nil, false, fmt.Errorf("oauthflow: unmarshal state: %w", err)
	}
	return &st, true, nil
}
