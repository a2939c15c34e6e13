// Package kv provides the low-latency key-value storage used by the
// tenant directory, OAuth state tokens, and per-tenant credential
// namespaces. Production runs on Redis; tests and single-node dev use
// the in-memory implementation.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached.
// Callers may retry.
var ErrUnavailable = errors.New("kv: store unavailable")

// Store is a minimal key-value contract. A zero ttl means no expiry.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes only if the key is absent. Returns true if the write won.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// GetDel reads and deletes atomically. Used for single-consumption tokens.
	GetDel(ctx context.Context, key string) (value string, ok bool, err error)
	Del(ctx context.Context, key string) error
}
