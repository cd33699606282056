// Package kv abstracts the shared key-value store holding device sessions,
// presence marks, typing keys and sync locks. Production nodes share a Redis
// instance; single-node deployments and tests use the in-process store.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal contract the session registry and gateway need.
// TTL zero means no expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets the key only when absent; reports whether it was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Del removes keys and reports how many existed.
	Del(ctx context.Context, keys ...string) (int, error)
	// Expire renews the TTL; reports whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Keys returns the keys matching a glob pattern (e.g. "session:*").
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}
