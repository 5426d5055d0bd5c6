// Package store provides the local key-value store backing the session
// cache. The agent persists a single record under one well-known key, so
// the interface is deliberately minimal: get, put, delete by key.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("store: key not found")
	ErrDecrypt  = errors.New("store: cannot decrypt value")
)

// KV is the storage capability the session cache is built on. Implementations
// must be safe for concurrent use.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
