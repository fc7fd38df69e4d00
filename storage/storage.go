// Package storage is the local persistent key-value store the search indexes
// are saved to. Values are opaque bytes keyed by string.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

var (
	ErrNotFound       = errors.New("storage: key not found")
	ErrClosed         = errors.New("storage: store closed")
	ErrUnknownBackend = errors.New("storage: unknown backend")
)

// Store is a string keyed blob store.
type Store interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
	Close() error
}

const (
	BackendPebble = "pebble"
	BackendSQLite = "sqlite"
)

// Config selects and locates a backend.
type Config struct {
	Backend  string // "pebble" (default) or "sqlite"
	Dir      string
	InMemory bool // pebble only
}

// Open opens the configured backend under cfg.Dir.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendPebble:
		return OpenPebble(filepath.Join(cfg.Dir, "index.pebble"), PebbleOptions{InMemory: cfg.InMemory})
	case BackendSQLite:
		return OpenSQLite(filepath.Join(cfg.Dir, "index.db"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
