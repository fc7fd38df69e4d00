package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// PebbleOptions tune OpenPebble.
type PebbleOptions struct {
	InMemory bool
}

// PebbleStore keeps blobs in a pebble database.
type PebbleStore struct {
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
}

// OpenPebble opens or creates a pebble database at dir.
func OpenPebble(dir string, opts PebbleOptions) (*PebbleStore, error) {
	pebbleOpts := pebble.Options{}
	if opts.InMemory {
		pebbleOpts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, &pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("storage: open pebble %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	value, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *PebbleStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("storage: set %s: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
