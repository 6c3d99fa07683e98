package storage

import (
	"context"
	"errors"
)

var ErrKeyNotFound = errors.New("key not found")

// Entry is one key/value pair of a store snapshot.
type Entry struct {
	Key   string
	Value []byte
}

// Store is a generic byte-store: opaque values keyed by strings, with
// at most last-writer-wins consistency per key and no cross-key
// transactionality. Entity databases are layered on top of it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes a key, reporting ErrKeyNotFound if it is absent.
	Delete(ctx context.Context, key string) error

	// Entries returns a point-in-time snapshot of the store, sorted
	// by key.
	Entries(ctx context.Context) ([]Entry, error)

	Close() error
}
