package storage

import (
	"context"
	"sort"
	"sync"
)

type InmemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte

	// stop will be closed when Close() is called
	stop     chan struct{}
	stopOnce sync.Once
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values: make(map[string][]byte),
		stop:   make(chan struct{}),
	}
}

func (i *InmemoryStore) Close() error {
	i.stopOnce.Do(func() {
		close(i.stop)
	})

	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	value, ok := i.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	out := make([]byte, len(value))
	copy(out, value)

	return out, nil
}

func (i *InmemoryStore) Put(ctx context.Context, key string, value []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	buf := make([]byte, len(value))
	copy(buf, value)
	i.values[key] = buf

	return nil
}

func (i *InmemoryStore) Delete(ctx context.Context, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.values[key]; !ok {
		return ErrKeyNotFound
	}

	delete(i.values, key)
	return nil
}

func (i *InmemoryStore) Entries(ctx context.Context) ([]Entry, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	entries := make([]Entry, 0, len(i.values))
	for key, value := range i.values {
		buf := make([]byte, len(value))
		copy(buf, value)
		entries = append(entries, Entry{Key: key, Value: buf})
	}

	sort.Slice(entries, func(a, b int) bool {
		return entries[a].Key < entries[b].Key
	})

	return entries, nil
}

var _ Store = (*InmemoryStore)(nil)
