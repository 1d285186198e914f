package kvstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryStore is an in-process Store used for local development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string]memoryEntry
	clock func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore. A nil clock defaults to time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{data: make(map[string]memoryEntry), clock: clock}
}

func (s *MemoryStore) lookupLocked(key string) ([]byte, bool) {
	entry, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if !entry.expires.IsZero() && !s.clock().Before(entry.expires) {
		delete(s.data, key)
		return nil, false
	}
	return append([]byte(nil), entry.value...), true
}

func (s *MemoryStore) storeLocked(key string, value []byte, ttl time.Duration) {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expires = s.clock().Add(ttl)
	}
	s.data[key] = entry
}

// Get returns the stored value.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.lookupLocked(key)
	if !ok {
		return nil, notFoundError("get")
	}
	return value, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeLocked(key, value, ttl)
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Update applies fn while holding the store lock.
func (s *MemoryStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	if fn == nil {
		return errors.New("kvstore: update function is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.lookupLocked(key)
	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	if next == nil {
		delete(s.data, key)
		return nil
	}
	s.storeLocked(key, next, ttl)
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

var _ Store = (*MemoryStore)(nil)
