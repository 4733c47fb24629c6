package profile

import (
	"context"
	"fmt"
	"sync"
)

var _ Repository = (*MemoryStore)(nil)

// MemoryStore is a process-local [Repository]. Appends to one profile are
// serialized by that profile's own lock; different profiles proceed in
// parallel.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*memEntry
}

type memEntry struct {
	mu sync.Mutex
	p  *Profile
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*memEntry)}
}

// Create implements [Repository].
func (s *MemoryStore) Create(_ context.Context, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.UserID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, p.UserID)
	}
	s.profiles[p.UserID] = &memEntry{p: p.Clone()}
	return nil
}

// Load implements [Repository].
func (s *MemoryStore) Load(_ context.Context, userID string) (*Profile, error) {
	e, err := s.entry(userID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Clone(), nil
}

// AppendVersion implements [Repository].
func (s *MemoryStore) AppendVersion(ctx context.Context, userID string, expectLast int64, v Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := s.entry(userID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := CheckAppend(e.p, expectLast, v); err != nil {
		return err
	}
	v.Embedding = append([]float32(nil), v.Embedding...)
	e.p.Versions = append(e.p.Versions, v)
	return nil
}

// Ping implements [Repository]. It always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements [Repository]. It is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored profiles.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

func (s *MemoryStore) entry(userID string) (*memEntry, error) {
	s.mu.RLock()
	e, ok := s.profiles[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return e, nil
}
