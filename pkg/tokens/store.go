package tokens

import (
	"context"
	"sync"
	"time"
)

// Store persists the single current Token. Implementations must return
// ErrNoToken from Get when nothing is stored.
type Store interface {
	// Get returns the stored token, or ErrNoToken.
	Get(ctx context.Context) (*Token, error)

	// Save replaces the stored token.
	Save(ctx context.Context, token *Token) error

	// Clear removes the stored token entirely.
	Clear(ctx context.Context) error
}

// MemoryStore is an in-process Store. It is intended for tests and
// single-process tooling; it does not survive restarts and is not shared
// across instances.
type MemoryStore struct {
	mu    sync.RWMutex
	token *Token
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == nil {
		return nil, ErrNoToken
	}
	return s.token.Clone(), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := token.Clone()
	if saved != nil && saved.UpdatedAt.IsZero() {
		saved.UpdatedAt = time.Now()
	}
	s.token = saved
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = nil
	return nil
}
