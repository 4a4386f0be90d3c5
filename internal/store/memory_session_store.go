package store

import (
	"context"
	"sync"
	"time"

	"github.com/devrev/botforge/internal/model"
)

// MemorySessionStore implements SessionStore in process memory
type MemorySessionStore struct {
	mu      sync.Mutex
	entries map[string]memorySession
	now     func() time.Time
}

type memorySession struct {
	input     model.PendingInput
	expiresAt time.Time
}

// NewMemorySessionStore creates an empty session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		entries: make(map[string]memorySession),
		now:     time.Now,
	}
}

func (s *MemorySessionStore) Put(ctx context.Context, key string, input *model.PendingInput, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memorySession{input: *input, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemorySessionStore) Take(ctx context.Context, key string) (*model.PendingInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, key)
	if s.now().After(e.expiresAt) {
		return nil, ErrNotFound
	}
	input := e.input
	return &input, nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemorySessionStore) Ping(ctx context.Context) error { return nil }

func (s *MemorySessionStore) Close() error { return nil }
