package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process session store. It backs tests and local
// development when no Redis is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]State
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]State)}
}

func (s *MemoryStore) Create(ctx context.Context, state State) (string, error) {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = state.Clone()
	return token, nil
}

func (s *MemoryStore) Get(ctx context.Context, token string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	// Deep copy so callers cannot mutate stored state in place.
	copied := state.Clone()
	return &copied, nil
}

func (s *MemoryStore) Set(ctx context.Context, token string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = state.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}
