package assignment

import (
	"context"
	"sync"
)

// MemoryStore is an in-process assignment.Store, serializing joins per
// session with a mutex map — spec.md §5/§9's single-node lock primitive.
type MemoryStore struct {
	locks *inMemoryLocks

	mu           sync.Mutex
	participants map[string][]Participant // session_id -> participants
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:        newInMemoryLocks(),
		participants: make(map[string][]Participant),
	}
}

// WithSessionLock implements Store.
func (s *MemoryStore) WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	return s.locks.WithLock(sessionID, func() error {
		return fn(ctx)
	})
}

// FindActiveParticipant implements Store.
func (s *MemoryStore) FindActiveParticipant(_ context.Context, sessionID, userID string) (*Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants[sessionID] {
		if p.UserID == userID && p.IsActive {
			found := p
			return &found, true, nil
		}
	}
	return nil, false, nil
}

// CountActiveParticipants implements Store.
func (s *MemoryStore) CountActiveParticipants(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, p := range s.participants[sessionID] {
		if p.IsActive && p.Side != nil {
			count++
		}
	}
	return count, nil
}

// InsertParticipant implements Store.
func (s *MemoryStore) InsertParticipant(_ context.Context, p Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.SessionID] = append(s.participants[p.SessionID], p)
	return nil
}
