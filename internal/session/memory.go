package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	s       Session
	expires time.Time
}

// MemoryStore keeps sessions in process.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	busy     map[string]time.Time
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		busy:     make(map[string]time.Time),
		now:      time.Now,
	}
}

func (m *MemoryStore) Save(_ context.Context, s *Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = memoryEntry{s: *s, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !m.now().Before(e.expires) {
		delete(m.sessions, id)
		return nil, ErrSessionExpired
	}
	s := e.s
	return &s, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.busy, id)
	return nil
}

func (m *MemoryStore) Acquire(_ context.Context, id string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if until, held := m.busy[id]; held && now.Before(until) {
		return false, nil
	}
	m.busy[id] = now.Add(ttl)
	return true, nil
}

func (m *MemoryStore) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.busy, id)
	return nil
}
