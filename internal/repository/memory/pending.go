package memory

import (
	"context"
	"sync"
	"time"

	"bank-service/internal/models"
	"bank-service/internal/repository"
)

type pendingEntry struct {
	p       models.PendingTransaction
	expires time.Time
}

// PendingStore holds flagged operations in process memory. Each session has
// at most one pending operation; a newer one replaces it.
type PendingStore struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
	now     func() time.Time
}

var _ repository.PendingStore = (*PendingStore)(nil)

func NewPendingStore() *PendingStore {
	return &PendingStore{entries: make(map[string]pendingEntry), now: time.Now}
}

func (s *PendingStore) PutPending(ctx context.Context, p *models.PendingTransaction, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	s.entries[p.SessionID] = pendingEntry{p: *p, expires: s.now().Add(ttl)}
	return nil
}

func (s *PendingStore) TakePending(ctx context.Context, sessionID, token string) (*models.PendingTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok || e.p.Token != token {
		return nil, models.ErrPendingNotFound
	}
	delete(s.entries, sessionID)
	if !s.now().Before(e.expires) {
		return nil, models.ErrPendingNotFound
	}
	p := e.p
	return &p, nil
}

func (s *PendingStore) sweep() {
	now := s.now()
	for id, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, id)
		}
	}
}
