package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bank-service/internal/client"
	"bank-service/internal/session"
	"bank-service/internal/util"
)

const (
	sessionDataPrefix = "session_data:"
	sessionLockPrefix = "session_lock:"
)

// SessionStore keeps sessions and their busy guards in Redis so any
// instance can serve a request.
type SessionStore struct {
	client *client.RedisClient
}

var _ session.Store = (*SessionStore)(nil)

func NewSessionStore(client *client.RedisClient) *SessionStore {
	return &SessionStore{client: client}
}

func (c *SessionStore) Save(ctx context.Context, s *session.Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := c.client.Set(ctx, sessionDataPrefix+s.ID, data, ttl); err != nil {
		util.Error("Failed to save session",
			zap.String("session_id", s.ID),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}
	util.Debug("Session saved",
		zap.String("session_id", s.ID),
		zap.String("state", string(s.State)),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *SessionStore) Load(ctx context.Context, id string) (*session.Session, error) {
	raw, err := c.client.Get(ctx, sessionDataPrefix+id)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, session.ErrSessionNotFound
		}
		util.Error("Failed to load session", zap.String("session_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var s session.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (c *SessionStore) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, sessionDataPrefix+id, sessionLockPrefix+id); err != nil {
		util.Error("Failed to delete session", zap.String("session_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (c *SessionStore) Acquire(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, sessionLockPrefix+id, "locked", ttl)
	if err != nil {
		util.Error("Failed to acquire session lock", zap.String("session_id", id), zap.Error(err))
		return false, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	if ok {
		util.Debug("Session lock acquired", zap.String("session_id", id), zap.Duration("ttl", ttl))
	}
	return ok, nil
}

func (c *SessionStore) Release(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, sessionLockPrefix+id); err != nil {
		return fmt.Errorf("failed to release session lock: %w", err)
	}
	return nil
}
