package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bank-service/internal/config"
	"bank-service/internal/util"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// busyGuardTTL frees a session whose holder died mid-operation.
const busyGuardTTL = time.Minute

type claims struct {
	SessionID string  `json:"sid"`
	Purpose   Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// Manager issues session tokens and drives the session state machine.
type Manager struct {
	store  Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewManager(store Store, cfg config.SessionConfig) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{
		store:  store,
		secret: []byte(cfg.JWTSecret),
		ttl:    ttl,
		now:    time.Now,
		logger: util.Named("session"),
	}
}

// Open starts a session for accountNo and returns it with its bearer token.
// Login sessions wait for face verification; reset sessions start at step 2
// because opening one already proves the identity details.
func (m *Manager) Open(ctx context.Context, accountNo string, purpose Purpose) (*Session, string, error) {
	now := m.now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		AccountNo: accountNo,
		Purpose:   purpose,
		State:     StateAwaitingFace,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if purpose == PurposeReset {
		s.State = StateActive
		s.ResetStep = 2
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SessionID: s.ID,
		Purpose:   purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountNo,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
			ID:        uuid.NewString(),
		},
	}).SignedString(m.secret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign session token: %w", err)
	}

	if err := m.store.Save(ctx, s, m.ttl); err != nil {
		return nil, "", fmt.Errorf("failed to save session: %w", err)
	}
	m.logger.Info("session opened",
		zap.String("session_id", s.ID),
		zap.String("account_no", accountNo),
		zap.String("purpose", string(purpose)))
	return s, token, nil
}

// Resolve verifies a bearer token and loads the session it names.
func (m *Manager) Resolve(ctx context.Context, token string) (*Session, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	s, err := m.store.Load(ctx, c.SessionID)
	if err != nil {
		return nil, err
	}
	if s.AccountNo != c.Subject || s.Purpose != c.Purpose {
		return nil, ErrUnauthorized
	}
	if s.Expired(m.now()) {
		return nil, ErrSessionExpired
	}
	return s, nil
}

func (m *Manager) Activate(ctx context.Context, s *Session) error {
	if !canTransition(s.State, StateActive) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, StateActive)
	}
	s.State = StateActive
	return m.Save(ctx, s)
}

// Terminate ends the session. Its token stops resolving immediately.
func (m *Manager) Terminate(ctx context.Context, s *Session, reason string) error {
	if !canTransition(s.State, StateTerminated) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, StateTerminated)
	}
	s.State = StateTerminated
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	m.logger.Info("session terminated",
		zap.String("session_id", s.ID),
		zap.String("account_no", s.AccountNo),
		zap.String("reason", reason))
	return nil
}

// Save writes s back for the rest of its lifetime.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	ttl := s.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return ErrSessionExpired
	}
	if err := m.store.Save(ctx, s, ttl); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Begin takes the session's busy guard. Only one operation may run per
// session; a second concurrent call gets ErrSessionBusy.
func (m *Manager) Begin(ctx context.Context, s *Session) (func(), error) {
	ok, err := m.store.Acquire(ctx, s.ID, busyGuardTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session guard: %w", err)
	}
	if !ok {
		return nil, ErrSessionBusy
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := m.store.Release(ctx, s.ID); err != nil {
			m.logger.Warn("failed to release session guard", zap.String("session_id", s.ID), zap.Error(err))
		}
	}, nil
}
