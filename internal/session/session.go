// Package session holds the explicit per-login state passed to every
// banking operation.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
	ErrSessionBusy       = errors.New("another operation is in progress for this session")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrUnauthorized      = errors.New("unauthorized")
)

type State string

const (
	StateAwaitingFace State = "awaiting_face"
	StateActive       State = "active"
	StateTerminated   State = "terminated"
)

type Purpose string

const (
	PurposeLogin Purpose = "login"
	PurposeReset Purpose = "reset"
)

// Session moves AwaitingFace -> Active -> Terminated. A reset session also
// tracks which identity-reset step it expects next.
type Session struct {
	ID        string    `json:"id"`
	AccountNo string    `json:"account_no"`
	Purpose   Purpose   `json:"purpose"`
	State     State     `json:"state"`
	ResetStep int       `json:"reset_step,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authorized reports whether the session may move money.
func (s *Session) Authorized() bool {
	return s != nil && s.Purpose == PurposeLogin && s.State == StateActive
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func canTransition(from, to State) bool {
	switch to {
	case StateTerminated:
		return from != StateTerminated
	case StateActive:
		return from == StateAwaitingFace
	}
	return false
}

// Store persists sessions and their busy guard.
type Store interface {
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	// Acquire takes the busy guard; false means it is already held.
	Acquire(ctx context.Context, id string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, id string) error
}
