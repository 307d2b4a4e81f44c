package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned for non-numeric or non-positive amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientFunds is returned when a debit exceeds the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrPinMismatch is recoverable and increments the failed-attempt counter.
	ErrPinMismatch = errors.New("incorrect pin")
	// ErrAccountLocked ends the session until an identity reset.
	ErrAccountLocked = errors.New("account locked")
	ErrRecipientNotFound = errors.New("recipient not found")
	// ErrModelUnavailable means a scoring or generation backend did not answer.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrPersistenceFailure aborts the operation; nothing was committed.
	ErrPersistenceFailure = errors.New("persistence failure")

	ErrAccountNotFound = errors.New("account not found")
	ErrAlreadyExists   = errors.New("account already exists")
	ErrInvalidInput    = errors.New("invalid input")
	ErrSelfTransfer    = errors.New("cannot transfer to own account")
	ErrInvalidRecord   = errors.New("invalid transaction record")
	// ErrPendingNotFound covers unknown, consumed and expired confirmation tokens.
	ErrPendingNotFound = errors.New("no pending transaction")
)

// UserError carries a message fit to show the account holder while still
// matching its sentinel under errors.Is.
type UserError struct {
	Kind    error
	Message string
}

func (e *UserError) Error() string {
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Kind
}

func NewUserError(kind error, format string, args ...interface{}) error {
	return &UserError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
