package repository

import (
	"context"
	"fmt"
	"time"

	"bank-service/internal/models"
)

// FirstFaceID is the face id given to the first registered account.
const FirstFaceID = 101

// AccountStore owns account state. Balances change only through
// LedgerStore.Commit.
type AccountStore interface {
	// CreateAccount inserts a new account. FaceID is assigned by the store
	// when zero. Duplicates are reported as *DuplicateError.
	CreateAccount(ctx context.Context, acct *models.Account) error
	GetAccount(ctx context.Context, accountNo string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	// UpdateSecurity persists the PIN attempt counter and lock flag.
	UpdateSecurity(ctx context.Context, accountNo string, failedTries int, locked bool) error
	// UpdatePIN replaces the PIN hash, clears the counter and unlocks.
	UpdatePIN(ctx context.Context, accountNo, pinHash string) error
}

// LedgerStore holds the append-only transaction log.
type LedgerStore interface {
	// Commit applies every leg and appends every record of the posting as
	// one unit, assigning Seq to the records in order. It fails with
	// ErrAccountNotFound or ErrInsufficientFunds without changing anything.
	Commit(ctx context.Context, p models.Posting) ([]models.TransactionRecord, error)
	// ListTransactions returns all records in Seq order.
	ListTransactions(ctx context.Context) ([]models.TransactionRecord, error)
	// ListAccountTransactions returns records the account sent or received,
	// newest first.
	ListAccountTransactions(ctx context.Context, accountNo string) ([]models.TransactionRecord, error)
	CountTransactions(ctx context.Context) (int64, error)
}

// LogStore holds the human-readable activity log and assistant interactions.
type LogStore interface {
	AppendActivity(ctx context.Context, e models.ActivityEntry) error
	// RecentActivities returns up to n entries, newest first.
	RecentActivities(ctx context.Context, accountNo string, n int) ([]models.ActivityEntry, error)
	AppendInteraction(ctx context.Context, i models.ChatInteraction) error
	// RecentInteractions returns up to the last n interactions, oldest first.
	RecentInteractions(ctx context.Context, accountNo string, n int) ([]models.ChatInteraction, error)
}

type Store interface {
	AccountStore
	LedgerStore
	LogStore
	HealthCheck(ctx context.Context) error
	Close() error
}

// PendingStore keeps fraud-flagged operations awaiting the holder's decision.
type PendingStore interface {
	PutPending(ctx context.Context, p *models.PendingTransaction, ttl time.Duration) error
	// TakePending removes and returns the pending operation. Missing or
	// expired tokens yield ErrPendingNotFound.
	TakePending(ctx context.Context, sessionID, token string) (*models.PendingTransaction, error)
}

// DuplicateError reports which unique field collided on account creation.
type DuplicateError struct {
	Field string // account_no | email | cnic
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s", models.ErrAlreadyExists, e.Field)
}

func (e *DuplicateError) Unwrap() error {
	return models.ErrAlreadyExists
}

func Duplicate(field string) error {
	return &DuplicateError{Field: field}
}
