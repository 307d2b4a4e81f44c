// Package ledger is the only writer of balances. It bounds every store call
// with the operation timeout, serializes work per account through a Locker,
// and reports infrastructure faults as ErrPersistenceFailure.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bank-service/internal/models"
	"bank-service/internal/repository"
	"bank-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultOperationTimeout = 5 * time.Second

// domainErrors pass through unchanged; anything else is a persistence fault.
var domainErrors = []error{
	models.ErrAccountNotFound,
	models.ErrInsufficientFunds,
	models.ErrAlreadyExists,
	models.ErrInvalidRecord,
	models.ErrInvalidInput,
}

type Ledger struct {
	store   repository.Store
	locker  Locker
	timeout time.Duration
	logger  *zap.Logger
}

func New(store repository.Store, locker Locker, timeout time.Duration) *Ledger {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &Ledger{store: store, locker: locker, timeout: timeout, logger: util.Named("ledger")}
}

func (l *Ledger) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	l.logger.Error("ledger operation failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", models.ErrPersistenceFailure, op, err)
}

func (l *Ledger) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.classify(op, fn(ctx))
}

// WithAccounts runs fn while holding the locks of every listed account.
// Waiting for the locks counts against the operation timeout.
func (l *Ledger) WithAccounts(ctx context.Context, accountNos []string, fn func(ctx context.Context) error) error {
	keys := make([]string, 0, len(accountNos))
	seen := make(map[string]struct{}, len(accountNos))
	for _, no := range accountNos {
		if _, dup := seen[no]; dup || no == "" {
			continue
		}
		seen[no] = struct{}{}
		keys = append(keys, no)
	}
	sort.Strings(keys)

	lockCtx, cancel := context.WithTimeout(ctx, l.timeout)
	unlock, err := l.locker.LockAll(lockCtx, keys)
	cancel()
	if err != nil {
		return l.classify("lock", err)
	}
	defer unlock()
	return fn(ctx)
}

// Post commits a posting. Callers hold the touched accounts via WithAccounts.
func (l *Ledger) Post(ctx context.Context, p models.Posting) ([]models.TransactionRecord, error) {
	var out []models.TransactionRecord
	err := l.call(ctx, "commit", func(ctx context.Context) error {
		var err error
		out, err = l.store.Commit(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, r := range out {
		l.logger.Info("transaction committed",
			zap.Int64("seq", r.Seq),
			zap.String("kind", string(r.Kind)),
			zap.String("status", string(r.Status)),
			zap.String("sender", r.Sender),
			zap.String("receiver", r.ReceiverAcc),
			util.Amount("amount", r.Amount))
	}
	return out, nil
}

// UpdateBalance applies a single credit or debit together with its record.
func (l *Ledger) UpdateBalance(ctx context.Context, accountNo string, amount decimal.Decimal, isCredit bool, record models.TransactionRecord) (models.TransactionRecord, error) {
	if !amount.IsPositive() {
		return models.TransactionRecord{}, fmt.Errorf("%w: amount must be positive", models.ErrInvalidAmount)
	}
	delta := amount
	if !isCredit {
		delta = amount.Neg()
	}

	var committed models.TransactionRecord
	err := l.WithAccounts(ctx, []string{accountNo}, func(ctx context.Context) error {
		recs, err := l.Post(ctx, models.Posting{
			Legs:    []models.Leg{{AccountNo: accountNo, Delta: delta}},
			Records: []models.TransactionRecord{record},
		})
		if err != nil {
			return err
		}
		committed = recs[0]
		return nil
	})
	return committed, err
}

// RecordTransaction appends a record that moves no money.
func (l *Ledger) RecordTransaction(ctx context.Context, record models.TransactionRecord) (models.TransactionRecord, error) {
	recs, err := l.Post(ctx, models.Posting{Records: []models.TransactionRecord{record}})
	if err != nil {
		return models.TransactionRecord{}, err
	}
	return recs[0], nil
}

func (l *Ledger) CreateAccount(ctx context.Context, acct *models.Account) error {
	return l.call(ctx, "create_account", func(ctx context.Context) error {
		return l.store.CreateAccount(ctx, acct)
	})
}

func (l *Ledger) Account(ctx context.Context, accountNo string) (*models.Account, error) {
	var a *models.Account
	err := l.call(ctx, "get_account", func(ctx context.Context) error {
		var err error
		a, err = l.store.GetAccount(ctx, accountNo)
		return err
	})
	return a, err
}

func (l *Ledger) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var a *models.Account
	err := l.call(ctx, "get_account_by_email", func(ctx context.Context) error {
		var err error
		a, err = l.store.GetAccountByEmail(ctx, email)
		return err
	})
	return a, err
}

func (l *Ledger) Accounts(ctx context.Context) ([]*models.Account, error) {
	var out []*models.Account
	err := l.call(ctx, "list_accounts", func(ctx context.Context) error {
		var err error
		out, err = l.store.ListAccounts(ctx)
		return err
	})
	return out, err
}

func (l *Ledger) SetSecurity(ctx context.Context, accountNo string, failedTries int, locked bool) error {
	return l.call(ctx, "update_security", func(ctx context.Context) error {
		return l.store.UpdateSecurity(ctx, accountNo, failedTries, locked)
	})
}

func (l *Ledger) ResetPIN(ctx context.Context, accountNo, pinHash string) error {
	return l.call(ctx, "update_pin", func(ctx context.Context) error {
		return l.store.UpdatePIN(ctx, accountNo, pinHash)
	})
}

func (l *Ledger) Transactions(ctx context.Context) ([]models.TransactionRecord, error) {
	var out []models.TransactionRecord
	err := l.call(ctx, "list_transactions", func(ctx context.Context) error {
		var err error
		out, err = l.store.ListTransactions(ctx)
		return err
	})
	return out, err
}

func (l *Ledger) AccountTransactions(ctx context.Context, accountNo string) ([]models.TransactionRecord, error) {
	var out []models.TransactionRecord
	err := l.call(ctx, "list_account_transactions", func(ctx context.Context) error {
		var err error
		out, err = l.store.ListAccountTransactions(ctx, accountNo)
		return err
	})
	return out, err
}

// NextStep is the fraud feature step for the next record: count + 1.
func (l *Ledger) NextStep(ctx context.Context) (int64, error) {
	var n int64
	err := l.call(ctx, "count_transactions", func(ctx context.Context) error {
		var err error
		n, err = l.store.CountTransactions(ctx)
		return err
	})
	return n + 1, err
}

func (l *Ledger) AppendActivity(ctx context.Context, accountNo, activity string) (models.ActivityEntry, error) {
	e := models.ActivityEntry{Timestamp: time.Now().UTC(), AccountNo: accountNo, Activity: activity}
	err := l.call(ctx, "append_activity", func(ctx context.Context) error {
		return l.store.AppendActivity(ctx, e)
	})
	return e, err
}

func (l *Ledger) RecentActivities(ctx context.Context, accountNo string, n int) ([]models.ActivityEntry, error) {
	var out []models.ActivityEntry
	err := l.call(ctx, "recent_activities", func(ctx context.Context) error {
		var err error
		out, err = l.store.RecentActivities(ctx, accountNo, n)
		return err
	})
	return out, err
}

func (l *Ledger) AppendInteraction(ctx context.Context, in models.ChatInteraction) error {
	return l.call(ctx, "append_interaction", func(ctx context.Context) error {
		return l.store.AppendInteraction(ctx, in)
	})
}

func (l *Ledger) RecentInteractions(ctx context.Context, accountNo string, n int) ([]models.ChatInteraction, error) {
	var out []models.ChatInteraction
	err := l.call(ctx, "recent_interactions", func(ctx context.Context) error {
		var err error
		out, err = l.store.RecentInteractions(ctx, accountNo, n)
		return err
	})
	return out, err
}

func (l *Ledger) HealthCheck(ctx context.Context) error {
	return l.call(ctx, "health_check", l.store.HealthCheck)
}
