package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bank-service/internal/bucketing"
	"bank-service/internal/config"
	"bank-service/internal/models"
	"bank-service/internal/repository"
	"bank-service/internal/repository/memory"
	"bank-service/internal/repository/storetest"

	"github.com/shopspring/decimal"
)

func newTestLedger(t *testing.T, store repository.Store) *Ledger {
	t.Helper()
	bm := bucketing.NewBucketingManager(&config.Config{Bucketing: config.BucketingConfig{LockStripes: 8}})
	return New(store, NewLocalLocker(bm), time.Second)
}

func seeded(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	for _, a := range []*models.Account{
		storetest.NewAccount("BOP-10000001", "alice@bank.com", 5000),
		storetest.NewAccount("BOP-10000002", "bob@bank.com", 0),
	} {
		if err := store.CreateAccount(ctx, a); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return store
}

func TestUpdateBalanceCreditAndDebit(t *testing.T) {
	l := newTestLedger(t, seeded(t))
	ctx := context.Background()
	at := time.Now()

	dep, _ := models.NewDepositRecord("BOP-10000002", decimal.NewFromInt(750), at)
	rec, err := l.UpdateBalance(ctx, "BOP-10000002", decimal.NewFromInt(750), true, dep)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if rec.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", rec.Seq)
	}

	cash, _ := models.NewCashOutRecord("BOP-10000002", decimal.NewFromInt(250), at)
	if _, err := l.UpdateBalance(ctx, "BOP-10000002", decimal.NewFromInt(250), false, cash); err != nil {
		t.Fatalf("debit: %v", err)
	}

	acct, err := l.Account(ctx, "BOP-10000002")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !acct.Balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected 500, got %s", acct.Balance)
	}
	if step, _ := l.NextStep(ctx); step != 3 {
		t.Fatalf("expected next step 3, got %d", step)
	}
}

func TestUpdateBalanceErrors(t *testing.T) {
	l := newTestLedger(t, seeded(t))
	ctx := context.Background()
	at := time.Now()

	dep, _ := models.NewDepositRecord("BOP-99999999", decimal.NewFromInt(1), at)
	if _, err := l.UpdateBalance(ctx, "BOP-99999999", decimal.NewFromInt(1), true, dep); !errors.Is(err, models.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	cash, _ := models.NewCashOutRecord("BOP-10000002", decimal.NewFromInt(1), at)
	if _, err := l.UpdateBalance(ctx, "BOP-10000002", decimal.NewFromInt(1), false, cash); !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := l.UpdateBalance(ctx, "BOP-10000002", decimal.Zero, true, cash); !errors.Is(err, models.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	txs, _ := l.Transactions(ctx)
	if len(txs) != 0 {
		t.Fatalf("failed updates must not append records, got %d", len(txs))
	}
}

func TestRecordTransactionMovesNoMoney(t *testing.T) {
	l := newTestLedger(t, seeded(t))
	ctx := context.Background()

	est, _ := models.NewInsuranceEstimate("BOP-10000001", decimal.RequireFromString("12000.50"), time.Now())
	rec, err := l.RecordTransaction(ctx, est)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Seq != 1 || rec.Status != models.StatusEstimated {
		t.Fatalf("unexpected record %+v", rec)
	}
	acct, _ := l.Account(ctx, "BOP-10000001")
	if !acct.Balance.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("balance changed to %s", acct.Balance)
	}
}

// stalledStore never finishes a commit before its context ends.
type stalledStore struct {
	repository.Store
}

func (stalledStore) Commit(ctx context.Context, _ models.Posting) ([]models.TransactionRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTimeoutBecomesPersistenceFailure(t *testing.T) {
	store := stalledStore{Store: seeded(t)}
	bm := bucketing.NewBucketingManager(&config.Config{})
	l := New(store, NewLocalLocker(bm), 20*time.Millisecond)

	dep, _ := models.NewDepositRecord("BOP-10000001", decimal.NewFromInt(1), time.Now())
	start := time.Now()
	_, err := l.UpdateBalance(context.Background(), "BOP-10000001", decimal.NewFromInt(1), true, dep)
	if !errors.Is(err, models.ErrPersistenceFailure) {
		t.Fatalf("expected ErrPersistenceFailure, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("commit was not bounded by the operation timeout")
	}
}

func TestLockWaitBoundedByTimeout(t *testing.T) {
	l := newTestLedger(t, seeded(t))
	l.timeout = 20 * time.Millisecond
	ctx := context.Background()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = l.WithAccounts(ctx, []string{"BOP-10000001"}, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := l.WithAccounts(ctx, []string{"BOP-10000001"}, func(context.Context) error { return nil })
	if !errors.Is(err, models.ErrPersistenceFailure) {
		t.Fatalf("expected ErrPersistenceFailure while the lock is held, got %v", err)
	}
}

func TestWithAccountsSerializes(t *testing.T) {
	l := newTestLedger(t, seeded(t))
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			accounts := []string{"BOP-10000001", "BOP-10000002"}
			if i%2 == 1 {
				accounts = []string{"BOP-10000002", "BOP-10000001"}
			}
			if err := l.WithAccounts(ctx, accounts, func(context.Context) error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			}); err != nil {
				t.Errorf("with accounts: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("lost updates: counter=%d", counter)
	}
}

func TestLocalLockerSharedStripe(t *testing.T) {
	bm := bucketing.NewBucketingManager(&config.Config{Bucketing: config.BucketingConfig{LockStripes: 1}})
	locker := NewLocalLocker(bm)

	unlock, err := locker.LockAll(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("keys on one stripe must not self-deadlock: %v", err)
	}
	unlock()

	unlock, err = locker.LockAll(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock()
}
