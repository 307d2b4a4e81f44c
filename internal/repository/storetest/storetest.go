// Package storetest holds the behaviour every repository.Store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bank-service/internal/models"
	"bank-service/internal/repository"

	"github.com/shopspring/decimal"
)

// NewAccount returns a registrable account with the given opening balance.
func NewAccount(no, email string, balance int64) *models.Account {
	return &models.Account{
		AccountNo: no,
		FirstName: "Test",
		LastName:  "User",
		Email:     email,
		CNICHash:  "cnic-" + no,
		PINHash:   "pin-" + no,
		Balance:   decimal.NewFromInt(balance),
	}
}

// Run executes the shared contract against stores built by newStore.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("Duplicates", func(t *testing.T) { testDuplicates(t, newStore(t)) })
	t.Run("CommitTransfer", func(t *testing.T) { testCommitTransfer(t, newStore(t)) })
	t.Run("CommitRejectsOverdraft", func(t *testing.T) { testCommitRejects(t, newStore(t)) })
	t.Run("ConcurrentDebits", func(t *testing.T) { testConcurrentDebits(t, newStore(t)) })
	t.Run("Security", func(t *testing.T) { testSecurity(t, newStore(t)) })
	t.Run("Logs", func(t *testing.T) { testLogs(t, newStore(t)) })
}

func mustCreate(t *testing.T, s repository.Store, a *models.Account) {
	t.Helper()
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount(%s): %v", a.AccountNo, err)
	}
}

func balanceOf(t *testing.T, s repository.Store, no string) decimal.Decimal {
	t.Helper()
	a, err := s.GetAccount(context.Background(), no)
	if err != nil {
		t.Fatalf("GetAccount(%s): %v", no, err)
	}
	return a.Balance
}

func transfer(t *testing.T, from, to string, amount int64) models.Posting {
	t.Helper()
	amt := decimal.NewFromInt(amount)
	rec, err := models.NewTransferRecord(from, to, "Receiver", amt, time.Now())
	if err != nil {
		t.Fatalf("NewTransferRecord: %v", err)
	}
	return models.Posting{
		Legs:    []models.Leg{{AccountNo: from, Delta: amt.Neg()}, {AccountNo: to, Delta: amt}},
		Records: []models.TransactionRecord{rec},
	}
}

func testCreateAndGet(t *testing.T, s repository.Store) {
	ctx := context.Background()
	a := NewAccount("BOP-10000001", "ali@mail.com", 0)
	b := NewAccount("BOP-10000002", "sara@mail.com", 0)
	mustCreate(t, s, a)
	mustCreate(t, s, b)

	if a.FaceID != repository.FirstFaceID || b.FaceID != repository.FirstFaceID+1 {
		t.Fatalf("face ids = %d, %d", a.FaceID, b.FaceID)
	}

	got, err := s.GetAccountByEmail(ctx, "SARA@mail.com")
	if err != nil || got.AccountNo != b.AccountNo {
		t.Fatalf("GetAccountByEmail = %+v, %v", got, err)
	}
	if _, err := s.GetAccount(ctx, "BOP-99999999"); !errors.Is(err, models.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	all, err := s.ListAccounts(ctx)
	if err != nil || len(all) != 2 || all[0].AccountNo != a.AccountNo {
		t.Fatalf("ListAccounts = %d accounts, %v", len(all), err)
	}

	// returned values are copies
	all[0].Balance = decimal.NewFromInt(1_000_000)
	if !balanceOf(t, s, a.AccountNo).IsZero() {
		t.Fatal("mutating a listed account changed the store")
	}
}

func testDuplicates(t *testing.T, s repository.Store) {
	mustCreate(t, s, NewAccount("BOP-10000001", "ali@mail.com", 0))

	cases := []struct {
		acct  *models.Account
		field string
	}{
		{NewAccount("BOP-10000001", "other@mail.com", 0), "account_no"},
		{NewAccount("BOP-10000002", "ali@mail.com", 0), "email"},
		{&models.Account{AccountNo: "BOP-10000003", Email: "third@mail.com", CNICHash: "cnic-BOP-10000001"}, "cnic"},
	}
	for _, tc := range cases {
		err := s.CreateAccount(context.Background(), tc.acct)
		var dup *repository.DuplicateError
		if !errors.As(err, &dup) || dup.Field != tc.field {
			t.Fatalf("expected duplicate %s, got %v", tc.field, err)
		}
		if !errors.Is(err, models.ErrAlreadyExists) {
			t.Fatalf("duplicate should match ErrAlreadyExists: %v", err)
		}
	}
}

func testCommitTransfer(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAccount("BOP-10000001", "a@mail.com", 5000))
	mustCreate(t, s, NewAccount("BOP-10000002", "b@mail.com", 0))

	for i := 0; i < 2; i++ {
		recs, err := s.Commit(ctx, transfer(t, "BOP-10000001", "BOP-10000002", 1000))
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if len(recs) != 1 || recs[0].Seq != int64(i+1) {
			t.Fatalf("commit %d returned %+v", i, recs)
		}
	}

	if got := balanceOf(t, s, "BOP-10000001"); !got.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("sender balance = %s", got)
	}
	if got := balanceOf(t, s, "BOP-10000002"); !got.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("receiver balance = %s", got)
	}

	n, err := s.CountTransactions(ctx)
	if err != nil || n != 2 {
		t.Fatalf("CountTransactions = %d, %v", n, err)
	}
	all, _ := s.ListTransactions(ctx)
	if all[0].Seq >= all[1].Seq {
		t.Fatalf("transactions out of order: %d, %d", all[0].Seq, all[1].Seq)
	}
	mine, _ := s.ListAccountTransactions(ctx, "BOP-10000002")
	if len(mine) != 2 || mine[0].Seq != 2 {
		t.Fatalf("ListAccountTransactions should be newest first, got %+v", mine)
	}

	est, _ := models.NewInsuranceEstimate("BOP-10000002", decimal.NewFromInt(900), time.Now())
	if _, err := s.Commit(ctx, models.Posting{Records: []models.TransactionRecord{est}}); err != nil {
		t.Fatalf("record-only commit: %v", err)
	}
	if got := balanceOf(t, s, "BOP-10000002"); !got.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("estimate changed balance to %s", got)
	}
}

func testCommitRejects(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAccount("BOP-10000001", "a@mail.com", 500))
	mustCreate(t, s, NewAccount("BOP-10000002", "b@mail.com", 0))

	if _, err := s.Commit(ctx, transfer(t, "BOP-10000001", "BOP-10000002", 501)); !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := s.Commit(ctx, transfer(t, "BOP-10000001", "BOP-10000009", 10)); !errors.Is(err, models.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	if got := balanceOf(t, s, "BOP-10000001"); !got.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("failed commits changed sender balance to %s", got)
	}
	if n, _ := s.CountTransactions(ctx); n != 0 {
		t.Fatalf("failed commits appended %d records", n)
	}
}

func testConcurrentDebits(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAccount("BOP-10000001", "a@mail.com", 200))
	mustCreate(t, s, NewAccount("BOP-10000002", "b@mail.com", 0))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 40; i++ {
		p := transfer(t, "BOP-10000001", "BOP-10000002", 10)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Commit(ctx, p); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// optimistic backends may reject some debits as conflicts, but money is
	// conserved and the sender never overdraws
	if ok == 0 || ok > 20 {
		t.Fatalf("%d debits succeeded, want 1..20", ok)
	}
	moved := decimal.NewFromInt(int64(ok * 10))
	if got := balanceOf(t, s, "BOP-10000001"); !got.Equal(decimal.NewFromInt(200).Sub(moved)) {
		t.Fatalf("sender balance = %s after %d debits", got, ok)
	}
	if got := balanceOf(t, s, "BOP-10000002"); !got.Equal(moved) {
		t.Fatalf("receiver balance = %s after %d debits", got, ok)
	}
	if n, _ := s.CountTransactions(ctx); n != int64(ok) {
		t.Fatalf("%d records for %d debits", n, ok)
	}
}

func testSecurity(t *testing.T, s repository.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAccount("BOP-10000001", "a@mail.com", 0))

	if err := s.UpdateSecurity(ctx, "BOP-10000001", 3, true); err != nil {
		t.Fatalf("UpdateSecurity: %v", err)
	}
	a, _ := s.GetAccount(ctx, "BOP-10000001")
	if a.FailedTries != 3 || !a.IsLocked {
		t.Fatalf("security not persisted: %+v", a)
	}

	if err := s.UpdatePIN(ctx, "BOP-10000001", "new-hash"); err != nil {
		t.Fatalf("UpdatePIN: %v", err)
	}
	a, _ = s.GetAccount(ctx, "BOP-10000001")
	if a.FailedTries != 0 || a.IsLocked || a.PINHash != "new-hash" {
		t.Fatalf("pin reset not persisted: %+v", a)
	}

	if err := s.UpdateSecurity(ctx, "BOP-00000000", 1, false); !errors.Is(err, models.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func testLogs(t *testing.T, s repository.Store) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := models.ActivityEntry{Timestamp: base.Add(time.Duration(i) * time.Minute), AccountNo: "BOP-10000001", Activity: fmt.Sprintf("activity %d", i)}
		if err := s.AppendActivity(ctx, e); err != nil {
			t.Fatalf("AppendActivity: %v", err)
		}
	}
	_ = s.AppendActivity(ctx, models.ActivityEntry{Timestamp: base, AccountNo: "BOP-10000002", Activity: "other"})

	recent, err := s.RecentActivities(ctx, "BOP-10000001", 3)
	if err != nil || len(recent) != 3 {
		t.Fatalf("RecentActivities = %d, %v", len(recent), err)
	}
	if recent[0].Activity != "activity 4" || recent[2].Activity != "activity 2" {
		t.Fatalf("activities not newest first: %+v", recent)
	}

	for i := 0; i < 12; i++ {
		in := models.ChatInteraction{ID: fmt.Sprint(i), Timestamp: base.Add(time.Duration(i) * time.Second), AccountNo: "BOP-10000001", Message: fmt.Sprintf("msg %d", i)}
		if err := s.AppendInteraction(ctx, in); err != nil {
			t.Fatalf("AppendInteraction: %v", err)
		}
	}
	hist, err := s.RecentInteractions(ctx, "BOP-10000001", 10)
	if err != nil || len(hist) != 10 {
		t.Fatalf("RecentInteractions = %d, %v", len(hist), err)
	}
	if hist[0].Message != "msg 2" || hist[9].Message != "msg 11" {
		t.Fatalf("interactions should be the last ten oldest first: %q .. %q", hist[0].Message, hist[9].Message)
	}
}
