package file

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bank-service/internal/models"
	"bank-service/internal/repository"
	"bank-service/internal/repository/memory"
	"bank-service/internal/repository/storetest"

	"github.com/shopspring/decimal"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		s, err := Open(t.TempDir())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return s
	})
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestReopenRestoresState(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	a := storetest.NewAccount("BOP-10000001", "a@mail.com", 0)
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatal(err)
	}
	dep, _ := models.NewDepositRecord(a.AccountNo, decimal.RequireFromString("2500.50"), time.Now())
	if _, err := s.Commit(ctx, models.Posting{
		Legs:    []models.Leg{{AccountNo: a.AccountNo, Delta: dep.Amount}},
		Records: []models.TransactionRecord{dep},
	}); err != nil {
		t.Fatal(err)
	}
	_ = s.AppendActivity(ctx, models.ActivityEntry{AccountNo: a.AccountNo, Activity: dep.ActivityLine()})
	_ = s.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.GetAccount(ctx, a.AccountNo)
	if err != nil || !got.Balance.Equal(decimal.RequireFromString("2500.50")) {
		t.Fatalf("balance after reopen = %v, %v", got, err)
	}
	acts, _ := reopened.RecentActivities(ctx, a.AccountNo, 3)
	if len(acts) != 1 || acts[0].Activity != "Success Deposit of Rs.2500.50" {
		t.Fatalf("activities after reopen = %+v", acts)
	}
	if n := countLines(t, filepath.Join(dir, TransactionsFile)); n != 1 {
		t.Fatalf("transactions file has %d lines", n)
	}
}

type failingAccounts struct {
	*Persister
}

func (failingAccounts) SaveAccounts([]*models.Account) error {
	return errors.New("disk full")
}

func TestFailedAccountWriteRollsBackRecords(t *testing.T) {
	dir := t.TempDir()
	p := &Persister{dir: dir}
	if err := p.SaveAccounts([]*models.Account{storetest.NewAccount("BOP-10000001", "a@mail.com", 100)}); err != nil {
		t.Fatal(err)
	}
	snap, err := p.Load()
	if err != nil {
		t.Fatal(err)
	}
	s := memory.NewWithPersister(snap, failingAccounts{p})

	dep, _ := models.NewDepositRecord("BOP-10000001", decimal.NewFromInt(5), time.Now())
	_, err = s.Commit(context.Background(), models.Posting{
		Legs:    []models.Leg{{AccountNo: "BOP-10000001", Delta: dep.Amount}},
		Records: []models.TransactionRecord{dep},
	})
	if err == nil {
		t.Fatal("expected commit to fail")
	}

	info, err := os.Stat(filepath.Join(dir, TransactionsFile))
	if err != nil || info.Size() != 0 {
		t.Fatalf("transactions file should be truncated back, got %v, %v", info, err)
	}
	got, _ := s.GetAccount(context.Background(), "BOP-10000001")
	if !got.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance changed to %s", got.Balance)
	}
}

func TestCorruptLineIsReported(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, AccountsFile), []byte("{not json}\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir); err == nil {
		t.Fatal("expected error for corrupt accounts file")
	}
}
