package scylla

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"bank-service/internal/bucketing"
	"bank-service/internal/config"
	"bank-service/internal/models"
	"bank-service/internal/repository"
	"bank-service/internal/repository/storetest"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestRecordOwners(t *testing.T) {
	at := time.Now()
	transfer, _ := models.NewTransferRecord("BOP-10000001", "BOP-10000002", "Sara", decimal.NewFromInt(5), at)
	deposit, _ := models.NewDepositRecord("BOP-10000001", decimal.NewFromInt(5), at)
	cash, _ := models.NewCashOutRecord("BOP-10000001", decimal.NewFromInt(5), at)

	tests := []struct {
		rec  models.TransactionRecord
		want []string
	}{
		{transfer, []string{"BOP-10000001", "BOP-10000002"}},
		{deposit, []string{"BOP-10000001"}},
		{cash, []string{"BOP-10000001"}},
	}
	for _, tt := range tests {
		got := recordOwners(tt.rec)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("recordOwners(%s) = %v, want %v", tt.rec.Kind, got, tt.want)
		}
	}
}

func TestRecordRowRoundTrip(t *testing.T) {
	rec, _ := models.NewQRPaymentRecord("BOP-10000001", "BOP-10000002", "Sara", decimal.RequireFromString("1234.56"), time.Now())
	rec.Seq = 7
	values := recordValues(rec)

	row := recordRow{}
	dest := row.dest()
	if len(dest) != len(values) {
		t.Fatalf("dest has %d columns, values %d", len(dest), len(values))
	}
	row.r.Seq, row.r.ID, row.r.Date = rec.Seq, rec.ID, rec.Date
	row.kind, row.amount, row.status, row.category = string(rec.Kind), rec.Amount.String(), string(rec.Status), string(rec.Category)
	row.r.Sender, row.r.ReceiverAcc, row.r.ReceiverName = rec.Sender, rec.ReceiverAcc, rec.ReceiverName

	got, err := row.record()
	if err != nil {
		t.Fatal(err)
	}
	if !got.Amount.Equal(rec.Amount) || got.Kind != models.KindQRTransfer || got.Seq != 7 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

// Set SCYLLA_TEST_HOSTS (comma separated) and SCYLLA_TEST_KEYSPACE to run the
// shared contract against a disposable keyspace.
func TestStoreContract(t *testing.T) {
	hosts := os.Getenv("SCYLLA_TEST_HOSTS")
	if hosts == "" {
		t.Skip("SCYLLA_TEST_HOSTS not set")
	}
	cfg := &config.Config{
		Environment: "development",
		Scylla:      config.ScyllaConfig{Nodes: strings.Split(hosts, ","), Keyspace: os.Getenv("SCYLLA_TEST_KEYSPACE")},
		Bucketing:   config.BucketingConfig{AccountBuckets: 4},
	}

	storetest.Run(t, func(t *testing.T) repository.Store {
		client, err := NewScyllaClient(cfg, zap.NewNop())
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		for _, table := range []string{"accounts", "account_by_email", "account_by_cnic", "ledger_counters",
			"transactions", "transactions_by_account", "activities", "interactions"} {
			_ = client.Session.Query(`DROP TABLE IF EXISTS ` + table).Exec()
		}
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		if err := client.EnsureSchema(ctx); err != nil {
			t.Fatalf("schema: %v", err)
		}
		s := NewStore(client, bucketing.NewBucketingManager(cfg), zap.NewNop())
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
