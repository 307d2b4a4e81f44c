package clickhouse

import (
	"context"
	"strings"
	"testing"
	"time"

	"bank-service/internal/events"
	"bank-service/internal/models"

	"github.com/shopspring/decimal"
)

type recordingExec struct {
	queries []string
	args    [][]interface{}
}

func (r *recordingExec) Exec(_ context.Context, query string, args ...interface{}) error {
	r.queries = append(r.queries, query)
	r.args = append(r.args, args)
	return nil
}

func TestAnalyticsSinkRoutesByKind(t *testing.T) {
	exec := &recordingExec{}
	sink := NewAnalyticsSink(exec)
	ctx := context.Background()

	rec, _ := models.NewTransferRecord("BOP-10000001", "BOP-10000002", "Sara", decimal.NewFromInt(1000), time.Now())
	_ = sink.Handle(ctx, events.TransactionCommitted(rec.WithFraud(0.05, false)))
	_ = sink.Handle(ctx, events.Security(models.SecurityEvent{ID: "e1", AccountNo: "BOP-10000001", EventType: models.EventPINFailed}))
	_ = sink.Handle(ctx, events.Interaction(models.ChatInteraction{ID: "c1", AccountNo: "BOP-10000001", Sentiment: "Negative", Message: "secret"}))
	_ = sink.Handle(ctx, events.Activity(models.ActivityEntry{AccountNo: "BOP-10000001", Activity: "ignored"}))

	if len(exec.queries) != 3 {
		t.Fatalf("expected 3 inserts, got %d", len(exec.queries))
	}
	for i, table := range []string{"transaction_analytics", "security_event_analytics", "sentiment_analytics"} {
		if !strings.Contains(exec.queries[i], table) {
			t.Errorf("insert %d went to %q", i, exec.queries[i])
		}
	}
	if amt, ok := exec.args[0][4].(decimal.Decimal); !ok || !amt.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("amount arg = %v", exec.args[0][4])
	}
	for _, a := range exec.args[2] {
		if a == "secret" {
			t.Fatal("message text must not reach analytics")
		}
	}
}

func TestEnsureSchema(t *testing.T) {
	exec := &recordingExec{}
	if err := NewAnalyticsSink(exec).EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(exec.queries) != len(schema) {
		t.Fatalf("ran %d statements, want %d", len(exec.queries), len(schema))
	}
}
