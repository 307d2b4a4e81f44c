package clickhouse

import (
	"context"
	"fmt"

	"bank-service/internal/events"
)

// Executor is satisfied by client.ClickHouseClient.
type Executor interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS transaction_analytics (
		id String,
		seq Int64,
		occurred_at DateTime64(3, 'UTC'),
		kind LowCardinality(String),
		amount Decimal(38, 6),
		sender String,
		receiver_acc String,
		status LowCardinality(String),
		category LowCardinality(String),
		fraud_score Float64,
		fraud_override Bool
	) ENGINE = MergeTree ORDER BY (occurred_at, id)`,
	`CREATE TABLE IF NOT EXISTS security_event_analytics (
		id String,
		account_no String,
		event_type LowCardinality(String),
		occurred_at DateTime64(3, 'UTC'),
		session_id String,
		risk_score Float64,
		details String
	) ENGINE = MergeTree ORDER BY (event_type, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS sentiment_analytics (
		id String,
		account_no String,
		occurred_at DateTime64(3, 'UTC'),
		sentiment LowCardinality(String),
		confidence String,
		important_word String,
		action LowCardinality(String)
	) ENGINE = MergeTree ORDER BY (occurred_at, account_no)`,
}

const (
	insertTransaction = `INSERT INTO transaction_analytics
		(id, seq, occurred_at, kind, amount, sender, receiver_acc, status, category, fraud_score, fraud_override)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertSecurity = `INSERT INTO security_event_analytics
		(id, account_no, event_type, occurred_at, session_id, risk_score, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	insertSentiment = `INSERT INTO sentiment_analytics
		(id, account_no, occurred_at, sentiment, confidence, important_word, action)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// AnalyticsSink copies committed transactions, security events and
// sentiment results into ClickHouse for reporting. Message text stays out.
type AnalyticsSink struct {
	exec Executor
}

var _ events.Sink = (*AnalyticsSink)(nil)

func NewAnalyticsSink(exec Executor) *AnalyticsSink {
	return &AnalyticsSink{exec: exec}
}

func (a *AnalyticsSink) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := a.exec.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create analytics table: %w", err)
		}
	}
	return nil
}

func (a *AnalyticsSink) Name() string { return "clickhouse" }

func (a *AnalyticsSink) Handle(ctx context.Context, ev events.Event) error {
	switch ev.Kind {
	case events.KindTransaction:
		r := ev.Transaction
		return a.exec.Exec(ctx, insertTransaction, r.ID, r.Seq, r.Date, string(r.Kind), r.Amount,
			r.Sender, r.ReceiverAcc, string(r.Status), string(r.Category), r.FraudScore, r.FraudOverride)
	case events.KindSecurity:
		s := ev.Security
		return a.exec.Exec(ctx, insertSecurity, s.ID, s.AccountNo, string(s.EventType), s.EventTime,
			s.SessionID, s.RiskScore, s.Details)
	case events.KindInteraction:
		in := ev.Interaction
		return a.exec.Exec(ctx, insertSentiment, in.ID, in.AccountNo, in.Timestamp, in.Sentiment,
			in.Confidence, in.ImportantWord, in.Action)
	}
	return nil
}
