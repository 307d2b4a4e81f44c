package scylla

import (
	"context"
	"fmt"

	"bank-service/internal/events"
)

// SecurityEventSink stores security events partitioned by (event bucket, day).
type SecurityEventSink struct {
	client *ScyllaClient
}

var _ events.Sink = (*SecurityEventSink)(nil)

func NewSecurityEventSink(client *ScyllaClient) *SecurityEventSink {
	return &SecurityEventSink{client: client}
}

func (s *SecurityEventSink) Name() string { return "scylla_security_events" }

func (s *SecurityEventSink) Handle(ctx context.Context, ev events.Event) error {
	if ev.Kind != events.KindSecurity {
		return nil
	}
	e := ev.Security
	q := s.client.Query(ctx, s.client.Statements.InsertSecurityEvent,
		e.EventBucket, e.EventDate, e.EventTime, e.ID, e.AccountNo, string(e.EventType), e.SessionID,
		e.RiskScore, e.Details)
	if err := s.client.ExecuteWithRetry(q, 2); err != nil {
		return fmt.Errorf("failed to store security event: %w", err)
	}
	return nil
}
