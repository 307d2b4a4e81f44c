package events

import (
	"context"
	"time"

	"bank-service/internal/bucketing"
	"bank-service/internal/models"
	"bank-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Kind string

const (
	KindTransaction Kind = "transaction.committed"
	KindSecurity    Kind = "security.event"
	KindActivity    Kind = "activity.logged"
	KindInteraction Kind = "assistant.interaction"
)

// Event is one fact worth telling downstream systems about. Exactly one of
// the payload pointers is set, matching Kind.
type Event struct {
	Kind        Kind                      `json:"kind"`
	AccountNo   string                    `json:"account_no"`
	OccurredAt  time.Time                 `json:"occurred_at"`
	Transaction *models.TransactionRecord `json:"transaction,omitempty"`
	Security    *models.SecurityEvent     `json:"security,omitempty"`
	Activity    *models.ActivityEntry     `json:"activity,omitempty"`
	Interaction *models.ChatInteraction   `json:"interaction,omitempty"`
}

func TransactionCommitted(rec models.TransactionRecord) Event {
	return Event{Kind: KindTransaction, AccountNo: rec.Sender, OccurredAt: rec.Date, Transaction: &rec}
}

func Security(ev models.SecurityEvent) Event {
	return Event{Kind: KindSecurity, AccountNo: ev.AccountNo, OccurredAt: ev.EventTime, Security: &ev}
}

func Activity(e models.ActivityEntry) Event {
	return Event{Kind: KindActivity, AccountNo: e.AccountNo, OccurredAt: e.Timestamp, Activity: &e}
}

func Interaction(in models.ChatInteraction) Event {
	return Event{Kind: KindInteraction, AccountNo: in.AccountNo, OccurredAt: in.Timestamp, Interaction: &in}
}

// NewSecurityEvent fills in id, partition bucket and date for a security event.
func NewSecurityEvent(bm *bucketing.BucketingManager, accountNo, sessionID string, typ models.SecurityEventType, score float64, details string) models.SecurityEvent {
	now := time.Now().UTC()
	assignment := bm.GetBucketAssignment(accountNo, now)
	return models.SecurityEvent{
		ID:          uuid.NewString(),
		EventBucket: assignment.EventBucket,
		AccountNo:   accountNo,
		EventDate:   assignment.DateBucket,
		EventTime:   now,
		EventType:   typ,
		SessionID:   sessionID,
		RiskScore:   score,
		Details:     details,
	}
}

// Sink receives every published event and ignores kinds it does not store.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// Publisher is what services depend on.
type Publisher interface {
	Publish(ctx context.Context, evs ...Event)
}

// Dispatcher fans events out to all sinks in parallel. Sink failures are
// logged and never reach the caller: the ledger is the source of truth.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
}

var _ Publisher = (*Dispatcher)(nil)

func NewDispatcher(timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{sinks: sinks, timeout: timeout, logger: util.Named("events")}
}

func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Publish delivers evs to every sink, bounded by the dispatcher timeout and
// detached from the caller's cancellation.
func (d *Dispatcher) Publish(ctx context.Context, evs ...Event) {
	if len(d.sinks) == 0 || len(evs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	var g errgroup.Group
	for _, sink := range d.sinks {
		sink := sink
		g.Go(func() error {
			for _, ev := range evs {
				if err := sink.Handle(ctx, ev); err != nil {
					d.logger.Warn("event sink failed",
						zap.String("sink", sink.Name()),
						zap.String("kind", string(ev.Kind)),
						zap.String("account_no", ev.AccountNo),
						zap.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) {}
