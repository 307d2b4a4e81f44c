package service

import (
	"context"
	"errors"
	"fmt"

	"bank-service/internal/bucketing"
	"bank-service/internal/events"
	"bank-service/internal/ledger"
	"bank-service/internal/models"
	"bank-service/internal/rules"
	"bank-service/internal/session"

	"go.uber.org/zap"
)

// guard holds the side effects shared by every service: the PIN gate with
// its persisted counter, the activity log and security events.
type guard struct {
	ledger   *ledger.Ledger
	gate     *rules.PINGate
	sessions *session.Manager
	events   events.Publisher
	bm       *bucketing.BucketingManager
	logger   *zap.Logger
}

// checkPIN runs the gate for acct and persists what it decided. A lock
// terminates sess when one is given.
func (g *guard) checkPIN(ctx context.Context, sess *session.Session, acct *models.Account, pin, during string) error {
	d, err := g.gate.Check(pin, acct)
	if err != nil {
		return err
	}

	switch {
	case d.OK:
		if acct.FailedTries != 0 {
			if err := g.ledger.SetSecurity(ctx, acct.AccountNo, 0, false); err != nil {
				return err
			}
		}
		return nil

	case d.ShouldLock:
		if !acct.IsLocked {
			if err := g.ledger.SetSecurity(ctx, acct.AccountNo, d.FailedTries, true); err != nil {
				return err
			}
			g.activity(ctx, acct.AccountNo, fmt.Sprintf("CRITICAL: Account locked during %s attempt due to %d failed PINs", during, rules.MaxPINAttempts))
			g.security(ctx, sess, acct.AccountNo, models.EventAccountLocked, 0, "pin attempts exhausted during "+during)
			g.logger.Warn("account locked after failed PIN attempts",
				zap.String("account_no", acct.AccountNo),
				zap.String("during", during))
		}
		g.terminate(ctx, sess, "account locked")
		return d.Err()

	default:
		if err := g.ledger.SetSecurity(ctx, acct.AccountNo, d.FailedTries, false); err != nil {
			return err
		}
		g.activity(ctx, acct.AccountNo, fmt.Sprintf("Failed PIN attempt (%d/%d) during %s", d.FailedTries, rules.MaxPINAttempts, during))
		g.security(ctx, sess, acct.AccountNo, models.EventPINFailed, 0, during)
		return d.Err()
	}
}

// activity appends a line to the account's log. The log is advisory, so a
// failure is reported but does not undo the operation that caused it.
func (g *guard) activity(ctx context.Context, accountNo, text string) {
	e, err := g.ledger.AppendActivity(ctx, accountNo, text)
	if err != nil {
		g.logger.Warn("failed to append activity", zap.String("account_no", accountNo), zap.Error(err))
		return
	}
	g.events.Publish(ctx, events.Activity(e))
}

func (g *guard) security(ctx context.Context, sess *session.Session, accountNo string, typ models.SecurityEventType, score float64, details string) {
	sessionID := ""
	if sess != nil {
		sessionID = sess.ID
	}
	g.events.Publish(ctx, events.Security(events.NewSecurityEvent(g.bm, accountNo, sessionID, typ, score, details)))
}

func (g *guard) terminate(ctx context.Context, sess *session.Session, reason string) {
	if sess == nil || sess.State == session.StateTerminated {
		return
	}
	if err := g.sessions.Terminate(ctx, sess, reason); err != nil {
		g.logger.Warn("failed to terminate session", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

// begin checks that sess may run a banking operation and takes its busy
// guard. Persistence failures inside the operation end the session.
func (g *guard) begin(ctx context.Context, sess *session.Session) (func(err error), error) {
	if !sess.Authorized() {
		return nil, session.ErrUnauthorized
	}
	done, err := g.sessions.Begin(ctx, sess)
	if err != nil {
		return nil, err
	}
	return func(err error) {
		done()
		if isPersistenceFailure(err) {
			g.terminate(ctx, sess, "persistence failure")
		}
	}, nil
}

func isPersistenceFailure(err error) bool {
	return err != nil && errors.Is(err, models.ErrPersistenceFailure)
}
