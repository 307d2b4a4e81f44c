package rules

import (
	"fmt"

	"bank-service/internal/models"
)

// MaxPINAttempts is the number of consecutive failures that locks an account.
const MaxPINAttempts = 3

const (
	msgLocked       = "ACCOUNT BLOCKED: Please reset your PIN."
	msgLockedNow    = "Account Blocked! 3 incorrect attempts reached."
	msgPINAccepted  = "Success"
	msgPINRemaining = "Incorrect PIN. Remaining Attempts: %d"
)

// PINVerifier checks an entered PIN against the stored encoded hash.
type PINVerifier interface {
	VerifyPIN(pin, encoded string) (bool, error)
}

// PINDecision is the outcome of one gate check. The caller persists
// FailedTries and the lock flag; the gate itself never writes.
type PINDecision struct {
	OK          bool
	Message     string
	ShouldLock  bool
	FailedTries int
}

// Err maps the decision onto the error taxonomy.
func (d PINDecision) Err() error {
	switch {
	case d.OK:
		return nil
	case d.ShouldLock:
		return models.NewUserError(models.ErrAccountLocked, "%s", d.Message)
	default:
		return models.NewUserError(models.ErrPinMismatch, "%s", d.Message)
	}
}

// RemainingAttempts is how many wrong PINs the account can still absorb.
func (d PINDecision) RemainingAttempts() int {
	if d.ShouldLock {
		return 0
	}
	return MaxPINAttempts - d.FailedTries
}

type PINGate struct {
	verifier PINVerifier
}

func NewPINGate(verifier PINVerifier) *PINGate {
	return &PINGate{verifier: verifier}
}

// Check evaluates entered against the account. A locked account is rejected
// before the PIN is looked at and its counter is left as it was.
func (g *PINGate) Check(entered string, acct *models.Account) (PINDecision, error) {
	if acct.IsLocked {
		return PINDecision{
			Message:     msgLocked,
			ShouldLock:  true,
			FailedTries: acct.FailedTries,
		}, nil
	}

	matched := false
	if IsPINFormat(entered) {
		ok, err := g.verifier.VerifyPIN(entered, acct.PINHash)
		if err != nil {
			return PINDecision{}, fmt.Errorf("verify pin for %s: %w", acct.AccountNo, err)
		}
		matched = ok
	}

	if matched {
		return PINDecision{OK: true, Message: msgPINAccepted}, nil
	}

	tries := acct.FailedTries + 1
	if tries >= MaxPINAttempts {
		return PINDecision{
			Message:     msgLockedNow,
			ShouldLock:  true,
			FailedTries: tries,
		}, nil
	}
	return PINDecision{
		Message:     fmt.Sprintf(msgPINRemaining, MaxPINAttempts-tries),
		FailedTries: tries,
	}, nil
}
