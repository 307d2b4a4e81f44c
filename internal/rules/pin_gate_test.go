package rules

import (
	"errors"
	"testing"

	"bank-service/internal/models"
)

// plainVerifier treats the stored hash as the PIN itself.
type plainVerifier struct {
	calls int
	err   error
}

func (v *plainVerifier) VerifyPIN(pin, encoded string) (bool, error) {
	v.calls++
	if v.err != nil {
		return false, v.err
	}
	return pin == encoded, nil
}

// apply persists a decision the way the orchestrator does.
func apply(acct *models.Account, d PINDecision) {
	acct.FailedTries = d.FailedTries
	if d.ShouldLock {
		acct.IsLocked = true
	}
}

func TestPINGateThreeStrikesLocks(t *testing.T) {
	v := &plainVerifier{}
	gate := NewPINGate(v)
	acct := &models.Account{AccountNo: "BOP-10000001", PINHash: "1234"}

	wantMessages := []string{
		"Incorrect PIN. Remaining Attempts: 2",
		"Incorrect PIN. Remaining Attempts: 1",
		"Account Blocked! 3 incorrect attempts reached.",
	}
	for i, want := range wantMessages {
		d, err := gate.Check("0000", acct)
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if d.OK || d.Message != want {
			t.Fatalf("attempt %d: got %+v, want message %q", i+1, d, want)
		}
		apply(acct, d)
	}
	if !acct.IsLocked || acct.FailedTries != 3 {
		t.Fatalf("expected locked with 3 tries, got locked=%v tries=%d", acct.IsLocked, acct.FailedTries)
	}
	if !errors.Is((PINDecision{ShouldLock: true}).Err(), models.ErrAccountLocked) {
		t.Fatal("lock decision must map to ErrAccountLocked")
	}

	// A fourth attempt, even with the right PIN, is rejected without counting.
	calls := v.calls
	d, err := gate.Check("1234", acct)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.OK || !d.ShouldLock || d.FailedTries != 3 {
		t.Fatalf("locked account must stay locked, got %+v", d)
	}
	if d.Message != "ACCOUNT BLOCKED: Please reset your PIN." {
		t.Fatalf("unexpected message %q", d.Message)
	}
	if v.calls != calls {
		t.Fatal("locked account must not have its PIN evaluated")
	}
	if !errors.Is(d.Err(), models.ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", d.Err())
	}
}

func TestPINGateSuccessResetsCounter(t *testing.T) {
	gate := NewPINGate(&plainVerifier{})
	for n := 0; n < MaxPINAttempts; n++ {
		acct := &models.Account{PINHash: "4321", FailedTries: n}
		d, err := gate.Check("4321", acct)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.OK || d.FailedTries != 0 || d.ShouldLock || d.Err() != nil {
			t.Fatalf("Active(%d) with correct pin: got %+v", n, d)
		}
	}
}

func TestPINGateMismatchError(t *testing.T) {
	gate := NewPINGate(&plainVerifier{})
	d, _ := gate.Check("9999", &models.Account{PINHash: "1111"})
	if !errors.Is(d.Err(), models.ErrPinMismatch) {
		t.Fatalf("expected ErrPinMismatch, got %v", d.Err())
	}
	if d.RemainingAttempts() != 2 {
		t.Fatalf("expected 2 remaining attempts, got %d", d.RemainingAttempts())
	}
}

func TestPINGateMalformedPINCountsWithoutHashing(t *testing.T) {
	v := &plainVerifier{}
	gate := NewPINGate(v)
	d, err := gate.Check("12a4", &models.Account{PINHash: "12a4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.OK || d.FailedTries != 1 || v.calls != 0 {
		t.Fatalf("malformed pin must count as a miss, got %+v calls=%d", d, v.calls)
	}
}

func TestPINGateVerifierFailure(t *testing.T) {
	gate := NewPINGate(&plainVerifier{err: errors.New("corrupt hash")})
	if _, err := gate.Check("1234", &models.Account{PINHash: "x"}); err == nil {
		t.Fatal("expected verifier error to propagate")
	}
}
