package service

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"bank-service/internal/models"
	"bank-service/internal/rules"
	"bank-service/internal/session"
)

func TestTransferCommitsBothLegs(t *testing.T) {
	h := newHarness(t, Models{})
	alice, bob, sess := h.aliceAndBob()

	res, err := h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "1000", PIN: "1234"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.Outcome != OutcomeCommitted {
		t.Fatalf("expected committed, got %s", res.Outcome)
	}
	if res.Record.FraudScore != 0.05 || res.Record.FraudOverride {
		t.Fatalf("unexpected fraud annotation: %+v", res.Record)
	}
	if got := h.balance(alice.AccountNo); got != "4000.00" {
		t.Fatalf("sender balance = %s", got)
	}
	if got := h.balance(bob.AccountNo); got != "1000.00" {
		t.Fatalf("receiver balance = %s", got)
	}
	if !res.Balance.Equal(dec("4000")) {
		t.Fatalf("result balance = %s", res.Balance)
	}

	// The deposit is step 1, so the transfer is scored as step 2.
	if h.scorer.last.Step != 2 || h.scorer.last.Type != "TRANSFER" {
		t.Fatalf("unexpected features: %+v", h.scorer.last)
	}

	acts, err := h.banking.RecentActivities(h.ctx, sess, 0)
	if err != nil {
		t.Fatalf("activities: %v", err)
	}
	if len(acts) == 0 || acts[0].Activity != "Success Transfer of Rs.1000.00" {
		t.Fatalf("unexpected activities: %+v", acts)
	}

	hist, err := h.banking.History(h.ctx, sess, "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].Kind != models.KindTransfer || hist[0].Direction != "debit" {
		t.Fatalf("unexpected history: %+v", hist)
	}
	hist, err = h.banking.History(h.ctx, sess, "bob")
	if err != nil || len(hist) != 1 {
		t.Fatalf("search by recipient: %+v err=%v", hist, err)
	}
}

func TestThreeWrongPINsLockAccountAndEndSession(t *testing.T) {
	h := newHarness(t, Models{})
	alice, bob, sess := h.aliceAndBob()

	for i := 1; i <= 2; i++ {
		_, err := h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "100", PIN: "9999"})
		assertIs(t, err, models.ErrPinMismatch)
		if got := h.account(alice.AccountNo).FailedTries; got != i {
			t.Fatalf("after %d misses counter = %d", i, got)
		}
	}
	_, err := h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "100", PIN: "9999"})
	assertIs(t, err, models.ErrAccountLocked)

	acct := h.account(alice.AccountNo)
	if !acct.IsLocked || acct.FailedTries != 3 {
		t.Fatalf("expected locked with 3 tries, got %+v", acct)
	}
	if acct.Balance.StringFixed(2) != "5000.00" || h.balance(bob.AccountNo) != "0.00" {
		t.Fatal("a rejected PIN must not move money")
	}
	if sess.State != session.StateTerminated {
		t.Fatalf("session should be terminated, got %s", sess.State)
	}
	if _, err := h.banking.Deposit(h.ctx, sess, DepositRequest{Amount: "1", PIN: "1234"}); !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("terminated session must not transact, got %v", err)
	}

	types := h.events.security()
	want := []models.SecurityEventType{models.EventPINFailed, models.EventPINFailed, models.EventAccountLocked}
	if len(types) < len(want) {
		t.Fatalf("security events = %v", types)
	}
	for i, w := range want {
		if types[len(types)-len(want)+i] != w {
			t.Fatalf("security events = %v", types)
		}
	}

	_, err = h.accounts.Login(h.ctx, LoginRequest{Email: "alice@bank.com", PIN: "1234"})
	assertIs(t, err, models.ErrAccountLocked)
}

func TestCorrectPINResetsCounter(t *testing.T) {
	h := newHarness(t, Models{})
	alice, bob, sess := h.aliceAndBob()

	_, err := h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "100", PIN: "0000"})
	assertIs(t, err, models.ErrPinMismatch)
	if _, err := h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "100", PIN: "1234"}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := h.account(alice.AccountNo).FailedTries; got != 0 {
		t.Fatalf("counter = %d, want 0", got)
	}
}

func TestFlaggedTransferApproved(t *testing.T) {
	h := newHarness(t, Models{})
	alice, bob, sess := h.aliceAndBob()
	h.scorer.set(0.45, nil)

	res, err := h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "1000", PIN: "1234"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.Outcome != OutcomeNeedsConfirmation || res.PendingToken == "" || !res.Fraud.Flagged {
		t.Fatalf("expected a held transfer, got %+v", res)
	}
	if h.balance(alice.AccountNo) != "5000.00" {
		t.Fatal("held transfer must not move money")
	}
	if !h.events.has(models.EventFraudFlagged) {
		t.Fatal("expected fraud_flagged event")
	}

	_, err = h.banking.Confirm(h.ctx, sess, ConfirmRequest{Token: "wrong", Decision: DecisionApprove})
	assertIs(t, err, models.ErrPendingNotFound)

	res, err = h.banking.Confirm(h.ctx, sess, ConfirmRequest{Token: res.PendingToken, Decision: DecisionApprove})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Outcome != OutcomeCommitted || !res.Record.FraudOverride || res.Record.FraudScore != 0.45 {
		t.Fatalf("expected overridden commit, got %+v", res.Record)
	}
	if h.balance(alice.AccountNo) != "4000.00" || h.balance(bob.AccountNo) != "1000.00" {
		t.Fatal("approved transfer did not move money")
	}
	if !h.events.has(models.EventFraudOverride) {
		t.Fatal("expected fraud_override event")
	}

	_, err = h.banking.Confirm(h.ctx, sess, ConfirmRequest{Token: res.PendingToken, Decision: DecisionApprove})
	assertIs(t, err, models.ErrPendingNotFound)
}

func TestFlaggedTransferSelfLock(t *testing.T) {
	h := newHarness(t, Models{})
	alice, bob, sess := h.aliceAndBob()
	h.scorer.set(0.9, nil)

	res, err := h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "2500", PIN: "1234"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	res, err = h.banking.Confirm(h.ctx, sess, ConfirmRequest{Token: res.PendingToken, Decision: DecisionLock})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if res.Outcome != OutcomeLocked || res.Record.Status != models.StatusBlocked {
		t.Fatalf("expected blocked record, got %+v", res)
	}
	if acct := h.account(alice.AccountNo); !acct.IsLocked || acct.FailedTries != rules.MaxPINAttempts {
		t.Fatalf("expected locked with %d tries, got %+v", rules.MaxPINAttempts, acct)
	}
	if h.balance(alice.AccountNo) != "5000.00" || h.balance(bob.AccountNo) != "0.00" {
		t.Fatal("self-lock must not move money")
	}
	if sess.State != session.StateTerminated {
		t.Fatal("self-lock must end the session")
	}
	if !h.events.has(models.EventFraudSelfLock) {
		t.Fatal("expected fraud_self_lock event")
	}

	recs, err := h.ledger.AccountTransactions(h.ctx, alice.AccountNo)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if recs[0].Status != models.StatusBlocked || !recs[0].IsSecurityAlert() {
		t.Fatalf("newest record should be the blocked attempt: %+v", recs[0])
	}
}

func TestApproveRejectedAfterLockFromAnotherSession(t *testing.T) {
	h := newHarness(t, Models{})
	alice, bob, phone := h.aliceAndBob()
	laptop := h.login("alice@bank.com", "1234")

	h.scorer.set(0.45, nil)
	held, err := h.banking.Transfer(h.ctx, phone, TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "1000", PIN: "1234"})
	if err != nil || held.Outcome != OutcomeNeedsConfirmation {
		t.Fatalf("expected a held transfer: %+v err=%v", held, err)
	}

	h.scorer.set(0.01, nil)
	for i := 0; i < rules.MaxPINAttempts; i++ {
		_, _ = h.banking.Withdraw(h.ctx, laptop, WithdrawRequest{Amount: "10", PIN: "9999"})
	}
	if !h.account(alice.AccountNo).IsLocked {
		t.Fatal("account should be locked")
	}

	_, err = h.banking.Confirm(h.ctx, phone, ConfirmRequest{Token: held.PendingToken, Decision: DecisionApprove})
	assertIs(t, err, models.ErrAccountLocked)
	if h.balance(alice.AccountNo) != "5000.00" || h.balance(bob.AccountNo) != "0.00" {
		t.Fatal("a locked account must not send money")
	}
	if phone.State != session.StateTerminated {
		t.Fatalf("session should be terminated, got %s", phone.State)
	}
}

func TestFlaggedTransferCancelled(t *testing.T) {
	h := newHarness(t, Models{})
	alice, bob, sess := h.aliceAndBob()
	h.scorer.set(0.3, nil)

	res, err := h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "10", PIN: "1234"})
	if err != nil || res.Outcome != OutcomeNeedsConfirmation {
		t.Fatalf("score at the threshold must be held: %+v err=%v", res, err)
	}
	res, err = h.banking.Confirm(h.ctx, sess, ConfirmRequest{Token: res.PendingToken, Decision: DecisionCancel})
	if err != nil || res.Outcome != OutcomeCancelled {
		t.Fatalf("cancel: %+v err=%v", res, err)
	}
	recs, _ := h.ledger.AccountTransactions(h.ctx, alice.AccountNo)
	if len(recs) != 1 {
		t.Fatalf("cancel must not record anything, got %d records", len(recs))
	}
	if sess.State != session.StateActive {
		t.Fatal("cancel keeps the session")
	}

	_, err = h.banking.Confirm(h.ctx, sess, ConfirmRequest{Token: "x", Decision: "maybe"})
	assertIs(t, err, ErrInvalidDecision)
}

func TestApproveRechecksBalance(t *testing.T) {
	h := newHarness(t, Models{})
	alice, bob, sess := h.aliceAndBob()

	h.scorer.set(0.5, nil)
	held, err := h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "4000", PIN: "1234"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	h.scorer.set(0.01, nil)
	if _, err := h.banking.Withdraw(h.ctx, sess, WithdrawRequest{Amount: "2000", PIN: "1234"}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	_, err = h.banking.Confirm(h.ctx, sess, ConfirmRequest{Token: held.PendingToken, Decision: DecisionApprove})
	assertIs(t, err, models.ErrInsufficientFunds)
	if h.balance(alice.AccountNo) != "3000.00" {
		t.Fatalf("balance = %s", h.balance(alice.AccountNo))
	}
}

func TestWipeoutUsesTighterThreshold(t *testing.T) {
	h := newHarness(t, Models{})
	alice, _, sess := h.aliceAndBob()
	h.scorer.set(0.15, nil)

	res, err := h.banking.Withdraw(h.ctx, sess, WithdrawRequest{Amount: "1000", PIN: "1234"})
	if err != nil || res.Outcome != OutcomeCommitted {
		t.Fatalf("partial withdrawal under 0.3 should pass: %+v err=%v", res, err)
	}
	res, err = h.banking.Withdraw(h.ctx, sess, WithdrawRequest{Amount: "4000", PIN: "1234"})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Outcome != OutcomeNeedsConfirmation || !res.Fraud.Wipeout || res.Fraud.Threshold != 0.1 {
		t.Fatalf("emptying the account at 0.15 should be held: %+v", res.Fraud)
	}
	if h.balance(alice.AccountNo) != "4000.00" {
		t.Fatalf("balance = %s", h.balance(alice.AccountNo))
	}
}

func TestFraudModelDownFailsOpen(t *testing.T) {
	h := newHarness(t, Models{})
	_, bob, sess := h.aliceAndBob()
	h.scorer.set(0, errors.New("connection refused"))

	res, err := h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "100", PIN: "1234"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.Outcome != OutcomeCommitted || !res.Fraud.Degraded || res.Record.FraudScore != 0 {
		t.Fatalf("expected degraded commit, got %+v", res)
	}
	if !h.events.has(models.EventModelUnavailable) {
		t.Fatal("expected model_unavailable event")
	}
}

func TestTransferRejections(t *testing.T) {
	h := newHarness(t, Models{})
	alice, bob, sess := h.aliceAndBob()

	_, err := h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: "BOP-99999999", Amount: "10", PIN: "1234"})
	assertIs(t, err, models.ErrRecipientNotFound)
	acts, _ := h.banking.RecentActivities(h.ctx, sess, 1)
	if len(acts) != 1 || acts[0].Activity != "Failed transfer attempt to: BOP-99999999" {
		t.Fatalf("unexpected activity: %+v", acts)
	}

	_, err = h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: alice.AccountNo, Amount: "10", PIN: "1234"})
	assertIs(t, err, models.ErrSelfTransfer)

	_, err = h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "5000.01", PIN: "9999"})
	assertIs(t, err, models.ErrInsufficientFunds)
	if got := h.account(alice.AccountNo).FailedTries; got != 0 {
		t.Fatalf("amount is checked before the PIN; counter = %d", got)
	}

	_, err = h.banking.Transfer(h.ctx, sess, TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "abc", PIN: "1234"})
	assertIs(t, err, models.ErrInvalidAmount)

	if h.balance(alice.AccountNo) != "5000.00" {
		t.Fatal("rejected transfers must not move money")
	}
}

func TestDepositInvalidAmountIsLogged(t *testing.T) {
	h := newHarness(t, Models{})
	_, _, sess := h.aliceAndBob()

	for _, raw := range []string{"-5", "0", "ten"} {
		_, err := h.banking.Deposit(h.ctx, sess, DepositRequest{Amount: raw, PIN: "1234"})
		assertIs(t, err, models.ErrInvalidAmount)
	}
	acts, _ := h.banking.RecentActivities(h.ctx, sess, 1)
	if acts[0].Activity != "Attempted deposit with invalid amount: ten" {
		t.Fatalf("unexpected activity %q", acts[0].Activity)
	}
}

func TestQRPayment(t *testing.T) {
	h := newHarness(t, Models{})
	_, bob, sess := h.aliceAndBob()

	res, err := h.banking.QRPay(h.ctx, sess, QRPayRequest{Payload: rules.QRPayload(bob.AccountNo), Amount: "250.50", PIN: "1234"})
	if err != nil {
		t.Fatalf("qr pay: %v", err)
	}
	if res.Record.Kind != models.KindQRTransfer || res.Record.ReceiverName != "Bob Khan" {
		t.Fatalf("unexpected record: %+v", res.Record)
	}
	if h.scorer.last.Type != "PAYMENT" {
		t.Fatalf("QR payments are scored as PAYMENT, got %s", h.scorer.last.Type)
	}
	if h.balance(bob.AccountNo) != "250.50" {
		t.Fatalf("receiver balance = %s", h.balance(bob.AccountNo))
	}

	_, err = h.banking.QRPay(h.ctx, sess, QRPayRequest{Payload: "not-a-code", Amount: "1", PIN: "1234"})
	assertIs(t, err, models.ErrInvalidInput)
}

func TestWithdrawRecordsCashOut(t *testing.T) {
	h := newHarness(t, Models{})
	alice, _, sess := h.aliceAndBob()

	res, err := h.banking.Withdraw(h.ctx, sess, WithdrawRequest{Amount: "500", PIN: "1234"})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Record.Kind != models.KindCashOut || res.Record.ReceiverAcc != models.ReceiverATM {
		t.Fatalf("unexpected record: %+v", res.Record)
	}
	if !strings.HasPrefix(res.Message, "Please collect your cash") {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if h.balance(alice.AccountNo) != "4500.00" {
		t.Fatalf("balance = %s", h.balance(alice.AccountNo))
	}
}

func TestWithdrawOverBalanceWritesNothing(t *testing.T) {
	h := newHarness(t, Models{})
	alice := h.register("Alice", "alice@bank.com", "3520112345671", "03001234567", "1234")
	sess := h.login("alice@bank.com", "1234")
	h.deposit(sess, "500", "1234")

	before, err := h.ledger.Transactions(h.ctx)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	_, err = h.banking.Withdraw(h.ctx, sess, WithdrawRequest{Amount: "600", PIN: "1234"})
	assertIs(t, err, models.ErrInsufficientFunds)

	after, err := h.ledger.Transactions(h.ctx)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("rejected withdrawal wrote a record: %d -> %d", len(before), len(after))
	}
	if got := h.balance(alice.AccountNo); got != "500.00" {
		t.Fatalf("balance = %s, want 500.00", got)
	}
}

func TestBankingRequiresActiveLoginSession(t *testing.T) {
	h := newHarness(t, Models{})
	h.register("Alice", "alice@bank.com", "3520112345671", "03001234567", "1234")

	res, err := h.accounts.Login(h.ctx, LoginRequest{Email: "alice@bank.com", PIN: "1234"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	pending, err := h.sessions.Resolve(h.ctx, res.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, err = h.banking.Deposit(h.ctx, pending, DepositRequest{Amount: "10", PIN: "1234"})
	assertIs(t, err, session.ErrUnauthorized)
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	h := newHarness(t, Models{})
	alice, bob, _ := h.aliceAndBob()

	// Separate sessions so the per-session guard does not serialize them.
	const n = 8
	sessions := make([]*session.Session, n)
	for i := range sessions {
		sessions[i] = h.login("alice@bank.com", "1234")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.banking.Transfer(h.ctx, sessions[i], TransferRequest{ReceiverAcc: bob.AccountNo, Amount: "1000", PIN: "1234"})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrInsufficientFunds):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 5 {
		t.Fatalf("expected 5 successful transfers, got %d", ok)
	}
	if h.balance(alice.AccountNo) != "0.00" || h.balance(bob.AccountNo) != "5000.00" {
		t.Fatalf("balances %s / %s", h.balance(alice.AccountNo), h.balance(bob.AccountNo))
	}
}
