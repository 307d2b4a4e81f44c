package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bank-service/internal/events"
	"bank-service/internal/fraud"
	"bank-service/internal/models"
	"bank-service/internal/repository"
	"bank-service/internal/rules"
	"bank-service/internal/session"
	"bank-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeCommitted         Outcome = "committed"
	OutcomeNeedsConfirmation Outcome = "needs_confirmation"
	OutcomeCancelled         Outcome = "cancelled"
	OutcomeLocked            Outcome = "locked"
)

// Decision is the account holder's answer to a fraud flag.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionLock    Decision = "lock"
	DecisionCancel  Decision = "cancel"
)

const historySearchLimit = 100

type DepositRequest struct {
	Amount string `json:"amount"`
	PIN    string `json:"pin"`
}

type TransferRequest struct {
	ReceiverAcc string `json:"receiver_acc"`
	Amount      string `json:"amount"`
	PIN         string `json:"pin"`
}

type WithdrawRequest struct {
	Amount string `json:"amount"`
	PIN    string `json:"pin"`
}

// QRPayRequest carries the decoded text of a scanned receive code.
type QRPayRequest struct {
	Payload string `json:"payload"`
	Amount  string `json:"amount"`
	PIN     string `json:"pin"`
}

type ConfirmRequest struct {
	Token    string   `json:"token"`
	Decision Decision `json:"decision"`
}

type TransactionResult struct {
	Outcome      Outcome                   `json:"outcome"`
	Message      string                    `json:"message"`
	Record       *models.TransactionRecord `json:"record,omitempty"`
	Balance      *decimal.Decimal          `json:"balance,omitempty"`
	Fraud        *fraud.Assessment         `json:"fraud,omitempty"`
	PendingToken string                    `json:"pending_token,omitempty"`
	ExpiresAt    *time.Time                `json:"expires_at,omitempty"`
}

// HistoryEntry is a record as seen by one of its parties.
type HistoryEntry struct {
	models.TransactionRecord
	Direction     string `json:"direction"`
	SecurityAlert bool   `json:"security_alert"`
}

// HistorySearcher answers free-text queries over an account's records.
type HistorySearcher interface {
	SearchHistory(ctx context.Context, accountNo, text string, limit int) ([]models.TransactionRecord, error)
}

// BankingService orchestrates deposits, transfers, ATM withdrawals and QR
// payments: amount check, PIN gate, fraud check, then one atomic commit.
type BankingService struct {
	g          *guard
	fraud      *fraud.Checker
	pending    repository.PendingStore
	pendingTTL time.Duration
	opTimeout  time.Duration
	search     HistorySearcher
	now        func() time.Time
	logger     *zap.Logger
}

func NewBankingService(d Deps, checker *fraud.Checker, pending repository.PendingStore, pendingTTL time.Duration, search HistorySearcher) *BankingService {
	if pendingTTL <= 0 {
		pendingTTL = 2 * time.Minute
	}
	return &BankingService{
		g:          d.guard("banking"),
		fraud:      checker,
		pending:    pending,
		pendingTTL: pendingTTL,
		opTimeout:  d.operationTimeout(),
		search:     search,
		now:        time.Now,
		logger:     d.logger("banking"),
	}
}

func (s *BankingService) Deposit(ctx context.Context, sess *session.Session, req DepositRequest) (res *TransactionResult, err error) {
	done, err := s.g.begin(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer func() { done(err) }()

	err = s.g.ledger.WithAccounts(ctx, []string{sess.AccountNo}, func(ctx context.Context) error {
		acct, err := s.g.ledger.Account(ctx, sess.AccountNo)
		if err != nil {
			return err
		}
		amount, err := rules.ValidateAmount(req.Amount, acct.Balance, false)
		if err != nil {
			s.g.activity(ctx, acct.AccountNo, "Attempted deposit with invalid amount: "+util.StripControl(req.Amount))
			return err
		}
		if err := s.g.checkPIN(ctx, sess, acct, req.PIN, string(models.KindDeposit)); err != nil {
			return err
		}

		rec, err := models.NewDepositRecord(acct.AccountNo, amount, s.now())
		if err != nil {
			return err
		}
		committed, err := s.commit(ctx, []models.Leg{{AccountNo: acct.AccountNo, Delta: amount}}, rec)
		if err != nil {
			return err
		}
		balance := acct.Balance.Add(amount)
		res = &TransactionResult{
			Outcome: OutcomeCommitted,
			Message: "Successfully deposited Rs. " + rules.FormatRupees(amount),
			Record:  &committed,
			Balance: &balance,
		}
		return nil
	})
	return res, err
}

func (s *BankingService) Transfer(ctx context.Context, sess *session.Session, req TransferRequest) (res *TransactionResult, err error) {
	done, err := s.g.begin(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer func() { done(err) }()

	receiver := strings.ToUpper(strings.TrimSpace(req.ReceiverAcc))
	if receiver == "" {
		return nil, models.NewUserError(models.ErrInvalidInput, "Receiver account number is required.")
	}
	return s.debit(ctx, sess, models.KindTransfer, receiver, req.Amount, req.PIN)
}

func (s *BankingService) Withdraw(ctx context.Context, sess *session.Session, req WithdrawRequest) (res *TransactionResult, err error) {
	done, err := s.g.begin(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer func() { done(err) }()

	return s.debit(ctx, sess, models.KindCashOut, "", req.Amount, req.PIN)
}

func (s *BankingService) QRPay(ctx context.Context, sess *session.Session, req QRPayRequest) (res *TransactionResult, err error) {
	done, err := s.g.begin(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer func() { done(err) }()

	receiver, err := rules.ParseQRPayload(req.Payload)
	if err != nil {
		return nil, err
	}
	return s.debit(ctx, sess, models.KindQRTransfer, receiver, req.Amount, req.PIN)
}

// debit runs the shared path of every operation that takes money out of the
// session's account. receiverAcc is empty when the money leaves the bank.
func (s *BankingService) debit(ctx context.Context, sess *session.Session, kind models.TransactionKind, receiverAcc, rawAmount, pin string) (*TransactionResult, error) {
	accounts := []string{sess.AccountNo}
	if receiverAcc != "" {
		accounts = append(accounts, receiverAcc)
	}

	var res *TransactionResult
	err := s.g.ledger.WithAccounts(ctx, accounts, func(ctx context.Context) error {
		sender, err := s.g.ledger.Account(ctx, sess.AccountNo)
		if err != nil {
			return err
		}
		var receiver *models.Account
		if receiverAcc != "" {
			if receiver, err = s.recipient(ctx, sender.AccountNo, receiverAcc); err != nil {
				return err
			}
		}

		amount, err := rules.ValidateAmount(rawAmount, sender.Balance, true)
		if err != nil {
			return err
		}
		if err := s.g.checkPIN(ctx, sess, sender, pin, string(kind)); err != nil {
			return err
		}

		step, err := s.g.ledger.NextStep(ctx)
		if err != nil {
			return err
		}
		var receiverBalance *decimal.Decimal
		if receiver != nil {
			b := receiver.Balance
			receiverBalance = &b
		}
		a := s.fraud.Assess(ctx, fraud.NewFeatures(step, fraudType(kind), amount, sender.Balance, receiverBalance))
		if a.Degraded {
			s.g.security(ctx, sess, sender.AccountNo, models.EventModelUnavailable, 0, a.Reason)
		}
		if a.Flagged {
			res, err = s.hold(ctx, sess, kind, sender, receiver, amount, a)
			return err
		}

		rec, err := debitRecord(kind, sender.AccountNo, receiver, amount, s.now())
		if err != nil {
			return err
		}
		committed, err := s.commit(ctx, debitLegs(sender.AccountNo, receiver, amount), rec.WithFraud(a.Score, false))
		if err != nil {
			return err
		}
		balance := sender.Balance.Sub(amount)
		res = &TransactionResult{
			Outcome: OutcomeCommitted,
			Message: debitMessage(kind, receiver, amount),
			Record:  &committed,
			Balance: &balance,
			Fraud:   &a,
		}
		return nil
	})
	return res, err
}

func (s *BankingService) recipient(ctx context.Context, senderAcc, receiverAcc string) (*models.Account, error) {
	if receiverAcc == senderAcc {
		return nil, models.NewUserError(models.ErrSelfTransfer, "You cannot transfer money to your own account.")
	}
	receiver, err := s.g.ledger.Account(ctx, receiverAcc)
	if errors.Is(err, models.ErrAccountNotFound) {
		s.g.activity(ctx, senderAcc, "Failed transfer attempt to: "+util.StripControl(receiverAcc))
		return nil, models.NewUserError(models.ErrRecipientNotFound, "Recipient account %s does not exist.", util.StripControl(receiverAcc))
	}
	return receiver, err
}

// hold parks a flagged debit until the account holder decides on it.
func (s *BankingService) hold(ctx context.Context, sess *session.Session, kind models.TransactionKind, sender, receiver *models.Account, amount decimal.Decimal, a fraud.Assessment) (*TransactionResult, error) {
	pt := &models.PendingTransaction{
		Token:      uuid.NewString(),
		SessionID:  sess.ID,
		AccountNo:  sender.AccountNo,
		Kind:       kind,
		Amount:     amount,
		FraudScore: a.Score,
		Threshold:  a.Threshold,
		CreatedAt:  s.now().UTC(),
	}
	if receiver != nil {
		pt.ReceiverAcc = receiver.AccountNo
		pt.ReceiverName = receiver.FullName()
	}

	pctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.pending.PutPending(pctx, pt, s.pendingTTL); err != nil {
		return nil, fmt.Errorf("%w: hold flagged transaction: %v", models.ErrPersistenceFailure, err)
	}

	s.g.security(ctx, sess, sender.AccountNo, models.EventFraudFlagged, a.Score,
		fmt.Sprintf("%s of Rs.%s held for confirmation", kind, amount.StringFixed(2)))
	s.logger.Warn("transaction flagged for confirmation",
		zap.String("account_no", sender.AccountNo),
		zap.String("kind", string(kind)),
		util.Amount("amount", amount),
		zap.Float64("score", a.Score),
		zap.Float64("threshold", a.Threshold),
		zap.Bool("wipeout", a.Wipeout))

	expires := pt.CreatedAt.Add(s.pendingTTL)
	balance := sender.Balance
	return &TransactionResult{
		Outcome: OutcomeNeedsConfirmation,
		Message: fmt.Sprintf("Security Alert! This transaction looks unusual (risk %.1f%%). "+
			"Approve it, lock your account, or cancel.", a.Score*100),
		Balance:      &balance,
		Fraud:        &a,
		PendingToken: pt.Token,
		ExpiresAt:    &expires,
	}, nil
}

// Confirm resolves a flagged debit: approve commits it as a logged
// override, lock records the attempt as blocked and locks the account,
// cancel discards it.
func (s *BankingService) Confirm(ctx context.Context, sess *session.Session, req ConfirmRequest) (res *TransactionResult, err error) {
	switch req.Decision {
	case DecisionApprove, DecisionLock, DecisionCancel:
	default:
		return nil, models.NewUserError(ErrInvalidDecision, "Decision must be approve, lock or cancel.")
	}

	done, err := s.g.begin(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer func() { done(err) }()

	pctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	pt, err := s.pending.TakePending(pctx, sess.ID, req.Token)
	cancel()
	if err != nil {
		if errors.Is(err, models.ErrPendingNotFound) {
			return nil, models.NewUserError(models.ErrPendingNotFound, "No pending transaction to confirm. It may have expired.")
		}
		return nil, fmt.Errorf("%w: load flagged transaction: %v", models.ErrPersistenceFailure, err)
	}
	if pt.AccountNo != sess.AccountNo {
		return nil, models.NewUserError(models.ErrPendingNotFound, "No pending transaction to confirm. It may have expired.")
	}

	switch req.Decision {
	case DecisionApprove:
		return s.approve(ctx, sess, pt)
	case DecisionLock:
		return s.selfLock(ctx, sess, pt)
	}
	s.logger.Info("flagged transaction cancelled",
		zap.String("account_no", pt.AccountNo),
		zap.String("kind", string(pt.Kind)),
		util.Amount("amount", pt.Amount))
	return &TransactionResult{Outcome: OutcomeCancelled, Message: "Transaction cancelled."}, nil
}

func (s *BankingService) approve(ctx context.Context, sess *session.Session, pt *models.PendingTransaction) (*TransactionResult, error) {
	accounts := []string{pt.AccountNo}
	if pt.ReceiverAcc != "" {
		accounts = append(accounts, pt.ReceiverAcc)
	}

	var res *TransactionResult
	err := s.g.ledger.WithAccounts(ctx, accounts, func(ctx context.Context) error {
		sender, err := s.g.ledger.Account(ctx, pt.AccountNo)
		if err != nil {
			return err
		}
		// Another session may have locked the account while the flag was pending.
		if sender.IsLocked {
			s.g.terminate(ctx, sess, "account locked")
			return models.NewUserError(models.ErrAccountLocked, "ACCOUNT BLOCKED: Please reset your PIN.")
		}
		// The balance may have moved too.
		amount, err := rules.CheckAmount(pt.Amount, sender.Balance, true)
		if err != nil {
			return err
		}
		var receiver *models.Account
		if pt.ReceiverAcc != "" {
			if receiver, err = s.recipient(ctx, sender.AccountNo, pt.ReceiverAcc); err != nil {
				return err
			}
		}

		rec, err := debitRecord(pt.Kind, sender.AccountNo, receiver, amount, s.now())
		if err != nil {
			return err
		}
		committed, err := s.commit(ctx, debitLegs(sender.AccountNo, receiver, amount), rec.WithFraud(pt.FraudScore, true))
		if err != nil {
			return err
		}

		s.g.security(ctx, sess, sender.AccountNo, models.EventFraudOverride, pt.FraudScore,
			fmt.Sprintf("holder approved %s of Rs.%s (threshold %.2f)", pt.Kind, amount.StringFixed(2), pt.Threshold))
		s.logger.Warn("fraud flag overridden by account holder",
			zap.String("account_no", sender.AccountNo),
			zap.Int64("seq", committed.Seq),
			zap.Float64("score", pt.FraudScore),
			zap.Float64("threshold", pt.Threshold))

		balance := sender.Balance.Sub(amount)
		res = &TransactionResult{
			Outcome: OutcomeCommitted,
			Message: debitMessage(pt.Kind, receiver, amount),
			Record:  &committed,
			Balance: &balance,
		}
		return nil
	})
	return res, err
}

func (s *BankingService) selfLock(ctx context.Context, sess *session.Session, pt *models.PendingTransaction) (*TransactionResult, error) {
	var res *TransactionResult
	err := s.g.ledger.WithAccounts(ctx, []string{pt.AccountNo}, func(ctx context.Context) error {
		acct, err := s.g.ledger.Account(ctx, pt.AccountNo)
		if err != nil {
			return err
		}
		if err := s.g.ledger.SetSecurity(ctx, acct.AccountNo, rules.MaxPINAttempts, true); err != nil {
			return err
		}

		var receiver *models.Account
		if pt.ReceiverAcc != "" {
			receiver = &models.Account{AccountNo: pt.ReceiverAcc, FirstName: pt.ReceiverName}
		}
		rec, err := debitRecord(pt.Kind, acct.AccountNo, receiver, pt.Amount, s.now())
		if err != nil {
			return err
		}
		committed, err := s.g.ledger.RecordTransaction(ctx, rec.AsBlocked().WithFraud(pt.FraudScore, false))
		if err != nil {
			return err
		}
		s.g.events.Publish(ctx, events.TransactionCommitted(committed))
		s.g.activity(ctx, acct.AccountNo, committed.ActivityLine())
		s.g.activity(ctx, acct.AccountNo, "Account Locked due to Security/Fraud Alert")
		s.g.security(ctx, sess, acct.AccountNo, models.EventFraudSelfLock, pt.FraudScore,
			fmt.Sprintf("holder locked account instead of %s of Rs.%s", pt.Kind, pt.Amount.StringFixed(2)))

		balance := acct.Balance
		res = &TransactionResult{
			Outcome: OutcomeLocked,
			Message: "Account locked. Verify your identity to reset your PIN.",
			Record:  &committed,
			Balance: &balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.g.terminate(ctx, sess, "fraud self-lock")
	return res, nil
}

func (s *BankingService) commit(ctx context.Context, legs []models.Leg, rec models.TransactionRecord) (models.TransactionRecord, error) {
	recs, err := s.g.ledger.Post(ctx, models.Posting{Legs: legs, Records: []models.TransactionRecord{rec}})
	if err != nil {
		return models.TransactionRecord{}, err
	}
	committed := recs[0]
	s.g.events.Publish(ctx, events.TransactionCommitted(committed))
	s.g.activity(ctx, committed.Sender, committed.ActivityLine())
	return committed, nil
}

// History lists the records the session's account sent or received, newest
// first. A non-empty query filters by recipient, type, category or status.
func (s *BankingService) History(ctx context.Context, sess *session.Session, query string) ([]HistoryEntry, error) {
	if !sess.Authorized() {
		return nil, session.ErrUnauthorized
	}
	query = strings.TrimSpace(query)

	var (
		recs     []models.TransactionRecord
		searched bool
		err      error
	)
	if query != "" && s.search != nil {
		recs, err = s.search.SearchHistory(ctx, sess.AccountNo, query, historySearchLimit)
		if err != nil {
			s.logger.Warn("history search failed, filtering the ledger instead",
				zap.String("account_no", sess.AccountNo), zap.Error(err))
		} else {
			searched = true
		}
	}
	if !searched {
		all, err := s.g.ledger.AccountTransactions(ctx, sess.AccountNo)
		if err != nil {
			return nil, err
		}
		recs = filterRecords(all, query)
	}

	out := make([]HistoryEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, HistoryEntry{
			TransactionRecord: r,
			Direction:         direction(r, sess.AccountNo),
			SecurityAlert:     r.IsSecurityAlert(),
		})
	}
	return out, nil
}

// RecentActivities returns the newest n activity lines of the account.
func (s *BankingService) RecentActivities(ctx context.Context, sess *session.Session, n int) ([]models.ActivityEntry, error) {
	if !sess.Authorized() {
		return nil, session.ErrUnauthorized
	}
	if n <= 0 {
		n = 3
	}
	return s.g.ledger.RecentActivities(ctx, sess.AccountNo, n)
}

func filterRecords(recs []models.TransactionRecord, query string) []models.TransactionRecord {
	if query == "" {
		return recs
	}
	q := strings.ToLower(query)
	out := make([]models.TransactionRecord, 0, len(recs))
	for _, r := range recs {
		for _, field := range []string{r.ReceiverName, r.ReceiverAcc, string(r.Kind), string(r.Category), string(r.Status)} {
			if strings.Contains(strings.ToLower(field), q) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func direction(r models.TransactionRecord, accountNo string) string {
	switch {
	case r.Kind == models.KindInsurance:
		return "none"
	case r.Kind == models.KindDeposit, r.ReceiverAcc == accountNo:
		return "credit"
	}
	return "debit"
}

func fraudType(kind models.TransactionKind) fraud.TxType {
	switch kind {
	case models.KindCashOut:
		return fraud.TypeCashOut
	case models.KindQRTransfer:
		return fraud.TypePayment
	}
	return fraud.TypeTransfer
}

func debitRecord(kind models.TransactionKind, sender string, receiver *models.Account, amount decimal.Decimal, at time.Time) (models.TransactionRecord, error) {
	switch kind {
	case models.KindCashOut:
		return models.NewCashOutRecord(sender, amount, at)
	case models.KindTransfer, models.KindQRTransfer:
		if receiver == nil {
			return models.TransactionRecord{}, fmt.Errorf("%w: %s without receiver", models.ErrInvalidRecord, kind)
		}
		if kind == models.KindQRTransfer {
			return models.NewQRPaymentRecord(sender, receiver.AccountNo, receiver.FullName(), amount, at)
		}
		return models.NewTransferRecord(sender, receiver.AccountNo, receiver.FullName(), amount, at)
	}
	return models.TransactionRecord{}, fmt.Errorf("%w: %s is not a debit", models.ErrInvalidRecord, kind)
}

func debitLegs(sender string, receiver *models.Account, amount decimal.Decimal) []models.Leg {
	legs := []models.Leg{{AccountNo: sender, Delta: amount.Neg()}}
	if receiver != nil {
		legs = append(legs, models.Leg{AccountNo: receiver.AccountNo, Delta: amount})
	}
	return legs
}

func debitMessage(kind models.TransactionKind, receiver *models.Account, amount decimal.Decimal) string {
	if kind == models.KindCashOut {
		return "Please collect your cash: Rs. " + rules.FormatRupees(amount)
	}
	return fmt.Sprintf("Successfully sent Rs. %s to %s", rules.FormatRupees(amount), receiver.FullName())
}
