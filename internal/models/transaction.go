package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind tags the record variant. Values match the persisted type names.
type TransactionKind string

const (
	KindDeposit    TransactionKind = "Deposit"
	KindTransfer   TransactionKind = "Transfer"
	KindCashOut    TransactionKind = "CASH_OUT"
	KindQRTransfer TransactionKind = "QR Transfer"
	KindInsurance  TransactionKind = "Insurance"
)

type TransactionStatus string

const (
	StatusSuccess   TransactionStatus = "Success"
	StatusFailed    TransactionStatus = "Failed"
	StatusBlocked   TransactionStatus = "Blocked"
	StatusEstimated TransactionStatus = "AI_Estimated"
)

type Category string

const (
	CategorySavings  Category = "Savings"
	CategoryTransfer Category = "Transfer"
	CategoryCash     Category = "Cash"
	CategoryMedical  Category = "Medical"
	CategoryGeneral  Category = "General"
)

const (
	ReceiverSelf = "Self"
	ReceiverATM  = "ATM"
	ReceiverNone = "N/A"
)

// RecordTimeLayout is the wall-clock layout used in activity lines and exports.
const RecordTimeLayout = "2006-01-02 15:04:05"

// TransactionRecord is an immutable ledger entry. Build it with one of the
// New*Record constructors; Seq is assigned by the store on append.
type TransactionRecord struct {
	ID            string            `json:"id" db:"id"`
	Seq           int64             `json:"seq" db:"seq"`
	Date          time.Time         `json:"date" db:"created_at"`
	Kind          TransactionKind   `json:"type" db:"kind"`
	Amount        decimal.Decimal   `json:"amount" db:"amount"`
	Sender        string            `json:"sender" db:"sender"`
	ReceiverAcc   string            `json:"receiver_acc" db:"receiver_acc"`
	ReceiverName  string            `json:"receiver_name" db:"receiver_name"`
	Status        TransactionStatus `json:"status" db:"status"`
	Category      Category          `json:"category" db:"category"`
	FraudScore    float64           `json:"fraud_score" db:"fraud_score"`
	FraudOverride bool              `json:"fraud_override" db:"fraud_override"`
}

func newRecord(kind TransactionKind, amount decimal.Decimal, sender string, at time.Time) TransactionRecord {
	return TransactionRecord{
		ID:           uuid.NewString(),
		Date:         at.UTC(),
		Kind:         kind,
		Amount:       amount,
		Sender:       sender,
		ReceiverAcc:  ReceiverNone,
		ReceiverName: ReceiverNone,
		Status:       StatusSuccess,
		Category:     CategoryGeneral,
	}
}

func NewDepositRecord(accountNo string, amount decimal.Decimal, at time.Time) (TransactionRecord, error) {
	r := newRecord(KindDeposit, amount, accountNo, at)
	r.ReceiverAcc = ReceiverSelf
	r.ReceiverName = ReceiverSelf
	r.Category = CategorySavings
	return r, r.Validate()
}

func NewTransferRecord(sender, receiverAcc, receiverName string, amount decimal.Decimal, at time.Time) (TransactionRecord, error) {
	r := newRecord(KindTransfer, amount, sender, at)
	r.ReceiverAcc = receiverAcc
	r.ReceiverName = receiverName
	r.Category = CategoryTransfer
	return r, r.Validate()
}

func NewCashOutRecord(accountNo string, amount decimal.Decimal, at time.Time) (TransactionRecord, error) {
	r := newRecord(KindCashOut, amount, accountNo, at)
	r.ReceiverAcc = ReceiverATM
	r.Category = CategoryCash
	return r, r.Validate()
}

func NewQRPaymentRecord(sender, receiverAcc, receiverName string, amount decimal.Decimal, at time.Time) (TransactionRecord, error) {
	r := newRecord(KindQRTransfer, amount, sender, at)
	r.ReceiverAcc = receiverAcc
	r.ReceiverName = receiverName
	r.Category = CategoryTransfer
	return r, r.Validate()
}

// NewInsuranceEstimate records a premium estimate. It never moves money.
func NewInsuranceEstimate(accountNo string, premium decimal.Decimal, at time.Time) (TransactionRecord, error) {
	r := newRecord(KindInsurance, premium, accountNo, at)
	r.Status = StatusEstimated
	r.Category = CategoryMedical
	return r, r.Validate()
}

// WithFraud annotates a record with the score it was committed under.
func (r TransactionRecord) WithFraud(score float64, override bool) TransactionRecord {
	r.FraudScore = score
	r.FraudOverride = override
	return r
}

// AsBlocked turns a proposed debit into the record of an attempt the account
// holder stopped by locking the account. It moves no money.
func (r TransactionRecord) AsBlocked() TransactionRecord {
	r.Status = StatusBlocked
	return r
}

// Validate enforces the per-variant shape of a record.
func (r TransactionRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Sender) == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidRecord)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRecord)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidRecord)
	}

	switch r.Kind {
	case KindDeposit:
		if r.ReceiverAcc != ReceiverSelf || r.Status != StatusSuccess {
			return fmt.Errorf("%w: deposit must credit self", ErrInvalidRecord)
		}
	case KindTransfer, KindQRTransfer:
		if err := r.validateDebitStatus(); err != nil {
			return err
		}
		if r.ReceiverAcc == "" || r.ReceiverAcc == ReceiverNone {
			return fmt.Errorf("%w: %s requires a receiver", ErrInvalidRecord, r.Kind)
		}
		if r.ReceiverAcc == r.Sender {
			return fmt.Errorf("%w: %s to own account", ErrInvalidRecord, r.Kind)
		}
	case KindCashOut:
		if err := r.validateDebitStatus(); err != nil {
			return err
		}
		if r.ReceiverAcc != ReceiverATM {
			return fmt.Errorf("%w: cash out must go to ATM", ErrInvalidRecord)
		}
	case KindInsurance:
		if r.Status != StatusEstimated {
			return fmt.Errorf("%w: insurance records are estimates", ErrInvalidRecord)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind)
	}
	return nil
}

func (r TransactionRecord) validateDebitStatus() error {
	switch r.Status {
	case StatusSuccess, StatusFailed, StatusBlocked:
		return nil
	}
	return fmt.Errorf("%w: status %q not valid for %s", ErrInvalidRecord, r.Status, r.Kind)
}

// MovesMoney reports whether the record corresponds to a balance mutation.
func (r TransactionRecord) MovesMoney() bool {
	return r.Kind != KindInsurance && r.Status == StatusSuccess
}

// Involves reports whether the account sent or received this record.
func (r TransactionRecord) Involves(accountNo string) bool {
	return r.Sender == accountNo || r.ReceiverAcc == accountNo
}

// IsSecurityAlert marks records whose status is neither success nor estimate.
func (r TransactionRecord) IsSecurityAlert() bool {
	return r.Status != StatusSuccess && r.Status != StatusEstimated
}

// ActivityLine is the activity log text written for a committed record.
func (r TransactionRecord) ActivityLine() string {
	return fmt.Sprintf("%s %s of Rs.%s", r.Status, r.Kind, r.Amount.StringFixed(2))
}

// Leg is a signed balance change on one account.
type Leg struct {
	AccountNo string          `json:"account_no"`
	Delta     decimal.Decimal `json:"delta"`
}

// Posting is applied by a store as a single unit: every leg and every record,
// or nothing.
type Posting struct {
	Legs    []Leg               `json:"legs"`
	Records []TransactionRecord `json:"records"`
}

// Validate checks the posting before any store sees it.
func (p Posting) Validate() error {
	if len(p.Legs) == 0 && len(p.Records) == 0 {
		return fmt.Errorf("%w: empty posting", ErrInvalidRecord)
	}
	seen := make(map[string]struct{}, len(p.Legs))
	for _, leg := range p.Legs {
		if leg.AccountNo == "" || leg.Delta.IsZero() {
			return fmt.Errorf("%w: malformed leg", ErrInvalidRecord)
		}
		if _, dup := seen[leg.AccountNo]; dup {
			return fmt.Errorf("%w: duplicate leg for %s", ErrInvalidRecord, leg.AccountNo)
		}
		seen[leg.AccountNo] = struct{}{}
	}
	if len(p.Legs) > 0 && len(p.Records) == 0 {
		return fmt.Errorf("%w: balance change without a record", ErrInvalidRecord)
	}
	for _, r := range p.Records {
		if err := r.Validate(); err != nil {
			return err
		}
		if len(p.Legs) > 0 && !r.MovesMoney() {
			return fmt.Errorf("%w: %s cannot accompany a balance change", ErrInvalidRecord, r.Kind)
		}
	}
	return nil
}

// AccountNos returns the accounts touched by the posting.
func (p Posting) AccountNos() []string {
	out := make([]string, 0, len(p.Legs))
	for _, leg := range p.Legs {
		out = append(out, leg.AccountNo)
	}
	return out
}

// ApplyLegs returns the new balances the legs would produce, or
// ErrInsufficientFunds if any would go negative. balances is not modified.
func ApplyLegs(balances map[string]decimal.Decimal, legs []Leg) (map[string]decimal.Decimal, error) {
	next := make(map[string]decimal.Decimal, len(legs))
	for _, leg := range legs {
		current, ok := balances[leg.AccountNo]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, leg.AccountNo)
		}
		updated := current.Add(leg.Delta)
		if updated.IsNegative() {
			return nil, fmt.Errorf("%w: available %s", ErrInsufficientFunds, current.StringFixed(2))
		}
		next[leg.AccountNo] = updated
	}
	return next, nil
}
