package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PendingTransaction is a fraud-flagged debit held until the account holder
// approves it, locks the account, or lets it lapse.
type PendingTransaction struct {
	Token        string          `json:"token"`
	SessionID    string          `json:"session_id"`
	AccountNo    string          `json:"account_no"`
	Kind         TransactionKind `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	ReceiverAcc  string          `json:"receiver_acc"`
	ReceiverName string          `json:"receiver_name"`
	FraudScore   float64         `json:"fraud_score"`
	Threshold    float64         `json:"threshold"`
	CreatedAt    time.Time       `json:"created_at"`
}
