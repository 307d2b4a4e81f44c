package fraud

import (
	"context"
	"fmt"
	"math"

	"bank-service/internal/client"
	"bank-service/internal/models"

	"github.com/shopspring/decimal"
)

// TxType is the transaction type tag the scoring model was trained on.
type TxType string

const (
	TypeTransfer TxType = "TRANSFER"
	TypeCashOut  TxType = "CASH_OUT"
	TypePayment  TxType = "PAYMENT"
)

// Features is the seven-value input of the fraud model.
type Features struct {
	Step           int64
	Type           TxType
	Amount         decimal.Decimal
	OldBalanceOrig decimal.Decimal
	NewBalanceOrig decimal.Decimal
	OldBalanceDest decimal.Decimal
	NewBalanceDest decimal.Decimal
}

// NewFeatures derives the balances around a debit of amount from a sender
// holding senderBalance. receiverBalance is nil when the money leaves the
// bank (ATM); the receiver is then scored as an empty account credited with
// the amount.
func NewFeatures(step int64, typ TxType, amount, senderBalance decimal.Decimal, receiverBalance *decimal.Decimal) Features {
	if step < 1 {
		step = 1
	}
	f := Features{
		Step:           step,
		Type:           typ,
		Amount:         amount,
		OldBalanceOrig: senderBalance,
		NewBalanceOrig: senderBalance.Sub(amount),
		OldBalanceDest: decimal.Zero,
		NewBalanceDest: amount,
	}
	if receiverBalance != nil {
		f.OldBalanceDest = *receiverBalance
		f.NewBalanceDest = receiverBalance.Add(amount)
	}
	return f
}

// Wipeout reports a debit that would leave the sender at exactly zero.
func (f Features) Wipeout() bool {
	return f.NewBalanceOrig.IsZero() && f.Amount.IsPositive()
}

// Prediction is the raw model answer. IsFraud is the model's own opinion and
// is not used for gating; Policy decides from Probability.
type Prediction struct {
	IsFraud     bool    `json:"is_fraud"`
	Probability float64 `json:"probability"`
}

// Scorer scores a prospective transaction.
type Scorer interface {
	Predict(ctx context.Context, f Features) (Prediction, error)
}

type predictRequest struct {
	Step           int64   `json:"step"`
	Type           string  `json:"type"`
	Amount         float64 `json:"amount"`
	OldBalanceOrg  float64 `json:"oldbalanceOrg"`
	NewBalanceOrig float64 `json:"newbalanceOrig"`
	OldBalanceDest float64 `json:"oldbalanceDest"`
	NewBalanceDest float64 `json:"newbalanceDest"`
}

// HTTPScorer calls POST /predict on the fraud model service.
type HTTPScorer struct {
	client *client.ModelClient
}

func NewHTTPScorer(c *client.ModelClient) *HTTPScorer {
	return &HTTPScorer{client: c}
}

func (s *HTTPScorer) Predict(ctx context.Context, f Features) (Prediction, error) {
	req := predictRequest{
		Step:           f.Step,
		Type:           string(f.Type),
		Amount:         f.Amount.InexactFloat64(),
		OldBalanceOrg:  f.OldBalanceOrig.InexactFloat64(),
		NewBalanceOrig: f.NewBalanceOrig.InexactFloat64(),
		OldBalanceDest: f.OldBalanceDest.InexactFloat64(),
		NewBalanceDest: f.NewBalanceDest.InexactFloat64(),
	}

	var p Prediction
	if err := s.client.PostJSON(ctx, "/predict", req, &p); err != nil {
		return Prediction{}, err
	}
	if math.IsNaN(p.Probability) || p.Probability < 0 || p.Probability > 1 {
		return Prediction{}, fmt.Errorf("%w: probability %v out of range", models.ErrModelUnavailable, p.Probability)
	}
	return p, nil
}
