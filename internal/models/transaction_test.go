package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var at = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestRecordConstructorsShapeVariants(t *testing.T) {
	amt := decimal.NewFromInt(500)

	dep, err := NewDepositRecord("BOP-10000001", amt, at)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if dep.ReceiverAcc != ReceiverSelf || dep.Category != CategorySavings || dep.Status != StatusSuccess {
		t.Fatalf("unexpected deposit %+v", dep)
	}

	cash, err := NewCashOutRecord("BOP-10000001", amt, at)
	if err != nil {
		t.Fatalf("cash out: %v", err)
	}
	if cash.Kind != KindCashOut || cash.ReceiverAcc != ReceiverATM || cash.Category != CategoryCash {
		t.Fatalf("unexpected cash out %+v", cash)
	}

	ins, err := NewInsuranceEstimate("BOP-10000001", amt, at)
	if err != nil {
		t.Fatalf("insurance: %v", err)
	}
	if ins.MovesMoney() || ins.IsSecurityAlert() || ins.Category != CategoryMedical {
		t.Fatalf("unexpected insurance record %+v", ins)
	}

	if dep.ID == cash.ID {
		t.Fatal("records must get distinct ids")
	}
}

func TestRecordConstructorsRejectInvalid(t *testing.T) {
	if _, err := NewTransferRecord("BOP-10000001", "BOP-10000001", "Me", decimal.NewFromInt(1), at); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("self transfer record must be invalid, got %v", err)
	}
	if _, err := NewQRPaymentRecord("BOP-10000001", "", "", decimal.NewFromInt(1), at); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("qr payment without receiver must be invalid, got %v", err)
	}
	if _, err := NewDepositRecord("BOP-10000001", decimal.Zero, at); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("zero amount must be invalid, got %v", err)
	}
	if _, err := NewCashOutRecord("", decimal.NewFromInt(1), at); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("missing sender must be invalid, got %v", err)
	}
}

func TestBlockedRecordIsAlertWithoutMovingMoney(t *testing.T) {
	rec, _ := NewTransferRecord("BOP-10000001", "BOP-10000002", "Ali Raza", decimal.NewFromInt(900), at)
	blocked := rec.AsBlocked()
	if err := blocked.Validate(); err != nil {
		t.Fatalf("blocked record should validate: %v", err)
	}
	if blocked.MovesMoney() || !blocked.IsSecurityAlert() {
		t.Fatalf("unexpected blocked record %+v", blocked)
	}
	if rec.Status != StatusSuccess {
		t.Fatal("AsBlocked must not mutate its receiver")
	}
	if got := blocked.ActivityLine(); got != "Blocked Transfer of Rs.900.00" {
		t.Fatalf("unexpected activity line %q", got)
	}
}

func TestPostingValidate(t *testing.T) {
	amt := decimal.NewFromInt(100)
	rec, _ := NewTransferRecord("A", "B", "Bee", amt, at)
	ins, _ := NewInsuranceEstimate("A", amt, at)

	ok := Posting{
		Legs:    []Leg{{AccountNo: "A", Delta: amt.Neg()}, {AccountNo: "B", Delta: amt}},
		Records: []TransactionRecord{rec},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid posting rejected: %v", err)
	}

	bad := []Posting{
		{},
		{Legs: []Leg{{AccountNo: "A", Delta: amt}}},
		{Legs: []Leg{{AccountNo: "A", Delta: amt}, {AccountNo: "A", Delta: amt}}, Records: []TransactionRecord{rec}},
		{Legs: []Leg{{AccountNo: "A", Delta: decimal.Zero}}, Records: []TransactionRecord{rec}},
		{Legs: []Leg{{AccountNo: "A", Delta: amt}}, Records: []TransactionRecord{ins}},
	}
	for i, p := range bad {
		if err := p.Validate(); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("posting %d: expected ErrInvalidRecord, got %v", i, err)
		}
	}

	if err := (Posting{Records: []TransactionRecord{ins}}).Validate(); err != nil {
		t.Fatalf("record-only posting rejected: %v", err)
	}
}

func TestApplyLegs(t *testing.T) {
	balances := map[string]decimal.Decimal{
		"A": decimal.NewFromInt(1000),
		"B": decimal.Zero,
	}
	legs := []Leg{{AccountNo: "A", Delta: decimal.NewFromInt(-1000)}, {AccountNo: "B", Delta: decimal.NewFromInt(1000)}}

	next, err := ApplyLegs(balances, legs)
	if err != nil {
		t.Fatalf("ApplyLegs: %v", err)
	}
	if !next["A"].IsZero() || !next["B"].Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected balances %v", next)
	}
	if !balances["A"].Equal(decimal.NewFromInt(1000)) {
		t.Fatal("input balances must not change")
	}

	overdraw := []Leg{{AccountNo: "A", Delta: decimal.NewFromInt(-1001)}}
	if _, err := ApplyLegs(balances, overdraw); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	missing := []Leg{{AccountNo: "Z", Delta: decimal.NewFromInt(1)}}
	if _, err := ApplyLegs(balances, missing); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestUserErrorMatchesSentinel(t *testing.T) {
	err := NewUserError(ErrPinMismatch, "Incorrect PIN. Remaining Attempts: %d", 2)
	if !errors.Is(err, ErrPinMismatch) {
		t.Fatal("user error must unwrap to its sentinel")
	}
	if err.Error() != "Incorrect PIN. Remaining Attempts: 2" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
