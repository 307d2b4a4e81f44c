package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the authoritative per-customer record owned by the ledger store.
type Account struct {
	AccountNo          string          `json:"account_no" db:"account_no"`
	FirstName          string          `json:"first_name" db:"first_name"`
	LastName           string          `json:"last_name" db:"last_name"`
	Email              string          `json:"email" db:"email"`
	CNICHash           string          `json:"cnic_hash" db:"cnic_hash"`
	CNICSealed         string          `json:"cnic_sealed" db:"cnic_sealed"`
	PhoneHash          string          `json:"phone_hash" db:"phone_hash"`
	PhoneSealed        string          `json:"phone_sealed" db:"phone_sealed"`
	PINHash            string          `json:"pin_hash" db:"pin_hash"`
	SecurityAnswerHash string          `json:"security_answer_hash" db:"security_answer_hash"`
	Balance            decimal.Decimal `json:"balance" db:"balance"`
	FailedTries        int             `json:"failed_tries" db:"failed_tries"`
	IsLocked           bool            `json:"is_locked" db:"is_locked"`
	FaceID             int             `json:"face_id" db:"face_id"`
	Version            int64           `json:"version" db:"version"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

func (a *Account) FullName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

// Clone returns a copy that can be mutated without touching the stored value.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// AccountView is the account as shown to its owner.
type AccountView struct {
	AccountNo   string          `json:"account_no"`
	FirstName   string          `json:"first_name"`
	LastName    string          `json:"last_name"`
	Email       string          `json:"email"`
	CNIC        string          `json:"cnic,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
	FailedTries int             `json:"failed_tries"`
	IsLocked    bool            `json:"is_locked"`
	FaceID      int             `json:"face_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Recipient is what a payer may see about another account.
type Recipient struct {
	AccountNo string `json:"account_no"`
	Name      string `json:"name"`
}
