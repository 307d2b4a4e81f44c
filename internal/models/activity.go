package models

import "time"

// ActivityEntry is one append-only audit line for an account.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp" db:"created_at"`
	AccountNo string    `json:"account_no" db:"account_no"`
	Activity  string    `json:"activity" db:"activity"`
}

// ChatInteraction records one assistant exchange with its sentiment analysis.
type ChatInteraction struct {
	ID            string    `json:"id" db:"id"`
	Timestamp     time.Time `json:"timestamp" db:"created_at"`
	AccountNo     string    `json:"account_no" db:"account_no"`
	UserName      string    `json:"user_name" db:"user_name"`
	Message       string    `json:"message" db:"message"`
	Reply         string    `json:"reply" db:"reply"`
	Sentiment     string    `json:"sentiment" db:"sentiment"`
	Confidence    string    `json:"confidence" db:"confidence"`
	ImportantWord string    `json:"important_word" db:"important_word"`
	Action        string    `json:"action" db:"action"`
}
