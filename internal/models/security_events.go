package models

import "time"

type SecurityEventType string

const (
	EventPINFailed        SecurityEventType = "pin_failed"
	EventAccountLocked    SecurityEventType = "account_locked"
	EventFraudFlagged     SecurityEventType = "fraud_flagged"
	EventFraudOverride    SecurityEventType = "fraud_override"
	EventFraudSelfLock    SecurityEventType = "fraud_self_lock"
	EventModelUnavailable SecurityEventType = "model_unavailable"
	EventPINReset         SecurityEventType = "pin_reset"
	EventLoginSuccess     SecurityEventType = "login_success"
)

type SecurityEvent struct {
	ID          string            `json:"id" db:"id"`
	EventBucket int               `json:"event_bucket" db:"event_bucket"`
	AccountNo   string            `json:"account_no" db:"account_no"`
	EventDate   string            `json:"event_date" db:"event_date"`
	EventTime   time.Time         `json:"event_time" db:"event_time"`
	EventType   SecurityEventType `json:"event_type" db:"event_type"`
	SessionID   string            `json:"session_id,omitempty" db:"session_id"`
	RiskScore   float64           `json:"risk_score" db:"risk_score"`
	Details     string            `json:"details" db:"details"`
}
