package model

import "time"

// FailureRecord is ephemeral, cache-backed retry state for a failing payment.
// Created on first observed failure, consulted on retry, cleared on terminal
// resolution.
type FailureRecord struct {
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
	Attempts  int    `json:"attempts"`
	// Terminal is set once a provider-final failure has been recorded;
	// transient monitoring noise leaves it false.
	Terminal      bool      `json:"terminal"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// FailureAction is what the classifier decided to do about a failure.
type FailureAction string

const (
	ActionRetried          FailureAction = "retried"
	ActionUserNotified     FailureAction = "user_notified"
	ActionAdminAlerted     FailureAction = "admin_alerted"
	ActionMarkedFailed     FailureAction = "marked_failed"
	ActionCleanupCompleted FailureAction = "cleanup_completed"
)
