package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Payment lifecycle / allocation errors
	ErrInsufficientFunds    = errors.New("received amount below underpayment tolerance")
	ErrNotAllocatable       = errors.New("payment status is not allocation-eligible")
	ErrDuplicateAllocation  = errors.New("credits already allocated for payment")
	ErrTransientProvider    = errors.New("transient provider error")
	ErrTerminalFailure      = errors.New("provider reported terminal payment failure")
	ErrInvalidSignature     = errors.New("webhook signature verification failed")
	ErrInsufficientBalance  = errors.New("insufficient credit balance")
	ErrRefundNotPending     = errors.New("refund request is not pending")
	ErrRefundNotRefundable  = errors.New("payment is not in a refundable status")
	ErrRefundExceedsPayment = errors.New("refund amount exceeds the original payment")
	ErrLockNotAcquired      = errors.New("could not acquire lock")
)
