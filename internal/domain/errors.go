package domain

import (
	"fmt"
	"time"
)

// Error types for consistent error handling across the billing engine.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrAccountNotFound indicates the referenced account does not exist or is
// not visible to the caller.
type ErrAccountNotFound struct {
	AccountID string
}

func (e *ErrAccountNotFound) Error() string {
	return fmt.Sprintf("account not found: %s", e.AccountID)
}

// ErrBillNotFound indicates a bill does not exist or belongs to another account.
type ErrBillNotFound struct {
	BillID    string
	AccountID string
}

func (e *ErrBillNotFound) Error() string {
	if e.AccountID != "" {
		return fmt.Sprintf("bill not found: %s (account %s)", e.BillID, e.AccountID)
	}
	return fmt.Sprintf("bill not found: %s", e.BillID)
}

// ErrCardExpired indicates a purchase was attempted after the card expired.
type ErrCardExpired struct {
	AccountID string
	ExpiredAt time.Time
}

func (e *ErrCardExpired) Error() string {
	return fmt.Sprintf("card %s expired at %s", e.AccountID, e.ExpiredAt.Format("2006-01-02"))
}

// ErrInvalidCycleConfig indicates a closing or due day outside 1..31.
type ErrInvalidCycleConfig struct {
	Field string
	Value int
}

func (e *ErrInvalidCycleConfig) Error() string {
	return fmt.Sprintf("invalid cycle config: %s=%d must be between 1 and 31", e.Field, e.Value)
}

// ErrInsufficientInstallmentCount is returned when fewer than two
// installments reach the splitter. Callers route single purchases elsewhere.
type ErrInsufficientInstallmentCount struct {
	Count int
}

func (e *ErrInsufficientInstallmentCount) Error() string {
	return fmt.Sprintf("installment count must be at least 2, got %d", e.Count)
}

// ErrInvalidTransition indicates an illegal bill status change.
type ErrInvalidTransition struct {
	From  BillStatus
	Event string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("bill in status '%s' does not accept '%s'", e.From, e.Event)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrDuplicate indicates a duplicate operation (idempotency check).
type ErrDuplicate struct {
	Key string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("duplicate operation: %s", e.Key)
}

// ErrForbidden indicates the user lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict indicates the request conflicts with the current state.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}
