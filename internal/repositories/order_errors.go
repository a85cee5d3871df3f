package repositories

import "fmt"

// OrderErrorCode enumerates repository error causes for work-order operations.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorInvalidInput indicates the caller supplied invalid arguments.
	OrderErrorInvalidInput OrderErrorCode = "order_invalid_input"
	// OrderErrorNotFound indicates the order document does not exist.
	OrderErrorNotFound OrderErrorCode = "order_not_found"
	// OrderErrorVersionConflict indicates the caller's expected version is stale.
	OrderErrorVersionConflict OrderErrorCode = "order_version_conflict"
	// OrderErrorInvalidTransition indicates the status change is not permitted by the state machine.
	OrderErrorInvalidTransition OrderErrorCode = "order_invalid_transition"
	// OrderErrorChecklistIncomplete indicates finalization was blocked by an unfinished checklist.
	OrderErrorChecklistIncomplete OrderErrorCode = "order_checklist_incomplete"
	// OrderErrorOverpayment indicates the payment would push the paid amount over the total.
	OrderErrorOverpayment OrderErrorCode = "order_overpayment"
)

// OrderError wraps order-specific failures with machine readable codes.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error

	// ChecklistPercent carries the completion percentage when Code is
	// OrderErrorChecklistIncomplete.
	ChecklistPercent int
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewChecklistIncompleteError constructs the finalize-guard error carrying the completion percentage.
func NewChecklistIncompleteError(percent int) *OrderError {
	return &OrderError{
		Code:             OrderErrorChecklistIncomplete,
		Message:          fmt.Sprintf("checklist is %d%% complete, finalization requires 100%%", percent),
		ChecklistPercent: percent,
	}
}
