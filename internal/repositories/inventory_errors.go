package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for inventory operations.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorInvalidInput indicates the caller supplied invalid arguments.
	InventoryErrorInvalidInput InventoryErrorCode = "inventory_invalid_input"
	// InventoryErrorPartNotFound indicates the part has no inventory record.
	InventoryErrorPartNotFound InventoryErrorCode = "inventory_part_not_found"
	// InventoryErrorInsufficientStock indicates requested quantity exceeds availability.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
type InventoryError struct {
	Op      string
	Code    InventoryErrorCode
	Message string
	Err     error

	// PartID, Requested and Available identify the failing part when Code is
	// InventoryErrorInsufficientStock or InventoryErrorPartNotFound.
	PartID    string
	Requested int
	Available int
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError names the part whose availability blocked the operation.
func NewInsufficientStockError(partID string, requested, available int) *InventoryError {
	return &InventoryError{
		Code:      InventoryErrorInsufficientStock,
		Message:   fmt.Sprintf("part %s has %d units on hand, %d requested", partID, available, requested),
		PartID:    partID,
		Requested: requested,
		Available: available,
	}
}
