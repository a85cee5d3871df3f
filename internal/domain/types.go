package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus is the closed set of work-order lifecycle states. Values are
// validated at the application boundary; unknown strings never reach the store.
type OrderStatus string

const (
	OrderStatusReceived   OrderStatus = "RECEIVED"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusFinalized  OrderStatus = "FINALIZED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
)

// ParseOrderStatus validates a raw status value against the closed enum.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	switch OrderStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case OrderStatusReceived:
		return OrderStatusReceived, nil
	case OrderStatusInProgress:
		return OrderStatusInProgress, nil
	case OrderStatusFinalized:
		return OrderStatusFinalized, nil
	case OrderStatusDelivered:
		return OrderStatusDelivered, nil
	default:
		return "", fmt.Errorf("unknown order status %q", raw)
	}
}

var orderStatusTransitions = map[OrderStatus]OrderStatus{
	OrderStatusReceived:   OrderStatusInProgress,
	OrderStatusInProgress: OrderStatusFinalized,
	OrderStatusFinalized:  OrderStatusDelivered,
}

// CanTransition reports whether the forward-only state machine permits
// moving from current to target. DELIVERED is terminal.
func CanTransition(current, target OrderStatus) bool {
	next, ok := orderStatusTransitions[current]
	return ok && next == target
}

// Priority ranks how urgently a work order should be handled.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityUrgent Priority = "URGENT"
)

// ParsePriority validates a raw priority value, defaulting empty input to NORMAL.
func ParsePriority(raw string) (Priority, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if trimmed == "" {
		return PriorityNormal, nil
	}
	switch Priority(trimmed) {
	case PriorityLow, PriorityNormal, PriorityUrgent:
		return Priority(trimmed), nil
	default:
		return "", fmt.Errorf("unknown priority %q", raw)
	}
}

// PaymentStatus is derived from paid amount, total, and due date. It is never
// set directly by callers.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusOverdue PaymentStatus = "OVERDUE"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
	PaymentStatusPaid    PaymentStatus = "PAID"
)

// DerivePaymentStatus applies the ledger rule: OVERDUE beats PENDING only
// while nothing has been paid and the due date has lapsed.
func DerivePaymentStatus(paid, total int64, dueDate *time.Time, now time.Time) PaymentStatus {
	if paid <= 0 {
		if dueDate != nil && now.After(*dueDate) {
			return PaymentStatusOverdue
		}
		return PaymentStatusPending
	}
	if paid >= total {
		return PaymentStatusPaid
	}
	return PaymentStatusPartial
}

// PartLine is one stocked part consumed by a work order.
type PartLine struct {
	PartID    string
	Name      string
	Quantity  int
	UnitPrice int64
}

// ServiceLine is one labour item billed on a work order.
type ServiceLine struct {
	Description string
	Value       int64
}

// Financial carries the money fields of a work order. All amounts are
// centavos. RemainingAmount is always Total minus PaidAmount.
type Financial struct {
	PartsTotal      int64
	ServicesTotal   int64
	Discount        int64
	Total           int64
	PaidAmount      int64
	RemainingAmount int64
	PaymentStatus   PaymentStatus
	PaymentMethod   string
	DueDate         *time.Time
}

// ChecklistSummary mirrors the checklist collaborator's state. This core only
// reads it: the finalize guard checks ProgressPercent.
type ChecklistSummary struct {
	Items           []string
	ProgressPercent int
	Status          string
}

// Complete reports whether the checklist permits finalization: either no
// items were assigned or every item is done.
func (c ChecklistSummary) Complete() bool {
	return len(c.Items) == 0 || c.ProgressPercent >= 100
}

// WorkOrder is the order-service aggregate: one vehicle's visit to the
// workshop, its parts, services, money, and audit state.
type WorkOrder struct {
	ID          string
	OrderNumber string
	ClientID    string
	VehicleID   string
	Status      OrderStatus
	Priority    Priority
	Parts       []PartLine
	Services    []ServiceLine
	Financial   Financial
	Checklist   ChecklistSummary
	Notes       string

	// Version increases by exactly one on every committed mutation and backs
	// optimistic concurrency: updates compare it before writing.
	Version int64

	// OperationID is the idempotency token recorded at creation time.
	OperationID string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	FinalizedAt *time.Time
	DeliveredAt *time.Time
}

// HistoryEntryType classifies audit-stream entries.
type HistoryEntryType string

const (
	HistoryEntryCreated      HistoryEntryType = "created"
	HistoryEntryStatusChange HistoryEntryType = "status_change"
	HistoryEntryPayment      HistoryEntryType = "payment"
	HistoryEntryUpdate       HistoryEntryType = "update"
)

// HistoryEntry is one record in the order's append-only audit stream. Seq
// equals the order version the mutation produced, so the stream totally
// orders mutations without an embedded array.
type HistoryEntry struct {
	Seq            int64
	Type           HistoryEntryType
	Description    string
	PreviousStatus OrderStatus
	NewStatus      OrderStatus
	Actor          string
	CreatedAt      time.Time
}

// InventoryItem is one stocked part. QuantityOnHand never goes negative: the
// coordinator aborts any transaction that would breach that.
type InventoryItem struct {
	ID              string
	Name            string
	Code            string
	QuantityOnHand  int
	MinimumQuantity int
	CostPrice       int64
	SalePrice       int64
	Supplier        string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LowStock reports whether the on-hand quantity has reached the reorder floor.
func (i InventoryItem) LowStock() bool {
	return i.QuantityOnHand <= i.MinimumQuantity
}

// MovementType distinguishes stock receipts from withdrawals.
type MovementType string

const (
	MovementIn  MovementType = "IN"
	MovementOut MovementType = "OUT"
)

// StockMovement is an immutable audit record for one stock quantity change.
// Created only as a side effect of inventory writes, never mutated.
type StockMovement struct {
	ID             string
	PartID         string
	Type           MovementType
	Quantity       int
	QuantityBefore int
	QuantityAfter  int
	ReferenceType  string
	ReferenceID    string
	Note           string
	Actor          string
	CreatedAt      time.Time
}

// Movement reference types.
const (
	MovementReferenceOrder  = "order"
	MovementReferenceManual = "manual"
)
