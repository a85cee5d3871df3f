package services

import (
	"context"
	"time"

	domain "github.com/gestao-oficina/api/internal/domain"
)

// OrderService orchestrates the work-order aggregate: validation, order
// numbering, the duplicate-submission guard, persistence, and event fan-out.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (domain.WorkOrder, error)
	Get(ctx context.Context, tenantID, orderID string) (domain.WorkOrder, error)
	List(ctx context.Context, query OrderListQuery) ([]domain.WorkOrder, error)
	History(ctx context.Context, tenantID, orderID string, limit int) ([]domain.HistoryEntry, error)

	RegisterPayment(ctx context.Context, cmd RegisterPaymentCommand) (domain.WorkOrder, error)
	ChangeStatus(ctx context.Context, cmd ChangeStatusCommand) (domain.WorkOrder, error)
	Update(ctx context.Context, cmd UpdateOrderCommand) (domain.WorkOrder, error)
}

// PartLineInput is one part requested on order creation.
type PartLineInput struct {
	PartID    string
	Name      string
	Quantity  int
	UnitPrice int64
}

// ServiceLineInput is one labour item billed on an order.
type ServiceLineInput struct {
	Description string
	Value       int64
}

// ChecklistInput mirrors the checklist collaborator's state.
type ChecklistInput struct {
	Items           []string
	ProgressPercent int
	Status          string
}

// CreateOrderCommand carries everything needed to open a work order.
// SessionID identifies the submitting client session; when present the
// duplicate-submission guard rejects a concurrent identical creation.
type CreateOrderCommand struct {
	TenantID      string
	ClientID      string
	VehicleID     string
	Priority      string
	Parts         []PartLineInput
	Services      []ServiceLineInput
	Discount      int64
	Notes         string
	PaymentMethod string
	DueDate       *time.Time
	Checklist     *ChecklistInput
	SessionID     string
	Actor         string
}

// OrderListQuery narrows order listings.
type OrderListQuery struct {
	TenantID    string
	Status      string
	ClientID    string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
}

// RegisterPaymentCommand records one payment against an order.
type RegisterPaymentCommand struct {
	TenantID  string
	OrderID   string
	Amount    int64
	Method    string
	SessionID string
	Actor     string
}

// ChangeStatusCommand moves an order through the lifecycle state machine.
type ChangeStatusCommand struct {
	TenantID     string
	OrderID      string
	TargetStatus string
	SessionID    string
	Actor        string
}

// UpdateOrderPatch lists the mutable order fields. Nil fields are untouched.
type UpdateOrderPatch struct {
	Services      *[]ServiceLineInput
	Discount      *int64
	Priority      *string
	Notes         *string
	PaymentMethod *string
	DueDate       *time.Time
	ClearDueDate  bool
	Checklist     *ChecklistInput
}

// UpdateOrderCommand applies a patch under optimistic concurrency.
type UpdateOrderCommand struct {
	TenantID        string
	OrderID         string
	ExpectedVersion int64
	Patch           UpdateOrderPatch
	SessionID       string
	Actor           string
}

// InventoryService manages stocked parts and manual stock adjustments.
type InventoryService interface {
	PutPart(ctx context.Context, cmd PutPartCommand) (domain.InventoryItem, error)
	GetPart(ctx context.Context, tenantID, partID string) (domain.InventoryItem, error)
	ListParts(ctx context.Context, query InventoryListQuery) ([]domain.InventoryItem, error)

	StockIn(ctx context.Context, cmd StockAdjustCommand) (domain.InventoryItem, error)
	StockOut(ctx context.Context, cmd StockAdjustCommand) (domain.InventoryItem, error)
	ListMovements(ctx context.Context, tenantID, partID string, limit int) ([]domain.StockMovement, error)
}

// PutPartCommand registers or updates a part.
type PutPartCommand struct {
	TenantID        string
	PartID          string
	Name            string
	Code            string
	QuantityOnHand  int
	MinimumQuantity int
	CostPrice       int64
	SalePrice       int64
	Supplier        string
	Actor           string
}

// InventoryListQuery narrows inventory listings.
type InventoryListQuery struct {
	TenantID     string
	LowStockOnly bool
	Limit        int
}

// StockAdjustCommand is one manual stock receipt or withdrawal.
type StockAdjustCommand struct {
	TenantID  string
	PartID    string
	Quantity  int
	Note      string
	SessionID string
	Actor     string
}

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemService exposes dependency health and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
	Build() BuildInfo
	Uptime(now time.Time) time.Duration
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	TenantID       string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	Status         string
	Actor          string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}
