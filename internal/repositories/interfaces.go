package repositories

import (
	"context"
	"time"

	domain "github.com/gestao-oficina/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists work orders. Every mutation runs as one atomic
// store transaction: the document version moves by exactly one per call and
// an audit entry is appended to the order's history stream.
type OrderRepository interface {
	// Create writes the order, decrements inventory for every part line, and
	// records one stock movement per part. Insufficient stock for any part
	// aborts the whole transaction.
	Create(ctx context.Context, tenantID string, order domain.WorkOrder, actor string) (domain.WorkOrder, error)

	FindByID(ctx context.Context, tenantID, orderID string) (domain.WorkOrder, error)
	List(ctx context.Context, tenantID string, filter OrderListFilter) ([]domain.WorkOrder, error)
	ListHistory(ctx context.Context, tenantID, orderID string, limit int) ([]domain.HistoryEntry, error)

	RegisterPayment(ctx context.Context, tenantID, orderID string, req PaymentRequest) (domain.WorkOrder, error)
	ChangeStatus(ctx context.Context, tenantID, orderID string, req StatusChangeRequest) (domain.WorkOrder, error)

	// Update applies the patch only when the stored version still equals
	// ExpectedVersion; a stale version fails with OrderErrorVersionConflict
	// and leaves the document untouched.
	Update(ctx context.Context, tenantID, orderID string, req OrderUpdateRequest) (domain.WorkOrder, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status      *domain.OrderStatus
	ClientID    string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
}

// PaymentRequest records one payment against an order.
type PaymentRequest struct {
	Amount int64
	Method string
	Actor  string
	Now    time.Time
}

// StatusChangeRequest moves an order through the lifecycle state machine.
type StatusChangeRequest struct {
	NewStatus domain.OrderStatus
	Actor     string
	Now       time.Time
}

// OrderUpdateRequest carries an optimistic-concurrency patch. Nil fields are
// left unchanged; money fields trigger a totals recomputation.
type OrderUpdateRequest struct {
	Patch           OrderPatch
	ExpectedVersion int64
	Actor           string
	Now             time.Time
}

// OrderPatch lists the mutable order fields.
type OrderPatch struct {
	Services      *[]domain.ServiceLine
	Discount      *int64
	Priority      *domain.Priority
	Notes         *string
	PaymentMethod *string
	DueDate       *time.Time
	ClearDueDate  bool
	Checklist     *domain.ChecklistSummary
}

// InventoryRepository manages stocked parts and their immutable movement log.
type InventoryRepository interface {
	Put(ctx context.Context, tenantID string, item domain.InventoryItem) (domain.InventoryItem, error)
	FindByID(ctx context.Context, tenantID, partID string) (domain.InventoryItem, error)
	List(ctx context.Context, tenantID string, filter InventoryListFilter) ([]domain.InventoryItem, error)
	ListLowStock(ctx context.Context, tenantID string, limit int) ([]domain.InventoryItem, error)

	// StockIn and StockOut adjust the on-hand quantity transactionally and
	// append one movement record with before/after quantities.
	StockIn(ctx context.Context, tenantID string, adj StockAdjustment) (domain.InventoryItem, error)
	StockOut(ctx context.Context, tenantID string, adj StockAdjustment) (domain.InventoryItem, error)

	ListMovements(ctx context.Context, tenantID, partID string, limit int) ([]domain.StockMovement, error)
}

// InventoryListFilter narrows inventory listings.
type InventoryListFilter struct {
	LowStockOnly bool
	Limit        int
}

// StockAdjustment describes one manual stock receipt or withdrawal.
type StockAdjustment struct {
	PartID   string
	Quantity int
	Note     string
	Actor    string
	Now      time.Time
}

// CounterRepository allocates monotonic sequence values per tenant.
type CounterRepository interface {
	Next(ctx context.Context, tenantID, counterID string, step int64) (int64, error)
}

// HealthRepository aggregates dependency checks used by readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
