package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/gestao-oficina/api/internal/domain"
	"github.com/gestao-oficina/api/internal/platform/inflight"
	"github.com/gestao-oficina/api/internal/repositories"
)

const (
	opStockIn  = "inventory.stockIn"
	opStockOut = "inventory.stockOut"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid data.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryNotFound indicates the part has no inventory record.
	ErrInventoryNotFound = errors.New("inventory: part not found")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryInFlight indicates an identical adjustment is still running.
	ErrInventoryInFlight = errors.New("inventory: identical operation in progress")
)

// InventoryServiceDeps bundles collaborators required to construct the inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Guard     SubmissionGuard
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)

	// LowStock is notified when an adjustment leaves a part at or below its
	// reorder floor. Optional.
	LowStock func(ctx context.Context, item domain.InventoryItem)
}

type inventoryService struct {
	inventory repositories.InventoryRepository
	guard     SubmissionGuard
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	lowStock  func(context.Context, domain.InventoryItem)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}
	if deps.Guard == nil {
		return nil, errors.New("inventory service: submission guard is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	lowStock := deps.LowStock
	if lowStock == nil {
		lowStock = func(context.Context, domain.InventoryItem) {}
	}

	return &inventoryService{
		inventory: deps.Inventory,
		guard:     deps.Guard,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:   logger,
		lowStock: lowStock,
	}, nil
}

func (s *inventoryService) PutPart(ctx context.Context, cmd PutPartCommand) (domain.InventoryItem, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return domain.InventoryItem{}, fmt.Errorf("%w: tenant id is required", ErrInventoryInvalidInput)
	}
	partID := strings.TrimSpace(cmd.PartID)
	if partID == "" {
		return domain.InventoryItem{}, fmt.Errorf("%w: part id is required", ErrInventoryInvalidInput)
	}
	if strings.TrimSpace(cmd.Name) == "" {
		return domain.InventoryItem{}, fmt.Errorf("%w: part name is required", ErrInventoryInvalidInput)
	}
	if cmd.QuantityOnHand < 0 || cmd.MinimumQuantity < 0 {
		return domain.InventoryItem{}, fmt.Errorf("%w: quantities must be >= 0", ErrInventoryInvalidInput)
	}
	if cmd.CostPrice < 0 || cmd.SalePrice < 0 {
		return domain.InventoryItem{}, fmt.Errorf("%w: prices must be >= 0", ErrInventoryInvalidInput)
	}

	item, err := s.inventory.Put(ctx, tenantID, domain.InventoryItem{
		ID:              partID,
		Name:            strings.TrimSpace(cmd.Name),
		Code:            strings.TrimSpace(cmd.Code),
		QuantityOnHand:  cmd.QuantityOnHand,
		MinimumQuantity: cmd.MinimumQuantity,
		CostPrice:       cmd.CostPrice,
		SalePrice:       cmd.SalePrice,
		Supplier:        strings.TrimSpace(cmd.Supplier),
	})
	if err != nil {
		return domain.InventoryItem{}, s.mapRepositoryError(err)
	}
	return item, nil
}

func (s *inventoryService) GetPart(ctx context.Context, tenantID, partID string) (domain.InventoryItem, error) {
	tenantID = strings.TrimSpace(tenantID)
	partID = strings.TrimSpace(partID)
	if tenantID == "" {
		return domain.InventoryItem{}, fmt.Errorf("%w: tenant id is required", ErrInventoryInvalidInput)
	}
	if partID == "" {
		return domain.InventoryItem{}, fmt.Errorf("%w: part id is required", ErrInventoryInvalidInput)
	}

	item, err := s.inventory.FindByID(ctx, tenantID, partID)
	if err != nil {
		return domain.InventoryItem{}, s.mapRepositoryError(err)
	}
	return item, nil
}

func (s *inventoryService) ListParts(ctx context.Context, query InventoryListQuery) ([]domain.InventoryItem, error) {
	tenantID := strings.TrimSpace(query.TenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInventoryInvalidInput)
	}

	items, err := s.inventory.List(ctx, tenantID, repositories.InventoryListFilter{
		LowStockOnly: query.LowStockOnly,
		Limit:        query.Limit,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return items, nil
}

func (s *inventoryService) StockIn(ctx context.Context, cmd StockAdjustCommand) (domain.InventoryItem, error) {
	return s.adjust(ctx, opStockIn, cmd, s.inventory.StockIn)
}

func (s *inventoryService) StockOut(ctx context.Context, cmd StockAdjustCommand) (domain.InventoryItem, error) {
	return s.adjust(ctx, opStockOut, cmd, s.inventory.StockOut)
}

func (s *inventoryService) adjust(ctx context.Context, op string, cmd StockAdjustCommand, fn func(context.Context, string, repositories.StockAdjustment) (domain.InventoryItem, error)) (domain.InventoryItem, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	partID := strings.TrimSpace(cmd.PartID)
	if tenantID == "" {
		return domain.InventoryItem{}, fmt.Errorf("%w: tenant id is required", ErrInventoryInvalidInput)
	}
	if partID == "" {
		return domain.InventoryItem{}, fmt.Errorf("%w: part id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return domain.InventoryItem{}, fmt.Errorf("%w: quantity must be > 0", ErrInventoryInvalidInput)
	}

	if session := strings.TrimSpace(cmd.SessionID); session != "" {
		key := inflight.Key{
			Operation: op,
			TenantID:  tenantID,
			TargetID:  partID,
			SessionID: session,
		}
		if err := s.guard.Acquire(key); err != nil {
			if errors.Is(err, inflight.ErrOperationInProgress) {
				return domain.InventoryItem{}, fmt.Errorf("%w: %v", ErrInventoryInFlight, err)
			}
			return domain.InventoryItem{}, fmt.Errorf("%w: %v", ErrInventoryInvalidInput, err)
		}
		defer s.guard.Release(key)
	}

	item, err := fn(ctx, tenantID, repositories.StockAdjustment{
		PartID:   partID,
		Quantity: cmd.Quantity,
		Note:     strings.TrimSpace(cmd.Note),
		Actor:    strings.TrimSpace(cmd.Actor),
		Now:      s.clock(),
	})
	if err != nil {
		return domain.InventoryItem{}, s.mapRepositoryError(err)
	}

	if item.LowStock() {
		s.logger(ctx, "inventory.low_stock", map[string]any{
			"part":    item.ID,
			"onHand":  item.QuantityOnHand,
			"minimum": item.MinimumQuantity,
		})
		s.lowStock(ctx, item)
	}

	return item, nil
}

func (s *inventoryService) ListMovements(ctx context.Context, tenantID, partID string, limit int) ([]domain.StockMovement, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInventoryInvalidInput)
	}

	movements, err := s.inventory.ListMovements(ctx, tenantID, partID, limit)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return movements, nil
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		case repositories.InventoryErrorPartNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryNotFound, invErr.Message)
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInventoryInsufficientStock, invErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrInventoryNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return err
}
