package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/gestao-oficina/api/internal/domain"
	"github.com/gestao-oficina/api/internal/platform/inflight"
	"github.com/gestao-oficina/api/internal/repositories"
)

type stubInventoryRepo struct {
	putFn       func(context.Context, string, domain.InventoryItem) (domain.InventoryItem, error)
	findFn      func(context.Context, string, string) (domain.InventoryItem, error)
	listFn      func(context.Context, string, repositories.InventoryListFilter) ([]domain.InventoryItem, error)
	lowStockFn  func(context.Context, string, int) ([]domain.InventoryItem, error)
	stockInFn   func(context.Context, string, repositories.StockAdjustment) (domain.InventoryItem, error)
	stockOutFn  func(context.Context, string, repositories.StockAdjustment) (domain.InventoryItem, error)
	movementsFn func(context.Context, string, string, int) ([]domain.StockMovement, error)
}

func (s *stubInventoryRepo) Put(ctx context.Context, tenantID string, item domain.InventoryItem) (domain.InventoryItem, error) {
	if s.putFn != nil {
		return s.putFn(ctx, tenantID, item)
	}
	return item, nil
}

func (s *stubInventoryRepo) FindByID(ctx context.Context, tenantID, partID string) (domain.InventoryItem, error) {
	if s.findFn != nil {
		return s.findFn(ctx, tenantID, partID)
	}
	return domain.InventoryItem{}, errors.New("not implemented")
}

func (s *stubInventoryRepo) List(ctx context.Context, tenantID string, filter repositories.InventoryListFilter) ([]domain.InventoryItem, error) {
	if s.listFn != nil {
		return s.listFn(ctx, tenantID, filter)
	}
	return nil, nil
}

func (s *stubInventoryRepo) ListLowStock(ctx context.Context, tenantID string, limit int) ([]domain.InventoryItem, error) {
	if s.lowStockFn != nil {
		return s.lowStockFn(ctx, tenantID, limit)
	}
	return nil, nil
}

func (s *stubInventoryRepo) StockIn(ctx context.Context, tenantID string, adj repositories.StockAdjustment) (domain.InventoryItem, error) {
	if s.stockInFn != nil {
		return s.stockInFn(ctx, tenantID, adj)
	}
	return domain.InventoryItem{}, errors.New("not implemented")
}

func (s *stubInventoryRepo) StockOut(ctx context.Context, tenantID string, adj repositories.StockAdjustment) (domain.InventoryItem, error) {
	if s.stockOutFn != nil {
		return s.stockOutFn(ctx, tenantID, adj)
	}
	return domain.InventoryItem{}, errors.New("not implemented")
}

func (s *stubInventoryRepo) ListMovements(ctx context.Context, tenantID, partID string, limit int) ([]domain.StockMovement, error) {
	if s.movementsFn != nil {
		return s.movementsFn(ctx, tenantID, partID, limit)
	}
	return nil, nil
}

func newTestInventoryService(t *testing.T, deps InventoryServiceDeps) InventoryService {
	t.Helper()
	if deps.Inventory == nil {
		deps.Inventory = &stubInventoryRepo{}
	}
	if deps.Guard == nil {
		deps.Guard = inflight.NewGuard()
	}
	svc, err := NewInventoryService(deps)
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}
	return svc
}

func TestInventoryServicePutPart(t *testing.T) {
	var saved domain.InventoryItem
	svc := newTestInventoryService(t, InventoryServiceDeps{
		Inventory: &stubInventoryRepo{
			putFn: func(_ context.Context, tenantID string, item domain.InventoryItem) (domain.InventoryItem, error) {
				if tenantID != "workshop-1" {
					t.Fatalf("unexpected tenant %s", tenantID)
				}
				saved = item
				item.Version = 1
				return item, nil
			},
		},
	})

	item, err := svc.PutPart(context.Background(), PutPartCommand{
		TenantID:        "workshop-1",
		PartID:          "part-1",
		Name:            "  Oil filter  ",
		QuantityOnHand:  10,
		MinimumQuantity: 2,
		CostPrice:       1500,
		SalePrice:       2500,
	})
	if err != nil {
		t.Fatalf("PutPart: %v", err)
	}
	if saved.Name != "Oil filter" {
		t.Fatalf("expected trimmed name, got %q", saved.Name)
	}
	if item.Version != 1 {
		t.Fatalf("unexpected version %d", item.Version)
	}
}

func TestInventoryServicePutPartValidation(t *testing.T) {
	svc := newTestInventoryService(t, InventoryServiceDeps{})
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  PutPartCommand
	}{
		{"missing tenant", PutPartCommand{PartID: "p", Name: "n"}},
		{"missing part id", PutPartCommand{TenantID: "t", Name: "n"}},
		{"missing name", PutPartCommand{TenantID: "t", PartID: "p"}},
		{"negative quantity", PutPartCommand{TenantID: "t", PartID: "p", Name: "n", QuantityOnHand: -1}},
		{"negative price", PutPartCommand{TenantID: "t", PartID: "p", Name: "n", SalePrice: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.PutPart(ctx, tc.cmd); !errors.Is(err, ErrInventoryInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestInventoryServiceStockOut(t *testing.T) {
	now := time.Date(2025, 5, 3, 8, 0, 0, 0, time.UTC)
	svc := newTestInventoryService(t, InventoryServiceDeps{
		Inventory: &stubInventoryRepo{
			stockOutFn: func(_ context.Context, _ string, adj repositories.StockAdjustment) (domain.InventoryItem, error) {
				if adj.Quantity != 3 || adj.PartID != "part-1" {
					t.Fatalf("unexpected adjustment %+v", adj)
				}
				if !adj.Now.Equal(now) {
					t.Fatalf("unexpected timestamp %s", adj.Now)
				}
				return domain.InventoryItem{ID: adj.PartID, QuantityOnHand: 7, MinimumQuantity: 2}, nil
			},
		},
		Clock: func() time.Time { return now },
	})

	item, err := svc.StockOut(context.Background(), StockAdjustCommand{
		TenantID: "t",
		PartID:   "part-1",
		Quantity: 3,
		Actor:    "user-9",
	})
	if err != nil {
		t.Fatalf("StockOut: %v", err)
	}
	if item.QuantityOnHand != 7 {
		t.Fatalf("unexpected on hand %d", item.QuantityOnHand)
	}
}

func TestInventoryServiceStockOutInsufficient(t *testing.T) {
	svc := newTestInventoryService(t, InventoryServiceDeps{
		Inventory: &stubInventoryRepo{
			stockOutFn: func(_ context.Context, _ string, adj repositories.StockAdjustment) (domain.InventoryItem, error) {
				return domain.InventoryItem{}, repositories.NewInsufficientStockError(adj.PartID, adj.Quantity, 1)
			},
		},
	})
	if _, err := svc.StockOut(context.Background(), StockAdjustCommand{
		TenantID: "t",
		PartID:   "part-1",
		Quantity: 5,
	}); !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestInventoryServiceLowStockHook(t *testing.T) {
	var notified []string
	var logged []string
	svc := newTestInventoryService(t, InventoryServiceDeps{
		Inventory: &stubInventoryRepo{
			stockOutFn: func(_ context.Context, _ string, adj repositories.StockAdjustment) (domain.InventoryItem, error) {
				return domain.InventoryItem{ID: adj.PartID, QuantityOnHand: 1, MinimumQuantity: 2}, nil
			},
		},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
		LowStock: func(_ context.Context, item domain.InventoryItem) {
			notified = append(notified, item.ID)
		},
	})

	if _, err := svc.StockOut(context.Background(), StockAdjustCommand{
		TenantID: "t",
		PartID:   "part-1",
		Quantity: 1,
	}); err != nil {
		t.Fatalf("StockOut: %v", err)
	}
	if len(notified) != 1 || notified[0] != "part-1" {
		t.Fatalf("expected low-stock notification, got %v", notified)
	}
	if len(logged) != 1 || logged[0] != "inventory.low_stock" {
		t.Fatalf("expected low-stock log, got %v", logged)
	}
}

func TestInventoryServiceStockAdjustDuplicateSubmission(t *testing.T) {
	guard := inflight.NewGuard()
	if err := guard.Acquire(inflight.Key{
		Operation: "inventory.stockOut",
		TenantID:  "t",
		TargetID:  "part-1",
		SessionID: "session-1",
	}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	svc := newTestInventoryService(t, InventoryServiceDeps{Guard: guard})
	if _, err := svc.StockOut(context.Background(), StockAdjustCommand{
		TenantID:  "t",
		PartID:    "part-1",
		Quantity:  1,
		SessionID: "session-1",
	}); !errors.Is(err, ErrInventoryInFlight) {
		t.Fatalf("expected in-flight error, got %v", err)
	}
}

func TestInventoryServiceListLowStockOnly(t *testing.T) {
	svc := newTestInventoryService(t, InventoryServiceDeps{
		Inventory: &stubInventoryRepo{
			listFn: func(_ context.Context, _ string, filter repositories.InventoryListFilter) ([]domain.InventoryItem, error) {
				if !filter.LowStockOnly {
					t.Fatal("expected low-stock filter")
				}
				return []domain.InventoryItem{{ID: "part-1", QuantityOnHand: 1, MinimumQuantity: 2}}, nil
			},
		},
	})

	items, err := svc.ListParts(context.Background(), InventoryListQuery{TenantID: "t", LowStockOnly: true})
	if err != nil {
		t.Fatalf("ListParts: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
}
