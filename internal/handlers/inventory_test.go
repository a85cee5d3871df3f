package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/gestao-oficina/api/internal/domain"
	"github.com/gestao-oficina/api/internal/services"
)

type stubInventoryService struct {
	putFn       func(context.Context, services.PutPartCommand) (domain.InventoryItem, error)
	getFn       func(context.Context, string, string) (domain.InventoryItem, error)
	listFn      func(context.Context, services.InventoryListQuery) ([]domain.InventoryItem, error)
	stockInFn   func(context.Context, services.StockAdjustCommand) (domain.InventoryItem, error)
	stockOutFn  func(context.Context, services.StockAdjustCommand) (domain.InventoryItem, error)
	movementsFn func(context.Context, string, string, int) ([]domain.StockMovement, error)
}

func (s *stubInventoryService) PutPart(ctx context.Context, cmd services.PutPartCommand) (domain.InventoryItem, error) {
	if s.putFn != nil {
		return s.putFn(ctx, cmd)
	}
	return domain.InventoryItem{}, errors.New("not implemented")
}

func (s *stubInventoryService) GetPart(ctx context.Context, tenantID, partID string) (domain.InventoryItem, error) {
	if s.getFn != nil {
		return s.getFn(ctx, tenantID, partID)
	}
	return domain.InventoryItem{}, errors.New("not implemented")
}

func (s *stubInventoryService) ListParts(ctx context.Context, query services.InventoryListQuery) ([]domain.InventoryItem, error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return nil, nil
}

func (s *stubInventoryService) StockIn(ctx context.Context, cmd services.StockAdjustCommand) (domain.InventoryItem, error) {
	if s.stockInFn != nil {
		return s.stockInFn(ctx, cmd)
	}
	return domain.InventoryItem{}, errors.New("not implemented")
}

func (s *stubInventoryService) StockOut(ctx context.Context, cmd services.StockAdjustCommand) (domain.InventoryItem, error) {
	if s.stockOutFn != nil {
		return s.stockOutFn(ctx, cmd)
	}
	return domain.InventoryItem{}, errors.New("not implemented")
}

func (s *stubInventoryService) ListMovements(ctx context.Context, tenantID, partID string, limit int) ([]domain.StockMovement, error) {
	if s.movementsFn != nil {
		return s.movementsFn(ctx, tenantID, partID, limit)
	}
	return nil, nil
}

func newInventoryRouter(service services.InventoryService) chi.Router {
	handler := NewInventoryHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/inventory", handler.Routes)
	return router
}

func TestInventoryHandlersPutPart(t *testing.T) {
	var captured services.PutPartCommand
	router := newInventoryRouter(&stubInventoryService{
		putFn: func(_ context.Context, cmd services.PutPartCommand) (domain.InventoryItem, error) {
			captured = cmd
			return domain.InventoryItem{
				ID:              cmd.PartID,
				Name:            cmd.Name,
				QuantityOnHand:  cmd.QuantityOnHand,
				MinimumQuantity: cmd.MinimumQuantity,
				Version:         1,
			}, nil
		},
	})

	body := `{"part_id":"part-1","name":"Oil filter","quantity_on_hand":12,"minimum_quantity":4,"sale_price":2500}`
	req := httptest.NewRequest(http.MethodPost, "/inventory/", bytes.NewBufferString(body))
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.TenantID != "workshop-1" || captured.PartID != "part-1" || captured.Actor != "user-1" {
		t.Fatalf("unexpected command %+v", captured)
	}

	env := decodeEnvelope(t, rr)
	var resp partResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("failed to parse data: %v", err)
	}
	if resp.Part.ID != "part-1" || resp.Part.QuantityOnHand != 12 {
		t.Fatalf("unexpected payload %+v", resp.Part)
	}
}

func TestInventoryHandlersListLowStock(t *testing.T) {
	var captured services.InventoryListQuery
	router := newInventoryRouter(&stubInventoryService{
		listFn: func(_ context.Context, query services.InventoryListQuery) ([]domain.InventoryItem, error) {
			captured = query
			return []domain.InventoryItem{
				{ID: "part-1", Name: "Brake pad", QuantityOnHand: 1, MinimumQuantity: 5},
			}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/inventory/?low_stock=true&limit=20", nil)
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !captured.LowStockOnly || captured.Limit != 20 || captured.TenantID != "workshop-1" {
		t.Fatalf("unexpected query %+v", captured)
	}

	env := decodeEnvelope(t, rr)
	var resp partListResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("failed to parse data: %v", err)
	}
	if len(resp.Items) != 1 || !resp.Items[0].LowStock {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
}

func TestInventoryHandlersListInvalidLowStockParam(t *testing.T) {
	router := newInventoryRouter(&stubInventoryService{})

	req := httptest.NewRequest(http.MethodGet, "/inventory/?low_stock=maybe", nil)
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestInventoryHandlersGetPartNotFound(t *testing.T) {
	router := newInventoryRouter(&stubInventoryService{
		getFn: func(_ context.Context, _, _ string) (domain.InventoryItem, error) {
			return domain.InventoryItem{}, services.ErrInventoryNotFound
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/inventory/missing", nil)
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Error.Code != "part_not_found" {
		t.Fatalf("unexpected error code %s", env.Error.Code)
	}
}

func TestInventoryHandlersStockOut(t *testing.T) {
	var captured services.StockAdjustCommand
	router := newInventoryRouter(&stubInventoryService{
		stockOutFn: func(_ context.Context, cmd services.StockAdjustCommand) (domain.InventoryItem, error) {
			captured = cmd
			return domain.InventoryItem{ID: cmd.PartID, QuantityOnHand: 3}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/inventory/part-1:stockOut", bytes.NewBufferString(`{"quantity":2,"note":"bench use"}`))
	req.Header.Set(sessionHeader, "session-9")
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PartID != "part-1" || captured.Quantity != 2 || captured.Note != "bench use" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.SessionID != "session-9" {
		t.Fatalf("expected session from header, got %s", captured.SessionID)
	}
}

func TestInventoryHandlersStockOutInsufficient(t *testing.T) {
	router := newInventoryRouter(&stubInventoryService{
		stockOutFn: func(_ context.Context, _ services.StockAdjustCommand) (domain.InventoryItem, error) {
			return domain.InventoryItem{}, services.ErrInventoryInsufficientStock
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/inventory/part-1:stockOut", bytes.NewBufferString(`{"quantity":99}`))
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Error.Code != "insufficient_stock" {
		t.Fatalf("unexpected error code %s", env.Error.Code)
	}
}

func TestInventoryHandlersListMovements(t *testing.T) {
	created := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	router := newInventoryRouter(&stubInventoryService{
		movementsFn: func(_ context.Context, tenantID, partID string, limit int) ([]domain.StockMovement, error) {
			if tenantID != "workshop-1" || partID != "part-1" || limit != 10 {
				t.Fatalf("unexpected args %s %s %d", tenantID, partID, limit)
			}
			return []domain.StockMovement{
				{
					ID:             "mov-1",
					PartID:         partID,
					Type:           domain.MovementOut,
					Quantity:       2,
					QuantityBefore: 5,
					QuantityAfter:  3,
					ReferenceType:  domain.MovementReferenceManual,
					CreatedAt:      created,
				},
			}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/inventory/part-1/movements?limit=10", nil)
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	var resp movementListResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("failed to parse data: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].QuantityAfter != 3 {
		t.Fatalf("unexpected movements %+v", resp.Items)
	}
}

func TestInventoryHandlersUnauthenticated(t *testing.T) {
	router := newInventoryRouter(&stubInventoryService{})

	req := httptest.NewRequest(http.MethodGet, "/inventory/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
