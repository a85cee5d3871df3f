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
	"github.com/gestao-oficina/api/internal/platform/auth"
	"github.com/gestao-oficina/api/internal/services"
)

type stubOrderService struct {
	createFn  func(context.Context, services.CreateOrderCommand) (domain.WorkOrder, error)
	getFn     func(context.Context, string, string) (domain.WorkOrder, error)
	listFn    func(context.Context, services.OrderListQuery) ([]domain.WorkOrder, error)
	historyFn func(context.Context, string, string, int) ([]domain.HistoryEntry, error)
	paymentFn func(context.Context, services.RegisterPaymentCommand) (domain.WorkOrder, error)
	statusFn  func(context.Context, services.ChangeStatusCommand) (domain.WorkOrder, error)
	updateFn  func(context.Context, services.UpdateOrderCommand) (domain.WorkOrder, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (domain.WorkOrder, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return domain.WorkOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) Get(ctx context.Context, tenantID, orderID string) (domain.WorkOrder, error) {
	if s.getFn != nil {
		return s.getFn(ctx, tenantID, orderID)
	}
	return domain.WorkOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) List(ctx context.Context, query services.OrderListQuery) ([]domain.WorkOrder, error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return nil, nil
}

func (s *stubOrderService) History(ctx context.Context, tenantID, orderID string, limit int) ([]domain.HistoryEntry, error) {
	if s.historyFn != nil {
		return s.historyFn(ctx, tenantID, orderID, limit)
	}
	return nil, nil
}

func (s *stubOrderService) RegisterPayment(ctx context.Context, cmd services.RegisterPaymentCommand) (domain.WorkOrder, error) {
	if s.paymentFn != nil {
		return s.paymentFn(ctx, cmd)
	}
	return domain.WorkOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) ChangeStatus(ctx context.Context, cmd services.ChangeStatusCommand) (domain.WorkOrder, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, cmd)
	}
	return domain.WorkOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) Update(ctx context.Context, cmd services.UpdateOrderCommand) (domain.WorkOrder, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return domain.WorkOrder{}, errors.New("not implemented")
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code   string `json:"code"`
		Status int    `json:"status"`
	} `json:"error"`
}

func newOrderRouter(service services.OrderService) chi.Router {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func authedRequest(req *http.Request) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{
		UID:        "user-1",
		WorkshopID: "workshop-1",
	}))
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return env
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (domain.WorkOrder, error) {
			captured = cmd
			return domain.WorkOrder{
				ID:          "order-1",
				OrderNumber: "OS-2025-000042",
				ClientID:    cmd.ClientID,
				VehicleID:   cmd.VehicleID,
				Status:      domain.OrderStatusReceived,
				Priority:    domain.PriorityNormal,
				Version:     1,
			}, nil
		},
	}
	router := newOrderRouter(service)

	body := `{
		"client_id": "client-1",
		"vehicle_id": "vehicle-1",
		"parts": [{"part_id": "part-1", "name": "Oil filter", "quantity": 2, "unit_price": 2500}],
		"services": [{"description": "Oil change", "value": 8000}],
		"discount": 1000
	}`
	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(body))
	req.Header.Set(sessionHeader, "session-7")
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.TenantID != "workshop-1" {
		t.Fatalf("expected tenant from workshop claim, got %s", captured.TenantID)
	}
	if captured.Actor != "user-1" {
		t.Fatalf("expected actor from uid, got %s", captured.Actor)
	}
	if captured.SessionID != "session-7" {
		t.Fatalf("expected session from header, got %s", captured.SessionID)
	}
	if len(captured.Parts) != 1 || captured.Parts[0].Quantity != 2 {
		t.Fatalf("unexpected parts %+v", captured.Parts)
	}

	env := decodeEnvelope(t, rr)
	if !env.Success {
		t.Fatalf("expected success envelope, got %s", rr.Body.String())
	}
	var resp orderResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("failed to parse data: %v", err)
	}
	if resp.Order.OrderNumber != "OS-2025-000042" {
		t.Fatalf("unexpected order payload %+v", resp.Order)
	}
}

func TestOrderHandlersCreateOrderRequiresWorkshop(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(`{"client_id":"c"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Error.Code != "missing_workshop" {
		t.Fatalf("unexpected error code %s", env.Error.Code)
	}
}

func TestOrderHandlersCreateOrderInsufficientStock(t *testing.T) {
	router := newOrderRouter(&stubOrderService{
		createFn: func(_ context.Context, _ services.CreateOrderCommand) (domain.WorkOrder, error) {
			return domain.WorkOrder{}, services.ErrInventoryInsufficientStock
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(`{"client_id":"c","vehicle_id":"v","parts":[{"part_id":"p","quantity":1}]}`))
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

func TestOrderHandlersListOrders(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	var captured services.OrderListQuery
	router := newOrderRouter(&stubOrderService{
		listFn: func(_ context.Context, query services.OrderListQuery) ([]domain.WorkOrder, error) {
			captured = query
			return []domain.WorkOrder{
				{
					ID:          "order-1",
					OrderNumber: "OS-2025-000001",
					Status:      domain.OrderStatusInProgress,
					Financial:   domain.Financial{Total: 12000, RemainingAmount: 8000},
					Version:     2,
					CreatedAt:   now,
				},
			}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/?status=IN_PROGRESS&client_id=client-1&limit=10&created_after=2025-04-01T00:00:00Z", nil)
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.TenantID != "workshop-1" || captured.Status != "IN_PROGRESS" || captured.ClientID != "client-1" || captured.Limit != 10 {
		t.Fatalf("unexpected query %+v", captured)
	}
	if captured.CreatedFrom == nil || !captured.CreatedFrom.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected created_after %+v", captured.CreatedFrom)
	}

	env := decodeEnvelope(t, rr)
	var resp orderListResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("failed to parse data: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Remaining != 8000 {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
}

func TestOrderHandlersListOrdersInvalidDate(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/orders/?created_after=not-a-date", nil)
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	router := newOrderRouter(&stubOrderService{
		getFn: func(_ context.Context, _, _ string) (domain.WorkOrder, error) {
			return domain.WorkOrder{}, services.ErrOrderNotFound
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/missing", nil)
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Error.Code != "order_not_found" {
		t.Fatalf("unexpected error code %s", env.Error.Code)
	}
}

func TestOrderHandlersUpdateUsesIfMatchHeader(t *testing.T) {
	var captured services.UpdateOrderCommand
	router := newOrderRouter(&stubOrderService{
		updateFn: func(_ context.Context, cmd services.UpdateOrderCommand) (domain.WorkOrder, error) {
			captured = cmd
			return domain.WorkOrder{ID: cmd.OrderID, Version: cmd.ExpectedVersion + 1}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPatch, "/orders/order-1", bytes.NewBufferString(`{"notes":"brake pads on backorder"}`))
	req.Header.Set(expectedVersionHeader, `"4"`)
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ExpectedVersion != 4 {
		t.Fatalf("expected version from If-Match, got %d", captured.ExpectedVersion)
	}
	if captured.Patch.Notes == nil || *captured.Patch.Notes != "brake pads on backorder" {
		t.Fatalf("unexpected patch %+v", captured.Patch)
	}
}

func TestOrderHandlersUpdateVersionConflict(t *testing.T) {
	router := newOrderRouter(&stubOrderService{
		updateFn: func(_ context.Context, _ services.UpdateOrderCommand) (domain.WorkOrder, error) {
			return domain.WorkOrder{}, services.ErrOrderConflict
		},
	})

	req := httptest.NewRequest(http.MethodPatch, "/orders/order-1", bytes.NewBufferString(`{"expected_version":2}`))
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Error.Code != "version_conflict" {
		t.Fatalf("unexpected error code %s", env.Error.Code)
	}
}

func TestOrderHandlersRegisterPayment(t *testing.T) {
	var captured services.RegisterPaymentCommand
	router := newOrderRouter(&stubOrderService{
		paymentFn: func(_ context.Context, cmd services.RegisterPaymentCommand) (domain.WorkOrder, error) {
			captured = cmd
			return domain.WorkOrder{ID: cmd.OrderID, Financial: domain.Financial{PaidAmount: cmd.Amount}}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/orders/order-1:registerPayment", bytes.NewBufferString(`{"amount":4000,"method":"pix"}`))
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "order-1" || captured.Amount != 4000 || captured.Method != "pix" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestOrderHandlersRegisterPaymentOverpayment(t *testing.T) {
	router := newOrderRouter(&stubOrderService{
		paymentFn: func(_ context.Context, _ services.RegisterPaymentCommand) (domain.WorkOrder, error) {
			return domain.WorkOrder{}, services.ErrOrderOverpayment
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/orders/order-1:registerPayment", bytes.NewBufferString(`{"amount":999999}`))
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Error.Code != "overpayment" {
		t.Fatalf("unexpected error code %s", env.Error.Code)
	}
}

func TestOrderHandlersChangeStatusChecklistIncomplete(t *testing.T) {
	router := newOrderRouter(&stubOrderService{
		statusFn: func(_ context.Context, cmd services.ChangeStatusCommand) (domain.WorkOrder, error) {
			if cmd.TargetStatus != "FINALIZED" {
				t.Fatalf("unexpected target %s", cmd.TargetStatus)
			}
			return domain.WorkOrder{}, services.ErrOrderChecklistIncomplete
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/orders/order-1:changeStatus", bytes.NewBufferString(`{"status":"FINALIZED"}`))
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Error.Code != "checklist_incomplete" {
		t.Fatalf("unexpected error code %s", env.Error.Code)
	}
}

func TestOrderHandlersHistory(t *testing.T) {
	router := newOrderRouter(&stubOrderService{
		historyFn: func(_ context.Context, tenantID, orderID string, limit int) ([]domain.HistoryEntry, error) {
			if tenantID != "workshop-1" || orderID != "order-1" || limit != 5 {
				t.Fatalf("unexpected args %s %s %d", tenantID, orderID, limit)
			}
			return []domain.HistoryEntry{
				{Seq: 1, Type: domain.HistoryEntryCreated, Description: "order OS-2025-000001 created"},
				{Seq: 2, Type: domain.HistoryEntryStatusChange, PreviousStatus: domain.OrderStatusReceived, NewStatus: domain.OrderStatusInProgress},
			}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/order-1/history?limit=5", nil)
	req = authedRequest(req)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	var resp historyListResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("failed to parse data: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[1].Seq != 2 {
		t.Fatalf("unexpected history %+v", resp.Items)
	}
}

func TestOrderHandlersUnauthenticated(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/orders/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
