package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/gestao-oficina/api/internal/domain"
	"github.com/gestao-oficina/api/internal/platform/auth"
	"github.com/gestao-oficina/api/internal/platform/httpx"
	"github.com/gestao-oficina/api/internal/services"
)

const (
	maxOrderBodySize = 64 * 1024

	sessionHeader         = "X-Session-ID"
	expectedVersionHeader = "If-Match"
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// OrderHandlers exposes the work-order endpoints for authenticated workshop users.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}", h.updateOrder)
	r.Get("/{orderID}/history", h.listHistory)
	r.Post("/{orderID}:registerPayment", h.registerPayment)
	r.Post("/{orderID}:changeStatus", h.changeStatus)
}

type partLineRequest struct {
	PartID    string `json:"part_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type serviceLineRequest struct {
	Description string `json:"description"`
	Value       int64  `json:"value"`
}

type checklistRequest struct {
	Items           []string `json:"items"`
	ProgressPercent int      `json:"progress_percent"`
	Status          string   `json:"status"`
}

type createOrderRequest struct {
	ClientID      string               `json:"client_id"`
	VehicleID     string               `json:"vehicle_id"`
	Priority      string               `json:"priority"`
	Parts         []partLineRequest    `json:"parts"`
	Services      []serviceLineRequest `json:"services"`
	Discount      int64                `json:"discount"`
	Notes         string               `json:"notes"`
	PaymentMethod string               `json:"payment_method"`
	DueDate       *string              `json:"due_date"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireTenant(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	due, err := parseOptionalTime(req.DueDate)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "due_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
		return
	}

	parts := make([]services.PartLineInput, 0, len(req.Parts))
	for _, p := range req.Parts {
		parts = append(parts, services.PartLineInput{
			PartID:    p.PartID,
			Name:      p.Name,
			Quantity:  p.Quantity,
			UnitPrice: p.UnitPrice,
		})
	}
	serviceLines := make([]services.ServiceLineInput, 0, len(req.Services))
	for _, sl := range req.Services {
		serviceLines = append(serviceLines, services.ServiceLineInput{
			Description: sl.Description,
			Value:       sl.Value,
		})
	}

	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		TenantID:      identity.WorkshopID,
		ClientID:      req.ClientID,
		VehicleID:     req.VehicleID,
		Priority:      req.Priority,
		Parts:         parts,
		Services:      serviceLines,
		Discount:      req.Discount,
		Notes:         req.Notes,
		PaymentMethod: req.PaymentMethod,
		DueDate:       due,
		SessionID:     r.Header.Get(sessionHeader),
		Actor:         identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteData(ctx, w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireTenant(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()

	var createdFrom, createdTo *time.Time
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		createdFrom = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		createdTo = &ts
	}

	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	orders, err := h.orders.List(ctx, services.OrderListQuery{
		TenantID:    identity.WorkshopID,
		Status:      query.Get("status"),
		ClientID:    query.Get("client_id"),
		CreatedFrom: createdFrom,
		CreatedTo:   createdTo,
		Limit:       limit,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderSummary(order))
	}
	httpx.WriteData(ctx, w, http.StatusOK, orderListResponse{Items: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireTenant(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.Get(ctx, identity.WorkshopID, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteData(ctx, w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type updateOrderRequest struct {
	Services        *[]serviceLineRequest `json:"services"`
	Discount        *int64                `json:"discount"`
	Priority        *string               `json:"priority"`
	Notes           *string               `json:"notes"`
	PaymentMethod   *string               `json:"payment_method"`
	DueDate         *string               `json:"due_date"`
	ClearDueDate    bool                  `json:"clear_due_date"`
	Checklist       *checklistRequest     `json:"checklist"`
	ExpectedVersion int64                 `json:"expected_version"`
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireTenant(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))

	var req updateOrderRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	expectedVersion := req.ExpectedVersion
	if raw := strings.Trim(strings.TrimSpace(r.Header.Get(expectedVersionHeader)), `"`); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "If-Match must carry the expected version number", http.StatusBadRequest))
			return
		}
		expectedVersion = parsed
	}

	patch := services.UpdateOrderPatch{
		Discount:      req.Discount,
		Priority:      req.Priority,
		Notes:         req.Notes,
		PaymentMethod: req.PaymentMethod,
		ClearDueDate:  req.ClearDueDate,
	}
	if req.Services != nil {
		lines := make([]services.ServiceLineInput, 0, len(*req.Services))
		for _, sl := range *req.Services {
			lines = append(lines, services.ServiceLineInput{Description: sl.Description, Value: sl.Value})
		}
		patch.Services = &lines
	}
	if req.DueDate != nil {
		due, err := parseOptionalTime(req.DueDate)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "due_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		patch.DueDate = due
	}
	if req.Checklist != nil {
		patch.Checklist = &services.ChecklistInput{
			Items:           req.Checklist.Items,
			ProgressPercent: req.Checklist.ProgressPercent,
			Status:          req.Checklist.Status,
		}
	}

	order, err := h.orders.Update(ctx, services.UpdateOrderCommand{
		TenantID:        identity.WorkshopID,
		OrderID:         orderID,
		ExpectedVersion: expectedVersion,
		Patch:           patch,
		SessionID:       r.Header.Get(sessionHeader),
		Actor:           identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteData(ctx, w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireTenant(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	entries, err := h.orders.History(ctx, identity.WorkshopID, orderID, limit)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]historyEntryPayload, 0, len(entries))
	for _, entry := range entries {
		items = append(items, historyEntryPayload{
			Seq:            entry.Seq,
			Type:           string(entry.Type),
			Description:    entry.Description,
			PreviousStatus: string(entry.PreviousStatus),
			NewStatus:      string(entry.NewStatus),
			Actor:          entry.Actor,
			CreatedAt:      formatTime(entry.CreatedAt),
		})
	}
	httpx.WriteData(ctx, w, http.StatusOK, historyListResponse{Items: items})
}

type registerPaymentRequest struct {
	Amount int64  `json:"amount"`
	Method string `json:"method"`
}

func (h *OrderHandlers) registerPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireTenant(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))

	var req registerPaymentRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.RegisterPayment(ctx, services.RegisterPaymentCommand{
		TenantID:  identity.WorkshopID,
		OrderID:   orderID,
		Amount:    req.Amount,
		Method:    req.Method,
		SessionID: r.Header.Get(sessionHeader),
		Actor:     identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteData(ctx, w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandlers) changeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireTenant(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))

	var req changeStatusRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.ChangeStatus(ctx, services.ChangeStatusCommand{
		TenantID:     identity.WorkshopID,
		OrderID:      orderID,
		TargetStatus: req.Status,
		SessionID:    r.Header.Get(sessionHeader),
		Actor:        identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteData(ctx, w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requireTenant(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	return requireIdentity(ctx, w)
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	if strings.TrimSpace(identity.WorkshopID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("missing_workshop", "workshop claim is required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("part_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("version_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderChecklistIncomplete):
		httpx.WriteError(ctx, w, httpx.NewError("checklist_incomplete", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderOverpayment):
		httpx.WriteError(ctx, w, httpx.NewError("overpayment", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInventoryInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("operation_in_progress", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStoreUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "persistence temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

// Payloads --------------------------------------------------------------------

type orderListResponse struct {
	Items []orderSummaryPayload `json:"items"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	ClientID    string `json:"client_id"`
	VehicleID   string `json:"vehicle_id"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Total       int64  `json:"total"`
	Remaining   int64  `json:"remaining"`
	Version     int64  `json:"version"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID          string                `json:"id"`
	OrderNumber string                `json:"order_number"`
	ClientID    string                `json:"client_id"`
	VehicleID   string                `json:"vehicle_id"`
	Status      string                `json:"status"`
	Priority    string                `json:"priority"`
	Parts       []partLinePayload     `json:"parts"`
	Services    []serviceLinePayload  `json:"services"`
	Financial   financialPayload      `json:"financial"`
	Checklist   checklistPayload      `json:"checklist"`
	Notes       string                `json:"notes,omitempty"`
	Version     int64                 `json:"version"`
	OperationID string                `json:"operation_id,omitempty"`
	CreatedAt   string                `json:"created_at"`
	UpdatedAt   string                `json:"updated_at,omitempty"`
	StartedAt   string                `json:"started_at,omitempty"`
	FinalizedAt string                `json:"finalized_at,omitempty"`
	DeliveredAt string                `json:"delivered_at,omitempty"`
}

type partLinePayload struct {
	PartID    string `json:"part_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type serviceLinePayload struct {
	Description string `json:"description"`
	Value       int64  `json:"value"`
}

type financialPayload struct {
	PartsTotal      int64  `json:"parts_total"`
	ServicesTotal   int64  `json:"services_total"`
	Discount        int64  `json:"discount"`
	Total           int64  `json:"total"`
	PaidAmount      int64  `json:"paid_amount"`
	RemainingAmount int64  `json:"remaining_amount"`
	PaymentStatus   string `json:"payment_status"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	DueDate         string `json:"due_date,omitempty"`
}

type checklistPayload struct {
	Items           []string `json:"items"`
	ProgressPercent int      `json:"progress_percent"`
	Status          string   `json:"status,omitempty"`
}

type historyListResponse struct {
	Items []historyEntryPayload `json:"items"`
}

type historyEntryPayload struct {
	Seq            int64  `json:"seq"`
	Type           string `json:"type"`
	Description    string `json:"description"`
	PreviousStatus string `json:"previous_status,omitempty"`
	NewStatus      string `json:"new_status,omitempty"`
	Actor          string `json:"actor,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func buildOrderSummary(order domain.WorkOrder) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		ClientID:    order.ClientID,
		VehicleID:   order.VehicleID,
		Status:      string(order.Status),
		Priority:    string(order.Priority),
		Total:       order.Financial.Total,
		Remaining:   order.Financial.RemainingAmount,
		Version:     order.Version,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order domain.WorkOrder) orderPayload {
	parts := make([]partLinePayload, 0, len(order.Parts))
	for _, line := range order.Parts {
		parts = append(parts, partLinePayload{
			PartID:    line.PartID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	serviceLines := make([]serviceLinePayload, 0, len(order.Services))
	for _, line := range order.Services {
		serviceLines = append(serviceLines, serviceLinePayload{
			Description: line.Description,
			Value:       line.Value,
		})
	}

	return orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		ClientID:    order.ClientID,
		VehicleID:   order.VehicleID,
		Status:      string(order.Status),
		Priority:    string(order.Priority),
		Parts:       parts,
		Services:    serviceLines,
		Financial: financialPayload{
			PartsTotal:      order.Financial.PartsTotal,
			ServicesTotal:   order.Financial.ServicesTotal,
			Discount:        order.Financial.Discount,
			Total:           order.Financial.Total,
			PaidAmount:      order.Financial.PaidAmount,
			RemainingAmount: order.Financial.RemainingAmount,
			PaymentStatus:   string(order.Financial.PaymentStatus),
			PaymentMethod:   order.Financial.PaymentMethod,
			DueDate:         formatTimePtr(order.Financial.DueDate),
		},
		Checklist: checklistPayload{
			Items:           order.Checklist.Items,
			ProgressPercent: order.Checklist.ProgressPercent,
			Status:          order.Checklist.Status,
		},
		Notes:       order.Notes,
		Version:     order.Version,
		OperationID: order.OperationID,
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		StartedAt:   formatTimePtr(order.StartedAt),
		FinalizedAt: formatTimePtr(order.FinalizedAt),
		DeliveredAt: formatTimePtr(order.DeliveredAt),
	}
}

// Shared helpers --------------------------------------------------------------

func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxOrderBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func parseOptionalTime(raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*raw)
	if trimmed == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	return &ts, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
