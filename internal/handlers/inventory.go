package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/gestao-oficina/api/internal/domain"
	"github.com/gestao-oficina/api/internal/platform/auth"
	"github.com/gestao-oficina/api/internal/platform/httpx"
	"github.com/gestao-oficina/api/internal/services"
)

// InventoryHandlers exposes the stocked-parts endpoints for authenticated workshop users.
type InventoryHandlers struct {
	authn     *auth.Authenticator
	inventory services.InventoryService
}

// NewInventoryHandlers constructs a new InventoryHandlers instance.
func NewInventoryHandlers(authn *auth.Authenticator, inventory services.InventoryService) *InventoryHandlers {
	return &InventoryHandlers{
		authn:     authn,
		inventory: inventory,
	}
}

// Routes registers the /inventory endpoints.
func (h *InventoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.putPart)
	r.Get("/", h.listParts)
	r.Get("/{partID}", h.getPart)
	r.Post("/{partID}:stockIn", h.stockIn)
	r.Post("/{partID}:stockOut", h.stockOut)
	r.Get("/{partID}/movements", h.listMovements)
}

type putPartRequest struct {
	PartID          string `json:"part_id"`
	Name            string `json:"name"`
	Code            string `json:"code"`
	QuantityOnHand  int    `json:"quantity_on_hand"`
	MinimumQuantity int    `json:"minimum_quantity"`
	CostPrice       int64  `json:"cost_price"`
	SalePrice       int64  `json:"sale_price"`
	Supplier        string `json:"supplier"`
}

func (h *InventoryHandlers) putPart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireTenant(ctx, w)
	if !ok {
		return
	}

	var req putPartRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	item, err := h.inventory.PutPart(ctx, services.PutPartCommand{
		TenantID:        identity.WorkshopID,
		PartID:          req.PartID,
		Name:            req.Name,
		Code:            req.Code,
		QuantityOnHand:  req.QuantityOnHand,
		MinimumQuantity: req.MinimumQuantity,
		CostPrice:       req.CostPrice,
		SalePrice:       req.SalePrice,
		Supplier:        req.Supplier,
		Actor:           identity.UID,
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	httpx.WriteData(ctx, w, http.StatusOK, partResponse{Part: buildPartPayload(item)})
}

func (h *InventoryHandlers) listParts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireTenant(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	lowStock := false
	if raw := strings.TrimSpace(query.Get("low_stock")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "low_stock must be a boolean", http.StatusBadRequest))
			return
		}
		lowStock = parsed
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

	items, err := h.inventory.ListParts(ctx, services.InventoryListQuery{
		TenantID:     identity.WorkshopID,
		LowStockOnly: lowStock,
		Limit:        limit,
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	payloads := make([]partPayload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, buildPartPayload(item))
	}
	httpx.WriteData(ctx, w, http.StatusOK, partListResponse{Items: payloads})
}

func (h *InventoryHandlers) getPart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireTenant(ctx, w)
	if !ok {
		return
	}

	partID := strings.TrimSpace(chi.URLParam(r, "partID"))
	item, err := h.inventory.GetPart(ctx, identity.WorkshopID, partID)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	httpx.WriteData(ctx, w, http.StatusOK, partResponse{Part: buildPartPayload(item)})
}

type stockAdjustRequest struct {
	Quantity int    `json:"quantity"`
	Note     string `json:"note"`
}

func (h *InventoryHandlers) stockIn(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.inventory.StockIn)
}

func (h *InventoryHandlers) stockOut(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.inventory.StockOut)
}

func (h *InventoryHandlers) adjust(w http.ResponseWriter, r *http.Request, fn func(context.Context, services.StockAdjustCommand) (domain.InventoryItem, error)) {
	ctx := r.Context()
	identity, ok := h.requireTenant(ctx, w)
	if !ok {
		return
	}

	partID := strings.TrimSpace(chi.URLParam(r, "partID"))

	var req stockAdjustRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	item, err := fn(ctx, services.StockAdjustCommand{
		TenantID:  identity.WorkshopID,
		PartID:    partID,
		Quantity:  req.Quantity,
		Note:      req.Note,
		SessionID: r.Header.Get(sessionHeader),
		Actor:     identity.UID,
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	httpx.WriteData(ctx, w, http.StatusOK, partResponse{Part: buildPartPayload(item)})
}

func (h *InventoryHandlers) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireTenant(ctx, w)
	if !ok {
		return
	}

	partID := strings.TrimSpace(chi.URLParam(r, "partID"))
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	movements, err := h.inventory.ListMovements(ctx, identity.WorkshopID, partID, limit)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	items := make([]movementPayload, 0, len(movements))
	for _, movement := range movements {
		items = append(items, movementPayload{
			ID:             movement.ID,
			PartID:         movement.PartID,
			Type:           string(movement.Type),
			Quantity:       movement.Quantity,
			QuantityBefore: movement.QuantityBefore,
			QuantityAfter:  movement.QuantityAfter,
			ReferenceType:  movement.ReferenceType,
			ReferenceID:    movement.ReferenceID,
			Note:           movement.Note,
			Actor:          movement.Actor,
			CreatedAt:      formatTime(movement.CreatedAt),
		})
	}
	httpx.WriteData(ctx, w, http.StatusOK, movementListResponse{Items: items})
}

func (h *InventoryHandlers) requireTenant(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	return requireIdentity(ctx, w)
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("part_not_found", "part not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInventoryInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("operation_in_progress", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStoreUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "persistence temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}

type partListResponse struct {
	Items []partPayload `json:"items"`
}

type partResponse struct {
	Part partPayload `json:"part"`
}

type partPayload struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Code            string `json:"code,omitempty"`
	QuantityOnHand  int    `json:"quantity_on_hand"`
	MinimumQuantity int    `json:"minimum_quantity"`
	CostPrice       int64  `json:"cost_price"`
	SalePrice       int64  `json:"sale_price"`
	Supplier        string `json:"supplier,omitempty"`
	LowStock        bool   `json:"low_stock"`
	Version         int64  `json:"version"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

type movementListResponse struct {
	Items []movementPayload `json:"items"`
}

type movementPayload struct {
	ID             string `json:"id"`
	PartID         string `json:"part_id"`
	Type           string `json:"type"`
	Quantity       int    `json:"quantity"`
	QuantityBefore int    `json:"quantity_before"`
	QuantityAfter  int    `json:"quantity_after"`
	ReferenceType  string `json:"reference_type"`
	ReferenceID    string `json:"reference_id,omitempty"`
	Note           string `json:"note,omitempty"`
	Actor          string `json:"actor,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func buildPartPayload(item domain.InventoryItem) partPayload {
	return partPayload{
		ID:              item.ID,
		Name:            item.Name,
		Code:            item.Code,
		QuantityOnHand:  item.QuantityOnHand,
		MinimumQuantity: item.MinimumQuantity,
		CostPrice:       item.CostPrice,
		SalePrice:       item.SalePrice,
		Supplier:        item.Supplier,
		LowStock:        item.LowStock(),
		Version:         item.Version,
		CreatedAt:       formatTime(item.CreatedAt),
		UpdatedAt:       formatTime(item.UpdatedAt),
	}
}
