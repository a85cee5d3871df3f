package firestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/gestao-oficina/api/internal/domain"
	pfirestore "github.com/gestao-oficina/api/internal/platform/firestore"
	"github.com/gestao-oficina/api/internal/repositories"
)

const (
	ordersCollection         = "orders"
	inventoryCollection      = "inventory"
	stockMovementsCollection = "stockMovements"
	historyCollection        = "history"

	defaultListLimit = 50
	maxListLimit     = 200
)

// OrderRepository persists work orders in Firestore. Every mutation is one
// interactive transaction: all reads happen before any write, the order
// version moves by exactly one, and a history entry keyed by the new version
// lands in the order's subcollection.
type OrderRepository struct {
	provider  *pfirestore.Provider
	orders    *pfirestore.TenantRepository[orderDocument]
	stocks    *pfirestore.TenantRepository[inventoryItemDocument]
	movements *pfirestore.TenantRepository[movementDocument]
	txOpts    []pfirestore.TxOption
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider:  provider,
		orders:    pfirestore.NewTenantRepository[orderDocument](provider, ordersCollection, nil, nil),
		stocks:    pfirestore.NewTenantRepository[inventoryItemDocument](provider, inventoryCollection, nil, nil),
		movements: pfirestore.NewTenantRepository[movementDocument](provider, stockMovementsCollection, nil, nil),
		txOpts:    txOpts,
	}, nil
}

// Create atomically writes the order together with its inventory decrements
// and movement records. Any part with insufficient stock aborts everything.
func (r *OrderRepository) Create(ctx context.Context, tenantID string, order domain.WorkOrder, actor string) (domain.WorkOrder, error) {
	if r == nil || r.provider == nil {
		return domain.WorkOrder{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(tenantID) == "" {
		return domain.WorkOrder{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "tenant id is required", nil)
	}
	for _, part := range order.Parts {
		if strings.TrimSpace(part.PartID) == "" {
			return domain.WorkOrder{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "part id is required", nil)
		}
		if part.Quantity <= 0 {
			return domain.WorkOrder{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, fmt.Sprintf("quantity for part %s must be > 0", part.PartID), nil)
		}
	}

	now := order.CreatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var created domain.WorkOrder
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.NewDocumentRef(ctx, tenantID)
		if err != nil {
			return err
		}

		// Reads strictly precede writes inside the transaction.
		type stockUpdate struct {
			ref  *firestore.DocumentRef
			doc  inventoryItemDocument
			line domain.PartLine
		}
		updates := make([]stockUpdate, 0, len(order.Parts))
		for _, part := range order.Parts {
			stockRef, err := r.stocks.DocumentRef(ctx, tenantID, part.PartID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(stockRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return &repositories.InventoryError{
						Code:    repositories.InventoryErrorPartNotFound,
						Message: fmt.Sprintf("part %s not found", part.PartID),
						PartID:  part.PartID,
						Err:     err,
					}
				}
				return err
			}
			var stockDoc inventoryItemDocument
			if err := snap.DataTo(&stockDoc); err != nil {
				return fmt.Errorf("decode inventory item %s: %w", part.PartID, err)
			}
			if stockDoc.QuantityOnHand < part.Quantity {
				return repositories.NewInsufficientStockError(part.PartID, part.Quantity, stockDoc.QuantityOnHand)
			}
			updates = append(updates, stockUpdate{ref: stockRef, doc: stockDoc, line: part})
		}

		doc := newOrderDocument(order)
		doc.Status = string(domain.OrderStatusReceived)
		doc.Version = 1
		doc.CreatedAt = now
		doc.UpdatedAt = now
		if err := tx.Create(orderRef, doc); err != nil {
			return err
		}

		for _, update := range updates {
			before := update.doc.QuantityOnHand
			update.doc.QuantityOnHand = before - update.line.Quantity
			update.doc.Version++
			update.doc.UpdatedAt = now
			if err := tx.Set(update.ref, update.doc); err != nil {
				return err
			}

			movRef, err := r.movements.NewDocumentRef(ctx, tenantID)
			if err != nil {
				return err
			}
			if err := tx.Create(movRef, movementDocument{
				PartID:         update.line.PartID,
				Type:           string(domain.MovementOut),
				Quantity:       update.line.Quantity,
				QuantityBefore: before,
				QuantityAfter:  update.doc.QuantityOnHand,
				ReferenceType:  domain.MovementReferenceOrder,
				ReferenceID:    orderRef.ID,
				Note:           fmt.Sprintf("consumed by order %s", doc.OrderNumber),
				Actor:          actor,
				CreatedAt:      now,
			}); err != nil {
				return err
			}
		}

		if err := r.appendHistory(tx, orderRef, historyDocument{
			Seq:         doc.Version,
			Type:        string(domain.HistoryEntryCreated),
			Description: fmt.Sprintf("order %s created", doc.OrderNumber),
			NewStatus:   doc.Status,
			Actor:       actor,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		created = doc.toDomain(orderRef.ID)
		return nil
	}, r.txOpts...)
	if err != nil {
		return domain.WorkOrder{}, wrapOrderError("orders.create", err)
	}
	return created, nil
}

// RegisterPayment records one payment inside a transaction, deriving the new
// payment status from the resulting balance.
func (r *OrderRepository) RegisterPayment(ctx context.Context, tenantID, orderID string, req repositories.PaymentRequest) (domain.WorkOrder, error) {
	now := req.Now.UTC()
	return r.mutateOrder(ctx, "orders.registerPayment", tenantID, orderID, func(doc *orderDocument) (historyDocument, error) {
		newPaid := doc.Financial.PaidAmount + req.Amount
		if newPaid > doc.Financial.Total {
			return historyDocument{}, repositories.NewOrderError(
				repositories.OrderErrorOverpayment,
				fmt.Sprintf("payment of %d would exceed order total %d (already paid %d)", req.Amount, doc.Financial.Total, doc.Financial.PaidAmount),
				nil,
			)
		}

		doc.Financial.PaidAmount = newPaid
		doc.Financial.RemainingAmount = doc.Financial.Total - newPaid
		doc.Financial.PaymentStatus = string(domain.DerivePaymentStatus(newPaid, doc.Financial.Total, doc.Financial.DueDate, now))
		if method := strings.TrimSpace(req.Method); method != "" {
			doc.Financial.PaymentMethod = method
		}

		return historyDocument{
			Type:        string(domain.HistoryEntryPayment),
			Description: fmt.Sprintf("payment of %d registered, %d remaining", req.Amount, doc.Financial.RemainingAmount),
			Actor:       req.Actor,
			CreatedAt:   now,
		}, nil
	}, now)
}

// ChangeStatus advances the order through the forward-only lifecycle,
// enforcing the checklist guard on finalization.
func (r *OrderRepository) ChangeStatus(ctx context.Context, tenantID, orderID string, req repositories.StatusChangeRequest) (domain.WorkOrder, error) {
	now := req.Now.UTC()
	return r.mutateOrder(ctx, "orders.changeStatus", tenantID, orderID, func(doc *orderDocument) (historyDocument, error) {
		current := domain.OrderStatus(doc.Status)
		if current == req.NewStatus {
			return historyDocument{}, repositories.NewOrderError(
				repositories.OrderErrorInvalidTransition,
				fmt.Sprintf("order is already %s", current),
				nil,
			)
		}
		if !domain.CanTransition(current, req.NewStatus) {
			return historyDocument{}, repositories.NewOrderError(
				repositories.OrderErrorInvalidTransition,
				fmt.Sprintf("cannot change status from %s to %s", current, req.NewStatus),
				nil,
			)
		}
		if req.NewStatus == domain.OrderStatusFinalized {
			checklist := doc.Checklist.toDomain()
			if !checklist.Complete() {
				return historyDocument{}, repositories.NewChecklistIncompleteError(checklist.ProgressPercent)
			}
		}

		doc.Status = string(req.NewStatus)
		switch req.NewStatus {
		case domain.OrderStatusInProgress:
			doc.StartedAt = &now
		case domain.OrderStatusFinalized:
			doc.FinalizedAt = &now
		case domain.OrderStatusDelivered:
			doc.DeliveredAt = &now
		}

		return historyDocument{
			Type:           string(domain.HistoryEntryStatusChange),
			Description:    fmt.Sprintf("status changed from %s to %s", current, req.NewStatus),
			PreviousStatus: string(current),
			NewStatus:      doc.Status,
			Actor:          req.Actor,
			CreatedAt:      now,
		}, nil
	}, now)
}

// Update applies a patch guarded by optimistic concurrency: a stale expected
// version fails with a conflict and leaves the document unchanged.
func (r *OrderRepository) Update(ctx context.Context, tenantID, orderID string, req repositories.OrderUpdateRequest) (domain.WorkOrder, error) {
	if req.ExpectedVersion <= 0 {
		return domain.WorkOrder{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "expected version is required", nil)
	}

	now := req.Now.UTC()
	return r.mutateOrder(ctx, "orders.update", tenantID, orderID, func(doc *orderDocument) (historyDocument, error) {
		if doc.Version != req.ExpectedVersion {
			return historyDocument{}, repositories.NewOrderError(
				repositories.OrderErrorVersionConflict,
				fmt.Sprintf("expected version %d, stored version is %d", req.ExpectedVersion, doc.Version),
				nil,
			)
		}

		patch := req.Patch
		if patch.Services != nil {
			services := make([]serviceLineDocument, len(*patch.Services))
			for i, line := range *patch.Services {
				services[i] = serviceLineDocument{Description: line.Description, Value: line.Value}
			}
			doc.Services = services
		}
		if patch.Discount != nil {
			doc.Financial.Discount = *patch.Discount
		}
		if patch.Priority != nil {
			doc.Priority = string(*patch.Priority)
		}
		if patch.Notes != nil {
			doc.Notes = *patch.Notes
		}
		if patch.PaymentMethod != nil {
			doc.Financial.PaymentMethod = *patch.PaymentMethod
		}
		if patch.ClearDueDate {
			doc.Financial.DueDate = nil
		} else if patch.DueDate != nil {
			due := patch.DueDate.UTC()
			doc.Financial.DueDate = &due
		}
		if patch.Checklist != nil {
			doc.Checklist = checklistDocument{
				Items:           append([]string(nil), patch.Checklist.Items...),
				ProgressPercent: patch.Checklist.ProgressPercent,
				Status:          patch.Checklist.Status,
			}
		}

		var servicesTotal int64
		for _, line := range doc.Services {
			servicesTotal += line.Value
		}
		doc.Financial.ServicesTotal = servicesTotal
		total := doc.Financial.PartsTotal + servicesTotal - doc.Financial.Discount
		if total < 0 {
			total = 0
		}
		if doc.Financial.PaidAmount > total {
			return historyDocument{}, repositories.NewOrderError(
				repositories.OrderErrorOverpayment,
				fmt.Sprintf("new total %d is below the %d already paid", total, doc.Financial.PaidAmount),
				nil,
			)
		}
		doc.Financial.Total = total
		doc.Financial.RemainingAmount = total - doc.Financial.PaidAmount
		doc.Financial.PaymentStatus = string(domain.DerivePaymentStatus(doc.Financial.PaidAmount, total, doc.Financial.DueDate, now))

		return historyDocument{
			Type:        string(domain.HistoryEntryUpdate),
			Description: "order updated",
			Actor:       req.Actor,
			CreatedAt:   now,
		}, nil
	}, now)
}

// mutateOrder runs the read-mutate-write cycle shared by every order
// mutation: one transactional read, the caller's mutation, version bump,
// write, and history append keyed by the new version.
func (r *OrderRepository) mutateOrder(ctx context.Context, op, tenantID, orderID string, mutate func(doc *orderDocument) (historyDocument, error), now time.Time) (domain.WorkOrder, error) {
	if r == nil || r.provider == nil {
		return domain.WorkOrder{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.WorkOrder{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order id is required", nil)
	}

	var mutated domain.WorkOrder
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		entry, err := mutate(&doc)
		if err != nil {
			return err
		}

		doc.Version++
		doc.UpdatedAt = now
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}

		entry.Seq = doc.Version
		if err := r.appendHistory(tx, orderRef, entry); err != nil {
			return err
		}

		mutated = doc.toDomain(orderID)
		return nil
	}, r.txOpts...)
	if err != nil {
		return domain.WorkOrder{}, wrapOrderError(op, err)
	}
	return mutated, nil
}

func (r *OrderRepository) appendHistory(tx *firestore.Transaction, orderRef *firestore.DocumentRef, entry historyDocument) error {
	ref := orderRef.Collection(historyCollection).Doc(strconv.FormatInt(entry.Seq, 10))
	return tx.Create(ref, entry)
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, tenantID, orderID string) (domain.WorkOrder, error) {
	if r == nil || r.orders == nil {
		return domain.WorkOrder{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.WorkOrder{}, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order id is required", nil)
	}

	doc, err := r.orders.Get(ctx, tenantID, orderID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.WorkOrder{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.WorkOrder{}, wrapOrderError("orders.findByID", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns the tenant's orders filtered by status, client, and creation window.
func (r *OrderRepository) List(ctx context.Context, tenantID string, filter repositories.OrderListFilter) ([]domain.WorkOrder, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	docs, err := r.orders.Query(ctx, tenantID, func(query firestore.Query) firestore.Query {
		if filter.Status != nil {
			query = query.Where("status", "==", string(*filter.Status))
		}
		if clientID := strings.TrimSpace(filter.ClientID); clientID != "" {
			query = query.Where("clientId", "==", clientID)
		}
		if filter.CreatedFrom != nil {
			query = query.Where("createdAt", ">=", filter.CreatedFrom.UTC())
		}
		if filter.CreatedTo != nil {
			query = query.Where("createdAt", "<", filter.CreatedTo.UTC())
		}
		return query.OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, wrapOrderError("orders.list", err)
	}

	orders := make([]domain.WorkOrder, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

// ListHistory returns the order's audit stream in sequence order.
func (r *OrderRepository) ListHistory(ctx context.Context, tenantID, orderID string, limit int) ([]domain.HistoryEntry, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, repositories.NewOrderError(repositories.OrderErrorInvalidInput, "order id is required", nil)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	orderRef, err := r.orders.DocumentRef(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	iter := orderRef.Collection(historyCollection).OrderBy("seq", firestore.Asc).Limit(limit).Documents(ctx)
	defer iter.Stop()

	var entries []domain.HistoryEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapOrderError("orders.listHistory", err)
		}
		var doc historyDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode history entry %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain())
	}
	return entries, nil
}

// Document structures -------------------------------------------------------

type orderDocument struct {
	OrderNumber string                `firestore:"orderNumber"`
	ClientID    string                `firestore:"clientId"`
	VehicleID   string                `firestore:"vehicleId"`
	Status      string                `firestore:"status"`
	Priority    string                `firestore:"priority"`
	Parts       []partLineDocument    `firestore:"parts"`
	Services    []serviceLineDocument `firestore:"services"`
	Financial   financialDocument     `firestore:"financial"`
	Checklist   checklistDocument     `firestore:"checklist"`
	Notes       string                `firestore:"notes,omitempty"`
	Version     int64                 `firestore:"version"`
	OperationID string                `firestore:"operationId,omitempty"`
	CreatedAt   time.Time             `firestore:"createdAt"`
	UpdatedAt   time.Time             `firestore:"updatedAt"`
	StartedAt   *time.Time            `firestore:"startedAt,omitempty"`
	FinalizedAt *time.Time            `firestore:"finalizedAt,omitempty"`
	DeliveredAt *time.Time            `firestore:"deliveredAt,omitempty"`
}

type partLineDocument struct {
	PartID    string `firestore:"partId"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
}

type serviceLineDocument struct {
	Description string `firestore:"description"`
	Value       int64  `firestore:"value"`
}

type financialDocument struct {
	PartsTotal      int64      `firestore:"partsTotal"`
	ServicesTotal   int64      `firestore:"servicesTotal"`
	Discount        int64      `firestore:"discount"`
	Total           int64      `firestore:"total"`
	PaidAmount      int64      `firestore:"paidAmount"`
	RemainingAmount int64      `firestore:"remainingAmount"`
	PaymentStatus   string     `firestore:"paymentStatus"`
	PaymentMethod   string     `firestore:"paymentMethod,omitempty"`
	DueDate         *time.Time `firestore:"dueDate,omitempty"`
}

type checklistDocument struct {
	Items           []string `firestore:"items"`
	ProgressPercent int      `firestore:"progressPercent"`
	Status          string   `firestore:"status,omitempty"`
}

func (c checklistDocument) toDomain() domain.ChecklistSummary {
	return domain.ChecklistSummary{
		Items:           append([]string(nil), c.Items...),
		ProgressPercent: c.ProgressPercent,
		Status:          c.Status,
	}
}

type historyDocument struct {
	Seq            int64     `firestore:"seq"`
	Type           string    `firestore:"type"`
	Description    string    `firestore:"description"`
	PreviousStatus string    `firestore:"previousStatus,omitempty"`
	NewStatus      string    `firestore:"newStatus,omitempty"`
	Actor          string    `firestore:"actor,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func (d historyDocument) toDomain() domain.HistoryEntry {
	return domain.HistoryEntry{
		Seq:            d.Seq,
		Type:           domain.HistoryEntryType(d.Type),
		Description:    d.Description,
		PreviousStatus: domain.OrderStatus(d.PreviousStatus),
		NewStatus:      domain.OrderStatus(d.NewStatus),
		Actor:          d.Actor,
		CreatedAt:      d.CreatedAt,
	}
}

type movementDocument struct {
	PartID         string    `firestore:"partId"`
	Type           string    `firestore:"type"`
	Quantity       int       `firestore:"quantity"`
	QuantityBefore int       `firestore:"quantityBefore"`
	QuantityAfter  int       `firestore:"quantityAfter"`
	ReferenceType  string    `firestore:"referenceType"`
	ReferenceID    string    `firestore:"referenceId"`
	Note           string    `firestore:"note,omitempty"`
	Actor          string    `firestore:"actor,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func (d movementDocument) toDomain(id string) domain.StockMovement {
	return domain.StockMovement{
		ID:             id,
		PartID:         d.PartID,
		Type:           domain.MovementType(d.Type),
		Quantity:       d.Quantity,
		QuantityBefore: d.QuantityBefore,
		QuantityAfter:  d.QuantityAfter,
		ReferenceType:  d.ReferenceType,
		ReferenceID:    d.ReferenceID,
		Note:           d.Note,
		Actor:          d.Actor,
		CreatedAt:      d.CreatedAt,
	}
}

func newOrderDocument(order domain.WorkOrder) orderDocument {
	parts := make([]partLineDocument, len(order.Parts))
	for i, line := range order.Parts {
		parts[i] = partLineDocument{
			PartID:    strings.TrimSpace(line.PartID),
			Name:      strings.TrimSpace(line.Name),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
	}
	services := make([]serviceLineDocument, len(order.Services))
	for i, line := range order.Services {
		services[i] = serviceLineDocument{
			Description: strings.TrimSpace(line.Description),
			Value:       line.Value,
		}
	}

	var due *time.Time
	if order.Financial.DueDate != nil {
		d := order.Financial.DueDate.UTC()
		due = &d
	}

	return orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		ClientID:    strings.TrimSpace(order.ClientID),
		VehicleID:   strings.TrimSpace(order.VehicleID),
		Status:      string(order.Status),
		Priority:    string(order.Priority),
		Parts:       parts,
		Services:    services,
		Financial: financialDocument{
			PartsTotal:      order.Financial.PartsTotal,
			ServicesTotal:   order.Financial.ServicesTotal,
			Discount:        order.Financial.Discount,
			Total:           order.Financial.Total,
			PaidAmount:      order.Financial.PaidAmount,
			RemainingAmount: order.Financial.RemainingAmount,
			PaymentStatus:   string(order.Financial.PaymentStatus),
			PaymentMethod:   strings.TrimSpace(order.Financial.PaymentMethod),
			DueDate:         due,
		},
		Checklist: checklistDocument{
			Items:           append([]string(nil), order.Checklist.Items...),
			ProgressPercent: order.Checklist.ProgressPercent,
			Status:          order.Checklist.Status,
		},
		Notes:       order.Notes,
		Version:     order.Version,
		OperationID: strings.TrimSpace(order.OperationID),
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
		StartedAt:   order.StartedAt,
		FinalizedAt: order.FinalizedAt,
		DeliveredAt: order.DeliveredAt,
	}
}

func (d orderDocument) toDomain(id string) domain.WorkOrder {
	parts := make([]domain.PartLine, len(d.Parts))
	for i, line := range d.Parts {
		parts[i] = domain.PartLine{
			PartID:    line.PartID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
	}
	services := make([]domain.ServiceLine, len(d.Services))
	for i, line := range d.Services {
		services[i] = domain.ServiceLine{
			Description: line.Description,
			Value:       line.Value,
		}
	}

	return domain.WorkOrder{
		ID:          id,
		OrderNumber: d.OrderNumber,
		ClientID:    d.ClientID,
		VehicleID:   d.VehicleID,
		Status:      domain.OrderStatus(d.Status),
		Priority:    domain.Priority(d.Priority),
		Parts:       parts,
		Services:    services,
		Financial: domain.Financial{
			PartsTotal:      d.Financial.PartsTotal,
			ServicesTotal:   d.Financial.ServicesTotal,
			Discount:        d.Financial.Discount,
			Total:           d.Financial.Total,
			PaidAmount:      d.Financial.PaidAmount,
			RemainingAmount: d.Financial.RemainingAmount,
			PaymentStatus:   domain.PaymentStatus(d.Financial.PaymentStatus),
			PaymentMethod:   d.Financial.PaymentMethod,
			DueDate:         d.Financial.DueDate,
		},
		Checklist:   d.Checklist.toDomain(),
		Notes:       d.Notes,
		Version:     d.Version,
		OperationID: d.OperationID,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		StartedAt:   d.StartedAt,
		FinalizedAt: d.FinalizedAt,
		DeliveredAt: d.DeliveredAt,
	}
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
