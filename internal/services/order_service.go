package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/gestao-oficina/api/internal/domain"
	"github.com/gestao-oficina/api/internal/platform/inflight"
	"github.com/gestao-oficina/api/internal/repositories"
)

const (
	orderEventCreated           = "order.created"
	orderEventStatusChanged     = "order.status.changed"
	orderEventPaymentRegistered = "order.payment.registered"
	orderEventUpdated           = "order.updated"

	opOrderCreate   = "order.create"
	opOrderPayment  = "order.payment"
	opOrderStatus   = "order.status"
	opOrderUpdate   = "order.update"
	ordersCounterID = "orders"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the caller's expected version is stale.
	ErrOrderConflict = errors.New("order: version conflict")
	// ErrOrderChecklistIncomplete indicates finalization was blocked by an unfinished checklist.
	ErrOrderChecklistIncomplete = errors.New("order: checklist incomplete")
	// ErrOrderOverpayment indicates the payment would exceed the order total.
	ErrOrderOverpayment = errors.New("order: overpayment")
	// ErrOrderInFlight indicates an identical submission is still running.
	ErrOrderInFlight = errors.New("order: identical operation in progress")
	// ErrStoreUnavailable indicates a transient persistence failure the caller may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// SubmissionGuard is the duplicate-submission half of the concurrency story.
// The optimistic-version half lives in the repository's Update transaction.
type SubmissionGuard interface {
	Acquire(key inflight.Key) error
	Release(key inflight.Key)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Guard       SubmissionGuard
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	counters repositories.CounterRepository
	guard    SubmissionGuard
	clock    func() time.Time
	newID    func() string
	events   OrderEventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Guard == nil {
		return nil, errors.New("order service: submission guard is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		counters: deps.Counters,
		guard:    deps.Guard,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (domain.WorkOrder, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return domain.WorkOrder{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	clientID := strings.TrimSpace(cmd.ClientID)
	if clientID == "" {
		return domain.WorkOrder{}, fmt.Errorf("%w: client id is required", ErrOrderInvalidInput)
	}
	vehicleID := strings.TrimSpace(cmd.VehicleID)
	if vehicleID == "" {
		return domain.WorkOrder{}, fmt.Errorf("%w: vehicle id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Parts) == 0 && len(cmd.Services) == 0 {
		return domain.WorkOrder{}, fmt.Errorf("%w: order needs at least one part or service line", ErrOrderInvalidInput)
	}
	if cmd.Discount < 0 {
		return domain.WorkOrder{}, fmt.Errorf("%w: discount must be >= 0", ErrOrderInvalidInput)
	}

	priority, err := domain.ParsePriority(cmd.Priority)
	if err != nil {
		return domain.WorkOrder{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	parts, partsTotal, err := buildPartLines(cmd.Parts)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	services, servicesTotal, err := buildServiceLines(cmd.Services)
	if err != nil {
		return domain.WorkOrder{}, err
	}

	total := partsTotal + servicesTotal - cmd.Discount
	if total < 0 {
		total = 0
	}

	now := s.clock()

	var due *time.Time
	if cmd.DueDate != nil {
		d := cmd.DueDate.UTC()
		due = &d
	}

	if session := strings.TrimSpace(cmd.SessionID); session != "" {
		key := inflight.Key{
			Operation: opOrderCreate,
			TenantID:  tenantID,
			TargetID:  clientID + "/" + vehicleID,
			SessionID: session,
		}
		if err := s.guard.Acquire(key); err != nil {
			return domain.WorkOrder{}, s.mapGuardError(err)
		}
		defer s.guard.Release(key)
	}

	number, err := s.generateOrderNumber(ctx, tenantID, now)
	if err != nil {
		return domain.WorkOrder{}, err
	}

	order := domain.WorkOrder{
		OrderNumber: number,
		ClientID:    clientID,
		VehicleID:   vehicleID,
		Status:      domain.OrderStatusReceived,
		Priority:    priority,
		Parts:       parts,
		Services:    services,
		Financial: domain.Financial{
			PartsTotal:      partsTotal,
			ServicesTotal:   servicesTotal,
			Discount:        cmd.Discount,
			Total:           total,
			PaidAmount:      0,
			RemainingAmount: total,
			PaymentStatus:   domain.DerivePaymentStatus(0, total, due, now),
			PaymentMethod:   strings.TrimSpace(cmd.PaymentMethod),
			DueDate:         due,
		},
		Checklist:   checklistFromInput(cmd.Checklist),
		Notes:       strings.TrimSpace(cmd.Notes),
		OperationID: s.newID(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.orders.Create(ctx, tenantID, order, strings.TrimSpace(cmd.Actor))
	if err != nil {
		return domain.WorkOrder{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventCreated,
		TenantID:    tenantID,
		OrderID:     created.ID,
		OrderNumber: created.OrderNumber,
		Status:      string(created.Status),
		Actor:       cmd.Actor,
		OccurredAt:  now,
		Metadata: map[string]any{
			"clientId":  clientID,
			"vehicleId": vehicleID,
			"total":     created.Financial.Total,
		},
	})

	return created, nil
}

func (s *orderService) Get(ctx context.Context, tenantID, orderID string) (domain.WorkOrder, error) {
	tenantID = strings.TrimSpace(tenantID)
	orderID = strings.TrimSpace(orderID)
	if tenantID == "" {
		return domain.WorkOrder{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	if orderID == "" {
		return domain.WorkOrder{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return domain.WorkOrder{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, query OrderListQuery) ([]domain.WorkOrder, error) {
	tenantID := strings.TrimSpace(query.TenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}

	filter := repositories.OrderListFilter{
		ClientID:    strings.TrimSpace(query.ClientID),
		CreatedFrom: query.CreatedFrom,
		CreatedTo:   query.CreatedTo,
		Limit:       query.Limit,
	}
	if raw := strings.TrimSpace(query.Status); raw != "" {
		parsed, err := domain.ParseOrderStatus(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		filter.Status = &parsed
	}

	orders, err := s.orders.List(ctx, tenantID, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) History(ctx context.Context, tenantID, orderID string, limit int) ([]domain.HistoryEntry, error) {
	tenantID = strings.TrimSpace(tenantID)
	orderID = strings.TrimSpace(orderID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	entries, err := s.orders.ListHistory(ctx, tenantID, orderID, limit)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return entries, nil
}

func (s *orderService) RegisterPayment(ctx context.Context, cmd RegisterPaymentCommand) (domain.WorkOrder, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if tenantID == "" {
		return domain.WorkOrder{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	if orderID == "" {
		return domain.WorkOrder{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Amount <= 0 {
		return domain.WorkOrder{}, fmt.Errorf("%w: payment amount must be > 0", ErrOrderInvalidInput)
	}

	now := s.clock()

	release, err := s.acquire(opOrderPayment, tenantID, orderID, cmd.SessionID)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer release()

	order, err := s.orders.RegisterPayment(ctx, tenantID, orderID, repositories.PaymentRequest{
		Amount: cmd.Amount,
		Method: strings.TrimSpace(cmd.Method),
		Actor:  strings.TrimSpace(cmd.Actor),
		Now:    now,
	})
	if err != nil {
		return domain.WorkOrder{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventPaymentRegistered,
		TenantID:    tenantID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Actor:       cmd.Actor,
		OccurredAt:  now,
		Metadata: map[string]any{
			"amount":        cmd.Amount,
			"remaining":     order.Financial.RemainingAmount,
			"paymentStatus": string(order.Financial.PaymentStatus),
		},
	})

	return order, nil
}

func (s *orderService) ChangeStatus(ctx context.Context, cmd ChangeStatusCommand) (domain.WorkOrder, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if tenantID == "" {
		return domain.WorkOrder{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	if orderID == "" {
		return domain.WorkOrder{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	target, err := domain.ParseOrderStatus(cmd.TargetStatus)
	if err != nil {
		return domain.WorkOrder{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	now := s.clock()

	release, err := s.acquire(opOrderStatus, tenantID, orderID, cmd.SessionID)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer release()

	order, err := s.orders.ChangeStatus(ctx, tenantID, orderID, repositories.StatusChangeRequest{
		NewStatus: target,
		Actor:     strings.TrimSpace(cmd.Actor),
		Now:       now,
	})
	if err != nil {
		return domain.WorkOrder{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		TenantID:       tenantID,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(previousStatus(target)),
		Status:         string(order.Status),
		Actor:          cmd.Actor,
		OccurredAt:     now,
	})

	return order, nil
}

func (s *orderService) Update(ctx context.Context, cmd UpdateOrderCommand) (domain.WorkOrder, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if tenantID == "" {
		return domain.WorkOrder{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	if orderID == "" {
		return domain.WorkOrder{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.ExpectedVersion <= 0 {
		return domain.WorkOrder{}, fmt.Errorf("%w: expected version must be > 0", ErrOrderInvalidInput)
	}

	patch, err := buildRepositoryPatch(cmd.Patch)
	if err != nil {
		return domain.WorkOrder{}, err
	}

	now := s.clock()

	release, err := s.acquire(opOrderUpdate, tenantID, orderID, cmd.SessionID)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	defer release()

	order, err := s.orders.Update(ctx, tenantID, orderID, repositories.OrderUpdateRequest{
		Patch:           patch,
		ExpectedVersion: cmd.ExpectedVersion,
		Actor:           strings.TrimSpace(cmd.Actor),
		Now:             now,
	})
	if err != nil {
		return domain.WorkOrder{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventUpdated,
		TenantID:    tenantID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Actor:       cmd.Actor,
		OccurredAt:  now,
		Metadata: map[string]any{
			"version": order.Version,
		},
	})

	return order, nil
}

// acquire claims the per-order guard key when the caller supplied a session.
// The returned release is a no-op when no key was claimed.
func (s *orderService) acquire(op, tenantID, targetID, sessionID string) (func(), error) {
	session := strings.TrimSpace(sessionID)
	if session == "" {
		return func() {}, nil
	}
	key := inflight.Key{
		Operation: op,
		TenantID:  tenantID,
		TargetID:  targetID,
		SessionID: session,
	}
	if err := s.guard.Acquire(key); err != nil {
		return nil, s.mapGuardError(err)
	}
	return func() { s.guard.Release(key) }, nil
}

func (s *orderService) mapGuardError(err error) error {
	if errors.Is(err, inflight.ErrOperationInProgress) {
		return fmt.Errorf("%w: %v", ErrOrderInFlight, err)
	}
	return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrOrderInvalidInput, orderErr.Message)
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderErr.Message)
		case repositories.OrderErrorVersionConflict:
			return fmt.Errorf("%w: %s", ErrOrderConflict, orderErr.Message)
		case repositories.OrderErrorInvalidTransition:
			return fmt.Errorf("%w: %s", ErrOrderInvalidState, orderErr.Message)
		case repositories.OrderErrorChecklistIncomplete:
			return fmt.Errorf("%w: %s", ErrOrderChecklistIncomplete, orderErr.Message)
		case repositories.OrderErrorOverpayment:
			return fmt.Errorf("%w: %s", ErrOrderOverpayment, orderErr.Message)
		}
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorPartNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryNotFound, invErr.Message)
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInventoryInsufficientStock, invErr.Message)
		case repositories.InventoryErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrOrderInvalidInput, invErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, tenantID string, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, tenantID, fmt.Sprintf("%s-%04d", ordersCounterID, now.Year()), 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
			return "", fmt.Errorf("%w: %s", ErrOrderInvalidInput, counterErr.Message)
		}
		return "", s.mapRepositoryError(err)
	}
	return fmt.Sprintf("OS-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.Status,
		})
	}
}

func buildPartLines(inputs []PartLineInput) ([]domain.PartLine, int64, error) {
	parts := make([]domain.PartLine, 0, len(inputs))
	var total int64
	for _, in := range inputs {
		partID := strings.TrimSpace(in.PartID)
		if partID == "" {
			return nil, 0, fmt.Errorf("%w: part id is required", ErrOrderInvalidInput)
		}
		if in.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: quantity for part %s must be > 0", ErrOrderInvalidInput, partID)
		}
		if in.UnitPrice < 0 {
			return nil, 0, fmt.Errorf("%w: unit price for part %s must be >= 0", ErrOrderInvalidInput, partID)
		}
		parts = append(parts, domain.PartLine{
			PartID:    partID,
			Name:      strings.TrimSpace(in.Name),
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
		})
		total += in.UnitPrice * int64(in.Quantity)
	}
	return parts, total, nil
}

func buildServiceLines(inputs []ServiceLineInput) ([]domain.ServiceLine, int64, error) {
	services := make([]domain.ServiceLine, 0, len(inputs))
	var total int64
	for _, in := range inputs {
		description := strings.TrimSpace(in.Description)
		if description == "" {
			return nil, 0, fmt.Errorf("%w: service description is required", ErrOrderInvalidInput)
		}
		if in.Value < 0 {
			return nil, 0, fmt.Errorf("%w: service value must be >= 0", ErrOrderInvalidInput)
		}
		services = append(services, domain.ServiceLine{
			Description: description,
			Value:       in.Value,
		})
		total += in.Value
	}
	return services, total, nil
}

func checklistFromInput(input *ChecklistInput) domain.ChecklistSummary {
	if input == nil {
		return domain.ChecklistSummary{}
	}
	return domain.ChecklistSummary{
		Items:           append([]string(nil), input.Items...),
		ProgressPercent: input.ProgressPercent,
		Status:          strings.TrimSpace(input.Status),
	}
}

func buildRepositoryPatch(patch UpdateOrderPatch) (repositories.OrderPatch, error) {
	out := repositories.OrderPatch{
		Notes:        patch.Notes,
		DueDate:      patch.DueDate,
		ClearDueDate: patch.ClearDueDate,
	}

	if patch.Services != nil {
		services, _, err := buildServiceLines(*patch.Services)
		if err != nil {
			return repositories.OrderPatch{}, err
		}
		out.Services = &services
	}
	if patch.Discount != nil {
		if *patch.Discount < 0 {
			return repositories.OrderPatch{}, fmt.Errorf("%w: discount must be >= 0", ErrOrderInvalidInput)
		}
		out.Discount = patch.Discount
	}
	if patch.Priority != nil {
		parsed, err := domain.ParsePriority(*patch.Priority)
		if err != nil {
			return repositories.OrderPatch{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		out.Priority = &parsed
	}
	if patch.PaymentMethod != nil {
		method := strings.TrimSpace(*patch.PaymentMethod)
		out.PaymentMethod = &method
	}
	if patch.Checklist != nil {
		checklist := checklistFromInput(patch.Checklist)
		out.Checklist = &checklist
	}
	return out, nil
}

// previousStatus exploits the linear lifecycle: every reachable status has
// exactly one predecessor.
func previousStatus(target domain.OrderStatus) domain.OrderStatus {
	switch target {
	case domain.OrderStatusInProgress:
		return domain.OrderStatusReceived
	case domain.OrderStatusFinalized:
		return domain.OrderStatusInProgress
	case domain.OrderStatusDelivered:
		return domain.OrderStatusFinalized
	default:
		return ""
	}
}
