package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/gestao-oficina/api/internal/domain"
	pfirestore "github.com/gestao-oficina/api/internal/platform/firestore"
	"github.com/gestao-oficina/api/internal/repositories"
)

// InventoryRepository manages stocked parts and their movement log. Stock
// adjustments run transactionally so the on-hand quantity never goes negative
// and every change leaves one immutable movement record behind.
type InventoryRepository struct {
	provider  *pfirestore.Provider
	items     *pfirestore.TenantRepository[inventoryItemDocument]
	movements *pfirestore.TenantRepository[movementDocument]
	txOpts    []pfirestore.TxOption
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{
		provider:  provider,
		items:     pfirestore.NewTenantRepository[inventoryItemDocument](provider, inventoryCollection, nil, nil),
		movements: pfirestore.NewTenantRepository[movementDocument](provider, stockMovementsCollection, nil, nil),
		txOpts:    txOpts,
	}, nil
}

// Put registers or updates a part. Quantity is only written on first
// registration; stock levels change exclusively through adjustments.
func (r *InventoryRepository) Put(ctx context.Context, tenantID string, item domain.InventoryItem) (domain.InventoryItem, error) {
	if r == nil || r.provider == nil {
		return domain.InventoryItem{}, errors.New("inventory repository not initialised")
	}
	partID := strings.TrimSpace(item.ID)
	if partID == "" {
		return domain.InventoryItem{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "part id is required", nil)
	}
	if strings.TrimSpace(item.Name) == "" {
		return domain.InventoryItem{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "part name is required", nil)
	}
	if item.QuantityOnHand < 0 || item.MinimumQuantity < 0 {
		return domain.InventoryItem{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "quantities must be >= 0", nil)
	}

	now := time.Now().UTC()
	var saved domain.InventoryItem
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.items.DocumentRef(ctx, tenantID, partID)
		if err != nil {
			return err
		}

		var doc inventoryItemDocument
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
			doc = inventoryItemDocument{
				QuantityOnHand: item.QuantityOnHand,
				CreatedAt:      now,
			}
		case codes.OK:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode inventory item %s: %w", partID, err)
			}
		default:
			return err
		}

		doc.Name = strings.TrimSpace(item.Name)
		doc.Code = strings.TrimSpace(item.Code)
		doc.MinimumQuantity = item.MinimumQuantity
		doc.CostPrice = item.CostPrice
		doc.SalePrice = item.SalePrice
		doc.Supplier = strings.TrimSpace(item.Supplier)
		doc.Version++
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc.toDomain(partID)
		return nil
	}, r.txOpts...)
	if err != nil {
		return domain.InventoryItem{}, wrapInventoryError("inventory.put", err)
	}
	return saved, nil
}

// StockIn transactionally receives stock and appends one IN movement.
func (r *InventoryRepository) StockIn(ctx context.Context, tenantID string, adj repositories.StockAdjustment) (domain.InventoryItem, error) {
	return r.adjust(ctx, "inventory.stockIn", tenantID, adj, domain.MovementIn)
}

// StockOut transactionally withdraws stock and appends one OUT movement. The
// withdrawal fails when it would push the on-hand quantity below zero.
func (r *InventoryRepository) StockOut(ctx context.Context, tenantID string, adj repositories.StockAdjustment) (domain.InventoryItem, error) {
	return r.adjust(ctx, "inventory.stockOut", tenantID, adj, domain.MovementOut)
}

func (r *InventoryRepository) adjust(ctx context.Context, op, tenantID string, adj repositories.StockAdjustment, movement domain.MovementType) (domain.InventoryItem, error) {
	if r == nil || r.provider == nil {
		return domain.InventoryItem{}, errors.New("inventory repository not initialised")
	}
	partID := strings.TrimSpace(adj.PartID)
	if partID == "" {
		return domain.InventoryItem{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "part id is required", nil)
	}
	if adj.Quantity <= 0 {
		return domain.InventoryItem{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, fmt.Sprintf("quantity must be > 0, got %d", adj.Quantity), nil)
	}

	now := adj.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var updated domain.InventoryItem
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.items.DocumentRef(ctx, tenantID, partID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return &repositories.InventoryError{
					Code:    repositories.InventoryErrorPartNotFound,
					Message: fmt.Sprintf("part %s not found", partID),
					PartID:  partID,
					Err:     err,
				}
			}
			return err
		}
		var doc inventoryItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode inventory item %s: %w", partID, err)
		}

		before := doc.QuantityOnHand
		switch movement {
		case domain.MovementIn:
			doc.QuantityOnHand = before + adj.Quantity
		case domain.MovementOut:
			if before < adj.Quantity {
				return repositories.NewInsufficientStockError(partID, adj.Quantity, before)
			}
			doc.QuantityOnHand = before - adj.Quantity
		}
		doc.Version++
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}

		movRef, err := r.movements.NewDocumentRef(ctx, tenantID)
		if err != nil {
			return err
		}
		if err := tx.Create(movRef, movementDocument{
			PartID:         partID,
			Type:           string(movement),
			Quantity:       adj.Quantity,
			QuantityBefore: before,
			QuantityAfter:  doc.QuantityOnHand,
			ReferenceType:  domain.MovementReferenceManual,
			Note:           strings.TrimSpace(adj.Note),
			Actor:          strings.TrimSpace(adj.Actor),
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		updated = doc.toDomain(partID)
		return nil
	}, r.txOpts...)
	if err != nil {
		return domain.InventoryItem{}, wrapInventoryError(op, err)
	}
	return updated, nil
}

// FindByID fetches a single part.
func (r *InventoryRepository) FindByID(ctx context.Context, tenantID, partID string) (domain.InventoryItem, error) {
	if r == nil || r.items == nil {
		return domain.InventoryItem{}, errors.New("inventory repository not initialised")
	}
	partID = strings.TrimSpace(partID)
	if partID == "" {
		return domain.InventoryItem{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidInput, "part id is required", nil)
	}

	doc, err := r.items.Get(ctx, tenantID, partID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.InventoryItem{}, &repositories.InventoryError{
				Code:    repositories.InventoryErrorPartNotFound,
				Message: fmt.Sprintf("part %s not found", partID),
				PartID:  partID,
				Err:     err,
			}
		}
		return domain.InventoryItem{}, wrapInventoryError("inventory.findByID", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns the tenant's parts ordered by name.
func (r *InventoryRepository) List(ctx context.Context, tenantID string, filter repositories.InventoryListFilter) ([]domain.InventoryItem, error) {
	if r == nil || r.items == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	if filter.LowStockOnly {
		return r.ListLowStock(ctx, tenantID, filter.Limit)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	docs, err := r.items.Query(ctx, tenantID, func(query firestore.Query) firestore.Query {
		return query.OrderBy("name", firestore.Asc).Limit(limit)
	})
	if err != nil {
		return nil, wrapInventoryError("inventory.list", err)
	}

	items := make([]domain.InventoryItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	return items, nil
}

// ListLowStock returns parts whose on-hand quantity reached the reorder floor.
// Firestore cannot compare two fields in one query, so candidates are fetched
// ordered by quantity and filtered in memory.
func (r *InventoryRepository) ListLowStock(ctx context.Context, tenantID string, limit int) ([]domain.InventoryItem, error) {
	if r == nil || r.items == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	docs, err := r.items.Query(ctx, tenantID, func(query firestore.Query) firestore.Query {
		return query.OrderBy("quantityOnHand", firestore.Asc).Limit(maxListLimit)
	})
	if err != nil {
		return nil, wrapInventoryError("inventory.listLowStock", err)
	}

	var items []domain.InventoryItem
	for _, doc := range docs {
		item := doc.Data.toDomain(doc.ID)
		if !item.LowStock() {
			continue
		}
		items = append(items, item)
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}

// ListMovements returns the newest movement records, optionally for one part.
func (r *InventoryRepository) ListMovements(ctx context.Context, tenantID, partID string, limit int) ([]domain.StockMovement, error) {
	if r == nil || r.movements == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	docs, err := r.movements.Query(ctx, tenantID, func(query firestore.Query) firestore.Query {
		if trimmed := strings.TrimSpace(partID); trimmed != "" {
			query = query.Where("partId", "==", trimmed)
		}
		return query.OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, wrapInventoryError("inventory.listMovements", err)
	}

	movements := make([]domain.StockMovement, 0, len(docs))
	for _, doc := range docs {
		movements = append(movements, doc.Data.toDomain(doc.ID))
	}
	return movements, nil
}

type inventoryItemDocument struct {
	Name            string    `firestore:"name"`
	Code            string    `firestore:"code,omitempty"`
	QuantityOnHand  int       `firestore:"quantityOnHand"`
	MinimumQuantity int       `firestore:"minimumQuantity"`
	CostPrice       int64     `firestore:"costPrice"`
	SalePrice       int64     `firestore:"salePrice"`
	Supplier        string    `firestore:"supplier,omitempty"`
	Version         int64     `firestore:"version"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

func (d inventoryItemDocument) toDomain(id string) domain.InventoryItem {
	return domain.InventoryItem{
		ID:              id,
		Name:            d.Name,
		Code:            d.Code,
		QuantityOnHand:  d.QuantityOnHand,
		MinimumQuantity: d.MinimumQuantity,
		CostPrice:       d.CostPrice,
		SalePrice:       d.SalePrice,
		Supplier:        d.Supplier,
		Version:         d.Version,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
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
