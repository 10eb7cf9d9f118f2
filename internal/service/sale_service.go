package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"salepoint/internal/domain"
	"salepoint/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNoItems          = errors.New("sale must contain at least one item")
	ErrInvalidQuantity  = errors.New("item quantity must be a positive integer")
	ErrDuplicateProduct = errors.New("sale contains the same product more than once")
	ErrInvalidStatus    = errors.New("invalid sale status")
	ErrNotSaleOwner     = errors.New("sale belongs to another user")
)

// SaleItemInput is a requested line of a sale: which product and how many.
// Price comes from the catalog at reservation time, never from the client.
type SaleItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// SaleService orchestrates sale transactions. Every mutation runs inside a
// single unit of work: the full item reservation set, the sale header and
// its items commit together or not at all.
type SaleService interface {
	Create(ctx context.Context, userID uuid.UUID, items []SaleItemInput, status domain.SaleStatus) (*domain.Sale, error)
	Get(ctx context.Context, userID, saleID uuid.UUID) (*domain.Sale, error)
	List(ctx context.Context, userID uuid.UUID, filter repository.SaleFilter) ([]*domain.Sale, int, error)
	UpdateStatus(ctx context.Context, userID, saleID uuid.UUID, status domain.SaleStatus) (*domain.Sale, error)
	Delete(ctx context.Context, userID, saleID uuid.UUID) error
}

type saleService struct {
	uow   repository.UnitOfWork
	sales repository.SaleRepository
}

// NewSaleService creates a new instance of SaleService. The sales repository
// serves the read paths; all writes go through the unit of work.
func NewSaleService(uow repository.UnitOfWork, sales repository.SaleRepository) SaleService {
	return &saleService{uow: uow, sales: sales}
}

func validateItems(items []SaleItemInput) error {
	if len(items) == 0 {
		return ErrNoItems
	}
	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if _, dup := seen[item.ProductID]; dup {
			return ErrDuplicateProduct
		}
		seen[item.ProductID] = struct{}{}
	}
	return nil
}

// reserveItems reserves stock for every requested item and builds the sale
// items with unit prices snapshotted at reservation time. Items are processed
// in ascending product-id order so concurrent sales touching overlapping
// product sets acquire row locks in a stable order. Any failure propagates
// and the enclosing unit of work rolls back every reservation already made.
func reserveItems(ctx context.Context, store repository.Store, saleID uuid.UUID, inputs []SaleItemInput) ([]domain.SaleItem, decimal.Decimal, error) {
	sorted := make([]SaleItemInput, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ProductID.String() < sorted[j].ProductID.String()
	})

	total := decimal.Zero
	items := make([]domain.SaleItem, 0, len(sorted))
	for _, input := range sorted {
		product, err := store.Products().Reserve(ctx, input.ProductID, input.Quantity)
		if err != nil {
			return nil, decimal.Zero, err
		}

		subtotal := product.Price.Mul(decimal.NewFromInt(int64(input.Quantity)))
		total = total.Add(subtotal)
		items = append(items, domain.SaleItem{
			SaleID:    saleID,
			ProductID: product.ID,
			Quantity:  input.Quantity,
			UnitPrice: product.Price,
			Subtotal:  subtotal,
		})
	}

	return items, total, nil
}

// createSale reserves stock for the whole item set and persists the sale in
// the given store. It is shared between the online create path and the sync
// reconciler, which forces a client-supplied id and timestamp.
func createSale(ctx context.Context, store repository.Store, id, userID uuid.UUID, inputs []SaleItemInput, status domain.SaleStatus, createdAt time.Time) (*domain.Sale, error) {
	items, total, err := reserveItems(ctx, store, id, inputs)
	if err != nil {
		return nil, err
	}

	sale := &domain.Sale{
		ID:        id,
		UserID:    userID,
		Total:     total,
		Status:    status,
		CreatedAt: createdAt,
		Items:     items,
	}
	if err := store.Sales().Create(ctx, sale); err != nil {
		return nil, err
	}

	return sale, nil
}

// Create builds a sale from the requested items. Stock reservation is
// all-or-nothing: if any product is missing or short, nothing is created and
// no stock changes.
func (s *saleService) Create(ctx context.Context, userID uuid.UUID, items []SaleItemInput, status domain.SaleStatus) (*domain.Sale, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}
	if status == "" {
		status = domain.SaleStatusPending
	}
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	var sale *domain.Sale
	err := s.uow.Within(ctx, func(store repository.Store) error {
		created, err := createSale(ctx, store, uuid.New(), userID, items, status, time.Now().UTC())
		if err != nil {
			return err
		}
		sale = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sale, nil
}

// Get returns a sale with its items. Only the owner may read it.
func (s *saleService) Get(ctx context.Context, userID, saleID uuid.UUID) (*domain.Sale, error) {
	sale, err := s.sales.FindByID(ctx, saleID, false)
	if err != nil {
		return nil, err
	}
	if sale.UserID != userID {
		return nil, ErrNotSaleOwner
	}
	return sale, nil
}

// List returns the caller's sales, newest first.
func (s *saleService) List(ctx context.Context, userID uuid.UUID, filter repository.SaleFilter) ([]*domain.Sale, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 15
	}
	return s.sales.List(ctx, userID, filter)
}

// UpdateStatus replaces the status field of an owned sale. Stock is not
// affected. Transitions are not validated against a graph; any of the known
// statuses may follow any other.
func (s *saleService) UpdateStatus(ctx context.Context, userID, saleID uuid.UUID, status domain.SaleStatus) (*domain.Sale, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	var sale *domain.Sale
	err := s.uow.Within(ctx, func(store repository.Store) error {
		existing, err := store.Sales().FindByID(ctx, saleID, false)
		if err != nil {
			return err
		}
		if existing.UserID != userID {
			return ErrNotSaleOwner
		}
		if err := store.Sales().UpdateStatus(ctx, saleID, status); err != nil {
			return err
		}
		existing.Status = status
		sale = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sale, nil
}

// Delete releases the stock reserved by every item of an owned sale and
// tombstones the record. If any step fails the whole operation rolls back
// and the sale remains active.
func (s *saleService) Delete(ctx context.Context, userID, saleID uuid.UUID) error {
	return s.uow.Within(ctx, func(store repository.Store) error {
		sale, err := store.Sales().FindByID(ctx, saleID, false)
		if err != nil {
			return err
		}
		if sale.UserID != userID {
			return ErrNotSaleOwner
		}

		for _, item := range sale.Items {
			if err := store.Products().Release(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		return store.Sales().SoftDelete(ctx, saleID, time.Now().UTC())
	})
}
