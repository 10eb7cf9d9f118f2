package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"salepoint/internal/domain"
	"salepoint/internal/repository"

	"github.com/google/uuid"
)

// In-memory store for testing. A single memStore backs both repositories and
// the unit of work; Within snapshots the maps before running fn and restores
// the snapshot when fn fails, mirroring transaction rollback.
type memStore struct {
	products map[uuid.UUID]*domain.Product
	sales    map[uuid.UUID]*domain.Sale
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[uuid.UUID]*domain.Product),
		sales:    make(map[uuid.UUID]*domain.Sale),
	}
}

func (m *memStore) Products() repository.ProductRepository { return &memProductRepository{m} }
func (m *memStore) Sales() repository.SaleRepository       { return &memSaleRepository{m} }

func (m *memStore) addProduct(p *domain.Product) {
	cp := *p
	m.products[p.ID] = &cp
}

func (m *memStore) stock(id uuid.UUID) int {
	if p, ok := m.products[id]; ok {
		return p.Stock
	}
	return -1
}

func cloneSale(s *domain.Sale) *domain.Sale {
	cp := *s
	cp.Items = make([]domain.SaleItem, len(s.Items))
	copy(cp.Items, s.Items)
	if s.DeletedAt != nil {
		at := *s.DeletedAt
		cp.DeletedAt = &at
	}
	return &cp
}

func (m *memStore) snapshot() *memStore {
	snap := newMemStore()
	for id, p := range m.products {
		cp := *p
		snap.products[id] = &cp
	}
	for id, s := range m.sales {
		snap.sales[id] = cloneSale(s)
	}
	return snap
}

func (m *memStore) restore(snap *memStore) {
	m.products = snap.products
	m.sales = snap.sales
}

type memProductRepository struct {
	store *memStore
}

func (r *memProductRepository) Create(ctx context.Context, product *domain.Product) error {
	r.store.addProduct(product)
	return nil
}

func (r *memProductRepository) Update(ctx context.Context, product *domain.Product) error {
	if _, ok := r.store.products[product.ID]; !ok {
		return repository.ErrProductNotFound
	}
	r.store.addProduct(product)
	return nil
}

func (r *memProductRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.store.products[id]; !ok {
		return repository.ErrProductNotFound
	}
	for _, sale := range r.store.sales {
		for _, item := range sale.Items {
			if item.ProductID == id {
				return repository.ErrProductInUse
			}
		}
	}
	delete(r.store.products, id)
	return nil
}

func (r *memProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	p, ok := r.store.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memProductRepository) List(ctx context.Context, search string, inStock bool, page, pageSize int) ([]*domain.Product, int, error) {
	matched := []*domain.Product{}
	for _, p := range r.store.products {
		if search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(search)) {
			continue
		}
		if inStock && p.Stock <= 0 {
			continue
		}
		cp := *p
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *memProductRepository) Reserve(ctx context.Context, id uuid.UUID, quantity int) (*domain.Product, error) {
	p, ok := r.store.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	if p.Stock < quantity {
		return nil, &repository.InsufficientStockError{
			ProductID: id,
			Name:      p.Name,
			Available: p.Stock,
			Requested: quantity,
		}
	}
	p.Stock -= quantity
	cp := *p
	return &cp, nil
}

func (r *memProductRepository) Release(ctx context.Context, id uuid.UUID, quantity int) error {
	p, ok := r.store.products[id]
	if !ok {
		return repository.ErrProductNotFound
	}
	p.Stock += quantity
	return nil
}

type memSaleRepository struct {
	store *memStore
}

func (r *memSaleRepository) Create(ctx context.Context, sale *domain.Sale) error {
	if _, ok := r.store.sales[sale.ID]; ok {
		return repository.ErrSaleAlreadyExists
	}
	r.store.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (r *memSaleRepository) FindByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (*domain.Sale, error) {
	sale, ok := r.store.sales[id]
	if !ok {
		return nil, repository.ErrSaleNotFound
	}
	if sale.Deleted() && !includeDeleted {
		return nil, repository.ErrSaleNotFound
	}
	return cloneSale(sale), nil
}

func (r *memSaleRepository) List(ctx context.Context, userID uuid.UUID, filter repository.SaleFilter) ([]*domain.Sale, int, error) {
	matched := []*domain.Sale{}
	for _, sale := range r.store.sales {
		if sale.UserID != userID || sale.Deleted() {
			continue
		}
		if filter.Status != nil && sale.Status != *filter.Status {
			continue
		}
		if filter.DateFrom != nil && sale.CreatedAt.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && sale.CreatedAt.After(*filter.DateTo) {
			continue
		}
		matched = append(matched, cloneSale(sale))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *memSaleRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SaleStatus) error {
	sale, ok := r.store.sales[id]
	if !ok || sale.Deleted() {
		return repository.ErrSaleNotFound
	}
	sale.Status = status
	return nil
}

func (r *memSaleRepository) Replace(ctx context.Context, sale *domain.Sale) error {
	if _, ok := r.store.sales[sale.ID]; !ok {
		return repository.ErrSaleNotFound
	}
	replacement := cloneSale(sale)
	replacement.DeletedAt = nil
	r.store.sales[sale.ID] = replacement
	return nil
}

func (r *memSaleRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	sale, ok := r.store.sales[id]
	if !ok || sale.Deleted() {
		return repository.ErrSaleNotFound
	}
	sale.DeletedAt = &at
	return nil
}

// memUnitOfWork runs fn against the shared store with snapshot/restore
// rollback. A non-zero latency simulates slow work so deadline handling can
// be exercised.
type memUnitOfWork struct {
	store   *memStore
	latency time.Duration
}

func (u *memUnitOfWork) Within(ctx context.Context, fn func(s repository.Store) error) error {
	if u.latency > 0 {
		select {
		case <-time.After(u.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := u.store.snapshot()
	if err := fn(u.store); err != nil {
		u.store.restore(snap)
		return err
	}
	return nil
}
