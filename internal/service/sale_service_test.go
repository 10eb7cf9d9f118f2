package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"salepoint/internal/domain"
	"salepoint/internal/repository"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSaleServiceForTest(store *memStore) SaleService {
	uow := &memUnitOfWork{store: store}
	return NewSaleService(uow, &memSaleRepository{store: store})
}

func seedProduct(store *memStore, price string, stock int) *domain.Product {
	p := &domain.Product{
		ID:        uuid.New(),
		Name:      "product-" + uuid.NewString()[:8],
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	store.addProduct(p)
	return p
}

func TestProperty_SaleTotalIsSumOfItemSubtotals(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("total equals the sum of quantity times unit price across all items", prop.ForAll(
		func(priceCents []int, quantities []int) bool {
			n := len(priceCents)
			if len(quantities) < n {
				n = len(quantities)
			}
			if n == 0 {
				return true
			}

			store := newMemStore()
			service := newSaleServiceForTest(store)
			ctx := context.Background()

			inputs := make([]SaleItemInput, 0, n)
			expected := decimal.Zero
			for i := 0; i < n; i++ {
				price := decimal.New(int64(priceCents[i]), -2)
				p := &domain.Product{
					ID:    uuid.New(),
					Name:  "p",
					Price: price,
					Stock: quantities[i],
				}
				store.addProduct(p)
				inputs = append(inputs, SaleItemInput{ProductID: p.ID, Quantity: quantities[i]})
				expected = expected.Add(price.Mul(decimal.NewFromInt(int64(quantities[i]))))
			}

			sale, err := service.Create(ctx, uuid.New(), inputs, domain.SaleStatusCompleted)
			if err != nil {
				t.Logf("FAIL: unexpected create error: %v", err)
				return false
			}

			if !sale.Total.Equal(expected) {
				t.Logf("FAIL: total %s, expected %s", sale.Total, expected)
				return false
			}
			for _, item := range sale.Items {
				if !item.Subtotal.Equal(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))) {
					t.Logf("FAIL: subtotal %s does not match %s x %d", item.Subtotal, item.UnitPrice, item.Quantity)
					return false
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.IntRange(1, 99999)),
		gen.SliceOfN(5, gen.IntRange(1, 50)),
	))

	properties.TestingRun(t)
}

func TestProperty_FailedReservationLeavesStockUntouched(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("an insufficient item rolls back every reservation in the sale", prop.ForAll(
		func(stockA, stockB, deficit int) bool {
			store := newMemStore()
			service := newSaleServiceForTest(store)
			ctx := context.Background()

			available := seedProduct(store, "5.00", stockA)
			short := seedProduct(store, "3.50", stockB)

			_, err := service.Create(ctx, uuid.New(), []SaleItemInput{
				{ProductID: available.ID, Quantity: stockA},
				{ProductID: short.ID, Quantity: stockB + deficit},
			}, domain.SaleStatusCompleted)

			var stockErr *repository.InsufficientStockError
			if !errors.As(err, &stockErr) {
				t.Logf("FAIL: expected insufficient stock error, got %v", err)
				return false
			}
			if store.stock(available.ID) != stockA || store.stock(short.ID) != stockB {
				t.Logf("FAIL: stock mutated on failed sale: %d/%d, %d/%d",
					store.stock(available.ID), stockA, store.stock(short.ID), stockB)
				return false
			}
			if len(store.sales) != 0 {
				t.Logf("FAIL: sale persisted despite failed reservation")
				return false
			}
			return true
		},
		gen.IntRange(1, 100),
		gen.IntRange(0, 100),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

func TestProperty_DeleteRestoresReservedStock(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("creating then deleting a sale leaves stock at its initial level", prop.ForAll(
		func(stock, quantity int) bool {
			if quantity > stock {
				quantity = stock
			}

			store := newMemStore()
			service := newSaleServiceForTest(store)
			ctx := context.Background()
			userID := uuid.New()

			product := seedProduct(store, "9.99", stock)

			sale, err := service.Create(ctx, userID, []SaleItemInput{
				{ProductID: product.ID, Quantity: quantity},
			}, domain.SaleStatusCompleted)
			if err != nil {
				t.Logf("FAIL: create: %v", err)
				return false
			}
			if store.stock(product.ID) != stock-quantity {
				t.Logf("FAIL: stock after create %d, expected %d", store.stock(product.ID), stock-quantity)
				return false
			}

			if err := service.Delete(ctx, userID, sale.ID); err != nil {
				t.Logf("FAIL: delete: %v", err)
				return false
			}
			if store.stock(product.ID) != stock {
				t.Logf("FAIL: stock after delete %d, expected %d", store.stock(product.ID), stock)
				return false
			}
			return true
		},
		gen.IntRange(1, 1000),
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)
}

func TestSaleService_Create_Validation(t *testing.T) {
	store := newMemStore()
	service := newSaleServiceForTest(store)
	ctx := context.Background()
	product := seedProduct(store, "5.00", 10)

	tests := []struct {
		name    string
		items   []SaleItemInput
		status  domain.SaleStatus
		wantErr error
	}{
		{
			name:    "empty item list",
			items:   []SaleItemInput{},
			status:  domain.SaleStatusCompleted,
			wantErr: ErrNoItems,
		},
		{
			name:    "zero quantity",
			items:   []SaleItemInput{{ProductID: product.ID, Quantity: 0}},
			status:  domain.SaleStatusCompleted,
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "negative quantity",
			items:   []SaleItemInput{{ProductID: product.ID, Quantity: -3}},
			status:  domain.SaleStatusCompleted,
			wantErr: ErrInvalidQuantity,
		},
		{
			name: "duplicate product",
			items: []SaleItemInput{
				{ProductID: product.ID, Quantity: 1},
				{ProductID: product.ID, Quantity: 2},
			},
			status:  domain.SaleStatusCompleted,
			wantErr: ErrDuplicateProduct,
		},
		{
			name:    "unknown status",
			items:   []SaleItemInput{{ProductID: product.ID, Quantity: 1}},
			status:  domain.SaleStatus("shipped"),
			wantErr: ErrInvalidStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(ctx, uuid.New(), tt.items, tt.status)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 10, store.stock(product.ID), "validation failures must not touch stock")
		})
	}
}

func TestSaleService_Create_UnknownProduct(t *testing.T) {
	store := newMemStore()
	service := newSaleServiceForTest(store)

	_, err := service.Create(context.Background(), uuid.New(), []SaleItemInput{
		{ProductID: uuid.New(), Quantity: 1},
	}, domain.SaleStatusCompleted)

	assert.ErrorIs(t, err, repository.ErrProductNotFound)
	assert.Empty(t, store.sales)
}

func TestSaleService_Create_DefaultsToPending(t *testing.T) {
	store := newMemStore()
	service := newSaleServiceForTest(store)
	product := seedProduct(store, "5.00", 10)

	sale, err := service.Create(context.Background(), uuid.New(), []SaleItemInput{
		{ProductID: product.ID, Quantity: 1},
	}, "")

	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPending, sale.Status)
}

func TestSaleService_Create_SnapshotsUnitPrice(t *testing.T) {
	store := newMemStore()
	service := newSaleServiceForTest(store)
	ctx := context.Background()
	userID := uuid.New()
	product := seedProduct(store, "5.00", 10)

	sale, err := service.Create(ctx, userID, []SaleItemInput{
		{ProductID: product.ID, Quantity: 2},
	}, domain.SaleStatusCompleted)
	require.NoError(t, err)

	// Catalog price changes must not affect the recorded sale.
	store.products[product.ID].Price = decimal.RequireFromString("7.25")

	fetched, err := service.Get(ctx, userID, sale.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Items, 1)
	assert.True(t, fetched.Items[0].UnitPrice.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, fetched.Total.Equal(decimal.RequireFromString("10.00")))
}

func TestSaleService_Get_OwnershipAndTombstones(t *testing.T) {
	store := newMemStore()
	service := newSaleServiceForTest(store)
	ctx := context.Background()
	owner := uuid.New()
	product := seedProduct(store, "5.00", 10)

	sale, err := service.Create(ctx, owner, []SaleItemInput{
		{ProductID: product.ID, Quantity: 1},
	}, domain.SaleStatusCompleted)
	require.NoError(t, err)

	t.Run("owner reads the sale", func(t *testing.T) {
		fetched, err := service.Get(ctx, owner, sale.ID)
		require.NoError(t, err)
		assert.Equal(t, sale.ID, fetched.ID)
	})

	t.Run("another user is rejected", func(t *testing.T) {
		_, err := service.Get(ctx, uuid.New(), sale.ID)
		assert.ErrorIs(t, err, ErrNotSaleOwner)
	})

	t.Run("unknown sale", func(t *testing.T) {
		_, err := service.Get(ctx, owner, uuid.New())
		assert.ErrorIs(t, err, repository.ErrSaleNotFound)
	})

	t.Run("deleted sale is invisible", func(t *testing.T) {
		require.NoError(t, service.Delete(ctx, owner, sale.ID))
		_, err := service.Get(ctx, owner, sale.ID)
		assert.ErrorIs(t, err, repository.ErrSaleNotFound)
	})
}

func TestSaleService_List_ScopedToOwnerNewestFirst(t *testing.T) {
	store := newMemStore()
	service := newSaleServiceForTest(store)
	ctx := context.Background()
	owner := uuid.New()
	other := uuid.New()
	product := seedProduct(store, "5.00", 100)

	first, err := service.Create(ctx, owner, []SaleItemInput{{ProductID: product.ID, Quantity: 1}}, domain.SaleStatusCompleted)
	require.NoError(t, err)
	// Force distinct creation timestamps.
	store.sales[first.ID].CreatedAt = first.CreatedAt.Add(-time.Minute)

	second, err := service.Create(ctx, owner, []SaleItemInput{{ProductID: product.ID, Quantity: 2}}, domain.SaleStatusCompleted)
	require.NoError(t, err)

	_, err = service.Create(ctx, other, []SaleItemInput{{ProductID: product.ID, Quantity: 3}}, domain.SaleStatusCompleted)
	require.NoError(t, err)

	sales, total, err := service.List(ctx, owner, repository.SaleFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, sales, 2)
	assert.Equal(t, second.ID, sales[0].ID)
	assert.Equal(t, first.ID, sales[1].ID)
}

func TestSaleService_UpdateStatus(t *testing.T) {
	store := newMemStore()
	service := newSaleServiceForTest(store)
	ctx := context.Background()
	owner := uuid.New()
	product := seedProduct(store, "5.00", 10)

	sale, err := service.Create(ctx, owner, []SaleItemInput{
		{ProductID: product.ID, Quantity: 2},
	}, domain.SaleStatusPending)
	require.NoError(t, err)

	t.Run("owner updates status without touching stock", func(t *testing.T) {
		updated, err := service.UpdateStatus(ctx, owner, sale.ID, domain.SaleStatusCompleted)
		require.NoError(t, err)
		assert.Equal(t, domain.SaleStatusCompleted, updated.Status)
		assert.Equal(t, 8, store.stock(product.ID))
	})

	t.Run("invalid status", func(t *testing.T) {
		_, err := service.UpdateStatus(ctx, owner, sale.ID, domain.SaleStatus("refunded"))
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("another user is rejected", func(t *testing.T) {
		_, err := service.UpdateStatus(ctx, uuid.New(), sale.ID, domain.SaleStatusCancelled)
		assert.ErrorIs(t, err, ErrNotSaleOwner)
	})

	t.Run("unknown sale", func(t *testing.T) {
		_, err := service.UpdateStatus(ctx, owner, uuid.New(), domain.SaleStatusCancelled)
		assert.ErrorIs(t, err, repository.ErrSaleNotFound)
	})
}

func TestSaleService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("another user cannot delete", func(t *testing.T) {
		store := newMemStore()
		service := newSaleServiceForTest(store)
		owner := uuid.New()
		product := seedProduct(store, "5.00", 10)

		sale, err := service.Create(ctx, owner, []SaleItemInput{{ProductID: product.ID, Quantity: 1}}, domain.SaleStatusCompleted)
		require.NoError(t, err)

		err = service.Delete(ctx, uuid.New(), sale.ID)
		assert.ErrorIs(t, err, ErrNotSaleOwner)
		assert.Equal(t, 9, store.stock(product.ID), "rejected delete must not release stock")
	})

	t.Run("deleting twice fails the second time", func(t *testing.T) {
		store := newMemStore()
		service := newSaleServiceForTest(store)
		owner := uuid.New()
		product := seedProduct(store, "5.00", 10)

		sale, err := service.Create(ctx, owner, []SaleItemInput{{ProductID: product.ID, Quantity: 4}}, domain.SaleStatusCompleted)
		require.NoError(t, err)

		require.NoError(t, service.Delete(ctx, owner, sale.ID))
		assert.Equal(t, 10, store.stock(product.ID))

		err = service.Delete(ctx, owner, sale.ID)
		assert.ErrorIs(t, err, repository.ErrSaleNotFound)
		assert.Equal(t, 10, store.stock(product.ID), "repeat delete must not release stock again")
	})

	t.Run("tombstone keeps the row", func(t *testing.T) {
		store := newMemStore()
		service := newSaleServiceForTest(store)
		owner := uuid.New()
		product := seedProduct(store, "5.00", 10)

		sale, err := service.Create(ctx, owner, []SaleItemInput{{ProductID: product.ID, Quantity: 1}}, domain.SaleStatusCompleted)
		require.NoError(t, err)
		require.NoError(t, service.Delete(ctx, owner, sale.ID))

		stored, ok := store.sales[sale.ID]
		require.True(t, ok, "soft delete must retain the record")
		assert.NotNil(t, stored.DeletedAt)
	})
}
