package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"salepoint/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertTestProduct(t *testing.T, price string, stock int) *domain.Product {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	product := &domain.Product{
		ID:          uuid.New(),
		Name:        "test-product-" + uuid.NewString()[:8],
		Description: "integration test product",
		Price:       decimal.RequireFromString(price),
		Stock:       stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, NewProductRepository(testDB).Create(context.Background(), product))
	return product
}

func currentStock(t *testing.T, id uuid.UUID) int {
	t.Helper()

	var stock int
	require.NoError(t, testDB.QueryRow("SELECT stock FROM products WHERE id = $1", id).Scan(&stock))
	return stock
}

func TestProductRepository_CreateAndFind(t *testing.T) {
	repo := NewProductRepository(testDB)
	ctx := context.Background()

	product := insertTestProduct(t, "12.50", 7)

	found, err := repo.FindByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, product.ID, found.ID)
	assert.Equal(t, product.Name, found.Name)
	assert.True(t, found.Price.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, 7, found.Stock)
}

func TestProductRepository_FindByID_NotFound(t *testing.T) {
	repo := NewProductRepository(testDB)

	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestProductRepository_Update(t *testing.T) {
	repo := NewProductRepository(testDB)
	ctx := context.Background()

	product := insertTestProduct(t, "5.00", 10)
	product.Name = "renamed"
	product.Price = decimal.RequireFromString("6.75")
	product.UpdatedAt = time.Now().UTC()

	require.NoError(t, repo.Update(ctx, product))

	found, err := repo.FindByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", found.Name)
	assert.True(t, found.Price.Equal(decimal.RequireFromString("6.75")))

	missing := *product
	missing.ID = uuid.New()
	assert.ErrorIs(t, repo.Update(ctx, &missing), ErrProductNotFound)
}

func TestProductRepository_Delete(t *testing.T) {
	repo := NewProductRepository(testDB)
	ctx := context.Background()

	t.Run("deletes an unused product", func(t *testing.T) {
		product := insertTestProduct(t, "5.00", 1)
		require.NoError(t, repo.Delete(ctx, product.ID))
		_, err := repo.FindByID(ctx, product.ID)
		assert.ErrorIs(t, err, ErrProductNotFound)
	})

	t.Run("unknown product", func(t *testing.T) {
		assert.ErrorIs(t, repo.Delete(ctx, uuid.New()), ErrProductNotFound)
	})

	t.Run("product referenced by a sale", func(t *testing.T) {
		product := insertTestProduct(t, "5.00", 10)
		sale := insertTestSale(t, insertTestUser(t), product, 2)
		_ = sale

		assert.ErrorIs(t, repo.Delete(ctx, product.ID), ErrProductInUse)
	})
}

func TestProductRepository_Reserve(t *testing.T) {
	repo := NewProductRepository(testDB)
	ctx := context.Background()

	t.Run("decrements stock and returns the price snapshot", func(t *testing.T) {
		product := insertTestProduct(t, "5.00", 10)

		reserved, err := repo.Reserve(ctx, product.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, 7, reserved.Stock)
		assert.True(t, reserved.Price.Equal(decimal.RequireFromString("5.00")))
		assert.Equal(t, 7, currentStock(t, product.ID))
	})

	t.Run("reserving the whole stock drains it to zero", func(t *testing.T) {
		product := insertTestProduct(t, "5.00", 4)

		reserved, err := repo.Reserve(ctx, product.ID, 4)
		require.NoError(t, err)
		assert.Equal(t, 0, reserved.Stock)
	})

	t.Run("insufficient stock reports the shortfall", func(t *testing.T) {
		product := insertTestProduct(t, "5.00", 2)

		_, err := repo.Reserve(ctx, product.ID, 5)
		var stockErr *InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, product.ID, stockErr.ProductID)
		assert.Equal(t, 2, stockErr.Available)
		assert.Equal(t, 5, stockErr.Requested)
		assert.Equal(t, 2, currentStock(t, product.ID), "failed reservation must not move stock")
	})

	t.Run("unknown product", func(t *testing.T) {
		_, err := repo.Reserve(ctx, uuid.New(), 1)
		assert.ErrorIs(t, err, ErrProductNotFound)
	})
}

func TestProductRepository_Release(t *testing.T) {
	repo := NewProductRepository(testDB)
	ctx := context.Background()

	product := insertTestProduct(t, "5.00", 3)

	require.NoError(t, repo.Release(ctx, product.ID, 4))
	assert.Equal(t, 7, currentStock(t, product.ID))

	assert.ErrorIs(t, repo.Release(ctx, uuid.New(), 1), ErrProductNotFound)
}

// Hammers one product with concurrent single-unit reservations. Exactly
// stock-many must succeed and the final stock must be zero; the guarded
// UPDATE must never let the counter go negative.
func TestProductRepository_ConcurrentReservationsNeverOversell(t *testing.T) {
	repo := NewProductRepository(testDB)
	ctx := context.Background()

	const stock = 20
	const attempts = 50
	product := insertTestProduct(t, "5.00", stock)

	var succeeded atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Reserve(ctx, product.ID, 1); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(stock), succeeded.Load())
	assert.Equal(t, 0, currentStock(t, product.ID))
}

func TestProductRepository_List(t *testing.T) {
	repo := NewProductRepository(testDB)
	ctx := context.Background()

	marker := "listable-" + uuid.NewString()[:8]
	inStock := insertTestProduct(t, "5.00", 3)
	soldOut := insertTestProduct(t, "5.00", 0)
	for _, p := range []*domain.Product{inStock, soldOut} {
		_, err := testDB.Exec("UPDATE products SET name = $2 WHERE id = $1", p.ID, marker+"-"+p.ID.String()[:8])
		require.NoError(t, err)
	}

	t.Run("search matches by name", func(t *testing.T) {
		products, total, err := repo.List(ctx, marker, false, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, products, 2)
	})

	t.Run("in-stock filter hides sold-out products", func(t *testing.T) {
		products, total, err := repo.List(ctx, marker, true, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, products, 1)
		assert.Equal(t, inStock.ID, products[0].ID)
	})

	t.Run("pagination caps the page size", func(t *testing.T) {
		products, total, err := repo.List(ctx, marker, false, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, products, 1)
	})
}
