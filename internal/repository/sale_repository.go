package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"salepoint/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrSaleNotFound      = errors.New("sale not found")
	ErrSaleAlreadyExists = errors.New("sale with this id already exists")
)

// SaleFilter narrows and pages owner-scoped sale listings.
type SaleFilter struct {
	Status   *domain.SaleStatus
	DateFrom *time.Time
	DateTo   *time.Time
	Page     int
	PageSize int
}

// SaleRepository is the sale record store. Sales are soft-deleted: SoftDelete
// sets a tombstone timestamp and FindByID can include tombstoned rows so the
// sync reconciler can distinguish a deleted sale from one that never existed.
// Item sets are written wholesale; Replace detaches every existing item and
// attaches the new set.
type SaleRepository interface {
	Create(ctx context.Context, sale *domain.Sale) error
	FindByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (*domain.Sale, error)
	List(ctx context.Context, userID uuid.UUID, filter SaleFilter) ([]*domain.Sale, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SaleStatus) error
	Replace(ctx context.Context, sale *domain.Sale) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
}

type saleRepository struct {
	db DBTX
}

// NewSaleRepository creates a new instance of SaleRepository.
func NewSaleRepository(db DBTX) SaleRepository {
	return &saleRepository{db: db}
}

// Create persists the sale header and all its items as one set of inserts.
// Run it inside a unit of work so the header and items commit together.
func (r *saleRepository) Create(ctx context.Context, sale *domain.Sale) error {
	query := `
		INSERT INTO sales (id, user_id, total, status, created_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, NULL)
	`

	_, err := r.db.ExecContext(ctx, query, sale.ID, sale.UserID, sale.Total, sale.Status, sale.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSaleAlreadyExists
		}
		return fmt.Errorf("failed to create sale: %w", err)
	}

	if err := r.insertItems(ctx, sale.ID, sale.Items); err != nil {
		return err
	}

	return nil
}

func (r *saleRepository) insertItems(ctx context.Context, saleID uuid.UUID, items []domain.SaleItem) error {
	query := `
		INSERT INTO sale_items (sale_id, product_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5)
	`

	for _, item := range items {
		_, err := r.db.ExecContext(ctx, query, saleID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal)
		if err != nil {
			return fmt.Errorf("failed to create sale item: %w", err)
		}
	}
	return nil
}

// FindByID retrieves a sale with its items. When includeDeleted is true,
// tombstoned sales are returned as well.
func (r *saleRepository) FindByID(ctx context.Context, id uuid.UUID, includeDeleted bool) (*domain.Sale, error) {
	query := `
		SELECT id, user_id, total, status, created_at, deleted_at
		FROM sales
		WHERE id = $1
	`
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}

	sale := &domain.Sale{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&sale.ID,
		&sale.UserID,
		&sale.Total,
		&sale.Status,
		&sale.CreatedAt,
		&sale.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSaleNotFound
		}
		return nil, fmt.Errorf("failed to find sale by ID: %w", err)
	}

	items, err := r.findItems(ctx, id)
	if err != nil {
		return nil, err
	}
	sale.Items = items

	return sale, nil
}

func (r *saleRepository) findItems(ctx context.Context, saleID uuid.UUID) ([]domain.SaleItem, error) {
	query := `
		SELECT sale_id, product_id, quantity, unit_price, subtotal
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY product_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sale items: %w", err)
	}
	defer rows.Close()

	items := []domain.SaleItem{}
	for rows.Next() {
		item := domain.SaleItem{}
		if err := rows.Scan(&item.SaleID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sale items: %w", err)
	}

	return items, nil
}

// List retrieves a user's sales, newest first, excluding tombstoned rows.
func (r *saleRepository) List(ctx context.Context, userID uuid.UUID, filter SaleFilter) ([]*domain.Sale, int, error) {
	conditions := []string{"user_id = $1", "deleted_at IS NULL"}
	args := []any{userID}
	argIndex := 2

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *filter.DateFrom)
		argIndex++
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIndex))
		args = append(args, *filter.DateTo)
		argIndex++
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM sales %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sales: %w", err)
	}

	offset := (filter.Page - 1) * filter.PageSize
	query := fmt.Sprintf(`
		SELECT id, user_id, total, status, created_at, deleted_at
		FROM sales
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIndex, argIndex+1)
	args = append(args, filter.PageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sales: %w", err)
	}
	defer rows.Close()

	sales := []*domain.Sale{}
	for rows.Next() {
		sale := &domain.Sale{}
		err := rows.Scan(&sale.ID, &sale.UserID, &sale.Total, &sale.Status, &sale.CreatedAt, &sale.DeletedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan sale: %w", err)
		}
		sales = append(sales, sale)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating sales: %w", err)
	}

	for _, sale := range sales {
		items, err := r.findItems(ctx, sale.ID)
		if err != nil {
			return nil, 0, err
		}
		sale.Items = items
	}

	return sales, total, nil
}

// UpdateStatus replaces the status field only; stock is untouched.
func (r *saleRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SaleStatus) error {
	query := `
		UPDATE sales
		SET status = $2
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update sale status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSaleNotFound
	}

	return nil
}

// Replace rewrites the sale header (total, status, created_at) and swaps the
// whole item set: old items are detached, the new set attached. It also
// clears any tombstone, reviving a soft-deleted sale.
func (r *saleRepository) Replace(ctx context.Context, sale *domain.Sale) error {
	query := `
		UPDATE sales
		SET total = $2, status = $3, created_at = $4, deleted_at = NULL
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, sale.ID, sale.Total, sale.Status, sale.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to update sale: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSaleNotFound
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sale.ID); err != nil {
		return fmt.Errorf("failed to detach sale items: %w", err)
	}

	if err := r.insertItems(ctx, sale.ID, sale.Items); err != nil {
		return err
	}

	return nil
}

// SoftDelete tombstones a sale, keeping the row and its items so sync
// lookups by id still resolve.
func (r *saleRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE sales
		SET deleted_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to delete sale: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSaleNotFound
	}

	return nil
}
