package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repositories are constructed over it so the same code runs standalone or
// inside a unit of work.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store bundles the repositories that participate in a single unit of work.
type Store interface {
	Products() ProductRepository
	Sales() SaleRepository
}

// UnitOfWork runs a function against a transactional Store. The transaction
// commits exactly once if fn returns nil and rolls back on every other exit
// path, including panics.
type UnitOfWork interface {
	Within(ctx context.Context, fn func(s Store) error) error
}

type sqlStore struct {
	products ProductRepository
	sales    SaleRepository
}

func (s *sqlStore) Products() ProductRepository { return s.products }
func (s *sqlStore) Sales() SaleRepository       { return s.sales }

type sqlUnitOfWork struct {
	db *sql.DB
}

// NewUnitOfWork creates a UnitOfWork backed by database transactions.
func NewUnitOfWork(db *sql.DB) UnitOfWork {
	return &sqlUnitOfWork{db: db}
}

func (u *sqlUnitOfWork) Within(ctx context.Context, fn func(s Store) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	store := &sqlStore{
		products: NewProductRepository(tx),
		sales:    NewSaleRepository(tx),
	}

	if err := fn(store); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
