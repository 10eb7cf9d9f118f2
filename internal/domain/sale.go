package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleStatus is the lifecycle state of a sale.
type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusCancelled SaleStatus = "cancelled"
)

// Valid reports whether s is one of the known sale statuses.
func (s SaleStatus) Valid() bool {
	switch s {
	case SaleStatusPending, SaleStatusCompleted, SaleStatusCancelled:
		return true
	}
	return false
}

// Sale is a point-of-sale transaction. IDs are UUIDs supplied either by the
// server or by an offline client, so they stay stable across sync. CreatedAt
// doubles as the version marker for last-write-wins conflict resolution.
// A non-nil DeletedAt marks the sale as tombstoned: the row is retained so
// sync lookups can tell "existed and was deleted" apart from "never existed".
type Sale struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    uuid.UUID       `json:"user_id" db:"user_id"`
	Total     decimal.Decimal `json:"total" db:"total"`
	Status    SaleStatus      `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
	Items     []SaleItem      `json:"items"`
}

// Deleted reports whether the sale is tombstoned.
func (s *Sale) Deleted() bool {
	return s.DeletedAt != nil
}

// SaleItem is one line of a sale. UnitPrice is the product price snapshotted
// at reservation time and never changes afterwards, even if the catalog price
// moves. Item sets are replaced wholesale on update, never merged.
type SaleItem struct {
	SaleID    uuid.UUID       `json:"sale_id" db:"sale_id"`
	ProductID uuid.UUID       `json:"product_id" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal" db:"subtotal"`
}
