package service

import (
	"context"
	"errors"
	"time"

	"salepoint/internal/domain"
	"salepoint/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	SyncActionCreated = "created"
	SyncActionUpdated = "updated"

	reasonServerAuthoritative = "server version is authoritative"
	reasonForeignSale         = "sale belongs to another user"
	reasonTimeout             = "record processing timed out"
)

// control-flow sentinels for per-record classification; both roll back the
// record's unit of work, which is a no-op since neither path mutates state.
var (
	errRecordSkipped = errors.New("record skipped")
	errForeignSale   = errors.New(reasonForeignSale)
)

// SyncRecord is one client-submitted sale in a sync batch. ClientTimestamp
// is the client's creation time for the sale and the version marker for
// last-write-wins comparison; records without one never overwrite server
// state.
type SyncRecord struct {
	ID              uuid.UUID
	Items           []SaleItemInput
	Status          domain.SaleStatus
	ClientTimestamp *time.Time
}

// SyncOutcome describes a record that was applied.
type SyncOutcome struct {
	ID     uuid.UUID       `json:"id"`
	Action string          `json:"action"`
	Total  decimal.Decimal `json:"total"`
}

// SyncRejection describes a record that was skipped or failed, with a
// human-readable reason.
type SyncRejection struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

// SyncSummary aggregates the batch counts. Total is the batch size.
type SyncSummary struct {
	Total   int `json:"total"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// SyncResult is the classified outcome of a batch.
type SyncResult struct {
	Synced  []SyncOutcome   `json:"success"`
	Failed  []SyncRejection `json:"failed"`
	Skipped []SyncRejection `json:"skipped"`
	Summary SyncSummary     `json:"summary"`
}

// SyncService reconciles batches of client sale records against server
// state. Records are processed sequentially, each in its own unit of work:
// one record failing never affects the others, and partial batch success is
// the expected outcome, reported in the result rather than as an error.
type SyncService interface {
	SyncBatch(ctx context.Context, userID uuid.UUID, records []SyncRecord) (*SyncResult, error)
}

type syncService struct {
	uow           repository.UnitOfWork
	recordTimeout time.Duration
	logger        *zap.Logger
}

// NewSyncService creates a new instance of SyncService. recordTimeout bounds
// each record's unit of work; a record that exceeds it is classified failed
// instead of blocking the batch.
func NewSyncService(uow repository.UnitOfWork, recordTimeout time.Duration, logger *zap.Logger) SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &syncService{uow: uow, recordTimeout: recordTimeout, logger: logger}
}

// SyncBatch applies last-write-wins reconciliation to each record in order.
// Per record:
//   - unknown id: create the sale with the client-supplied id and timestamp
//   - id owned by someone else: failed, no mutation
//   - client timestamp absent or not newer than the server's: skipped (ties
//     favor the server)
//   - client timestamp newer: release the old reservation, re-reserve the
//     new item set all-or-nothing, replace items/total/status
func (s *syncService) SyncBatch(ctx context.Context, userID uuid.UUID, records []SyncRecord) (*SyncResult, error) {
	result := &SyncResult{
		Synced:  []SyncOutcome{},
		Failed:  []SyncRejection{},
		Skipped: []SyncRejection{},
	}

	for _, record := range records {
		outcome, err := s.applyRecord(ctx, userID, record)
		switch {
		case err == nil:
			result.Synced = append(result.Synced, *outcome)
		case errors.Is(err, errRecordSkipped):
			result.Skipped = append(result.Skipped, SyncRejection{ID: record.ID, Reason: reasonServerAuthoritative})
		default:
			reason := err.Error()
			if errors.Is(err, context.DeadlineExceeded) {
				reason = reasonTimeout
			}
			s.logger.Warn("sync record failed",
				zap.String("sale_id", record.ID.String()),
				zap.String("reason", reason),
			)
			result.Failed = append(result.Failed, SyncRejection{ID: record.ID, Reason: reason})
		}
	}

	result.Summary = SyncSummary{
		Total:   len(records),
		Synced:  len(result.Synced),
		Failed:  len(result.Failed),
		Skipped: len(result.Skipped),
	}

	s.logger.Info("sync batch processed",
		zap.String("user_id", userID.String()),
		zap.Int("total", result.Summary.Total),
		zap.Int("synced", result.Summary.Synced),
		zap.Int("failed", result.Summary.Failed),
		zap.Int("skipped", result.Summary.Skipped),
	)

	return result, nil
}

// applyRecord runs one record inside its own bounded unit of work.
func (s *syncService) applyRecord(ctx context.Context, userID uuid.UUID, record SyncRecord) (*SyncOutcome, error) {
	if err := validateItems(record.Items); err != nil {
		return nil, err
	}
	if record.Status != "" && !record.Status.Valid() {
		return nil, ErrInvalidStatus
	}

	recCtx := ctx
	if s.recordTimeout > 0 {
		var cancel context.CancelFunc
		recCtx, cancel = context.WithTimeout(ctx, s.recordTimeout)
		defer cancel()
	}

	var outcome *SyncOutcome
	err := s.uow.Within(recCtx, func(store repository.Store) error {
		existing, err := store.Sales().FindByID(recCtx, record.ID, true)
		if errors.Is(err, repository.ErrSaleNotFound) {
			created, err := s.createFromRecord(recCtx, store, userID, record)
			if err != nil {
				return err
			}
			outcome = &SyncOutcome{ID: created.ID, Action: SyncActionCreated, Total: created.Total}
			return nil
		}
		if err != nil {
			return err
		}

		if existing.UserID != userID {
			return errForeignSale
		}

		// LWW: ties favor the server, and a record without a timestamp can
		// never win against the stored version.
		if record.ClientTimestamp == nil || !record.ClientTimestamp.After(existing.CreatedAt) {
			return errRecordSkipped
		}

		updated, err := s.replaceFromRecord(recCtx, store, existing, record)
		if err != nil {
			return err
		}
		outcome = &SyncOutcome{ID: updated.ID, Action: SyncActionUpdated, Total: updated.Total}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return outcome, nil
}

func (s *syncService) createFromRecord(ctx context.Context, store repository.Store, userID uuid.UUID, record SyncRecord) (*domain.Sale, error) {
	status := record.Status
	if status == "" {
		status = domain.SaleStatusPending
	}
	createdAt := time.Now().UTC()
	if record.ClientTimestamp != nil {
		createdAt = record.ClientTimestamp.UTC()
	}
	return createSale(ctx, store, record.ID, userID, record.Items, status, createdAt)
}

// replaceFromRecord applies a newer client version: the existing reservation
// is reversed, the new item set reserved all-or-nothing, and items, total,
// status and the version timestamp replaced wholesale. A tombstoned sale has
// no active reservation (deletion already released it), so its old items are
// not released again; the replacement revives the sale.
func (s *syncService) replaceFromRecord(ctx context.Context, store repository.Store, existing *domain.Sale, record SyncRecord) (*domain.Sale, error) {
	if !existing.Deleted() {
		for _, item := range existing.Items {
			if err := store.Products().Release(ctx, item.ProductID, item.Quantity); err != nil {
				return nil, err
			}
		}
	}

	items, total, err := reserveItems(ctx, store, existing.ID, record.Items)
	if err != nil {
		return nil, err
	}

	status := record.Status
	if status == "" {
		status = existing.Status
	}

	sale := &domain.Sale{
		ID:        existing.ID,
		UserID:    existing.UserID,
		Total:     total,
		Status:    status,
		CreatedAt: record.ClientTimestamp.UTC(),
		Items:     items,
	}
	if err := store.Sales().Replace(ctx, sale); err != nil {
		return nil, err
	}

	return sale, nil
}
