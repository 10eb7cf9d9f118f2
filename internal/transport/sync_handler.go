package transport

import (
	"fmt"
	"net/http"
	"time"

	"salepoint/internal/domain"
	"salepoint/internal/middleware"
	"salepoint/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SyncSaleRecord is one client sale record in a sync batch. The client
// timestamp is the sale's creation time on the client and drives
// last-write-wins conflict resolution.
type SyncSaleRecord struct {
	ID              string            `json:"id" validate:"required,uuid"`
	Products        []SaleItemRequest `json:"products" validate:"required,min=1,dive"`
	Status          string            `json:"status" validate:"omitempty,oneof=pending completed cancelled"`
	CreatedAtClient *time.Time        `json:"created_at_client"`
}

// SyncSalesRequest represents the sync batch payload.
type SyncSalesRequest struct {
	Sales []SyncSaleRecord `json:"sales" validate:"required,min=1,dive"`
}

// SyncSalesResponse mirrors the batch result: per-record classifications
// plus aggregate counts.
type SyncSalesResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Results SyncResultsPayload  `json:"results"`
	Summary service.SyncSummary `json:"summary"`
}

// SyncResultsPayload groups the classified records.
type SyncResultsPayload struct {
	Success []service.SyncOutcome   `json:"success"`
	Failed  []service.SyncRejection `json:"failed"`
	Skipped []service.SyncRejection `json:"skipped"`
}

// SyncHandler handles HTTP requests for offline sale synchronization.
type SyncHandler struct {
	syncService service.SyncService
	logger      *zap.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(syncService service.SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{syncService: syncService, logger: logger}
}

// RegisterRoutes registers the sync routes. Batches can be large and are
// retried by offline clients, so the route carries the rate limiter on top
// of authentication.
func (h *SyncHandler) RegisterRoutes(r chi.Router, authMiddleware, rateLimitMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/sync", func(r chi.Router) {
		r.Use(authMiddleware)
		if rateLimitMiddleware != nil {
			r.Use(rateLimitMiddleware)
		}
		r.Post("/sales", h.SyncSales)
	})
}

// SyncSales handles a batch of client sale records. The call fails only when
// the batch payload itself is malformed; per-record errors are contained in
// the result.
func (h *SyncHandler) SyncSales(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}

	var req SyncSalesRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	records := make([]service.SyncRecord, 0, len(req.Sales))
	for _, rec := range req.Sales {
		saleID, err := uuid.Parse(rec.ID)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid sale id in batch")
			return
		}
		items, err := parseItemRequests(rec.Products)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id in batch")
			return
		}
		records = append(records, service.SyncRecord{
			ID:              saleID,
			Items:           items,
			Status:          domain.SaleStatus(rec.Status),
			ClientTimestamp: rec.CreatedAtClient,
		})
	}

	result, err := h.syncService.SyncBatch(r.Context(), userID, records)
	if err != nil {
		h.logger.Error("Sync batch failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to process sync batch")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, SyncSalesResponse{
		Success: true,
		Message: fmt.Sprintf("Processed %d sales", result.Summary.Total),
		Results: SyncResultsPayload{
			Success: result.Synced,
			Failed:  result.Failed,
			Skipped: result.Skipped,
		},
		Summary: result.Summary,
	})
}
