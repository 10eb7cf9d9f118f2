package transport

import (
	"errors"
	"net/http"
	"time"

	"salepoint/internal/domain"
	"salepoint/internal/middleware"
	"salepoint/internal/repository"
	"salepoint/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SaleItemRequest is one requested line of a sale.
type SaleItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// CreateSaleRequest represents the sale creation payload.
type CreateSaleRequest struct {
	Products []SaleItemRequest `json:"products" validate:"required,min=1,dive"`
	Status   string            `json:"status" validate:"omitempty,oneof=pending completed cancelled"`
}

// UpdateSaleRequest represents the status update payload.
type UpdateSaleRequest struct {
	Status string `json:"status" validate:"required,oneof=pending completed cancelled"`
}

// SaleItemResponse is one line of a sale as returned to clients.
type SaleItemResponse struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// SaleResponse is a sale as returned to clients.
type SaleResponse struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Total     decimal.Decimal    `json:"total"`
	Status    string             `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	Items     []SaleItemResponse `json:"items"`
}

// SaleListResponse is a paginated sale listing.
type SaleListResponse struct {
	Sales []SaleResponse `json:"sales"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
}

func toSaleResponse(sale *domain.Sale) SaleResponse {
	items := make([]SaleItemResponse, 0, len(sale.Items))
	for _, item := range sale.Items {
		items = append(items, SaleItemResponse{
			ProductID: item.ProductID.String(),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}
	return SaleResponse{
		ID:        sale.ID.String(),
		UserID:    sale.UserID.String(),
		Total:     sale.Total,
		Status:    string(sale.Status),
		CreatedAt: sale.CreatedAt,
		Items:     items,
	}
}

// SaleHandler handles HTTP requests for sale operations.
type SaleHandler struct {
	saleService service.SaleService
	logger      *zap.Logger
}

// NewSaleHandler creates a new SaleHandler.
func NewSaleHandler(saleService service.SaleService, logger *zap.Logger) *SaleHandler {
	return &SaleHandler{saleService: saleService, logger: logger}
}

// RegisterRoutes registers all sale routes. Every route requires an
// authenticated caller.
func (h *SaleHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/sales", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{saleID}", h.Get)
		r.Patch("/{saleID}", h.UpdateStatus)
		r.Delete("/{saleID}", h.Delete)
	})
}

// respondSaleError maps sale engine errors to HTTP status codes.
func respondSaleError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var stockErr *repository.InsufficientStockError

	switch {
	case errors.Is(err, repository.ErrSaleNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "sale not found")
	case errors.Is(err, repository.ErrProductNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, service.ErrNotSaleOwner):
		middleware.RespondWithError(w, http.StatusForbidden, "unauthorized access")
	case errors.As(err, &stockErr):
		middleware.RespondWithErrorDetails(w, http.StatusUnprocessableEntity, stockErr.Error(), map[string]interface{}{
			"product_id": stockErr.ProductID.String(),
			"available":  stockErr.Available,
			"requested":  stockErr.Requested,
		})
	case errors.Is(err, service.ErrNoItems),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrDuplicateProduct),
		errors.Is(err, service.ErrInvalidStatus):
		middleware.RespondWithError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("Sale operation failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

func parseItemRequests(items []SaleItemRequest) ([]service.SaleItemInput, error) {
	inputs := make([]service.SaleItemInput, 0, len(items))
	for _, item := range items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, service.SaleItemInput{ProductID: productID, Quantity: item.Quantity})
	}
	return inputs, nil
}

// Create handles sale creation.
func (h *SaleHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateSaleRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items, err := parseItemRequests(req.Products)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	sale, err := h.saleService.Create(r.Context(), userID, items, domain.SaleStatus(req.Status))
	if err != nil {
		respondSaleError(w, h.logger, err)
		return
	}

	h.logger.Info("Sale created",
		zap.String("sale_id", sale.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("total", sale.Total.StringFixed(2)),
	)
	middleware.RespondWithJSON(w, http.StatusCreated, toSaleResponse(sale))
}

// Get handles fetching a single sale.
func (h *SaleHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}

	saleID, err := uuid.Parse(chi.URLParam(r, "saleID"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid sale id")
		return
	}

	sale, err := h.saleService.Get(r.Context(), userID, saleID)
	if err != nil {
		respondSaleError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, toSaleResponse(sale))
}

// List handles listing the caller's sales with optional status and date
// range filters.
func (h *SaleHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}

	filter := repository.SaleFilter{
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "per_page", 15),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		st := domain.SaleStatus(status)
		if !st.Valid() {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filter.Status = &st
	}
	if from := r.URL.Query().Get("date_from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid date_from")
			return
		}
		filter.DateFrom = &t
	}
	if to := r.URL.Query().Get("date_to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid date_to")
			return
		}
		filter.DateTo = &t
	}

	sales, total, err := h.saleService.List(r.Context(), userID, filter)
	if err != nil {
		respondSaleError(w, h.logger, err)
		return
	}

	response := SaleListResponse{Sales: make([]SaleResponse, 0, len(sales)), Total: total, Page: filter.Page}
	for _, sale := range sales {
		response.Sales = append(response.Sales, toSaleResponse(sale))
	}
	middleware.RespondWithJSON(w, http.StatusOK, response)
}

// UpdateStatus handles replacing a sale's status.
func (h *SaleHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}

	saleID, err := uuid.Parse(chi.URLParam(r, "saleID"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid sale id")
		return
	}

	var req UpdateSaleRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sale, err := h.saleService.UpdateStatus(r.Context(), userID, saleID, domain.SaleStatus(req.Status))
	if err != nil {
		respondSaleError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, toSaleResponse(sale))
}

// Delete handles soft-deleting a sale and releasing its stock.
func (h *SaleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}

	saleID, err := uuid.Parse(chi.URLParam(r, "saleID"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid sale id")
		return
	}

	if err := h.saleService.Delete(r.Context(), userID, saleID); err != nil {
		respondSaleError(w, h.logger, err)
		return
	}

	h.logger.Info("Sale deleted",
		zap.String("sale_id", saleID.String()),
		zap.String("user_id", userID.String()),
	)
	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "sale deleted successfully"})
}
