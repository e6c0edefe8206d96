package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinicore/clinicore-backend/internal/stock/service"
	"github.com/clinicore/clinicore-backend/pkg/httputil"
	"github.com/clinicore/clinicore-backend/pkg/logger"
)

// LedgerHandler handles stock ledger endpoints
type LedgerHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(svc *service.StockService, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		service: svc,
		logger:  log,
	}
}

// ListByMedicine lists ledger entries for a medicine, newest first
func (h *LedgerHandler) ListByMedicine(w http.ResponseWriter, r *http.Request) {
	medicineID := chi.URLParam(r, "id")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}

	entries, total, err := h.service.ListLedgerByMedicine(r.Context(), medicineID, page, perPage)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}

	httputil.JSONWithMeta(w, http.StatusOK, entries, &httputil.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

// ListByBatch lists ledger entries for a batch, newest first
func (h *LedgerHandler) ListByBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")

	entries, err := h.service.ListLedgerByBatch(r.Context(), batchID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}
