package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinicore/clinicore-backend/internal/stock/repository"
	"github.com/clinicore/clinicore-backend/internal/stock/service"
	"github.com/clinicore/clinicore-backend/pkg/errors"
	"github.com/clinicore/clinicore-backend/pkg/httputil"
	"github.com/clinicore/clinicore-backend/pkg/logger"
)

// BatchHandler handles batch endpoints
type BatchHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(svc *service.StockService, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		service: svc,
		logger:  log,
	}
}

type createBatchRequest struct {
	BatchName  string `json:"batch_name" validate:"required,min=1,max=100"`
	Quantity   int    `json:"quantity" validate:"required,gt=0"`
	ExpiryDate string `json:"expiry_date" validate:"required"`
}

type correctQuantityRequest struct {
	Quantity int    `json:"quantity" validate:"gte=0"`
	Reason   string `json:"reason,omitempty" validate:"omitempty,max=200"`
}

// Create creates a new batch for a medicine
func (h *BatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	medicineID := chi.URLParam(r, "id")

	var req createBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	expiryDate, err := time.Parse("2006-01-02", req.ExpiryDate)
	if err != nil {
		httputil.Error(w, errors.BadRequest("expiry_date must be formatted as YYYY-MM-DD"))
		return
	}

	batch := &repository.Batch{
		MedicineID: medicineID,
		BatchName:  req.BatchName,
		Quantity:   req.Quantity,
		ExpiryDate: expiryDate,
	}
	if err := h.service.CreateBatch(r.Context(), batch); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, batch)
}

// ListByMedicine lists batches for a medicine
func (h *BatchHandler) ListByMedicine(w http.ResponseWriter, r *http.Request) {
	medicineID := chi.URLParam(r, "id")

	batches, err := h.service.ListBatchesByMedicine(r.Context(), medicineID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// Get gets a batch by ID
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	batch, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batch)
}

// Delete deletes a batch, discarding any remaining quantity through a
// closing ledger entry
func (h *BatchHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.DeleteBatch(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// CorrectQuantity records a manual quantity correction as a ledger entry
func (h *BatchHandler) CorrectQuantity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req correctQuantityRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	txn, err := h.service.CorrectBatchQuantity(r.Context(), id, req.Quantity, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, txn)
}

// Reconcile clears a quarantine after manual verification
func (h *BatchHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.ReconcileBatch(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"batch_id": id, "status": "reconciled"})
}
