package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinicore/clinicore-backend/internal/stock/service"
	"github.com/clinicore/clinicore-backend/pkg/errors"
	"github.com/clinicore/clinicore-backend/pkg/httputil"
	"github.com/clinicore/clinicore-backend/pkg/logger"
)

// AvailabilityHandler handles availability and allocation preview endpoints
type AvailabilityHandler struct {
	service *service.StockService
	logger  *logger.Logger
}

// NewAvailabilityHandler creates a new availability handler
func NewAvailabilityHandler(svc *service.StockService, log *logger.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{
		service: svc,
		logger:  log,
	}
}

// Get returns the availability report for one medicine. The dashboard
// passes snapshot=true to allow a cached report; anything that feeds a
// decision reads the fresh path.
func (h *AvailabilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	medicineID := chi.URLParam(r, "id")

	var (
		report *service.AvailabilityReport
		err    error
	)
	if r.URL.Query().Get("snapshot") == "true" {
		report, err = h.service.AvailabilitySnapshot(r.Context(), medicineID)
	} else {
		report, err = h.service.AvailabilityFor(r.Context(), medicineID)
	}
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// Overview returns availability reports for the whole catalog
func (h *AvailabilityHandler) Overview(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.AvailabilityOverview(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, reports)
}

// PlanAllocation previews how a quantity would be drawn from batches in
// first-expire-first-out order, without reserving anything
func (h *AvailabilityHandler) PlanAllocation(w http.ResponseWriter, r *http.Request) {
	medicineID := chi.URLParam(r, "id")

	quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || quantity <= 0 {
		httputil.Error(w, errors.BadRequest("quantity must be a positive integer"))
		return
	}

	plan, err := h.service.PlanAllocation(r.Context(), medicineID, quantity)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, plan)
}
