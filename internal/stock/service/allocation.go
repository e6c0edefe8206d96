package service

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicore/clinicore-backend/internal/stock/repository"
	"github.com/clinicore/clinicore-backend/pkg/errors"
)

// BatchAllocation is one planned deduction against a single batch
type BatchAllocation struct {
	BatchID    string    `json:"batch_id"`
	BatchName  string    `json:"batch_name"`
	MedicineID string    `json:"medicine_id"`
	Quantity   int       `json:"quantity"`
	ExpiryDate time.Time `json:"expiry_date"`
}

// planAllocation spreads a requested quantity over eligible batches in
// first-expire-first-out order. The batches must already be sorted by
// expiry date ascending, ties broken by creation time, which is exactly
// what BatchRepository.ListEligible returns. The second return value is
// the shortfall; zero means the plan covers the full request.
func planAllocation(batches []*repository.Batch, requested int) ([]BatchAllocation, int) {
	remaining := requested
	var plan []BatchAllocation

	for _, batch := range batches {
		if remaining == 0 {
			break
		}
		take := batch.Quantity
		if take > remaining {
			take = remaining
		}
		if take <= 0 {
			continue
		}
		plan = append(plan, BatchAllocation{
			BatchID:    batch.ID,
			BatchName:  batch.BatchName,
			MedicineID: batch.MedicineID,
			Quantity:   take,
			ExpiryDate: batch.ExpiryDate,
		})
		remaining -= take
	}

	return plan, remaining
}

// PlanAllocation previews how a requested quantity would be drawn from the
// current eligible batches. The preview takes no locks and reserves
// nothing; only the prescription coordinator turns a plan into deductions.
func (s *StockService) PlanAllocation(ctx context.Context, medicineID string, quantity int) ([]BatchAllocation, error) {
	if quantity <= 0 {
		return nil, errors.BadRequest("requested quantity must be positive")
	}
	medicine, err := s.medicineRepo.GetByID(ctx, medicineID)
	if err != nil {
		return nil, err
	}

	batches, err := s.batchRepo.ListEligible(ctx, medicineID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	plan, shortfall := planAllocation(batches, quantity)
	if shortfall > 0 {
		return nil, errors.InsufficientStock(map[string]string{
			medicineID: shortfallDetail(medicine.Name, quantity, quantity-shortfall),
		})
	}

	return plan, nil
}

// shortfallDetail formats the per-medicine explanation carried in an
// insufficient stock error
func shortfallDetail(name string, requested, available int) string {
	return fmt.Sprintf("%s: requested %d, available %d", name, requested, available)
}
