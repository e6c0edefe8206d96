package service

import (
	"context"
	"sort"
	"time"

	"github.com/clinicore/clinicore-backend/internal/stock/repository"
	"github.com/clinicore/clinicore-backend/pkg/actor"
	"github.com/clinicore/clinicore-backend/pkg/errors"
)

// PrescriptionLine requests a quantity of one medicine
type PrescriptionLine struct {
	MedicineID string `json:"medicine_id" validate:"required,uuid"`
	Quantity   int    `json:"quantity" validate:"required,gt=0"`
}

// PrescriptionRequest is a multi-medicine deduction that either fully
// commits or leaves no trace in quantities
type PrescriptionRequest struct {
	Lines          []PrescriptionLine `json:"lines" validate:"required,min=1,dive"`
	PatientID      *string            `json:"patient_id,omitempty" validate:"omitempty,uuid"`
	FamilyMemberID *string            `json:"family_member_id,omitempty" validate:"omitempty,uuid"`
	TreatmentRef   *string            `json:"treatment_ref,omitempty"`
}

// PrescriptionResult reports the committed deductions
type PrescriptionResult struct {
	Transactions []*repository.StockTransaction `json:"transactions"`
	Allocations  []BatchAllocation              `json:"allocations"`
}

// RecordPrescription deducts stock for a prescription across one or more
// medicines. The whole request is atomic: every line commits or none does.
//
// The commit runs in phases. First a lock-free availability check reports
// every short medicine at once. Then the union of eligible batches is
// locked in ascending ID order and the allocation is re-planned under the
// locks, since availability may have moved between check and lock. Only
// then are the ledger entries appended; a failure mid-commit is undone
// with compensating additions, and a batch whose compensation also fails
// is quarantined until an operator reconciles it.
func (s *StockService) RecordPrescription(ctx context.Context, req *PrescriptionRequest) (*PrescriptionResult, error) {
	lines, err := s.mergeLines(req.Lines)
	if err != nil {
		return nil, err
	}

	medicines := make(map[string]*repository.Medicine, len(lines))
	for _, line := range lines {
		medicine, err := s.medicineRepo.GetByID(ctx, line.MedicineID)
		if err != nil {
			return nil, err
		}
		medicines[line.MedicineID] = medicine
	}

	now := time.Now().UTC()

	// Lock-free validation. Collect every shortfall before failing so the
	// prescriber can fix the whole request in one round trip.
	eligible := make(map[string][]*repository.Batch, len(lines))
	shortfalls := make(map[string]string)
	var lockIDs []string
	for _, line := range lines {
		batches, err := s.batchRepo.ListEligible(ctx, line.MedicineID, now)
		if err != nil {
			return nil, err
		}
		eligible[line.MedicineID] = batches

		_, shortfall := planAllocation(batches, line.Quantity)
		if shortfall > 0 {
			name := medicines[line.MedicineID].Name
			shortfalls[line.MedicineID] = shortfallDetail(name, line.Quantity, line.Quantity-shortfall)
			continue
		}
		for _, batch := range batches {
			lockIDs = append(lockIDs, batch.ID)
		}
	}
	if len(shortfalls) > 0 {
		return nil, errors.InsufficientStock(shortfalls)
	}

	lease, err := s.locks.Acquire(ctx, s.cfg.LockTimeout, lockIDs...)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	locked := make(map[string]struct{}, len(lockIDs))
	for _, id := range lease.BatchIDs() {
		locked[id] = struct{}{}
	}

	// Re-plan under the locks against fresh quantities. Batches created
	// after validation are not locked and stay out of the plan.
	var plan []BatchAllocation
	for _, line := range lines {
		batches, err := s.batchRepo.ListEligible(ctx, line.MedicineID, now)
		if err != nil {
			return nil, err
		}
		held := batches[:0]
		for _, batch := range batches {
			if _, ok := locked[batch.ID]; ok {
				held = append(held, batch)
			}
		}

		linePlan, shortfall := planAllocation(held, line.Quantity)
		if shortfall > 0 {
			name := medicines[line.MedicineID].Name
			shortfalls[line.MedicineID] = shortfallDetail(name, line.Quantity, line.Quantity-shortfall)
			continue
		}
		plan = append(plan, linePlan...)
	}
	if len(shortfalls) > 0 {
		return nil, errors.InsufficientStock(shortfalls)
	}

	txns, err := s.commitPlan(ctx, req, plan)
	if err != nil {
		return nil, err
	}

	performedBy := actor.IDFromContext(ctx)
	treatmentRef := ""
	if req.TreatmentRef != nil {
		treatmentRef = *req.TreatmentRef
	}
	s.publisher.PublishPrescriptionRecorded(ctx, treatmentRef, performedBy, txns)

	for _, line := range lines {
		s.invalidateSnapshot(ctx, line.MedicineID)
		s.checkDepletion(ctx, line.MedicineID)
	}

	return &PrescriptionResult{Transactions: txns, Allocations: plan}, nil
}

// commitPlan appends one removal per planned deduction. A failure rolls
// back the entries already written with compensating additions; if a
// compensation itself fails the batch is quarantined, since its stored
// quantity no longer matches what the ledger says happened.
func (s *StockService) commitPlan(ctx context.Context, req *PrescriptionRequest, plan []BatchAllocation) ([]*repository.StockTransaction, error) {
	performedBy := actor.IDFromContext(ctx)
	txns := make([]*repository.StockTransaction, 0, len(plan))

	for _, alloc := range plan {
		txn := &repository.StockTransaction{
			BatchID:        alloc.BatchID,
			Change:         -alloc.Quantity,
			Type:           repository.TransactionRemoved,
			Reason:         repository.ReasonPrescription,
			PatientID:      req.PatientID,
			FamilyMemberID: req.FamilyMemberID,
			TreatmentRef:   req.TreatmentRef,
			PerformedBy:    performedBy,
		}
		if err := s.ledgerRepo.Append(ctx, txn); err != nil {
			s.logger.Error().Err(err).
				Str("batch_id", alloc.BatchID).
				Int("committed", len(txns)).
				Msg("prescription commit failed, compensating")
			if compErr := s.compensate(ctx, req, txns); compErr != nil {
				return nil, compErr
			}
			return nil, err
		}
		txns = append(txns, txn)
	}

	return txns, nil
}

// compensate re-adds the quantities of already committed removals. The
// compensating entries stay in the ledger; the rollback is visible in the
// history rather than erased from it.
//
// A failed compensation never stops the others: every remaining entry is
// still attempted, each batch whose compensation failed is quarantined,
// and the returned InconsistentState names all of them. Stopping at the
// first failure would strand earlier removals on batches nobody flagged.
func (s *StockService) compensate(ctx context.Context, req *PrescriptionRequest, committed []*repository.StockTransaction) error {
	performedBy := actor.IDFromContext(ctx)
	var quarantined []string
	for i := len(committed) - 1; i >= 0; i-- {
		prev := committed[i]
		comp := &repository.StockTransaction{
			BatchID:        prev.BatchID,
			Change:         -prev.Change,
			Type:           repository.TransactionAdded,
			Reason:         repository.ReasonCompensation,
			PatientID:      req.PatientID,
			FamilyMemberID: req.FamilyMemberID,
			TreatmentRef:   req.TreatmentRef,
			PerformedBy:    performedBy,
		}
		if err := s.ledgerRepo.Append(ctx, comp); err != nil {
			s.locks.Quarantine(prev.BatchID)
			quarantined = append(quarantined, prev.BatchID)
			s.logger.Error().Err(err).
				Str("batch_id", prev.BatchID).
				Msg("compensation failed, batch quarantined")
		}
	}
	if len(quarantined) > 0 {
		return errors.InconsistentState(quarantined...)
	}
	return nil
}

// mergeLines folds duplicate medicine lines into one and validates
// quantities. Returned lines are in deterministic medicine ID order.
func (s *StockService) mergeLines(lines []PrescriptionLine) ([]PrescriptionLine, error) {
	if len(lines) == 0 {
		return nil, errors.BadRequest("prescription must contain at least one line")
	}

	merged := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.MedicineID == "" {
			return nil, errors.BadRequest("prescription line is missing a medicine")
		}
		if line.Quantity <= 0 {
			return nil, errors.BadRequest("prescription quantities must be positive")
		}
		merged[line.MedicineID] += line.Quantity
	}

	result := make([]PrescriptionLine, 0, len(merged))
	for id, qty := range merged {
		result = append(result, PrescriptionLine{MedicineID: id, Quantity: qty})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MedicineID < result[j].MedicineID })

	return result, nil
}
