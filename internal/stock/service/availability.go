package service

import (
	"context"
	"time"

	"github.com/clinicore/clinicore-backend/internal/stock/repository"
)

// AvailabilityReport is the per-medicine view the dashboard renders.
// Expired stock is never counted as available; it only shows up in the
// expired bucket so someone goes and discards it.
type AvailabilityReport struct {
	MedicineID        string    `json:"medicine_id"`
	MedicineName      string    `json:"medicine_name"`
	Unit              string    `json:"unit"`
	Available         int       `json:"available"`
	ExpiringSoonCount int       `json:"expiring_soon_count"`
	ExpiredCount      int       `json:"expired_count"`
	AsOf              time.Time `json:"as_of"`
}

// AvailableQuantity computes the total usable quantity for a medicine,
// excluding expired batches, as of now. Reads never mutate anything and
// are safe to repeat.
func (s *StockService) AvailableQuantity(ctx context.Context, medicineID string) (int, error) {
	if _, err := s.medicineRepo.GetByID(ctx, medicineID); err != nil {
		return 0, err
	}
	return s.batchRepo.TotalAvailable(ctx, medicineID, time.Now().UTC())
}

// AvailabilityFor builds a fresh availability report for one medicine
func (s *StockService) AvailabilityFor(ctx context.Context, medicineID string) (*AvailabilityReport, error) {
	medicine, err := s.medicineRepo.GetByID(ctx, medicineID)
	if err != nil {
		return nil, err
	}
	return s.buildReport(ctx, medicine, time.Now().UTC())
}

// AvailabilitySnapshot serves the dashboard variant of the report via the
// Redis snapshot. Deduction decisions never read this path; the coordinator
// always recomputes from the batch store.
func (s *StockService) AvailabilitySnapshot(ctx context.Context, medicineID string) (*AvailabilityReport, error) {
	var report AvailabilityReport
	if s.cache.Get(ctx, snapshotKey(medicineID), &report) {
		return &report, nil
	}

	fresh, err := s.AvailabilityFor(ctx, medicineID)
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, snapshotKey(medicineID), fresh)
	return fresh, nil
}

// AvailabilityOverview builds reports for every medicine in the catalog
func (s *StockService) AvailabilityOverview(ctx context.Context) ([]*AvailabilityReport, error) {
	medicines, err := s.medicineRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	reports := make([]*AvailabilityReport, 0, len(medicines))
	for _, medicine := range medicines {
		report, err := s.buildReport(ctx, medicine, now)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	return reports, nil
}

func (s *StockService) buildReport(ctx context.Context, medicine *repository.Medicine, asOf time.Time) (*AvailabilityReport, error) {
	soonWindow := time.Duration(s.cfg.ExpiringSoonDays) * 24 * time.Hour
	breakdown, err := s.batchRepo.Breakdown(ctx, medicine.ID, asOf, soonWindow)
	if err != nil {
		return nil, err
	}

	return &AvailabilityReport{
		MedicineID:        medicine.ID,
		MedicineName:      medicine.Name,
		Unit:              medicine.Unit,
		Available:         breakdown.Total,
		ExpiringSoonCount: breakdown.ExpiringSoonCount,
		ExpiredCount:      breakdown.ExpiredCount,
		AsOf:              asOf,
	}, nil
}
