package service

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicore/clinicore-backend/internal/stock/events"
	"github.com/clinicore/clinicore-backend/internal/stock/repository"
	"github.com/clinicore/clinicore-backend/pkg/config"
	"github.com/clinicore/clinicore-backend/pkg/errors"
	"github.com/clinicore/clinicore-backend/pkg/logger"
)

// ExpiryScanner walks the batch store and raises notifications for batches
// that are expiring soon or already expired. The notification journal is
// the dedup index, so a condition is reported once and not on every cycle.
type ExpiryScanner struct {
	medicineRepo     *repository.MedicineRepository
	batchRepo        *repository.BatchRepository
	notificationRepo *repository.NotificationRepository
	publisher        *events.StockEventPublisher
	cfg              config.StockConfig
	logger           *logger.Logger
}

// NewExpiryScanner creates a new expiry scanner
func NewExpiryScanner(
	medicineRepo *repository.MedicineRepository,
	batchRepo *repository.BatchRepository,
	notificationRepo *repository.NotificationRepository,
	publisher *events.StockEventPublisher,
	cfg config.StockConfig,
	log *logger.Logger,
) *ExpiryScanner {
	return &ExpiryScanner{
		medicineRepo:     medicineRepo,
		batchRepo:        batchRepo,
		notificationRepo: notificationRepo,
		publisher:        publisher,
		cfg:              cfg,
		logger:           log,
	}
}

// ScanAll runs all expiry scans. Logs errors but continues scanning.
func (s *ExpiryScanner) ScanAll(ctx context.Context) error {
	scanners := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"expiring_soon", s.scanExpiringSoon},
		{"expired", s.scanExpired},
		{"resolve_cleared", s.resolveCleared},
	}

	var lastErr error
	for _, scanner := range scanners {
		if err := scanner.fn(ctx); err != nil {
			s.logger.Error().Err(err).Str("scanner", scanner.name).Msg("expiry scan failed")
			lastErr = err
		}
	}

	return lastErr
}

// scanExpiringSoon reports batches that expire within the configured window
func (s *ExpiryScanner) scanExpiringSoon(ctx context.Context) error {
	now := time.Now().UTC()
	window := time.Duration(s.cfg.ExpiringSoonDays) * 24 * time.Hour

	batches, err := s.batchRepo.GetExpiringBatches(ctx, now, window)
	if err != nil {
		return fmt.Errorf("scanExpiringSoon: get expiring batches: %w", err)
	}

	for _, batch := range batches {
		log := s.logger.WithBatchID(batch.ID)

		exists, err := s.notificationRepo.ExistsUnresolved(ctx, repository.NotificationBatchExpiring, batch.MedicineID, &batch.ID)
		if err != nil {
			log.Error().Err(err).Msg("scanExpiringSoon: failed to check existing notification")
			continue
		}
		if exists {
			continue
		}

		medicine, err := s.medicineRepo.GetByID(ctx, batch.MedicineID)
		if err != nil {
			log.Error().Err(err).Msg("scanExpiringSoon: failed to load medicine")
			continue
		}

		days := int(batch.ExpiryDate.Sub(now).Hours() / 24)
		n := &repository.StockNotification{
			NotificationType: repository.NotificationBatchExpiring,
			MedicineID:       batch.MedicineID,
			MedicineName:     &medicine.Name,
			BatchID:          &batch.ID,
			Message:          fmt.Sprintf("%s batch %s expires in %d days (%d units)", medicine.Name, batch.BatchName, days, batch.Quantity),
		}
		if err := s.notificationRepo.Create(ctx, n); err != nil {
			log.Error().Err(err).Msg("scanExpiringSoon: failed to create notification")
			continue
		}

		s.publisher.PublishBatchExpiring(ctx, batch, now)
	}

	return nil
}

// scanExpired reports batches that have crossed their expiry date while
// still holding quantity. The quantity stays in the batch store until an
// operator discards it; it just never counts as available.
func (s *ExpiryScanner) scanExpired(ctx context.Context) error {
	now := time.Now().UTC()

	batches, err := s.batchRepo.GetExpiredBatches(ctx, now)
	if err != nil {
		return fmt.Errorf("scanExpired: get expired batches: %w", err)
	}

	for _, batch := range batches {
		log := s.logger.WithBatchID(batch.ID)

		exists, err := s.notificationRepo.ExistsUnresolved(ctx, repository.NotificationBatchExpired, batch.MedicineID, &batch.ID)
		if err != nil {
			log.Error().Err(err).Msg("scanExpired: failed to check existing notification")
			continue
		}
		if exists {
			continue
		}

		medicine, err := s.medicineRepo.GetByID(ctx, batch.MedicineID)
		if err != nil {
			log.Error().Err(err).Msg("scanExpired: failed to load medicine")
			continue
		}

		n := &repository.StockNotification{
			NotificationType: repository.NotificationBatchExpired,
			MedicineID:       batch.MedicineID,
			MedicineName:     &medicine.Name,
			BatchID:          &batch.ID,
			Message:          fmt.Sprintf("%s batch %s expired on %s with %d units remaining", medicine.Name, batch.BatchName, batch.ExpiryDate.Format("2006-01-02"), batch.Quantity),
		}
		if err := s.notificationRepo.Create(ctx, n); err != nil {
			log.Error().Err(err).Msg("scanExpired: failed to create notification")
			continue
		}

		// An expired batch that was flagged as expiring soon is now
		// covered by the stronger notification
		if err := s.notificationRepo.Resolve(ctx, repository.NotificationBatchExpiring, batch.MedicineID, &batch.ID); err != nil {
			log.Error().Err(err).Msg("scanExpired: failed to resolve expiring notification")
		}

		s.publisher.PublishBatchExpired(ctx, batch)
	}

	return nil
}

// resolveCleared closes notifications whose condition no longer holds,
// such as an expiring batch that was discarded or corrected to zero
func (s *ExpiryScanner) resolveCleared(ctx context.Context) error {
	open, err := s.notificationRepo.List(ctx, false)
	if err != nil {
		return fmt.Errorf("resolveCleared: list notifications: %w", err)
	}

	now := time.Now().UTC()
	for _, n := range open {
		cleared, err := s.conditionCleared(ctx, n, now)
		if err != nil {
			s.logger.Error().Err(err).Str("notification_id", n.ID).Msg("resolveCleared: failed to re-check condition")
			continue
		}
		if !cleared {
			continue
		}

		if err := s.notificationRepo.Resolve(ctx, n.NotificationType, n.MedicineID, n.BatchID); err != nil {
			s.logger.Error().Err(err).Str("notification_id", n.ID).Msg("resolveCleared: failed to resolve notification")
		}
	}

	return nil
}

func (s *ExpiryScanner) conditionCleared(ctx context.Context, n *repository.StockNotification, now time.Time) (bool, error) {
	switch n.NotificationType {
	case repository.NotificationBatchExpiring, repository.NotificationBatchExpired:
		if n.BatchID == nil {
			return true, nil
		}
		batch, err := s.batchRepo.GetByID(ctx, *n.BatchID)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				// Deleted batches no longer hold discardable quantity
				return true, nil
			}
			return false, err
		}
		return batch.Quantity == 0, nil
	case repository.NotificationStockDepleted:
		available, err := s.batchRepo.TotalAvailable(ctx, n.MedicineID, now)
		if err != nil {
			return false, err
		}
		return available > 0, nil
	default:
		return false, nil
	}
}
