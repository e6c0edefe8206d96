package service

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicore/clinicore-backend/internal/stock/events"
	"github.com/clinicore/clinicore-backend/internal/stock/repository"
	"github.com/clinicore/clinicore-backend/pkg/actor"
	"github.com/clinicore/clinicore-backend/pkg/batchlock"
	"github.com/clinicore/clinicore-backend/pkg/cache"
	"github.com/clinicore/clinicore-backend/pkg/config"
	"github.com/clinicore/clinicore-backend/pkg/errors"
	"github.com/clinicore/clinicore-backend/pkg/logger"
)

// StockService owns the medicine inventory: catalog, batches, ledger,
// availability, allocation and the prescription coordinator. Every quantity
// mutation flows through the per-batch locks and the ledger append, so
// there is exactly one mutation path into a batch's quantity.
type StockService struct {
	categoryRepo     *repository.CategoryRepository
	medicineRepo     *repository.MedicineRepository
	batchRepo        *repository.BatchRepository
	ledgerRepo       *repository.LedgerRepository
	notificationRepo *repository.NotificationRepository
	publisher        *events.StockEventPublisher
	locks            *batchlock.Manager
	cache            *cache.Cache
	cfg              config.StockConfig
	logger           *logger.Logger
}

// NewStockService creates a new stock service
func NewStockService(
	categoryRepo *repository.CategoryRepository,
	medicineRepo *repository.MedicineRepository,
	batchRepo *repository.BatchRepository,
	ledgerRepo *repository.LedgerRepository,
	notificationRepo *repository.NotificationRepository,
	publisher *events.StockEventPublisher,
	locks *batchlock.Manager,
	snapshotCache *cache.Cache,
	cfg config.StockConfig,
	log *logger.Logger,
) *StockService {
	return &StockService{
		categoryRepo:     categoryRepo,
		medicineRepo:     medicineRepo,
		batchRepo:        batchRepo,
		ledgerRepo:       ledgerRepo,
		notificationRepo: notificationRepo,
		publisher:        publisher,
		locks:            locks,
		cache:            snapshotCache,
		cfg:              cfg,
		logger:           log,
	}
}

// MedicineWithStock represents a medicine with its batches and availability
type MedicineWithStock struct {
	*repository.Medicine
	Batches   []*repository.Batch `json:"batches"`
	Available int                 `json:"available"`
}

// Category operations

// CreateCategory creates a new category
func (s *StockService) CreateCategory(ctx context.Context, category *repository.Category) error {
	return s.categoryRepo.Create(ctx, category)
}

// ListCategories lists all categories
func (s *StockService) ListCategories(ctx context.Context) ([]*repository.Category, error) {
	return s.categoryRepo.List(ctx)
}

// UpdateCategory renames a category
func (s *StockService) UpdateCategory(ctx context.Context, category *repository.Category) error {
	return s.categoryRepo.Update(ctx, category)
}

// DeleteCategory deletes a category
func (s *StockService) DeleteCategory(ctx context.Context, id string) error {
	return s.categoryRepo.Delete(ctx, id)
}

// Medicine operations

// CreateMedicine creates a new medicine
func (s *StockService) CreateMedicine(ctx context.Context, medicine *repository.Medicine) error {
	if medicine.CategoryID != nil {
		if _, err := s.categoryRepo.GetByID(ctx, *medicine.CategoryID); err != nil {
			return err
		}
	}
	return s.medicineRepo.Create(ctx, medicine)
}

// GetMedicine gets a medicine with its batches and current availability
func (s *StockService) GetMedicine(ctx context.Context, id string) (*MedicineWithStock, error) {
	medicine, err := s.medicineRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	batches, err := s.batchRepo.ListByMedicine(ctx, id)
	if err != nil {
		return nil, err
	}

	available, err := s.batchRepo.TotalAvailable(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	return &MedicineWithStock{
		Medicine:  medicine,
		Batches:   batches,
		Available: available,
	}, nil
}

// ListMedicines lists medicines with availability
func (s *StockService) ListMedicines(ctx context.Context, page, perPage int, categoryID string) ([]*MedicineWithStock, int64, error) {
	medicines, total, err := s.medicineRepo.List(ctx, page, perPage, categoryID)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now().UTC()
	result := make([]*MedicineWithStock, len(medicines))
	for i, medicine := range medicines {
		batches, err := s.batchRepo.ListByMedicine(ctx, medicine.ID)
		if err != nil {
			return nil, 0, err
		}
		available, err := s.batchRepo.TotalAvailable(ctx, medicine.ID, now)
		if err != nil {
			return nil, 0, err
		}
		result[i] = &MedicineWithStock{
			Medicine:  medicine,
			Batches:   batches,
			Available: available,
		}
	}

	return result, total, nil
}

// UpdateMedicine updates a medicine's reference data
func (s *StockService) UpdateMedicine(ctx context.Context, medicine *repository.Medicine) error {
	if medicine.CategoryID != nil {
		if _, err := s.categoryRepo.GetByID(ctx, *medicine.CategoryID); err != nil {
			return err
		}
	}
	if err := s.medicineRepo.Update(ctx, medicine); err != nil {
		return err
	}
	s.invalidateSnapshot(ctx, medicine.ID)
	return nil
}

// DeleteMedicine deletes a medicine without batch or ledger history
func (s *StockService) DeleteMedicine(ctx context.Context, id string) error {
	if err := s.medicineRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateSnapshot(ctx, id)
	return nil
}

// Batch operations

// CreateBatch creates a new batch of stock for a medicine
func (s *StockService) CreateBatch(ctx context.Context, batch *repository.Batch) error {
	if batch.Quantity <= 0 {
		return errors.BadRequest("batch quantity must be positive")
	}
	if batch.IsExpired(time.Now().UTC()) {
		return errors.BadRequest("batch expiry date must not be in the past")
	}
	if _, err := s.medicineRepo.GetByID(ctx, batch.MedicineID); err != nil {
		return err
	}

	if err := s.batchRepo.Create(ctx, batch); err != nil {
		return err
	}

	s.invalidateSnapshot(ctx, batch.MedicineID)

	// New stock clears a standing depletion notice
	if err := s.notificationRepo.Resolve(ctx, repository.NotificationStockDepleted, batch.MedicineID, nil); err != nil {
		s.logger.Warn().Err(err).Str("medicine_id", batch.MedicineID).Msg("failed to resolve depletion notification")
	}

	return nil
}

// GetBatch gets a batch by ID
func (s *StockService) GetBatch(ctx context.Context, id string) (*repository.Batch, error) {
	return s.batchRepo.GetByID(ctx, id)
}

// ListBatchesByMedicine lists batches for a medicine
func (s *StockService) ListBatchesByMedicine(ctx context.Context, medicineID string) ([]*repository.Batch, error) {
	if _, err := s.medicineRepo.GetByID(ctx, medicineID); err != nil {
		return nil, err
	}
	return s.batchRepo.ListByMedicine(ctx, medicineID)
}

// DeleteBatch administratively deletes a batch. Remaining quantity is
// discarded through a closing ledger entry first, so the ledger stays
// reconcilable; the delete itself is a soft delete.
func (s *StockService) DeleteBatch(ctx context.Context, id string) error {
	lease, err := s.locks.Acquire(ctx, s.cfg.LockTimeout, id)
	if err != nil {
		return err
	}
	defer lease.Release()

	batch, err := s.batchRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	discarded := batch.Quantity
	if discarded > 0 {
		txn := &repository.StockTransaction{
			BatchID:     id,
			Change:      -discarded,
			Type:        repository.TransactionRemoved,
			Reason:      repository.ReasonBatchDeleted,
			PerformedBy: actor.IDFromContext(ctx),
		}
		if err := s.ledgerRepo.Append(ctx, txn); err != nil {
			return err
		}
		s.publisher.PublishStockAdjusted(ctx, txn)
	}

	if err := s.batchRepo.SoftDelete(ctx, id); err != nil {
		return err
	}

	s.invalidateSnapshot(ctx, batch.MedicineID)
	s.publisher.PublishBatchDeleted(ctx, batch, discarded, actor.IDFromContext(ctx))
	s.checkDepletion(ctx, batch.MedicineID)

	return nil
}

// CorrectBatchQuantity reframes the admin "edit quantity" operation as a
// ledger append of the signed delta. A silent quantity overwrite would
// break the audit invariant, so there is no such operation.
func (s *StockService) CorrectBatchQuantity(ctx context.Context, batchID string, newQuantity int, reason string) (*repository.StockTransaction, error) {
	if newQuantity < 0 {
		return nil, errors.BadRequest("corrected quantity must not be negative")
	}
	if reason == "" {
		reason = repository.ReasonCorrection
	}

	lease, err := s.locks.Acquire(ctx, s.cfg.LockTimeout, batchID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	delta := newQuantity - batch.Quantity
	if delta == 0 {
		return nil, errors.BadRequest("corrected quantity equals current quantity")
	}

	txn := &repository.StockTransaction{
		BatchID:     batchID,
		Change:      delta,
		Type:        repository.TransactionAdded,
		Reason:      reason,
		PerformedBy: actor.IDFromContext(ctx),
	}
	if delta < 0 {
		txn.Type = repository.TransactionRemoved
	}

	if err := s.ledgerRepo.Append(ctx, txn); err != nil {
		return nil, err
	}

	s.invalidateSnapshot(ctx, batch.MedicineID)
	s.publisher.PublishStockAdjusted(ctx, txn)

	if delta > 0 {
		if err := s.notificationRepo.Resolve(ctx, repository.NotificationStockDepleted, batch.MedicineID, nil); err != nil {
			s.logger.Warn().Err(err).Str("medicine_id", batch.MedicineID).Msg("failed to resolve depletion notification")
		}
	} else {
		s.checkDepletion(ctx, batch.MedicineID)
	}

	return txn, nil
}

// ReconcileBatch clears a quarantine after an operator has manually
// verified the batch quantity against its ledger
func (s *StockService) ReconcileBatch(ctx context.Context, batchID string) error {
	batch, err := s.batchRepo.GetByID(ctx, batchID)
	if err != nil {
		return err
	}

	if !s.locks.Reconcile(batchID) {
		return errors.BadRequest("batch is not quarantined")
	}

	sum, err := s.ledgerRepo.SumByBatch(ctx, batchID)
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("batch_id", batchID).
		Int("quantity", batch.Quantity).
		Int("ledger_sum", sum).
		Str("reconciled_by", actor.IDFromContext(ctx)).
		Msg("batch reconciled")

	return nil
}

// Ledger listings

// ListLedgerByMedicine lists ledger entries for a medicine, newest first
func (s *StockService) ListLedgerByMedicine(ctx context.Context, medicineID string, page, perPage int) ([]*repository.StockTransaction, int64, error) {
	if _, err := s.medicineRepo.GetByID(ctx, medicineID); err != nil {
		return nil, 0, err
	}
	return s.ledgerRepo.ListByMedicine(ctx, medicineID, page, perPage)
}

// ListLedgerByBatch lists ledger entries for a batch, newest first
func (s *StockService) ListLedgerByBatch(ctx context.Context, batchID string) ([]*repository.StockTransaction, error) {
	if _, err := s.batchRepo.GetByID(ctx, batchID); err != nil {
		return nil, err
	}
	return s.ledgerRepo.ListByBatch(ctx, batchID)
}

// Notifications

// ListNotifications lists stock notifications
func (s *StockService) ListNotifications(ctx context.Context, includeResolved bool) ([]*repository.StockNotification, error) {
	return s.notificationRepo.List(ctx, includeResolved)
}

// AcknowledgeNotification marks a notification as seen. Acknowledgement
// records who looked at the alert, so the system actor cannot do it.
func (s *StockService) AcknowledgeNotification(ctx context.Context, id string) error {
	if actor.FromContext(ctx).IsSystem() {
		return errors.BadRequest("notifications must be acknowledged by a user")
	}
	return s.notificationRepo.Acknowledge(ctx, id, actor.IDFromContext(ctx))
}

// checkDepletion publishes a depletion event when a medicine's availability
// has reached zero, with the notification journal as dedup
func (s *StockService) checkDepletion(ctx context.Context, medicineID string) {
	available, err := s.batchRepo.TotalAvailable(ctx, medicineID, time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Str("medicine_id", medicineID).Msg("failed to compute availability for depletion check")
		return
	}
	if available > 0 {
		return
	}

	exists, err := s.notificationRepo.ExistsUnresolved(ctx, repository.NotificationStockDepleted, medicineID, nil)
	if err != nil || exists {
		return
	}

	medicine, err := s.medicineRepo.GetByID(ctx, medicineID)
	if err != nil {
		return
	}

	n := &repository.StockNotification{
		NotificationType: repository.NotificationStockDepleted,
		MedicineID:       medicineID,
		MedicineName:     &medicine.Name,
		Message:          fmt.Sprintf("%s is out of stock", medicine.Name),
	}
	if err := s.notificationRepo.Create(ctx, n); err != nil {
		s.logger.Error().Err(err).Str("medicine_id", medicineID).Msg("failed to create depletion notification")
		return
	}

	s.publisher.PublishMedicineDepleted(ctx, medicineID, medicine.Name)
}

// invalidateSnapshot drops the display-only availability snapshot for a
// medicine. The snapshot never feeds a deduction decision, so failures are
// harmless and only logged inside the cache.
func (s *StockService) invalidateSnapshot(ctx context.Context, medicineID string) {
	s.cache.Invalidate(ctx, snapshotKey(medicineID))
}

func snapshotKey(medicineID string) string {
	return "stock:snapshot:" + medicineID
}
