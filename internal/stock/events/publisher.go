package events

import (
	"context"
	"time"

	"github.com/clinicore/clinicore-backend/internal/stock/repository"
	"github.com/clinicore/clinicore-backend/pkg/logger"
	"github.com/clinicore/clinicore-backend/pkg/messaging"
)

// StockEventPublisher publishes stock events for the external notification
// module. Publishing is best-effort: a broker failure is logged, never
// surfaced to the caller, and never rolls back a committed ledger write.
type StockEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a new stock event publisher
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, "stock-service", log)
	if err != nil {
		return nil, err
	}

	return &StockEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishStockAdjusted publishes a stock adjusted event
func (p *StockEventPublisher) PublishStockAdjusted(ctx context.Context, txn *repository.StockTransaction) {
	if p == nil {
		return
	}

	data := messaging.StockAdjustedEvent{
		TransactionID: txn.ID,
		MedicineID:    txn.MedicineID,
		BatchID:       txn.BatchID,
		Change:        txn.Change,
		Type:          txn.Type,
		Reason:        txn.Reason,
		PerformedBy:   txn.PerformedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockAdjusted, data); err != nil {
		p.logger.Error().Err(err).Str("transaction_id", txn.ID).Msg("failed to publish stock adjusted event")
	}
}

// PublishPrescriptionRecorded publishes a prescription recorded event
func (p *StockEventPublisher) PublishPrescriptionRecorded(ctx context.Context, treatmentRef, performedBy string, txns []*repository.StockTransaction) {
	if p == nil {
		return
	}

	txnIDs := make([]string, 0, len(txns))
	medicineSet := make(map[string]struct{})
	medicineIDs := make([]string, 0)
	for _, txn := range txns {
		txnIDs = append(txnIDs, txn.ID)
		if _, seen := medicineSet[txn.MedicineID]; !seen {
			medicineSet[txn.MedicineID] = struct{}{}
			medicineIDs = append(medicineIDs, txn.MedicineID)
		}
	}

	data := messaging.PrescriptionRecordedEvent{
		TreatmentRef:   treatmentRef,
		TransactionIDs: txnIDs,
		MedicineIDs:    medicineIDs,
		PerformedBy:    performedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventPrescriptionRecorded, data); err != nil {
		p.logger.Error().Err(err).Str("treatment_ref", treatmentRef).Msg("failed to publish prescription recorded event")
	}
}

// PublishMedicineDepleted publishes a medicine depleted event
func (p *StockEventPublisher) PublishMedicineDepleted(ctx context.Context, medicineID, medicineName string) {
	if p == nil {
		return
	}

	data := messaging.MedicineDepletedEvent{
		MedicineID:   medicineID,
		MedicineName: medicineName,
	}

	if err := p.publisher.Publish(ctx, messaging.EventMedicineDepleted, data); err != nil {
		p.logger.Error().Err(err).Str("medicine_id", medicineID).Msg("failed to publish medicine depleted event")
	}
}

// PublishBatchExpiring publishes a batch expiring event
func (p *StockEventPublisher) PublishBatchExpiring(ctx context.Context, batch *repository.Batch, asOf time.Time) {
	if p == nil {
		return
	}

	data := messaging.BatchExpiringEvent{
		BatchID:         batch.ID,
		BatchName:       batch.BatchName,
		MedicineID:      batch.MedicineID,
		ExpiryDate:      batch.ExpiryDate,
		DaysUntilExpiry: int(batch.ExpiryDate.Sub(asOf).Hours() / 24),
		Quantity:        batch.Quantity,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchExpiring, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to publish batch expiring event")
	}
}

// PublishBatchExpired publishes a batch expired event
func (p *StockEventPublisher) PublishBatchExpired(ctx context.Context, batch *repository.Batch) {
	if p == nil {
		return
	}

	data := messaging.BatchExpiredEvent{
		BatchID:    batch.ID,
		BatchName:  batch.BatchName,
		MedicineID: batch.MedicineID,
		ExpiryDate: batch.ExpiryDate,
		Quantity:   batch.Quantity,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchExpired, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to publish batch expired event")
	}
}

// PublishBatchDeleted publishes a batch deleted event
func (p *StockEventPublisher) PublishBatchDeleted(ctx context.Context, batch *repository.Batch, discarded int, performedBy string) {
	if p == nil {
		return
	}

	data := messaging.BatchDeletedEvent{
		BatchID:           batch.ID,
		BatchName:         batch.BatchName,
		MedicineID:        batch.MedicineID,
		DiscardedQuantity: discarded,
		PerformedBy:       performedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchDeleted, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to publish batch deleted event")
	}
}
