package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types consumed by the external notification module
const (
	// Stock events
	EventStockAdjusted        = "stock.adjusted"
	EventPrescriptionRecorded = "stock.prescription.recorded"
	EventMedicineDepleted     = "stock.medicine.depleted"

	// Batch lifecycle events
	EventBatchExpiring = "stock.batch.expiring"
	EventBatchExpired  = "stock.batch.expired"
	EventBatchDeleted  = "stock.batch.deleted"
)

// Exchange names
const (
	ExchangeStockEvents = "stock.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// StockAdjustedEvent is published for every ledger append, including
// compensations and closing entries
type StockAdjustedEvent struct {
	TransactionID string `json:"transaction_id"`
	MedicineID    string `json:"medicine_id"`
	BatchID       string `json:"batch_id"`
	Change        int    `json:"change"`
	Type          string `json:"type"`
	Reason        string `json:"reason"`
	PerformedBy   string `json:"performed_by"`
}

// PrescriptionRecordedEvent is published when a prescription commits
type PrescriptionRecordedEvent struct {
	TreatmentRef   string   `json:"treatment_ref"`
	TransactionIDs []string `json:"transaction_ids"`
	MedicineIDs    []string `json:"medicine_ids"`
	PerformedBy    string   `json:"performed_by"`
}

// MedicineDepletedEvent is published when a medicine's available quantity
// reaches zero
type MedicineDepletedEvent struct {
	MedicineID   string `json:"medicine_id"`
	MedicineName string `json:"medicine_name"`
}

// BatchExpiringEvent is published when a batch enters the expiring-soon window
type BatchExpiringEvent struct {
	BatchID         string    `json:"batch_id"`
	BatchName       string    `json:"batch_name"`
	MedicineID      string    `json:"medicine_id"`
	ExpiryDate      time.Time `json:"expiry_date"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	Quantity        int       `json:"quantity"`
}

// BatchExpiredEvent is published when a batch crosses its expiry date with
// stock remaining
type BatchExpiredEvent struct {
	BatchID    string    `json:"batch_id"`
	BatchName  string    `json:"batch_name"`
	MedicineID string    `json:"medicine_id"`
	ExpiryDate time.Time `json:"expiry_date"`
	Quantity   int       `json:"quantity"`
}

// BatchDeletedEvent is published when a batch is administratively deleted
type BatchDeletedEvent struct {
	BatchID           string `json:"batch_id"`
	BatchName         string `json:"batch_name"`
	MedicineID        string `json:"medicine_id"`
	DiscardedQuantity int    `json:"discarded_quantity"`
	PerformedBy       string `json:"performed_by"`
}
