package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore-backend/pkg/database"
	"github.com/clinicore/clinicore-backend/pkg/errors"
)

// Batch represents a dated lot of a medicine with its own quantity and
// expiry. Quantity is mutated only through the stock ledger; batches are
// soft-deleted so ledger rows always resolve to a batch.
type Batch struct {
	ID         string     `db:"id" json:"id"`
	MedicineID string     `db:"medicine_id" json:"medicine_id"`
	BatchName  string     `db:"batch_name" json:"batch_name"`
	Quantity   int        `db:"quantity" json:"quantity"`
	ExpiryDate time.Time  `db:"expiry_date" json:"expiry_date"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt  *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IsExpired reports whether the batch is expired as of the given time
func (b *Batch) IsExpired(asOf time.Time) bool {
	return b.ExpiryDate.Before(asOf)
}

// AvailabilityBreakdown classifies a medicine's batches for reporting
type AvailabilityBreakdown struct {
	Total             int `db:"total" json:"total"`
	ExpiringSoonCount int `db:"expiring_soon_count" json:"expiring_soon_count"`
	ExpiredCount      int `db:"expired_count" json:"expired_count"`
}

// BatchRepository handles batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create creates a new batch
func (r *BatchRepository) Create(ctx context.Context, batch *Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}

	query := `
		INSERT INTO batches (id, medicine_id, batch_name, quantity, expiry_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		batch.ID, batch.MedicineID, batch.BatchName, batch.Quantity, batch.ExpiryDate,
	).Scan(&batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a non-deleted batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*Batch, error) {
	var batch Batch
	query := `SELECT * FROM batches WHERE id = $1 AND deleted_at IS NULL`
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("batch")
		}
		return nil, err
	}
	return &batch, nil
}

// ListByMedicine lists non-deleted batches for a medicine, expired batches
// included (they remain viewable until explicitly removed)
func (r *BatchRepository) ListByMedicine(ctx context.Context, medicineID string) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE medicine_id = $1 AND deleted_at IS NULL
		ORDER BY expiry_date, created_at
	`
	if err := r.db.SelectContext(ctx, &batches, query, medicineID); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListEligible lists batches that can satisfy an allocation as of the
// given time: non-deleted, non-expired, with stock remaining. Order is the
// allocation order: soonest expiry first, creation time as tie-break.
func (r *BatchRepository) ListEligible(ctx context.Context, medicineID string, asOf time.Time) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE medicine_id = $1 AND deleted_at IS NULL
		AND expiry_date >= $2 AND quantity > 0
		ORDER BY expiry_date, created_at
	`
	if err := r.db.SelectContext(ctx, &batches, query, medicineID, asOf); err != nil {
		return nil, err
	}
	return batches, nil
}

// SoftDelete marks a batch as deleted. The row stays so the ledger keeps a
// valid batch reference; the closing ledger entry for any discarded
// quantity is the caller's responsibility.
func (r *BatchRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE batches SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("batch")
	}
	return nil
}

// TotalAvailable sums the sellable quantity for a medicine as of the given
// time: non-deleted, non-expired batches only. Always computed fresh;
// never served from a cache.
func (r *BatchRepository) TotalAvailable(ctx context.Context, medicineID string, asOf time.Time) (int, error) {
	var total sql.NullInt64
	query := `
		SELECT SUM(quantity) FROM batches
		WHERE medicine_id = $1 AND deleted_at IS NULL AND expiry_date >= $2
	`
	if err := r.db.GetContext(ctx, &total, query, medicineID, asOf); err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return int(total.Int64), nil
}

// Breakdown computes the availability report for a medicine. Expiring soon
// means within soonWindow of asOf; expired stock is excluded from the total.
func (r *BatchRepository) Breakdown(ctx context.Context, medicineID string, asOf time.Time, soonWindow time.Duration) (*AvailabilityBreakdown, error) {
	var breakdown AvailabilityBreakdown
	query := `
		SELECT
			COALESCE(SUM(quantity) FILTER (WHERE expiry_date >= $2), 0) AS total,
			COUNT(*) FILTER (WHERE expiry_date >= $2 AND expiry_date < $3) AS expiring_soon_count,
			COUNT(*) FILTER (WHERE expiry_date < $2) AS expired_count
		FROM batches
		WHERE medicine_id = $1 AND deleted_at IS NULL
	`
	soonCutoff := asOf.Add(soonWindow)
	if err := r.db.GetContext(ctx, &breakdown, query, medicineID, asOf, soonCutoff); err != nil {
		return nil, err
	}
	return &breakdown, nil
}

// GetExpiringBatches gets non-deleted batches with stock that expire within
// the window. Used by the expiry scanner.
func (r *BatchRepository) GetExpiringBatches(ctx context.Context, asOf time.Time, window time.Duration) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE deleted_at IS NULL AND quantity > 0
		AND expiry_date >= $1 AND expiry_date < $2
		ORDER BY expiry_date
	`
	if err := r.db.SelectContext(ctx, &batches, query, asOf, asOf.Add(window)); err != nil {
		return nil, err
	}
	return batches, nil
}

// GetExpiredBatches gets non-deleted expired batches with stock remaining
func (r *BatchRepository) GetExpiredBatches(ctx context.Context, asOf time.Time) ([]*Batch, error) {
	var batches []*Batch
	query := `
		SELECT * FROM batches
		WHERE deleted_at IS NULL AND quantity > 0 AND expiry_date < $1
		ORDER BY expiry_date
	`
	if err := r.db.SelectContext(ctx, &batches, query, asOf); err != nil {
		return nil, err
	}
	return batches, nil
}
