package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clinicore/clinicore-backend/pkg/database"
	"github.com/clinicore/clinicore-backend/pkg/errors"
)

// Transaction types
const (
	TransactionAdded   = "added"
	TransactionRemoved = "removed"
)

// Well-known ledger reasons
const (
	ReasonPrescription = "prescription"
	ReasonCompensation = "prescription rollback"
	ReasonCorrection   = "manual correction"
	ReasonBatchDeleted = "batch deleted"
)

// StockTransaction is one row of the append-only stock ledger. Rows are
// never updated or deleted: the ledger is the audit source of truth, and
// the sum of changes per batch always reconciles with the batch quantity.
type StockTransaction struct {
	ID             string    `db:"id" json:"id"`
	MedicineID     string    `db:"medicine_id" json:"medicine_id"`
	BatchID        string    `db:"batch_id" json:"batch_id"`
	Change         int       `db:"change" json:"change"`
	Type           string    `db:"type" json:"type"`
	Reason         string    `db:"reason" json:"reason"`
	PatientID      *string   `db:"patient_id" json:"patient_id,omitempty"`
	FamilyMemberID *string   `db:"family_member_id" json:"family_member_id,omitempty"`
	TreatmentRef   *string   `db:"treatment_ref" json:"treatment_ref,omitempty"`
	PerformedBy    string    `db:"performed_by" json:"performed_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// LedgerRepository handles the stock ledger. Append is the only way a
// batch quantity changes.
type LedgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append applies a signed quantity change to a batch and writes the ledger
// row, as one database transaction. The batch row is locked (FOR UPDATE)
// before the check, so a concurrent append on the same batch can never
// pass the check and drive the quantity negative.
//
// The batch and the ledger row change together or not at all; on any error
// the batch is untouched.
func (r *LedgerRepository) Append(ctx context.Context, txn *StockTransaction) error {
	if err := validateChange(txn); err != nil {
		return err
	}
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}

	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var current struct {
			MedicineID string `db:"medicine_id"`
			Quantity   int    `db:"quantity"`
		}
		lockQuery := `
			SELECT medicine_id, quantity FROM batches
			WHERE id = $1 AND deleted_at IS NULL
			FOR UPDATE
		`
		if err := tx.GetContext(ctx, &current, lockQuery, txn.BatchID); err != nil {
			if err == sql.ErrNoRows {
				return errors.NotFound("batch")
			}
			return err
		}

		newQuantity := current.Quantity + txn.Change
		if newQuantity < 0 {
			return errors.InsufficientStock(map[string]string{
				txn.BatchID: "change would drive batch quantity below zero",
			})
		}

		txn.MedicineID = current.MedicineID

		updateQuery := `UPDATE batches SET quantity = $2, updated_at = NOW() WHERE id = $1`
		if _, err := tx.ExecContext(ctx, updateQuery, txn.BatchID, newQuantity); err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}

		insertQuery := `
			INSERT INTO stock_transactions (
				id, medicine_id, batch_id, change, type, reason,
				patient_id, family_member_id, treatment_ref, performed_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at
		`
		err := tx.QueryRowxContext(ctx, insertQuery,
			txn.ID, txn.MedicineID, txn.BatchID, txn.Change, txn.Type, txn.Reason,
			txn.PatientID, txn.FamilyMemberID, txn.TreatmentRef, txn.PerformedBy,
		).Scan(&txn.CreatedAt)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
		return nil
	})
}

// validateChange enforces the sign convention: added entries are positive,
// removed entries negative, zero is meaningless.
func validateChange(txn *StockTransaction) error {
	switch txn.Type {
	case TransactionAdded:
		if txn.Change <= 0 {
			return errors.BadRequest("added transactions require a positive change")
		}
	case TransactionRemoved:
		if txn.Change >= 0 {
			return errors.BadRequest("removed transactions require a negative change")
		}
	default:
		return errors.BadRequest("transaction type must be added or removed")
	}
	if txn.BatchID == "" {
		return errors.BadRequest("batch_id is required")
	}
	return nil
}

// ListByMedicine lists ledger entries for a medicine, newest first
func (r *LedgerRepository) ListByMedicine(ctx context.Context, medicineID string, page, perPage int) ([]*StockTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}
	offset := (page - 1) * perPage

	var total int64
	countQuery := `SELECT COUNT(*) FROM stock_transactions WHERE medicine_id = $1`
	if err := r.db.GetContext(ctx, &total, countQuery, medicineID); err != nil {
		return nil, 0, err
	}

	var txns []*StockTransaction
	query := `
		SELECT * FROM stock_transactions
		WHERE medicine_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &txns, query, medicineID, perPage, offset); err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// ListByBatch lists ledger entries for a batch, newest first
func (r *LedgerRepository) ListByBatch(ctx context.Context, batchID string) ([]*StockTransaction, error) {
	var txns []*StockTransaction
	query := `
		SELECT * FROM stock_transactions
		WHERE batch_id = $1
		ORDER BY created_at DESC
	`
	if err := r.db.SelectContext(ctx, &txns, query, batchID); err != nil {
		return nil, err
	}
	return txns, nil
}

// SumByBatch returns the sum of all ledger changes for a batch. Used to
// verify the reconciliation invariant between the ledger and the batch.
func (r *LedgerRepository) SumByBatch(ctx context.Context, batchID string) (int, error) {
	var sum sql.NullInt64
	query := `SELECT SUM(change) FROM stock_transactions WHERE batch_id = $1`
	if err := r.db.GetContext(ctx, &sum, query, batchID); err != nil {
		return 0, err
	}
	if !sum.Valid {
		return 0, nil
	}
	return int(sum.Int64), nil
}
