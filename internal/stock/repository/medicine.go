package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore-backend/pkg/database"
	"github.com/clinicore/clinicore-backend/pkg/errors"
)

// Medicine represents a catalog entry: reference data for a stocked medicine
type Medicine struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	CategoryID *string   `db:"category_id" json:"category_id,omitempty"`
	Unit       string    `db:"unit" json:"unit"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// MedicineRepository handles medicine persistence
type MedicineRepository struct {
	db *database.DB
}

// NewMedicineRepository creates a new medicine repository
func NewMedicineRepository(db *database.DB) *MedicineRepository {
	return &MedicineRepository{db: db}
}

// Create creates a new medicine
func (r *MedicineRepository) Create(ctx context.Context, medicine *Medicine) error {
	if medicine.ID == "" {
		medicine.ID = uuid.New().String()
	}

	query := `
		INSERT INTO medicines (id, name, category_id, unit)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		medicine.ID, medicine.Name, medicine.CategoryID, medicine.Unit,
	).Scan(&medicine.CreatedAt, &medicine.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID gets a medicine by ID
func (r *MedicineRepository) GetByID(ctx context.Context, id string) (*Medicine, error) {
	var medicine Medicine
	query := `SELECT * FROM medicines WHERE id = $1`
	if err := r.db.GetContext(ctx, &medicine, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("medicine")
		}
		return nil, err
	}
	return &medicine, nil
}

// List lists medicines, optionally filtered by category
func (r *MedicineRepository) List(ctx context.Context, page, perPage int, categoryID string) ([]*Medicine, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	offset := (page - 1) * perPage

	var medicines []*Medicine
	var total int64

	if categoryID != "" {
		countQuery := `SELECT COUNT(*) FROM medicines WHERE category_id = $1`
		if err := r.db.GetContext(ctx, &total, countQuery, categoryID); err != nil {
			return nil, 0, err
		}

		query := `SELECT * FROM medicines WHERE category_id = $1 ORDER BY name LIMIT $2 OFFSET $3`
		if err := r.db.SelectContext(ctx, &medicines, query, categoryID, perPage, offset); err != nil {
			return nil, 0, err
		}
		return medicines, total, nil
	}

	countQuery := `SELECT COUNT(*) FROM medicines`
	if err := r.db.GetContext(ctx, &total, countQuery); err != nil {
		return nil, 0, err
	}

	query := `SELECT * FROM medicines ORDER BY name LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &medicines, query, perPage, offset); err != nil {
		return nil, 0, err
	}
	return medicines, total, nil
}

// Update updates a medicine's name, category and unit. Stock-bearing fields
// live on batches; a medicine row itself carries no quantity.
func (r *MedicineRepository) Update(ctx context.Context, medicine *Medicine) error {
	query := `
		UPDATE medicines SET name = $2, category_id = $3, unit = $4, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		medicine.ID, medicine.Name, medicine.CategoryID, medicine.Unit,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("medicine")
	}
	return nil
}

// Delete deletes a medicine. A medicine with batches or ledger history is
// never cascade-deleted: the delete is rejected with a Conflict so the
// audit trail stays intact.
func (r *MedicineRepository) Delete(ctx context.Context, id string) error {
	var referenced bool
	query := `
		SELECT EXISTS (SELECT 1 FROM batches WHERE medicine_id = $1)
			OR EXISTS (SELECT 1 FROM stock_transactions WHERE medicine_id = $1)
	`
	if err := r.db.GetContext(ctx, &referenced, query, id); err != nil {
		return err
	}
	if referenced {
		return errors.Conflict("medicine has batches or ledger history")
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM medicines WHERE id = $1`, id)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			// A batch or ledger row created between the check and the
			// delete trips the foreign key; same answer either way.
			return errors.Conflict("medicine has batches or ledger history")
		}
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("medicine")
	}
	return nil
}

// GetAll returns every medicine. Used by the expiry scanner.
func (r *MedicineRepository) GetAll(ctx context.Context) ([]*Medicine, error) {
	var medicines []*Medicine
	query := `SELECT * FROM medicines ORDER BY name`
	if err := r.db.SelectContext(ctx, &medicines, query); err != nil {
		return nil, err
	}
	return medicines, nil
}
