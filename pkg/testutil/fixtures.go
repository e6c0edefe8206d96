package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// FixtureFactory seeds stock test data directly through SQL, bypassing
// service-level validation so tests can construct states the API refuses
// to create, such as already-expired batches.
type FixtureFactory struct {
	db *sqlx.DB
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory(db *sqlx.DB) *FixtureFactory {
	return &FixtureFactory{db: db}
}

// CreateCategory inserts a category and returns its ID
func (f *FixtureFactory) CreateCategory(t *testing.T, ctx context.Context, name string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := f.db.ExecContext(ctx,
		`INSERT INTO categories (id, name) VALUES ($1, $2)`, id, name)
	if err != nil {
		t.Fatalf("failed to create category fixture: %v", err)
	}
	return id
}

// CreateMedicine inserts a medicine and returns its ID
func (f *FixtureFactory) CreateMedicine(t *testing.T, ctx context.Context, name, unit string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := f.db.ExecContext(ctx,
		`INSERT INTO medicines (id, name, unit) VALUES ($1, $2, $3)`, id, name, unit)
	if err != nil {
		t.Fatalf("failed to create medicine fixture: %v", err)
	}
	return id
}

// CreateBatch inserts a batch with an arbitrary expiry date and returns
// its ID. Expiry in the past is allowed here.
func (f *FixtureFactory) CreateBatch(t *testing.T, ctx context.Context, medicineID, name string, quantity int, expiry time.Time) string {
	t.Helper()
	id := uuid.New().String()
	_, err := f.db.ExecContext(ctx,
		`INSERT INTO batches (id, medicine_id, batch_name, quantity, expiry_date) VALUES ($1, $2, $3, $4, $5)`,
		id, medicineID, name, quantity, expiry)
	if err != nil {
		t.Fatalf("failed to create batch fixture: %v", err)
	}
	return id
}

// BatchQuantity reads a batch's stored quantity, including soft-deleted rows
func (f *FixtureFactory) BatchQuantity(t *testing.T, ctx context.Context, batchID string) int {
	t.Helper()
	var quantity int
	err := f.db.GetContext(ctx, &quantity,
		`SELECT quantity FROM batches WHERE id = $1`, batchID)
	if err != nil {
		t.Fatalf("failed to read batch quantity: %v", err)
	}
	return quantity
}
