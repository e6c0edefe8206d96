package service_test

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinicore-backend/internal/stock/repository"
	"github.com/clinicore/clinicore-backend/internal/stock/service"
	"github.com/clinicore/clinicore-backend/pkg/actor"
	"github.com/clinicore/clinicore-backend/pkg/batchlock"
	"github.com/clinicore/clinicore-backend/pkg/config"
	"github.com/clinicore/clinicore-backend/pkg/errors"
	"github.com/clinicore/clinicore-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Fatalf("failed to create integration suite: %v", err)
	}
	defer suite.Cleanup(ctx)
	defer testutil.TerminateContainer(ctx)

	os.Exit(m.Run())
}

// newStockService wires a service against the test database. Events and
// the snapshot cache are disabled; both are nil-safe.
func newStockService() (*service.StockService, *batchlock.Manager) {
	locks := batchlock.NewManager()
	cfg := config.StockConfig{
		ExpiringSoonDays: 30,
		LockTimeout:      2 * time.Second,
		ScanInterval:     time.Hour,
	}
	svc := service.NewStockService(
		repository.NewCategoryRepository(suite.DB),
		repository.NewMedicineRepository(suite.DB),
		repository.NewBatchRepository(suite.DB),
		repository.NewLedgerRepository(suite.DB),
		repository.NewNotificationRepository(suite.DB),
		nil, locks, nil, cfg, suite.Logger,
	)
	return svc, locks
}

func actorCtx() context.Context {
	return actor.WithActor(context.Background(), &actor.Actor{
		ID:   "9a000000-0000-0000-0000-000000000001",
		Name: "Test Clinician",
	})
}

func TestRecordPrescription_DeductsFromSingleBatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := actorCtx()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Amoxicillin 500mg", "tablets")
	batchID := suite.Fixtures.CreateBatch(t, ctx, medicineID, "AMX-1", 100, now.AddDate(0, 6, 0))

	svc, _ := newStockService()
	result, err := svc.RecordPrescription(ctx, &service.PrescriptionRequest{
		Lines: []service.PrescriptionLine{{MedicineID: medicineID, Quantity: 30}},
	})

	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, -30, result.Transactions[0].Change)
	assert.Equal(t, repository.ReasonPrescription, result.Transactions[0].Reason)
	assert.Equal(t, 70, suite.Fixtures.BatchQuantity(t, ctx, batchID))

	available, err := svc.AvailableQuantity(ctx, medicineID)
	require.NoError(t, err)
	assert.Equal(t, 70, available)
}

func TestRecordPrescription_SpansBatchesEarliestExpiryFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := actorCtx()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Ibuprofen 400mg", "tablets")
	early := suite.Fixtures.CreateBatch(t, ctx, medicineID, "EARLY", 10, now.AddDate(0, 0, 5))
	late := suite.Fixtures.CreateBatch(t, ctx, medicineID, "LATE", 20, now.AddDate(0, 3, 0))

	svc, _ := newStockService()
	result, err := svc.RecordPrescription(ctx, &service.PrescriptionRequest{
		Lines: []service.PrescriptionLine{{MedicineID: medicineID, Quantity: 25}},
	})

	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, early, result.Allocations[0].BatchID)
	assert.Equal(t, 10, result.Allocations[0].Quantity)
	assert.Equal(t, late, result.Allocations[1].BatchID)
	assert.Equal(t, 15, result.Allocations[1].Quantity)

	assert.Equal(t, 0, suite.Fixtures.BatchQuantity(t, ctx, early))
	assert.Equal(t, 5, suite.Fixtures.BatchQuantity(t, ctx, late))
}

func TestRecordPrescription_ExpiredStockIsUnavailable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := actorCtx()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Insulin glargine", "vials")
	expired := suite.Fixtures.CreateBatch(t, ctx, medicineID, "OLD", 50, now.AddDate(0, 0, -1))
	suite.Fixtures.CreateBatch(t, ctx, medicineID, "FRESH", 5, now.AddDate(0, 2, 0))

	svc, _ := newStockService()
	_, err := svc.RecordPrescription(ctx, &service.PrescriptionRequest{
		Lines: []service.PrescriptionLine{{MedicineID: medicineID, Quantity: 10}},
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Details, medicineID)
	assert.Contains(t, appErr.Details[medicineID], "available 5")

	// The expired batch was never touched
	assert.Equal(t, 50, suite.Fixtures.BatchQuantity(t, ctx, expired))
}

func TestRecordPrescription_ReportsEveryShortfallAtOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := actorCtx()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	shortA := suite.Fixtures.CreateMedicine(t, ctx, "Medicine A", "tablets")
	suite.Fixtures.CreateBatch(t, ctx, shortA, "A-1", 2, now.AddDate(0, 1, 0))
	shortB := suite.Fixtures.CreateMedicine(t, ctx, "Medicine B", "tablets")
	suite.Fixtures.CreateBatch(t, ctx, shortB, "B-1", 3, now.AddDate(0, 1, 0))
	covered := suite.Fixtures.CreateMedicine(t, ctx, "Medicine C", "tablets")
	coveredBatch := suite.Fixtures.CreateBatch(t, ctx, covered, "C-1", 50, now.AddDate(0, 1, 0))

	svc, _ := newStockService()
	_, err := svc.RecordPrescription(ctx, &service.PrescriptionRequest{
		Lines: []service.PrescriptionLine{
			{MedicineID: shortA, Quantity: 10},
			{MedicineID: covered, Quantity: 10},
			{MedicineID: shortB, Quantity: 10},
		},
	})

	require.Error(t, err)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Len(t, appErr.Details, 2)
	assert.Contains(t, appErr.Details, shortA)
	assert.Contains(t, appErr.Details, shortB)

	// Nothing was deducted, including the covered line
	assert.Equal(t, 50, suite.Fixtures.BatchQuantity(t, ctx, coveredBatch))
}

func TestRecordPrescription_MergesDuplicateLines(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := actorCtx()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Cetirizine 10mg", "tablets")
	batchID := suite.Fixtures.CreateBatch(t, ctx, medicineID, "CET-1", 10, now.AddDate(0, 2, 0))

	svc, _ := newStockService()
	result, err := svc.RecordPrescription(ctx, &service.PrescriptionRequest{
		Lines: []service.PrescriptionLine{
			{MedicineID: medicineID, Quantity: 3},
			{MedicineID: medicineID, Quantity: 4},
		},
	})

	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, -7, result.Transactions[0].Change)
	assert.Equal(t, 3, suite.Fixtures.BatchQuantity(t, ctx, batchID))
}

func TestRecordPrescription_ConcurrentRequestsNeverDoubleSpend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := actorCtx()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Morphine 10mg", "ampoules")
	batchID := suite.Fixtures.CreateBatch(t, ctx, medicineID, "MOR-1", 10, now.AddDate(0, 1, 0))

	svc, _ := newStockService()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.RecordPrescription(ctx, &service.PrescriptionRequest{
				Lines: []service.PrescriptionLine{{MedicineID: medicineID, Quantity: 6}},
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	var successes, shortfalls int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, errors.ErrInsufficientStock):
			shortfalls++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, shortfalls)
	assert.Equal(t, 4, suite.Fixtures.BatchQuantity(t, ctx, batchID))
}

func TestRecordPrescription_QuarantinedBatchRejectsWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := actorCtx()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Warfarin 5mg", "tablets")
	batchID := suite.Fixtures.CreateBatch(t, ctx, medicineID, "WAR-1", 20, now.AddDate(0, 3, 0))

	svc, locks := newStockService()
	locks.Quarantine(batchID)

	_, err := svc.RecordPrescription(ctx, &service.PrescriptionRequest{
		Lines: []service.PrescriptionLine{{MedicineID: medicineID, Quantity: 5}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInconsistentState))

	// Reads still work while quarantined
	available, err := svc.AvailableQuantity(ctx, medicineID)
	require.NoError(t, err)
	assert.Equal(t, 20, available)

	// Reconciliation restores writes
	require.NoError(t, svc.ReconcileBatch(ctx, batchID))
	_, err = svc.RecordPrescription(ctx, &service.PrescriptionRequest{
		Lines: []service.PrescriptionLine{{MedicineID: medicineID, Quantity: 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, 15, suite.Fixtures.BatchQuantity(t, ctx, batchID))
}

func TestCorrectBatchQuantity_WritesSignedDelta(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := actorCtx()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Prednisolone 5mg", "tablets")
	batchID := suite.Fixtures.CreateBatch(t, ctx, medicineID, "PRE-1", 100, now.AddDate(0, 8, 0))

	svc, _ := newStockService()

	up, err := svc.CorrectBatchQuantity(ctx, batchID, 110, "recount after delivery")
	require.NoError(t, err)
	assert.Equal(t, 10, up.Change)
	assert.Equal(t, repository.TransactionAdded, up.Type)
	assert.Equal(t, "recount after delivery", up.Reason)

	down, err := svc.CorrectBatchQuantity(ctx, batchID, 90, "")
	require.NoError(t, err)
	assert.Equal(t, -20, down.Change)
	assert.Equal(t, repository.TransactionRemoved, down.Type)
	assert.Equal(t, repository.ReasonCorrection, down.Reason)

	assert.Equal(t, 90, suite.Fixtures.BatchQuantity(t, ctx, batchID))

	_, err = svc.CorrectBatchQuantity(ctx, batchID, 90, "")
	assert.True(t, errors.Is(err, errors.ErrBadRequest))
}

func TestDeleteBatch_DiscardsRemainingQuantityThroughLedger(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := actorCtx()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Diazepam 5mg", "tablets")
	batchID := suite.Fixtures.CreateBatch(t, ctx, medicineID, "DIA-1", 40, now.AddDate(0, 0, 3))

	svc, _ := newStockService()
	require.NoError(t, svc.DeleteBatch(ctx, batchID))

	_, err := svc.GetBatch(ctx, batchID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Equal(t, 0, suite.Fixtures.BatchQuantity(t, ctx, batchID))

	ledgerRepo := repository.NewLedgerRepository(suite.DB)
	entries, err := ledgerRepo.ListByBatch(ctx, batchID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, -40, entries[0].Change)
	assert.Equal(t, repository.ReasonBatchDeleted, entries[0].Reason)
}

func TestAvailabilityFor_ClassifiesExpiryBuckets(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := actorCtx()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Salbutamol inhaler", "units")
	suite.Fixtures.CreateBatch(t, ctx, medicineID, "FAR", 12, now.AddDate(1, 0, 0))
	suite.Fixtures.CreateBatch(t, ctx, medicineID, "SOON", 4, now.AddDate(0, 0, 10))
	suite.Fixtures.CreateBatch(t, ctx, medicineID, "GONE", 2, now.AddDate(0, 0, -5))

	svc, _ := newStockService()
	report, err := svc.AvailabilityFor(ctx, medicineID)

	require.NoError(t, err)
	assert.Equal(t, 16, report.Available)
	assert.Equal(t, 1, report.ExpiringSoonCount)
	assert.Equal(t, 1, report.ExpiredCount)
	assert.Equal(t, "Salbutamol inhaler", report.MedicineName)
}

func TestCreateBatch_ValidatesQuantityAndExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := actorCtx()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Azithromycin 250mg", "tablets")

	svc, _ := newStockService()

	err := svc.CreateBatch(ctx, &repository.Batch{
		MedicineID: medicineID, BatchName: "AZ-1", Quantity: 0, ExpiryDate: now.AddDate(0, 1, 0),
	})
	assert.True(t, errors.Is(err, errors.ErrBadRequest))

	err = svc.CreateBatch(ctx, &repository.Batch{
		MedicineID: medicineID, BatchName: "AZ-2", Quantity: 10, ExpiryDate: now.AddDate(0, 0, -1),
	})
	assert.True(t, errors.Is(err, errors.ErrBadRequest))

	err = svc.CreateBatch(ctx, &repository.Batch{
		MedicineID: medicineID, BatchName: "AZ-3", Quantity: 10, ExpiryDate: now.AddDate(0, 1, 0),
	})
	assert.NoError(t, err)
}
