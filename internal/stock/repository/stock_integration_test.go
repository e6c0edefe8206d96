package repository_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinicore-backend/internal/stock/repository"
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

func TestTotalAvailable_ExcludesExpiredBatches(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Amoxicillin 500mg", "tablets")
	suite.Fixtures.CreateBatch(t, ctx, medicineID, "FRESH-1", 40, now.AddDate(0, 6, 0))
	suite.Fixtures.CreateBatch(t, ctx, medicineID, "FRESH-2", 10, now.AddDate(0, 1, 0))
	suite.Fixtures.CreateBatch(t, ctx, medicineID, "EXPIRED-1", 500, now.AddDate(0, 0, -1))

	batchRepo := repository.NewBatchRepository(suite.DB)
	available, err := batchRepo.TotalAvailable(ctx, medicineID, now)

	require.NoError(t, err)
	assert.Equal(t, 50, available)
}

func TestListEligible_OrdersByExpiryThenCreation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Ibuprofen 400mg", "tablets")
	late := suite.Fixtures.CreateBatch(t, ctx, medicineID, "LATE", 10, now.AddDate(0, 3, 0))
	early := suite.Fixtures.CreateBatch(t, ctx, medicineID, "EARLY", 10, now.AddDate(0, 0, 7))
	suite.Fixtures.CreateBatch(t, ctx, medicineID, "EXPIRED", 10, now.AddDate(0, 0, -7))
	suite.Fixtures.CreateBatch(t, ctx, medicineID, "DRAINED", 0, now.AddDate(0, 0, 3))

	batchRepo := repository.NewBatchRepository(suite.DB)
	batches, err := batchRepo.ListEligible(ctx, medicineID, now)

	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, early, batches[0].ID)
	assert.Equal(t, late, batches[1].ID)
}

func TestListEligible_SameExpiryTieBrokenByCreation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	expiry := now.AddDate(0, 2, 0)
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Paracetamol 500mg", "tablets")
	first := suite.Fixtures.CreateBatch(t, ctx, medicineID, "FIRST", 10, expiry)
	time.Sleep(10 * time.Millisecond)
	second := suite.Fixtures.CreateBatch(t, ctx, medicineID, "SECOND", 10, expiry)

	batchRepo := repository.NewBatchRepository(suite.DB)
	batches, err := batchRepo.ListEligible(ctx, medicineID, now)

	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, first, batches[0].ID)
	assert.Equal(t, second, batches[1].ID)
}

func TestAppend_LedgerReconcilesWithBatchQuantity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Metformin 850mg", "tablets")
	batchID := suite.Fixtures.CreateBatch(t, ctx, medicineID, "MET-1", 100, now.AddDate(1, 0, 0))

	ledgerRepo := repository.NewLedgerRepository(suite.DB)

	err := ledgerRepo.Append(ctx, &repository.StockTransaction{
		BatchID: batchID, Change: -30,
		Type: repository.TransactionRemoved, Reason: repository.ReasonPrescription,
		PerformedBy: testUserID,
	})
	require.NoError(t, err)

	err = ledgerRepo.Append(ctx, &repository.StockTransaction{
		BatchID: batchID, Change: 5,
		Type: repository.TransactionAdded, Reason: repository.ReasonCorrection,
		PerformedBy: testUserID,
	})
	require.NoError(t, err)

	assert.Equal(t, 75, suite.Fixtures.BatchQuantity(t, ctx, batchID))

	// quantity == initial quantity + sum of ledger changes
	sum, err := ledgerRepo.SumByBatch(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, -25, sum)
	assert.Equal(t, 100+sum, suite.Fixtures.BatchQuantity(t, ctx, batchID))
}

func TestAppend_OverdrawLeavesNoTrace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Insulin glargine", "vials")
	batchID := suite.Fixtures.CreateBatch(t, ctx, medicineID, "INS-1", 10, now.AddDate(0, 4, 0))

	ledgerRepo := repository.NewLedgerRepository(suite.DB)
	err := ledgerRepo.Append(ctx, &repository.StockTransaction{
		BatchID: batchID, Change: -11,
		Type: repository.TransactionRemoved, Reason: repository.ReasonPrescription,
		PerformedBy: testUserID,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))
	assert.Equal(t, 10, suite.Fixtures.BatchQuantity(t, ctx, batchID))

	entries, err := ledgerRepo.ListByBatch(ctx, batchID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSoftDelete_LedgerRowsStayResolvable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Omeprazole 20mg", "capsules")
	batchID := suite.Fixtures.CreateBatch(t, ctx, medicineID, "OME-1", 20, now.AddDate(0, 5, 0))

	ledgerRepo := repository.NewLedgerRepository(suite.DB)
	require.NoError(t, ledgerRepo.Append(ctx, &repository.StockTransaction{
		BatchID: batchID, Change: -20,
		Type: repository.TransactionRemoved, Reason: repository.ReasonBatchDeleted,
		PerformedBy: testUserID,
	}))

	batchRepo := repository.NewBatchRepository(suite.DB)
	require.NoError(t, batchRepo.SoftDelete(ctx, batchID))

	_, err := batchRepo.GetByID(ctx, batchID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	// Ledger history outlives the batch
	entries, err := ledgerRepo.ListByBatch(ctx, batchID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, -20, entries[0].Change)

	// A deleted batch takes no further appends
	err = ledgerRepo.Append(ctx, &repository.StockTransaction{
		BatchID: batchID, Change: 5,
		Type: repository.TransactionAdded, Reason: repository.ReasonCorrection,
		PerformedBy: testUserID,
	})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestBreakdown_BucketsQuantitiesByExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineID := suite.Fixtures.CreateMedicine(t, ctx, "Cetirizine 10mg", "tablets")
	suite.Fixtures.CreateBatch(t, ctx, medicineID, "FAR", 100, now.AddDate(1, 0, 0))
	suite.Fixtures.CreateBatch(t, ctx, medicineID, "SOON", 30, now.AddDate(0, 0, 10))
	suite.Fixtures.CreateBatch(t, ctx, medicineID, "GONE", 7, now.AddDate(0, 0, -2))

	batchRepo := repository.NewBatchRepository(suite.DB)
	breakdown, err := batchRepo.Breakdown(ctx, medicineID, now, 30*24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, 130, breakdown.Total)
	assert.Equal(t, 1, breakdown.ExpiringSoonCount)
	assert.Equal(t, 1, breakdown.ExpiredCount)
}

func TestMedicineDelete_BlockedByHistory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	suite.ResetTables(t, ctx)

	now := time.Now().UTC()
	medicineRepo := repository.NewMedicineRepository(suite.DB)

	withBatches := suite.Fixtures.CreateMedicine(t, ctx, "Tracked medicine", "tablets")
	suite.Fixtures.CreateBatch(t, ctx, withBatches, "B-1", 10, now.AddDate(0, 1, 0))

	err := medicineRepo.Delete(ctx, withBatches)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	clean := suite.Fixtures.CreateMedicine(t, ctx, "Untracked medicine", "tablets")
	assert.NoError(t, medicineRepo.Delete(ctx, clean))
}
