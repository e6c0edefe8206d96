package batchlock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clinicore/clinicore-backend/pkg/batchlock"
	"github.com/clinicore/clinicore-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_AcquireRelease(t *testing.T) {
	m := batchlock.NewManager()
	ctx := context.Background()

	lease, err := m.Acquire(ctx, time.Second, "b2", "b1", "b2")
	require.NoError(t, err)

	// Duplicates collapsed, order ascending
	assert.Equal(t, []string{"b1", "b2"}, lease.BatchIDs())

	lease.Release()

	// Re-acquire after release must succeed immediately
	lease2, err := m.Acquire(ctx, 10*time.Millisecond, "b1", "b2")
	require.NoError(t, err)
	lease2.Release()
}

func TestManager_ContentionTimesOutAsBusy(t *testing.T) {
	m := batchlock.NewManager()
	ctx := context.Background()

	held, err := m.Acquire(ctx, time.Second, "b1")
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = m.Acquire(ctx, 50*time.Millisecond, "b1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBusy))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestManager_PartialAcquireReleasesEverything(t *testing.T) {
	m := batchlock.NewManager()
	ctx := context.Background()

	held, err := m.Acquire(ctx, time.Second, "b2")
	require.NoError(t, err)

	// b1 is free but b2 is held, so the combined acquire must fail and
	// leave b1 free afterwards.
	_, err = m.Acquire(ctx, 50*time.Millisecond, "b1", "b2")
	require.Error(t, err)

	lease, err := m.Acquire(ctx, 50*time.Millisecond, "b1")
	require.NoError(t, err)
	lease.Release()
	held.Release()
}

func TestManager_MutualExclusion(t *testing.T) {
	m := batchlock.NewManager()
	ctx := context.Background()

	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := m.Acquire(ctx, 5*time.Second, "b1")
			if err != nil {
				return
			}
			defer lease.Release()
			// Non-atomic increment; only safe under the lock
			counter++
		}()
	}

	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestManager_OverlappingSetsDoNotDeadlock(t *testing.T) {
	m := batchlock.NewManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if lease, err := m.Acquire(ctx, 5*time.Second, "b1", "b2"); err == nil {
				lease.Release()
			}
		}()
		go func() {
			defer wg.Done()
			if lease, err := m.Acquire(ctx, 5*time.Second, "b2", "b1"); err == nil {
				lease.Release()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("deadlock between overlapping lock sets")
	}
}

func TestManager_Quarantine(t *testing.T) {
	m := batchlock.NewManager()
	ctx := context.Background()

	m.Quarantine("b1")
	assert.True(t, m.IsQuarantined("b1"))

	_, err := m.Acquire(ctx, time.Second, "b1", "b2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInconsistentState))

	// Reconcile clears the flag and unblocks writers
	assert.True(t, m.Reconcile("b1"))
	assert.False(t, m.Reconcile("b1"))

	lease, err := m.Acquire(ctx, time.Second, "b1")
	require.NoError(t, err)
	lease.Release()
}
