// Package batchlock serializes all quantity mutations for a batch.
// Every writer (prescription commit, manual correction, batch delete)
// must hold the batch's lock, so two concurrent decrements can never both
// pass a stock pre-check and then both succeed into negative territory.
//
// Locks for multiple batches are always taken in ascending batch-ID order,
// which makes overlapping prescriptions deadlock-free.
package batchlock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clinicore/clinicore-backend/pkg/errors"
)

// Manager hands out per-batch locks and tracks quarantined batches.
// A batch is quarantined when a commit compensation failed and its ledger
// can no longer be trusted; all writes are refused until an operator
// reconciles it.
type Manager struct {
	mu          sync.Mutex
	locks       map[string]*batchLock
	quarantined map[string]struct{}
}

type batchLock struct {
	sem  chan struct{}
	refs int
}

// NewManager creates a new lock manager
func NewManager() *Manager {
	return &Manager{
		locks:       make(map[string]*batchLock),
		quarantined: make(map[string]struct{}),
	}
}

// Lease holds a set of acquired batch locks. Release returns them; a Lease
// must be released exactly once.
type Lease struct {
	manager  *Manager
	ids      []string
	released bool
}

// Acquire takes the locks for the given batch IDs in ascending order.
// Duplicate IDs are collapsed. Waiting is bounded by timeout; contention
// past the deadline returns a retryable Busy error with nothing held.
// Quarantined batches are refused up front with InconsistentState.
func (m *Manager) Acquire(ctx context.Context, timeout time.Duration, batchIDs ...string) (*Lease, error) {
	ids := dedupeSorted(batchIDs)

	m.mu.Lock()
	for _, id := range ids {
		if _, bad := m.quarantined[id]; bad {
			m.mu.Unlock()
			return nil, errors.InconsistentState(id)
		}
	}
	m.mu.Unlock()

	deadline := time.Now().Add(timeout)

	acquired := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := m.lockOne(ctx, id, deadline); err != nil {
			for i := len(acquired) - 1; i >= 0; i-- {
				m.unlockOne(acquired[i])
			}
			return nil, err
		}
		acquired = append(acquired, id)
	}

	return &Lease{manager: m, ids: acquired}, nil
}

// Release returns every lock held by the lease
func (l *Lease) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	for i := len(l.ids) - 1; i >= 0; i-- {
		l.manager.unlockOne(l.ids[i])
	}
}

// BatchIDs returns the sorted batch IDs covered by the lease
func (l *Lease) BatchIDs() []string {
	return l.ids
}

// Quarantine marks a batch as requiring manual reconciliation.
// Subsequent Acquire calls covering it fail with InconsistentState.
func (m *Manager) Quarantine(batchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quarantined[batchID] = struct{}{}
}

// Reconcile clears the quarantine flag for a batch. Returns false if the
// batch was not quarantined.
func (m *Manager) Reconcile(batchID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quarantined[batchID]; !ok {
		return false
	}
	delete(m.quarantined, batchID)
	return true
}

// IsQuarantined reports whether a batch is quarantined
func (m *Manager) IsQuarantined(batchID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.quarantined[batchID]
	return ok
}

func (m *Manager) lockOne(ctx context.Context, id string, deadline time.Time) error {
	m.mu.Lock()
	bl, ok := m.locks[id]
	if !ok {
		bl = &batchLock{sem: make(chan struct{}, 1)}
		m.locks[id] = bl
	}
	bl.refs++
	m.mu.Unlock()

	wait := time.Until(deadline)
	if wait <= 0 {
		m.dropRef(id)
		return errors.Busy("timed out waiting for batch lock")
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case bl.sem <- struct{}{}:
		return nil
	case <-timer.C:
		m.dropRef(id)
		return errors.Busy("timed out waiting for batch lock")
	case <-ctx.Done():
		m.dropRef(id)
		return errors.Busy("canceled while waiting for batch lock")
	}
}

func (m *Manager) unlockOne(id string) {
	m.mu.Lock()
	bl, ok := m.locks[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	<-bl.sem
	m.dropRef(id)
}

// dropRef releases a lock reference and removes idle entries so the map
// does not grow with every batch ever touched.
func (m *Manager) dropRef(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bl, ok := m.locks[id]
	if !ok {
		return
	}
	bl.refs--
	if bl.refs <= 0 {
		delete(m.locks, id)
	}
}

func dedupeSorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
