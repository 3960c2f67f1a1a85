// Package memory provides an in-memory implementation of store.Store and
// lease.Store. It is safe for concurrent use and intended for development
// and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/adjustment"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/execution"
	"github.com/xraph/paysched/id"
	"github.com/xraph/paysched/lease"
)

// Ensure Store implements every subsystem store at compile time. store
// cannot be imported here without a cycle in its tests.
var (
	_ contract.Store   = (*Store)(nil)
	_ execution.Store  = (*Store)(nil)
	_ adjustment.Store = (*Store)(nil)
	_ lease.Store      = (*Store)(nil)
)

type leaseEntry struct {
	holder string
	until  time.Time
}

// Store is a fully in-memory store.
type Store struct {
	mu sync.RWMutex

	contracts   map[string]*contract.Contract
	executions  map[string]*execution.Execution
	adjustments map[string]*adjustment.Adjustment
	leases      map[string]leaseEntry

	now func() time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		contracts:   make(map[string]*contract.Contract),
		executions:  make(map[string]*execution.Execution),
		adjustments: make(map[string]*adjustment.Adjustment),
		leases:      make(map[string]leaseEntry),
		now:         time.Now,
	}
}

// SetClock replaces the clock used for lease expiry.
func (m *Store) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Contract Store
// ──────────────────────────────────────────────────

// CreateContract persists a new contract.
func (m *Store) CreateContract(_ context.Context, c *contract.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := c.ID.String()
	if _, exists := m.contracts[key]; exists {
		return paysched.ErrContractAlreadyExists
	}
	cp := *c
	m.contracts[key] = &cp
	return nil
}

// GetContract retrieves a contract by ID.
func (m *Store) GetContract(_ context.Context, contractID id.ContractID) (*contract.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contracts[contractID.String()]
	if !ok {
		return nil, paysched.ErrContractNotFound
	}
	cp := *c
	return &cp, nil
}

// ListDueContracts returns ACTIVE contracts due in [from, to), earliest
// first.
func (m *Store) ListDueContracts(_ context.Context, from, to time.Time) ([]*contract.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*contract.Contract
	for _, c := range m.contracts {
		if c.Status != contract.StatusActive {
			continue
		}
		if c.NextPaymentDate.Before(from) || !c.NextPaymentDate.Before(to) {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		if !result[i].NextPaymentDate.Equal(result[k].NextPaymentDate) {
			return result[i].NextPaymentDate.Before(result[k].NextPaymentDate)
		}
		return result[i].ID.String() < result[k].ID.String()
	})
	return result, nil
}

// UpdateNextPaymentDate sets a contract's next due date.
func (m *Store) UpdateNextPaymentDate(_ context.Context, contractID id.ContractID, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contracts[contractID.String()]
	if !ok {
		return paysched.ErrContractNotFound
	}
	c.NextPaymentDate = next
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// Execution Store
// ──────────────────────────────────────────────────

func activeStatus(s execution.Status) bool {
	return s == execution.StatusSuccess || s == execution.StatusProcessing
}

// activeConflictLocked reports whether an execution other than e already
// holds the active slot for e's contract and period.
func (m *Store) activeConflictLocked(e *execution.Execution) bool {
	if !activeStatus(e.Status) {
		return false
	}
	for _, other := range m.executions {
		if other.ID == e.ID {
			continue
		}
		if other.ContractID == e.ContractID && other.PeriodRef == e.PeriodRef && activeStatus(other.Status) {
			return true
		}
	}
	return false
}

// CreateExecution persists a new execution.
func (m *Store) CreateExecution(_ context.Context, e *execution.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, exists := m.executions[key]; exists {
		return paysched.ErrExecutionConflict
	}
	if m.activeConflictLocked(e) {
		return paysched.ErrExecutionConflict
	}
	m.executions[key] = e.Clone()
	return nil
}

// GetExecution retrieves an execution by ID.
func (m *Store) GetExecution(_ context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[execID.String()]
	if !ok {
		return nil, paysched.ErrExecutionNotFound
	}
	return e.Clone(), nil
}

// UpdateExecution replaces an execution whose stored status is from.
func (m *Store) UpdateExecution(_ context.Context, e *execution.Execution, from execution.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	stored, ok := m.executions[key]
	if !ok {
		return paysched.ErrExecutionNotFound
	}
	if stored.Status != from {
		return paysched.ErrInvalidState
	}
	if m.activeConflictLocked(e) {
		return paysched.ErrExecutionConflict
	}
	m.executions[key] = e.Clone()
	return nil
}

// FindExecution returns the most recently scheduled execution for the
// contract and period with one of the given statuses.
func (m *Store) FindExecution(_ context.Context, contractID id.ContractID, periodRef string, statuses ...execution.Status) (*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *execution.Execution
	for _, e := range m.executions {
		if e.ContractID != contractID || e.PeriodRef != periodRef {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, e.Status) {
			continue
		}
		if found == nil || e.ScheduledAt.After(found.ScheduledAt) {
			found = e
		}
	}
	if found == nil {
		return nil, paysched.ErrExecutionNotFound
	}
	return found.Clone(), nil
}

// ListDueRetries returns RETRYING executions due at now.
func (m *Store) ListDueRetries(_ context.Context, now time.Time, maxAttempts int) ([]*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*execution.Execution
	for _, e := range m.executions {
		if e.Status != execution.StatusRetrying || e.NextRetryAt == nil {
			continue
		}
		if e.NextRetryAt.After(now) || e.AttemptCount > maxAttempts {
			continue
		}
		result = append(result, e.Clone())
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].NextRetryAt.Before(*result[k].NextRetryAt)
	})
	return result, nil
}

// ListExecutionsByContract returns a contract's executions, newest first.
func (m *Store) ListExecutionsByContract(_ context.Context, contractID id.ContractID) ([]*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*execution.Execution
	for _, e := range m.executions {
		if e.ContractID == contractID {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ScheduledAt.After(result[k].ScheduledAt)
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Adjustment Store
// ──────────────────────────────────────────────────

// CreateAdjustment persists a new adjustment.
func (m *Store) CreateAdjustment(_ context.Context, a *adjustment.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := a.ID.String()
	if _, exists := m.adjustments[key]; exists {
		return paysched.ErrAdjustmentAlreadyExists
	}
	cp := *a
	m.adjustments[key] = &cp
	return nil
}

// GetAdjustment retrieves an adjustment by ID.
func (m *Store) GetAdjustment(_ context.Context, adjID id.AdjustmentID) (*adjustment.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.adjustments[adjID.String()]
	if !ok {
		return nil, paysched.ErrAdjustmentNotFound
	}
	cp := *a
	return &cp, nil
}

// ListApplicableAdjustments returns APPROVED, unlinked adjustments of the
// contract referencing [from, to), oldest first.
func (m *Store) ListApplicableAdjustments(_ context.Context, contractID id.ContractID, from, to time.Time) ([]*adjustment.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*adjustment.Adjustment
	for _, a := range m.adjustments {
		if a.ContractID != contractID || !a.Applicable() {
			continue
		}
		if a.ReferenceMonth.Before(from) || !a.ReferenceMonth.Before(to) {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// MarkAdjustmentsApplied links still-applicable adjustments to execID.
func (m *Store) MarkAdjustmentsApplied(_ context.Context, ids []id.AdjustmentID, execID id.ExecutionID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	n := 0
	for _, adjID := range ids {
		a, ok := m.adjustments[adjID.String()]
		if !ok || !a.Applicable() {
			continue
		}
		a.Status = adjustment.StatusApplied
		a.ExecutionID = execID
		a.UpdatedAt = now
		n++
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Lease Store
// ──────────────────────────────────────────────────

// AcquireLease takes or extends the named lease for holder.
func (m *Store) AcquireLease(_ context.Context, name, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.leases[name]; ok && cur.holder != holder && cur.until.After(now) {
		return false, nil
	}
	m.leases[name] = leaseEntry{holder: holder, until: now.Add(ttl)}
	return true, nil
}

// ReleaseLease frees the named lease if holder has it.
func (m *Store) ReleaseLease(_ context.Context, name, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.leases[name]; ok && cur.holder == holder {
		delete(m.leases, name)
	}
	return nil
}
