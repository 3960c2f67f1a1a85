// Package storetest is a conformance suite for store.Store and lease.Store
// backends. Backend packages call Run and RunLease from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/adjustment"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/execution"
	"github.com/xraph/paysched/id"
	"github.com/xraph/paysched/lease"
	"github.com/xraph/paysched/period"
	"github.com/xraph/paysched/store"
)

// Opener returns a fresh, migrated, empty store for one subtest.
type Opener func(t *testing.T) store.Store

// Run exercises every store.Store operation against the backend.
func Run(t *testing.T, open Opener) {
	t.Helper()
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, open(t)) })
	t.Run("ContractCreateGet", func(t *testing.T) { testContractCreateGet(t, open(t)) })
	t.Run("ListDueContracts", func(t *testing.T) { testListDueContracts(t, open(t)) })
	t.Run("UpdateNextPaymentDate", func(t *testing.T) { testUpdateNextPaymentDate(t, open(t)) })
	t.Run("ExecutionRoundTrip", func(t *testing.T) { testExecutionRoundTrip(t, open(t)) })
	t.Run("ExecutionActiveUniqueness", func(t *testing.T) { testExecutionActiveUniqueness(t, open(t)) })
	t.Run("UpdateExecutionCompareAndSet", func(t *testing.T) { testUpdateExecutionCAS(t, open(t)) })
	t.Run("ReclaimSettledPeriod", func(t *testing.T) { testReclaimSettledPeriod(t, open(t)) })
	t.Run("FindExecution", func(t *testing.T) { testFindExecution(t, open(t)) })
	t.Run("ListDueRetries", func(t *testing.T) { testListDueRetries(t, open(t)) })
	t.Run("ListExecutionsByContract", func(t *testing.T) { testListExecutionsByContract(t, open(t)) })
	t.Run("Adjustments", func(t *testing.T) { testAdjustments(t, open(t)) })
}

// LeaseOpener returns a fresh lease store for one subtest.
type LeaseOpener func(t *testing.T) lease.Store

// RunLease exercises lease.Store semantics against the backend.
func RunLease(t *testing.T, open LeaseOpener) {
	t.Helper()
	t.Run("AcquireExclusive", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		name := "test:" + id.NewWorkerID().String()

		ok, err := s.AcquireLease(ctx, name, "a", time.Minute)
		if err != nil || !ok {
			t.Fatalf("first acquire = %v, %v", ok, err)
		}
		ok, err = s.AcquireLease(ctx, name, "b", time.Minute)
		if err != nil || ok {
			t.Fatalf("second holder acquire = %v, %v; want false", ok, err)
		}
		ok, err = s.AcquireLease(ctx, name, "a", time.Minute)
		if err != nil || !ok {
			t.Fatalf("re-acquire by holder = %v, %v", ok, err)
		}
	})
	t.Run("ReleaseOnlyByHolder", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		name := "test:" + id.NewWorkerID().String()

		if ok, err := s.AcquireLease(ctx, name, "a", time.Minute); err != nil || !ok {
			t.Fatalf("acquire = %v, %v", ok, err)
		}
		if err := s.ReleaseLease(ctx, name, "b"); err != nil {
			t.Fatalf("foreign release: %v", err)
		}
		if ok, _ := s.AcquireLease(ctx, name, "b", time.Minute); ok {
			t.Fatal("foreign release must not free the lease")
		}
		if err := s.ReleaseLease(ctx, name, "a"); err != nil {
			t.Fatalf("release: %v", err)
		}
		if ok, err := s.AcquireLease(ctx, name, "b", time.Minute); err != nil || !ok {
			t.Fatalf("acquire after release = %v, %v", ok, err)
		}
	})
	t.Run("Expiry", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		name := "test:" + id.NewWorkerID().String()

		if ok, err := s.AcquireLease(ctx, name, "a", 50*time.Millisecond); err != nil || !ok {
			t.Fatalf("acquire = %v, %v", ok, err)
		}
		time.Sleep(150 * time.Millisecond)
		if ok, err := s.AcquireLease(ctx, name, "b", time.Minute); err != nil || !ok {
			t.Fatalf("acquire after expiry = %v, %v", ok, err)
		}
	})
}

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewContract returns an ACTIVE monthly contract due at due.
func NewContract(due time.Time) *contract.Contract {
	return &contract.Contract{
		Entity:          paysched.NewEntity(),
		ID:              id.NewContractID(),
		PayerWallet:     "5Payer",
		ReceiverWallet:  "5Receiver",
		BaseValue:       decimal.RequireFromString("100.00"),
		Currency:        "USDT",
		Cadence:         period.Monthly,
		PaymentDay:      due.Day(),
		NextPaymentDate: due,
		Status:          contract.StatusActive,
	}
}

// NewExecution returns a PROCESSING execution of c for periodRef.
func NewExecution(c *contract.Contract, periodRef string, scheduledAt time.Time) *execution.Execution {
	start, end := period.Bounds(c.Cadence, scheduledAt)
	return &execution.Execution{
		Entity:           paysched.NewEntity(),
		ID:               id.NewExecutionID(),
		ContractID:       c.ID,
		PeriodRef:        periodRef,
		PeriodStart:      start,
		PeriodEnd:        end,
		BaseValue:        c.BaseValue,
		AdjustmentsTotal: decimal.Zero,
		FinalValue:       c.BaseValue,
		Currency:         c.Currency,
		Status:           execution.StatusProcessing,
		ScheduledAt:      scheduledAt,
		AttemptCount:     1,
	}
}

// NewAdjustment returns an APPROVED adjustment of c for the month of ref.
func NewAdjustment(c *contract.Contract, typ adjustment.Type, value string, ref time.Time) *adjustment.Adjustment {
	return &adjustment.Adjustment{
		Entity:         paysched.NewEntity(),
		ID:             id.NewAdjustmentID(),
		ContractID:     c.ID,
		Type:           typ,
		Value:          decimal.RequireFromString(value),
		ReferenceMonth: ref,
		Status:         adjustment.StatusApproved,
	}
}

func mustCreateContract(t *testing.T, s store.Store, c *contract.Contract) {
	t.Helper()
	if err := s.CreateContract(context.Background(), c); err != nil {
		t.Fatalf("CreateContract: %v", err)
	}
}

func mustCreateExecution(t *testing.T, s store.Store, e *execution.Execution) {
	t.Helper()
	if err := s.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate (second run) returned error: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
}

func testContractCreateGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(day(2024, time.March, 10))
	c.OnChainID = "42"
	mustCreateContract(t, s, c)

	if err := s.CreateContract(ctx, c); !errors.Is(err, paysched.ErrContractAlreadyExists) {
		t.Fatalf("duplicate CreateContract: expected ErrContractAlreadyExists, got %v", err)
	}

	got, err := s.GetContract(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if got.ID != c.ID || got.PayerWallet != c.PayerWallet || got.OnChainID != "42" {
		t.Errorf("GetContract = %+v, want %+v", got, c)
	}
	if !got.BaseValue.Equal(c.BaseValue) {
		t.Errorf("BaseValue = %s, want %s", got.BaseValue, c.BaseValue)
	}
	if got.Cadence != period.Monthly || got.PaymentDay != 10 || got.Status != contract.StatusActive {
		t.Errorf("unexpected cadence fields: %+v", got)
	}
	if !got.NextPaymentDate.Equal(c.NextPaymentDate) {
		t.Errorf("NextPaymentDate = %v, want %v", got.NextPaymentDate, c.NextPaymentDate)
	}

	if _, err := s.GetContract(ctx, id.NewContractID()); !errors.Is(err, paysched.ErrContractNotFound) {
		t.Errorf("expected ErrContractNotFound, got %v", err)
	}
}

func testListDueContracts(t *testing.T, s store.Store) {
	ctx := context.Background()
	today := day(2024, time.March, 10)

	dueEarly := NewContract(today)
	dueLate := NewContract(today.Add(23 * time.Hour))
	tomorrow := NewContract(today.AddDate(0, 0, 1))
	yesterday := NewContract(today.AddDate(0, 0, -1))
	paused := NewContract(today.Add(time.Hour))
	paused.Status = contract.StatusPaused
	for _, c := range []*contract.Contract{dueLate, tomorrow, dueEarly, yesterday, paused} {
		mustCreateContract(t, s, c)
	}

	got, err := s.ListDueContracts(ctx, today, today.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ListDueContracts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 due contracts, got %d", len(got))
	}
	if got[0].ID != dueEarly.ID || got[1].ID != dueLate.ID {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
}

func testUpdateNextPaymentDate(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(day(2024, time.January, 31))
	mustCreateContract(t, s, c)

	next := day(2024, time.February, 29)
	if err := s.UpdateNextPaymentDate(ctx, c.ID, next); err != nil {
		t.Fatalf("UpdateNextPaymentDate: %v", err)
	}
	got, err := s.GetContract(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if !got.NextPaymentDate.Equal(next) {
		t.Errorf("NextPaymentDate = %v, want %v", got.NextPaymentDate, next)
	}

	if err := s.UpdateNextPaymentDate(ctx, id.NewContractID(), next); !errors.Is(err, paysched.ErrContractNotFound) {
		t.Errorf("expected ErrContractNotFound, got %v", err)
	}
}

func testExecutionRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(day(2024, time.March, 10))
	mustCreateContract(t, s, c)

	e := NewExecution(c, "2024-03", day(2024, time.March, 10).Add(6*time.Hour))
	e.AdjustmentsTotal = decimal.RequireFromString("-2.5")
	e.FinalValue = decimal.RequireFromString("97.5")
	e.AdjustmentIDs = []id.AdjustmentID{id.NewAdjustmentID(), id.NewAdjustmentID()}
	mustCreateExecution(t, s, e)

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.ContractID != c.ID || got.PeriodRef != "2024-03" || got.Status != execution.StatusProcessing {
		t.Errorf("GetExecution = %+v", got)
	}
	if !got.FinalValue.Equal(e.FinalValue) || !got.AdjustmentsTotal.Equal(e.AdjustmentsTotal) {
		t.Errorf("values = %s / %s, want %s / %s", got.FinalValue, got.AdjustmentsTotal, e.FinalValue, e.AdjustmentsTotal)
	}
	if !got.PeriodStart.Equal(e.PeriodStart) || !got.PeriodEnd.Equal(e.PeriodEnd) {
		t.Errorf("period bounds = [%v, %v], want [%v, %v]", got.PeriodStart, got.PeriodEnd, e.PeriodStart, e.PeriodEnd)
	}
	if len(got.AdjustmentIDs) != 2 || got.AdjustmentIDs[0] != e.AdjustmentIDs[0] || got.AdjustmentIDs[1] != e.AdjustmentIDs[1] {
		t.Errorf("AdjustmentIDs = %v, want %v", got.AdjustmentIDs, e.AdjustmentIDs)
	}
	if got.ExecutedAt != nil || got.NextRetryAt != nil {
		t.Errorf("expected nil optional timestamps, got %v / %v", got.ExecutedAt, got.NextRetryAt)
	}

	if _, err := s.GetExecution(ctx, id.NewExecutionID()); !errors.Is(err, paysched.ErrExecutionNotFound) {
		t.Errorf("expected ErrExecutionNotFound, got %v", err)
	}
}

func testExecutionActiveUniqueness(t *testing.T, s store.Store) {
	c := NewContract(day(2024, time.March, 10))
	mustCreateContract(t, s, c)
	at := day(2024, time.March, 10)

	first := NewExecution(c, "2024-03", at)
	mustCreateExecution(t, s, first)

	second := NewExecution(c, "2024-03", at.Add(time.Minute))
	if err := s.CreateExecution(context.Background(), second); !errors.Is(err, paysched.ErrExecutionConflict) {
		t.Fatalf("expected ErrExecutionConflict for a second active execution, got %v", err)
	}

	other := NewExecution(c, "2024-04", at.AddDate(0, 1, 0))
	mustCreateExecution(t, s, other)

	skipped := NewExecution(c, "2024-03", at.Add(2*time.Minute))
	skipped.Status = execution.StatusSkipped
	mustCreateExecution(t, s, skipped)
}

func testReclaimSettledPeriod(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(day(2024, time.March, 10))
	mustCreateContract(t, s, c)
	at := day(2024, time.March, 10)

	retrying := NewExecution(c, "2024-03", at)
	retrying.Status = execution.StatusRetrying
	mustCreateExecution(t, s, retrying)

	settled := NewExecution(c, "2024-03", at.Add(time.Hour))
	settled.Status = execution.StatusSuccess
	mustCreateExecution(t, s, settled)

	claim := retrying.Clone()
	claim.Status = execution.StatusProcessing
	if err := s.UpdateExecution(ctx, claim, execution.StatusRetrying); !errors.Is(err, paysched.ErrExecutionConflict) {
		t.Fatalf("expected ErrExecutionConflict reclaiming a settled period, got %v", err)
	}

	retired := retrying.Clone()
	retired.Status = execution.StatusSkipped
	retired.FailureReason = "ALREADY_PROCESSED"
	if err := s.UpdateExecution(ctx, retired, execution.StatusRetrying); err != nil {
		t.Fatalf("retire: %v", err)
	}
	got, err := s.GetExecution(ctx, retrying.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != execution.StatusSkipped {
		t.Errorf("Status = %s, want SKIPPED", got.Status)
	}
}

func testUpdateExecutionCAS(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(day(2024, time.March, 10))
	mustCreateContract(t, s, c)
	e := NewExecution(c, "2024-03", day(2024, time.March, 10))
	mustCreateExecution(t, s, e)

	retryAt := day(2024, time.March, 10).Add(time.Hour)
	next := e.Clone()
	next.Status = execution.StatusRetrying
	next.FailureReason = "TIMEOUT"
	next.NextRetryAt = &retryAt
	next.AttemptCount = 2
	if err := s.UpdateExecution(ctx, next, execution.StatusProcessing); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	again := next.Clone()
	again.AttemptCount = 3
	if err := s.UpdateExecution(ctx, again, execution.StatusProcessing); !errors.Is(err, paysched.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on stale transition, got %v", err)
	}

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != execution.StatusRetrying || got.AttemptCount != 2 || got.FailureReason != "TIMEOUT" {
		t.Errorf("unexpected state after CAS: %+v", got)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(retryAt) {
		t.Errorf("NextRetryAt = %v, want %v", got.NextRetryAt, retryAt)
	}

	executed := day(2024, time.March, 10).Add(2 * time.Hour)
	done := got.Clone()
	done.Status = execution.StatusSuccess
	done.ExecutedAt = &executed
	done.TxHash = "0xabc"
	done.BlockNumber = 1234
	done.NextRetryAt = nil
	if err := s.UpdateExecution(ctx, done, execution.StatusRetrying); err != nil {
		t.Fatalf("UpdateExecution to success: %v", err)
	}
	got, _ = s.GetExecution(ctx, e.ID)
	if got.TxHash != "0xabc" || got.BlockNumber != 1234 || got.ExecutedAt == nil || !got.ExecutedAt.Equal(executed) {
		t.Errorf("unexpected success fields: %+v", got)
	}

	missing := NewExecution(c, "2024-05", day(2024, time.May, 10))
	if err := s.UpdateExecution(ctx, missing, execution.StatusProcessing); !errors.Is(err, paysched.ErrExecutionNotFound) {
		t.Errorf("expected ErrExecutionNotFound, got %v", err)
	}
}

func testFindExecution(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(day(2024, time.March, 10))
	mustCreateContract(t, s, c)

	failed := NewExecution(c, "2024-03", day(2024, time.March, 10))
	failed.Status = execution.StatusFailed
	mustCreateExecution(t, s, failed)

	if _, err := s.FindExecution(ctx, c.ID, "2024-03", execution.StatusSuccess, execution.StatusProcessing); !errors.Is(err, paysched.ErrExecutionNotFound) {
		t.Fatalf("expected ErrExecutionNotFound, got %v", err)
	}

	success := NewExecution(c, "2024-03", day(2024, time.March, 11))
	success.Status = execution.StatusSuccess
	mustCreateExecution(t, s, success)

	got, err := s.FindExecution(ctx, c.ID, "2024-03", execution.StatusSuccess, execution.StatusProcessing)
	if err != nil {
		t.Fatalf("FindExecution: %v", err)
	}
	if got.ID != success.ID {
		t.Errorf("FindExecution = %s, want %s", got.ID, success.ID)
	}

	latest, err := s.FindExecution(ctx, c.ID, "2024-03")
	if err != nil {
		t.Fatalf("FindExecution (any status): %v", err)
	}
	if latest.ID != success.ID {
		t.Errorf("latest = %s, want %s", latest.ID, success.ID)
	}
}

func testListDueRetries(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := day(2024, time.March, 10).Add(12 * time.Hour)

	mk := func(attempts int, retryAt time.Time, status execution.Status) *execution.Execution {
		c := NewContract(day(2024, time.March, 10))
		mustCreateContract(t, s, c)
		e := NewExecution(c, "2024-03", day(2024, time.March, 10))
		e.Status = status
		e.AttemptCount = attempts
		e.NextRetryAt = &retryAt
		mustCreateExecution(t, s, e)
		return e
	}

	dueOld := mk(2, now.Add(-2*time.Hour), execution.StatusRetrying)
	dueNow := mk(3, now, execution.StatusRetrying)
	mk(2, now.Add(time.Minute), execution.StatusRetrying)
	mk(4, now.Add(-time.Hour), execution.StatusRetrying)
	mk(2, now.Add(-time.Hour), execution.StatusFailed)

	got, err := s.ListDueRetries(ctx, now, 3)
	if err != nil {
		t.Fatalf("ListDueRetries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 due retries, got %d", len(got))
	}
	if got[0].ID != dueOld.ID || got[1].ID != dueNow.ID {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
}

func testListExecutionsByContract(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(day(2024, time.March, 10))
	mustCreateContract(t, s, c)

	march := NewExecution(c, "2024-03", day(2024, time.March, 10))
	march.Status = execution.StatusSuccess
	april := NewExecution(c, "2024-04", day(2024, time.April, 10))
	mustCreateExecution(t, s, march)
	mustCreateExecution(t, s, april)

	got, err := s.ListExecutionsByContract(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListExecutionsByContract: %v", err)
	}
	if len(got) != 2 || got[0].ID != april.ID || got[1].ID != march.ID {
		t.Errorf("unexpected executions: %v", got)
	}

	none, err := s.ListExecutionsByContract(ctx, id.NewContractID())
	if err != nil || len(none) != 0 {
		t.Errorf("unknown contract = %v, %v; want empty", none, err)
	}
}

func testAdjustments(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewContract(day(2024, time.March, 10))
	mustCreateContract(t, s, c)
	from, to := day(2024, time.March, 1), day(2024, time.April, 1)

	extra := NewAdjustment(c, adjustment.TypeExtra, "10.00", day(2024, time.March, 1))
	discount := NewAdjustment(c, adjustment.TypeDiscount, "5.00", day(2024, time.March, 15))
	pending := NewAdjustment(c, adjustment.TypeExtra, "99", day(2024, time.March, 1))
	pending.Status = adjustment.StatusPending
	april := NewAdjustment(c, adjustment.TypeExtra, "7", day(2024, time.April, 1))
	for _, a := range []*adjustment.Adjustment{extra, discount, pending, april} {
		if err := s.CreateAdjustment(ctx, a); err != nil {
			t.Fatalf("CreateAdjustment: %v", err)
		}
	}
	if err := s.CreateAdjustment(ctx, extra); !errors.Is(err, paysched.ErrAdjustmentAlreadyExists) {
		t.Fatalf("expected ErrAdjustmentAlreadyExists, got %v", err)
	}

	got, err := s.ListApplicableAdjustments(ctx, c.ID, from, to)
	if err != nil {
		t.Fatalf("ListApplicableAdjustments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 applicable adjustments, got %d", len(got))
	}

	execID := id.NewExecutionID()
	n, err := s.MarkAdjustmentsApplied(ctx, []id.AdjustmentID{extra.ID, discount.ID, pending.ID}, execID)
	if err != nil {
		t.Fatalf("MarkAdjustmentsApplied: %v", err)
	}
	if n != 2 {
		t.Errorf("MarkAdjustmentsApplied updated %d, want 2", n)
	}

	applied, err := s.GetAdjustment(ctx, extra.ID)
	if err != nil {
		t.Fatalf("GetAdjustment: %v", err)
	}
	if applied.Status != adjustment.StatusApplied || applied.ExecutionID != execID {
		t.Errorf("adjustment not linked: %+v", applied)
	}
	if !applied.Value.Equal(decimal.RequireFromString("10")) {
		t.Errorf("Value = %s, want 10", applied.Value)
	}

	stillPending, _ := s.GetAdjustment(ctx, pending.ID)
	if stillPending.Status != adjustment.StatusPending || !stillPending.ExecutionID.IsNil() {
		t.Errorf("pending adjustment must be untouched: %+v", stillPending)
	}

	again, err := s.ListApplicableAdjustments(ctx, c.ID, from, to)
	if err != nil || len(again) != 0 {
		t.Errorf("applied adjustments must not be re-read: %v, %v", again, err)
	}

	if n, _ := s.MarkAdjustmentsApplied(ctx, []id.AdjustmentID{extra.ID}, id.NewExecutionID()); n != 0 {
		t.Errorf("re-applying updated %d adjustments, want 0", n)
	}

	if _, err := s.GetAdjustment(ctx, id.NewAdjustmentID()); !errors.Is(err, paysched.ErrAdjustmentNotFound) {
		t.Errorf("expected ErrAdjustmentNotFound, got %v", err)
	}
}
