package audithook_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/paysched"
	ah "github.com/xraph/paysched/audit_hook"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/execution"
	"github.com/xraph/paysched/ext"
	"github.com/xraph/paysched/id"
	"github.com/xraph/paysched/period"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestPayment() (*execution.Execution, *contract.Contract) {
	c := &contract.Contract{
		ID:        id.NewContractID(),
		BaseValue: decimal.RequireFromString("100"),
		Currency:  "USDT",
		Cadence:   period.Monthly,
		Status:    contract.StatusActive,
	}
	e := &execution.Execution{
		ID:           id.NewExecutionID(),
		ContractID:   c.ID,
		PeriodRef:    "2024-03",
		FinalValue:   decimal.RequireFromString("105"),
		Currency:     "USDT",
		Status:       execution.StatusProcessing,
		AttemptCount: 2,
	}
	return e, c
}

func TestExtension_Name(t *testing.T) {
	if got := ah.New(&mockRecorder{}).Name(); got != "audit-hook" {
		t.Errorf("Name = %q, want audit-hook", got)
	}
}

func TestExtension_PaymentEvents(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("TIMEOUT")

	tests := []struct {
		name     string
		emit     func(e *ah.Extension, ex *execution.Execution, c *contract.Contract) error
		action   string
		severity string
		outcome  string
		reason   string
		metaKey  string
	}{
		{
			name:     "created",
			emit:     func(e *ah.Extension, ex *execution.Execution, c *contract.Contract) error { return e.OnExecutionCreated(ctx, ex, c) },
			action:   ah.ActionExecutionCreated,
			severity: ah.SeverityInfo,
			outcome:  ah.OutcomeSuccess,
			metaKey:  "final_value",
		},
		{
			name: "succeeded",
			emit: func(e *ah.Extension, ex *execution.Execution, c *contract.Contract) error {
				ex.TxHash = "0xabc"
				return e.OnPaymentSucceeded(ctx, ex, c, 40*time.Millisecond)
			},
			action:   ah.ActionPaymentSucceeded,
			severity: ah.SeverityInfo,
			outcome:  ah.OutcomeSuccess,
			metaKey:  "tx_hash",
		},
		{
			name:     "skipped",
			emit:     func(e *ah.Extension, ex *execution.Execution, c *contract.Contract) error { return e.OnPaymentSkipped(ctx, ex, c, "DRY_RUN") },
			action:   ah.ActionPaymentSkipped,
			severity: ah.SeverityInfo,
			outcome:  ah.OutcomeSkipped,
			metaKey:  "skip_reason",
		},
		{
			name: "retrying",
			emit: func(e *ah.Extension, ex *execution.Execution, c *contract.Contract) error {
				return e.OnPaymentRetrying(ctx, ex, c, cause, time.Now().Add(time.Hour))
			},
			action:   ah.ActionPaymentRetrying,
			severity: ah.SeverityWarning,
			outcome:  ah.OutcomeFailure,
			reason:   "TIMEOUT",
			metaKey:  "next_retry_at",
		},
		{
			name:     "failed",
			emit:     func(e *ah.Extension, ex *execution.Execution, c *contract.Contract) error { return e.OnPaymentFailed(ctx, ex, c, cause) },
			action:   ah.ActionPaymentFailed,
			severity: ah.SeverityCritical,
			outcome:  ah.OutcomeFailure,
			reason:   "TIMEOUT",
			metaKey:  "attempt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockRecorder{}
			e := ah.New(rec)
			ex, c := newTestPayment()

			if err := tt.emit(e, ex, c); err != nil {
				t.Fatalf("hook returned %v", err)
			}
			evt := rec.last()
			if evt == nil {
				t.Fatal("no event recorded")
			}
			if evt.Action != tt.action {
				t.Errorf("Action: want %q, got %q", tt.action, evt.Action)
			}
			if evt.Resource != ah.ResourceExecution || evt.ResourceID != ex.ID.String() {
				t.Errorf("Resource: got %s/%s", evt.Resource, evt.ResourceID)
			}
			if evt.Category != ah.CategoryPayment {
				t.Errorf("Category: got %q", evt.Category)
			}
			if evt.Severity != tt.severity || evt.Outcome != tt.outcome {
				t.Errorf("Severity/Outcome: got %s/%s", evt.Severity, evt.Outcome)
			}
			if evt.Reason != tt.reason {
				t.Errorf("Reason: want %q, got %q", tt.reason, evt.Reason)
			}
			if evt.Metadata["contract_id"] != c.ID.String() || evt.Metadata["period"] != "2024-03" {
				t.Errorf("missing payment metadata: %v", evt.Metadata)
			}
			if _, ok := evt.Metadata[tt.metaKey]; !ok {
				t.Errorf("missing metadata key %q: %v", tt.metaKey, evt.Metadata)
			}
		})
	}
}

func TestExtension_RunCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	at := time.Date(2024, time.March, 10, 6, 0, 0, 0, time.UTC)

	stats := paysched.Stats{Checked: 3, Processed: 3, Success: 2, Failed: 1, LastDailyRun: &at}
	if err := e.OnRunCompleted(context.Background(), stats, time.Second); err != nil {
		t.Fatalf("OnRunCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionRunCompleted || evt.Resource != ah.ResourceRun {
		t.Errorf("unexpected event: %+v", evt)
	}
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("a run with failures should record a failure outcome, got %q", evt.Outcome)
	}
	if evt.ResourceID != "2024-03-10T06:00:00Z" {
		t.Errorf("ResourceID = %q", evt.ResourceID)
	}
	if evt.Metadata["success"] != 2 {
		t.Errorf("success = %v, want 2", evt.Metadata["success"])
	}
}

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionPaymentSucceeded, ah.ActionPaymentFailed))

	ctx := context.Background()
	ex, c := newTestPayment()

	// Created is NOT enabled.
	if err := e.OnExecutionCreated(ctx, ex, c); err != nil {
		t.Fatalf("OnExecutionCreated: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (created disabled), got %d", rec.count())
	}

	if err := e.OnPaymentSucceeded(ctx, ex, c, time.Millisecond); err != nil {
		t.Fatalf("OnPaymentSucceeded: %v", err)
	}
	if err := e.OnPaymentFailed(ctx, ex, c, errors.New("boom")); err != nil {
		t.Fatalf("OnPaymentFailed: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failingRecorder := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})

	e := ah.New(failingRecorder)
	ex, c := newTestPayment()

	if err := e.OnPaymentSucceeded(context.Background(), ex, c, time.Millisecond); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	ctx := context.Background()
	ex, c := newTestPayment()

	reg.EmitExecutionCreated(ctx, ex, c)
	reg.EmitPaymentSucceeded(ctx, ex, c, time.Millisecond)
	reg.EmitPaymentSkipped(ctx, ex, c, "ALREADY_PROCESSED")
	reg.EmitPaymentRetrying(ctx, ex, c, errors.New("fail"), time.Now())
	reg.EmitPaymentFailed(ctx, ex, c, errors.New("dead"))
	reg.EmitRunCompleted(ctx, paysched.Stats{}, time.Second)

	allActions := ah.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}
	for _, action := range allActions {
		if rec.findByAction(action) == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}
