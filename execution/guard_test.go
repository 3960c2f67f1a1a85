package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/paysched/execution"
	"github.com/xraph/paysched/store/memory"
	"github.com/xraph/paysched/store/storetest"
)

func TestGuard(t *testing.T) {
	at := time.Date(2024, time.March, 10, 6, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		statuses []execution.Status
		want     bool
	}{
		{"none", nil, false},
		{"success", []execution.Status{execution.StatusSuccess}, true},
		{"processing", []execution.Status{execution.StatusProcessing}, true},
		{"retrying", []execution.Status{execution.StatusRetrying}, false},
		{"failed", []execution.Status{execution.StatusFailed}, false},
		{"skipped", []execution.Status{execution.StatusSkipped}, false},
		{"failed then success", []execution.Status{execution.StatusFailed, execution.StatusSuccess}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := memory.New()
			c := storetest.NewContract(at)
			if err := s.CreateContract(ctx, c); err != nil {
				t.Fatal(err)
			}
			for i, st := range tt.statuses {
				e := storetest.NewExecution(c, "2024-03", at.Add(time.Duration(i)*time.Minute))
				e.Status = st
				if err := s.CreateExecution(ctx, e); err != nil {
					t.Fatal(err)
				}
			}

			e, found, err := execution.NewGuard(s).AlreadyProcessed(ctx, c.ID, "2024-03")
			if err != nil {
				t.Fatalf("AlreadyProcessed: %v", err)
			}
			if found != tt.want {
				t.Fatalf("found = %v, want %v", found, tt.want)
			}
			if found && e == nil {
				t.Fatal("expected execution when found")
			}

			_, other, _ := execution.NewGuard(s).AlreadyProcessed(ctx, c.ID, "2024-04")
			if other {
				t.Error("a different period must not be reported as processed")
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[execution.Status]bool{
		execution.StatusProcessing: false,
		execution.StatusRetrying:   false,
		execution.StatusSuccess:    true,
		execution.StatusSkipped:    true,
		execution.StatusFailed:     true,
	}
	for st, want := range terminal {
		if got := st.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", st, got, want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	c := storetest.NewContract(time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))
	e := storetest.NewExecution(c, "2024-03", c.NextPaymentDate)
	retryAt := c.NextPaymentDate.Add(time.Hour)
	e.NextRetryAt = &retryAt
	e.AdjustmentIDs = append(e.AdjustmentIDs, storetest.NewAdjustment(c, "EXTRA", "1", c.NextPaymentDate).ID)

	cp := e.Clone()
	*cp.NextRetryAt = cp.NextRetryAt.Add(time.Hour)
	cp.AdjustmentIDs[0] = c.ID

	if !e.NextRetryAt.Equal(retryAt) {
		t.Error("Clone shares NextRetryAt")
	}
	if e.AdjustmentIDs[0] == c.ID {
		t.Error("Clone shares AdjustmentIDs")
	}
}

func TestAttempt(t *testing.T) {
	e := &execution.Execution{}
	if e.Attempt() != 1 {
		t.Errorf("Attempt() on zero count = %d, want 1", e.Attempt())
	}
	e.AttemptCount = 3
	if e.Attempt() != 3 {
		t.Errorf("Attempt() = %d, want 3", e.Attempt())
	}
}
