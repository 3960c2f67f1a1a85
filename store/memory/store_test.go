package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/paysched/lease"
	"github.com/xraph/paysched/store"
	"github.com/xraph/paysched/store/memory"
	"github.com/xraph/paysched/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestLeaseConformance(t *testing.T) {
	storetest.RunLease(t, func(*testing.T) lease.Store { return memory.New() })
}

func TestLeaseClock(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Date(2024, time.March, 10, 6, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	if ok, _ := s.AcquireLease(ctx, lease.DailyRun, "a", time.Minute); !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if ok, _ := s.AcquireLease(ctx, lease.DailyRun, "b", time.Minute); ok {
		t.Fatal("expected held lease to reject another holder")
	}

	now = now.Add(61 * time.Second)
	if ok, _ := s.AcquireLease(ctx, lease.DailyRun, "b", time.Minute); !ok {
		t.Fatal("expected expired lease to be taken over")
	}
}
