package scheduler_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/engine"
	"github.com/xraph/paysched/execution"
	"github.com/xraph/paysched/lease"
	"github.com/xraph/paysched/ledger"
	"github.com/xraph/paysched/ledger/simulated"
	"github.com/xraph/paysched/scheduler"
	"github.com/xraph/paysched/store"
	"github.com/xraph/paysched/store/memory"
	"github.com/xraph/paysched/store/storetest"
)

var today = time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type runRecorder struct {
	runs      atomic.Int32
	shutdowns atomic.Int32
}

func (r *runRecorder) Name() string { return "run-recorder" }

func (r *runRecorder) OnRunCompleted(context.Context, paysched.Stats, time.Duration) error {
	r.runs.Add(1)
	return nil
}

func (r *runRecorder) OnShutdown(context.Context) error {
	r.shutdowns.Add(1)
	return nil
}

type fixture struct {
	store  store.Store
	mem    *memory.Store
	ledger *simulated.Ledger
	clock  *clock
	rec    *runRecorder
	sched  *scheduler.Scheduler
}

func config() paysched.Config {
	cfg := paysched.DefaultConfig()
	cfg.Location = time.UTC
	return cfg
}

func newFixture(t *testing.T, st store.Store, client ledger.Client, at time.Time, opts ...scheduler.Option) *fixture {
	t.Helper()
	f := &fixture{clock: newClock(at), rec: &runRecorder{}}
	if st == nil {
		f.mem = memory.New()
		st = f.mem
	}
	f.store = st
	if client == nil {
		f.ledger = simulated.New()
		client = f.ledger
	}

	eng, err := engine.New(st, client, engine.WithConfig(config()), engine.WithExtension(f.rec))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	opts = append([]scheduler.Option{scheduler.WithClock(f.clock.Now)}, opts...)
	f.sched, err = scheduler.New(eng, opts...)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	return f
}

func (f *fixture) addContract(t *testing.T, due time.Time, mutate func(*contract.Contract)) *contract.Contract {
	t.Helper()
	c := storetest.NewContract(due)
	c.PayerWallet = "payer-" + c.ID.String()
	if mutate != nil {
		mutate(c)
	}
	if err := f.store.CreateContract(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *fixture) executions(t *testing.T, c *contract.Contract) []*execution.Execution {
	t.Helper()
	all, err := f.store.ListExecutionsByContract(context.Background(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	return all
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ──────────────────────────────────────────────────
// Daily run
// ──────────────────────────────────────────────────

func TestRunOnce(t *testing.T) {
	f := newFixture(t, nil, nil, today.Add(6*time.Hour))
	funded := f.addContract(t, today.Add(time.Hour), nil)
	broke := f.addContract(t, today.Add(2*time.Hour), nil)
	paused := f.addContract(t, today, func(c *contract.Contract) { c.Status = contract.StatusPaused })
	tomorrow := f.addContract(t, today.AddDate(0, 0, 1), nil)
	f.ledger.Fund(funded.PayerWallet, decimal.NewFromInt(1000))

	stats, err := f.sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	want := paysched.Stats{Checked: 2, Processed: 2, Success: 1, Retrying: 1}
	if stats.Checked != want.Checked || stats.Processed != want.Processed ||
		stats.Success != want.Success || stats.Retrying != want.Retrying ||
		stats.Failed != 0 || stats.Skipped != 0 {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if stats.LastRun == nil || stats.LastDailyRun == nil {
		t.Error("expected run timestamps")
	}

	if got := f.executions(t, broke); len(got) != 1 || got[0].Status != execution.StatusRetrying {
		t.Errorf("broke executions = %v", got)
	}
	for _, c := range []*contract.Contract{paused, tomorrow} {
		if got := f.executions(t, c); len(got) != 0 {
			t.Errorf("contract %s should not be processed", c.ID)
		}
	}
	if f.rec.runs.Load() != 1 {
		t.Errorf("run completed hook fired %d times", f.rec.runs.Load())
	}

	// The paid contract moved to next month; the next run checks only
	// the one still due today.
	again, err := f.sched.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if again.Checked != 1 {
		t.Errorf("second run checked %d, want 1", again.Checked)
	}
	if got := f.executions(t, funded); len(got) != 1 {
		t.Errorf("funded contract paid %d times", len(got))
	}
}

func TestDryRunMakesNoLedgerCalls(t *testing.T) {
	cfg := config()
	cfg.DryRun = true
	mem := memory.New()
	led := simulated.New()
	eng, err := engine.New(mem, led, engine.WithConfig(cfg))
	if err != nil {
		t.Fatal(err)
	}
	clk := newClock(today.Add(6 * time.Hour))
	sched, err := scheduler.New(eng, scheduler.WithClock(clk.Now))
	if err != nil {
		t.Fatal(err)
	}
	c := storetest.NewContract(today)
	if err := mem.CreateContract(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	stats, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 1 || stats.Success != 0 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if len(led.Calls()) != 0 {
		t.Errorf("dry run made ledger calls: %v", led.Calls())
	}
}

type failingStore struct {
	*memory.Store
	err error
}

func (s *failingStore) ListDueContracts(context.Context, time.Time, time.Time) ([]*contract.Contract, error) {
	return nil, s.err
}

func TestListingErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	f := newFixture(t, &failingStore{Store: memory.New(), err: boom}, nil, today.Add(6*time.Hour))

	stats, err := f.sched.RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected listing error, got %v", err)
	}
	if stats.Checked != 0 || stats.Processed != 0 {
		t.Errorf("counters changed: %+v", stats)
	}
	if stats.LastDailyRun == nil {
		t.Error("LastDailyRun should be recorded even when listing fails")
	}
	if f.sched.Running() {
		t.Error("running flag must be released")
	}
}

type panickyLedger struct {
	*simulated.Ledger
	wallet string
}

func (p *panickyLedger) Balance(ctx context.Context, wallet string) (*big.Int, error) {
	if wallet == p.wallet {
		panic("ledger exploded")
	}
	return p.Ledger.Balance(ctx, wallet)
}

func TestPerContractIsolation(t *testing.T) {
	led := &panickyLedger{Ledger: simulated.New(), wallet: "explodes"}
	f := newFixture(t, nil, led, today.Add(6*time.Hour))
	f.addContract(t, today, func(c *contract.Contract) { c.PayerWallet = "explodes" })
	ok := f.addContract(t, today.Add(time.Hour), nil)
	led.Fund(ok.PayerWallet, decimal.NewFromInt(1000))

	stats, err := f.sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Checked != 2 || stats.Processed != 1 || stats.Success != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSingleFlight(t *testing.T) {
	led := simulated.New(simulated.WithDelay(200 * time.Millisecond))
	f := newFixture(t, nil, led, today.Add(6*time.Hour))
	c := f.addContract(t, today, nil)
	led.Fund(c.PayerWallet, decimal.NewFromInt(1000))

	done := make(chan paysched.Stats, 1)
	go func() {
		stats, _ := f.sched.RunOnce(context.Background())
		done <- stats
	}()
	waitFor(t, f.sched.Running)

	concurrent, err := f.sched.ProcessScheduledPayments(context.Background())
	if err != nil {
		t.Fatalf("concurrent run: %v", err)
	}
	if concurrent.Success != 0 {
		t.Errorf("concurrent run should return the last stats, got %+v", concurrent)
	}
	if err := f.sched.ProcessRetries(context.Background()); err != nil {
		t.Fatalf("ProcessRetries during run: %v", err)
	}

	first := <-done
	if first.Success != 1 {
		t.Errorf("first run = %+v", first)
	}
	if got := f.executions(t, c); len(got) != 1 {
		t.Errorf("executions = %d, want 1", len(got))
	}
	if f.rec.runs.Load() != 1 {
		t.Errorf("run completed hook fired %d times, want 1", f.rec.runs.Load())
	}
}

func TestLeaseHeldElsewhereSkipsRun(t *testing.T) {
	mem := memory.New()
	other := lease.NewLocker(mem, lease.WithHolder("other-instance"))
	unlock, ok, err := other.TryLock(context.Background(), lease.DailyRun)
	if err != nil || !ok {
		t.Fatalf("other.TryLock = %v, %v", ok, err)
	}
	defer unlock()

	f := newFixture(t, mem, nil, today.Add(6*time.Hour),
		scheduler.WithLocker(lease.NewLocker(mem, lease.WithHolder("this-instance"))))
	c := f.addContract(t, today, nil)

	if _, err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := f.executions(t, c); len(got) != 0 {
		t.Errorf("run should be skipped while another instance holds the lease")
	}

	unlock()
	if _, err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.executions(t, c); len(got) != 1 {
		t.Errorf("executions = %d after lease release, want 1", len(got))
	}
}

// ──────────────────────────────────────────────────
// Retry sweep
// ──────────────────────────────────────────────────

func TestProcessRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil, today.Add(6*time.Hour))
	c := f.addContract(t, today, nil)

	if _, err := f.sched.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	pending := f.executions(t, c)[0]
	if pending.Status != execution.StatusRetrying {
		t.Fatalf("status = %s", pending.Status)
	}

	// Not due yet.
	f.clock.Advance(time.Hour)
	if err := f.sched.ProcessRetries(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := f.store.GetExecution(ctx, pending.ID); got.Status != execution.StatusRetrying {
		t.Fatalf("early sweep changed status to %s", got.Status)
	}

	f.ledger.Fund(c.PayerWallet, decimal.NewFromInt(1000))
	f.clock.Advance(23 * time.Hour)
	if err := f.sched.ProcessRetries(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := f.store.GetExecution(ctx, pending.ID)
	if got.Status != execution.StatusSuccess {
		t.Fatalf("status after sweep = %s", got.Status)
	}
	if f.sched.Stats().Success != 1 {
		t.Errorf("stats = %+v", f.sched.Stats())
	}
}

func TestThreeFailuresEndFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil, today.Add(6*time.Hour))
	c := f.addContract(t, today, nil)
	f.ledger.Fund(c.PayerWallet, decimal.NewFromInt(1000))
	for i := 0; i < 3; i++ {
		f.ledger.FailNext(simulated.MethodFallbackTransfer,
			ledger.NewError(ledger.KindTransferFailed, "transfer", errors.New("rejected")))
	}

	if _, err := f.sched.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Hour)
		if err := f.sched.ProcessRetries(ctx); err != nil {
			t.Fatal(err)
		}
	}

	got := f.executions(t, c)
	if len(got) != 1 || got[0].Status != execution.StatusFailed || got[0].AttemptCount != 3 {
		t.Fatalf("execution = %+v", got[0])
	}
	stats := f.sched.Stats()
	if stats.Failed != 1 || stats.Retrying != 2 {
		t.Errorf("stats = %+v, want failed=1 retrying=2", stats)
	}
	if n := f.ledger.CallCount(simulated.MethodFallbackTransfer); n != 3 {
		t.Errorf("transfers = %d, want 3", n)
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestStartCatchUp(t *testing.T) {
	f := newFixture(t, nil, nil, today.Add(6*time.Hour+2*time.Minute))
	c := f.addContract(t, today, nil)
	f.ledger.Fund(c.PayerWallet, decimal.NewFromInt(1000))

	if err := f.sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	waitFor(t, func() bool { return f.rec.runs.Load() == 1 })
	if got := f.executions(t, c); len(got) != 1 || got[0].Status != execution.StatusSuccess {
		t.Errorf("catch-up run executions = %v", got)
	}

	if err := f.sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.sched.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if f.rec.shutdowns.Load() != 1 {
		t.Errorf("shutdown hook fired %d times, want 1", f.rec.shutdowns.Load())
	}
}

func TestStartOutsideCatchUpWindow(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
	}{
		{"late in the daily hour", today.Add(6*time.Hour + 10*time.Minute)},
		{"before the daily hour", today.Add(5 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil, tt.at)
			if err := f.sched.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			time.Sleep(50 * time.Millisecond)
			if err := f.sched.Stop(context.Background()); err != nil {
				t.Fatal(err)
			}
			if f.rec.runs.Load() != 0 {
				t.Error("no run expected outside the catch-up window")
			}
		})
	}
}

func TestNextDailyRun(t *testing.T) {
	f := newFixture(t, nil, nil, today)
	tests := []struct {
		from, want time.Time
	}{
		{today.Add(5 * time.Hour), today.Add(6 * time.Hour)},
		{today.Add(6 * time.Hour), today.AddDate(0, 0, 1).Add(6 * time.Hour)},
		{today.Add(23 * time.Hour), today.AddDate(0, 0, 1).Add(6 * time.Hour)},
	}
	for _, tt := range tests {
		if got := f.sched.NextDailyRun(tt.from); !got.Equal(tt.want) {
			t.Errorf("NextDailyRun(%v) = %v, want %v", tt.from, got, tt.want)
		}
	}
}

func TestStatsIsACopy(t *testing.T) {
	f := newFixture(t, nil, nil, today.Add(6*time.Hour))
	if _, err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	s := f.sched.Stats()
	*s.LastRun = time.Time{}
	if f.sched.Stats().LastRun.IsZero() {
		t.Error("Stats must return a copy")
	}
}
