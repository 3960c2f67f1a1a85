package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/engine"
	"github.com/xraph/paysched/execution"
	"github.com/xraph/paysched/lease"
	mw "github.com/xraph/paysched/middleware"
	"github.com/xraph/paysched/period"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Defaults to the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock sets the time source used for due dates and retry windows.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocker makes daily runs and retry sweeps take a named lease first.
// A run that cannot take its lease is skipped.
func WithLocker(l *lease.Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithUnitTimeout bounds each contract or retry unit.
func WithUnitTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.unitTimeout = d }
}

// Scheduler runs daily payment runs and retry sweeps.
type Scheduler struct {
	eng         *engine.Engine
	cfg         paysched.Config
	daily       cronlib.Schedule
	locker      *lease.Locker
	unitTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger

	running  atomic.Bool
	sweeping atomic.Bool

	statsMu sync.Mutex
	stats   paysched.Stats

	lifeMu  sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Scheduler for eng using eng's configuration.
func New(eng *engine.Engine, opts ...Option) (*Scheduler, error) {
	cfg := eng.Config()
	daily, err := cronlib.ParseStandard(fmt.Sprintf("0 %d * * *", cfg.DailyHour))
	if err != nil {
		return nil, fmt.Errorf("%w: daily schedule: %v", paysched.ErrInvalidConfig, err)
	}

	s := &Scheduler{
		eng:    eng,
		cfg:    cfg,
		daily:  daily,
		now:    time.Now,
		logger: eng.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Stats returns a point-in-time copy of the run counters.
func (s *Scheduler) Stats() paysched.Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return copyStats(s.stats)
}

// Running reports whether a daily run is in flight.
func (s *Scheduler) Running() bool { return s.running.Load() }

// NextDailyRun returns the first daily run time strictly after t.
func (s *Scheduler) NextDailyRun(t time.Time) time.Time {
	return s.daily.Next(t.In(s.cfg.Loc()))
}

func copyStats(st paysched.Stats) paysched.Stats {
	if st.LastRun != nil {
		t := *st.LastRun
		st.LastRun = &t
	}
	if st.LastDailyRun != nil {
		t := *st.LastDailyRun
		st.LastDailyRun = &t
	}
	return st
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start launches the daily and retry loops. If the scheduler starts within
// the first CatchUpWindow of the daily hour, a daily run fires
// immediately. Calling Start on a started scheduler logs a warning and
// does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.started {
		s.logger.Warn("scheduler already started")
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.started = true

	now := s.now().In(s.cfg.Loc())
	if s.inCatchUpWindow(now) {
		s.logger.Info("started inside the daily window, running now",
			slog.Time("now", now),
		)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runDaily(loopCtx)
		}()
	}

	s.wg.Add(2)
	go s.dailyLoop(loopCtx)
	go s.retryLoop(loopCtx)

	s.logger.Info("scheduler started",
		slog.Int("daily_hour", s.cfg.DailyHour),
		slog.Duration("retry_interval", s.cfg.RetryInterval),
		slog.Time("next_daily_run", s.NextDailyRun(now)),
		slog.Bool("dry_run", s.cfg.DryRun),
	)
	return nil
}

// Stop cancels both loops and waits for in-flight work, or for ctx to end.
// It is safe to call before Start and more than once.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if !s.started {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("scheduler: stop: %w", ctx.Err())
	}

	s.started = false
	s.eng.Extensions().EmitShutdown(ctx)
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) inCatchUpWindow(now time.Time) bool {
	if now.Hour() != s.cfg.DailyHour {
		return false
	}
	hourStart := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	return now.Sub(hourStart) < s.cfg.CatchUpWindow
}

func (s *Scheduler) dailyLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := s.NextDailyRun(s.now())
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runDaily(ctx)
		}
	}
}

func (s *Scheduler) retryLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ProcessRetries(ctx); err != nil {
				s.logger.Error("retry sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	if _, err := s.ProcessScheduledPayments(ctx); err != nil {
		s.logger.Error("daily run failed", slog.String("error", err.Error()))
	}
}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

// RunOnce runs the daily logic synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) (paysched.Stats, error) {
	return s.ProcessScheduledPayments(ctx)
}

// ProcessScheduledPayments pays every ACTIVE contract due today. A call
// made while another run is in flight returns the last stats. Per-contract
// failures are logged and do not stop the run; only a failure to list the
// due contracts is returned.
func (s *Scheduler) ProcessScheduledPayments(ctx context.Context) (paysched.Stats, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("daily run already in progress")
		return s.Stats(), nil
	}
	defer s.running.Store(false)

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, lease.DailyRun)
		if err != nil {
			return s.Stats(), fmt.Errorf("scheduler: acquire daily lease: %w", err)
		}
		if !ok {
			s.logger.Info("daily run held by another instance")
			return s.Stats(), nil
		}
		defer unlock()
	}

	started := time.Now()
	now := s.now()
	from, to := period.Day(now.In(s.cfg.Loc()))

	s.statsMu.Lock()
	s.stats.LastRun = &now
	s.stats.LastDailyRun = &now
	s.statsMu.Unlock()

	contracts, err := s.eng.Store().ListDueContracts(ctx, from, to)
	if err != nil {
		return s.Stats(), fmt.Errorf("scheduler: list due contracts: %w", err)
	}

	s.statsMu.Lock()
	s.stats = paysched.Stats{
		Checked:      len(contracts),
		LastRun:      s.stats.LastRun,
		LastDailyRun: s.stats.LastDailyRun,
	}
	s.statsMu.Unlock()

	s.logger.Info("contracts due today", slog.Int("count", len(contracts)))

	for _, c := range contracts {
		if ctx.Err() != nil {
			s.logger.Warn("daily run interrupted", slog.String("error", ctx.Err().Error()))
			break
		}
		s.processContract(ctx, c, now)
	}

	stats := s.Stats()
	elapsed := time.Since(started)
	s.eng.Extensions().EmitRunCompleted(ctx, stats, elapsed)
	s.logger.Info("daily run completed",
		slog.Int("checked", stats.Checked),
		slog.Int("processed", stats.Processed),
		slog.Int("success", stats.Success),
		slog.Int("failed", stats.Failed),
		slog.Int("retrying", stats.Retrying),
		slog.Int("skipped", stats.Skipped),
		slog.Duration("elapsed", elapsed),
	)
	return stats, nil
}

func (s *Scheduler) processContract(ctx context.Context, c *contract.Contract, now time.Time) {
	u := &mw.Unit{
		Kind:       mw.KindContract,
		ContractID: c.ID,
		PeriodRef:  period.Identifier(now.In(s.cfg.Loc())),
		Attempt:    1,
		Timeout:    s.unitTimeout,
	}

	var res engine.Result
	err := s.eng.Middleware()(ctx, u, func(ctx context.Context) error {
		var err error
		res, err = s.eng.ProcessContract(ctx, c, now)
		if res.Execution != nil {
			u.ExecutionID = res.Execution.ID
		}
		return err
	})
	if err != nil {
		s.logger.Error("error processing contract",
			slog.String("contract_id", c.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	s.statsMu.Lock()
	s.stats.Processed++
	s.countLocked(res.Outcome)
	s.statsMu.Unlock()
}

// ProcessRetries re-attempts every RETRYING execution whose backoff has
// elapsed. It does nothing while a daily run is in flight or another sweep
// is running.
func (s *Scheduler) ProcessRetries(ctx context.Context) error {
	if s.running.Load() {
		s.logger.Debug("skipping retries, daily run in progress")
		return nil
	}
	if !s.sweeping.CompareAndSwap(false, true) {
		s.logger.Debug("skipping retries, sweep in progress")
		return nil
	}
	defer s.sweeping.Store(false)

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, lease.RetrySweep)
		if err != nil {
			return fmt.Errorf("scheduler: acquire retry lease: %w", err)
		}
		if !ok {
			s.logger.Debug("retry sweep held by another instance")
			return nil
		}
		defer unlock()
	}

	now := s.now()
	s.statsMu.Lock()
	s.stats.LastRun = &now
	s.statsMu.Unlock()

	due, err := s.eng.Store().ListDueRetries(ctx, now, s.eng.RetryManager().MaxAttempts())
	if err != nil {
		return fmt.Errorf("scheduler: list due retries: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	s.logger.Info("retries to process", slog.Int("count", len(due)))

	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		s.retryExecution(ctx, e, now)
	}
	return nil
}

func (s *Scheduler) retryExecution(ctx context.Context, e *execution.Execution, now time.Time) {
	u := &mw.Unit{
		Kind:        mw.KindRetry,
		ContractID:  e.ContractID,
		ExecutionID: e.ID,
		PeriodRef:   e.PeriodRef,
		Attempt:     e.AttemptCount,
		Timeout:     s.unitTimeout,
	}

	var res engine.Result
	err := s.eng.Middleware()(ctx, u, func(ctx context.Context) error {
		var err error
		res, err = s.eng.RetryExecution(ctx, e, now)
		return err
	})
	switch {
	case errors.Is(err, paysched.ErrNotEligible):
		s.logger.Debug("execution no longer eligible for retry",
			slog.String("execution_id", e.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	case err != nil:
		s.logger.Error("error retrying execution",
			slog.String("execution_id", e.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	s.statsMu.Lock()
	s.countLocked(res.Outcome)
	s.statsMu.Unlock()
}

func (s *Scheduler) countLocked(o engine.Outcome) {
	switch o {
	case engine.OutcomeSuccess:
		s.stats.Success++
	case engine.OutcomeSkipped:
		s.stats.Skipped++
	case engine.OutcomeRetrying:
		s.stats.Retrying++
	case engine.OutcomeFailed:
		s.stats.Failed++
	}
}
