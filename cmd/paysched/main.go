// Command paysched runs the recurring payment scheduler against a
// simulated ledger. Configuration is read from PAYSCHED_* environment
// variables.
//
// Usage:
//
//	PAYSCHED_STORE=sqlite PAYSCHED_DSN=file:paysched.db go run ./cmd/paysched
//
//	# Pay everything due today once and exit.
//	PAYSCHED_RUN_ONCE=true PAYSCHED_SEED_DEMO=true go run ./cmd/paysched
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/adjustment"
	audithook "github.com/xraph/paysched/audit_hook"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/engine"
	"github.com/xraph/paysched/id"
	"github.com/xraph/paysched/lease"
	"github.com/xraph/paysched/ledger"
	"github.com/xraph/paysched/ledger/simulated"
	"github.com/xraph/paysched/period"
	"github.com/xraph/paysched/scheduler"
	"github.com/xraph/paysched/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "paysched:", err)
		os.Exit(1)
	}
}

func run() error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: s.level()}))

	cfg, err := s.config()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ──────────────────────────────────────────────────
	// 1. Store and ledger
	// ──────────────────────────────────────────────────

	b, err := openBackend(ctx, s, logger)
	if err != nil {
		return err
	}
	defer b.close()

	sim := simulated.New(simulated.WithDecimals(cfg.UnitDecimals), simulated.WithPallet(true))
	if s.SeedDemo {
		if err := seedDemo(ctx, b.store, sim, cfg.Loc()); err != nil {
			return fmt.Errorf("seed demo: %w", err)
		}
		logger.Info("seeded demo contract")
	}

	var client ledger.Client = sim
	if s.LedgerRPS > 0 {
		client = ledger.WithRateLimit(sim, rate.NewLimiter(rate.Limit(s.LedgerRPS), 1))
	}

	// ──────────────────────────────────────────────────
	// 2. Engine and scheduler
	// ──────────────────────────────────────────────────

	eng, err := engine.New(b.store, client,
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithExtension(audithook.New(auditLog(logger), audithook.WithLogger(logger))),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	locker := lease.NewLocker(b.leases,
		lease.WithTTL(s.LeaseTTL),
		lease.WithLogger(logger),
	)
	sched, err := scheduler.New(eng,
		scheduler.WithLogger(logger),
		scheduler.WithLocker(locker),
	)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	if s.RunOnce {
		stats, runErr := sched.RunOnce(ctx)
		if runErr != nil {
			return runErr
		}
		logStats(logger, "run finished", stats)
		return nil
	}

	// ──────────────────────────────────────────────────
	// 3. Run until signalled
	// ──────────────────────────────────────────────────

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return sched.Stop(stopCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.RetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logStats(logger, "scheduler stats", sched.Stats())
			}
		}
	})

	logger.Info("paysched running",
		slog.String("store", s.Store),
		slog.Bool("redis_leases", s.RedisAddr != ""),
		slog.String("timezone", cfg.Loc().String()),
	)
	return g.Wait()
}

func logStats(logger *slog.Logger, msg string, st paysched.Stats) {
	logger.Info(msg,
		slog.Int("checked", st.Checked),
		slog.Int("processed", st.Processed),
		slog.Int("success", st.Success),
		slog.Int("failed", st.Failed),
		slog.Int("retrying", st.Retrying),
		slog.Int("skipped", st.Skipped),
	)
}

// auditLog writes the audit trail to the process log.
func auditLog(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.String("severity", evt.Severity),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
		return nil
	})
}

// seedDemo creates one funded monthly contract due today with an approved
// bonus for the current month.
func seedDemo(ctx context.Context, st store.Store, sim *simulated.Ledger, loc *time.Location) error {
	now := time.Now().In(loc)
	today := period.StartOfDay(now)

	c := &contract.Contract{
		Entity:          paysched.NewEntity(),
		ID:              id.NewContractID(),
		PayerWallet:     "5DemoPayer",
		ReceiverWallet:  "5DemoReceiver",
		BaseValue:       decimal.RequireFromString("100"),
		Currency:        "USDT",
		Cadence:         period.Monthly,
		PaymentDay:      today.Day(),
		NextPaymentDate: today,
		Status:          contract.StatusActive,
	}
	if err := st.CreateContract(ctx, c); err != nil {
		return err
	}

	bonus := &adjustment.Adjustment{
		Entity:         paysched.NewEntity(),
		ID:             id.NewAdjustmentID(),
		ContractID:     c.ID,
		Type:           adjustment.TypeExtra,
		Value:          decimal.RequireFromString("5"),
		ReferenceMonth: today,
		Status:         adjustment.StatusApproved,
		Description:    "demo bonus",
	}
	if err := st.CreateAdjustment(ctx, bonus); err != nil {
		return err
	}

	sim.Fund(c.PayerWallet, decimal.RequireFromString("1000"))
	return nil
}
