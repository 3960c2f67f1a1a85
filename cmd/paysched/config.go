package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/lease"
	"github.com/xraph/paysched/store"
	"github.com/xraph/paysched/store/memory"
	"github.com/xraph/paysched/store/postgres"
	redisstore "github.com/xraph/paysched/store/redis"
	"github.com/xraph/paysched/store/sqlite"
)

// settings is the process configuration, read from PAYSCHED_* variables.
type settings struct {
	DryRun        bool          `env:"PAYSCHED_DRY_RUN" envDefault:"false"`
	DailyHour     int           `env:"PAYSCHED_DAILY_HOUR" envDefault:"6"`
	RetryInterval time.Duration `env:"PAYSCHED_RETRY_INTERVAL" envDefault:"1h"`
	CatchUpWindow time.Duration `env:"PAYSCHED_CATCH_UP_WINDOW" envDefault:"5m"`
	MaxAttempts   int           `env:"PAYSCHED_MAX_ATTEMPTS" envDefault:"3"`
	LedgerTimeout time.Duration `env:"PAYSCHED_LEDGER_TIMEOUT" envDefault:"30s"`
	LedgerRPS     float64       `env:"PAYSCHED_LEDGER_RPS" envDefault:"10"`
	UnitDecimals  int32         `env:"PAYSCHED_UNIT_DECIMALS" envDefault:"12"`
	Timezone      string        `env:"PAYSCHED_TIMEZONE" envDefault:"Local"`

	Store     string        `env:"PAYSCHED_STORE" envDefault:"memory"`
	DSN       string        `env:"PAYSCHED_DSN"`
	RedisAddr string        `env:"PAYSCHED_REDIS_ADDR"`
	LeaseTTL  time.Duration `env:"PAYSCHED_LEASE_TTL" envDefault:"2m"`

	RunOnce  bool   `env:"PAYSCHED_RUN_ONCE" envDefault:"false"`
	SeedDemo bool   `env:"PAYSCHED_SEED_DEMO" envDefault:"false"`
	LogLevel string `env:"PAYSCHED_LOG_LEVEL" envDefault:"info"`
}

func loadSettings() (settings, error) {
	var s settings
	if err := env.Parse(&s); err != nil {
		return settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

// config converts the settings into an engine configuration.
func (s settings) config() (paysched.Config, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return paysched.Config{}, fmt.Errorf("%w: timezone %q: %v", paysched.ErrInvalidConfig, s.Timezone, err)
	}
	cfg := paysched.DefaultConfig()
	cfg.DryRun = s.DryRun
	cfg.DailyHour = s.DailyHour
	cfg.RetryInterval = s.RetryInterval
	cfg.CatchUpWindow = s.CatchUpWindow
	cfg.MaxAttempts = s.MaxAttempts
	cfg.LedgerTimeout = s.LedgerTimeout
	cfg.UnitDecimals = s.UnitDecimals
	cfg.Location = loc
	return cfg, cfg.Validate()
}

func (s settings) level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// backend is the opened persistence layer. leases is nil when no lease
// backend is configured.
type backend struct {
	store  store.Store
	leases lease.Store
	close  func()
}

// openBackend opens the configured store and, when PAYSCHED_REDIS_ADDR is
// set, a Redis lease store. SQL stores double as lease stores otherwise.
func openBackend(ctx context.Context, s settings, logger *slog.Logger) (*backend, error) {
	b := &backend{close: func() {}}

	switch s.Store {
	case "memory":
		m := memory.New()
		b.store, b.leases = m, m
	case "postgres":
		if s.DSN == "" {
			return nil, errors.New("PAYSCHED_DSN is required for the postgres store")
		}
		pg, err := postgres.New(ctx, s.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		b.store, b.leases = pg, pg
	case "sqlite":
		dsn := s.DSN
		if dsn == "" {
			dsn = "file:paysched.db"
		}
		lite, err := sqlite.Open(dsn, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		b.store, b.leases = lite, lite
	default:
		return nil, fmt.Errorf("%w: unknown store %q", paysched.ErrInvalidConfig, s.Store)
	}
	b.close = func() { _ = b.store.Close() }

	if s.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: s.RedisAddr})
		rs := redisstore.New(client, redisstore.WithLogger(logger))
		if err := rs.Ping(ctx); err != nil {
			_ = client.Close()
			b.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		b.leases = rs
		closeStore := b.close
		b.close = func() {
			_ = client.Close()
			closeStore()
		}
	}

	if err := b.store.Migrate(ctx); err != nil {
		b.close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}
