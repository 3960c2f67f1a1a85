package paysched

import (
	"fmt"
	"time"
)

// Config holds configuration shared by the execution engine and scheduler.
type Config struct {
	// DryRun creates executions but suppresses every ledger call, moving
	// each execution straight to SKIPPED.
	DryRun bool

	// DailyHour is the local hour (0-23) of the primary daily run.
	DailyHour int

	// RetryInterval is how often the retry sweep runs.
	RetryInterval time.Duration

	// CatchUpWindow is how far into DailyHour a freshly started scheduler
	// still fires an immediate daily run.
	CatchUpWindow time.Duration

	// MaxAttempts is the total number of attempts an execution gets before
	// it is marked FAILED.
	MaxAttempts int

	// LedgerTimeout bounds every ledger call. Zero disables the bound.
	LedgerTimeout time.Duration

	// UnitDecimals is the number of decimals between the ledger's base unit
	// and the display unit contract values are denominated in.
	UnitDecimals int32

	// Location is the time zone used for day boundaries and period
	// identifiers.
	Location *time.Location
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DailyHour:     6,
		RetryInterval: time.Hour,
		CatchUpWindow: 5 * time.Minute,
		MaxAttempts:   3,
		LedgerTimeout: 30 * time.Second,
		UnitDecimals:  12,
		Location:      time.Local,
	}
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.DailyHour < 0 || c.DailyHour > 23 {
		return fmt.Errorf("%w: daily hour %d out of range 0-23", ErrInvalidConfig, c.DailyHour)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("%w: retry interval must be positive", ErrInvalidConfig)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidConfig)
	}
	if c.UnitDecimals < 0 {
		return fmt.Errorf("%w: unit decimals must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Loc returns the configured location, falling back to time.Local.
func (c Config) Loc() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}
