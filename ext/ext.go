package ext

import (
	"context"
	"time"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/execution"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Payment lifecycle hooks
// ──────────────────────────────────────────────────

// ExecutionCreated is called after an execution is persisted in PROCESSING.
type ExecutionCreated interface {
	OnExecutionCreated(ctx context.Context, e *execution.Execution, c *contract.Contract) error
}

// PaymentSucceeded is called after a transfer settles.
type PaymentSucceeded interface {
	OnPaymentSucceeded(ctx context.Context, e *execution.Execution, c *contract.Contract, elapsed time.Duration) error
}

// PaymentSkipped is called when a contract is not paid in this run. e is
// the existing execution for an already processed period, or the SKIPPED
// execution of a dry run.
type PaymentSkipped interface {
	OnPaymentSkipped(ctx context.Context, e *execution.Execution, c *contract.Contract, reason string) error
}

// PaymentRetrying is called when an attempt fails and another is scheduled.
type PaymentRetrying interface {
	OnPaymentRetrying(ctx context.Context, e *execution.Execution, c *contract.Contract, cause error, nextRetryAt time.Time) error
}

// PaymentFailed is called when the last permitted attempt fails.
type PaymentFailed interface {
	OnPaymentFailed(ctx context.Context, e *execution.Execution, c *contract.Contract, cause error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// RunCompleted is called after a daily run finishes processing its batch.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, stats paysched.Stats, elapsed time.Duration) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
