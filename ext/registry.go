package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/execution"
)

// Named entry types pair a hook with the extension name captured at
// registration.
type executionCreatedEntry struct {
	name string
	hook ExecutionCreated
}

type paymentSucceededEntry struct {
	name string
	hook PaymentSucceeded
}

type paymentSkippedEntry struct {
	name string
	hook PaymentSkipped
}

type paymentRetryingEntry struct {
	name string
	hook PaymentRetrying
}

type paymentFailedEntry struct {
	name string
	hook PaymentFailed
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. Hooks are type-cached at registration so emit calls iterate only
// over extensions that implement them.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	executionCreated []executionCreatedEntry
	paymentSucceeded []paymentSucceededEntry
	paymentSkipped   []paymentSkippedEntry
	paymentRetrying  []paymentRetryingEntry
	paymentFailed    []paymentFailedEntry
	runCompleted     []runCompletedEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry. A nil logger means
// slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and caches every hook it implements.
// Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ExecutionCreated); ok {
		r.executionCreated = append(r.executionCreated, executionCreatedEntry{name, h})
	}
	if h, ok := e.(PaymentSucceeded); ok {
		r.paymentSucceeded = append(r.paymentSucceeded, paymentSucceededEntry{name, h})
	}
	if h, ok := e.(PaymentSkipped); ok {
		r.paymentSkipped = append(r.paymentSkipped, paymentSkippedEntry{name, h})
	}
	if h, ok := e.(PaymentRetrying); ok {
		r.paymentRetrying = append(r.paymentRetrying, paymentRetryingEntry{name, h})
	}
	if h, ok := e.(PaymentFailed); ok {
		r.paymentFailed = append(r.paymentFailed, paymentFailedEntry{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Payment event emitters
// ──────────────────────────────────────────────────

// EmitExecutionCreated notifies all extensions that implement ExecutionCreated.
func (r *Registry) EmitExecutionCreated(ctx context.Context, e *execution.Execution, c *contract.Contract) {
	for _, x := range r.executionCreated {
		if err := x.hook.OnExecutionCreated(ctx, e, c); err != nil {
			r.logHookError("OnExecutionCreated", x.name, err)
		}
	}
}

// EmitPaymentSucceeded notifies all extensions that implement PaymentSucceeded.
func (r *Registry) EmitPaymentSucceeded(ctx context.Context, e *execution.Execution, c *contract.Contract, elapsed time.Duration) {
	for _, x := range r.paymentSucceeded {
		if err := x.hook.OnPaymentSucceeded(ctx, e, c, elapsed); err != nil {
			r.logHookError("OnPaymentSucceeded", x.name, err)
		}
	}
}

// EmitPaymentSkipped notifies all extensions that implement PaymentSkipped.
func (r *Registry) EmitPaymentSkipped(ctx context.Context, e *execution.Execution, c *contract.Contract, reason string) {
	for _, x := range r.paymentSkipped {
		if err := x.hook.OnPaymentSkipped(ctx, e, c, reason); err != nil {
			r.logHookError("OnPaymentSkipped", x.name, err)
		}
	}
}

// EmitPaymentRetrying notifies all extensions that implement PaymentRetrying.
func (r *Registry) EmitPaymentRetrying(ctx context.Context, e *execution.Execution, c *contract.Contract, cause error, nextRetryAt time.Time) {
	for _, x := range r.paymentRetrying {
		if err := x.hook.OnPaymentRetrying(ctx, e, c, cause, nextRetryAt); err != nil {
			r.logHookError("OnPaymentRetrying", x.name, err)
		}
	}
}

// EmitPaymentFailed notifies all extensions that implement PaymentFailed.
func (r *Registry) EmitPaymentFailed(ctx context.Context, e *execution.Execution, c *contract.Contract, cause error) {
	for _, x := range r.paymentFailed {
		if err := x.hook.OnPaymentFailed(ctx, e, c, cause); err != nil {
			r.logHookError("OnPaymentFailed", x.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, stats paysched.Stats, elapsed time.Duration) {
	for _, x := range r.runCompleted {
		if err := x.hook.OnRunCompleted(ctx, stats, elapsed); err != nil {
			r.logHookError("OnRunCompleted", x.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, x := range r.shutdown {
		if err := x.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", x.name, err)
		}
	}
}

// logHookError logs a warning when a hook returns an error. Hook errors
// never propagate into the payment pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
