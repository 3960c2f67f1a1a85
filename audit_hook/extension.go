package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/execution"
	"github.com/xraph/paysched/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Extension)(nil)
	_ ext.ExecutionCreated = (*Extension)(nil)
	_ ext.PaymentSucceeded = (*Extension)(nil)
	_ ext.PaymentSkipped   = (*Extension)(nil)
	_ ext.PaymentRetrying  = (*Extension)(nil)
	_ ext.PaymentFailed    = (*Extension)(nil)
	_ ext.RunCompleted     = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Extension bridges payment lifecycle events to an audit trail backend.
// A failing Recorder is logged and never fails the payment.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Payment lifecycle hooks ─────────────────────────

// OnExecutionCreated implements ext.ExecutionCreated.
func (e *Extension) OnExecutionCreated(ctx context.Context, ex *execution.Execution, c *contract.Contract) error {
	return e.record(ctx, ActionExecutionCreated, SeverityInfo, OutcomeSuccess,
		ResourceExecution, ex.ID.String(), CategoryPayment, nil,
		paymentMeta(ex, c)...,
	)
}

// OnPaymentSucceeded implements ext.PaymentSucceeded.
func (e *Extension) OnPaymentSucceeded(ctx context.Context, ex *execution.Execution, c *contract.Contract, elapsed time.Duration) error {
	return e.record(ctx, ActionPaymentSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceExecution, ex.ID.String(), CategoryPayment, nil,
		append(paymentMeta(ex, c),
			"tx_hash", ex.TxHash,
			"block_number", ex.BlockNumber,
			"elapsed_ms", elapsed.Milliseconds(),
		)...,
	)
}

// OnPaymentSkipped implements ext.PaymentSkipped.
func (e *Extension) OnPaymentSkipped(ctx context.Context, ex *execution.Execution, c *contract.Contract, reason string) error {
	return e.record(ctx, ActionPaymentSkipped, SeverityInfo, OutcomeSkipped,
		ResourceExecution, ex.ID.String(), CategoryPayment, nil,
		append(paymentMeta(ex, c), "skip_reason", reason)...,
	)
}

// OnPaymentRetrying implements ext.PaymentRetrying.
func (e *Extension) OnPaymentRetrying(ctx context.Context, ex *execution.Execution, c *contract.Contract, cause error, nextRetryAt time.Time) error {
	return e.record(ctx, ActionPaymentRetrying, SeverityWarning, OutcomeFailure,
		ResourceExecution, ex.ID.String(), CategoryPayment, cause,
		append(paymentMeta(ex, c),
			"attempt", ex.AttemptCount,
			"next_retry_at", nextRetryAt.Format(time.RFC3339),
		)...,
	)
}

// OnPaymentFailed implements ext.PaymentFailed.
func (e *Extension) OnPaymentFailed(ctx context.Context, ex *execution.Execution, c *contract.Contract, cause error) error {
	return e.record(ctx, ActionPaymentFailed, SeverityCritical, OutcomeFailure,
		ResourceExecution, ex.ID.String(), CategoryPayment, cause,
		append(paymentMeta(ex, c), "attempt", ex.AttemptCount)...,
	)
}

// ── Run lifecycle hooks ─────────────────────────────

// OnRunCompleted implements ext.RunCompleted.
func (e *Extension) OnRunCompleted(ctx context.Context, stats paysched.Stats, elapsed time.Duration) error {
	outcome := OutcomeSuccess
	if stats.Failed > 0 {
		outcome = OutcomeFailure
	}
	var runID string
	if stats.LastDailyRun != nil {
		runID = stats.LastDailyRun.Format(time.RFC3339)
	}
	return e.record(ctx, ActionRunCompleted, SeverityInfo, outcome,
		ResourceRun, runID, CategoryRun, nil,
		"checked", stats.Checked,
		"processed", stats.Processed,
		"success", stats.Success,
		"failed", stats.Failed,
		"retrying", stats.Retrying,
		"skipped", stats.Skipped,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ── Internal helpers ────────────────────────────────

func paymentMeta(ex *execution.Execution, c *contract.Contract) []any {
	return []any{
		"contract_id", c.ID.String(),
		"period", ex.PeriodRef,
		"final_value", ex.FinalValue.String(),
		"currency", ex.Currency,
		"status", string(ex.Status),
	}
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
