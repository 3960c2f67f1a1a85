package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/execution"
	"github.com/xraph/paysched/ext"
	"github.com/xraph/paysched/ledger"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.PaymentSucceeded = (*MetricsExtension)(nil)
	_ ext.PaymentSkipped   = (*MetricsExtension)(nil)
	_ ext.PaymentRetrying  = (*MetricsExtension)(nil)
	_ ext.PaymentFailed    = (*MetricsExtension)(nil)
	_ ext.RunCompleted     = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/paysched/observability"

// MetricsExtension records payment lifecycle counters.
type MetricsExtension struct {
	succeeded    metric.Int64Counter
	skipped      metric.Int64Counter
	retrying     metric.Int64Counter
	failed       metric.Int64Counter
	runCompleted metric.Int64Counter
	runDuration  metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on the given
// meter. Instrument creation errors fall back to the OTel noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.succeeded, _ = meter.Int64Counter("paysched.payment.succeeded",
		metric.WithDescription("Payments settled on the ledger"), metric.WithUnit("{payment}"))
	m.skipped, _ = meter.Int64Counter("paysched.payment.skipped",
		metric.WithDescription("Payments skipped as already processed or dry run"), metric.WithUnit("{payment}"))
	m.retrying, _ = meter.Int64Counter("paysched.payment.retrying",
		metric.WithDescription("Failed attempts scheduled for retry"), metric.WithUnit("{payment}"))
	m.failed, _ = meter.Int64Counter("paysched.payment.failed",
		metric.WithDescription("Payments that used up every attempt"), metric.WithUnit("{payment}"))
	m.runCompleted, _ = meter.Int64Counter("paysched.run.completed",
		metric.WithDescription("Completed daily runs"), metric.WithUnit("{run}"))
	m.runDuration, _ = meter.Float64Histogram("paysched.run.duration",
		metric.WithDescription("Duration of daily runs in seconds"), metric.WithUnit("s"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Payment lifecycle hooks ─────────────────────────

// OnPaymentSucceeded implements ext.PaymentSucceeded.
func (m *MetricsExtension) OnPaymentSucceeded(ctx context.Context, e *execution.Execution, _ *contract.Contract, _ time.Duration) error {
	m.succeeded.Add(ctx, 1, metric.WithAttributes(attribute.String("currency", e.Currency)))
	return nil
}

// OnPaymentSkipped implements ext.PaymentSkipped.
func (m *MetricsExtension) OnPaymentSkipped(ctx context.Context, _ *execution.Execution, _ *contract.Contract, reason string) error {
	m.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	return nil
}

// OnPaymentRetrying implements ext.PaymentRetrying.
func (m *MetricsExtension) OnPaymentRetrying(ctx context.Context, _ *execution.Execution, _ *contract.Contract, cause error, _ time.Time) error {
	m.retrying.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", ledger.KindOf(cause).String())))
	return nil
}

// OnPaymentFailed implements ext.PaymentFailed.
func (m *MetricsExtension) OnPaymentFailed(ctx context.Context, _ *execution.Execution, _ *contract.Contract, cause error) error {
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", ledger.KindOf(cause).String())))
	return nil
}

// ── Run lifecycle hooks ─────────────────────────────

// OnRunCompleted implements ext.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(ctx context.Context, _ paysched.Stats, elapsed time.Duration) error {
	m.runCompleted.Add(ctx, 1)
	m.runDuration.Record(ctx, elapsed.Seconds())
	return nil
}
