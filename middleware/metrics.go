package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/xraph/paysched"

// Metrics returns middleware that records per-unit metrics on the global
// MeterProvider.
//
// Instruments:
//   - paysched.unit.duration (Float64Histogram): seconds, by kind and status
//   - paysched.unit.processed (Int64Counter): units, by kind and status
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors leave noop instruments in place.
	duration, _ := meter.Float64Histogram(
		"paysched.unit.duration",
		metric.WithDescription("Duration of a contract or retry unit in seconds"),
		metric.WithUnit("s"),
	)
	processed, _ := meter.Int64Counter(
		"paysched.unit.processed",
		metric.WithDescription("Contract and retry units processed"),
		metric.WithUnit("{unit}"),
	)

	return func(ctx context.Context, u *Unit, next Handler) error {
		start := time.Now()
		err := next(ctx)

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("kind", string(u.Kind)),
			attribute.String("status", status),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		processed.Add(ctx, 1, attrs)
		return err
	}
}
