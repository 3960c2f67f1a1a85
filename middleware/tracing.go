package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/paysched"

// Tracing returns middleware that wraps each unit in an OpenTelemetry span
// using the global TracerProvider.
//
// Span attributes: paysched.unit.kind, paysched.contract.id,
// paysched.execution.id, paysched.period, paysched.attempt.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, u *Unit, next Handler) error {
		ctx, span := tracer.Start(ctx, "paysched.unit.process",
			trace.WithAttributes(
				attribute.String("paysched.unit.kind", string(u.Kind)),
				attribute.String("paysched.contract.id", u.ContractID.String()),
				attribute.String("paysched.execution.id", u.ExecutionID.String()),
				attribute.String("paysched.period", u.PeriodRef),
				attribute.Int("paysched.attempt", u.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
