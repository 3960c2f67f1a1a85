package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs the start and outcome of each unit.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, u *Unit, next Handler) error {
		logger.Debug("unit started",
			slog.String("kind", string(u.Kind)),
			slog.String("contract_id", u.ContractID.String()),
			slog.String("execution_id", u.ExecutionID.String()),
			slog.Int("attempt", u.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("unit failed",
				slog.String("kind", string(u.Kind)),
				slog.String("contract_id", u.ContractID.String()),
				slog.String("execution_id", u.ExecutionID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("unit completed",
				slog.String("kind", string(u.Kind)),
				slog.String("contract_id", u.ContractID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
