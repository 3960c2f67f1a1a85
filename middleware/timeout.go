package middleware

import (
	"context"
	"log/slog"
)

// Timeout returns middleware that enforces Unit.Timeout when it is
// positive. The handler is expected to observe ctx and return
// context.DeadlineExceeded once the deadline passes.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, u *Unit, next Handler) error {
		if u.Timeout > 0 {
			logger.Debug("unit timeout set",
				slog.String("contract_id", u.ContractID.String()),
				slog.Duration("timeout", u.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, u.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
