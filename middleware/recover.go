package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that turns a panic in the chain into an error,
// logged with its stack trace. It is the isolation boundary that keeps one
// contract from aborting the rest of a run.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, u *Unit, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("unit panicked",
					slog.String("kind", string(u.Kind)),
					slog.String("contract_id", u.ContractID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in %s %s: %v", u.Kind, u.ContractID, r)
			}
		}()
		return next(ctx)
	}
}
