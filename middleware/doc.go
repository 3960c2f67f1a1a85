// Package middleware provides composable middleware for scheduler work.
//
// A [Middleware] is a function that wraps the handling of one [Unit]: a
// due contract in a daily run or a RETRYING execution in a retry sweep.
// Middleware are composed with [Chain] and applied right-to-left: the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs the unit, its duration and its outcome
//   - [Recover]: converts a panic into an error so the rest of the batch runs
//   - [Timeout]: cancels the unit's context after Unit.Timeout
//   - [Tracing]: wraps the unit in an OpenTelemetry span
//   - [Metrics]: records per-unit duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, u *middleware.Unit, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
package middleware
