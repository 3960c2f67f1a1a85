package middleware

import (
	"context"
	"time"

	"github.com/xraph/paysched/id"
)

// Kind says which scheduler loop produced a unit of work.
type Kind string

const (
	// KindContract is the processing of one due contract in a daily run.
	KindContract Kind = "contract"
	// KindRetry is the retry of one RETRYING execution in a sweep.
	KindRetry Kind = "retry"
)

// Unit describes one unit of work.
type Unit struct {
	Kind        Kind
	ContractID  id.ContractID
	ExecutionID id.ExecutionID
	PeriodRef   string
	Attempt     int

	// Timeout, when positive, is the deadline the Timeout middleware
	// applies to the unit.
	Timeout time.Duration
}

// Handler is the terminal function that performs the unit of work.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It MUST call next to
// continue the chain unless short-circuiting on error.
type Middleware func(ctx context.Context, u *Unit, next Handler) error

// Chain composes multiple middleware into one. The first middleware in the
// list is the outermost wrapper.
//
//	Chain(logging, recover, tracing) runs logging → recover → tracing → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, u *Unit, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, u, prev)
			}
		}
		return h(ctx)
	}
}
