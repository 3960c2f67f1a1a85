package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// timeoutClient bounds every call of the wrapped client.
type timeoutClient struct {
	next Client
	d    time.Duration
}

// WithTimeout returns a Client that bounds every call to next by d. A call
// that does not complete in time fails with KindTimeout, even when next
// ignores its context. A non-positive d returns next unchanged.
func WithTimeout(next Client, d time.Duration) Client {
	if d <= 0 {
		return next
	}
	return &timeoutClient{next: next, d: d}
}

type result[T any] struct {
	v        T
	err      error
	panicked any
}

func bounded[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result[T]{panicked: p}
			}
		}()
		v, err := fn(ctx)
		done <- result[T]{v: v, err: err}
	}()

	select {
	case r := <-done:
		// Re-raise on the caller's goroutine so its recover sees it.
		if r.panicked != nil {
			panic(r.panicked)
		}
		var le *Error
		if r.err != nil && !errors.As(r.err, &le) && errors.Is(r.err, context.DeadlineExceeded) {
			r.err = NewError(KindTimeout, op, r.err)
		}
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, NewError(KindTimeout, op, ctx.Err())
		}
		return zero, ctx.Err()
	}
}

func (c *timeoutClient) Balance(ctx context.Context, wallet string) (*big.Int, error) {
	return bounded(ctx, c.d, "balance", func(ctx context.Context) (*big.Int, error) {
		return c.next.Balance(ctx, wallet)
	})
}

func (c *timeoutClient) CurrentBlock(ctx context.Context) (uint64, error) {
	return bounded(ctx, c.d, "current block", func(ctx context.Context) (uint64, error) {
		return c.next.CurrentBlock(ctx)
	})
}

// PalletAvailable reports false when the probe does not answer in time.
func (c *timeoutClient) PalletAvailable(ctx context.Context) bool {
	ok, err := bounded(ctx, c.d, "pallet available", func(ctx context.Context) (bool, error) {
		return c.next.PalletAvailable(ctx), nil
	})
	return err == nil && ok
}

func (c *timeoutClient) PalletPayment(ctx context.Context, req PalletPaymentRequest) (Receipt, error) {
	return bounded(ctx, c.d, "pallet payment", func(ctx context.Context) (Receipt, error) {
		return c.next.PalletPayment(ctx, req)
	})
}

func (c *timeoutClient) FallbackTransfer(ctx context.Context, req TransferRequest) (Receipt, error) {
	return bounded(ctx, c.d, "fallback transfer", func(ctx context.Context) (Receipt, error) {
		return c.next.FallbackTransfer(ctx, req)
	})
}
