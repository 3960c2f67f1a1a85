package ledger

import (
	"context"
	"math/big"

	"golang.org/x/time/rate"
)

// rateLimitedClient waits on a token bucket before every call.
type rateLimitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// WithRateLimit returns a Client that waits for limiter before each call
// to next. A nil limiter returns next unchanged.
func WithRateLimit(next Client, limiter *rate.Limiter) Client {
	if limiter == nil {
		return next
	}
	return &rateLimitedClient{next: next, limiter: limiter}
}

func (c *rateLimitedClient) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return NewError(KindOf(err), op, err)
	}
	return nil
}

func (c *rateLimitedClient) Balance(ctx context.Context, wallet string) (*big.Int, error) {
	if err := c.wait(ctx, "balance"); err != nil {
		return nil, err
	}
	return c.next.Balance(ctx, wallet)
}

func (c *rateLimitedClient) CurrentBlock(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx, "current block"); err != nil {
		return 0, err
	}
	return c.next.CurrentBlock(ctx)
}

func (c *rateLimitedClient) PalletAvailable(ctx context.Context) bool {
	if err := c.wait(ctx, "pallet available"); err != nil {
		return false
	}
	return c.next.PalletAvailable(ctx)
}

func (c *rateLimitedClient) PalletPayment(ctx context.Context, req PalletPaymentRequest) (Receipt, error) {
	if err := c.wait(ctx, "pallet payment"); err != nil {
		return Receipt{}, err
	}
	return c.next.PalletPayment(ctx, req)
}

func (c *rateLimitedClient) FallbackTransfer(ctx context.Context, req TransferRequest) (Receipt, error) {
	if err := c.wait(ctx, "fallback transfer"); err != nil {
		return Receipt{}, err
	}
	return c.next.FallbackTransfer(ctx, req)
}
