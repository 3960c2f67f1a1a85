package execution

import (
	"context"
	"errors"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/id"
)

// Guard detects whether a (contract, period) pair has already been paid or
// is being paid.
type Guard struct {
	store Store
}

// NewGuard returns a guard backed by s.
func NewGuard(s Store) *Guard {
	return &Guard{store: s}
}

// AlreadyProcessed reports whether a SUCCESS or PROCESSING execution exists
// for the contract and period, returning it when found.
func (g *Guard) AlreadyProcessed(ctx context.Context, contractID id.ContractID, periodRef string) (*Execution, bool, error) {
	e, err := g.store.FindExecution(ctx, contractID, periodRef, StatusSuccess, StatusProcessing)
	if errors.Is(err, paysched.ErrExecutionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}
