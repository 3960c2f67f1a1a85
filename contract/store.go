package contract

import (
	"context"
	"time"

	"github.com/xraph/paysched/id"
)

// Store defines the persistence contract for contracts.
type Store interface {
	// CreateContract persists a new contract. Returns
	// paysched.ErrContractAlreadyExists if the ID is taken.
	CreateContract(ctx context.Context, c *Contract) error

	// GetContract retrieves a contract by ID.
	GetContract(ctx context.Context, contractID id.ContractID) (*Contract, error)

	// ListDueContracts returns ACTIVE contracts whose NextPaymentDate falls
	// in the half-open window [from, to).
	ListDueContracts(ctx context.Context, from, to time.Time) ([]*Contract, error)

	// UpdateNextPaymentDate sets a contract's next due date.
	UpdateNextPaymentDate(ctx context.Context, contractID id.ContractID, next time.Time) error
}
