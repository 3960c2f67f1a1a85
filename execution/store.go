package execution

import (
	"context"
	"time"

	"github.com/xraph/paysched/id"
)

// Store defines the persistence contract for executions.
type Store interface {
	// CreateExecution persists a new execution. Returns
	// paysched.ErrExecutionConflict if a SUCCESS or PROCESSING execution
	// already exists for the same contract and period.
	CreateExecution(ctx context.Context, e *Execution) error

	// GetExecution retrieves an execution by ID.
	GetExecution(ctx context.Context, execID id.ExecutionID) (*Execution, error)

	// UpdateExecution persists changes to an existing execution provided its
	// stored status is still from. Returns paysched.ErrInvalidState when the
	// stored status differs, so each transition is applied exactly once.
	UpdateExecution(ctx context.Context, e *Execution, from Status) error

	// FindExecution returns the most recent execution for the contract and
	// period whose status is one of statuses, or
	// paysched.ErrExecutionNotFound.
	FindExecution(ctx context.Context, contractID id.ContractID, periodRef string, statuses ...Status) (*Execution, error)

	// ListDueRetries returns RETRYING executions with NextRetryAt at or
	// before now and AttemptCount at most maxAttempts, oldest NextRetryAt
	// first.
	ListDueRetries(ctx context.Context, now time.Time, maxAttempts int) ([]*Execution, error)

	// ListExecutionsByContract returns every execution of a contract, newest
	// first.
	ListExecutionsByContract(ctx context.Context, contractID id.ContractID) ([]*Execution, error)
}
