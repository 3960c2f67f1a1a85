package store

import (
	"context"

	"github.com/xraph/paysched/adjustment"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/execution"
)

// Store is the aggregate persistence interface. A single backend implements
// every subsystem store.
type Store interface {
	contract.Store
	execution.Store
	adjustment.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
