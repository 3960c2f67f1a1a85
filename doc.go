// Package paysched provides a scheduling, idempotency and retry engine for
// recurring contractual payments.
//
// For every ACTIVE contract due on a calendar day, paysched computes the
// amount owed (base value plus approved adjustments for the period), checks
// the payer's balance, executes a transfer through a ledger client, records
// the outcome as an Execution and advances the contract's next due date.
// Failed executions are retried with a bounded number of attempts.
//
// paysched is designed as a library. Import it, configure a store and a
// ledger client, and start a scheduler.
//
// # Quick Start
//
//	eng, err := engine.New(pgStore, ledgerClient,
//	    engine.WithConfig(paysched.DefaultConfig()),
//	)
//	sched, err := scheduler.New(eng)
//	if err := sched.Start(ctx); err != nil { ... }
//	defer sched.Stop(ctx)
//
// # Architecture
//
// paysched follows a composable store pattern where each subsystem
// (contract, execution, adjustment, lease) defines its own store interface.
// A single backend implements all of them.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package paysched
