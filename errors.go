package paysched

import "errors"

var (
	// Wiring errors.
	ErrNoStore       = errors.New("paysched: no store configured")
	ErrNoLedger      = errors.New("paysched: no ledger client configured")
	ErrInvalidConfig = errors.New("paysched: invalid config")

	// Not found errors.
	ErrContractNotFound   = errors.New("paysched: contract not found")
	ErrExecutionNotFound  = errors.New("paysched: execution not found")
	ErrAdjustmentNotFound = errors.New("paysched: adjustment not found")

	// Conflict errors.
	ErrContractAlreadyExists   = errors.New("paysched: contract already exists")
	ErrAdjustmentAlreadyExists = errors.New("paysched: adjustment already exists")
	ErrExecutionConflict       = errors.New("paysched: active execution already exists for period")

	// State errors.
	ErrInvalidState   = errors.New("paysched: invalid state transition")
	ErrInvalidCadence = errors.New("paysched: invalid cadence")
	ErrInvalidPeriod  = errors.New("paysched: invalid period identifier")
	ErrNotEligible    = errors.New("paysched: execution not eligible for retry")
)
