// Package engine wires the paysched subsystems together and runs the
// per-contract payment state machine.
//
// An Engine owns the idempotency guard, the adjustment aggregator, the
// retry manager, the extension registry and the per-unit middleware chain.
// ProcessContract pays one due contract for the current period;
// RetryExecution re-attempts one RETRYING execution. Both report an
// Outcome so the caller owns run counters.
//
// This package sits above every subsystem package and below the
// scheduler and the application, so subsystems never import each other
// upward.
package engine
