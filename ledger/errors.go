package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a ledger failure for retry purposes.
type Kind int

const (
	// KindUnknown is any failure that carries no more specific tag.
	KindUnknown Kind = iota
	// KindInsufficientBalance means the payer cannot cover the amount.
	KindInsufficientBalance
	// KindTransferFailed means the ledger rejected or failed the transfer.
	KindTransferFailed
	// KindTimeout means the ledger did not answer in time.
	KindTimeout
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindTransferFailed:
		return "transfer_failed"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Code returns the canonical failure reason persisted on an execution.
// KindUnknown has no code.
func (k Kind) Code() string {
	switch k {
	case KindInsufficientBalance:
		return "INSUFFICIENT_BALANCE"
	case KindTransferFailed:
		return "TRANSFER_FAILED"
	case KindTimeout:
		return "TIMEOUT"
	default:
		return ""
	}
}

// Error is a tagged ledger failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	msg := "ledger"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err,
// ErrInsufficientBalance) works regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinel kinds for errors.Is.
var (
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrTransferFailed      = &Error{Kind: KindTransferFailed}
	ErrTimeout             = &Error{Kind: KindTimeout}
)

// NewError returns an *Error of the given kind.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// InsufficientBalance reports that wallet holds less than required.
func InsufficientBalance(op string, have, want fmt.Stringer) *Error {
	return &Error{
		Kind: KindInsufficientBalance,
		Op:   op,
		Err:  fmt.Errorf("have %s, need %s", have, want),
	}
}

// KindOf classifies err. Untagged deadline errors count as timeouts.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Reason returns the failure reason persisted for err: the kind's code, or
// the error text for unknown failures.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if code := KindOf(err).Code(); code != "" {
		return code
	}
	return err.Error()
}
