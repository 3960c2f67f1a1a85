// Package retry decides what happens to an execution after a failed
// attempt: schedule another attempt after a backoff chosen by failure kind,
// or mark it FAILED once every attempt is used up.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/backoff"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/execution"
	"github.com/xraph/paysched/ext"
	"github.com/xraph/paysched/ledger"
)

// DefaultMaxAttempts is the total number of attempts an execution gets.
const DefaultMaxAttempts = 3

// Decision is the outcome of one failed attempt.
type Decision struct {
	Kind     ledger.Kind
	Reason   string
	Attempt  int
	Terminal bool

	// Delay and NextRetryAt are zero for terminal decisions.
	Delay       time.Duration
	NextRetryAt time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxAttempts sets the total number of attempts. Values below 1 are
// ignored.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.maxAttempts = n
		}
	}
}

// WithBackoff sets the strategy used after failures of the given kind.
func WithBackoff(kind ledger.Kind, s backoff.Strategy) Option {
	return func(m *Manager) { m.strategies[kind] = s }
}

// WithExtensions sets the registry notified of retry and failure decisions.
func WithExtensions(r *ext.Registry) Option {
	return func(m *Manager) { m.extensions = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager classifies failures and persists retry decisions.
type Manager struct {
	store       execution.Store
	extensions  *ext.Registry
	strategies  map[ledger.Kind]backoff.Strategy
	maxAttempts int
	logger      *slog.Logger
}

// NewManager creates a Manager persisting decisions to s. Insufficient
// balance backs off for 24 hours; every other kind for one hour.
func NewManager(s execution.Store, opts ...Option) *Manager {
	m := &Manager{
		store: s,
		strategies: map[ledger.Kind]backoff.Strategy{
			ledger.KindInsufficientBalance: backoff.InsufficientFunds(),
			ledger.KindTransferFailed:      backoff.Technical(),
			ledger.KindTimeout:             backoff.Technical(),
			ledger.KindUnknown:             backoff.Technical(),
		},
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.extensions == nil {
		m.extensions = ext.NewRegistry(m.logger)
	}
	return m
}

// MaxAttempts returns the configured attempt cap.
func (m *Manager) MaxAttempts() int { return m.maxAttempts }

// Decide returns the decision for a failure of the given kind on attempt.
// It has no side effects.
func (m *Manager) Decide(kind ledger.Kind, reason string, attempt int, now time.Time) Decision {
	if attempt < 1 {
		attempt = 1
	}
	d := Decision{Kind: kind, Reason: reason, Attempt: attempt}
	if attempt >= m.maxAttempts {
		d.Terminal = true
		return d
	}

	s, ok := m.strategies[kind]
	if !ok {
		s = m.strategies[ledger.KindUnknown]
	}
	d.Delay = s.Delay(attempt)
	d.NextRetryAt = now.Add(d.Delay)
	return d
}

// Handle records the failed attempt of e. e must be PROCESSING; the
// transition to RETRYING or FAILED is persisted with a compare-and-set on
// that status, so a second call for the same failure returns
// paysched.ErrInvalidState and changes nothing. On success e reflects the
// persisted state.
func (m *Manager) Handle(ctx context.Context, e *execution.Execution, c *contract.Contract, cause error, now time.Time) (Decision, error) {
	if e.Status != execution.StatusProcessing {
		return Decision{}, fmt.Errorf("%w: %s is %s, not %s",
			paysched.ErrInvalidState, e.ID, e.Status, execution.StatusProcessing)
	}

	d := m.Decide(ledger.KindOf(cause), ledger.Reason(cause), e.Attempt(), now)

	next := e.Clone()
	next.FailureReason = d.Reason
	next.UpdatedAt = now.UTC()
	if d.Terminal {
		next.Status = execution.StatusFailed
		next.AttemptCount = d.Attempt
		next.NextRetryAt = nil
	} else {
		retryAt := d.NextRetryAt
		next.Status = execution.StatusRetrying
		next.AttemptCount = d.Attempt + 1
		next.NextRetryAt = &retryAt
	}

	if err := m.store.UpdateExecution(ctx, next, execution.StatusProcessing); err != nil {
		if !errors.Is(err, paysched.ErrInvalidState) {
			m.logger.Error("failed to persist retry decision",
				slog.String("execution_id", e.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return Decision{}, err
	}
	*e = *next

	if d.Terminal {
		m.extensions.EmitPaymentFailed(ctx, e, c, cause)
		m.logger.Warn("payment failed after exhausting attempts",
			slog.String("execution_id", e.ID.String()),
			slog.String("contract_id", e.ContractID.String()),
			slog.Int("attempts", d.Attempt),
			slog.String("reason", d.Reason),
		)
		return d, nil
	}

	m.extensions.EmitPaymentRetrying(ctx, e, c, cause, d.NextRetryAt)
	m.logger.Warn("payment scheduled for retry",
		slog.String("execution_id", e.ID.String()),
		slog.String("contract_id", e.ContractID.String()),
		slog.Int("attempt", d.Attempt),
		slog.Int("max_attempts", m.maxAttempts),
		slog.Duration("delay", d.Delay),
		slog.String("reason", d.Reason),
	)
	return d, nil
}
