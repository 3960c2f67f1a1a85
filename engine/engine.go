package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/adjustment"
	"github.com/xraph/paysched/backoff"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/execution"
	"github.com/xraph/paysched/ext"
	"github.com/xraph/paysched/id"
	"github.com/xraph/paysched/ledger"
	mw "github.com/xraph/paysched/middleware"
	"github.com/xraph/paysched/observability"
	"github.com/xraph/paysched/period"
	"github.com/xraph/paysched/retry"
	"github.com/xraph/paysched/store"
)

const instrumentationName = "github.com/xraph/paysched"

// persistTimeout bounds state writes made after a unit's context has ended.
const persistTimeout = 10 * time.Second

// ReasonAlreadyProcessed is reported when the period already has a
// SUCCESS or PROCESSING execution.
const ReasonAlreadyProcessed = "ALREADY_PROCESSED"

// Outcome is what one unit of work ended as.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeRetrying Outcome = "retrying"
	OutcomeFailed   Outcome = "failed"
)

// Result reports the outcome of ProcessContract or RetryExecution.
type Result struct {
	Outcome Outcome

	// Execution is the execution in its persisted state. For a skip
	// caused by an existing execution it is that execution, or nil when
	// the conflict was detected by the store.
	Execution *execution.Execution

	// Reason is set for skipped outcomes.
	Reason string

	// Decision is set for retrying and failed outcomes.
	Decision *retry.Decision
}

// Engine runs payments against a store and a ledger client.
type Engine struct {
	store      store.Store
	ledger     ledger.Client
	config     paysched.Config
	extensions *ext.Registry
	retry      *retry.Manager
	guard      *execution.Guard
	aggregator *adjustment.Aggregator
	chain      mw.Middleware
	logger     *slog.Logger

	exts     []ext.Extension
	mws      []mw.Middleware
	backoffs map[ledger.Kind]backoff.Strategy

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(cfg paysched.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the logger used by the engine and its subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware appends middleware to the per-unit chain, inside the
// built-in stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff overrides the retry delay used after failures of the given
// kind.
func WithBackoff(kind ledger.Kind, s backoff.Strategy) Option {
	return func(eng *Engine) { eng.backoffs[kind] = s }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for both the metrics
// middleware and the observability extension. If not set, the global
// otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine. The ledger client is wrapped with
// ledger.WithTimeout using Config.LedgerTimeout.
func New(st store.Store, client ledger.Client, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, paysched.ErrNoStore
	}
	if client == nil {
		return nil, paysched.ErrNoLedger
	}

	eng := &Engine{
		store:    st,
		config:   paysched.DefaultConfig(),
		logger:   slog.Default(),
		backoffs: make(map[ledger.Kind]backoff.Strategy),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if err := eng.config.Validate(); err != nil {
		return nil, err
	}

	eng.ledger = ledger.WithTimeout(client, eng.config.LedgerTimeout)
	eng.extensions = ext.NewRegistry(eng.logger)

	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	retryOpts := []retry.Option{
		retry.WithMaxAttempts(eng.config.MaxAttempts),
		retry.WithExtensions(eng.extensions),
		retry.WithLogger(eng.logger),
	}
	for kind, s := range eng.backoffs {
		retryOpts = append(retryOpts, retry.WithBackoff(kind, s))
	}
	eng.retry = retry.NewManager(st, retryOpts...)
	eng.guard = execution.NewGuard(st)
	eng.aggregator = adjustment.NewAggregator(st, eng.config.Loc())
	eng.chain = eng.buildChain()

	return eng, nil
}

// buildChain assembles recover → tracing → metrics → logging → timeout,
// followed by user middleware.
func (eng *Engine) buildChain() mw.Middleware {
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	all := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}
	all = append(all, eng.mws...)
	return mw.Chain(all...)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Store returns the engine's store.
func (eng *Engine) Store() store.Store { return eng.store }

// Config returns the engine configuration.
func (eng *Engine) Config() paysched.Config { return eng.config }

// Logger returns the engine logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// RetryManager returns the retry manager.
func (eng *Engine) RetryManager() *retry.Manager { return eng.retry }

// Middleware returns the composed per-unit middleware chain.
func (eng *Engine) Middleware() mw.Middleware { return eng.chain }

// ──────────────────────────────────────────────────
// Payment state machine
// ──────────────────────────────────────────────────

// ProcessContract pays c for the period containing now.
//
// A period that already has a SUCCESS or PROCESSING execution is skipped
// without creating anything. Otherwise a PROCESSING execution carrying the
// base value plus the period's approved adjustments is created and paid;
// on success the contract's next payment date advances and the adjustments
// are marked APPLIED. Ledger failures are handed to the retry manager and
// are reported through the Result, not the error. The error is reserved
// for failures outside the state machine.
func (eng *Engine) ProcessContract(ctx context.Context, c *contract.Contract, now time.Time) (Result, error) {
	if !c.Eligible() {
		return Result{}, fmt.Errorf("%w: contract %s is %s", paysched.ErrInvalidState, c.ID, c.Status)
	}

	local := now.In(eng.config.Loc())
	periodRef := period.Identifier(local)

	existing, found, err := eng.guard.AlreadyProcessed(ctx, c.ID, periodRef)
	if err != nil {
		return Result{}, fmt.Errorf("engine: guard %s %s: %w", c.ID, periodRef, err)
	}
	if found {
		eng.logger.Info("period already processed, skipping",
			slog.String("contract_id", c.ID.String()),
			slog.String("period", periodRef),
			slog.String("existing_status", string(existing.Status)),
		)
		return Result{Outcome: OutcomeSkipped, Execution: existing, Reason: ReasonAlreadyProcessed}, nil
	}

	adj, err := eng.aggregator.Aggregate(ctx, c.ID, periodRef)
	if err != nil {
		return Result{}, err
	}

	start, end := period.Bounds(c.Cadence, local)
	e := &execution.Execution{
		Entity:           paysched.NewEntity(),
		ID:               id.NewExecutionID(),
		ContractID:       c.ID,
		PeriodRef:        periodRef,
		PeriodStart:      start,
		PeriodEnd:        end,
		BaseValue:        c.BaseValue,
		AdjustmentsTotal: adj.Total,
		FinalValue:       c.BaseValue.Add(adj.Total),
		Currency:         c.Currency,
		Status:           execution.StatusProcessing,
		ScheduledAt:      now,
		AttemptCount:     1,
		AdjustmentIDs:    adj.IDs,
	}
	if err := eng.store.CreateExecution(ctx, e); err != nil {
		if errors.Is(err, paysched.ErrExecutionConflict) {
			eng.logger.Info("period claimed concurrently, skipping",
				slog.String("contract_id", c.ID.String()),
				slog.String("period", periodRef),
			)
			return Result{Outcome: OutcomeSkipped, Reason: ReasonAlreadyProcessed}, nil
		}
		return Result{}, fmt.Errorf("engine: create execution for %s: %w", c.ID, err)
	}

	eng.logger.Info("execution created",
		slog.String("execution_id", e.ID.String()),
		slog.String("contract_id", c.ID.String()),
		slog.String("period", periodRef),
		slog.String("base_value", e.BaseValue.String()),
		slog.String("adjustments_total", e.AdjustmentsTotal.String()),
		slog.Int("adjustments", len(e.AdjustmentIDs)),
		slog.String("final_value", e.FinalValue.String()),
		slog.String("currency", e.Currency),
	)
	eng.extensions.EmitExecutionCreated(ctx, e, c)

	return eng.attempt(ctx, e, c, now)
}

// RetryExecution re-attempts a RETRYING execution whose NextRetryAt has
// passed and whose attempt count is within the cap. The execution is moved
// back to PROCESSING with a compare-and-set, so two sweeps racing on one
// execution attempt it once. Ineligible executions return
// paysched.ErrNotEligible.
func (eng *Engine) RetryExecution(ctx context.Context, e *execution.Execution, now time.Time) (Result, error) {
	if err := eng.checkRetryable(e, now); err != nil {
		return Result{}, err
	}

	c, err := eng.store.GetContract(ctx, e.ContractID)
	if err != nil {
		return Result{}, fmt.Errorf("engine: load contract for %s: %w", e.ID, err)
	}

	claimed := e.Clone()
	claimed.Status = execution.StatusProcessing
	claimed.UpdatedAt = now.UTC()
	if err := eng.store.UpdateExecution(ctx, claimed, execution.StatusRetrying); err != nil {
		switch {
		case errors.Is(err, paysched.ErrInvalidState):
			return Result{}, fmt.Errorf("%w: %s was claimed by another sweep", paysched.ErrNotEligible, e.ID)
		case errors.Is(err, paysched.ErrExecutionConflict):
			return eng.retire(ctx, e, c, now)
		}
		return Result{}, fmt.Errorf("engine: claim %s: %w", e.ID, err)
	}
	*e = *claimed

	eng.logger.Info("retrying execution",
		slog.String("execution_id", e.ID.String()),
		slog.String("contract_id", c.ID.String()),
		slog.Int("attempt", e.AttemptCount),
	)

	return eng.attempt(ctx, e, c, now)
}

// retire moves a RETRYING execution whose period was settled by another
// execution to SKIPPED, so later sweeps stop listing it.
func (eng *Engine) retire(ctx context.Context, e *execution.Execution, c *contract.Contract, now time.Time) (Result, error) {
	next := e.Clone()
	next.Status = execution.StatusSkipped
	next.FailureReason = ReasonAlreadyProcessed
	next.NextRetryAt = nil
	next.UpdatedAt = now.UTC()
	if err := eng.store.UpdateExecution(ctx, next, execution.StatusRetrying); err != nil {
		if errors.Is(err, paysched.ErrInvalidState) {
			return Result{}, fmt.Errorf("%w: %s was claimed by another sweep", paysched.ErrNotEligible, e.ID)
		}
		return Result{}, fmt.Errorf("engine: retire %s: %w", e.ID, err)
	}
	*e = *next

	eng.logger.Info("period settled by another execution, retiring retry",
		slog.String("execution_id", e.ID.String()),
		slog.String("contract_id", c.ID.String()),
		slog.String("period", e.PeriodRef),
	)
	eng.extensions.EmitPaymentSkipped(ctx, e, c, ReasonAlreadyProcessed)
	return Result{Outcome: OutcomeSkipped, Execution: e, Reason: ReasonAlreadyProcessed}, nil
}

func (eng *Engine) checkRetryable(e *execution.Execution, now time.Time) error {
	switch {
	case e.Status != execution.StatusRetrying:
		return fmt.Errorf("%w: %s is %s", paysched.ErrNotEligible, e.ID, e.Status)
	case e.NextRetryAt == nil || e.NextRetryAt.After(now):
		return fmt.Errorf("%w: %s is not due", paysched.ErrNotEligible, e.ID)
	case e.AttemptCount > eng.retry.MaxAttempts():
		return fmt.Errorf("%w: %s exhausted %d attempts", paysched.ErrNotEligible, e.ID, e.AttemptCount)
	}
	return nil
}

// attempt runs one payment attempt of a PROCESSING execution.
func (eng *Engine) attempt(ctx context.Context, e *execution.Execution, c *contract.Contract, now time.Time) (Result, error) {
	if eng.config.DryRun {
		return eng.skip(ctx, e, c, execution.ReasonDryRun, now)
	}

	started := time.Now()
	receipt, err := eng.pay(ctx, e, c)
	elapsed := time.Since(started)
	if err != nil {
		return eng.fail(ctx, e, c, err, now)
	}
	return eng.succeed(ctx, e, c, receipt, now, elapsed)
}

// pay checks the payer's balance and moves e.FinalValue, preferring the
// payment pallet for contracts registered on it.
func (eng *Engine) pay(ctx context.Context, e *execution.Execution, c *contract.Contract) (ledger.Receipt, error) {
	raw, err := eng.ledger.Balance(ctx, c.PayerWallet)
	if err != nil {
		return ledger.Receipt{}, err
	}
	balance := ledger.ToDisplay(raw, eng.config.UnitDecimals)
	if balance.LessThan(e.FinalValue) {
		return ledger.Receipt{}, ledger.InsufficientBalance("balance", balance, e.FinalValue)
	}

	if c.HasOnChainRef() && eng.ledger.PalletAvailable(ctx) {
		return eng.ledger.PalletPayment(ctx, ledger.PalletPaymentRequest{
			ContractRef: c.OnChainID,
			ExecutionID: e.ID.String(),
			PeriodRef:   e.PeriodRef,
			Value:       e.FinalValue,
		})
	}
	receipt, err := eng.ledger.FallbackTransfer(ctx, ledger.TransferRequest{
		From:        c.PayerWallet,
		To:          c.ReceiverWallet,
		Value:       e.FinalValue,
		ExecutionID: e.ID.String(),
	})
	if err != nil {
		return ledger.Receipt{}, err
	}

	// The transfer has settled; a failed height lookup keeps the receipt's.
	height, err := eng.ledger.CurrentBlock(ctx)
	if err != nil {
		eng.logger.Warn("failed to read current block after transfer",
			slog.String("execution_id", e.ID.String()),
			slog.String("tx_hash", receipt.TxHash),
			slog.String("error", err.Error()),
		)
		return receipt, nil
	}
	receipt.BlockNumber = height
	return receipt, nil
}

// persistContext returns a context for recording the outcome of a unit. It
// is not cancelled with ctx and expires after persistTimeout.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (eng *Engine) skip(ctx context.Context, e *execution.Execution, c *contract.Contract, reason string, now time.Time) (Result, error) {
	ctx, cancel := persistContext(ctx)
	defer cancel()

	next := e.Clone()
	next.Status = execution.StatusSkipped
	next.FailureReason = reason
	next.NextRetryAt = nil
	next.UpdatedAt = now.UTC()
	if err := eng.store.UpdateExecution(ctx, next, execution.StatusProcessing); err != nil {
		return Result{}, fmt.Errorf("engine: skip %s: %w", e.ID, err)
	}
	*e = *next

	eng.logger.Info("execution skipped",
		slog.String("execution_id", e.ID.String()),
		slog.String("contract_id", c.ID.String()),
		slog.String("reason", reason),
	)
	eng.extensions.EmitPaymentSkipped(ctx, e, c, reason)
	return Result{Outcome: OutcomeSkipped, Execution: e, Reason: reason}, nil
}

func (eng *Engine) fail(ctx context.Context, e *execution.Execution, c *contract.Contract, cause error, now time.Time) (Result, error) {
	ctx, cancel := persistContext(ctx)
	defer cancel()

	d, err := eng.retry.Handle(ctx, e, c, cause, now)
	if err != nil {
		return Result{}, fmt.Errorf("engine: record failure of %s: %w", e.ID, err)
	}
	outcome := OutcomeRetrying
	if d.Terminal {
		outcome = OutcomeFailed
	}
	return Result{Outcome: outcome, Execution: e, Decision: &d}, nil
}

// succeed records the receipt, advances the contract and consumes the
// execution's adjustments. Once the SUCCESS row is written the payment is
// final; later bookkeeping failures are logged, not returned.
func (eng *Engine) succeed(ctx context.Context, e *execution.Execution, c *contract.Contract, receipt ledger.Receipt, now time.Time, elapsed time.Duration) (Result, error) {
	ctx, cancel := persistContext(ctx)
	defer cancel()

	executedAt := now
	next := e.Clone()
	next.Status = execution.StatusSuccess
	next.ExecutedAt = &executedAt
	next.TxHash = receipt.TxHash
	next.BlockNumber = receipt.BlockNumber
	next.FailureReason = ""
	next.NextRetryAt = nil
	next.UpdatedAt = now.UTC()
	if err := eng.store.UpdateExecution(ctx, next, execution.StatusProcessing); err != nil {
		eng.logger.Error("payment settled but execution update failed",
			slog.String("execution_id", e.ID.String()),
			slog.String("tx_hash", receipt.TxHash),
			slog.String("error", err.Error()),
		)
		return Result{}, fmt.Errorf("engine: record success of %s: %w", e.ID, err)
	}
	*e = *next

	due := period.NextDueDate(c.NextPaymentDate, c.Cadence, c.PaymentDay)
	if err := eng.store.UpdateNextPaymentDate(ctx, c.ID, due); err != nil {
		eng.logger.Error("failed to advance next payment date",
			slog.String("contract_id", c.ID.String()),
			slog.Time("next_payment_date", due),
			slog.String("error", err.Error()),
		)
	} else {
		c.NextPaymentDate = due
	}

	if n, err := eng.aggregator.Commit(ctx, e.AdjustmentIDs, e.ID); err != nil {
		eng.logger.Error("failed to mark adjustments applied",
			slog.String("execution_id", e.ID.String()),
			slog.String("error", err.Error()),
		)
	} else if n != len(e.AdjustmentIDs) {
		eng.logger.Warn("some adjustments were no longer applicable",
			slog.String("execution_id", e.ID.String()),
			slog.Int("expected", len(e.AdjustmentIDs)),
			slog.Int("applied", n),
		)
	}

	eng.logger.Info("payment succeeded",
		slog.String("execution_id", e.ID.String()),
		slog.String("contract_id", c.ID.String()),
		slog.String("final_value", e.FinalValue.String()),
		slog.String("tx_hash", e.TxHash),
		slog.Uint64("block_number", e.BlockNumber),
		slog.Time("next_payment_date", c.NextPaymentDate),
	)
	eng.extensions.EmitPaymentSucceeded(ctx, e, c, elapsed)
	return Result{Outcome: OutcomeSuccess, Execution: e}, nil
}
