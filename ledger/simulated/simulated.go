// Package simulated provides an in-memory ledger.Client for development and
// tests. It keeps wallet balances in base units, advances a block height on
// every settled transfer, records every call, and can be told to fail or
// stall specific calls.
package simulated

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/paysched/ledger"
)

// Method names a ledger call.
type Method string

const (
	MethodBalance          Method = "balance"
	MethodCurrentBlock     Method = "current_block"
	MethodPalletAvailable  Method = "pallet_available"
	MethodPalletPayment    Method = "pallet_payment"
	MethodFallbackTransfer Method = "fallback_transfer"
)

// Call is one recorded ledger call.
type Call struct {
	Method      Method
	Wallet      string
	ExecutionID string
	PeriodRef   string
	Value       decimal.Decimal
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithDecimals sets how many base-unit decimals one display unit has.
func WithDecimals(d int32) Option {
	return func(l *Ledger) { l.decimals = d }
}

// WithPallet sets whether the payment pallet is reported available.
func WithPallet(available bool) Option {
	return func(l *Ledger) { l.pallet = available }
}

// WithBlock sets the starting block height.
func WithBlock(height uint64) Option {
	return func(l *Ledger) { l.block = height }
}

// WithDelay makes every call wait d before answering, honoring context
// cancellation.
func WithDelay(d time.Duration) Option {
	return func(l *Ledger) { l.delay = d }
}

// Ledger is a simulated ledger. It is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	decimals int32
	pallet   bool
	block    uint64
	delay    time.Duration
	seq      uint64
	balances map[string]*big.Int
	faults   map[Method][]error
	calls    []Call
}

var _ ledger.Client = (*Ledger)(nil)

// New creates a simulated ledger with 12 decimals, block height 1 and no
// pallet.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		decimals: 12,
		block:    1,
		balances: make(map[string]*big.Int),
		faults:   make(map[Method][]error),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetBalance sets wallet's balance in base units.
func (l *Ledger) SetBalance(wallet string, base *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[wallet] = new(big.Int).Set(base)
}

// Fund sets wallet's balance in display units.
func (l *Ledger) Fund(wallet string, amount decimal.Decimal) {
	l.SetBalance(wallet, ledger.FromDisplay(amount, l.decimals))
}

// BalanceOf returns wallet's balance in display units.
func (l *Ledger) BalanceOf(wallet string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ledger.ToDisplay(l.balanceLocked(wallet), l.decimals)
}

// SetPalletAvailable toggles the payment pallet.
func (l *Ledger) SetPalletAvailable(available bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pallet = available
}

// FailNext queues err as the result of the next call to m. Queued errors
// are consumed in order.
func (l *Ledger) FailNext(m Method, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[m] = append(l.faults[m], err)
}

// Calls returns a copy of every call made so far.
func (l *Ledger) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// CallCount returns how many times m was called.
func (l *Ledger) CallCount(m Method) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c.Method == m {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and queued faults.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
	l.faults = make(map[Method][]error)
}

// ──────────────────────────────────────────────────
// ledger.Client
// ──────────────────────────────────────────────────

func (l *Ledger) Balance(ctx context.Context, wallet string) (*big.Int, error) {
	if err := l.enter(ctx, Call{Method: MethodBalance, Wallet: wallet}); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(wallet)), nil
}

func (l *Ledger) CurrentBlock(ctx context.Context) (uint64, error) {
	if err := l.enter(ctx, Call{Method: MethodCurrentBlock}); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.block, nil
}

func (l *Ledger) PalletAvailable(ctx context.Context) bool {
	if err := l.enter(ctx, Call{Method: MethodPalletAvailable}); err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pallet
}

func (l *Ledger) PalletPayment(ctx context.Context, req ledger.PalletPaymentRequest) (ledger.Receipt, error) {
	call := Call{
		Method:      MethodPalletPayment,
		Wallet:      req.ContractRef,
		ExecutionID: req.ExecutionID,
		PeriodRef:   req.PeriodRef,
		Value:       req.Value,
	}
	if err := l.enter(ctx, call); err != nil {
		return ledger.Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pallet {
		return ledger.Receipt{}, ledger.NewError(ledger.KindTransferFailed, "pallet payment",
			errors.New("payment pallet unavailable"))
	}
	return l.settleLocked(MethodPalletPayment, req.ExecutionID), nil
}

func (l *Ledger) FallbackTransfer(ctx context.Context, req ledger.TransferRequest) (ledger.Receipt, error) {
	call := Call{
		Method:      MethodFallbackTransfer,
		Wallet:      req.From,
		ExecutionID: req.ExecutionID,
		Value:       req.Value,
	}
	if err := l.enter(ctx, call); err != nil {
		return ledger.Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	amount := ledger.FromDisplay(req.Value, l.decimals)
	from := l.balanceLocked(req.From)
	if from.Cmp(amount) < 0 {
		return ledger.Receipt{}, ledger.InsufficientBalance("fallback transfer",
			ledger.ToDisplay(from, l.decimals), req.Value)
	}
	l.balances[req.From] = new(big.Int).Sub(from, amount)
	l.balances[req.To] = new(big.Int).Add(l.balanceLocked(req.To), amount)
	return l.settleLocked(MethodFallbackTransfer, req.ExecutionID), nil
}

// enter records the call, applies the configured delay and returns any
// queued fault.
func (l *Ledger) enter(ctx context.Context, c Call) error {
	l.mu.Lock()
	l.calls = append(l.calls, c)
	delay := l.delay
	var fault error
	if q := l.faults[c.Method]; len(q) > 0 {
		fault, l.faults[c.Method] = q[0], q[1:]
	}
	l.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fault
}

func (l *Ledger) balanceLocked(wallet string) *big.Int {
	if b, ok := l.balances[wallet]; ok {
		return b
	}
	return new(big.Int)
}

// settleLocked advances the chain by one block and returns a receipt with a
// deterministic pseudo hash.
func (l *Ledger) settleLocked(m Method, executionID string) ledger.Receipt {
	l.block++
	l.seq++
	h := sha256.Sum256([]byte(string(m) + "|" + executionID + "|" +
		strconv.FormatUint(l.block, 10) + "|" + strconv.FormatUint(l.seq, 10)))
	return ledger.Receipt{
		TxHash:      "0x" + hex.EncodeToString(h[:]),
		BlockNumber: l.block,
	}
}
