// Package ledger defines the boundary between the payment engine and the
// chain or ledger that moves funds.
//
// A Client reports balances in the ledger's smallest unit and executes
// transfers either through the on-chain payment pallet, when the contract is
// registered there, or through a plain fallback transfer. Failures are
// reported as *Error values tagged with a Kind the retry manager classifies.
package ledger

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// Receipt identifies a settled transfer.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// PalletPaymentRequest asks the payment pallet to pay a registered contract.
type PalletPaymentRequest struct {
	ContractRef string
	ExecutionID string
	PeriodRef   string
	Value       decimal.Decimal
}

// TransferRequest asks the ledger to move funds between two wallets.
type TransferRequest struct {
	From        string
	To          string
	Value       decimal.Decimal
	ExecutionID string
}

// Client is the ledger the engine pays through.
type Client interface {
	// Balance returns the free balance of wallet in base units.
	Balance(ctx context.Context, wallet string) (*big.Int, error)

	// CurrentBlock returns the latest block height. The engine stamps it
	// on fallback transfer receipts.
	CurrentBlock(ctx context.Context) (uint64, error)

	// PalletAvailable reports whether the on-chain payment pallet can be
	// used.
	PalletAvailable(ctx context.Context) bool

	// PalletPayment executes a contract payment through the pallet.
	PalletPayment(ctx context.Context, req PalletPaymentRequest) (Receipt, error)

	// FallbackTransfer executes a plain transfer.
	FallbackTransfer(ctx context.Context, req TransferRequest) (Receipt, error)
}

// ToDisplay converts an amount in base units to display units, where one
// display unit is 10^decimals base units.
func ToDisplay(base *big.Int, decimals int32) decimal.Decimal {
	if base == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(base, -decimals)
}

// FromDisplay converts a display amount to base units, truncating any
// fraction smaller than one base unit.
func FromDisplay(value decimal.Decimal, decimals int32) *big.Int {
	return value.Shift(decimals).Truncate(0).BigInt()
}
