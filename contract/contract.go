package contract

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/id"
	"github.com/xraph/paysched/period"
)

// Status is the lifecycle state of a contract.
type Status string

const (
	// StatusActive contracts are paid on their due date.
	StatusActive Status = "ACTIVE"
	// StatusPaused contracts are skipped until reactivated.
	StatusPaused Status = "PAUSED"
	// StatusClosed contracts are never paid again.
	StatusClosed Status = "CLOSED"
)

// Contract is a recurring payment agreement between a payer and a receiver.
type Contract struct {
	paysched.Entity

	ID              id.ContractID   `json:"id"`
	PayerWallet     string          `json:"payer_wallet"`
	ReceiverWallet  string          `json:"receiver_wallet"`
	BaseValue       decimal.Decimal `json:"base_value"`
	Currency        string          `json:"currency"`
	Cadence         period.Cadence  `json:"cadence"`
	PaymentDay      int             `json:"payment_day,omitempty"`
	NextPaymentDate time.Time       `json:"next_payment_date"`
	Status          Status          `json:"status"`
	OnChainID       string          `json:"on_chain_id,omitempty"`
}

// Eligible reports whether the contract may be paid.
func (c *Contract) Eligible() bool {
	return c.Status == StatusActive
}

// HasOnChainRef reports whether the contract is registered on the ledger's
// payment pallet.
func (c *Contract) HasOnChainRef() bool {
	return c.OnChainID != ""
}
