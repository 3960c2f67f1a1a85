// Package adjustment defines one-off additions and deductions applied to a
// contract's base value for a single period, and the aggregator that nets
// them into an execution.
package adjustment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/id"
)

// Type is the direction of an adjustment.
type Type string

const (
	// TypeExtra adds to the amount owed.
	TypeExtra Type = "EXTRA"
	// TypeDiscount subtracts from the amount owed. Any type other than
	// TypeExtra subtracts.
	TypeDiscount Type = "DISCOUNT"
)

// Status is the review state of an adjustment.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusApplied  Status = "APPLIED"
)

// Adjustment is an approved-or-not change to one period's payment.
type Adjustment struct {
	paysched.Entity

	ID             id.AdjustmentID `json:"id"`
	ContractID     id.ContractID   `json:"contract_id"`
	Type           Type            `json:"type"`
	Value          decimal.Decimal `json:"value"`
	ReferenceMonth time.Time       `json:"reference_month"`
	Status         Status          `json:"status"`
	ExecutionID    id.ExecutionID  `json:"execution_id,omitzero"`
	Description    string          `json:"description,omitempty"`
}

// Signed returns the adjustment's contribution to the amount owed.
func (a *Adjustment) Signed() decimal.Decimal {
	if a.Type == TypeExtra {
		return a.Value
	}
	return a.Value.Neg()
}

// Applicable reports whether the adjustment may still be netted into an
// execution.
func (a *Adjustment) Applicable() bool {
	return a.Status == StatusApproved && a.ExecutionID.IsNil()
}
