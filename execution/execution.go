// Package execution defines a single attempt series at paying one contract
// for one period, its store interface and the idempotency guard that keeps
// a period from being paid twice.
package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/id"
)

// Status is the state of an execution.
type Status string

const (
	// StatusProcessing means an attempt is in flight.
	StatusProcessing Status = "PROCESSING"
	// StatusSuccess means the transfer went through. Terminal.
	StatusSuccess Status = "SUCCESS"
	// StatusSkipped means the run was a dry run. Terminal.
	StatusSkipped Status = "SKIPPED"
	// StatusRetrying means the last attempt failed and another is scheduled.
	StatusRetrying Status = "RETRYING"
	// StatusFailed means every attempt was used up. Terminal.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// ReasonDryRun is the failure reason recorded on dry-run executions.
const ReasonDryRun = "DRY_RUN"

// Execution records the payment of one contract for one period.
type Execution struct {
	paysched.Entity

	ID               id.ExecutionID    `json:"id"`
	ContractID       id.ContractID     `json:"contract_id"`
	PeriodRef        string            `json:"period_ref"`
	PeriodStart      time.Time         `json:"period_start"`
	PeriodEnd        time.Time         `json:"period_end"`
	BaseValue        decimal.Decimal   `json:"base_value"`
	AdjustmentsTotal decimal.Decimal   `json:"adjustments_total"`
	FinalValue       decimal.Decimal   `json:"final_value"`
	Currency         string            `json:"currency"`
	Status           Status            `json:"status"`
	ScheduledAt      time.Time         `json:"scheduled_at"`
	ExecutedAt       *time.Time        `json:"executed_at,omitempty"`
	TxHash           string            `json:"tx_hash,omitempty"`
	BlockNumber      uint64            `json:"block_number,omitempty"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	NextRetryAt      *time.Time        `json:"next_retry_at,omitempty"`
	AttemptCount     int               `json:"attempt_count"`
	AdjustmentIDs    []id.AdjustmentID `json:"adjustment_ids,omitempty"`
}

// Attempt returns the current attempt number, treating an unset count as
// the first attempt.
func (e *Execution) Attempt() int {
	if e.AttemptCount < 1 {
		return 1
	}
	return e.AttemptCount
}

// Clone returns a deep copy of e.
func (e *Execution) Clone() *Execution {
	cp := *e
	if e.ExecutedAt != nil {
		t := *e.ExecutedAt
		cp.ExecutedAt = &t
	}
	if e.NextRetryAt != nil {
		t := *e.NextRetryAt
		cp.NextRetryAt = &t
	}
	if e.AdjustmentIDs != nil {
		cp.AdjustmentIDs = append([]id.AdjustmentID(nil), e.AdjustmentIDs...)
	}
	return &cp
}
