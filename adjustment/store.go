package adjustment

import (
	"context"
	"time"

	"github.com/xraph/paysched/id"
)

// Store defines the persistence contract for adjustments.
type Store interface {
	// CreateAdjustment persists a new adjustment.
	CreateAdjustment(ctx context.Context, a *Adjustment) error

	// GetAdjustment retrieves an adjustment by ID.
	GetAdjustment(ctx context.Context, adjID id.AdjustmentID) (*Adjustment, error)

	// ListApplicableAdjustments returns APPROVED, unlinked adjustments of the
	// contract whose ReferenceMonth falls in [from, to).
	ListApplicableAdjustments(ctx context.Context, contractID id.ContractID, from, to time.Time) ([]*Adjustment, error)

	// MarkAdjustmentsApplied moves the given adjustments to APPLIED and links
	// them to execID. Adjustments that are no longer APPROVED and unlinked
	// are left untouched. Returns the number of adjustments updated.
	MarkAdjustmentsApplied(ctx context.Context, ids []id.AdjustmentID, execID id.ExecutionID) (int, error)
}
