package adjustment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/paysched/id"
	"github.com/xraph/paysched/period"
)

// Result is the net of the adjustments that apply to one period.
type Result struct {
	Total decimal.Decimal
	IDs   []id.AdjustmentID
}

// Aggregator nets approved adjustments for a contract and period.
type Aggregator struct {
	store Store
	loc   *time.Location
}

// NewAggregator returns an aggregator that resolves period identifiers in
// loc. A nil loc means time.Local.
func NewAggregator(s Store, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{store: s, loc: loc}
}

// Aggregate sums every applicable adjustment of the contract whose reference
// month is the period's calendar month. EXTRA counts positive, every other
// type negative. It does not modify any adjustment.
func (a *Aggregator) Aggregate(ctx context.Context, contractID id.ContractID, periodRef string) (Result, error) {
	from, to, err := period.MonthRange(periodRef, a.loc)
	if err != nil {
		return Result{}, err
	}

	adjs, err := a.store.ListApplicableAdjustments(ctx, contractID, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("adjustment: list for %s %s: %w", contractID, periodRef, err)
	}

	res := Result{Total: decimal.Zero}
	for _, adj := range adjs {
		if !adj.Applicable() {
			continue
		}
		res.Total = res.Total.Add(adj.Signed())
		res.IDs = append(res.IDs, adj.ID)
	}
	return res, nil
}

// Commit marks the adjustments APPLIED and links them to the execution.
func (a *Aggregator) Commit(ctx context.Context, ids []id.AdjustmentID, execID id.ExecutionID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := a.store.MarkAdjustmentsApplied(ctx, ids, execID)
	if err != nil {
		return 0, fmt.Errorf("adjustment: mark applied for %s: %w", execID, err)
	}
	return n, nil
}
