package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/adjustment"
	"github.com/xraph/paysched/id"
)

const adjustmentColumns = `
	id, contract_id, type, value::text, reference_month, status,
	execution_id, description, created_at, updated_at`

// CreateAdjustment persists a new adjustment.
func (s *Store) CreateAdjustment(ctx context.Context, a *adjustment.Adjustment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO paysched_adjustments (
			id, contract_id, type, value, reference_month, status,
			execution_id, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9, $10)`,
		a.ID.String(), a.ContractID.String(), string(a.Type), a.Value.String(),
		a.ReferenceMonth, string(a.Status), a.ExecutionID, a.Description,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return paysched.ErrAdjustmentAlreadyExists
		}
		return fmt.Errorf("paysched/postgres: create adjustment: %w", err)
	}
	return nil
}

// GetAdjustment retrieves an adjustment by ID.
func (s *Store) GetAdjustment(ctx context.Context, adjID id.AdjustmentID) (*adjustment.Adjustment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+adjustmentColumns+` FROM paysched_adjustments WHERE id = $1`,
		adjID.String(),
	)
	a, err := scanAdjustment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, paysched.ErrAdjustmentNotFound
		}
		return nil, fmt.Errorf("paysched/postgres: get adjustment: %w", err)
	}
	return a, nil
}

// ListApplicableAdjustments returns APPROVED, unlinked adjustments of the
// contract referencing [from, to), oldest first.
func (s *Store) ListApplicableAdjustments(ctx context.Context, contractID id.ContractID, from, to time.Time) ([]*adjustment.Adjustment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+adjustmentColumns+`
		FROM paysched_adjustments
		WHERE contract_id = $1
		  AND status = 'APPROVED'
		  AND execution_id IS NULL
		  AND reference_month >= $2
		  AND reference_month < $3
		ORDER BY created_at ASC`,
		contractID.String(), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("paysched/postgres: list adjustments: %w", err)
	}
	defer rows.Close()

	var result []*adjustment.Adjustment
	for rows.Next() {
		a, scanErr := scanAdjustment(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("paysched/postgres: scan adjustment row: %w", scanErr)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("paysched/postgres: iterate adjustment rows: %w", err)
	}
	return result, nil
}

// MarkAdjustmentsApplied links still-applicable adjustments to execID in a
// single statement.
func (s *Store) MarkAdjustmentsApplied(ctx context.Context, ids []id.AdjustmentID, execID id.ExecutionID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE paysched_adjustments
		SET status = 'APPLIED', execution_id = $1, updated_at = NOW()
		WHERE id = ANY($2)
		  AND status = 'APPROVED'
		  AND execution_id IS NULL`,
		execID.String(), adjustmentIDStrings(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("paysched/postgres: mark adjustments applied: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanAdjustment(row pgx.Row) (*adjustment.Adjustment, error) {
	var (
		a                          adjustment.Adjustment
		idStr, contractStr, valStr string
		typ, statusStr             string
	)
	err := row.Scan(
		&idStr, &contractStr, &typ, &valStr, &a.ReferenceMonth, &statusStr,
		&a.ExecutionID, &a.Description, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if a.ID, err = id.ParseAdjustmentID(idStr); err != nil {
		return nil, fmt.Errorf("paysched/postgres: parse adjustment id %q: %w", idStr, err)
	}
	if a.ContractID, err = id.ParseContractID(contractStr); err != nil {
		return nil, fmt.Errorf("paysched/postgres: parse contract id %q: %w", contractStr, err)
	}
	if a.Value, err = parseDecimal(valStr); err != nil {
		return nil, fmt.Errorf("paysched/postgres: parse adjustment value: %w", err)
	}
	a.Type = adjustment.Type(typ)
	a.Status = adjustment.Status(statusStr)
	return &a, nil
}
