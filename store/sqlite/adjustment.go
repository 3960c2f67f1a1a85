package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/adjustment"
	"github.com/xraph/paysched/id"
)

const adjustmentColumns = `
	id, contract_id, type, value, reference_month, status,
	execution_id, description, created_at, updated_at`

// CreateAdjustment persists a new adjustment.
func (s *Store) CreateAdjustment(ctx context.Context, a *adjustment.Adjustment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paysched_adjustments (`+adjustmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.ContractID.String(), string(a.Type), a.Value.String(),
		toNanos(a.ReferenceMonth), string(a.Status), a.ExecutionID, a.Description,
		toNanos(a.CreatedAt), toNanos(a.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return paysched.ErrAdjustmentAlreadyExists
		}
		return fmt.Errorf("paysched/sqlite: create adjustment: %w", err)
	}
	return nil
}

// GetAdjustment retrieves an adjustment by ID.
func (s *Store) GetAdjustment(ctx context.Context, adjID id.AdjustmentID) (*adjustment.Adjustment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+adjustmentColumns+` FROM paysched_adjustments WHERE id = ?`,
		adjID.String(),
	)
	a, err := scanAdjustment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, paysched.ErrAdjustmentNotFound
		}
		return nil, fmt.Errorf("paysched/sqlite: get adjustment: %w", err)
	}
	return a, nil
}

// ListApplicableAdjustments returns APPROVED, unlinked adjustments of the
// contract referencing [from, to), oldest first.
func (s *Store) ListApplicableAdjustments(ctx context.Context, contractID id.ContractID, from, to time.Time) ([]*adjustment.Adjustment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+adjustmentColumns+`
		FROM paysched_adjustments
		WHERE contract_id = ?
		  AND status = 'APPROVED'
		  AND execution_id IS NULL
		  AND reference_month >= ?
		  AND reference_month < ?
		ORDER BY created_at ASC`,
		contractID.String(), toNanos(from), toNanos(to),
	)
	if err != nil {
		return nil, fmt.Errorf("paysched/sqlite: list adjustments: %w", err)
	}
	defer rows.Close()

	var result []*adjustment.Adjustment
	for rows.Next() {
		a, scanErr := scanAdjustment(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("paysched/sqlite: scan adjustment row: %w", scanErr)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("paysched/sqlite: iterate adjustment rows: %w", err)
	}
	return result, nil
}

// MarkAdjustmentsApplied links still-applicable adjustments to execID in a
// single statement.
func (s *Store) MarkAdjustmentsApplied(ctx context.Context, ids []id.AdjustmentID, execID id.ExecutionID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, execID.String(), toNanos(time.Now()))
	for i, adjID := range ids {
		placeholders[i] = "?"
		args = append(args, adjID.String())
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE paysched_adjustments
		SET status = 'APPLIED', execution_id = ?, updated_at = ?
		WHERE status = 'APPROVED'
		  AND execution_id IS NULL
		  AND id IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("paysched/sqlite: mark adjustments applied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("paysched/sqlite: mark adjustments applied: %w", err)
	}
	return int(n), nil
}

func scanAdjustment(row scanner) (*adjustment.Adjustment, error) {
	var (
		a                          adjustment.Adjustment
		idStr, contractStr, valStr string
		typ, statusStr             string
		ref, createdAt, updatedAt  int64
	)
	err := row.Scan(
		&idStr, &contractStr, &typ, &valStr, &ref, &statusStr,
		&a.ExecutionID, &a.Description, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if a.ID, err = id.ParseAdjustmentID(idStr); err != nil {
		return nil, fmt.Errorf("paysched/sqlite: parse adjustment id %q: %w", idStr, err)
	}
	if a.ContractID, err = id.ParseContractID(contractStr); err != nil {
		return nil, fmt.Errorf("paysched/sqlite: parse contract id %q: %w", contractStr, err)
	}
	if a.Value, err = parseDecimal(valStr); err != nil {
		return nil, fmt.Errorf("paysched/sqlite: parse adjustment value: %w", err)
	}
	a.Type = adjustment.Type(typ)
	a.Status = adjustment.Status(statusStr)
	a.ReferenceMonth = fromNanos(ref)
	a.CreatedAt = fromNanos(createdAt)
	a.UpdatedAt = fromNanos(updatedAt)
	return &a, nil
}
