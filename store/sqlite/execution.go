package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/execution"
	"github.com/xraph/paysched/id"
)

const executionColumns = `
	id, contract_id, period_ref, period_start, period_end,
	base_value, adjustments_total, final_value, currency,
	status, scheduled_at, executed_at, tx_hash, block_number, failure_reason,
	next_retry_at, attempt_count, adjustment_ids, created_at, updated_at`

// CreateExecution persists a new execution. A second SUCCESS or PROCESSING
// execution for the same contract and period violates the partial unique
// index and returns paysched.ErrExecutionConflict.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	adjIDs, err := encodeAdjustmentIDs(e.AdjustmentIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO paysched_executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.ContractID.String(), e.PeriodRef,
		toNanos(e.PeriodStart), toNanos(e.PeriodEnd),
		e.BaseValue.String(), e.AdjustmentsTotal.String(), e.FinalValue.String(), e.Currency,
		string(e.Status), toNanos(e.ScheduledAt), toNullNanos(e.ExecutedAt),
		e.TxHash, int64(e.BlockNumber), e.FailureReason,
		toNullNanos(e.NextRetryAt), e.AttemptCount, adjIDs,
		toNanos(e.CreatedAt), toNanos(e.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return paysched.ErrExecutionConflict
		}
		return fmt.Errorf("paysched/sqlite: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM paysched_executions WHERE id = ?`,
		execID.String(),
	)
	e, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, paysched.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("paysched/sqlite: get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution replaces an execution whose stored status is from.
func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution, from execution.Status) error {
	adjIDs, err := encodeAdjustmentIDs(e.AdjustmentIDs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE paysched_executions SET
			period_ref = ?, period_start = ?, period_end = ?,
			base_value = ?, adjustments_total = ?, final_value = ?, currency = ?,
			status = ?, scheduled_at = ?, executed_at = ?, tx_hash = ?, block_number = ?,
			failure_reason = ?, next_retry_at = ?, attempt_count = ?,
			adjustment_ids = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		e.PeriodRef, toNanos(e.PeriodStart), toNanos(e.PeriodEnd),
		e.BaseValue.String(), e.AdjustmentsTotal.String(), e.FinalValue.String(), e.Currency,
		string(e.Status), toNanos(e.ScheduledAt), toNullNanos(e.ExecutedAt), e.TxHash, int64(e.BlockNumber),
		e.FailureReason, toNullNanos(e.NextRetryAt), e.AttemptCount,
		adjIDs, toNanos(time.Now()),
		e.ID.String(), string(from),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return paysched.ErrExecutionConflict
		}
		return fmt.Errorf("paysched/sqlite: update execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("paysched/sqlite: update execution: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM paysched_executions WHERE id = ?)`,
		e.ID.String(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("paysched/sqlite: check execution: %w", err)
	}
	if !exists {
		return paysched.ErrExecutionNotFound
	}
	return paysched.ErrInvalidState
}

// FindExecution returns the most recently scheduled execution for the
// contract and period with one of the given statuses.
func (s *Store) FindExecution(ctx context.Context, contractID id.ContractID, periodRef string, statuses ...execution.Status) (*execution.Execution, error) {
	query := `SELECT ` + executionColumns + `
		FROM paysched_executions
		WHERE contract_id = ? AND period_ref = ?`
	args := []any{contractID.String(), periodRef}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY scheduled_at DESC LIMIT 1`

	e, err := scanExecution(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, paysched.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("paysched/sqlite: find execution: %w", err)
	}
	return e, nil
}

// ListDueRetries returns RETRYING executions due at now, oldest first.
func (s *Store) ListDueRetries(ctx context.Context, now time.Time, maxAttempts int) ([]*execution.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM paysched_executions
		WHERE status = 'RETRYING'
		  AND next_retry_at IS NOT NULL
		  AND next_retry_at <= ?
		  AND attempt_count <= ?
		ORDER BY next_retry_at ASC`,
		toNanos(now), maxAttempts,
	)
	if err != nil {
		return nil, fmt.Errorf("paysched/sqlite: list due retries: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// ListExecutionsByContract returns a contract's executions, newest first.
func (s *Store) ListExecutionsByContract(ctx context.Context, contractID id.ContractID) ([]*execution.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM paysched_executions
		WHERE contract_id = ?
		ORDER BY scheduled_at DESC`,
		contractID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("paysched/sqlite: list executions: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func scanExecution(row scanner) (*execution.Execution, error) {
	var (
		e                         execution.Execution
		idStr, contractStr        string
		baseStr, adjStr, finalStr string
		statusStr, adjIDs         string
		start, end, scheduled     int64
		createdAt, updatedAt      int64
		executed, nextRetry       sql.NullInt64
		block                     int64
	)
	err := row.Scan(
		&idStr, &contractStr, &e.PeriodRef, &start, &end,
		&baseStr, &adjStr, &finalStr, &e.Currency,
		&statusStr, &scheduled, &executed, &e.TxHash, &block, &e.FailureReason,
		&nextRetry, &e.AttemptCount, &adjIDs, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.ID, err = id.ParseExecutionID(idStr); err != nil {
		return nil, fmt.Errorf("paysched/sqlite: parse execution id %q: %w", idStr, err)
	}
	if e.ContractID, err = id.ParseContractID(contractStr); err != nil {
		return nil, fmt.Errorf("paysched/sqlite: parse contract id %q: %w", contractStr, err)
	}
	if e.BaseValue, err = parseDecimal(baseStr); err != nil {
		return nil, fmt.Errorf("paysched/sqlite: parse base value: %w", err)
	}
	if e.AdjustmentsTotal, err = parseDecimal(adjStr); err != nil {
		return nil, fmt.Errorf("paysched/sqlite: parse adjustments total: %w", err)
	}
	if e.FinalValue, err = parseDecimal(finalStr); err != nil {
		return nil, fmt.Errorf("paysched/sqlite: parse final value: %w", err)
	}
	if e.AdjustmentIDs, err = decodeAdjustmentIDs(adjIDs); err != nil {
		return nil, err
	}
	e.Status = execution.Status(statusStr)
	e.PeriodStart = fromNanos(start)
	e.PeriodEnd = fromNanos(end)
	e.ScheduledAt = fromNanos(scheduled)
	e.ExecutedAt = fromNullNanos(executed)
	e.NextRetryAt = fromNullNanos(nextRetry)
	e.BlockNumber = uint64(block)
	e.CreatedAt = fromNanos(createdAt)
	e.UpdatedAt = fromNanos(updatedAt)
	return &e, nil
}

func collectExecutions(rows *sql.Rows) ([]*execution.Execution, error) {
	var result []*execution.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("paysched/sqlite: scan execution row: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("paysched/sqlite: iterate execution rows: %w", err)
	}
	return result, nil
}
