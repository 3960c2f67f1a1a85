package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/execution"
	"github.com/xraph/paysched/id"
)

const executionColumns = `
	id, contract_id, period_ref, period_start, period_end,
	base_value::text, adjustments_total::text, final_value::text, currency,
	status, scheduled_at, executed_at, tx_hash, block_number, failure_reason,
	next_retry_at, attempt_count, adjustment_ids, created_at, updated_at`

// CreateExecution persists a new execution. A second SUCCESS or PROCESSING
// execution for the same contract and period violates the partial unique
// index and returns paysched.ErrExecutionConflict.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO paysched_executions (
			id, contract_id, period_ref, period_start, period_end,
			base_value, adjustments_total, final_value, currency,
			status, scheduled_at, executed_at, tx_hash, block_number, failure_reason,
			next_retry_at, attempt_count, adjustment_ids, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::text::numeric, $7::text::numeric, $8::text::numeric, $9,
			$10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20
		)`,
		e.ID.String(), e.ContractID.String(), e.PeriodRef, e.PeriodStart, e.PeriodEnd,
		e.BaseValue.String(), e.AdjustmentsTotal.String(), e.FinalValue.String(), e.Currency,
		string(e.Status), e.ScheduledAt, e.ExecutedAt, e.TxHash, int64(e.BlockNumber), e.FailureReason,
		e.NextRetryAt, e.AttemptCount, adjustmentIDStrings(e.AdjustmentIDs), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return paysched.ErrExecutionConflict
		}
		return fmt.Errorf("paysched/postgres: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM paysched_executions WHERE id = $1`,
		execID.String(),
	)
	e, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, paysched.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("paysched/postgres: get execution: %w", err)
	}
	return e, nil
}

// UpdateExecution replaces an execution whose stored status is from.
func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution, from execution.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE paysched_executions SET
			period_ref = $3, period_start = $4, period_end = $5,
			base_value = $6::text::numeric, adjustments_total = $7::text::numeric,
			final_value = $8::text::numeric, currency = $9, status = $10,
			scheduled_at = $11, executed_at = $12, tx_hash = $13, block_number = $14,
			failure_reason = $15, next_retry_at = $16, attempt_count = $17,
			adjustment_ids = $18, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		e.ID.String(), string(from), e.PeriodRef, e.PeriodStart, e.PeriodEnd,
		e.BaseValue.String(), e.AdjustmentsTotal.String(),
		e.FinalValue.String(), e.Currency, string(e.Status),
		e.ScheduledAt, e.ExecutedAt, e.TxHash, int64(e.BlockNumber),
		e.FailureReason, e.NextRetryAt, e.AttemptCount,
		adjustmentIDStrings(e.AdjustmentIDs),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return paysched.ErrExecutionConflict
		}
		return fmt.Errorf("paysched/postgres: update execution: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM paysched_executions WHERE id = $1)`,
		e.ID.String(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("paysched/postgres: check execution: %w", err)
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
		WHERE contract_id = $1 AND period_ref = $2`
	args := []any{contractID.String(), periodRef}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		query += ` AND status = ANY($3)`
		args = append(args, names)
	}
	query += ` ORDER BY scheduled_at DESC LIMIT 1`

	e, err := scanExecution(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, paysched.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("paysched/postgres: find execution: %w", err)
	}
	return e, nil
}

// ListDueRetries returns RETRYING executions due at now, oldest first.
func (s *Store) ListDueRetries(ctx context.Context, now time.Time, maxAttempts int) ([]*execution.Execution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+executionColumns+`
		FROM paysched_executions
		WHERE status = 'RETRYING'
		  AND next_retry_at <= $1
		  AND attempt_count <= $2
		ORDER BY next_retry_at ASC`,
		now, maxAttempts,
	)
	if err != nil {
		return nil, fmt.Errorf("paysched/postgres: list due retries: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// ListExecutionsByContract returns a contract's executions, newest first.
func (s *Store) ListExecutionsByContract(ctx context.Context, contractID id.ContractID) ([]*execution.Execution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+executionColumns+`
		FROM paysched_executions
		WHERE contract_id = $1
		ORDER BY scheduled_at DESC`,
		contractID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("paysched/postgres: list executions: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func adjustmentIDStrings(ids []id.AdjustmentID) []string {
	out := make([]string, len(ids))
	for i, a := range ids {
		out[i] = a.String()
	}
	return out
}

func scanExecution(row pgx.Row) (*execution.Execution, error) {
	var (
		e                         execution.Execution
		idStr, contractStr        string
		baseStr, adjStr, finalStr string
		statusStr                 string
		block                     int64
		adjIDs                    []string
	)
	err := row.Scan(
		&idStr, &contractStr, &e.PeriodRef, &e.PeriodStart, &e.PeriodEnd,
		&baseStr, &adjStr, &finalStr, &e.Currency,
		&statusStr, &e.ScheduledAt, &e.ExecutedAt, &e.TxHash, &block, &e.FailureReason,
		&e.NextRetryAt, &e.AttemptCount, &adjIDs, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.ID, err = id.ParseExecutionID(idStr); err != nil {
		return nil, fmt.Errorf("paysched/postgres: parse execution id %q: %w", idStr, err)
	}
	if e.ContractID, err = id.ParseContractID(contractStr); err != nil {
		return nil, fmt.Errorf("paysched/postgres: parse contract id %q: %w", contractStr, err)
	}
	if e.BaseValue, err = parseDecimal(baseStr); err != nil {
		return nil, fmt.Errorf("paysched/postgres: parse base value: %w", err)
	}
	if e.AdjustmentsTotal, err = parseDecimal(adjStr); err != nil {
		return nil, fmt.Errorf("paysched/postgres: parse adjustments total: %w", err)
	}
	if e.FinalValue, err = parseDecimal(finalStr); err != nil {
		return nil, fmt.Errorf("paysched/postgres: parse final value: %w", err)
	}
	e.Status = execution.Status(statusStr)
	e.BlockNumber = uint64(block)

	for _, s := range adjIDs {
		adjID, parseErr := id.ParseAdjustmentID(s)
		if parseErr != nil {
			return nil, fmt.Errorf("paysched/postgres: parse adjustment id %q: %w", s, parseErr)
		}
		e.AdjustmentIDs = append(e.AdjustmentIDs, adjID)
	}
	return &e, nil
}

func collectExecutions(rows pgx.Rows) ([]*execution.Execution, error) {
	var result []*execution.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("paysched/postgres: scan execution row: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("paysched/postgres: iterate execution rows: %w", err)
	}
	return result, nil
}
