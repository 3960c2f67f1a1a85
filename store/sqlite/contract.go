package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/id"
	"github.com/xraph/paysched/period"
)

const contractColumns = `
	id, payer_wallet, receiver_wallet, base_value, currency, cadence,
	payment_day, next_payment_date, status, on_chain_id, created_at, updated_at`

// CreateContract persists a new contract.
func (s *Store) CreateContract(ctx context.Context, c *contract.Contract) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paysched_contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.PayerWallet, c.ReceiverWallet, c.BaseValue.String(),
		c.Currency, string(c.Cadence), c.PaymentDay, toNanos(c.NextPaymentDate),
		string(c.Status), c.OnChainID, toNanos(c.CreatedAt), toNanos(c.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return paysched.ErrContractAlreadyExists
		}
		return fmt.Errorf("paysched/sqlite: create contract: %w", err)
	}
	return nil
}

// GetContract retrieves a contract by ID.
func (s *Store) GetContract(ctx context.Context, contractID id.ContractID) (*contract.Contract, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM paysched_contracts WHERE id = ?`,
		contractID.String(),
	)
	c, err := scanContract(row)
	if err != nil {
		if isNoRows(err) {
			return nil, paysched.ErrContractNotFound
		}
		return nil, fmt.Errorf("paysched/sqlite: get contract: %w", err)
	}
	return c, nil
}

// ListDueContracts returns ACTIVE contracts due in [from, to), earliest
// first.
func (s *Store) ListDueContracts(ctx context.Context, from, to time.Time) ([]*contract.Contract, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contractColumns+`
		FROM paysched_contracts
		WHERE status = 'ACTIVE'
		  AND next_payment_date >= ?
		  AND next_payment_date < ?
		ORDER BY next_payment_date ASC, id ASC`,
		toNanos(from), toNanos(to),
	)
	if err != nil {
		return nil, fmt.Errorf("paysched/sqlite: list due contracts: %w", err)
	}
	defer rows.Close()

	var result []*contract.Contract
	for rows.Next() {
		c, scanErr := scanContract(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("paysched/sqlite: scan contract row: %w", scanErr)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("paysched/sqlite: iterate contract rows: %w", err)
	}
	return result, nil
}

// UpdateNextPaymentDate sets a contract's next due date.
func (s *Store) UpdateNextPaymentDate(ctx context.Context, contractID id.ContractID, next time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE paysched_contracts
		SET next_payment_date = ?, updated_at = ?
		WHERE id = ?`,
		toNanos(next), toNanos(time.Now()), contractID.String(),
	)
	if err != nil {
		return fmt.Errorf("paysched/sqlite: update next payment date: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("paysched/sqlite: update next payment date: %w", err)
	}
	if n == 0 {
		return paysched.ErrContractNotFound
	}
	return nil
}

func scanContract(row scanner) (*contract.Contract, error) {
	var (
		c                          contract.Contract
		idStr, baseStr             string
		cadence, statusStr         string
		next, createdAt, updatedAt int64
	)
	err := row.Scan(
		&idStr, &c.PayerWallet, &c.ReceiverWallet, &baseStr, &c.Currency, &cadence,
		&c.PaymentDay, &next, &statusStr, &c.OnChainID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.ID, err = id.ParseContractID(idStr); err != nil {
		return nil, fmt.Errorf("paysched/sqlite: parse contract id %q: %w", idStr, err)
	}
	if c.BaseValue, err = parseDecimal(baseStr); err != nil {
		return nil, fmt.Errorf("paysched/sqlite: parse base value %q: %w", baseStr, err)
	}
	c.Cadence = period.Cadence(cadence)
	c.Status = contract.Status(statusStr)
	c.NextPaymentDate = fromNanos(next)
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	return &c, nil
}
