package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/contract"
	"github.com/xraph/paysched/id"
	"github.com/xraph/paysched/period"
)

const contractColumns = `
	id, payer_wallet, receiver_wallet, base_value::text, currency, cadence,
	payment_day, next_payment_date, status, on_chain_id, created_at, updated_at`

// CreateContract persists a new contract.
func (s *Store) CreateContract(ctx context.Context, c *contract.Contract) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO paysched_contracts (
			id, payer_wallet, receiver_wallet, base_value, currency, cadence,
			payment_day, next_payment_date, status, on_chain_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID.String(), c.PayerWallet, c.ReceiverWallet, c.BaseValue.String(),
		c.Currency, string(c.Cadence), c.PaymentDay, c.NextPaymentDate,
		string(c.Status), c.OnChainID, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return paysched.ErrContractAlreadyExists
		}
		return fmt.Errorf("paysched/postgres: create contract: %w", err)
	}
	return nil
}

// GetContract retrieves a contract by ID.
func (s *Store) GetContract(ctx context.Context, contractID id.ContractID) (*contract.Contract, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contractColumns+` FROM paysched_contracts WHERE id = $1`,
		contractID.String(),
	)
	c, err := scanContract(row)
	if err != nil {
		if isNoRows(err) {
			return nil, paysched.ErrContractNotFound
		}
		return nil, fmt.Errorf("paysched/postgres: get contract: %w", err)
	}
	return c, nil
}

// ListDueContracts returns ACTIVE contracts due in [from, to), earliest
// first.
func (s *Store) ListDueContracts(ctx context.Context, from, to time.Time) ([]*contract.Contract, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+contractColumns+`
		FROM paysched_contracts
		WHERE status = 'ACTIVE'
		  AND next_payment_date >= $1
		  AND next_payment_date < $2
		ORDER BY next_payment_date ASC, id ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("paysched/postgres: list due contracts: %w", err)
	}
	defer rows.Close()

	var result []*contract.Contract
	for rows.Next() {
		c, scanErr := scanContract(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("paysched/postgres: scan contract row: %w", scanErr)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("paysched/postgres: iterate contract rows: %w", err)
	}
	return result, nil
}

// UpdateNextPaymentDate sets a contract's next due date.
func (s *Store) UpdateNextPaymentDate(ctx context.Context, contractID id.ContractID, next time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE paysched_contracts
		SET next_payment_date = $2, updated_at = NOW()
		WHERE id = $1`,
		contractID.String(), next,
	)
	if err != nil {
		return fmt.Errorf("paysched/postgres: update next payment date: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return paysched.ErrContractNotFound
	}
	return nil
}

func scanContract(row pgx.Row) (*contract.Contract, error) {
	var (
		c         contract.Contract
		idStr     string
		baseStr   string
		cadence   string
		statusStr string
	)
	err := row.Scan(
		&idStr, &c.PayerWallet, &c.ReceiverWallet, &baseStr, &c.Currency, &cadence,
		&c.PaymentDay, &c.NextPaymentDate, &statusStr, &c.OnChainID,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.ID, err = id.ParseContractID(idStr); err != nil {
		return nil, fmt.Errorf("paysched/postgres: parse contract id %q: %w", idStr, err)
	}
	if c.BaseValue, err = parseDecimal(baseStr); err != nil {
		return nil, fmt.Errorf("paysched/postgres: parse base value %q: %w", baseStr, err)
	}
	c.Cadence = period.Cadence(cadence)
	c.Status = contract.Status(statusStr)
	return &c, nil
}
