package sqlite

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease takes or extends the named lease for holder. The upsert only
// overwrites a row that holder already owns or that has expired.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO paysched_leases (name, holder, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE
		SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE paysched_leases.holder = excluded.holder
		   OR paysched_leases.expires_at <= ?`,
		name, holder, toNanos(now.Add(ttl)), toNanos(now),
	)
	if err != nil {
		return false, fmt.Errorf("paysched/sqlite: acquire lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("paysched/sqlite: acquire lease %s: %w", name, err)
	}
	return n == 1, nil
}

// ReleaseLease frees the named lease if holder has it.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM paysched_leases WHERE name = ? AND holder = ?`,
		name, holder,
	)
	if err != nil {
		return fmt.Errorf("paysched/sqlite: release lease %s: %w", name, err)
	}
	return nil
}
