package postgres

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease takes or extends the named lease for holder. The upsert only
// overwrites a row that holder already owns or that has expired, so at most
// one caller sees a changed row.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO paysched_leases (name, holder, expires_at)
		VALUES ($1, $2, NOW() + ($3::bigint * INTERVAL '1 millisecond'))
		ON CONFLICT (name) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE paysched_leases.holder = EXCLUDED.holder
		   OR paysched_leases.expires_at <= NOW()`,
		name, holder, ttl.Milliseconds(),
	)
	if err != nil {
		return false, fmt.Errorf("paysched/postgres: acquire lease %s: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLease frees the named lease if holder has it.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM paysched_leases WHERE name = $1 AND holder = $2`,
		name, holder,
	)
	if err != nil {
		return fmt.Errorf("paysched/postgres: release lease %s: %w", name, err)
	}
	return nil
}
