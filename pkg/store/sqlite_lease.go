package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) execLease(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Acquire claims the sampler lease, renewing it when holderID already
// holds it. The row is inserted on first contact; after that a single
// atomic UPDATE handles renewal and takeover. The CASE sees the
// pre-update holder, so a takeover bumps the epoch and a self-renew
// does not.
func (s *Store) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiry := now.Add(ttl)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (name, holder_id, expires_at, version, epoch)
		VALUES (?, ?, ?, 1, 1)
	`, name, holderID, expiry)
	if err == nil {
		return true, nil
	}

	// Unique constraint hit: the lease exists. Take it over only when
	// we already hold it or it has expired.
	n, err := s.execLease(ctx, `
		UPDATE leases
		SET holder_id = ?, expires_at = ?, version = version + 1,
		    epoch = CASE WHEN holder_id = ? THEN epoch ELSE epoch + 1 END
		WHERE name = ? AND (holder_id = ? OR expires_at < ?)
	`, holderID, expiry, holderID, name, holderID, now)
	if err != nil {
		return false, fmt.Errorf("failed to update lease: %w", err)
	}
	return n > 0, nil
}

// Renew extends the lease expiry for the current holder. ErrLeaseLost
// means another daemon has taken over and this one must stop writing.
func (s *Store) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	expiry := time.Now().UTC().Add(ttl)

	n, err := s.execLease(ctx, `
		UPDATE leases
		SET expires_at = ?, version = version + 1
		WHERE name = ? AND holder_id = ?
	`, expiry, name, holderID)
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release expires the lease held by holderID. The row stays behind so
// the epoch survives; the next holder takes over the expired lease and
// increments it. Releasing someone else's lease is a no-op.
func (s *Store) Release(ctx context.Context, name, holderID string) error {
	past := time.Now().UTC().Add(-time.Second)

	if _, err := s.execLease(ctx, `
		UPDATE leases SET expires_at = ? WHERE name = ? AND holder_id = ?
	`, past, name, holderID); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// Get reports the current lease row, nil when none exists.
func (s *Store) Get(ctx context.Context, name string) (*Lease, error) {
	var l Lease
	err := s.db.QueryRowContext(ctx, `
		SELECT name, holder_id, expires_at, version, epoch
		FROM leases WHERE name = ?
	`, name).Scan(&l.Name, &l.HolderID, &l.ExpiresAt, &l.Version, &l.Epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}
	return &l, nil
}
