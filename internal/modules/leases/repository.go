// Package leases grants per-vault exclusivity through rows in vault_leases.
// A lease is taken with a single upsert that only succeeds when no row
// exists or the existing one has expired, so holders in other processes
// sharing the database are excluded too.
package leases

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repository implements domain.LeaseManager
type Repository struct {
	db       *sql.DB
	instance string
	log      zerolog.Logger
	now      func() time.Time
}

// NewRepository creates a lease manager. Holder ids are prefixed with a
// per-process instance id.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:       db,
		instance: uuid.NewString(),
		log:      log.With().Str("repo", "leases").Logger(),
		now:      time.Now,
	}
}

// Acquire claims the vault for ttl. Returns ErrLeaseUnavailable while
// another holder's lease is unexpired.
func (r *Repository) Acquire(ctx context.Context, vaultID string, ttl time.Duration) (*domain.Lease, error) {
	if ttl <= 0 {
		ttl = domain.DefaultCycleLeaseTTL
	}

	now := r.now().UTC()
	lease := &domain.Lease{
		VaultID:   vaultID,
		Holder:    r.instance + "/" + uuid.NewString(),
		ExpiresAt: now.Add(ttl),
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO vault_leases (vault_id, holder, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(vault_id) DO UPDATE SET
			holder = excluded.holder,
			expires_at = excluded.expires_at
		WHERE vault_leases.expires_at <= ?
	`, vaultID, lease.Holder, lease.ExpiresAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease on vault %s: %w", vaultID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease on vault %s: %w", vaultID, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: vault %s", domain.ErrLeaseUnavailable, vaultID)
	}

	r.log.Debug().
		Str("vault_id", vaultID).
		Str("holder", lease.Holder).
		Time("expires_at", lease.ExpiresAt).
		Msg("Lease acquired")
	return lease, nil
}

// Release drops the lease if it is still held by the same holder.
// Releasing a lease that expired and was taken over is a no-op.
func (r *Repository) Release(ctx context.Context, lease *domain.Lease) error {
	if lease == nil {
		return nil
	}

	res, err := r.db.ExecContext(ctx,
		"DELETE FROM vault_leases WHERE vault_id = ? AND holder = ?",
		lease.VaultID, lease.Holder)
	if err != nil {
		return fmt.Errorf("failed to release lease on vault %s: %w", lease.VaultID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		r.log.Warn().
			Str("vault_id", lease.VaultID).
			Str("holder", lease.Holder).
			Msg("Lease was no longer held at release")
	}
	return nil
}

// PurgeExpired removes expired lease rows
func (r *Repository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM vault_leases WHERE expires_at <= ?", r.now().UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired leases: %w", err)
	}
	return res.RowsAffected()
}
