// Package allocation stores vaults and their target allocations.
package allocation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/vaultpilot/internal/database"
	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository handles vault and allocation database operations
// Database: vaults.db (vaults, allocations tables)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewRepository creates a new allocation repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "allocation").Logger(),
		now: time.Now,
	}
}

const vaultColumns = `id, owner_ref, drift_threshold_bp, rebalance_cadence, last_rebalanced_at,
	auto_rebalance, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVault(row rowScanner) (*domain.Vault, error) {
	var v domain.Vault
	var cadence string
	var lastRebalanced sql.NullInt64
	var auto int64
	var createdAt, updatedAt int64

	if err := row.Scan(&v.ID, &v.OwnerRef, &v.DriftThresholdBp, &cadence, &lastRebalanced,
		&auto, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	v.RebalanceCadence = domain.RebalanceCadence(cadence)
	v.AutoRebalance = auto != 0
	v.CreatedAt = time.Unix(createdAt, 0).UTC()
	v.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if lastRebalanced.Valid {
		t := time.Unix(lastRebalanced.Int64, 0).UTC()
		v.LastRebalancedAt = &t
	}
	return &v, nil
}

// CreateVault inserts a new vault
func (r *Repository) CreateVault(ctx context.Context, vault *domain.Vault) error {
	if err := vault.Validate(); err != nil {
		return err
	}

	now := r.now().UTC().Truncate(time.Second)
	vault.CreatedAt = now
	vault.UpdatedAt = now

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM vaults WHERE id = ?", vault.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("%w: %s", domain.ErrVaultExists, vault.ID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check vault %s: %w", vault.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO vaults (`+vaultColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, vault.ID, vault.OwnerRef, vault.DriftThresholdBp, string(vault.RebalanceCadence),
			nullableUnix(vault.LastRebalancedAt), boolToInt(vault.AutoRebalance), now.Unix(), now.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert vault %s: %w", vault.ID, err)
		}
		return nil
	})
}

// GetVault returns the vault with id or ErrVaultNotFound
func (r *Repository) GetVault(ctx context.Context, id string) (*domain.Vault, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+vaultColumns+" FROM vaults WHERE id = ?", id)
	v, err := scanVault(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrVaultNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vault %s: %w", id, err)
	}
	return v, nil
}

// ListVaults returns every vault ordered by id
func (r *Repository) ListVaults(ctx context.Context) ([]domain.Vault, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+vaultColumns+" FROM vaults ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query vaults: %w", err)
	}
	defer rows.Close()

	vaults := make([]domain.Vault, 0)
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vault: %w", err)
		}
		vaults = append(vaults, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vaults: %w", err)
	}
	return vaults, nil
}

// UpdateVault applies update and returns the stored vault
func (r *Repository) UpdateVault(ctx context.Context, id string, update domain.VaultUpdate) (*domain.Vault, error) {
	var updated *domain.Vault
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, "SELECT "+vaultColumns+" FROM vaults WHERE id = ?", id)
		v, err := scanVault(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrVaultNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to load vault %s: %w", id, err)
		}

		update.Apply(v)
		if err := v.Validate(); err != nil {
			return err
		}
		v.UpdatedAt = r.now().UTC().Truncate(time.Second)

		_, err = tx.ExecContext(ctx, `
			UPDATE vaults
			SET owner_ref = ?, drift_threshold_bp = ?, rebalance_cadence = ?,
			    last_rebalanced_at = ?, auto_rebalance = ?, updated_at = ?
			WHERE id = ?
		`, v.OwnerRef, v.DriftThresholdBp, string(v.RebalanceCadence),
			nullableUnix(v.LastRebalancedAt), boolToInt(v.AutoRebalance), v.UpdatedAt.Unix(), id)
		if err != nil {
			return fmt.Errorf("failed to update vault %s: %w", id, err)
		}
		updated = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteVault removes a vault; allocations and take-profit settings cascade
func (r *Repository) DeleteVault(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM vaults WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete vault %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete vault %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrVaultNotFound, id)
	}
	r.log.Info().Str("vault_id", id).Msg("Vault deleted")
	return nil
}

// GetAllocations returns the vault's allocations ordered by asset
func (r *Repository) GetAllocations(ctx context.Context, vaultID string) ([]domain.Allocation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT vault_id, asset, target_bp, amount_held
		FROM allocations
		WHERE vault_id = ?
		ORDER BY asset
	`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations for %s: %w", vaultID, err)
	}
	defer rows.Close()

	allocations := make([]domain.Allocation, 0)
	for rows.Next() {
		var a domain.Allocation
		var amount sql.NullString
		if err := rows.Scan(&a.VaultID, &a.Asset, &a.TargetBp, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		if amount.Valid {
			d, err := decimal.NewFromString(amount.String)
			if err != nil {
				return nil, fmt.Errorf("invalid amount for %s/%s: %w", vaultID, a.Asset, err)
			}
			a.AmountHeld = &d
		}
		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocations: %w", err)
	}
	return allocations, nil
}

// SetAllocations atomically replaces the vault's allocation set.
// The new set must sum to 100%; an allocation without AmountHeld keeps the
// holding already recorded for that asset.
func (r *Repository) SetAllocations(ctx context.Context, vaultID string, allocations []domain.Allocation) error {
	if err := domain.ValidateAllocationSet(allocations); err != nil {
		return err
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT 1 FROM vaults WHERE id = ?", vaultID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", domain.ErrVaultNotFound, vaultID)
			}
			return fmt.Errorf("failed to check vault %s: %w", vaultID, err)
		}

		var destination string
		err := tx.QueryRowContext(ctx,
			"SELECT destination_asset FROM take_profit_settings WHERE vault_id = ?", vaultID).Scan(&destination)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to read take-profit destination: %w", err)
		default:
			for _, a := range allocations {
				if strings.EqualFold(strings.TrimSpace(a.Asset), destination) {
					return fmt.Errorf("%w: %w: %s", domain.ErrInvalidAllocationSet, domain.ErrDestinationAllocated, destination)
				}
			}
		}

		existing := make(map[string]sql.NullString)
		rows, err := tx.QueryContext(ctx, "SELECT asset, amount_held FROM allocations WHERE vault_id = ?", vaultID)
		if err != nil {
			return fmt.Errorf("failed to read current allocations: %w", err)
		}
		for rows.Next() {
			var asset string
			var amount sql.NullString
			if err := rows.Scan(&asset, &amount); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan allocation: %w", err)
			}
			existing[asset] = amount
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx, "DELETE FROM allocations WHERE vault_id = ?", vaultID); err != nil {
			return fmt.Errorf("failed to clear allocations: %w", err)
		}

		now := r.now().Unix()
		for _, a := range allocations {
			amount := existing[a.Asset]
			if a.AmountHeld != nil {
				amount = sql.NullString{String: a.AmountHeld.String(), Valid: true}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO allocations (vault_id, asset, target_bp, amount_held, updated_at)
				VALUES (?, ?, ?, ?, ?)
			`, vaultID, a.Asset, a.TargetBp, amount, now); err != nil {
				return fmt.Errorf("failed to insert allocation %s: %w", a.Asset, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().Str("vault_id", vaultID).Int("assets", len(allocations)).Msg("Allocations replaced")
	return nil
}

// SetHoldings records reported holdings for assets the vault allocates to
func (r *Repository) SetHoldings(ctx context.Context, vaultID string, holdings map[string]decimal.Decimal) error {
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		now := r.now().Unix()
		for asset, amount := range holdings {
			if amount.IsNegative() {
				return fmt.Errorf("%w: negative holding for %s", domain.ErrInvalidAllocationSet, asset)
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE allocations SET amount_held = ?, updated_at = ?
				WHERE vault_id = ? AND asset = ?
			`, amount.String(), now, vaultID, asset)
			if err != nil {
				return fmt.Errorf("failed to set holding %s: %w", asset, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("%w: vault %s has no allocation for %s", domain.ErrInvalidAllocationSet, vaultID, asset)
			}
		}
		return nil
	})
	return err
}

// AdjustHolding adds delta to a recorded holding. Assets the vault does not
// allocate to are ignored; an unreported holding is treated as zero.
func (r *Repository) AdjustHolding(ctx context.Context, vaultID, asset string, delta decimal.Decimal) error {
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var amount sql.NullString
		err := tx.QueryRowContext(ctx,
			"SELECT amount_held FROM allocations WHERE vault_id = ? AND asset = ?",
			vaultID, asset).Scan(&amount)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read holding %s: %w", asset, err)
		}

		current := decimal.Zero
		if amount.Valid {
			if current, err = decimal.NewFromString(amount.String); err != nil {
				return fmt.Errorf("invalid stored holding for %s: %w", asset, err)
			}
		}
		next := current.Add(delta)
		if next.IsNegative() {
			return fmt.Errorf("holding %s would go negative (%s + %s)", asset, current, delta)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE allocations SET amount_held = ?, updated_at = ?
			WHERE vault_id = ? AND asset = ?
		`, next.String(), r.now().Unix(), vaultID, asset)
		if err != nil {
			return fmt.Errorf("failed to update holding %s: %w", asset, err)
		}
		return nil
	})
	return err
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
