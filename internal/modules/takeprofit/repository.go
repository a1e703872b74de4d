package takeprofit

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

// Repository stores take-profit settings in vaults.db, one row per vault
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewRepository creates a new take-profit settings repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "take_profit").Logger(),
		now: time.Now,
	}
}

const settingColumns = `vault_id, strategy, threshold_pct, interval_seconds, sell_pct, baseline_usd,
	last_execution_at, destination_asset, active, created_at, updated_at`

// GetTakeProfitSetting returns the vault's setting or ErrTakeProfitNotFound
func (r *Repository) GetTakeProfitSetting(ctx context.Context, vaultID string) (*domain.TakeProfitSetting, error) {
	var s domain.TakeProfitSetting
	var strategy, threshold, sellPct, baseline string
	var intervalSeconds, active, createdAt, updatedAt int64
	var lastExecution sql.NullInt64

	err := r.db.QueryRowContext(ctx, "SELECT "+settingColumns+" FROM take_profit_settings WHERE vault_id = ?", vaultID).
		Scan(&s.VaultID, &strategy, &threshold, &intervalSeconds, &sellPct, &baseline,
			&lastExecution, &s.DestinationAsset, &active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: vault %s", domain.ErrTakeProfitNotFound, vaultID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get take-profit setting for %s: %w", vaultID, err)
	}

	s.Strategy = domain.TakeProfitStrategy(strategy)
	s.Interval = time.Duration(intervalSeconds) * time.Second
	s.Active = active != 0
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	s.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if lastExecution.Valid {
		t := time.Unix(lastExecution.Int64, 0).UTC()
		s.LastExecutionAt = &t
	}

	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{threshold, &s.ThresholdPct},
		{sellPct, &s.SellPct},
		{baseline, &s.BaselineUSD},
	} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt take-profit setting for %s: %w", vaultID, err)
		}
		*f.dst = d
	}
	return &s, nil
}

// CreateTakeProfitSetting inserts the vault's setting.
// Returns ErrTakeProfitExists if the vault already has one.
func (r *Repository) CreateTakeProfitSetting(ctx context.Context, s *domain.TakeProfitSetting) error {
	normalize(s)
	if err := s.Validate(); err != nil {
		return err
	}

	now := r.now().UTC().Truncate(time.Second)
	s.CreatedAt = now
	s.UpdatedAt = now

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if err := checkDestination(ctx, tx, s); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO take_profit_settings (`+settingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.VaultID, string(s.Strategy), s.ThresholdPct.String(), int64(s.Interval/time.Second),
			s.SellPct.String(), s.BaselineUSD.String(), nullableUnix(s.LastExecutionAt),
			s.DestinationAsset, boolToInt(s.Active), now.Unix(), now.Unix())
		if err != nil {
			msg := err.Error()
			switch {
			case strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "PRIMARY KEY"):
				return fmt.Errorf("%w: vault %s", domain.ErrTakeProfitExists, s.VaultID)
			case strings.Contains(msg, "FOREIGN KEY"):
				return fmt.Errorf("%w: %s", domain.ErrVaultNotFound, s.VaultID)
			}
			return fmt.Errorf("failed to create take-profit setting for %s: %w", s.VaultID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().
		Str("vault_id", s.VaultID).
		Str("strategy", string(s.Strategy)).
		Msg("Take-profit setting created")
	return nil
}

// UpdateTakeProfitSetting replaces the stored setting
func (r *Repository) UpdateTakeProfitSetting(ctx context.Context, s *domain.TakeProfitSetting) error {
	normalize(s)
	if err := s.Validate(); err != nil {
		return err
	}

	now := r.now().UTC().Truncate(time.Second)
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if err := checkDestination(ctx, tx, s); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE take_profit_settings
			SET strategy = ?, threshold_pct = ?, interval_seconds = ?, sell_pct = ?, baseline_usd = ?,
				last_execution_at = ?, destination_asset = ?, active = ?, updated_at = ?
			WHERE vault_id = ?
		`, string(s.Strategy), s.ThresholdPct.String(), int64(s.Interval/time.Second), s.SellPct.String(),
			s.BaselineUSD.String(), nullableUnix(s.LastExecutionAt), s.DestinationAsset,
			boolToInt(s.Active), now.Unix(), s.VaultID)
		if err != nil {
			return fmt.Errorf("failed to update take-profit setting for %s: %w", s.VaultID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update take-profit setting for %s: %w", s.VaultID, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: vault %s", domain.ErrTakeProfitNotFound, s.VaultID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.UpdatedAt = now
	return nil
}

// checkDestination rejects a destination the vault allocates to. Realized
// proceeds leave the vault's allocations, so gains are measured on the
// whole vault value.
func checkDestination(ctx context.Context, tx *sql.Tx, s *domain.TakeProfitSetting) error {
	var allocated int
	err := tx.QueryRowContext(ctx,
		"SELECT 1 FROM allocations WHERE vault_id = ? AND UPPER(TRIM(asset)) = ?",
		s.VaultID, s.DestinationAsset).Scan(&allocated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check destination %s: %w", s.DestinationAsset, err)
	}
	return fmt.Errorf("%w: %w: %s", domain.ErrInvalidTakeProfit, domain.ErrDestinationAllocated, s.DestinationAsset)
}

func normalize(s *domain.TakeProfitSetting) {
	s.DestinationAsset = strings.ToUpper(strings.TrimSpace(s.DestinationAsset))
	if s.DestinationAsset == "" {
		s.DestinationAsset = domain.DefaultStableAsset
	}
	if s.SellPct.IsZero() {
		s.SellPct = decimal.NewFromInt(domain.DefaultTakeProfitSellPct)
	}
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
