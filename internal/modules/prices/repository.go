// Package prices stores asset quotes fed through the operator API and serves
// them to the engine as a PriceSource.
package prices

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

// ErrInvalidPrice is returned for non-positive or unnamed quotes
var ErrInvalidPrice = errors.New("invalid price")

// Repository is the SQLite-backed price table. Every upsert is also
// appended to price_history so a 24h reference can be looked up when the
// feed does not supply one.
type Repository struct {
	db     *sql.DB
	maxAge time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

// NewRepository creates a price repository. Quotes older than maxAge are
// treated as missing; maxAge <= 0 disables the staleness guard.
func NewRepository(db *sql.DB, maxAge time.Duration, log zerolog.Logger) *Repository {
	return &Repository{
		db:     db,
		maxAge: maxAge,
		log:    log.With().Str("repo", "prices").Logger(),
		now:    time.Now,
	}
}

// UpsertPrices stores the latest quotes. A zero UpdatedAt is stamped with
// the current time.
func (r *Repository) UpsertPrices(ctx context.Context, quotes []domain.Price) error {
	now := r.now().UTC()
	for i := range quotes {
		quotes[i].Asset = strings.ToUpper(strings.TrimSpace(quotes[i].Asset))
		if quotes[i].Asset == "" {
			return fmt.Errorf("%w: asset is required", ErrInvalidPrice)
		}
		if !quotes[i].Current.IsPositive() {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidPrice, quotes[i].Asset, quotes[i].Current)
		}
		if quotes[i].Previous24h != nil && !quotes[i].Previous24h.IsPositive() {
			return fmt.Errorf("%w: %s previous price must be positive", ErrInvalidPrice, quotes[i].Asset)
		}
		if quotes[i].UpdatedAt.IsZero() {
			quotes[i].UpdatedAt = now
		}
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for _, q := range quotes {
			var prev sql.NullString
			if q.Previous24h != nil {
				prev = sql.NullString{String: q.Previous24h.String(), Valid: true}
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO prices (asset, price, previous_24h, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(asset) DO UPDATE SET
					price = excluded.price,
					previous_24h = excluded.previous_24h,
					updated_at = excluded.updated_at
			`, q.Asset, q.Current.String(), prev, q.UpdatedAt.Unix())
			if err != nil {
				return fmt.Errorf("failed to upsert price for %s: %w", q.Asset, err)
			}

			_, err = tx.ExecContext(ctx,
				"INSERT INTO price_history (asset, price, recorded_at) VALUES (?, ?, ?)",
				q.Asset, q.Current.String(), q.UpdatedAt.Unix())
			if err != nil {
				return fmt.Errorf("failed to record price history for %s: %w", q.Asset, err)
			}
		}
		return nil
	})
}

// GetPrice returns the quote for one asset; ok is false when the asset has
// no usable quote
func (r *Repository) GetPrice(ctx context.Context, asset string) (domain.Price, bool, error) {
	got, err := r.GetPrices(ctx, []string{asset})
	if err != nil {
		return domain.Price{}, false, err
	}
	p, ok := got[asset]
	return p, ok, nil
}

// GetPrices implements domain.PriceSource. Unknown and stale assets are
// absent from the result.
func (r *Repository) GetPrices(ctx context.Context, assets []string) (map[string]domain.Price, error) {
	out := make(map[string]domain.Price, len(assets))
	if len(assets) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(assets))
	args := make([]any, len(assets))
	for i, a := range assets {
		placeholders[i] = "?"
		args[i] = a
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT asset, price, previous_24h, updated_at FROM prices
		WHERE asset IN (`+strings.Join(placeholders, ",")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}

	now := r.now().UTC()
	var needReference []string
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if r.maxAge > 0 && now.Sub(p.UpdatedAt) > r.maxAge {
			r.log.Warn().
				Str("asset", p.Asset).
				Time("updated_at", p.UpdatedAt).
				Dur("max_age", r.maxAge).
				Msg("Ignoring stale price")
			continue
		}
		out[p.Asset] = p
		if p.Previous24h == nil {
			needReference = append(needReference, p.Asset)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating prices: %w", err)
	}
	rows.Close()

	// The connection is released before the per-asset reference lookups
	for _, asset := range needReference {
		ref, err := r.referencePrice(ctx, asset, now.Add(-24*time.Hour))
		if err != nil {
			return nil, err
		}
		if ref != nil {
			p := out[asset]
			p.Previous24h = ref
			out[asset] = p
		}
	}
	return out, nil
}

// ListPrices returns every stored quote, stale ones included
func (r *Repository) ListPrices(ctx context.Context) ([]domain.Price, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT asset, price, previous_24h, updated_at FROM prices ORDER BY asset")
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Price, 0)
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Prune deletes price history recorded before cutoff
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM price_history WHERE recorded_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune price history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to prune price history: %w", err)
	}
	if n > 0 {
		r.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Pruned price history")
	}
	return n, nil
}

func (r *Repository) referencePrice(ctx context.Context, asset string, at time.Time) (*decimal.Decimal, error) {
	var s string
	err := r.db.QueryRowContext(ctx, `
		SELECT price FROM price_history
		WHERE asset = ? AND recorded_at <= ?
		ORDER BY recorded_at DESC
		LIMIT 1
	`, asset, at.Unix()).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up reference price for %s: %w", asset, err)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("corrupt price history for %s: %w", asset, err)
	}
	return &d, nil
}

func scanPrice(rows *sql.Rows) (domain.Price, error) {
	var asset, price string
	var prev sql.NullString
	var updatedAt int64
	if err := rows.Scan(&asset, &price, &prev, &updatedAt); err != nil {
		return domain.Price{}, fmt.Errorf("failed to scan price: %w", err)
	}

	current, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Price{}, fmt.Errorf("corrupt price for %s: %w", asset, err)
	}
	p := domain.Price{
		Asset:     asset,
		Current:   current,
		UpdatedAt: time.Unix(updatedAt, 0).UTC(),
	}
	if prev.Valid {
		d, err := decimal.NewFromString(prev.String)
		if err != nil {
			return domain.Price{}, fmt.Errorf("corrupt previous price for %s: %w", asset, err)
		}
		p.Previous24h = &d
	}
	return p, nil
}
