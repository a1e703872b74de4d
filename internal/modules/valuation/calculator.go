// Package valuation converts holdings and prices into per-asset weights.
package valuation

import (
	"math"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
)

var bpTotal = decimal.NewFromInt(domain.BasisPointsTotal)

// Calculator values vaults from allocations and a price snapshot
type Calculator struct {
	log zerolog.Logger
	now func() time.Time
}

// NewCalculator creates a valuation calculator
func NewCalculator(log zerolog.Logger) *Calculator {
	return &Calculator{
		log: log.With().Str("service", "valuation").Logger(),
		now: time.Now,
	}
}

// Valuate computes USD values, current weights and drift for every allocation.
//
// Every allocated asset must have a price, otherwise a *domain.MissingPriceError
// is returned for the first missing asset in allocation order. Assets whose
// holding was never reported are valued at their target share of the total
// implied by the reported holdings and flagged as estimated. A vault with no
// allocations or zero total value yields an Empty valuation.
func (c *Calculator) Valuate(vault *domain.Vault, allocations []domain.Allocation, prices map[string]domain.Price) (*domain.Valuation, error) {
	result := &domain.Valuation{
		VaultID:  vault.ID,
		TotalUSD: decimal.Zero,
		Prices:   make(map[string]domain.Price, len(allocations)),
		ValuedAt: c.now(),
	}

	if len(allocations) == 0 {
		result.Empty = true
		return result, nil
	}

	for _, a := range allocations {
		p, ok := prices[a.Asset]
		if !ok {
			return nil, &domain.MissingPriceError{Asset: a.Asset}
		}
		result.Prices[a.Asset] = p
	}

	values := make([]decimal.Decimal, len(allocations))
	estimated := make([]bool, len(allocations))
	known := decimal.Zero
	var knownTargetBp int64
	anyUnknown := false

	for i, a := range allocations {
		if a.AmountHeld == nil {
			estimated[i] = true
			anyUnknown = true
			continue
		}
		values[i] = a.AmountHeld.Mul(result.Prices[a.Asset].Current)
		known = known.Add(values[i])
		knownTargetBp += a.TargetBp
	}

	total := known
	if anyUnknown {
		result.Estimated = true
		if knownTargetBp > 0 && known.IsPositive() {
			total = known.Mul(bpTotal).Div(decimal.NewFromInt(knownTargetBp))
		}
		for i, a := range allocations {
			if estimated[i] {
				values[i] = total.Mul(decimal.NewFromInt(a.TargetBp)).Div(bpTotal)
			}
		}
		c.log.Debug().
			Str("vault_id", vault.ID).
			Str("known_usd", known.StringFixed(2)).
			Int64("known_target_bp", knownTargetBp).
			Msg("Valuation includes estimated holdings")
	}

	result.TotalUSD = total
	result.Empty = !total.IsPositive()

	drifts := make([]float64, 0, len(allocations))
	for i, a := range allocations {
		av := domain.AssetValuation{
			Asset:     a.Asset,
			ValueUSD:  values[i],
			TargetBp:  a.TargetBp,
			Estimated: estimated[i],
		}
		if !result.Empty {
			av.CurrentBp = values[i].Mul(bpTotal).Div(total).Round(0).IntPart()
			av.DriftBp = absInt64(av.CurrentBp - av.TargetBp)
			drifts = append(drifts, float64(av.DriftBp))
		}
		result.Assets = append(result.Assets, av)
	}

	if len(drifts) > 0 {
		result.TrackingErrorBp = floats.Norm(drifts, 2) / math.Sqrt(float64(len(drifts)))
	}

	return result, nil
}

// MaxDriftBp returns the largest drift in the valuation
func MaxDriftBp(v *domain.Valuation) int64 {
	var max int64
	for _, a := range v.Assets {
		if a.DriftBp > max {
			max = a.DriftBp
		}
	}
	return max
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
