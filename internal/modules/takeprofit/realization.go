package takeprofit

import (
	"fmt"
	"sort"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/shopspring/decimal"
)

type source struct {
	asset string
	value decimal.Decimal
	price decimal.Decimal
	held  decimal.Decimal
}

// PlanRealization splits amount across the vault's non-destination assets
// pro-rata to their current value and returns one swap per source asset
// into the destination. Sources are ordered by value, largest first, and
// the last source absorbs the rounding remainder. amount is capped at the
// measured value.
func PlanRealization(vaultID string, setting *domain.TakeProfitSetting, allocations []domain.Allocation, valuation *domain.Valuation, amount decimal.Decimal) ([]domain.RebalanceInstruction, error) {
	held := make(map[string]decimal.Decimal, len(allocations))
	for _, a := range allocations {
		if a.AmountHeld != nil {
			held[a.Asset] = *a.AmountHeld
		}
	}

	var sources []source
	total := decimal.Zero
	for _, a := range valuation.Assets {
		if a.Asset == setting.DestinationAsset || !a.ValueUSD.IsPositive() {
			continue
		}
		units, ok := held[a.Asset]
		if !ok || !units.IsPositive() {
			// Estimated lines have no units to sell
			continue
		}
		price, ok := valuation.Prices[a.Asset]
		if !ok || !price.Current.IsPositive() {
			return nil, &domain.MissingPriceError{Asset: a.Asset}
		}
		sources = append(sources, source{asset: a.Asset, value: a.ValueUSD, price: price.Current, held: units})
		total = total.Add(a.ValueUSD)
	}

	if len(sources) == 0 || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: vault %s", domain.ErrNothingToRealize, vaultID)
	}
	if amount.GreaterThan(total) {
		amount = total
	}

	sort.SliceStable(sources, func(i, j int) bool {
		if c := sources[i].value.Cmp(sources[j].value); c != 0 {
			return c > 0
		}
		return sources[i].asset < sources[j].asset
	})

	bpTotal := decimal.NewFromInt(domain.BasisPointsTotal)
	instructions := make([]domain.RebalanceInstruction, 0, len(sources))
	remaining := amount.Round(2)
	for i, s := range sources {
		share := remaining
		if i < len(sources)-1 {
			share = amount.Mul(s.value).Div(total).Round(2)
			if share.GreaterThan(remaining) {
				share = remaining
			}
		}
		if share.GreaterThan(s.value) {
			share = s.value.Round(2)
		}
		remaining = remaining.Sub(share)
		if !share.IsPositive() {
			continue
		}

		units := share.Div(s.price).Truncate(8)
		if units.GreaterThan(s.held) {
			units = s.held
		}
		if !units.IsPositive() {
			continue
		}

		var bp int64
		if valuation.TotalUSD.IsPositive() {
			bp = share.Div(valuation.TotalUSD).Mul(bpTotal).Round(0).IntPart()
		}

		instructions = append(instructions, domain.RebalanceInstruction{
			Sequence:    len(instructions) + 1,
			VaultID:     vaultID,
			FromAsset:   s.asset,
			ToAsset:     setting.DestinationAsset,
			AmountBp:    bp,
			AmountUSD:   share,
			SourceUnits: units,
		})
	}

	if len(instructions) == 0 {
		return nil, fmt.Errorf("%w: vault %s", domain.ErrNothingToRealize, vaultID)
	}
	return instructions, nil
}
