package rebalancing

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var bpTotal = decimal.NewFromInt(domain.BasisPointsTotal)

// residual is an asset's remaining drift during planning
type residual struct {
	asset string
	bp    int64
}

// Planner turns a valuation into an ordered list of swaps
type Planner struct {
	refuseEstimated bool
	log             zerolog.Logger
	now             func() time.Time
}

// NewPlanner creates a planner. With refuseEstimated set, valuations that
// include estimated holdings are rejected with ErrEstimatedValuation.
func NewPlanner(refuseEstimated bool, log zerolog.Logger) *Planner {
	return &Planner{
		refuseEstimated: refuseEstimated,
		log:             log.With().Str("service", "rebalance_planner").Logger(),
		now:             time.Now,
	}
}

// Tolerance returns the drift left in place for a trigger. Drift-triggered
// plans stop once every asset is back within the vault threshold; every
// other trigger drives the vault to its exact targets.
func Tolerance(vault *domain.Vault, trigger domain.Trigger) int64 {
	if trigger == domain.TriggerDrift {
		return vault.DriftThresholdBp
	}
	return 0
}

// Plan produces the swap instructions that bring the vault back to target.
//
// Overweight assets are sources and underweight assets are destinations.
// Each step pairs the largest remaining source with the largest remaining
// destination (ties broken by symbol) and moves the smaller of the two
// residuals, so identical inputs always give identical plans. Planning
// stops when no residual exceeds the trigger's tolerance or a side runs
// out; in the latter case the plan is marked partial.
func (p *Planner) Plan(vault *domain.Vault, allocations []domain.Allocation, valuation *domain.Valuation, trigger domain.Trigger) (*domain.RebalancePlan, error) {
	if err := domain.ValidateAllocationSet(allocations); err != nil {
		return nil, err
	}
	if valuation == nil {
		return nil, fmt.Errorf("no valuation for vault %s", vault.ID)
	}

	plan := &domain.RebalancePlan{
		VaultID:      vault.ID,
		Trigger:      trigger,
		Instructions: []domain.RebalanceInstruction{},
		Estimated:    valuation.Estimated,
		TotalUSD:     valuation.TotalUSD,
		CreatedAt:    p.now(),
	}

	if valuation.Empty {
		plan.EstimatedGas = domain.EstimateGas(0)
		return plan, nil
	}
	if valuation.Estimated && p.refuseEstimated {
		return nil, domain.ErrEstimatedValuation
	}

	tolerance := Tolerance(vault, trigger)

	var over, under []residual
	for _, a := range valuation.Assets {
		switch {
		case a.CurrentBp > a.TargetBp:
			over = append(over, residual{asset: a.Asset, bp: a.CurrentBp - a.TargetBp})
		case a.CurrentBp < a.TargetBp:
			under = append(under, residual{asset: a.Asset, bp: a.TargetBp - a.CurrentBp})
		}
	}

	for len(over) > 0 && len(under) > 0 {
		sortResiduals(over)
		sortResiduals(under)
		if over[0].bp <= tolerance && under[0].bp <= tolerance {
			break
		}

		amountBp := min(over[0].bp, under[0].bp)
		instruction, err := p.instruction(vault.ID, len(plan.Instructions)+1, over[0].asset, under[0].asset, amountBp, valuation)
		if err != nil {
			return nil, err
		}
		plan.Instructions = append(plan.Instructions, instruction)

		over[0].bp -= amountBp
		under[0].bp -= amountBp
		over = dropSettled(over)
		under = dropSettled(under)
	}

	// Per-asset half-up rounding plus the target sum tolerance can leave a
	// few basis points on one side with no counterpart
	slack := tolerance + roundingSlack(len(valuation.Assets))
	plan.Partial = valuation.Estimated || exceeds(over, slack) || exceeds(under, slack)
	plan.EstimatedGas = domain.EstimateGas(len(plan.Instructions))

	p.log.Debug().
		Str("vault_id", vault.ID).
		Str("trigger", string(trigger)).
		Int("instructions", len(plan.Instructions)).
		Bool("partial", plan.Partial).
		Msg("Rebalance plan built")

	return plan, nil
}

func (p *Planner) instruction(vaultID string, seq int, from, to string, amountBp int64, valuation *domain.Valuation) (domain.RebalanceInstruction, error) {
	price, ok := valuation.Prices[from]
	if !ok || !price.Current.IsPositive() {
		return domain.RebalanceInstruction{}, &domain.MissingPriceError{Asset: from}
	}

	amountUSD := valuation.TotalUSD.Mul(decimal.NewFromInt(amountBp)).Div(bpTotal).Round(2)
	return domain.RebalanceInstruction{
		Sequence:    seq,
		VaultID:     vaultID,
		FromAsset:   from,
		ToAsset:     to,
		AmountBp:    amountBp,
		AmountUSD:   amountUSD,
		SourceUnits: amountUSD.Div(price.Current).Round(8),
	}, nil
}

// sortResiduals orders by residual descending, then symbol ascending
func sortResiduals(rs []residual) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].bp != rs[j].bp {
			return rs[i].bp > rs[j].bp
		}
		return rs[i].asset < rs[j].asset
	})
}

func dropSettled(rs []residual) []residual {
	out := rs[:0]
	for _, r := range rs {
		if r.bp > 0 {
			out = append(out, r)
		}
	}
	return out
}

func roundingSlack(assets int) int64 {
	return int64(assets+1)/2 + domain.AllocationToleranceBp
}

func exceeds(rs []residual, tolerance int64) bool {
	for _, r := range rs {
		if r.bp > tolerance {
			return true
		}
	}
	return false
}
