// Package takeprofit decides when a vault's gains are realized and swaps the
// realized amount out of the vault's allocations into its destination asset.
// Gains are measured on the vault's total value.
package takeprofit

import (
	"fmt"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Decision is the evaluator's verdict for one vault
type Decision struct {
	Trigger         bool            `json:"trigger"`
	Kind            domain.Trigger  `json:"kind,omitempty"`
	Reason          string          `json:"reason"`
	CurrentUSD      decimal.Decimal `json:"current_usd"`
	BaselineUSD     decimal.Decimal `json:"baseline_usd"`
	GainPct         decimal.Decimal `json:"gain_pct"`
	AmountToRealize decimal.Decimal `json:"amount_to_realize"`
	// RestartInterval asks the caller to restart a scheduled strategy's
	// timer from now without executing anything
	RestartInterval bool `json:"restart_interval"`
}

// Evaluator applies take-profit strategies to valuations
type Evaluator struct {
	log zerolog.Logger
}

// NewEvaluator creates a new take-profit evaluator
func NewEvaluator(log zerolog.Logger) *Evaluator {
	return &Evaluator{
		log: log.With().Str("service", "take_profit_evaluator").Logger(),
	}
}

// Evaluate decides whether setting triggers for valuation at now.
// It never mutates the setting: baseline and timer changes are applied by
// the service after execution.
func (e *Evaluator) Evaluate(vault *domain.Vault, setting *domain.TakeProfitSetting, valuation *domain.Valuation, now time.Time) Decision {
	d := Decision{
		BaselineUSD: setting.BaselineUSD,
		GainPct:     decimal.Zero,
	}

	if !setting.Active {
		d.Reason = "take-profit inactive"
		return d
	}
	if valuation == nil || valuation.Empty {
		d.Reason = "empty portfolio"
		return d
	}

	d.CurrentUSD = valuation.TotalUSD.Round(2)
	if setting.BaselineUSD.IsPositive() {
		d.GainPct = d.CurrentUSD.Sub(setting.BaselineUSD).Div(setting.BaselineUSD).Mul(hundred).Round(4)
	}

	switch setting.Strategy {
	case domain.TakeProfitManual:
		d.Reason = "manual strategy"

	case domain.TakeProfitPercentageThreshold:
		if !setting.BaselineUSD.IsPositive() {
			d.Reason = "no baseline"
			break
		}
		if d.GainPct.LessThan(setting.ThresholdPct) {
			d.Reason = fmt.Sprintf("gain %s%% below threshold %s%%", d.GainPct, setting.ThresholdPct)
			break
		}
		d.Trigger = true
		d.Kind = domain.TriggerThreshold
		d.Reason = fmt.Sprintf("gain %s%% reached threshold %s%%", d.GainPct, setting.ThresholdPct)

	case domain.TakeProfitScheduledInterval:
		if setting.LastExecutionAt != nil {
			elapsed := now.Sub(*setting.LastExecutionAt)
			if elapsed < setting.Interval {
				d.Reason = fmt.Sprintf("interval %s not elapsed (%s)", setting.Interval, elapsed.Truncate(time.Second))
				break
			}
		}
		if d.CurrentUSD.LessThanOrEqual(setting.BaselineUSD) {
			// Never realize a loss as profit; the timer starts over
			d.RestartInterval = true
			d.Reason = fmt.Sprintf("value %s at or below baseline %s", d.CurrentUSD, setting.BaselineUSD)
			break
		}
		d.Trigger = true
		d.Kind = domain.TriggerInterval
		d.Reason = "interval elapsed"

	default:
		d.Reason = fmt.Sprintf("unknown strategy %q", setting.Strategy)
	}

	if d.Trigger {
		d.AmountToRealize = d.CurrentUSD.Mul(setting.SellPct).Div(hundred).Round(2)
	}

	e.log.Debug().
		Str("vault_id", vault.ID).
		Str("strategy", string(setting.Strategy)).
		Bool("trigger", d.Trigger).
		Str("current_usd", d.CurrentUSD.String()).
		Str("baseline_usd", d.BaselineUSD.String()).
		Str("reason", d.Reason).
		Msg("Take-profit evaluated")

	return d
}
