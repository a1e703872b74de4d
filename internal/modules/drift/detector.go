// Package drift decides whether a vault needs rebalancing.
package drift

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/rs/zerolog"
)

// ReasonKind distinguishes drift triggers from schedule triggers
type ReasonKind string

const (
	ReasonDrift    ReasonKind = "drift"
	ReasonSchedule ReasonKind = "schedule"
)

// Reason explains one trigger
type Reason struct {
	Kind        ReasonKind              `json:"kind"`
	Asset       string                  `json:"asset,omitempty"`
	CurrentBp   int64                   `json:"current_bp,omitempty"`
	TargetBp    int64                   `json:"target_bp,omitempty"`
	DriftBp     int64                   `json:"drift_bp,omitempty"`
	ThresholdBp int64                   `json:"threshold_bp,omitempty"`
	Cadence     domain.RebalanceCadence `json:"cadence,omitempty"`
	Elapsed     time.Duration           `json:"elapsed,omitempty"`
}

func (r Reason) String() string {
	if r.Kind == ReasonSchedule {
		if r.Elapsed == 0 {
			return fmt.Sprintf("%s rebalance due: never rebalanced", r.Cadence)
		}
		return fmt.Sprintf("%s rebalance due: %s since last rebalance", r.Cadence, r.Elapsed.Round(time.Minute))
	}
	return fmt.Sprintf("%s drift %dbp exceeds %dbp (current %dbp, target %dbp)",
		r.Asset, r.DriftBp, r.ThresholdBp, r.CurrentBp, r.TargetBp)
}

// Result is the detector's decision
type Result struct {
	NeedsRebalance bool     `json:"needs_rebalance"`
	Reasons        []Reason `json:"reasons"`
}

// Trigger returns drift when any asset breached the threshold, otherwise scheduled
func (r Result) Trigger() domain.Trigger {
	for _, reason := range r.Reasons {
		if reason.Kind == ReasonDrift {
			return domain.TriggerDrift
		}
	}
	return domain.TriggerScheduled
}

// Strings renders the reasons for events and history detail
func (r Result) Strings() []string {
	out := make([]string, len(r.Reasons))
	for i, reason := range r.Reasons {
		out[i] = reason.String()
	}
	return out
}

// Detector evaluates drift and schedule triggers
type Detector struct {
	log zerolog.Logger
}

// NewDetector creates a drift detector
func NewDetector(log zerolog.Logger) *Detector {
	return &Detector{log: log.With().Str("service", "drift").Logger()}
}

// Evaluate decides whether the vault needs rebalancing at now.
// An asset triggers only when its drift strictly exceeds the threshold.
// The time trigger fires when the cadence interval has elapsed since the
// last rebalance, or the vault was never rebalanced. Empty valuations
// never trigger. The schedule reason comes first, then drift reasons by
// asset symbol.
func (d *Detector) Evaluate(vault *domain.Vault, valuation *domain.Valuation, now time.Time) Result {
	var result Result
	if valuation == nil || valuation.Empty {
		return result
	}

	if interval := vault.RebalanceCadence.Interval(); interval > 0 {
		if vault.LastRebalancedAt == nil {
			result.Reasons = append(result.Reasons, Reason{Kind: ReasonSchedule, Cadence: vault.RebalanceCadence})
		} else if elapsed := now.Sub(*vault.LastRebalancedAt); elapsed >= interval {
			result.Reasons = append(result.Reasons, Reason{
				Kind:    ReasonSchedule,
				Cadence: vault.RebalanceCadence,
				Elapsed: elapsed,
			})
		}
	}

	var drifted []Reason
	for _, a := range valuation.Assets {
		if a.DriftBp > vault.DriftThresholdBp {
			drifted = append(drifted, Reason{
				Kind:        ReasonDrift,
				Asset:       a.Asset,
				CurrentBp:   a.CurrentBp,
				TargetBp:    a.TargetBp,
				DriftBp:     a.DriftBp,
				ThresholdBp: vault.DriftThresholdBp,
			})
		}
	}
	sort.Slice(drifted, func(i, j int) bool { return drifted[i].Asset < drifted[j].Asset })
	result.Reasons = append(result.Reasons, drifted...)

	result.NeedsRebalance = len(result.Reasons) > 0
	if result.NeedsRebalance {
		d.log.Debug().
			Str("vault_id", vault.ID).
			Strs("reasons", result.Strings()).
			Msg("Vault needs rebalancing")
	}
	return result
}
