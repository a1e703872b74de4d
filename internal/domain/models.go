// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BasisPointsTotal is 100% expressed in basis points
const BasisPointsTotal int64 = 10000

// AllocationToleranceBp is the rounding slack accepted when target
// percentages are summed (10000 ± 1)
const AllocationToleranceBp int64 = 1

// RebalanceCadence represents how often a vault is rebalanced regardless of drift
type RebalanceCadence string

const (
	CadenceManual    RebalanceCadence = "manual"
	CadenceWeekly    RebalanceCadence = "weekly"
	CadenceMonthly   RebalanceCadence = "monthly"
	CadenceQuarterly RebalanceCadence = "quarterly"
	CadenceYearly    RebalanceCadence = "yearly"
)

// Interval returns the fixed-day duration of the cadence.
// Manual has no interval and returns 0.
func (c RebalanceCadence) Interval() time.Duration {
	switch c {
	case CadenceWeekly:
		return 7 * 24 * time.Hour
	case CadenceMonthly:
		return 30 * 24 * time.Hour
	case CadenceQuarterly:
		return 90 * 24 * time.Hour
	case CadenceYearly:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether c is a known cadence
func (c RebalanceCadence) Valid() bool {
	switch c {
	case CadenceManual, CadenceWeekly, CadenceMonthly, CadenceQuarterly, CadenceYearly:
		return true
	}
	return false
}

// ParseCadence parses a cadence name (case-insensitive)
func ParseCadence(s string) (RebalanceCadence, error) {
	c := RebalanceCadence(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown cadence %q", ErrInvalidVault, s)
	}
	return c, nil
}

// Vault is a managed basket of assets with target weights
type Vault struct {
	ID               string           `json:"id"`
	OwnerRef         string           `json:"owner_ref"`
	DriftThresholdBp int64            `json:"drift_threshold_bp"`
	RebalanceCadence RebalanceCadence `json:"rebalance_cadence"`
	LastRebalancedAt *time.Time       `json:"last_rebalanced_at,omitempty"`
	AutoRebalance    bool             `json:"auto_rebalance"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Validate checks the vault's configuration
func (v *Vault) Validate() error {
	if strings.TrimSpace(v.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidVault)
	}
	if v.DriftThresholdBp < 1 || v.DriftThresholdBp > BasisPointsTotal {
		return fmt.Errorf("%w: drift threshold must be between 1 and %d bp, got %d",
			ErrInvalidVault, BasisPointsTotal, v.DriftThresholdBp)
	}
	if !v.RebalanceCadence.Valid() {
		return fmt.Errorf("%w: unknown cadence %q", ErrInvalidVault, v.RebalanceCadence)
	}
	return nil
}

// VaultUpdate holds optional vault field changes; nil fields are left untouched
type VaultUpdate struct {
	OwnerRef         *string           `json:"owner_ref,omitempty"`
	DriftThresholdBp *int64            `json:"drift_threshold_bp,omitempty"`
	RebalanceCadence *RebalanceCadence `json:"rebalance_cadence,omitempty"`
	AutoRebalance    *bool             `json:"auto_rebalance,omitempty"`
	LastRebalancedAt *time.Time        `json:"-"`
}

// Apply copies the set fields of u onto v
func (u VaultUpdate) Apply(v *Vault) {
	if u.OwnerRef != nil {
		v.OwnerRef = *u.OwnerRef
	}
	if u.DriftThresholdBp != nil {
		v.DriftThresholdBp = *u.DriftThresholdBp
	}
	if u.RebalanceCadence != nil {
		v.RebalanceCadence = *u.RebalanceCadence
	}
	if u.AutoRebalance != nil {
		v.AutoRebalance = *u.AutoRebalance
	}
	if u.LastRebalancedAt != nil {
		t := *u.LastRebalancedAt
		v.LastRebalancedAt = &t
	}
}

// Allocation is one asset's target weight inside a vault.
// AmountHeld is nil when the holding has never been reported.
type Allocation struct {
	VaultID    string           `json:"vault_id"`
	Asset      string           `json:"asset"`
	TargetBp   int64            `json:"target_bp"`
	AmountHeld *decimal.Decimal `json:"amount_held,omitempty"`
}

// ValidateAllocationSet checks that the targets form a complete portfolio:
// unique non-empty assets, non-negative holdings, 0 < target <= 10000 and
// a total of 10000 ± AllocationToleranceBp. An empty set is valid.
func ValidateAllocationSet(allocations []Allocation) error {
	if len(allocations) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(allocations))
	var sum int64
	for _, a := range allocations {
		asset := strings.TrimSpace(a.Asset)
		if asset == "" {
			return fmt.Errorf("%w: asset symbol is required", ErrInvalidAllocationSet)
		}
		if seen[asset] {
			return fmt.Errorf("%w: duplicate asset %s", ErrInvalidAllocationSet, asset)
		}
		seen[asset] = true

		if a.TargetBp <= 0 || a.TargetBp > BasisPointsTotal {
			return fmt.Errorf("%w: target for %s must be in (0, %d] bp, got %d",
				ErrInvalidAllocationSet, asset, BasisPointsTotal, a.TargetBp)
		}
		if a.AmountHeld != nil && a.AmountHeld.IsNegative() {
			return fmt.Errorf("%w: negative holding for %s", ErrInvalidAllocationSet, asset)
		}
		sum += a.TargetBp
	}

	diff := sum - BasisPointsTotal
	if diff < -AllocationToleranceBp || diff > AllocationToleranceBp {
		return fmt.Errorf("%w: targets sum to %d bp, expected %d",
			ErrInvalidAllocationSet, sum, BasisPointsTotal)
	}
	return nil
}

// Price is the latest USD quote for an asset
type Price struct {
	Asset       string           `json:"asset"`
	Current     decimal.Decimal  `json:"current"`
	Previous24h *decimal.Decimal `json:"previous_24h,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Change24hPct returns the percentage change over the last 24h, if known
func (p Price) Change24hPct() (decimal.Decimal, bool) {
	if p.Previous24h == nil || p.Previous24h.IsZero() {
		return decimal.Zero, false
	}
	return p.Current.Sub(*p.Previous24h).Div(*p.Previous24h).Mul(decimal.NewFromInt(100)), true
}

// AssetValuation is one asset's contribution to a vault valuation
type AssetValuation struct {
	Asset     string          `json:"asset"`
	ValueUSD  decimal.Decimal `json:"value_usd"`
	CurrentBp int64           `json:"current_bp"`
	TargetBp  int64           `json:"target_bp"`
	DriftBp   int64           `json:"drift_bp"`
	Estimated bool            `json:"estimated"`
}

// Overweight reports whether the asset sits above its target
func (a AssetValuation) Overweight() bool {
	return a.CurrentBp > a.TargetBp
}

// Valuation is a point-in-time valuation of a vault
type Valuation struct {
	VaultID         string           `json:"vault_id"`
	TotalUSD        decimal.Decimal  `json:"total_usd"`
	Assets          []AssetValuation `json:"assets"`
	Estimated       bool             `json:"estimated"`
	Empty           bool             `json:"empty"`
	TrackingErrorBp float64          `json:"tracking_error_bp"`
	Prices          map[string]Price `json:"-"`
	ValuedAt        time.Time        `json:"valued_at"`
}

// Asset returns the valuation line for symbol
func (v *Valuation) Asset(symbol string) (AssetValuation, bool) {
	for _, a := range v.Assets {
		if a.Asset == symbol {
			return a, true
		}
	}
	return AssetValuation{}, false
}

// Trigger records why an action was started
type Trigger string

const (
	TriggerDrift     Trigger = "drift"
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerRetry     Trigger = "retry"
	TriggerThreshold Trigger = "threshold"
	TriggerInterval  Trigger = "interval"
)

// RebalanceInstruction is a single swap from an overweight asset to an
// underweight one
type RebalanceInstruction struct {
	Sequence    int             `json:"sequence"`
	VaultID     string          `json:"vault_id"`
	FromAsset   string          `json:"from_asset"`
	ToAsset     string          `json:"to_asset"`
	AmountBp    int64           `json:"amount_bp"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
	SourceUnits decimal.Decimal `json:"source_units"`
}

// RebalancePlan is the ordered list of instructions for one vault
type RebalancePlan struct {
	VaultID      string                 `json:"vault_id"`
	Trigger      Trigger                `json:"trigger"`
	Instructions []RebalanceInstruction `json:"instructions"`
	Partial      bool                   `json:"partial"`
	Estimated    bool                   `json:"estimated"`
	TotalUSD     decimal.Decimal        `json:"total_usd"`
	EstimatedGas int64                  `json:"estimated_gas"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Gas estimate constants for a multi-swap rebalance
const (
	BaseGasEstimate          int64 = 1_000_000
	GasPerInstruction        int64 = 2_500_000
	DefaultStableAsset             = "USDC"
	DefaultSwapTimeout             = 30 * time.Second
	DefaultCycleLeaseTTL           = 5 * time.Minute
	DefaultPriceMaxAge             = 15 * time.Minute
	DefaultTakeProfitSellPct       = 100
)

// EstimateGas returns the gas estimate for n instructions
func EstimateGas(n int) int64 {
	return BaseGasEstimate + GasPerInstruction*int64(n)
}

// HistoryKind selects one of the two history streams
type HistoryKind string

const (
	HistoryRebalance  HistoryKind = "rebalance"
	HistoryTakeProfit HistoryKind = "take_profit"
)

// Valid reports whether k is a known stream
func (k HistoryKind) Valid() bool {
	return k == HistoryRebalance || k == HistoryTakeProfit
}

// HistoryStatus is the lifecycle state of a history entry
type HistoryStatus string

const (
	StatusPending   HistoryStatus = "pending"
	StatusCompleted HistoryStatus = "completed"
	StatusPartial   HistoryStatus = "partial"
	StatusFailed    HistoryStatus = "failed"
)

// Terminal reports whether the status can no longer change
func (s HistoryStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// Retryable reports whether an entry with this status may be retried
func (s HistoryStatus) Retryable() bool {
	return s == StatusPartial || s == StatusFailed
}

// InstructionStatus is the per-instruction execution result
type InstructionStatus string

const (
	InstructionPending   InstructionStatus = "pending"
	InstructionCompleted InstructionStatus = "completed"
	InstructionFailed    InstructionStatus = "failed"
	InstructionSkipped   InstructionStatus = "skipped"
)

// InstructionOutcome records what happened to one instruction
type InstructionOutcome struct {
	Instruction  RebalanceInstruction `json:"instruction"`
	Status       InstructionStatus    `json:"status"`
	TxRef        string               `json:"tx_ref,omitempty"`
	FeeUSD       decimal.Decimal      `json:"fee_usd"`
	OutputAmount decimal.Decimal      `json:"output_amount"`
	Error        string               `json:"error,omitempty"`
}

// HistoryEntry is one rebalance or take-profit record.
// Entries are created pending before any swap and finalized exactly once.
type HistoryEntry struct {
	ID            string               `json:"id"`
	VaultID       string               `json:"vault_id"`
	Kind          HistoryKind          `json:"kind"`
	Trigger       Trigger              `json:"trigger"`
	Status        HistoryStatus        `json:"status"`
	Outcomes      []InstructionOutcome `json:"outcomes"`
	Detail        string               `json:"detail,omitempty"`
	FailureReason string               `json:"failure_reason,omitempty"`
	RetryOf       string               `json:"retry_of,omitempty"`
	AmountUSD     decimal.Decimal      `json:"amount_usd"`
	TotalFeeUSD   decimal.Decimal      `json:"total_fee_usd"`
	CreatedAt     time.Time            `json:"created_at"`
	FinalizedAt   *time.Time           `json:"finalized_at,omitempty"`
}

// CompletedAmountUSD sums the USD amount of completed instructions
func (h *HistoryEntry) CompletedAmountUSD() decimal.Decimal {
	total := decimal.Zero
	for _, o := range h.Outcomes {
		if o.Status == InstructionCompleted {
			total = total.Add(o.Instruction.AmountUSD)
		}
	}
	return total
}

// HistoryFinalization carries the terminal fields written when an entry
// leaves the pending state
type HistoryFinalization struct {
	Status        HistoryStatus
	Outcomes      []InstructionOutcome
	Detail        string
	FailureReason string
	TotalFeeUSD   decimal.Decimal
	FinalizedAt   time.Time
}

// TakeProfitStrategy selects when gains are realized
type TakeProfitStrategy string

const (
	TakeProfitManual              TakeProfitStrategy = "manual"
	TakeProfitPercentageThreshold TakeProfitStrategy = "percentage_threshold"
	TakeProfitScheduledInterval   TakeProfitStrategy = "scheduled_interval"
)

// Valid reports whether s is a known strategy
func (s TakeProfitStrategy) Valid() bool {
	switch s {
	case TakeProfitManual, TakeProfitPercentageThreshold, TakeProfitScheduledInterval:
		return true
	}
	return false
}

// TakeProfitSetting is a vault's take-profit configuration; at most one per vault
type TakeProfitSetting struct {
	VaultID          string             `json:"vault_id"`
	Strategy         TakeProfitStrategy `json:"strategy"`
	ThresholdPct     decimal.Decimal    `json:"threshold_pct"`
	Interval         time.Duration      `json:"interval"`
	SellPct          decimal.Decimal    `json:"sell_pct"`
	BaselineUSD      decimal.Decimal    `json:"baseline_usd"`
	LastExecutionAt  *time.Time         `json:"last_execution_at,omitempty"`
	DestinationAsset string             `json:"destination_asset"`
	Active           bool               `json:"active"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Validate checks the strategy parameters
func (s *TakeProfitSetting) Validate() error {
	if strings.TrimSpace(s.VaultID) == "" {
		return fmt.Errorf("%w: vault id is required", ErrInvalidTakeProfit)
	}
	if !s.Strategy.Valid() {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidTakeProfit, s.Strategy)
	}
	switch s.Strategy {
	case TakeProfitPercentageThreshold:
		if !s.ThresholdPct.IsPositive() {
			return fmt.Errorf("%w: threshold percentage must be positive", ErrInvalidTakeProfit)
		}
	case TakeProfitScheduledInterval:
		if s.Interval <= 0 {
			return fmt.Errorf("%w: interval must be positive", ErrInvalidTakeProfit)
		}
	}
	if !s.SellPct.IsPositive() || s.SellPct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: sell percentage must be in (0, 100]", ErrInvalidTakeProfit)
	}
	if s.BaselineUSD.IsNegative() {
		return fmt.Errorf("%w: baseline must not be negative", ErrInvalidTakeProfit)
	}
	if strings.TrimSpace(s.DestinationAsset) == "" {
		return fmt.Errorf("%w: destination asset is required", ErrInvalidTakeProfit)
	}
	return nil
}

// SwapQuote is a pre-trade estimate from the swap executor
type SwapQuote struct {
	FromAsset        string          `json:"from_asset"`
	ToAsset          string          `json:"to_asset"`
	InputUnits       decimal.Decimal `json:"input_units"`
	OutputAmount     decimal.Decimal `json:"output_amount"`
	FeeUSD           decimal.Decimal `json:"fee_usd"`
	PriceImpactBp    int64           `json:"price_impact_bp"`
	EstimatedSeconds int64           `json:"estimated_seconds"`
}

// SwapStatus is the settlement state reported by the executor
type SwapStatus string

const (
	SwapCompleted SwapStatus = "completed"
	SwapFailed    SwapStatus = "failed"
)

// SwapResult is the executor's report for one swap
type SwapResult struct {
	Status       SwapStatus      `json:"status"`
	TxRef        string          `json:"tx_ref"`
	OutputAmount decimal.Decimal `json:"output_amount"`
	Error        string          `json:"error,omitempty"`
}

// CycleState is the state a vault cycle ended in
type CycleState string

const (
	CycleIdle       CycleState = "idle"
	CycleEvaluating CycleState = "evaluating"
	CycleNoAction   CycleState = "no_action"
	CyclePlanning   CycleState = "planning"
	CycleExecuting  CycleState = "executing"
	CycleRecording  CycleState = "recording"
	CycleRecorded   CycleState = "recorded"
	CycleFailed     CycleState = "failed"
	CycleSkipped    CycleState = "skipped"
)

// CycleOutcome summarizes one phase (rebalance or take-profit) of a vault cycle
type CycleOutcome struct {
	VaultID   string        `json:"vault_id"`
	Kind      HistoryKind   `json:"kind"`
	State     CycleState    `json:"state"`
	Triggered bool          `json:"triggered"`
	Reasons   []string      `json:"reasons,omitempty"`
	History   *HistoryEntry `json:"history,omitempty"`
	Err       error         `json:"-"`
}
