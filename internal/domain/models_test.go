package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func held(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestValidateAllocationSet(t *testing.T) {
	tests := []struct {
		name    string
		allocs  []Allocation
		wantErr bool
	}{
		{
			name:   "empty set is valid",
			allocs: nil,
		},
		{
			name: "exact 100%",
			allocs: []Allocation{
				{Asset: "BTC", TargetBp: 5000},
				{Asset: "ETH", TargetBp: 3000},
				{Asset: "USDC", TargetBp: 2000},
			},
		},
		{
			name: "one bp under tolerated",
			allocs: []Allocation{
				{Asset: "A", TargetBp: 3333},
				{Asset: "B", TargetBp: 3333},
				{Asset: "C", TargetBp: 3333},
			},
		},
		{
			name: "one bp over tolerated",
			allocs: []Allocation{
				{Asset: "A", TargetBp: 5001},
				{Asset: "B", TargetBp: 5000},
			},
		},
		{
			name: "two bp off rejected",
			allocs: []Allocation{
				{Asset: "A", TargetBp: 4999},
				{Asset: "B", TargetBp: 4999},
			},
			wantErr: true,
		},
		{
			name: "duplicate asset",
			allocs: []Allocation{
				{Asset: "A", TargetBp: 5000},
				{Asset: "A", TargetBp: 5000},
			},
			wantErr: true,
		},
		{
			name: "zero target",
			allocs: []Allocation{
				{Asset: "A", TargetBp: 10000},
				{Asset: "B", TargetBp: 0},
			},
			wantErr: true,
		},
		{
			name: "negative holding",
			allocs: []Allocation{
				{Asset: "A", TargetBp: 10000, AmountHeld: held("-1")},
			},
			wantErr: true,
		},
		{
			name: "blank symbol",
			allocs: []Allocation{
				{Asset: " ", TargetBp: 10000},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAllocationSet(tt.allocs)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAllocationSet)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVault_Validate(t *testing.T) {
	v := Vault{ID: "v1", DriftThresholdBp: 500, RebalanceCadence: CadenceMonthly}
	require.NoError(t, v.Validate())

	v.DriftThresholdBp = 0
	assert.ErrorIs(t, v.Validate(), ErrInvalidVault)

	v.DriftThresholdBp = 10001
	assert.ErrorIs(t, v.Validate(), ErrInvalidVault)

	v.DriftThresholdBp = 10000
	v.RebalanceCadence = "daily"
	assert.ErrorIs(t, v.Validate(), ErrInvalidVault)
}

func TestRebalanceCadence_Interval(t *testing.T) {
	assert.Equal(t, time.Duration(0), CadenceManual.Interval())
	assert.Equal(t, 7*24*time.Hour, CadenceWeekly.Interval())
	assert.Equal(t, 30*24*time.Hour, CadenceMonthly.Interval())
	assert.Equal(t, 90*24*time.Hour, CadenceQuarterly.Interval())
	assert.Equal(t, 365*24*time.Hour, CadenceYearly.Interval())
}

func TestParseCadence(t *testing.T) {
	c, err := ParseCadence(" Weekly ")
	require.NoError(t, err)
	assert.Equal(t, CadenceWeekly, c)

	_, err = ParseCadence("hourly")
	assert.ErrorIs(t, err, ErrInvalidVault)
}

func TestVaultUpdate_Apply(t *testing.T) {
	threshold := int64(250)
	auto := false
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	v := Vault{ID: "v1", DriftThresholdBp: 500, RebalanceCadence: CadenceWeekly, AutoRebalance: true}
	VaultUpdate{DriftThresholdBp: &threshold, AutoRebalance: &auto, LastRebalancedAt: &now}.Apply(&v)

	assert.Equal(t, int64(250), v.DriftThresholdBp)
	assert.False(t, v.AutoRebalance)
	assert.Equal(t, CadenceWeekly, v.RebalanceCadence)
	require.NotNil(t, v.LastRebalancedAt)
	assert.True(t, now.Equal(*v.LastRebalancedAt))
}

func TestEstimateGas(t *testing.T) {
	assert.Equal(t, int64(1_000_000), EstimateGas(0))
	assert.Equal(t, int64(6_000_000), EstimateGas(2))
}

func TestHistoryStatus(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusPartial.Terminal())
	assert.True(t, StatusFailed.Retryable())
	assert.True(t, StatusPartial.Retryable())
	assert.False(t, StatusCompleted.Retryable())
	assert.False(t, StatusPending.Retryable())
}

func TestHistoryEntry_CompletedAmountUSD(t *testing.T) {
	h := HistoryEntry{Outcomes: []InstructionOutcome{
		{Instruction: RebalanceInstruction{AmountUSD: decimal.NewFromInt(100)}, Status: InstructionCompleted},
		{Instruction: RebalanceInstruction{AmountUSD: decimal.NewFromInt(40)}, Status: InstructionFailed},
		{Instruction: RebalanceInstruction{AmountUSD: decimal.NewFromInt(25)}, Status: InstructionCompleted},
	}}
	assert.True(t, decimal.NewFromInt(125).Equal(h.CompletedAmountUSD()))
}

func TestTakeProfitSetting_Validate(t *testing.T) {
	base := TakeProfitSetting{
		VaultID:          "v1",
		Strategy:         TakeProfitPercentageThreshold,
		ThresholdPct:     decimal.NewFromInt(20),
		SellPct:          decimal.NewFromInt(100),
		BaselineUSD:      decimal.NewFromInt(1000),
		DestinationAsset: "USDC",
	}
	require.NoError(t, base.Validate())

	noThreshold := base
	noThreshold.ThresholdPct = decimal.Zero
	assert.ErrorIs(t, noThreshold.Validate(), ErrInvalidTakeProfit)

	interval := base
	interval.Strategy = TakeProfitScheduledInterval
	assert.ErrorIs(t, interval.Validate(), ErrInvalidTakeProfit)
	interval.Interval = 24 * time.Hour
	assert.NoError(t, interval.Validate())

	oversell := base
	oversell.SellPct = decimal.NewFromInt(101)
	assert.ErrorIs(t, oversell.Validate(), ErrInvalidTakeProfit)
}

func TestPrice_Change24hPct(t *testing.T) {
	p := Price{Asset: "BTC", Current: decimal.NewFromInt(110), Previous24h: held("100")}
	pct, ok := p.Change24hPct()
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(10).Equal(pct))

	_, ok = Price{Asset: "BTC", Current: decimal.NewFromInt(110)}.Change24hPct()
	assert.False(t, ok)
}

func TestMissingPriceError(t *testing.T) {
	err := fmt.Errorf("valuate: %w", &MissingPriceError{Asset: "SOL"})
	assert.ErrorIs(t, err, ErrMissingPrice)

	var mp *MissingPriceError
	require.True(t, errors.As(err, &mp))
	assert.Equal(t, "SOL", mp.Asset)
}
