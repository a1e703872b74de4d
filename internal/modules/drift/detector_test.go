package drift

import (
	"testing"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	testutil "github.com/aristath/vaultpilot/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDetector() *Detector {
	return NewDetector(zerolog.New(nil).Level(zerolog.Disabled))
}

func valuationWithDrift(driftBp int64) *domain.Valuation {
	return &domain.Valuation{
		VaultID:  "v1",
		TotalUSD: testutil.Dec("1000"),
		Assets: []domain.AssetValuation{
			{Asset: "BTC", TargetBp: 5000, CurrentBp: 5000 + driftBp, DriftBp: driftBp},
			{Asset: "ETH", TargetBp: 5000, CurrentBp: 5000 - driftBp, DriftBp: driftBp},
		},
	}
}

func TestEvaluate_ThresholdIsStrict(t *testing.T) {
	tests := []struct {
		name    string
		driftBp int64
		want    bool
	}{
		{"below threshold", 499, false},
		{"exactly at threshold", 500, false},
		{"one bp over threshold", 501, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vault := testutil.NewVaultFixture("v1")
			res := newDetector().Evaluate(vault, valuationWithDrift(tt.driftBp), testutil.FixedNow)
			assert.Equal(t, tt.want, res.NeedsRebalance)
		})
	}
}

func TestEvaluate_DriftReasonsNameAssets(t *testing.T) {
	vault := testutil.NewVaultFixture("v1")
	res := newDetector().Evaluate(vault, valuationWithDrift(1000), testutil.FixedNow)

	require.True(t, res.NeedsRebalance)
	require.Len(t, res.Reasons, 2)
	assert.Equal(t, "BTC", res.Reasons[0].Asset)
	assert.Equal(t, int64(1000), res.Reasons[0].DriftBp)
	assert.Equal(t, domain.TriggerDrift, res.Trigger())
	assert.Contains(t, res.Strings()[0], "BTC drift 1000bp exceeds 500bp")
}

func TestEvaluate_ScheduleTrigger(t *testing.T) {
	vault := testutil.NewVaultFixture("v1")
	vault.RebalanceCadence = domain.CadenceWeekly

	eightDaysAgo := testutil.FixedNow.Add(-8 * 24 * time.Hour)
	vault.LastRebalancedAt = &eightDaysAgo

	res := newDetector().Evaluate(vault, valuationWithDrift(0), testutil.FixedNow)
	require.True(t, res.NeedsRebalance)
	require.Len(t, res.Reasons, 1)
	assert.Equal(t, ReasonSchedule, res.Reasons[0].Kind)
	assert.Equal(t, domain.TriggerScheduled, res.Trigger())
}

func TestEvaluate_ScheduleBoundary(t *testing.T) {
	vault := testutil.NewVaultFixture("v1")
	vault.RebalanceCadence = domain.CadenceWeekly

	justUnder := testutil.FixedNow.Add(-7*24*time.Hour + time.Second)
	vault.LastRebalancedAt = &justUnder
	assert.False(t, newDetector().Evaluate(vault, valuationWithDrift(0), testutil.FixedNow).NeedsRebalance)

	exactly := testutil.FixedNow.Add(-7 * 24 * time.Hour)
	vault.LastRebalancedAt = &exactly
	assert.True(t, newDetector().Evaluate(vault, valuationWithDrift(0), testutil.FixedNow).NeedsRebalance)
}

func TestEvaluate_NeverRebalancedTriggersSchedule(t *testing.T) {
	vault := testutil.NewVaultFixture("v1")
	vault.LastRebalancedAt = nil

	res := newDetector().Evaluate(vault, valuationWithDrift(0), testutil.FixedNow)
	assert.True(t, res.NeedsRebalance)
	assert.Contains(t, res.Strings()[0], "never rebalanced")
}

func TestEvaluate_ManualCadenceNeverSchedules(t *testing.T) {
	vault := testutil.NewVaultFixture("v1")
	vault.RebalanceCadence = domain.CadenceManual
	vault.LastRebalancedAt = nil

	assert.False(t, newDetector().Evaluate(vault, valuationWithDrift(0), testutil.FixedNow).NeedsRebalance)
}

func TestEvaluate_EmptyValuationNeverTriggers(t *testing.T) {
	vault := testutil.NewVaultFixture("v1")
	vault.LastRebalancedAt = nil

	res := newDetector().Evaluate(vault, &domain.Valuation{Empty: true}, testutil.FixedNow)
	assert.False(t, res.NeedsRebalance)
	assert.False(t, newDetector().Evaluate(vault, nil, testutil.FixedNow).NeedsRebalance)
}

func TestEvaluate_ReasonOrder(t *testing.T) {
	vault := testutil.NewVaultFixture("v1")
	vault.LastRebalancedAt = nil

	// Assets arrive out of symbol order
	val := &domain.Valuation{
		VaultID:  "v1",
		TotalUSD: testutil.Dec("1000"),
		Assets: []domain.AssetValuation{
			{Asset: "USDC", TargetBp: 2000, CurrentBp: 1000, DriftBp: 1000},
			{Asset: "BTC", TargetBp: 5000, CurrentBp: 5800, DriftBp: 800},
			{Asset: "ETH", TargetBp: 3000, CurrentBp: 3200, DriftBp: 200},
		},
	}

	res := newDetector().Evaluate(vault, val, testutil.FixedNow)
	require.Len(t, res.Reasons, 3)
	assert.Equal(t, ReasonSchedule, res.Reasons[0].Kind)
	assert.Equal(t, "BTC", res.Reasons[1].Asset)
	assert.Equal(t, "USDC", res.Reasons[2].Asset)
	assert.Equal(t, domain.TriggerDrift, res.Trigger())
}

func TestEvaluate_Idempotent(t *testing.T) {
	eightDaysAgo := testutil.FixedNow.Add(-8 * 24 * time.Hour)

	tests := []struct {
		name    string
		cadence domain.RebalanceCadence
		last    *time.Time
		driftBp int64
		reasons int
	}{
		{"drift only", domain.CadenceMonthly, &eightDaysAgo, 900, 2},
		{"schedule only", domain.CadenceWeekly, &eightDaysAgo, 0, 1},
		{"schedule and drift", domain.CadenceWeekly, nil, 900, 3},
		{"nothing due", domain.CadenceMonthly, &eightDaysAgo, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vault := testutil.NewVaultFixture("v1")
			vault.RebalanceCadence = tt.cadence
			vault.LastRebalancedAt = tt.last
			val := valuationWithDrift(tt.driftBp)
			d := newDetector()

			first := d.Evaluate(vault, val, testutil.FixedNow)
			second := d.Evaluate(vault, val, testutil.FixedNow)

			assert.Equal(t, first, second)
			assert.Equal(t, first.Strings(), second.Strings())
			assert.Len(t, first.Reasons, tt.reasons)
			assert.Equal(t, tt.reasons > 0, first.NeedsRebalance)
		})
	}
}
