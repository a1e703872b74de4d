package testing

import (
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/shopspring/decimal"
)

// FixedNow is the reference clock used by fixtures
var FixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Dec parses a decimal literal, panicking on malformed input
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DecPtr parses a decimal literal and returns its address
func DecPtr(s string) *decimal.Decimal {
	d := Dec(s)
	return &d
}

// NewVaultFixture returns a vault with a 5% threshold and monthly cadence,
// rebalanced one day before FixedNow
func NewVaultFixture(id string) *domain.Vault {
	last := FixedNow.Add(-24 * time.Hour)
	return &domain.Vault{
		ID:               id,
		OwnerRef:         "owner-" + id,
		DriftThresholdBp: 500,
		RebalanceCadence: domain.CadenceMonthly,
		LastRebalancedAt: &last,
		AutoRebalance:    true,
		CreatedAt:        FixedNow.Add(-90 * 24 * time.Hour),
		UpdatedAt:        FixedNow.Add(-24 * time.Hour),
	}
}

// NewDriftedAllocations returns a 50/50 BTC/ETH vault currently at 60/40
// with $1000 total value at the prices from NewPriceFixtures
func NewDriftedAllocations(vaultID string) []domain.Allocation {
	return []domain.Allocation{
		{VaultID: vaultID, Asset: "BTC", TargetBp: 5000, AmountHeld: DecPtr("0.01")},
		{VaultID: vaultID, Asset: "ETH", TargetBp: 5000, AmountHeld: DecPtr("0.2")},
	}
}

// NewBalancedAllocations returns a 60/20/20 BTC/ETH/USDC vault exactly on target
// with $10000 total value at the prices from NewPriceFixtures
func NewBalancedAllocations(vaultID string) []domain.Allocation {
	return []domain.Allocation{
		{VaultID: vaultID, Asset: "BTC", TargetBp: 6000, AmountHeld: DecPtr("0.1")},
		{VaultID: vaultID, Asset: "ETH", TargetBp: 2000, AmountHeld: DecPtr("1")},
		{VaultID: vaultID, Asset: "USDC", TargetBp: 2000, AmountHeld: DecPtr("2000")},
	}
}

// NewPriceFixtures returns prices for BTC ($60000), ETH ($2000) and USDC ($1)
func NewPriceFixtures() map[string]domain.Price {
	return map[string]domain.Price{
		"BTC":  {Asset: "BTC", Current: Dec("60000"), UpdatedAt: FixedNow},
		"ETH":  {Asset: "ETH", Current: Dec("2000"), UpdatedAt: FixedNow},
		"USDC": {Asset: "USDC", Current: Dec("1"), UpdatedAt: FixedNow},
	}
}
