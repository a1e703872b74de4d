package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// VaultStore provides vault and allocation reads plus the timestamp update
// performed after a rebalance
type VaultStore interface {
	GetVault(ctx context.Context, id string) (*Vault, error)
	ListVaults(ctx context.Context) ([]Vault, error)
	GetAllocations(ctx context.Context, vaultID string) ([]Allocation, error)
	UpdateVault(ctx context.Context, id string, update VaultUpdate) (*Vault, error)
}

// HoldingsWriter adjusts a vault's recorded holdings after a fill.
// Adjusting an asset the vault does not allocate to is a no-op.
type HoldingsWriter interface {
	AdjustHolding(ctx context.Context, vaultID, asset string, delta decimal.Decimal) error
}

// PriceSource resolves current prices. Assets without a usable price are
// absent from the returned map.
type PriceSource interface {
	GetPrices(ctx context.Context, assets []string) (map[string]Price, error)
}

// SwapExecutor quotes and executes single swaps
type SwapExecutor interface {
	Quote(ctx context.Context, instruction RebalanceInstruction) (*SwapQuote, error)
	Execute(ctx context.Context, instruction RebalanceInstruction, quote *SwapQuote) (*SwapResult, error)
}

// HistoryStore persists the rebalance and take-profit streams
type HistoryStore interface {
	CreateHistory(ctx context.Context, entry *HistoryEntry) error
	FinalizeHistory(ctx context.Context, kind HistoryKind, id string, fin HistoryFinalization) error
	GetHistory(ctx context.Context, kind HistoryKind, id string) (*HistoryEntry, error)
	FindRetry(ctx context.Context, kind HistoryKind, originalID string) (*HistoryEntry, error)
	ListHistory(ctx context.Context, kind HistoryKind, vaultID string, limit int) ([]HistoryEntry, error)
}

// TakeProfitStore persists take-profit settings
type TakeProfitStore interface {
	GetTakeProfitSetting(ctx context.Context, vaultID string) (*TakeProfitSetting, error)
	CreateTakeProfitSetting(ctx context.Context, setting *TakeProfitSetting) error
	UpdateTakeProfitSetting(ctx context.Context, setting *TakeProfitSetting) error
}

// Lease is an exclusive claim on a vault for the duration of one cycle
type Lease struct {
	VaultID   string    `json:"vault_id"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LeaseManager grants per-vault exclusivity across workers and processes
type LeaseManager interface {
	// Acquire returns ErrLeaseUnavailable when another holder owns an
	// unexpired lease on the vault
	Acquire(ctx context.Context, vaultID string, ttl time.Duration) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
}
