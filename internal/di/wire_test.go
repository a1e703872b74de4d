package di

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/vaultpilot/internal/config"
	"github.com/aristath/vaultpilot/internal/domain"
	testutil "github.com/aristath/vaultpilot/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)
	log := zerolog.Nop()

	container, jobs, err := Wire(context.Background(), cfg, log)
	require.NoError(t, err)
	require.NotNil(t, container)
	require.NotNil(t, jobs)
	t.Cleanup(container.Close)

	assert.NotNil(t, container.VaultsDB)
	assert.NotNil(t, container.LedgerDB)
	assert.NotNil(t, container.RebalancingService)
	assert.NotNil(t, container.TakeProfitService)
	assert.NotNil(t, container.Scheduler)
	assert.Nil(t, container.BackupService, "backups are disabled by default")
	assert.Len(t, container.Databases(), 2)

	assert.ElementsMatch(t, []string{
		"vault_cycle",
		"prune_price_history",
		"purge_leases",
		"fail_stale_pending",
		"wal_checkpoint",
		"daily_maintenance",
	}, container.Scheduler.Jobs())

	byName := jobs.ByName()
	assert.Len(t, byName, 6)
	assert.Same(t, jobs.VaultCycle, byName["vault_cycle"])
}

func TestWire_InvalidTickSpec(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cycle.TickSpec = "not a schedule"

	_, _, err := Wire(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "failed to register jobs")
}

func TestWire_TickRebalancesVault(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	container, jobs, err := Wire(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(container.Close)

	require.NoError(t, container.VaultRepo.CreateVault(ctx, testutil.NewVaultFixture("v1")))
	require.NoError(t, container.VaultRepo.SetAllocations(ctx, "v1", testutil.NewDriftedAllocations("v1")))
	var quotes []domain.Price
	for _, p := range testutil.NewPriceFixtures() {
		p.UpdatedAt = time.Time{}
		quotes = append(quotes, p)
	}
	require.NoError(t, container.PriceRepo.UpsertPrices(ctx, quotes))

	report, err := jobs.VaultCycle.RunTick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 1, report.Rebalanced)

	entries, err := container.HistoryRepo.ListHistory(ctx, domain.HistoryRebalance, "v1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusCompleted, entries[0].Status)
}
