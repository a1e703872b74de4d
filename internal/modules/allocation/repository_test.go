package allocation

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	testutil "github.com/aristath/vaultpilot/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testutil.NewTestDB(t, "vaults")
	t.Cleanup(cleanup)
	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func createVault(t *testing.T, repo *Repository, id string) *domain.Vault {
	t.Helper()
	v := testutil.NewVaultFixture(id)
	require.NoError(t, repo.CreateVault(context.Background(), v))
	return v
}

func TestCreateAndGetVault(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	created := createVault(t, repo, "v1")

	got, err := repo.GetVault(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "owner-v1", got.OwnerRef)
	assert.Equal(t, int64(500), got.DriftThresholdBp)
	assert.Equal(t, domain.CadenceMonthly, got.RebalanceCadence)
	assert.True(t, got.AutoRebalance)
	require.NotNil(t, got.LastRebalancedAt)
	assert.Equal(t, created.LastRebalancedAt.Unix(), got.LastRebalancedAt.Unix())

	err = repo.CreateVault(ctx, testutil.NewVaultFixture("v1"))
	assert.ErrorIs(t, err, domain.ErrVaultExists)
}

func TestCreateVault_Validates(t *testing.T) {
	repo := setupRepo(t)
	v := testutil.NewVaultFixture("v1")
	v.DriftThresholdBp = 0

	assert.ErrorIs(t, repo.CreateVault(context.Background(), v), domain.ErrInvalidVault)
}

func TestGetVault_NotFound(t *testing.T) {
	repo := setupRepo(t)
	_, err := repo.GetVault(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrVaultNotFound)
}

func TestListVaults_OrderedByID(t *testing.T) {
	repo := setupRepo(t)
	createVault(t, repo, "b")
	createVault(t, repo, "a")

	vaults, err := repo.ListVaults(context.Background())
	require.NoError(t, err)
	require.Len(t, vaults, 2)
	assert.Equal(t, "a", vaults[0].ID)
	assert.Equal(t, "b", vaults[1].ID)
}

func TestUpdateVault(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	createVault(t, repo, "v1")

	threshold := int64(300)
	cadence := domain.CadenceWeekly
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	updated, err := repo.UpdateVault(ctx, "v1", domain.VaultUpdate{
		DriftThresholdBp: &threshold,
		RebalanceCadence: &cadence,
		LastRebalancedAt: &at,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(300), updated.DriftThresholdBp)

	got, err := repo.GetVault(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, domain.CadenceWeekly, got.RebalanceCadence)
	assert.True(t, at.Equal(*got.LastRebalancedAt))

	bad := int64(20000)
	_, err = repo.UpdateVault(ctx, "v1", domain.VaultUpdate{DriftThresholdBp: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidVault)

	_, err = repo.UpdateVault(ctx, "missing", domain.VaultUpdate{})
	assert.ErrorIs(t, err, domain.ErrVaultNotFound)
}

func TestSetAllocations_ValidatesSum(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	createVault(t, repo, "v1")

	err := repo.SetAllocations(ctx, "v1", []domain.Allocation{
		{Asset: "BTC", TargetBp: 6000},
		{Asset: "ETH", TargetBp: 3000},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAllocationSet)

	allocs, err := repo.GetAllocations(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, allocs, "rejected set must not be partially written")
}

func TestSetAllocations_ReplacesAndKeepsHoldings(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	createVault(t, repo, "v1")

	require.NoError(t, repo.SetAllocations(ctx, "v1", testutil.NewDriftedAllocations("v1")))

	// Retarget without holdings: BTC keeps 0.01, SOL starts unreported
	require.NoError(t, repo.SetAllocations(ctx, "v1", []domain.Allocation{
		{Asset: "BTC", TargetBp: 7000},
		{Asset: "SOL", TargetBp: 3000},
	}))

	allocs, err := repo.GetAllocations(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	assert.Equal(t, "BTC", allocs[0].Asset)
	assert.Equal(t, int64(7000), allocs[0].TargetBp)
	require.NotNil(t, allocs[0].AmountHeld)
	assert.True(t, testutil.Dec("0.01").Equal(*allocs[0].AmountHeld))
	assert.Equal(t, "SOL", allocs[1].Asset)
	assert.Nil(t, allocs[1].AmountHeld)
}

func TestSetAllocations_UnknownVault(t *testing.T) {
	repo := setupRepo(t)
	err := repo.SetAllocations(context.Background(), "missing", testutil.NewDriftedAllocations("missing"))
	assert.ErrorIs(t, err, domain.ErrVaultNotFound)
}

func TestDeleteVault_CascadesAllocations(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	createVault(t, repo, "v1")
	require.NoError(t, repo.SetAllocations(ctx, "v1", testutil.NewDriftedAllocations("v1")))

	require.NoError(t, repo.DeleteVault(ctx, "v1"))

	allocs, err := repo.GetAllocations(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, allocs)
	assert.ErrorIs(t, repo.DeleteVault(ctx, "v1"), domain.ErrVaultNotFound)
}

func TestSetHoldings(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	createVault(t, repo, "v1")
	require.NoError(t, repo.SetAllocations(ctx, "v1", []domain.Allocation{
		{Asset: "BTC", TargetBp: 5000},
		{Asset: "ETH", TargetBp: 5000},
	}))

	require.NoError(t, repo.SetHoldings(ctx, "v1", map[string]decimal.Decimal{"BTC": testutil.Dec("0.5")}))

	allocs, err := repo.GetAllocations(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, allocs[0].AmountHeld)
	assert.True(t, testutil.Dec("0.5").Equal(*allocs[0].AmountHeld))
	assert.Nil(t, allocs[1].AmountHeld)

	err = repo.SetHoldings(ctx, "v1", map[string]decimal.Decimal{"DOGE": testutil.Dec("1")})
	assert.ErrorIs(t, err, domain.ErrInvalidAllocationSet)
}

func TestAdjustHolding(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	createVault(t, repo, "v1")
	require.NoError(t, repo.SetAllocations(ctx, "v1", []domain.Allocation{
		{Asset: "BTC", TargetBp: 5000, AmountHeld: testutil.DecPtr("1")},
		{Asset: "ETH", TargetBp: 5000},
	}))

	require.NoError(t, repo.AdjustHolding(ctx, "v1", "BTC", testutil.Dec("-0.25")))
	require.NoError(t, repo.AdjustHolding(ctx, "v1", "ETH", testutil.Dec("2")))
	require.NoError(t, repo.AdjustHolding(ctx, "v1", "USDC", testutil.Dec("100")), "unallocated asset is ignored")
	assert.Error(t, repo.AdjustHolding(ctx, "v1", "BTC", testutil.Dec("-5")))

	allocs, err := repo.GetAllocations(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, testutil.Dec("0.75").Equal(*allocs[0].AmountHeld))
	assert.True(t, testutil.Dec("2").Equal(*allocs[1].AmountHeld))
}
