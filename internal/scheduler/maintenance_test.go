package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	"github.com/aristath/vaultpilot/internal/modules/history"
	"github.com/aristath/vaultpilot/internal/modules/leases"
	testutil "github.com/aristath/vaultpilot/internal/testing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	cutoff time.Time
}

func (f *fakePruner) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

func TestPricePruneJob(t *testing.T) {
	pruner := &fakePruner{}
	job := NewPricePruneJob(pruner, 48*time.Hour, quietLog)
	job.now = func() time.Time { return testutil.FixedNow }

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, testutil.FixedNow.Add(-48*time.Hour).Equal(pruner.cutoff))
}

func TestLeasePurgeJob(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "vaults")
	defer cleanup()
	repo := leases.NewRepository(db.Conn(), quietLog)

	ctx := context.Background()

	_, err := repo.Acquire(ctx, "v1", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, NewLeasePurgeJob(repo, quietLog).Run(ctx))

	removed, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed, "job already removed the expired row")
}

func TestStalePendingJob(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "ledger")
	defer cleanup()
	repo := history.NewRepository(db.Conn(), quietLog)
	ctx := context.Background()

	pending := func(id string, created time.Time) {
		require.NoError(t, repo.CreateHistory(ctx, &domain.HistoryEntry{
			ID:      id,
			VaultID: "v1",
			Kind:    domain.HistoryRebalance,
			Trigger: domain.TriggerDrift,
			Status:  domain.StatusPending,
			Outcomes: []domain.InstructionOutcome{
				{Instruction: domain.RebalanceInstruction{Sequence: 1, VaultID: "v1", FromAsset: "BTC", ToAsset: "ETH"}, Status: domain.InstructionPending},
			},
			AmountUSD:   decimal.NewFromInt(100),
			TotalFeeUSD: decimal.Zero,
			CreatedAt:   created,
		}))
	}
	pending("old", testutil.FixedNow.Add(-time.Hour))
	pending("fresh", testutil.FixedNow.Add(-time.Minute))

	job := NewStalePendingJob(repo, 10*time.Minute, quietLog)
	job.now = func() time.Time { return testutil.FixedNow }
	require.NoError(t, job.Run(ctx))

	old, err := repo.GetHistory(ctx, domain.HistoryRebalance, "old")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, old.Status)
	assert.Equal(t, domain.InstructionFailed, old.Outcomes[0].Status)
	assert.NotEmpty(t, old.FailureReason)

	fresh, err := repo.GetHistory(ctx, domain.HistoryRebalance, "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, fresh.Status)
}

func TestWALCheckpointJob(t *testing.T) {
	vaults, cleanupVaults := testutil.NewTestDB(t, "vaults")
	defer cleanupVaults()
	ledger, cleanupLedger := testutil.NewTestDB(t, "ledger")
	defer cleanupLedger()

	job := NewWALCheckpointJob(quietLog, vaults, ledger, nil)
	assert.Equal(t, "wal_checkpoint", job.Name())
	assert.NoError(t, job.Run(context.Background()))
}
