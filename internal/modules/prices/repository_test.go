package prices

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	testutil "github.com/aristath/vaultpilot/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T, maxAge time.Duration) *Repository {
	t.Helper()
	db, cleanup := testutil.NewTestDB(t, "vaults")
	t.Cleanup(cleanup)

	repo := NewRepository(db.Conn(), maxAge, zerolog.New(nil).Level(zerolog.Disabled))
	repo.now = func() time.Time { return testutil.FixedNow }
	return repo
}

func TestUpsertAndGetPrices(t *testing.T) {
	repo := setupRepo(t, 15*time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPrices(ctx, []domain.Price{
		{Asset: "btc", Current: testutil.Dec("60000")},
		{Asset: "ETH", Current: testutil.Dec("2000"), Previous24h: testutil.DecPtr("1900")},
	}))

	got, err := repo.GetPrices(ctx, []string{"BTC", "ETH", "SOL"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, testutil.Dec("60000").Equal(got["BTC"].Current))
	assert.True(t, got["BTC"].UpdatedAt.Equal(testutil.FixedNow))
	assert.Nil(t, got["BTC"].Previous24h)
	require.NotNil(t, got["ETH"].Previous24h)
	assert.True(t, testutil.Dec("1900").Equal(*got["ETH"].Previous24h))

	_, ok := got["SOL"]
	assert.False(t, ok, "missing assets are absent, never defaulted")

	require.NoError(t, repo.UpsertPrices(ctx, []domain.Price{{Asset: "BTC", Current: testutil.Dec("61000")}}))
	p, ok, err := repo.GetPrice(ctx, "BTC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, testutil.Dec("61000").Equal(p.Current))
}

func TestUpsertPrices_Rejects(t *testing.T) {
	repo := setupRepo(t, 0)
	ctx := context.Background()

	err := repo.UpsertPrices(ctx, []domain.Price{{Asset: "BTC", Current: testutil.Dec("0")}})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	err = repo.UpsertPrices(ctx, []domain.Price{{Asset: " ", Current: testutil.Dec("1")}})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	all, err := repo.ListPrices(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestGetPrices_StalenessGuard(t *testing.T) {
	repo := setupRepo(t, 15*time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPrices(ctx, []domain.Price{
		{Asset: "BTC", Current: testutil.Dec("60000"), UpdatedAt: testutil.FixedNow.Add(-16 * time.Minute)},
		{Asset: "ETH", Current: testutil.Dec("2000"), UpdatedAt: testutil.FixedNow.Add(-15 * time.Minute)},
	}))

	got, err := repo.GetPrices(ctx, []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.NotContains(t, got, "BTC")
	assert.Contains(t, got, "ETH")

	all, err := repo.ListPrices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetPrices_ReferenceFromHistory(t *testing.T) {
	repo := setupRepo(t, 0)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPrices(ctx, []domain.Price{
		{Asset: "BTC", Current: testutil.Dec("50000"), UpdatedAt: testutil.FixedNow.Add(-25 * time.Hour)},
	}))
	require.NoError(t, repo.UpsertPrices(ctx, []domain.Price{
		{Asset: "BTC", Current: testutil.Dec("55000"), UpdatedAt: testutil.FixedNow.Add(-2 * time.Hour)},
	}))
	require.NoError(t, repo.UpsertPrices(ctx, []domain.Price{
		{Asset: "BTC", Current: testutil.Dec("60000")},
	}))

	got, err := repo.GetPrices(ctx, []string{"BTC"})
	require.NoError(t, err)
	require.NotNil(t, got["BTC"].Previous24h)
	assert.True(t, testutil.Dec("50000").Equal(*got["BTC"].Previous24h))

	pct, ok := got["BTC"].Change24hPct()
	require.True(t, ok)
	assert.True(t, testutil.Dec("20").Equal(pct))
}

func TestPrune(t *testing.T) {
	repo := setupRepo(t, 0)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPrices(ctx, []domain.Price{
		{Asset: "BTC", Current: testutil.Dec("50000"), UpdatedAt: testutil.FixedNow.Add(-40 * 24 * time.Hour)},
	}))
	require.NoError(t, repo.UpsertPrices(ctx, []domain.Price{
		{Asset: "BTC", Current: testutil.Dec("60000")},
	}))

	n, err := repo.Prune(ctx, testutil.FixedNow.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// The current quote is untouched
	_, ok, err := repo.GetPrice(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, ok)
}
