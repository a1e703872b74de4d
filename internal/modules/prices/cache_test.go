package prices

import (
	"context"
	"errors"
	"sync"
	"testing"

	testutil "github.com/aristath/vaultpilot/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleCache_ReadThrough(t *testing.T) {
	source := testutil.NewMockPriceSource(testutil.NewPriceFixtures())
	cache := NewCycleCache(source)
	ctx := context.Background()

	got, err := cache.GetPrices(ctx, []string{"BTC", "ETH", "SOL"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, source.Calls())

	// Hits and remembered misses do not reach the source
	got, err = cache.GetPrices(ctx, []string{"BTC", "SOL"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, source.Calls())
	assert.Equal(t, 3, cache.Size())

	// A snapshot does not change mid-tick
	source.SetPrice("BTC", testutil.Dec("1"))
	got, err = cache.GetPrices(ctx, []string{"BTC", "USDC"})
	require.NoError(t, err)
	assert.True(t, testutil.Dec("60000").Equal(got["BTC"].Current))
	assert.Equal(t, 2, source.Calls())
}

func TestCycleCache_ErrorsNotCached(t *testing.T) {
	source := testutil.NewMockPriceSource(testutil.NewPriceFixtures())
	source.SetError(errors.New("feed down"))
	cache := NewCycleCache(source)

	_, err := cache.GetPrices(context.Background(), []string{"BTC"})
	require.Error(t, err)

	source.SetError(nil)
	got, err := cache.GetPrices(context.Background(), []string{"BTC"})
	require.NoError(t, err)
	assert.Contains(t, got, "BTC")
}

func TestCycleCache_Concurrent(t *testing.T) {
	source := testutil.NewMockPriceSource(testutil.NewPriceFixtures())
	cache := NewCycleCache(source)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.GetPrices(context.Background(), []string{"ETH", "BTC"})
			assert.NoError(t, err)
			assert.Len(t, got, 2)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, source.Calls(), 16)
	assert.Equal(t, 2, cache.Size())
}
