package leases

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/vaultpilot/internal/domain"
	testutil "github.com/aristath/vaultpilot/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupRepo(t *testing.T) (*Repository, *clock) {
	t.Helper()
	db, cleanup := testutil.NewTestDB(t, "vaults")
	t.Cleanup(cleanup)

	c := &clock{now: testutil.FixedNow}
	repo := NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
	repo.now = c.Now
	return repo, c
}

func TestAcquireRelease(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	lease, err := repo.Acquire(ctx, "v1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "v1", lease.VaultID)
	assert.True(t, lease.ExpiresAt.Equal(testutil.FixedNow.Add(time.Minute)))

	_, err = repo.Acquire(ctx, "v1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLeaseUnavailable)

	// Other vaults are independent
	other, err := repo.Acquire(ctx, "v2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.Release(ctx, other))

	require.NoError(t, repo.Release(ctx, lease))
	again, err := repo.Acquire(ctx, "v1", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, lease.Holder, again.Holder)
}

func TestAcquire_AfterExpiry(t *testing.T) {
	repo, c := setupRepo(t)
	ctx := context.Background()

	stale, err := repo.Acquire(ctx, "v1", time.Minute)
	require.NoError(t, err)

	c.Advance(time.Minute)
	fresh, err := repo.Acquire(ctx, "v1", time.Minute)
	require.NoError(t, err)

	// The stale holder cannot release the new lease
	require.NoError(t, repo.Release(ctx, stale))
	_, err = repo.Acquire(ctx, "v1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLeaseUnavailable)

	require.NoError(t, repo.Release(ctx, fresh))
}

func TestAcquire_Contended(t *testing.T) {
	repo, _ := setupRepo(t)

	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Acquire(context.Background(), "v1", time.Minute); err == nil {
				won.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrLeaseUnavailable)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
}

func TestPurgeExpired(t *testing.T) {
	repo, c := setupRepo(t)
	ctx := context.Background()

	_, err := repo.Acquire(ctx, "v1", time.Minute)
	require.NoError(t, err)
	_, err = repo.Acquire(ctx, "v2", time.Hour)
	require.NoError(t, err)

	c.Advance(2 * time.Minute)
	n, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRelease_Nil(t *testing.T) {
	repo, _ := setupRepo(t)
	assert.NoError(t, repo.Release(context.Background(), nil))
}
