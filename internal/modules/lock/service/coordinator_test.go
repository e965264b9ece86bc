package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"
	"dca_bot/pkg/kv"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCoordinator(t *testing.T) (*Coordinator, *kv.MemoryStore, *testClock) {
	t.Helper()
	clk := &testClock{now: time.Date(2024, 3, 1, 10, 7, 30, 0, time.UTC)}
	store := kv.NewMemoryStore(kv.WithClock(clk.Now))
	c := NewCoordinator(store, config.LockConfig{
		TTL:              30 * time.Second,
		CooldownTTL:      15 * time.Minute,
		FailureThreshold: 3,
		StaleAfter:       60 * time.Second,
	}, zap.NewNop(), nil)
	c.now = clk.Now
	return c, store, clk
}

func Test_Coordinator_MutualExclusion(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	const workers = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		helds  []*HeldError
		others []error
	)
	key := MutationKey("acc", "BTC-USDT-SWAP", models.PosLong, "15m")

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := c.Acquire(ctx, key, 0)

			mu.Lock()
			defer mu.Unlock()
			var held *HeldError
			switch {
			case err == nil && lease != nil:
				wins++
			case errors.As(err, &held):
				helds = append(helds, held)
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Empty(t, others)
	require.Len(t, helds, workers-1)
	for _, h := range helds {
		require.ErrorIs(t, h, models.ErrLockHeld)
		require.Greater(t, h.Remaining, time.Duration(0))
	}
}

func Test_Coordinator_LostLockNotDeletedByOldOwner(t *testing.T) {
	c, store, clk := newTestCoordinator(t)
	ctx := context.Background()
	key := MutationKey("acc", "ETH-USDT-SWAP", models.PosShort, "15m")

	first, err := c.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)

	clk.Advance(11 * time.Second)

	second, err := c.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)

	ok, err := c.Release(ctx, first)
	require.NoError(t, err)
	require.False(t, ok)

	v, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, second.Token, v)

	ok, err = c.Release(ctx, second)
	require.NoError(t, err)
	require.True(t, ok)
}

func Test_Coordinator_Extend(t *testing.T) {
	c, store, clk := newTestCoordinator(t)
	ctx := context.Background()

	lease, err := c.AcquireMutation(ctx, "acc", "BTC-USDT-SWAP", "", "15m")
	require.NoError(t, err)
	require.Equal(t, "lock:acc:BTC-USDT-SWAP:any:15m", lease.Key)
	require.Equal(t, "lock:acc:BTC-USDT-SWAP:long:any", MutationKey("acc", "BTC-USDT-SWAP", models.PosLong, ""))

	clk.Advance(20 * time.Second)
	ok, err := c.Extend(ctx, lease, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(30 * time.Second)
	_, err = store.Get(ctx, lease.Key)
	require.NoError(t, err)
}

func Test_Coordinator_CandleLockExpiresAtBarBoundary(t *testing.T) {
	c, _, clk := newTestCoordinator(t)
	ctx := context.Background()

	lease, err := c.AcquireCandleLock(ctx, "acc", "BTC-USDT-SWAP", models.PosLong, "15m")
	require.NoError(t, err)
	require.Equal(t, 7*time.Minute+30*time.Second, lease.TTL)

	_, err = c.AcquireCandleLock(ctx, "acc", "BTC-USDT-SWAP", models.PosLong, "15m")
	var held *HeldError
	require.ErrorAs(t, err, &held)
	require.Equal(t, 7*time.Minute+30*time.Second, held.Remaining)

	// другая сторона: свой лок
	_, err = c.AcquireCandleLock(ctx, "acc", "BTC-USDT-SWAP", models.PosShort, "15m")
	require.NoError(t, err)

	clk.Advance(7*time.Minute + 30*time.Second)
	_, err = c.AcquireCandleLock(ctx, "acc", "BTC-USDT-SWAP", models.PosLong, "15m")
	require.NoError(t, err)

	_, err = c.AcquireCandleLock(ctx, "acc", "BTC-USDT-SWAP", models.PosLong, "7m")
	require.ErrorIs(t, err, models.ErrMissingSetting)
}

func Test_Coordinator_Cooldown(t *testing.T) {
	c, _, clk := newTestCoordinator(t)
	ctx := context.Background()

	left, err := c.Cooldown(ctx, "acc", "BTC-USDT-SWAP", models.PosLong)
	require.NoError(t, err)
	require.Zero(t, left)

	require.NoError(t, c.SetCooldown(ctx, "acc", "BTC-USDT-SWAP", models.PosLong))
	left, err = c.Cooldown(ctx, "acc", "BTC-USDT-SWAP", models.PosLong)
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, left)

	clk.Advance(15 * time.Minute)
	left, err = c.Cooldown(ctx, "acc", "BTC-USDT-SWAP", models.PosLong)
	require.NoError(t, err)
	require.Zero(t, left)
}

func Test_Coordinator_EntryFailureBreaker(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		halted, _, err := c.Halted(ctx, "acc", "SOL-USDT-SWAP")
		require.NoError(t, err)
		require.False(t, halted)

		n, err := c.IncrementFailures(ctx, "acc", "SOL-USDT-SWAP")
		require.NoError(t, err)
		require.EqualValues(t, i, n)
	}

	halted, n, err := c.Halted(ctx, "acc", "SOL-USDT-SWAP")
	require.NoError(t, err)
	require.True(t, halted)
	require.EqualValues(t, 3, n)

	// другой символ не затронут
	halted, _, err = c.Halted(ctx, "acc", "BTC-USDT-SWAP")
	require.NoError(t, err)
	require.False(t, halted)

	require.NoError(t, c.ResetFailures(ctx, "acc", "SOL-USDT-SWAP"))
	halted, _, err = c.Halted(ctx, "acc", "SOL-USDT-SWAP")
	require.NoError(t, err)
	require.False(t, halted)
}

// racyStore: SETNX проигрывает, а ключа к PTTL уже нет.
type racyStore struct {
	kv.Store
	lose    int // сколько первых SETNX проиграть
	setnx   int
	pttlErr error
}

func (r *racyStore) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	r.setnx++
	if r.setnx <= r.lose {
		return false, nil
	}
	return r.Store.SetNX(ctx, key, val, ttl)
}

func (r *racyStore) PTTL(ctx context.Context, key string) (time.Duration, error) {
	if r.pttlErr != nil {
		return 0, r.pttlErr
	}
	return r.Store.PTTL(ctx, key)
}

func newRacyCoordinator(store kv.Store) *Coordinator {
	return NewCoordinator(store, config.LockConfig{TTL: 30 * time.Second, StaleAfter: time.Minute}, zap.NewNop(), nil)
}

func Test_Coordinator_HolderVanishedBeforePTTL(t *testing.T) {
	ctx := context.Background()

	// ключ освободился: вторая попытка SETNX берёт лок
	store := &racyStore{Store: kv.NewMemoryStore(), lose: 1}
	lease, err := newRacyCoordinator(store).Acquire(ctx, "lock:acc:BTC-USDT-SWAP:long:any", 0)
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, 2, store.setnx)

	// проигрываем оба раза: Held с положительным остатком
	store = &racyStore{Store: kv.NewMemoryStore(), lose: 2}
	_, err = newRacyCoordinator(store).Acquire(ctx, "lock:acc:BTC-USDT-SWAP:long:any", 0)
	var held *HeldError
	require.ErrorAs(t, err, &held)
	require.ErrorIs(t, err, models.ErrLockHeld)
	require.Positive(t, held.Remaining)
	require.Equal(t, 2, store.setnx)
}

func Test_Coordinator_MarkRunningPTTLFailure(t *testing.T) {
	ctx := context.Background()
	store := &racyStore{Store: kv.NewMemoryStore(), lose: 1, pttlErr: errors.New("i/o timeout")}
	c := newRacyCoordinator(store)

	_, err := c.MarkRunning(ctx, "acc", "BTC-USDT-SWAP", "1m")
	var held *HeldError
	require.ErrorAs(t, err, &held)
	require.Positive(t, held.Remaining)

	// маркер пропал: тоже Held, остаток не нулевой
	store.pttlErr = nil
	store.lose, store.setnx = 2, 0
	_, err = c.MarkRunning(ctx, "acc", "BTC-USDT-SWAP", "1m")
	require.ErrorAs(t, err, &held)
	require.Positive(t, held.Remaining)
}
