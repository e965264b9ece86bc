package service

import (
	"context"
	"testing"
	"time"

	"dca_bot/internal/models"
	"dca_bot/internal/modules/config"
	"dca_bot/pkg/kv"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func bar(i int, px float64) models.CandleTick {
	start := base.Add(time.Duration(i) * 15 * time.Minute)
	return models.CandleTick{
		InstID:       "BTC-USDT-SWAP",
		Open:         px,
		High:         px + 1,
		Low:          px - 1,
		Close:        px,
		Start:        start,
		End:          start.Add(15 * time.Minute),
		TimeframeRaw: "15m",
	}
}

func newRedisCandles(t *testing.T, maxBars int) *Store {
	mr := miniredis.RunT(t)
	client := kv.NewRedisClient(kv.RedisOptions{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(kv.NewRedisStore(client), config.CandlesConfig{MaxBars: maxBars}, zap.NewNop(), nil)
}

func Test_Candles_AppendKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := newRedisCandles(t, 3)

	for i := 0; i < 5; i++ {
		ok, err := s.Append(ctx, "15m", bar(i, 100+float64(i)))
		require.NoError(t, err)
		require.True(t, ok)
	}

	// тот же бар ещё раз: замена
	ok, err := s.Append(ctx, "15m", bar(4, 200))
	require.NoError(t, err)
	require.True(t, ok)

	// старый бар: отброшен
	ok, err = s.Append(ctx, "15m", bar(1, 300))
	require.NoError(t, err)
	require.False(t, ok)

	all, err := s.All(ctx, "BTC-USDT-SWAP", "15m")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []float64{102, 103, 200}, []float64{all[0].Close, all[1].Close, all[2].Close})
	require.True(t, all[0].Start.Equal(bar(2, 0).Start))

	last, err := s.Last(ctx, "BTC-USDT-SWAP", "15m", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	require.Equal(t, 103.0, last[0].Close)

	_, err = s.Append(ctx, "15m", models.CandleTick{InstID: "BTC-USDT-SWAP"})
	require.Error(t, err)
}

func Test_Candles_Seed(t *testing.T) {
	ctx := context.Background()
	s := NewStore(kv.NewMemoryStore(), config.CandlesConfig{MaxBars: 4}, zap.NewNop(), nil)

	_, err := s.Append(ctx, "15m", bar(5, 105))
	require.NoError(t, err)

	// OKX отдаёт историю от новых к старым
	hist := []models.CandleTick{bar(4, 104), bar(3, 103), bar(2, 102), bar(1, 101), bar(0, 100)}
	n, err := s.Seed(ctx, "BTC-USDT-SWAP", "15m", hist)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	all, err := s.All(ctx, "BTC-USDT-SWAP", "15m")
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, c := range all {
		require.Equal(t, 102+float64(i), c.Close)
	}

	empty, err := s.Last(ctx, "ETH-USDT-SWAP", "15m", 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}
