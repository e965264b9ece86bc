package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dca_bot/internal/models"
	candles "dca_bot/internal/modules/candles/service"
	"dca_bot/internal/modules/config"
	"dca_bot/pkg/kv"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  string
}

func (f *fakeFetcher) GetCandles(_ context.Context, symbol, tf string, limit int) ([]models.CandleTick, error) {
	f.mu.Lock()
	f.calls[symbol+"/"+tf] = limit
	f.mu.Unlock()
	if symbol == f.fail {
		return nil, errors.New("okx 50011: too many requests")
	}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.CandleTick, 0, 5)
	for i := 0; i < 5; i++ {
		out = append(out, models.CandleTick{InstID: symbol, Close: 100 + float64(i), Start: base.Add(time.Duration(i) * 15 * time.Minute)})
	}
	return out, nil
}

type serviceLog struct {
	mu   sync.Mutex
	msgs []string
}

func (s *serviceLog) NotifyService(msg string) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func warmConfig() *config.Config {
	return &config.Config{
		Candles: config.CandlesConfig{MaxBars: 100, WarmupBars: 50},
		Accounts: []config.AccountConfig{
			{Name: "a", Symbols: []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}, Timeframes: []string{"15m"}},
			{Name: "b", Symbols: []string{"BTC-USDT-SWAP"}, Timeframes: []string{"15m", "1h"}},
		},
	}
}

func Test_Warmup_SeedsEveryPair(t *testing.T) {
	ctx := context.Background()
	store := candles.NewStore(kv.NewMemoryStore(), config.CandlesConfig{MaxBars: 100}, zap.NewNop(), nil)
	src := &fakeFetcher{calls: map[string]int{}}
	n := &serviceLog{}

	w := NewWarmuper(warmConfig(), src, store, n, zap.NewNop())
	total, err := w.Warmup(ctx)
	require.NoError(t, err)
	require.Equal(t, 15, total)
	require.Equal(t, map[string]int{"BTC-USDT-SWAP/15m": 50, "BTC-USDT-SWAP/1h": 50, "ETH-USDT-SWAP/15m": 50}, src.calls)

	bars, err := store.All(ctx, "ETH-USDT-SWAP", "15m")
	require.NoError(t, err)
	require.Len(t, bars, 5)
	require.Len(t, n.msgs, 2)
}

func Test_Warmup_OneFailureDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	store := candles.NewStore(kv.NewMemoryStore(), config.CandlesConfig{MaxBars: 100}, zap.NewNop(), nil)
	src := &fakeFetcher{calls: map[string]int{}, fail: "ETH-USDT-SWAP"}

	w := NewWarmuper(warmConfig(), src, store, nil, zap.NewNop())
	total, err := w.Warmup(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ETH-USDT-SWAP")
	require.Equal(t, 10, total)

	bars, err := store.All(ctx, "BTC-USDT-SWAP", "1h")
	require.NoError(t, err)
	require.Len(t, bars, 5)
}
