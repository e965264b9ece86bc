package helper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Helper_BarBoundary(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 7, 30, 0, time.UTC)

	require.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), BarStart(now, "15m"))
	require.Equal(t, 7*time.Minute+30*time.Second, UntilNextBar(now, "15m"))
	require.Equal(t, 30*time.Second, UntilNextBar(now, "1m"))
	require.Equal(t, 52*time.Minute+30*time.Second, UntilNextBar(now, "1H"))
	require.Zero(t, UntilNextBar(now, "7m"))
}

func Test_Helper_RoundToLot(t *testing.T) {
	require.InDelta(t, 1.2, RoundToLot(1.27, 0.1, 0.1), 1e-9)
	require.Zero(t, RoundToLot(0.05, 0.01, 0.1))
	require.InDelta(t, 3, RoundToLot(3, 0, 0), 1e-9)
}

func Test_Helper_Keys(t *testing.T) {
	k := Key("position", "acc1", "BTC-USDT-SWAP", "long")
	require.Equal(t, "position:acc1:BTC-USDT-SWAP:long", k)

	parts, err := SplitKey(k, "position", 3)
	require.NoError(t, err)
	require.Equal(t, []string{"acc1", "BTC-USDT-SWAP", "long"}, parts)

	_, err = SplitKey(k, "lock", 3)
	require.Error(t, err)
}

func Test_OKXBar(t *testing.T) {
	for in, want := range map[string]string{"15m": "15m", "1h": "1H", "60m": "1H", "4H": "4H", "1d": "1D"} {
		got, err := OKXBar(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := OKXBar("7m")
	require.Error(t, err)
}
