package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dca_bot/internal/models"

	"github.com/stretchr/testify/require"
)

const testYAML = `
redis:
  addr: redis-in-file:6379
accounts:
  - name: main
    api_key: key-from-file
    symbols: [BTC-USDT-SWAP]
    timeframes: [15m]
    sides: [long]
    base_size: 10
ladder:
  pyramiding_value: 5
  scale_factor: 0.5
indicator:
  ma_type: %s
`

func writeConfig(t *testing.T, maType string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "values.yaml")
	body := []byte(fmt.Sprintf(testYAML, maType))
	require.NoError(t, os.WriteFile(p, body, 0o600))
	return p
}

func Test_Config_LoadWithDefaultsAndEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis-from-env:6379")
	t.Setenv("ACCOUNT_MAIN_API_SECRET", "secret-from-env")

	cfg, err := Load(writeConfig(t, "dema"))
	require.NoError(t, err)

	require.Equal(t, "redis-from-env:6379", cfg.Redis.Addr)
	require.Equal(t, MADEMA, cfg.Indicator.MAType)
	require.Equal(t, 30*time.Second, cfg.Lock.TTL)
	require.EqualValues(t, 3, cfg.Lock.FailureThreshold)
	require.Equal(t, 60*time.Second, cfg.Lock.StaleAfter)
	require.Equal(t, LadderPercent, cfg.Ladder.Method)
	require.Equal(t, 5, cfg.Ladder.MaxRungs)

	acc, ok := cfg.Account("main")
	require.True(t, ok)
	require.Equal(t, "key-from-file", acc.APIKey)
	require.Equal(t, "secret-from-env", acc.APISecret)
	require.Equal(t, []models.PosSide{models.PosLong}, acc.PosSides())

	dump := cfg.Dump()
	require.NotContains(t, dump, "secret-from-env")
	require.NotContains(t, dump, "key-from-file")
}

func Test_Config_UnsupportedIndicatorFailsFast(t *testing.T) {
	_, err := Load(writeConfig(t, "kama"))
	require.Error(t, err)
	require.ErrorIs(t, err, models.ErrUnsupportedIndicator)
}

func Test_Config_Validate(t *testing.T) {
	cfg, err := Load(writeConfig(t, "tema"))
	require.NoError(t, err)

	bad := *cfg
	bad.Accounts = nil
	require.ErrorIs(t, bad.Validate(), models.ErrMissingSetting)

	bad = *cfg
	bad.Ladder.Method = "fibonacci"
	require.ErrorIs(t, bad.Validate(), models.ErrMissingSetting)

	bad = *cfg
	bad.Indicator.MediumLen = bad.Indicator.FastLen
	require.ErrorIs(t, bad.Validate(), models.ErrMissingSetting)

	bad = *cfg
	bad.Accounts = []AccountConfig{{Name: "x", BaseSize: 1, Symbols: []string{"A"}, Timeframes: []string{"7m"}}}
	require.ErrorIs(t, bad.Validate(), models.ErrMissingSetting)
}

func Test_Config_Subscriptions(t *testing.T) {
	cfg := &Config{Accounts: []AccountConfig{
		{Name: "a", Symbols: []string{"ETH-USDT-SWAP", "BTC-USDT-SWAP"}, Timeframes: []string{"15m", "1H"}},
		{Name: "b", Symbols: []string{"BTC-USDT-SWAP", "SOL-USDT-SWAP"}, Timeframes: []string{"15m"}},
	}}

	subs := cfg.Subscriptions()
	require.Equal(t, []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP", "SOL-USDT-SWAP"}, subs["15m"])
	require.Equal(t, []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP"}, subs["1h"])
	require.Len(t, subs, 2)
}
