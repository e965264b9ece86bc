package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"dca_bot/internal/helper"
	"dca_bot/internal/models"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
)

// Методы расчёта ступеней лесенки.
const (
	LadderPercent = "percent"
	LadderFixed   = "fixed"
	LadderATR     = "atr"

	ReferenceAvgEntry = "avg_entry"
	ReferenceLastFill = "last_fill"
)

// Семейства сглаживания.
const (
	MADEMA = "dema"
	MATEMA = "tema"
)

type Config struct {
	Service  ServiceConfig  `mapstructure:"service" yaml:"service"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	DB       string         `mapstructure:"db_dsn" yaml:"db_dsn"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	OKX      OKXConfig      `mapstructure:"okx" yaml:"okx"`

	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`

	Position  PositionConfig  `mapstructure:"position" yaml:"position"`
	Ladder    LadderConfig    `mapstructure:"ladder" yaml:"ladder"`
	Lock      LockConfig      `mapstructure:"lock" yaml:"lock"`
	Indicator IndicatorConfig `mapstructure:"indicator" yaml:"indicator"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle" yaml:"lifecycle"`
	Candles   CandlesConfig   `mapstructure:"candles" yaml:"candles"`
	Runner    RunnerConfig    `mapstructure:"runner" yaml:"runner"`
}

type ServiceConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	HealthAddr string `mapstructure:"health_addr" yaml:"health_addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type TracingConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

type RedisConfig struct {
	Driver       string        `mapstructure:"driver" yaml:"driver"` // redis | memory
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	Password     string        `mapstructure:"password" yaml:"password"`
	DB           int           `mapstructure:"db" yaml:"db"`
	PoolSize     int           `mapstructure:"pool_size" yaml:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

type TelegramConfig struct {
	Token         string `mapstructure:"token" yaml:"token"`
	ServiceChatID int64  `mapstructure:"service_chat_id" yaml:"service_chat_id"`
	QueueSize     int    `mapstructure:"queue_size" yaml:"queue_size"`
}

type OKXConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	WSURL     string        `mapstructure:"ws_url" yaml:"ws_url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Simulated bool          `mapstructure:"simulated" yaml:"simulated"`
	TdMode    string        `mapstructure:"td_mode" yaml:"td_mode"` // cross | isolated
}

// AccountConfig — торговый аккаунт и его подписки.
type AccountConfig struct {
	Name       string   `mapstructure:"name" yaml:"name"`
	APIKey     string   `mapstructure:"api_key" yaml:"api_key"`
	APISecret  string   `mapstructure:"api_secret" yaml:"api_secret"`
	Passphrase string   `mapstructure:"passphrase" yaml:"passphrase"`
	ChatID     int64    `mapstructure:"chat_id" yaml:"chat_id"`
	Symbols    []string `mapstructure:"symbols" yaml:"symbols"`
	Timeframes []string `mapstructure:"timeframes" yaml:"timeframes"`
	Sides      []string `mapstructure:"sides" yaml:"sides"`
	Leverage   int      `mapstructure:"leverage" yaml:"leverage"`
	BaseSize   float64  `mapstructure:"base_size" yaml:"base_size"`
}

// PosSides — стороны аккаунта, по умолчанию обе.
func (a AccountConfig) PosSides() []models.PosSide {
	if len(a.Sides) == 0 {
		return []models.PosSide{models.PosLong, models.PosShort}
	}
	out := make([]models.PosSide, 0, len(a.Sides))
	for _, s := range a.Sides {
		if side, err := models.ParsePosSide(s); err == nil {
			out = append(out, side)
		}
	}
	return out
}

type PositionConfig struct {
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	SizeEpsilon   float64       `mapstructure:"size_epsilon" yaml:"size_epsilon"`
	AdoptExchange bool          `mapstructure:"adopt_exchange" yaml:"adopt_exchange"`
}

type LadderConfig struct {
	Method          string  `mapstructure:"method" yaml:"method"`
	Reference       string  `mapstructure:"reference" yaml:"reference"`
	Value           float64 `mapstructure:"pyramiding_value" yaml:"pyramiding_value"`
	ScaleFactor     float64 `mapstructure:"scale_factor" yaml:"scale_factor"`
	MaxRungs        int     `mapstructure:"max_rungs" yaml:"max_rungs"`
	RequireCrossing bool    `mapstructure:"require_crossing" yaml:"require_crossing"`
	Depth           int     `mapstructure:"depth" yaml:"depth"`
}

type LockConfig struct {
	TTL              time.Duration `mapstructure:"ttl" yaml:"ttl"`
	CooldownTTL      time.Duration `mapstructure:"cooldown_ttl" yaml:"cooldown_ttl"`
	FailureThreshold int64         `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	StaleAfter       time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	WatchdogEvery    time.Duration `mapstructure:"watchdog_every" yaml:"watchdog_every"`
}

type IndicatorConfig struct {
	MAType        string  `mapstructure:"ma_type" yaml:"ma_type"`
	FastLen       int     `mapstructure:"fast_len" yaml:"fast_len"`
	MediumLen     int     `mapstructure:"medium_len" yaml:"medium_len"`
	SlowLen       int     `mapstructure:"slow_len" yaml:"slow_len"`
	BBLength      int     `mapstructure:"bb_length" yaml:"bb_length"`
	BBMult        float64 `mapstructure:"bb_mult" yaml:"bb_mult"`
	PivotLeft     int     `mapstructure:"pivot_left" yaml:"pivot_left"`
	PivotRight    int     `mapstructure:"pivot_right" yaml:"pivot_right"`
	PivotLookback int     `mapstructure:"pivot_lookback" yaml:"pivot_lookback"`
	PivotK        float64 `mapstructure:"pivot_k" yaml:"pivot_k"`
	BoundaryBand  float64 `mapstructure:"boundary_band" yaml:"boundary_band"`
	LongHorizon   bool    `mapstructure:"long_horizon" yaml:"long_horizon"`
	RSIPeriod     int     `mapstructure:"rsi_period" yaml:"rsi_period"`
	RSIOverbought float64 `mapstructure:"rsi_overbought" yaml:"rsi_overbought"`
	RSIOversold   float64 `mapstructure:"rsi_oversold" yaml:"rsi_oversold"`
	ATRPeriod     int     `mapstructure:"atr_period" yaml:"atr_period"`
}

type LifecycleConfig struct {
	TickBudget       time.Duration `mapstructure:"tick_budget" yaml:"tick_budget"`
	TakeProfitPct    float64       `mapstructure:"take_profit_pct" yaml:"take_profit_pct"`
	MaxOpenPositions int           `mapstructure:"max_open_positions" yaml:"max_open_positions"`
	CandlesWindow    int           `mapstructure:"candles_window" yaml:"candles_window"`
	BrokerRetries    int           `mapstructure:"broker_retries" yaml:"broker_retries"`
}

type CandlesConfig struct {
	MaxBars    int `mapstructure:"max_bars" yaml:"max_bars"`
	WarmupBars int `mapstructure:"warmup_bars" yaml:"warmup_bars"`
}

type RunnerConfig struct {
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	ReconcileEvery time.Duration `mapstructure:"reconcile_every" yaml:"reconcile_every"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "dca_bot")
	v.SetDefault("service.health_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)

	v.SetDefault("redis.driver", "redis")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("db_dsn", "")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.service_chat_id", 0)
	v.SetDefault("telegram.queue_size", 256)

	v.SetDefault("okx.base_url", "https://www.okx.com")
	v.SetDefault("okx.ws_url", "wss://ws.okx.com:8443/ws/v5/business")
	v.SetDefault("okx.timeout", "10s")
	v.SetDefault("okx.td_mode", "cross")

	v.SetDefault("position.max_retries", 5)
	v.SetDefault("position.retry_backoff", "20ms")
	v.SetDefault("position.size_epsilon", 1e-8)
	v.SetDefault("position.adopt_exchange", true)

	v.SetDefault("ladder.method", LadderPercent)
	v.SetDefault("ladder.reference", ReferenceAvgEntry)
	v.SetDefault("ladder.pyramiding_value", 5.0)
	v.SetDefault("ladder.scale_factor", 0.5)
	v.SetDefault("ladder.max_rungs", 5)
	v.SetDefault("ladder.require_crossing", true)
	v.SetDefault("ladder.depth", 4)

	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("lock.cooldown_ttl", "15m")
	v.SetDefault("lock.failure_threshold", 3)
	v.SetDefault("lock.stale_after", "60s")
	v.SetDefault("lock.watchdog_every", "15s")

	v.SetDefault("indicator.ma_type", MATEMA)
	v.SetDefault("indicator.fast_len", 21)
	v.SetDefault("indicator.medium_len", 55)
	v.SetDefault("indicator.slow_len", 89)
	v.SetDefault("indicator.bb_length", 20)
	v.SetDefault("indicator.bb_mult", 2.0)
	v.SetDefault("indicator.pivot_left", 5)
	v.SetDefault("indicator.pivot_right", 5)
	v.SetDefault("indicator.pivot_lookback", 150)
	v.SetDefault("indicator.pivot_k", 0.7)
	v.SetDefault("indicator.boundary_band", 0.1)
	v.SetDefault("indicator.rsi_period", 14)
	v.SetDefault("indicator.rsi_overbought", 70.0)
	v.SetDefault("indicator.rsi_oversold", 30.0)
	v.SetDefault("indicator.atr_period", 14)

	v.SetDefault("lifecycle.tick_budget", "20s")
	v.SetDefault("lifecycle.max_open_positions", 10)
	v.SetDefault("lifecycle.candles_window", 400)
	v.SetDefault("lifecycle.broker_retries", 3)

	v.SetDefault("candles.max_bars", 500)
	v.SetDefault("candles.warmup_bars", 300)

	v.SetDefault("runner.workers", 8)
	v.SetDefault("runner.reconcile_every", "5m")
}

// NewConfig читает configs/<CONFIG_FILE> (по умолчанию values_local.yaml),
// поверх: переменные окружения (REDIS_ADDR, TELEGRAM_TOKEN, DB_DSN ...).
func NewConfig() (*Config, error) {
	// .env опционален
	_ = godotenv.Load()

	name := os.Getenv(configFilePathENV)
	if name == "" {
		name = "values_local.yaml"
	}
	dir := os.Getenv(configDirENV)
	if dir == "" {
		dir = "configs"
	}
	return Load(dir + "/" + name)
}

// Load — чтение конкретного файла, пустой путь = только дефолты и env.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	applyAccountEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return cfg, nil
}

// applyAccountEnv — ключи аккаунтов из окружения: ACCOUNT_<NAME>_API_KEY и т.д.
func applyAccountEnv(c *Config) {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		prefix := "ACCOUNT_" + strings.ToUpper(strings.ReplaceAll(a.Name, "-", "_")) + "_"
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			a.APIKey = v
		}
		if v := os.Getenv(prefix + "API_SECRET"); v != "" {
			a.APISecret = v
		}
		if v := os.Getenv(prefix + "PASSPHRASE"); v != "" {
			a.Passphrase = v
		}
	}
}

// Validate — фатальные ошибки конфигурации ловим на старте, не в тике.
func (c *Config) Validate() error {
	switch c.Indicator.MAType {
	case MADEMA, MATEMA:
	default:
		return fmt.Errorf("%w: ma_type %q", models.ErrUnsupportedIndicator, c.Indicator.MAType)
	}
	ind := c.Indicator
	if ind.FastLen <= 0 || ind.MediumLen <= ind.FastLen || ind.SlowLen <= ind.MediumLen {
		return fmt.Errorf("%w: moving average lengths must increase (%d/%d/%d)",
			models.ErrMissingSetting, ind.FastLen, ind.MediumLen, ind.SlowLen)
	}
	if ind.BBLength <= 1 || ind.BBMult <= 0 {
		return fmt.Errorf("%w: bollinger length/mult", models.ErrMissingSetting)
	}
	if ind.PivotK <= 0 || ind.PivotK >= 1 {
		return fmt.Errorf("%w: pivot_k must be in (0,1)", models.ErrMissingSetting)
	}

	switch c.Ladder.Method {
	case LadderPercent, LadderFixed, LadderATR:
	default:
		return fmt.Errorf("%w: ladder method %q", models.ErrMissingSetting, c.Ladder.Method)
	}
	switch c.Ladder.Reference {
	case ReferenceAvgEntry, ReferenceLastFill:
	default:
		return fmt.Errorf("%w: ladder reference %q", models.ErrMissingSetting, c.Ladder.Reference)
	}
	if c.Ladder.Value <= 0 || c.Ladder.ScaleFactor <= 0 || c.Ladder.MaxRungs < 1 {
		return fmt.Errorf("%w: ladder value/scale_factor/max_rungs", models.ErrMissingSetting)
	}

	switch c.Redis.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("%w: redis driver %q", models.ErrMissingSetting, c.Redis.Driver)
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("%w: accounts", models.ErrMissingSetting)
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Name == "" || strings.Contains(a.Name, ":") {
			return fmt.Errorf("%w: account name %q", models.ErrMissingSetting, a.Name)
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("%w: duplicate account %q", models.ErrMissingSetting, a.Name)
		}
		seen[a.Name] = struct{}{}
		if a.BaseSize <= 0 {
			return fmt.Errorf("%w: account %s base_size", models.ErrMissingSetting, a.Name)
		}
		if len(a.Symbols) == 0 || len(a.Timeframes) == 0 {
			return fmt.Errorf("%w: account %s symbols/timeframes", models.ErrMissingSetting, a.Name)
		}
		for _, tf := range a.Timeframes {
			if !helper.ValidTF(tf) {
				return fmt.Errorf("%w: account %s timeframe %q", models.ErrMissingSetting, a.Name, tf)
			}
		}
		for _, s := range a.Sides {
			if _, err := models.ParsePosSide(s); err != nil {
				return fmt.Errorf("%w: account %s: %v", models.ErrMissingSetting, a.Name, err)
			}
		}
	}
	return nil
}

// Account ищет аккаунт по имени.
func (c *Config) Account(name string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, true
		}
	}
	return AccountConfig{}, false
}

// Subscriptions — таймфрейм -> инструменты всех аккаунтов без повторов.
func (c *Config) Subscriptions() map[string][]string {
	seen := make(map[string]map[string]struct{})
	out := make(map[string][]string)
	for _, a := range c.Accounts {
		for _, raw := range a.Timeframes {
			tf := helper.NormTF(raw)
			if seen[tf] == nil {
				seen[tf] = make(map[string]struct{})
			}
			for _, sym := range a.Symbols {
				if _, ok := seen[tf][sym]; ok {
					continue
				}
				seen[tf][sym] = struct{}{}
				out[tf] = append(out[tf], sym)
			}
		}
	}
	for tf := range out {
		sort.Strings(out[tf])
	}
	return out
}

// Dump — эффективный конфиг в yaml без секретов, для стартового лога.
func (c *Config) Dump() string {
	cp := *c
	cp.Redis.Password = mask(cp.Redis.Password)
	cp.Telegram.Token = mask(cp.Telegram.Token)
	if cp.DB != "" {
		cp.DB = "***"
	}
	cp.Accounts = make([]AccountConfig, len(c.Accounts))
	for i, a := range c.Accounts {
		a.APIKey = mask(a.APIKey)
		a.APISecret = mask(a.APISecret)
		a.Passphrase = mask(a.Passphrase)
		cp.Accounts[i] = a
	}

	b, err := yaml.Marshal(cp)
	if err != nil {
		return fmt.Sprintf("<dump error: %v>", err)
	}
	return string(b)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
