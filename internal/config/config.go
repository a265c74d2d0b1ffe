package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        LoggingConfig    `yaml:"log"`
	REST       RESTConfig       `yaml:"rest"`
	WS         WSConfig         `yaml:"ws"`
	State      StateConfig      `yaml:"state"`
	Hedge      HedgeConfig      `yaml:"hedge"`
	Validation ValidationConfig `yaml:"validation"`
	Risk       RiskConfig       `yaml:"risk"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Timescale  TimescaleConfig  `yaml:"timescale"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Monitor    MonitorConfig    `yaml:"monitor"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	Env             string        `yaml:"env"`
	SpotBaseURL     string        `yaml:"spot_base_url"`
	FuturesBaseURL  string        `yaml:"futures_base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RecvWindowMS    int64         `yaml:"recv_window_ms"`
	WeightPerMinute int           `yaml:"weight_per_minute"`

	// TimestampOffsetMS seeds the local-vs-server clock offset before the
	// first time-sync probe completes. Normally left at zero.
	TimestampOffsetMS int64 `yaml:"timestamp_offset_ms"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type HedgeConfig struct {
	Assets      []string `yaml:"assets"`
	QuoteAsset  string   `yaml:"quote_asset"`
	MinRatio    float64  `yaml:"min_ratio"`
	MaxRatio    float64  `yaml:"max_ratio"`
	TargetRatio float64  `yaml:"target_ratio"`
	MinOrderUSD float64  `yaml:"min_order_usd"`
	MaxOrderUSD float64  `yaml:"max_order_usd"`
}

type ValidationConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait"`
}

type RiskConfig struct {
	MaxDailyLossUSD     float64       `yaml:"max_daily_loss_usd"`
	MaxPositionSizeUSD  float64       `yaml:"max_position_size_usd"`
	MaxTotalExposureUSD float64       `yaml:"max_total_exposure_usd"`
	MaxConcurrentTrades int           `yaml:"max_concurrent_trades"`
	MaxLeverage         float64       `yaml:"max_leverage"`
	VolatilityThreshold float64       `yaml:"volatility_threshold"`
	LiquidityThreshold  float64       `yaml:"liquidity_threshold"`
	EmergencyStop       bool          `yaml:"emergency_stop"`
	AlertWindow         time.Duration `yaml:"alert_window"`
	AlertHistoryLimit   int           `yaml:"alert_history_limit"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueueSize       int           `yaml:"queue_size"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	DryRun   bool          `yaml:"dry_run"`
}

const (
	liveSpotBaseURL       = "https://api.binance.com"
	liveFuturesBaseURL    = "https://fapi.binance.com"
	testnetSpotBaseURL    = "https://testnet.binance.vision"
	testnetFuturesBaseURL = "https://testnet.binancefuture.com"
)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.Env == "" {
		cfg.REST.Env = "live"
	}
	if cfg.REST.SpotBaseURL == "" {
		cfg.REST.SpotBaseURL = liveSpotBaseURL
		if cfg.REST.Env == "testnet" {
			cfg.REST.SpotBaseURL = testnetSpotBaseURL
		}
	}
	if cfg.REST.FuturesBaseURL == "" {
		cfg.REST.FuturesBaseURL = liveFuturesBaseURL
		if cfg.REST.Env == "testnet" {
			cfg.REST.FuturesBaseURL = testnetFuturesBaseURL
		}
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.RecvWindowMS == 0 {
		cfg.REST.RecvWindowMS = 5000
	}
	if cfg.REST.WeightPerMinute == 0 {
		cfg.REST.WeightPerMinute = 1200
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://fstream.binance.com/ws"
		if cfg.REST.Env == "testnet" {
			cfg.WS.URL = "wss://stream.binancefuture.com/ws"
		}
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 3 * time.Minute
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/bn-hedge-bot.db"
	}
	if cfg.Hedge.QuoteAsset == "" {
		cfg.Hedge.QuoteAsset = "USDT"
	}
	if cfg.Hedge.MinRatio == 0 {
		cfg.Hedge.MinRatio = 0.90
	}
	if cfg.Hedge.MaxRatio == 0 {
		cfg.Hedge.MaxRatio = 1.10
	}
	if cfg.Hedge.TargetRatio == 0 {
		cfg.Hedge.TargetRatio = 0.95
	}
	if cfg.Validation.MaxAttempts == 0 {
		cfg.Validation.MaxAttempts = 5
	}
	if cfg.Validation.PollInterval == 0 {
		cfg.Validation.PollInterval = 2 * time.Second
	}
	if cfg.Validation.MaxWait == 0 {
		cfg.Validation.MaxWait = 30 * time.Second
	}
	if cfg.Risk.AlertWindow == 0 {
		cfg.Risk.AlertWindow = 5 * time.Minute
	}
	if cfg.Risk.AlertHistoryLimit == 0 {
		cfg.Risk.AlertHistoryLimit = 50
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Monitor.Interval == 0 {
		cfg.Monitor.Interval = 30 * time.Second
	}
}

func validate(cfg *Config) error {
	if len(cfg.Hedge.Assets) == 0 {
		return errors.New("hedge.assets is required")
	}
	if cfg.REST.Env != "live" && cfg.REST.Env != "testnet" {
		return fmt.Errorf("rest.env must be live or testnet, got %q", cfg.REST.Env)
	}
	if cfg.Hedge.MinRatio <= 0 || cfg.Hedge.MaxRatio <= cfg.Hedge.MinRatio {
		return fmt.Errorf("hedge ratio band invalid: min %.4f max %.4f", cfg.Hedge.MinRatio, cfg.Hedge.MaxRatio)
	}
	if cfg.Hedge.TargetRatio < cfg.Hedge.MinRatio || cfg.Hedge.TargetRatio > cfg.Hedge.MaxRatio {
		return fmt.Errorf("hedge.target_ratio %.4f outside band [%.4f, %.4f]", cfg.Hedge.TargetRatio, cfg.Hedge.MinRatio, cfg.Hedge.MaxRatio)
	}
	if cfg.Hedge.MaxOrderUSD > 0 && cfg.Hedge.MinOrderUSD > cfg.Hedge.MaxOrderUSD {
		return errors.New("hedge.min_order_usd exceeds hedge.max_order_usd")
	}
	if cfg.Validation.PollInterval <= 0 || cfg.Validation.MaxWait < cfg.Validation.PollInterval {
		return errors.New("validation poll interval and max wait are inconsistent")
	}
	return nil
}
