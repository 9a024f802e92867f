// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBOT_* environment variables.
type Config struct {
	Kalshi    KalshiConfig    `toml:"kalshi"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Fees      FeeConfig       `toml:"fees"`
	Detect    DetectConfig    `toml:"detect"`
	Sizing    SizingConfig    `toml:"sizing"`
	Engine    EngineConfig    `toml:"engine"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`     // "trade", "scan", "reconcile", "full"
	DryRun    bool            `toml:"dry_run"`  // simulate order placement
	// PaperBankrollCents seeds the simulated balance in dry_run; live mode
	// reads the balance from the exchange instead.
	PaperBankrollCents int64 `toml:"paper_bankroll_cents"`
	StateFile string          `toml:"state_file"` // file store path when postgres is disabled
	LogLevel  string          `toml:"log_level"`
}

// KalshiConfig holds exchange API parameters. The secondary account is only
// used for dual-account arbitrage; leave it empty to run single-account.
type KalshiConfig struct {
	BaseURL           string `toml:"base_url"`
	WsURL             string `toml:"ws_url"`
	ApiKey            string `toml:"api_key"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	// KeyPassword decrypts an encrypted key file produced by the key manager.
	// Empty means the key file is plaintext PEM.
	KeyPassword string `toml:"key_password"`

	ApiKey2            string `toml:"api_key_2"`
	RsaPrivateKeyPath2 string `toml:"rsa_private_key_path_2"`
	KeyPassword2       string `toml:"key_password_2"`

	// ReadsPerSecond / OrdersPerSecond bound the client-side rate limiters.
	ReadsPerSecond  float64 `toml:"reads_per_second"`
	OrdersPerSecond float64 `toml:"orders_per_second"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional: without
// it the engine falls back to in-process caching and locking.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// S3Config holds object storage parameters for ledger archival.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	ArchiveEvery   duration `toml:"archive_every"`
}

// FeeConfig is the externally supplied, versioned fee schedule. Source
// versions disagreed on it (1.2% vs 7%), so it is never hardcoded.
type FeeConfig struct {
	Version  string  `toml:"version"`
	TotalPct float64 `toml:"total_pct"` // e.g. 0.07
}

// DetectConfig holds detector thresholds.
type DetectConfig struct {
	PollInterval duration `toml:"poll_interval"`
	MaxCloseIn   duration `toml:"max_close_in"` // closing-soon sweep window
	Series       []string `toml:"series"`       // ticker-prefix allowlist; empty = all

	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Imbalance  ImbalanceConfig  `toml:"imbalance"`
	Mispricing MispricingConfig `toml:"mispricing"`
}

// ArbitrageConfig configures the pairs-arbitrage detector.
type ArbitrageConfig struct {
	Enabled        bool    `toml:"enabled"`
	MinMarginCents int64   `toml:"min_margin_cents"` // require yes_ask+no_ask < 100-margin
	MinNetCents    float64 `toml:"min_net_cents"`    // minimum fee-adjusted profit per pair
}

// ImbalanceConfig configures the order-book-imbalance detector.
type ImbalanceConfig struct {
	Enabled           bool    `toml:"enabled"`
	Threshold         float64 `toml:"threshold"`   // |OBI| trigger, e.g. 0.15
	DepthCents        int64   `toml:"depth_cents"` // bid window below best bid
	MaxEntryPriceCents int64  `toml:"max_entry_price_cents"`
}

// MispricingConfig configures the late-window mispricing detector.
type MispricingConfig struct {
	Enabled      bool    `toml:"enabled"`
	MinSecsLeft  float64 `toml:"min_secs_left"`
	MaxSecsLeft  float64 `toml:"max_secs_left"`
	MinVolume    int64   `toml:"min_volume"`
	LowCents     float64 `toml:"low_cents"`  // cheap-side mid must be below
	HighCents    float64 `toml:"high_cents"` // rich-side mid must be above
	MinGapCents  float64 `toml:"min_gap_cents"`
	MinConfidence float64 `toml:"min_confidence"`
}

// SizingConfig holds fractional-Kelly sizing bounds.
type SizingConfig struct {
	KellyFraction   float64 `toml:"kelly_fraction"` // e.g. 0.25
	BankrollPct     float64 `toml:"bankroll_pct"`   // e.g. 0.02
	MaxContracts    int64   `toml:"max_contracts"`
	MinNetEdgeCents float64 `toml:"min_net_edge_cents"`
}

// EngineConfig parameterizes the position state machine. The original system
// encoded this machine dozens of times with different thresholds; here the
// differences are configuration.
type EngineConfig struct {
	TickInterval    duration `toml:"tick_interval"`
	StopLossCents   int64    `toml:"stop_loss_cents"`
	TakeProfitCents int64    `toml:"take_profit_cents"`
	MaxFlips        int64    `toml:"max_flips"` // 0 = stop out on first breach
	// SwingMode holds losers below RiskThresholdCents to settlement and
	// exits winners once the price crosses above it.
	SwingMode          bool  `toml:"swing_mode"`
	RiskThresholdCents int64 `toml:"risk_threshold_cents"`
	// UnbalancedPolicy is "alert" or "unwind" for naked arbitrage legs.
	UnbalancedPolicy string `toml:"unbalanced_policy"`
	MaxOpenPositions int    `toml:"max_open_positions"`
}

// ReconcileConfig holds reconciliation loop parameters.
type ReconcileConfig struct {
	Interval duration `toml:"interval"`
}

// NotifyConfig holds alert delivery channels and the event filter.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"` // empty = all
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Validate checks that the configuration is internally consistent. It returns
// the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "trade", "scan", "reconcile", "full":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if !c.DryRun {
		if c.Kalshi.ApiKey == "" || c.Kalshi.RsaPrivateKeyPath == "" {
			return fmt.Errorf("config: kalshi api_key and rsa_private_key_path are required outside dry_run")
		}
	}
	if (c.Kalshi.ApiKey2 == "") != (c.Kalshi.RsaPrivateKeyPath2 == "") {
		return fmt.Errorf("config: second account needs both api_key_2 and rsa_private_key_path_2")
	}

	if c.Fees.TotalPct < 0 || c.Fees.TotalPct >= 1 {
		return fmt.Errorf("config: fees.total_pct %.3f out of range [0,1)", c.Fees.TotalPct)
	}

	if c.Sizing.KellyFraction <= 0 || c.Sizing.KellyFraction > 1 {
		return fmt.Errorf("config: sizing.kelly_fraction %.3f out of range (0,1]", c.Sizing.KellyFraction)
	}
	if c.Sizing.BankrollPct <= 0 || c.Sizing.BankrollPct > 1 {
		return fmt.Errorf("config: sizing.bankroll_pct %.3f out of range (0,1]", c.Sizing.BankrollPct)
	}
	if c.Sizing.MaxContracts <= 0 {
		return fmt.Errorf("config: sizing.max_contracts must be positive")
	}

	if c.Engine.StopLossCents < 0 || c.Engine.TakeProfitCents < 0 {
		return fmt.Errorf("config: engine stop/take thresholds must be non-negative")
	}
	if c.Engine.MaxFlips < 0 {
		return fmt.Errorf("config: engine.max_flips must be non-negative")
	}
	switch c.Engine.UnbalancedPolicy {
	case "", "alert", "unwind":
	default:
		return fmt.Errorf("config: engine.unbalanced_policy %q must be alert or unwind", c.Engine.UnbalancedPolicy)
	}

	if d := c.Detect.Mispricing; d.Enabled && d.MinSecsLeft >= d.MaxSecsLeft {
		return fmt.Errorf("config: mispricing min_secs_left must be below max_secs_left")
	}

	if !c.Postgres.Enabled && c.StateFile == "" {
		return fmt.Errorf("config: state_file is required when postgres is disabled")
	}

	return nil
}

// ApplyDefaults fills zero values with operational defaults. It is called by
// Load after decoding and before validation.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = "trade"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Kalshi.BaseURL == "" {
		c.Kalshi.BaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	}
	if c.Kalshi.WsURL == "" {
		c.Kalshi.WsURL = "wss://api.elections.kalshi.com/trade-api/ws/v2"
	}
	if c.Kalshi.ReadsPerSecond == 0 {
		c.Kalshi.ReadsPerSecond = 10
	}
	if c.Kalshi.OrdersPerSecond == 0 {
		c.Kalshi.OrdersPerSecond = 2
	}
	if c.Detect.PollInterval.Duration == 0 {
		c.Detect.PollInterval.Duration = 15 * time.Second
	}
	if c.Detect.MaxCloseIn.Duration == 0 {
		c.Detect.MaxCloseIn.Duration = 13 * time.Minute
	}
	if c.Engine.TickInterval.Duration == 0 {
		c.Engine.TickInterval.Duration = 4 * time.Second
	}
	if c.Engine.UnbalancedPolicy == "" {
		c.Engine.UnbalancedPolicy = "alert"
	}
	if c.Engine.MaxOpenPositions == 0 {
		c.Engine.MaxOpenPositions = 10
	}
	if c.PaperBankrollCents == 0 {
		c.PaperBankrollCents = 100_000
	}
	if c.Reconcile.Interval.Duration == 0 {
		c.Reconcile.Interval.Duration = 2 * time.Minute
	}
	if c.Fees.Version == "" {
		c.Fees.Version = "taker-2025"
	}
	if c.Sizing.MaxContracts == 0 {
		c.Sizing.MaxContracts = 100
	}
	if c.Redis.SnapshotTTL.Duration == 0 {
		c.Redis.SnapshotTTL.Duration = time.Minute
	}
	if c.S3.ArchiveEvery.Duration == 0 {
		c.S3.ArchiveEvery.Duration = time.Hour
	}
}
