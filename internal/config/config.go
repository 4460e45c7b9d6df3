// Package config defines all configuration for the market-making bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure and to spec.md §6's configuration surface.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from
// signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
}

// PolymarketConfig holds exchange endpoints, chain ID, and optional
// pre-derived L2 credentials. If ApiKey/Secret/Passphrase are empty, the
// bot derives them via L1 auth on startup.
type PolymarketConfig struct {
	CLOBBaseURL   string `mapstructure:"clob_base_url"`
	WSURL         string `mapstructure:"ws_url"`
	GammaURL      string `mapstructure:"gamma_url"`
	ChainID       int    `mapstructure:"chain_id"`
	ApiKey        string `mapstructure:"api_key"`
	ApiSecret     string `mapstructure:"api_secret"`
	ApiPassphrase string `mapstructure:"api_passphrase"`
	Funder        string `mapstructure:"funder"`
}

// StrategyConfig tunes the skew-ratio quote generator (spec.md §4.4) and
// discovery (§4.2).
type StrategyConfig struct {
	MaxMarkets           int     `mapstructure:"max_markets"`
	QuoteSpreadBps       int     `mapstructure:"quote_spread_bps"`
	ScanIntervalMs       int     `mapstructure:"scan_interval_ms"`
	OrderSizeUSDC        float64 `mapstructure:"order_size_usdc"`
	MaxOrderSizeUSDC     float64 `mapstructure:"max_order_size_usdc"`
	MinLiquidityUSDC     float64 `mapstructure:"min_liquidity_usdc"`
	PriceStalenessMs     int     `mapstructure:"price_staleness_ms"`
	QuoteRefreshMs       int     `mapstructure:"quote_refresh_ms"`
	QuoteTTLMs           int     `mapstructure:"quote_ttl_ms"`
	RepriceThresholdBps  int     `mapstructure:"reprice_threshold_bps"`
	InventoryLimit       float64 `mapstructure:"inventory_limit"`
}

// ScanInterval returns the configured scan cadence as a time.Duration.
func (s StrategyConfig) ScanInterval() time.Duration {
	return time.Duration(s.ScanIntervalMs) * time.Millisecond
}

// PriceStaleness returns the configured book staleness horizon.
func (s StrategyConfig) PriceStaleness() time.Duration {
	return time.Duration(s.PriceStalenessMs) * time.Millisecond
}

// QuoteRefresh returns the configured order-refresh cadence.
func (s StrategyConfig) QuoteRefresh() time.Duration {
	return time.Duration(s.QuoteRefreshMs) * time.Millisecond
}

// QuoteTTL returns the configured maximum resting-quote age.
func (s StrategyConfig) QuoteTTL() time.Duration {
	return time.Duration(s.QuoteTTLMs) * time.Millisecond
}

// RiskConfig sets hard limits enforced by the pre-trade gate (spec.md §4.6).
type RiskConfig struct {
	MaxTotalExposureUSDC      float64 `mapstructure:"max_total_exposure_usdc"`
	MaxPerMarketExposureUSDC  float64 `mapstructure:"max_per_market_exposure_usdc"`
	MaxDailyLossUSDC          float64 `mapstructure:"max_daily_loss_usdc"`
	MaxConsecutiveLosses      int     `mapstructure:"max_consecutive_losses"`
	CircuitBreakerCooldownS   int     `mapstructure:"circuit_breaker_cooldown_s"`
	MaxOpenOrders             int     `mapstructure:"max_open_orders"`
	PositionLimitPerOutcome   float64 `mapstructure:"position_limit_per_outcome"`
	// ExcludeSellExposure resolves spec.md §9 Open Question (a): when false
	// (default, matching the reference implementation), candidate notional
	// counts BUY and SELL legs identically; when true, SELL legs are
	// excluded from the exposure check since they release inventory rather
	// than consume risk budget.
	ExcludeSellExposure bool `mapstructure:"exclude_sell_exposure"`
}

// CircuitBreakerCooldown returns the configured breaker cooldown duration.
func (r RiskConfig) CircuitBreakerCooldown() time.Duration {
	return time.Duration(r.CircuitBreakerCooldownS) * time.Second
}

// ExecutionConfig tunes execution timing (spec.md §6 execution.*).
type ExecutionConfig struct {
	OrderTimeoutMs      int `mapstructure:"order_timeout_ms"`
	CancelStaleAfterMs  int `mapstructure:"cancel_stale_after_ms"`
}

// DatabaseConfig sets where the durable SQLite store lives.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig controls the slog root logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DashboardConfig controls the optional HTTP/WS status server (the Go
// substitute for the excluded TUI — see SPEC_FULL.md §10.4).
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY,
// POLY_API_SECRET, POLY_API_PASSPHRASE, POLY_FUNDER.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.Polymarket.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.Polymarket.ApiSecret = secret
	}
	if pass := os.Getenv("POLY_API_PASSPHRASE"); pass != "" {
		cfg.Polymarket.ApiPassphrase = pass
	}
	if funder := os.Getenv("POLY_FUNDER"); funder != "" {
		cfg.Polymarket.Funder = funder
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("polymarket.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("polymarket.ws_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("polymarket.gamma_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.chain_id", 137)

	v.SetDefault("strategy.max_markets", 50)
	v.SetDefault("strategy.quote_spread_bps", 20)
	v.SetDefault("strategy.scan_interval_ms", 500)
	v.SetDefault("strategy.order_size_usdc", 10.0)
	v.SetDefault("strategy.max_order_size_usdc", 100.0)
	v.SetDefault("strategy.min_liquidity_usdc", 50.0)
	v.SetDefault("strategy.price_staleness_ms", 2000)
	v.SetDefault("strategy.quote_refresh_ms", 2000)
	v.SetDefault("strategy.quote_ttl_ms", 15000)
	v.SetDefault("strategy.reprice_threshold_bps", 5)
	v.SetDefault("strategy.inventory_limit", 100.0)

	v.SetDefault("risk.max_total_exposure_usdc", 1000.0)
	v.SetDefault("risk.max_per_market_exposure_usdc", 200.0)
	v.SetDefault("risk.max_daily_loss_usdc", 50.0)
	v.SetDefault("risk.max_consecutive_losses", 5)
	v.SetDefault("risk.circuit_breaker_cooldown_s", 300)
	v.SetDefault("risk.max_open_orders", 20)
	v.SetDefault("risk.position_limit_per_outcome", 500.0)
	v.SetDefault("risk.exclude_sell_exposure", false)

	v.SetDefault("execution.order_timeout_ms", 5000)
	v.SetDefault("execution.cancel_stale_after_ms", 3000)

	v.SetDefault("database.path", "polymarket-mm.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.addr", ":8090")
}

// Validate checks all required fields, value ranges, and cross-field
// invariants (spec.md §9 Open Question (c): refresh cadence must stay
// below quote TTL or the bot would perpetually cancel-on-refresh).
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.Polymarket.CLOBBaseURL == "" {
		return fmt.Errorf("polymarket.clob_base_url is required")
	}
	if c.Polymarket.ChainID == 0 {
		return fmt.Errorf("polymarket.chain_id is required (137 for mainnet)")
	}
	if c.Strategy.MaxMarkets <= 0 {
		return fmt.Errorf("strategy.max_markets must be > 0")
	}
	if c.Strategy.OrderSizeUSDC <= 0 {
		return fmt.Errorf("strategy.order_size_usdc must be > 0")
	}
	if c.Strategy.QuoteRefreshMs >= c.Strategy.QuoteTTLMs {
		return fmt.Errorf("strategy.quote_refresh_ms (%d) must be less than strategy.quote_ttl_ms (%d)",
			c.Strategy.QuoteRefreshMs, c.Strategy.QuoteTTLMs)
	}
	if c.Risk.MaxTotalExposureUSDC <= 0 {
		return fmt.Errorf("risk.max_total_exposure_usdc must be > 0")
	}
	if c.Risk.MaxPerMarketExposureUSDC <= 0 {
		return fmt.Errorf("risk.max_per_market_exposure_usdc must be > 0")
	}
	if c.Risk.MaxOpenOrders <= 0 {
		return fmt.Errorf("risk.max_open_orders must be > 0")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
