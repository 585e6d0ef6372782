// Package config defines all configuration for the trading core, loaded
// from a YAML file (default: configs/config.yaml) with sensitive fields
// overridable via QT_* environment variables, in the same viper-based
// shape the teacher's config.Load used for its Polymarket wallet/API
// credentials.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"quanttrade/internal/backtest"
	"quanttrade/internal/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool               `mapstructure:"dry_run"`
	Logging   LoggingConfig      `mapstructure:"logging"`
	Gateway   GatewayConfig      `mapstructure:"gateway"`
	Risk      RiskConfig         `mapstructure:"risk"`
	CostModel CostModelConfig    `mapstructure:"cost_model"`
	OrderMgr  OrderManagerConfig `mapstructure:"order_manager"`
	Backtest  BacktestConfig     `mapstructure:"backtest"`
	Results   ResultsConfig      `mapstructure:"results"`
}

// GatewayConfig holds exchange API credentials and connection settings.
// APIKey/APISecret are overridable via env vars rather than committed to
// the YAML file.
type GatewayConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RiskConfig mirrors risk.RiskLimits as plain YAML-friendly fields; the
// decimal-typed accessor methods below convert to what the Validator
// consumes, keeping the risk package itself free of any YAML/viper
// dependency.
type RiskConfig struct {
	MaxPositionQty      map[string]string `mapstructure:"max_position_qty"`
	MaxPortfolioValue   string            `mapstructure:"max_portfolio_value"`
	MaxLeverage         string            `mapstructure:"max_leverage"`
	DailyLossLimit      string            `mapstructure:"daily_loss_limit"`
	MaxConcentrationPct string            `mapstructure:"max_concentration_pct"`
	MaxOpenPositions    int               `mapstructure:"max_open_positions"`
	MinMarginRatio      string            `mapstructure:"min_margin_ratio"`
}

// CostModelConfig mirrors costmodel.CommissionConfig + costmodel.SlippageConfig.
type CostModelConfig struct {
	MakerRate         string        `mapstructure:"maker_rate"`
	TakerRate         string        `mapstructure:"taker_rate"`
	MinCommission     string        `mapstructure:"min_commission"`
	SlippageFixedBps  string        `mapstructure:"slippage_fixed_bps"`
	ImpactCoefficient string        `mapstructure:"impact_coefficient"`
	MinSlippage       string        `mapstructure:"min_slippage"`
	VolumeWindow      time.Duration `mapstructure:"volume_window"`
}

// OrderManagerConfig mirrors ordermanager.Config (spec §6.6 defaults).
type OrderManagerConfig struct {
	OrderTimeoutSec           int           `mapstructure:"order_timeout_sec"`
	ReconciliationIntervalSec int           `mapstructure:"reconciliation_interval_sec"`
	MaxSubmitRetries          int           `mapstructure:"max_submit_retries"`
	RetryBackoff              time.Duration `mapstructure:"retry_backoff"`
	EventBufferSize           int           `mapstructure:"event_buffer_size"`
	DataDir                   string        `mapstructure:"data_dir"`
}

// BacktestConfig mirrors backtest.Config for standalone backtest runs.
// PositionSizingMode is "fixed" (default) or "percent_of_equity" (spec
// §6.6 "position_sizing": fixed-qty or percent-of-equity, with
// parameters); DefaultOrderQty parameterizes the former, PercentOfEquity
// the latter.
type BacktestConfig struct {
	Symbols            []string `mapstructure:"symbols"`
	Interval           string   `mapstructure:"interval"`
	Start              string   `mapstructure:"start"`
	End                string   `mapstructure:"end"`
	InitialCapital     string   `mapstructure:"initial_capital"`
	PositionSizingMode string   `mapstructure:"position_sizing_mode"`
	DefaultOrderQty    string   `mapstructure:"default_order_qty"`
	PercentOfEquity    string   `mapstructure:"percent_of_equity"`
	DataDir            string   `mapstructure:"data_dir"`
}

// ResultsConfig tunes the Result Aggregator's risk-adjusted metrics.
type ResultsConfig struct {
	AnnualizationFactor float64 `mapstructure:"annualization_factor"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: QT_API_KEY, QT_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("QT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	// UnmarshalExact: an unrecognized key in the YAML file is a startup
	// error, not a silently-ignored typo.
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("QT_API_KEY"); key != "" {
		cfg.Gateway.APIKey = key
	}
	if secret := os.Getenv("QT_API_SECRET"); secret != "" {
		cfg.Gateway.APISecret = secret
	}
	if os.Getenv("QT_DRY_RUN") == "true" || os.Getenv("QT_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if !c.DryRun && (c.Gateway.APIKey == "" || c.Gateway.APISecret == "") {
		return fmt.Errorf("gateway.api_key and gateway.api_secret are required unless dry_run is set")
	}
	if c.Risk.MaxOpenPositions < 0 {
		return fmt.Errorf("risk.max_open_positions must be >= 0")
	}
	if c.OrderMgr.OrderTimeoutSec <= 0 {
		return fmt.Errorf("order_manager.order_timeout_sec must be > 0")
	}
	if c.OrderMgr.ReconciliationIntervalSec <= 0 {
		return fmt.Errorf("order_manager.reconciliation_interval_sec must be > 0")
	}
	if c.Results.AnnualizationFactor <= 0 {
		return fmt.Errorf("results.annualization_factor must be > 0")
	}
	return nil
}

// mustDecimal parses s, falling back to zero for an empty string (an
// unset optional field) and panicking on a malformed non-empty one —
// config files are static input validated once at startup, not runtime data.
func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("config: invalid decimal %q: %v", s, err))
	}
	return d
}

func (r RiskConfig) MaxPositionQtyDecimal() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(r.MaxPositionQty))
	for sym, v := range r.MaxPositionQty {
		out[sym] = mustDecimal(v)
	}
	return out
}

func (r RiskConfig) MaxPortfolioValueDecimal() decimal.Decimal   { return mustDecimal(r.MaxPortfolioValue) }
func (r RiskConfig) MaxLeverageDecimal() decimal.Decimal         { return mustDecimal(r.MaxLeverage) }
func (r RiskConfig) DailyLossLimitDecimal() decimal.Decimal      { return mustDecimal(r.DailyLossLimit) }
func (r RiskConfig) MaxConcentrationPctDecimal() decimal.Decimal { return mustDecimal(r.MaxConcentrationPct) }
func (r RiskConfig) MinMarginRatioDecimal() decimal.Decimal      { return mustDecimal(r.MinMarginRatio) }

func (c CostModelConfig) MakerRateDecimal() decimal.Decimal         { return mustDecimal(c.MakerRate) }
func (c CostModelConfig) TakerRateDecimal() decimal.Decimal         { return mustDecimal(c.TakerRate) }
func (c CostModelConfig) MinCommissionDecimal() decimal.Decimal     { return mustDecimal(c.MinCommission) }
func (c CostModelConfig) SlippageFixedBpsDecimal() decimal.Decimal  { return mustDecimal(c.SlippageFixedBps) }
func (c CostModelConfig) ImpactCoefficientDecimal() decimal.Decimal { return mustDecimal(c.ImpactCoefficient) }
func (c CostModelConfig) MinSlippageDecimal() decimal.Decimal       { return mustDecimal(c.MinSlippage) }

// ParseSymbols converts the configured symbol strings into validated
// types.Symbol values, failing fast on the first malformed entry.
func (b BacktestConfig) ParseSymbols() ([]types.Symbol, error) {
	out := make([]types.Symbol, 0, len(b.Symbols))
	for _, s := range b.Symbols {
		sym, err := types.NewSymbol(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

// ParseInterval converts the configured interval string into types.Interval.
func (b BacktestConfig) ParseInterval() types.Interval {
	return types.Interval(b.Interval)
}

// ParsePositionSizing converts the configured sizing mode and its
// parameter into a backtest.PositionSizing policy. DefaultOrderQty
// defaults to "1" and PercentOfEquity to "0" when left unset.
func (b BacktestConfig) ParsePositionSizing() (backtest.PositionSizing, error) {
	fixedQty, err := types.NewQuantityFromString(orDefault(b.DefaultOrderQty, "1"))
	if err != nil {
		return backtest.PositionSizing{}, fmt.Errorf("backtest.default_order_qty: %w", err)
	}

	mode := backtest.SizingFixed
	if b.PositionSizingMode == string(backtest.SizingPercentOfEquity) {
		mode = backtest.SizingPercentOfEquity
	}

	return backtest.PositionSizing{
		Mode:            mode,
		FixedQty:        fixedQty,
		PercentOfEquity: mustDecimal(b.PercentOfEquity),
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
