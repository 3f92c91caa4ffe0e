// Package config loads and validates engine configuration from YAML files
// and environment variables.
package config

import (
	"time"

	commonerrors "github.com/quantframe/backlite/common/errors"
)

// Config is the root configuration consumed by the engine.
type Config struct {
	LogLevel    string            `mapstructure:"log_level" yaml:"log_level"`
	Backtest    BacktestConfig    `mapstructure:"backtest" yaml:"backtest"`
	Costs       CostConfig        `mapstructure:"costs" yaml:"costs"`
	Risk        RiskConfig        `mapstructure:"risk" yaml:"risk"`
	Fill        FillConfig        `mapstructure:"fill" yaml:"fill"`
	WalkForward WalkForwardConfig `mapstructure:"walk_forward" yaml:"walk_forward"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
}

// BacktestConfig scopes a single run. Start and End are RFC 3339 or
// YYYY-MM-DD strings; see Window.
type BacktestConfig struct {
	Start          string             `mapstructure:"start" yaml:"start"`
	End            string             `mapstructure:"end" yaml:"end"`
	InitialCapital float64            `mapstructure:"initial_capital" yaml:"initial_capital"`
	RiskFreeRate   float64            `mapstructure:"risk_free_rate" yaml:"risk_free_rate"`
	Symbols        []string           `mapstructure:"symbols" yaml:"symbols"`
	Strategy       string             `mapstructure:"strategy" yaml:"strategy"`
	Params         map[string]float64 `mapstructure:"params" yaml:"params"`
}

// Window parses the configured date range. Dates without a time component
// are interpreted as midnight UTC.
func (c BacktestConfig) Window() (time.Time, time.Time, error) {
	start, err := parseDate(c.Start)
	if err != nil {
		return time.Time{}, time.Time{}, commonerrors.NewValidation("backtest.start", "unparseable date %q", c.Start)
	}
	end, err := parseDate(c.End)
	if err != nil {
		return time.Time{}, time.Time{}, commonerrors.NewValidation("backtest.end", "unparseable date %q", c.End)
	}
	return start, end, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// FeeSchedule itemizes the fee components charged on one trade. All rates are
// fractions of trade value except BrokerageCap, which is an absolute cap on
// the proportional brokerage.
type FeeSchedule struct {
	BrokeragePct    float64 `mapstructure:"brokerage_pct" yaml:"brokerage_pct"`
	BrokerageCap    float64 `mapstructure:"brokerage_cap" yaml:"brokerage_cap"`
	TaxDeliveryPct  float64 `mapstructure:"tax_delivery_pct" yaml:"tax_delivery_pct"`
	TaxIntradayPct  float64 `mapstructure:"tax_intraday_pct" yaml:"tax_intraday_pct"`
	ExchangeFeePct  float64 `mapstructure:"exchange_fee_pct" yaml:"exchange_fee_pct"`
	FeeTaxPct       float64 `mapstructure:"fee_tax_pct" yaml:"fee_tax_pct"`
	TurnoverFeePct  float64 `mapstructure:"turnover_fee_pct" yaml:"turnover_fee_pct"`
}

// CostConfig parameterizes the cost model.
type CostConfig struct {
	SlippageBps float64                `mapstructure:"slippage_bps" yaml:"slippage_bps"`
	Default     FeeSchedule            `mapstructure:"default" yaml:"default"`
	Classes     map[string]FeeSchedule `mapstructure:"classes" yaml:"classes"`
}

// RiskConfig parameterizes the pre-trade risk gate and position sizing.
type RiskConfig struct {
	DailyLossLimitPct     float64            `mapstructure:"daily_loss_limit_pct" yaml:"daily_loss_limit_pct"`
	MaxDrawdownStopPct    float64            `mapstructure:"max_drawdown_stop_pct" yaml:"max_drawdown_stop_pct"`
	MaxPositions          int                `mapstructure:"max_positions" yaml:"max_positions"`
	MaxPositionsPerSymbol int                `mapstructure:"max_positions_per_symbol" yaml:"max_positions_per_symbol"`
	ExposureCapPct        float64            `mapstructure:"exposure_cap_pct" yaml:"exposure_cap_pct"`
	SymbolExposureCaps    map[string]float64 `mapstructure:"symbol_exposure_caps" yaml:"symbol_exposure_caps"`
	MaxExposurePct        float64            `mapstructure:"max_exposure_pct" yaml:"max_exposure_pct"`
	CooldownMinutes       int                `mapstructure:"cooldown_minutes" yaml:"cooldown_minutes"`

	SizingMethod    string  `mapstructure:"sizing_method" yaml:"sizing_method"` // fixed | percent_equity | atr_volatility
	FixedQuantity   float64 `mapstructure:"fixed_quantity" yaml:"fixed_quantity"`
	RiskPct         float64 `mapstructure:"risk_pct" yaml:"risk_pct"`
	ATRMultiplier   float64 `mapstructure:"atr_multiplier" yaml:"atr_multiplier"`
	MaxPositionSize float64 `mapstructure:"max_position_size" yaml:"max_position_size"`
}

// FillConfig parameterizes the fill simulator.
type FillConfig struct {
	Model                string  `mapstructure:"model" yaml:"model"` // next_open | close | midpoint
	LatencyMeanMs        float64 `mapstructure:"latency_mean_ms" yaml:"latency_mean_ms"`
	LatencyStdMs         float64 `mapstructure:"latency_std_ms" yaml:"latency_std_ms"`
	Seed                 int64   `mapstructure:"seed" yaml:"seed"`
	BaseSlippageBps      float64 `mapstructure:"base_slippage_bps" yaml:"base_slippage_bps"`
	MaxSlippageBps       float64 `mapstructure:"max_slippage_bps" yaml:"max_slippage_bps"`
	PartialFillThreshold float64 `mapstructure:"partial_fill_threshold" yaml:"partial_fill_threshold"`
	MaxPartialFills      int     `mapstructure:"max_partial_fills" yaml:"max_partial_fills"`
	InstrumentClass      string  `mapstructure:"instrument_class" yaml:"instrument_class"` // equity | future | option | crypto
	Delivery             bool    `mapstructure:"delivery" yaml:"delivery"`
}

// WalkForwardConfig parameterizes window generation and the parameter search.
type WalkForwardConfig struct {
	Mode       string `mapstructure:"mode" yaml:"mode"` // rolling | anchored
	TrainDays  int    `mapstructure:"train_days" yaml:"train_days"`
	TestDays   int    `mapstructure:"test_days" yaml:"test_days"`
	StepDays   int    `mapstructure:"step_days" yaml:"step_days"`
	OOSDays    int    `mapstructure:"oos_days" yaml:"oos_days"`
	MaxWorkers int    `mapstructure:"max_workers" yaml:"max_workers"`
	Metric     string `mapstructure:"metric" yaml:"metric"` // sharpe | total_return
}

// StoreConfig parameterizes the report store.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}
