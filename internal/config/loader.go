package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	commonerrors "github.com/quantframe/backlite/common/errors"
)

// LoadConfig loads configuration from the given YAML paths, layered with
// BACKLITE_-prefixed environment variables and defaults, then validates the
// result. Missing files are skipped; with no files at all the defaults and
// environment alone apply.
func LoadConfig(logger *zap.Logger, configPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("BACKLITE")

	setDefaults(v)

	if len(configPaths) == 0 {
		configPaths = []string{"./config.yaml", "./configs/config.yaml"}
	}

	var loaded []string
	for _, path := range configPaths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Debug("config file not found, skipping", zap.String("path", path))
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, commonerrors.Wrapf(err, "failed to load config file %s", path)
		}
		loaded = append(loaded, path)
	}

	if len(loaded) == 0 {
		logger.Warn("no configuration files found, using defaults and environment variables")
	} else {
		logger.Info("loaded configuration files", zap.Strings("files", loaded))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, commonerrors.Wrapf(err, "failed to unmarshal config")
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("backtest.initial_capital", 100000.0)
	v.SetDefault("backtest.risk_free_rate", 0.02)

	v.SetDefault("costs.slippage_bps", 2.0)
	v.SetDefault("costs.default.brokerage_pct", 0.0003)
	v.SetDefault("costs.default.brokerage_cap", 20.0)
	v.SetDefault("costs.default.tax_delivery_pct", 0.001)
	v.SetDefault("costs.default.tax_intraday_pct", 0.00025)
	v.SetDefault("costs.default.exchange_fee_pct", 0.0000345)
	v.SetDefault("costs.default.fee_tax_pct", 0.18)
	v.SetDefault("costs.default.turnover_fee_pct", 0.000001)

	v.SetDefault("risk.daily_loss_limit_pct", 0.05)
	v.SetDefault("risk.max_drawdown_stop_pct", 0.20)
	v.SetDefault("risk.max_positions", 10)
	v.SetDefault("risk.max_positions_per_symbol", 1)
	v.SetDefault("risk.exposure_cap_pct", 0.25)
	v.SetDefault("risk.max_exposure_pct", 1.0)
	v.SetDefault("risk.cooldown_minutes", 30)
	v.SetDefault("risk.sizing_method", "percent_equity")
	v.SetDefault("risk.fixed_quantity", 1.0)
	v.SetDefault("risk.risk_pct", 0.02)
	v.SetDefault("risk.atr_multiplier", 2.0)
	v.SetDefault("risk.max_position_size", 10000.0)

	v.SetDefault("fill.model", "next_open")
	v.SetDefault("fill.latency_mean_ms", 50.0)
	v.SetDefault("fill.latency_std_ms", 20.0)
	v.SetDefault("fill.base_slippage_bps", 1.0)
	v.SetDefault("fill.max_slippage_bps", 25.0)
	v.SetDefault("fill.partial_fill_threshold", 1000.0)
	v.SetDefault("fill.max_partial_fills", 4)
	v.SetDefault("fill.instrument_class", "equity")
	v.SetDefault("fill.delivery", false)

	v.SetDefault("walk_forward.mode", "rolling")
	v.SetDefault("walk_forward.train_days", 90)
	v.SetDefault("walk_forward.test_days", 30)
	v.SetDefault("walk_forward.step_days", 0) // 0 = default to test length
	v.SetDefault("walk_forward.oos_days", 0)
	v.SetDefault("walk_forward.max_workers", 1)
	v.SetDefault("walk_forward.metric", "sharpe")

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.path", "backlite.db")
}

// Validate enforces the constraints a run depends on before any simulation
// starts.
func Validate(cfg *Config) error {
	if cfg.Backtest.InitialCapital <= 0 {
		return commonerrors.NewValidation("backtest.initial_capital", "must be positive, got %v", cfg.Backtest.InitialCapital)
	}
	if cfg.Backtest.Start != "" || cfg.Backtest.End != "" {
		start, end, err := cfg.Backtest.Window()
		if err != nil {
			return err
		}
		if !start.Before(end) {
			return commonerrors.NewValidation("backtest", "start %s must be before end %s", start, end)
		}
	}
	switch cfg.Risk.SizingMethod {
	case "fixed", "percent_equity", "atr_volatility":
	default:
		return commonerrors.NewValidation("risk.sizing_method", "unknown method %q", cfg.Risk.SizingMethod)
	}
	switch cfg.Fill.Model {
	case "next_open", "close", "midpoint":
	default:
		return commonerrors.NewValidation("fill.model", "unknown fill model %q", cfg.Fill.Model)
	}
	switch cfg.WalkForward.Mode {
	case "rolling", "anchored":
	default:
		return commonerrors.NewValidation("walk_forward.mode", "unknown mode %q", cfg.WalkForward.Mode)
	}
	if cfg.WalkForward.TrainDays <= 0 || cfg.WalkForward.TestDays <= 0 {
		return commonerrors.NewValidation("walk_forward", "train_days and test_days must be positive")
	}
	if cfg.Risk.DailyLossLimitPct < 0 || cfg.Risk.MaxDrawdownStopPct < 0 {
		return commonerrors.NewValidation("risk", "loss limits must be non-negative")
	}
	return nil
}
