package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	commonerrors "github.com/quantframe/backlite/common/errors"
	"github.com/quantframe/backlite/internal/backtest"
	"github.com/quantframe/backlite/internal/config"
	"github.com/quantframe/backlite/internal/store"
	"github.com/quantframe/backlite/internal/strategy"
	"github.com/quantframe/backlite/internal/walkforward"
	"github.com/quantframe/backlite/pkg/logger"
)

const usage = `backlite - event-driven backtesting engine

Usage:
  backlite run [flags]           run one backtest
  backlite walk-forward [flags]  run a walk-forward parameter search
  backlite strategies            list available strategies

Run "backlite <command> -h" for command flags.
`

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:], zapLogger)
	case "walk-forward":
		err = walkForwardCommand(os.Args[2:], zapLogger)
	case "strategies":
		for _, name := range strategy.DefaultRegistry().Names() {
			fmt.Println(name)
		}
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		if commonerrors.IsValidation(err) {
			zapLogger.Error("invalid configuration", zap.Error(err))
		} else {
			zapLogger.Error("command failed", zap.Error(err))
		}
		os.Exit(1)
	}
}

// commonFlags holds the flags shared by run and walk-forward.
type commonFlags struct {
	configPath  string
	dataDir     string
	strategy    string
	symbols     string
	start       string
	end         string
	out         string
	format      string
	metricsAddr string
}

func registerCommon(fs *flag.FlagSet, cf *commonFlags) {
	fs.StringVar(&cf.configPath, "config", "", "path to config.yaml")
	fs.StringVar(&cf.dataDir, "data", "./data", "directory holding <symbol>.csv candle files")
	fs.StringVar(&cf.strategy, "strategy", "", "strategy name (overrides config)")
	fs.StringVar(&cf.symbols, "symbols", "", "comma-separated symbol list (overrides config)")
	fs.StringVar(&cf.start, "start", "", "range start, RFC3339 or YYYY-MM-DD (overrides config)")
	fs.StringVar(&cf.end, "end", "", "range end (overrides config)")
	fs.StringVar(&cf.out, "out", "", "report output path (default stdout)")
	fs.StringVar(&cf.format, "format", "json", "report format: json, csv or yaml")
	fs.StringVar(&cf.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
}

func loadAndOverride(cf *commonFlags, zapLogger *zap.Logger) (*config.Config, error) {
	var paths []string
	if cf.configPath != "" {
		paths = append(paths, cf.configPath)
	}
	cfg, err := config.LoadConfig(zapLogger, paths...)
	if err != nil {
		return nil, err
	}
	if cf.strategy != "" {
		cfg.Backtest.Strategy = cf.strategy
	}
	if cf.symbols != "" {
		cfg.Backtest.Symbols = splitList(cf.symbols)
	}
	if cf.start != "" {
		cfg.Backtest.Start = cf.start
	}
	if cf.end != "" {
		cfg.Backtest.End = cf.end
	}
	return cfg, config.Validate(cfg)
}

func startMetrics(addr string, zapLogger *zap.Logger) {
	if addr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		zapLogger.Info("metrics listener started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			zapLogger.Warn("metrics listener stopped", zap.Error(err))
		}
	}()
}

func runCommand(args []string, zapLogger *zap.Logger) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var cf commonFlags
	registerCommon(fs, &cf)
	params := fs.String("params", "", "strategy parameters, e.g. fast=10,slow=30")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAndOverride(&cf, zapLogger)
	if err != nil {
		return err
	}
	if parsed, err := parseParams(*params); err != nil {
		return err
	} else if len(parsed) > 0 {
		cfg.Backtest.Params = parsed
	}
	startMetrics(cf.metricsAddr, zapLogger)

	registry := strategy.DefaultRegistry()
	strat, err := registry.Create(cfg.Backtest.Strategy)
	if err != nil {
		return commonerrors.NewValidation("backtest.strategy", "%v (known: %s)",
			err, strings.Join(registry.Names(), ", "))
	}
	if len(cfg.Backtest.Params) > 0 {
		if err := strat.SetParams(cfg.Backtest.Params); err != nil {
			return err
		}
	}

	events, err := loadCandles(cf.dataDir, cfg.Backtest.Symbols, zapLogger)
	if err != nil {
		return err
	}

	engine, err := backtest.NewEngine(cfg, []strategy.Strategy{strat}, zapLogger)
	if err != nil {
		return err
	}
	report, err := engine.Run(events)
	if err != nil {
		return err
	}

	if cfg.Store.Enabled {
		s, err := store.Open(cfg.Store, zapLogger)
		if err != nil {
			zapLogger.Warn("report store unavailable", zap.Error(err))
		} else {
			defer s.Close()
			if err := s.SaveBacktest(report); err != nil {
				zapLogger.Warn("report not persisted", zap.Error(err))
			}
		}
	}
	return exportBacktest(report, cf.out, cf.format)
}

func walkForwardCommand(args []string, zapLogger *zap.Logger) error {
	fs := flag.NewFlagSet("walk-forward", flag.ExitOnError)
	var cf commonFlags
	registerCommon(fs, &cf)
	ranges := fs.String("ranges", "", "parameter ranges, e.g. fast=5:25:5,slow=20:60:10")
	mode := fs.String("mode", "", "window mode: rolling or anchored (overrides config)")
	trainDays := fs.Int("train-days", 0, "training window length in days (overrides config)")
	testDays := fs.Int("test-days", 0, "test window length in days (overrides config)")
	stepDays := fs.Int("step-days", 0, "step between windows in days (0 = test length)")
	oosDays := fs.Int("oos-days", 0, "out-of-sample window length in days (overrides config)")
	workers := fs.Int("workers", 0, "parallel workers (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAndOverride(&cf, zapLogger)
	if err != nil {
		return err
	}
	if *mode != "" {
		cfg.WalkForward.Mode = *mode
	}
	if *trainDays > 0 {
		cfg.WalkForward.TrainDays = *trainDays
	}
	if *testDays > 0 {
		cfg.WalkForward.TestDays = *testDays
	}
	if *stepDays > 0 {
		cfg.WalkForward.StepDays = *stepDays
	}
	if *oosDays > 0 {
		cfg.WalkForward.OOSDays = *oosDays
	}
	if *workers > 0 {
		cfg.WalkForward.MaxWorkers = *workers
	}
	startMetrics(cf.metricsAddr, zapLogger)

	parsedRanges, err := parseRanges(*ranges)
	if err != nil {
		return err
	}

	events, err := loadCandles(cf.dataDir, cfg.Backtest.Symbols, zapLogger)
	if err != nil {
		return err
	}

	started := time.Now()
	analyzer := walkforward.NewAnalyzer(cfg, strategy.DefaultRegistry(), zapLogger)
	report, err := analyzer.Run(context.Background(), events, parsedRanges)
	if err != nil {
		return err
	}
	zapLogger.Info("walk-forward finished", zap.Duration("elapsed", time.Since(started)))

	if cfg.Store.Enabled {
		s, err := store.Open(cfg.Store, zapLogger)
		if err != nil {
			zapLogger.Warn("report store unavailable", zap.Error(err))
		} else {
			defer s.Close()
			if err := s.SaveWalkForward(report); err != nil {
				zapLogger.Warn("walk-forward report not persisted", zap.Error(err))
			}
		}
	}
	return exportWalkForward(report, cf.out, cf.format)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseParams parses "fast=10,slow=30" into a parameter map.
func parseParams(s string) (map[string]float64, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[string]float64)
	for _, pair := range splitList(s) {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, commonerrors.NewValidation("params", "expected name=value, got %q", pair)
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, commonerrors.NewValidation("params", "bad value in %q: %v", pair, err)
		}
		out[name] = f
	}
	return out, nil
}

// parseRanges parses "fast=5:25:5,slow=20:60:10" into inclusive value ranges.
// A plain "name=v1;v2;v3" form lists explicit values.
func parseRanges(s string) (map[string][]float64, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[string][]float64)
	for _, pair := range splitList(s) {
		name, spec, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, commonerrors.NewValidation("ranges", "expected name=start:stop:step, got %q", pair)
		}
		values, err := expandRange(spec)
		if err != nil {
			return nil, commonerrors.NewValidation("ranges", "bad range %q: %v", pair, err)
		}
		out[name] = values
	}
	return out, nil
}

func expandRange(spec string) ([]float64, error) {
	if strings.Contains(spec, ";") {
		var values []float64
		for _, v := range strings.Split(spec, ";") {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, err
			}
			values = append(values, f)
		}
		return values, nil
	}

	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("want start:stop:step or v1;v2;..., got %q", spec)
	}
	start, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, err
	}
	stop, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, err
	}
	step, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return nil, err
	}
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive")
	}

	var values []float64
	for v := start; v <= stop+1e-9; v += step {
		values = append(values, v)
	}
	return values, nil
}
