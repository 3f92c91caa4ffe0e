package walkforward

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	commonerrors "github.com/quantframe/backlite/common/errors"
	"github.com/quantframe/backlite/internal/backtest"
	"github.com/quantframe/backlite/internal/config"
	"github.com/quantframe/backlite/internal/strategy"
	"github.com/quantframe/backlite/pkg/logger"
	"github.com/quantframe/backlite/pkg/metrics"
	"github.com/quantframe/backlite/pkg/models"
)

// Analyzer runs the full parameter search: for every parameter set, every
// window's train, test and OOS phase is backtested with a fresh strategy and
// a fresh engine, so workers share no mutable state.
type Analyzer struct {
	logger   *zap.Logger
	cfg      *config.Config
	registry *strategy.Registry
}

// NewAnalyzer builds an analyzer over the given strategy registry.
func NewAnalyzer(cfg *config.Config, registry *strategy.Registry, logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger, cfg: cfg, registry: registry}
}

// result carries a finished parameter set plus its per-window OOS samples,
// which the robustness score needs beyond the aggregated means.
type result struct {
	set        models.ParameterSet
	oosSamples []float64
}

// Run searches the cartesian product of ranges across all windows and
// returns the validation report. A failing evaluation never aborts the
// search; it is logged and recorded as a zero-performance parameter set.
// Cancelling ctx stops dispatching new jobs; in-flight jobs finish.
func (a *Analyzer) Run(ctx context.Context, events []models.MarketEvent, ranges map[string][]float64) (*models.WalkForwardReport, error) {
	start, end, err := a.cfg.Backtest.Window()
	if err != nil {
		return nil, err
	}
	windows, err := GenerateWindows(a.cfg.WalkForward, start, end)
	if err != nil {
		return nil, err
	}

	grid := NewGrid(ranges)
	workers := a.cfg.WalkForward.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	a.logger.Info("walk-forward search starting",
		zap.Int("windows", len(windows)),
		zap.Int("parameter_sets", grid.Size()),
		zap.Int("workers", workers))

	jobs := make(chan map[string]float64)
	results := make(chan result)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for params := range jobs {
				metrics.WalkForwardActiveWorkers.Inc()
				started := time.Now()
				res := a.evaluate(params, windows, events)
				metrics.WalkForwardJobDuration.Observe(time.Since(started).Seconds())
				metrics.WalkForwardActiveWorkers.Dec()
				results <- res
			}
		}()
	}

	// Feed combinations lazily so large grids never materialize at once.
	go func() {
		defer close(jobs)
		for {
			params, ok := grid.Next()
			if !ok {
				return
			}
			select {
			case jobs <- params:
			case <-ctx.Done():
				a.logger.Warn("walk-forward search cancelled", zap.Error(ctx.Err()))
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collection order is completion order; aggregation below is
	// order-independent.
	var collected []result
	for res := range results {
		if res.set.Failed {
			metrics.WalkForwardJobs.WithLabelValues("failed").Inc()
		} else {
			metrics.WalkForwardJobs.WithLabelValues("ok").Inc()
		}
		collected = append(collected, res)
	}

	return a.buildReport(windows, collected), nil
}

// evaluate scores one parameter set across every window. A panic anywhere in
// the run converts to a zero-performance sentinel.
func (a *Analyzer) evaluate(params map[string]float64, windows []models.WalkForwardWindow, events []models.MarketEvent) (res result) {
	defer func() {
		if r := recover(); r != nil {
			failure := &commonerrors.WorkerFailure{
				Params: params,
				Err:    fmt.Errorf("panic: %v", r),
			}
			a.logger.Error("walk-forward worker failed", zap.Error(failure))
			res = result{set: models.ParameterSet{
				Params:    params,
				Failed:    true,
				FailError: failure.Error(),
			}}
		}
	}()

	var trainSum, testSum, oosSum float64
	var oosSamples []float64
	for _, w := range windows {
		train, err := a.runPhase(params, w.TrainStart, w.TrainEnd, events)
		if err != nil {
			return failedSet(params, err)
		}
		test, err := a.runPhase(params, w.TestStart, w.TestEnd, events)
		if err != nil {
			return failedSet(params, err)
		}
		trainSum += train
		testSum += test

		oos := test
		if w.HasOOS() {
			oos, err = a.runPhase(params, w.OOSStart, w.OOSEnd, events)
			if err != nil {
				return failedSet(params, err)
			}
		}
		oosSum += oos
		oosSamples = append(oosSamples, oos)
	}

	n := float64(len(windows))
	return result{
		set: models.ParameterSet{
			Params:    params,
			TrainPerf: trainSum / n,
			TestPerf:  testSum / n,
			OOSPerf:   oosSum / n,
		},
		oosSamples: oosSamples,
	}
}

// runPhase backtests one date slice with a fresh strategy and engine and
// returns the configured performance metric.
func (a *Analyzer) runPhase(params map[string]float64, start, end time.Time, events []models.MarketEvent) (float64, error) {
	strat, err := a.registry.Create(a.cfg.Backtest.Strategy)
	if err != nil {
		return 0, err
	}
	if err := strat.SetParams(params); err != nil {
		return 0, err
	}

	cfg := *a.cfg
	cfg.Backtest.Start = start.Format(time.RFC3339)
	cfg.Backtest.End = end.Format(time.RFC3339)

	engine, err := backtest.NewEngine(&cfg, []strategy.Strategy{strat}, logger.NewNop())
	if err != nil {
		return 0, err
	}
	report, err := engine.Run(events)
	if err != nil {
		return 0, err
	}
	return a.metricValue(report.Performance), nil
}

// metricValue extracts the configured metric: Sharpe by default, falling
// back to total return when volatility is zero and Sharpe is undefined.
func (a *Analyzer) metricValue(perf models.PerformanceReport) float64 {
	if a.cfg.WalkForward.Metric == "total_return" {
		return perf.TotalReturn
	}
	if perf.Volatility == 0 {
		return perf.TotalReturn
	}
	return perf.SharpeRatio
}

func failedSet(params map[string]float64, err error) result {
	failure := &commonerrors.WorkerFailure{Params: params, Err: err}
	return result{set: models.ParameterSet{
		Params:    params,
		Failed:    true,
		FailError: failure.Error(),
	}}
}

// buildReport picks the best parameter set by test performance and scores
// overfitting and robustness from its per-window OOS samples.
func (a *Analyzer) buildReport(windows []models.WalkForwardWindow, collected []result) *models.WalkForwardReport {
	report := &models.WalkForwardReport{
		Strategy: a.cfg.Backtest.Strategy,
		Symbols:  a.cfg.Backtest.Symbols,
		Windows:  windows,
	}

	var best *result
	for i := range collected {
		report.ParameterSets = append(report.ParameterSets, collected[i].set)
		if collected[i].set.Failed {
			continue
		}
		if best == nil || collected[i].set.TestPerf > best.set.TestPerf {
			best = &collected[i]
		}
	}
	if best == nil {
		a.logger.Warn("all parameter sets failed")
		return report
	}

	bestSet := best.set
	report.BestParameterSet = &bestSet
	report.OOSPerformance = bestSet.OOSPerf
	if bestSet.OOSPerf != 0 {
		report.OverfittingRatio = bestSet.TrainPerf / bestSet.OOSPerf
	}
	report.RobustnessScore = robustness(best.oosSamples)

	a.logger.Info("walk-forward search complete",
		zap.Any("best_params", bestSet.Params),
		zap.Float64("oos_performance", report.OOSPerformance),
		zap.Float64("overfitting_ratio", report.OverfittingRatio),
		zap.Float64("robustness_score", report.RobustnessScore))
	return report
}

// robustness is 1/(1+stdev/|mean|) over the OOS samples, defined as 1.0 for
// a single sample, where dispersion is unmeasurable.
func robustness(samples []float64) float64 {
	if len(samples) <= 1 {
		return 1.0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, s := range samples {
		diff := s - mean
		variance += diff * diff
	}
	variance /= float64(len(samples) - 1)
	stdev := math.Sqrt(variance)
	return 1 / (1 + stdev/math.Abs(mean))
}
