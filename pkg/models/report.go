package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EquityPoint is one point in the equity curve. One point is appended per
// processed event, fill or no fill.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// DrawdownPoint is one point in the drawdown curve, as a fraction of peak.
type DrawdownPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Drawdown  float64   `json:"drawdown"`
}

// DailyReturn is a portfolio return over one calendar day.
type DailyReturn struct {
	Date   time.Time `json:"date"`
	Return float64   `json:"return"`
}

// PerformanceReport is a read-only snapshot derived once from a completed
// equity curve and fill list. Ratios and statistics are float64; money
// quantities stay decimal.
type PerformanceReport struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	VaR95            float64 `json:"var_95"`
	VaR99            float64 `json:"var_99"`
	CVaR95           float64 `json:"cvar_95"`

	WinRate      float64         `json:"win_rate"`
	ProfitFactor float64         `json:"profit_factor"`
	AvgWin       decimal.Decimal `json:"avg_win"`
	AvgLoss      decimal.Decimal `json:"avg_loss"`
	TradeCount   int             `json:"trade_count"`
	FeesPaid     decimal.Decimal `json:"fees_paid"`
}

// BacktestReport pairs the fills, equity curve and performance snapshot of
// one completed run. This shape is consumed by the CLI exporters and the
// walk-forward report writer.
type BacktestReport struct {
	RunID         uuid.UUID         `json:"run_id"`
	Strategy      string            `json:"strategy"`
	Symbols       []string          `json:"symbols"`
	Start         time.Time         `json:"start"`
	End           time.Time         `json:"end"`
	Performance   PerformanceReport `json:"performance"`
	Trades        []Fill            `json:"trades"`
	EquityCurve   []EquityPoint     `json:"equity_curve"`
	DrawdownCurve []DrawdownPoint   `json:"drawdown_curve,omitempty"`
	DailyReturns  []DailyReturn     `json:"daily_returns,omitempty"`
}

// WindowKind selects how walk-forward windows advance through time.
type WindowKind int

const (
	WindowRolling WindowKind = iota
	WindowAnchored
)

func (k WindowKind) String() string {
	switch k {
	case WindowRolling:
		return "rolling"
	case WindowAnchored:
		return "anchored"
	default:
		return "unknown"
	}
}

// WalkForwardWindow is one train/test(/OOS) slice of the full date range.
// Invariant: TrainStart < TrainEnd <= TestStart <= TestEnd, and when OOS is
// present, TestEnd <= OOSStart < OOSEnd.
type WalkForwardWindow struct {
	Index      int        `json:"index"`
	Kind       WindowKind `json:"kind"`
	TrainStart time.Time  `json:"train_start"`
	TrainEnd   time.Time  `json:"train_end"`
	TestStart  time.Time  `json:"test_start"`
	TestEnd    time.Time  `json:"test_end"`
	OOSStart   time.Time  `json:"oos_start,omitempty"`
	OOSEnd     time.Time  `json:"oos_end,omitempty"`
}

// HasOOS reports whether the window carries an out-of-sample slice.
func (w WalkForwardWindow) HasOOS() bool {
	return !w.OOSStart.IsZero() && !w.OOSEnd.IsZero()
}

// Validate checks the window ordering invariant.
func (w WalkForwardWindow) Validate() error {
	if !w.TrainStart.Before(w.TrainEnd) {
		return fmt.Errorf("window %d: train_start %s not before train_end %s", w.Index, w.TrainStart, w.TrainEnd)
	}
	if w.TrainEnd.After(w.TestStart) {
		return fmt.Errorf("window %d: train_end %s after test_start %s", w.Index, w.TrainEnd, w.TestStart)
	}
	if w.TestStart.After(w.TestEnd) {
		return fmt.Errorf("window %d: test_start %s after test_end %s", w.Index, w.TestStart, w.TestEnd)
	}
	if w.HasOOS() {
		if w.TestEnd.After(w.OOSStart) {
			return fmt.Errorf("window %d: test_end %s after oos_start %s", w.Index, w.TestEnd, w.OOSStart)
		}
		if !w.OOSStart.Before(w.OOSEnd) {
			return fmt.Errorf("window %d: oos_start %s not before oos_end %s", w.Index, w.OOSStart, w.OOSEnd)
		}
	}
	return nil
}

// ParameterSet is one point of the search grid plus its per-phase performance
// scalars. Filled in by window evaluation, immutable thereafter.
type ParameterSet struct {
	Params    map[string]float64 `json:"params"`
	TrainPerf float64            `json:"train_perf"`
	TestPerf  float64            `json:"test_perf"`
	OOSPerf   float64            `json:"oos_perf"`
	Failed    bool               `json:"failed,omitempty"`
	FailError string             `json:"fail_error,omitempty"`
}

// WalkForwardReport is the validation report produced by a full parameter
// search across all windows.
type WalkForwardReport struct {
	Strategy         string              `json:"strategy"`
	Symbols          []string            `json:"symbols"`
	Windows          []WalkForwardWindow `json:"windows"`
	ParameterSets    []ParameterSet      `json:"parameter_sets"`
	BestParameterSet *ParameterSet       `json:"best_parameter_set,omitempty"`
	OOSPerformance   float64             `json:"oos_performance"`
	OverfittingRatio float64             `json:"overfitting_ratio"`
	RobustnessScore  float64             `json:"robustness_score"`
}
