package backtest

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/quantframe/backlite/internal/sim"
	"github.com/quantframe/backlite/pkg/models"
)

const tradingDaysPerYear = 252

type performanceInput struct {
	InitialCapital decimal.Decimal
	RiskFreeRate   float64
	Curve          []models.EquityPoint
	DailyReturns   []models.DailyReturn
	Executions     []sim.Execution
	FeesPaid       decimal.Decimal
	FillCount      int
}

// computePerformance derives the full performance snapshot from a completed
// run. Ratios are conventional: volatility and Sharpe annualized from daily
// returns, Sortino over downside deviation only, Calmar over max drawdown.
func computePerformance(in performanceInput) models.PerformanceReport {
	perf := models.PerformanceReport{
		TradeCount: in.FillCount,
		FeesPaid:   in.FeesPaid,
	}

	if len(in.Curve) > 0 && in.InitialCapital.IsPositive() {
		final, _ := in.Curve[len(in.Curve)-1].Equity.Float64()
		initial, _ := in.InitialCapital.Float64()
		perf.TotalReturn = (final - initial) / initial

		days := in.Curve[len(in.Curve)-1].Timestamp.Sub(in.Curve[0].Timestamp).Hours() / 24
		if days >= 1 {
			perf.AnnualizedReturn = math.Pow(1+perf.TotalReturn, 365/days) - 1
		} else {
			perf.AnnualizedReturn = perf.TotalReturn
		}
	}

	returns := make([]float64, len(in.DailyReturns))
	for i, dr := range in.DailyReturns {
		returns[i] = dr.Return
	}

	perf.Volatility = annualizedVolatility(returns)
	if perf.Volatility > 0 {
		perf.SharpeRatio = (perf.AnnualizedReturn - in.RiskFreeRate) / perf.Volatility
	}
	if downside := downsideDeviation(returns); downside > 0 {
		perf.SortinoRatio = (perf.AnnualizedReturn - in.RiskFreeRate) / downside
	}

	perf.MaxDrawdown = maxDrawdownPct(in.Curve)
	if perf.MaxDrawdown > 0 {
		perf.CalmarRatio = perf.AnnualizedReturn / (perf.MaxDrawdown / 100)
	}

	perf.VaR95 = valueAtRisk(returns, 0.95)
	perf.VaR99 = valueAtRisk(returns, 0.99)
	perf.CVaR95 = conditionalVaR(returns, 0.95)

	fillTradeStats(&perf, in.Executions)
	return perf
}

// dailyReturns collapses the per-event equity curve to one closing equity per
// UTC calendar day and returns day-over-day fractional changes.
func dailyReturns(curve []models.EquityPoint) []models.DailyReturn {
	if len(curve) < 2 {
		return nil
	}

	type dayClose struct {
		date  string
		point models.EquityPoint
	}
	var closes []dayClose
	for _, p := range curve {
		date := p.Timestamp.UTC().Format("2006-01-02")
		if len(closes) > 0 && closes[len(closes)-1].date == date {
			closes[len(closes)-1].point = p
			continue
		}
		closes = append(closes, dayClose{date: date, point: p})
	}

	var out []models.DailyReturn
	for i := 1; i < len(closes); i++ {
		prev, _ := closes[i-1].point.Equity.Float64()
		cur, _ := closes[i].point.Equity.Float64()
		if prev > 0 {
			out = append(out, models.DailyReturn{
				Date:   closes[i].point.Timestamp,
				Return: (cur - prev) / prev,
			})
		}
	}
	return out
}

// drawdownCurve reports the running drawdown from peak per equity point, as a
// fraction of peak.
func drawdownCurve(curve []models.EquityPoint) []models.DrawdownPoint {
	if len(curve) == 0 {
		return nil
	}
	out := make([]models.DrawdownPoint, 0, len(curve))
	peak, _ := curve[0].Equity.Float64()
	for _, p := range curve {
		eq, _ := p.Equity.Float64()
		if eq > peak {
			peak = eq
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - eq) / peak
		}
		out = append(out, models.DrawdownPoint{Timestamp: p.Timestamp, Drawdown: dd})
	}
	return out
}

// maxDrawdownPct returns the deepest peak-to-trough drawdown as a percentage
// in [0, 100] for any curve with positive peak equity.
func maxDrawdownPct(curve []models.EquityPoint) float64 {
	maxDD := 0.0
	if len(curve) == 0 {
		return 0
	}
	peak, _ := curve[0].Equity.Float64()
	for _, p := range curve {
		eq, _ := p.Equity.Float64()
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (peak - eq) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD * 100
}

func annualizedVolatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance * tradingDaysPerYear)
}

// downsideDeviation annualizes the deviation of negative returns only.
func downsideDeviation(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	n := 0
	for _, r := range returns {
		if r < 0 {
			sum += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n) * tradingDaysPerYear)
}

// valueAtRisk is the historical VaR at the given confidence, reported
// positive.
func valueAtRisk(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	index := int((1 - confidence) * float64(len(sorted)))
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return -sorted[index]
}

// conditionalVaR averages the returns at or beyond the VaR cutoff, reported
// positive.
func conditionalVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	index := int((1 - confidence) * float64(len(sorted)))
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	sum := 0.0
	count := 0
	for i := 0; i <= index; i++ {
		sum += sorted[i]
		count++
	}
	if count == 0 {
		return 0
	}
	return -sum / float64(count)
}

// fillTradeStats computes win/loss statistics over closing executions, the
// only fills that realize P&L.
func fillTradeStats(perf *models.PerformanceReport, execs []sim.Execution) {
	wins, losses := 0, 0
	winSum, lossSum := decimal.Zero, decimal.Zero
	for _, exec := range execs {
		switch exec.RealizedPnL.Sign() {
		case 1:
			wins++
			winSum = winSum.Add(exec.RealizedPnL)
		case -1:
			losses++
			lossSum = lossSum.Add(exec.RealizedPnL.Abs())
		}
	}

	closed := wins + losses
	if closed > 0 {
		perf.WinRate = float64(wins) / float64(closed)
	}
	if wins > 0 {
		perf.AvgWin = winSum.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		perf.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(losses)))
	}
	if lossSum.IsPositive() {
		pf, _ := winSum.Div(lossSum).Float64()
		perf.ProfitFactor = pf
	} else if winSum.IsPositive() {
		// No losing trades. Infinity does not survive JSON export, so the
		// gross win total stands in as the factor.
		perf.ProfitFactor, _ = winSum.Float64()
	}
}
