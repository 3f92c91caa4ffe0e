// Package backtest runs the event-driven simulation loop: one time-ordered
// pass over market events with mark-to-market, strategy callbacks, risk
// gating and fill simulation per event.
package backtest

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	commonerrors "github.com/quantframe/backlite/common/errors"
	"github.com/quantframe/backlite/internal/config"
	"github.com/quantframe/backlite/internal/costs"
	"github.com/quantframe/backlite/internal/risk"
	"github.com/quantframe/backlite/internal/sim"
	"github.com/quantframe/backlite/internal/strategy"
	"github.com/quantframe/backlite/pkg/metrics"
	"github.com/quantframe/backlite/pkg/models"
)

const atrPeriod = 14

// Engine owns one backtest run. All state is exclusive to the run; a single
// run is single-threaded and, given a fill seed, fully deterministic.
type Engine struct {
	logger     *zap.Logger
	cfg        *config.Config
	start, end time.Time

	strategies []strategy.Strategy
	risk       *risk.Manager
	trades     *sim.TradeSimulator

	lastBar map[string]models.Bar
	atrs    map[string]*strategy.ATR

	fills      []models.Fill
	executions []sim.Execution
	curve      []models.EquityPoint
}

// NewEngine wires a run from configuration. It validates up front: bad
// dates, capital or symbol lists surface as ValidationError before any
// event is processed.
func NewEngine(cfg *config.Config, strategies []strategy.Strategy, logger *zap.Logger) (*Engine, error) {
	start, end, err := cfg.Backtest.Window()
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, commonerrors.NewValidation("backtest", "start %s not before end %s", cfg.Backtest.Start, cfg.Backtest.End)
	}
	if cfg.Backtest.InitialCapital <= 0 {
		return nil, commonerrors.NewValidation("backtest.initial_capital", "must be positive, got %v", cfg.Backtest.InitialCapital)
	}
	if len(cfg.Backtest.Symbols) == 0 {
		return nil, commonerrors.NewValidation("backtest.symbols", "at least one symbol required")
	}
	if len(strategies) == 0 {
		return nil, commonerrors.NewValidation("backtest.strategy", "at least one strategy required")
	}

	capital := decimal.NewFromFloat(cfg.Backtest.InitialCapital)
	costModel := costs.NewModel(cfg.Costs, logger)
	fillSim := sim.NewFillSimulator(cfg.Fill, costModel, logger)

	return &Engine{
		logger:     logger,
		cfg:        cfg,
		start:      start,
		end:        end,
		strategies: strategies,
		risk:       risk.NewManager(cfg.Risk, capital, logger),
		trades:     sim.NewTradeSimulator(capital, fillSim, logger),
		lastBar:    make(map[string]models.Bar),
		atrs:       make(map[string]*strategy.ATR),
	}, nil
}

// Risk exposes the run's risk manager, mainly for inspection after a run.
func (e *Engine) Risk() *risk.Manager { return e.risk }

// Run executes the event loop over the given events and produces the report.
// Events may arrive as separate per-symbol slices concatenated together; the
// engine normalizes them into one timestamp-ordered sequence, ties broken by
// input order.
func (e *Engine) Run(events []models.MarketEvent) (*models.BacktestReport, error) {
	started := time.Now()

	ordered := make([]models.MarketEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EventTime().Before(ordered[j].EventTime())
	})

	for _, ev := range ordered {
		ts := ev.EventTime()
		if ts.Before(e.start) || ts.After(e.end) {
			continue
		}
		switch v := ev.(type) {
		case models.Bar:
			e.processBar(v)
			metrics.EventsProcessed.WithLabelValues("bar").Inc()
		case models.Tick:
			e.processTick(v)
			metrics.EventsProcessed.WithLabelValues("tick").Inc()
		default:
			e.logger.Warn("unknown event type dropped", zap.String("symbol", ev.EventSymbol()))
			continue
		}
		e.curve = append(e.curve, models.EquityPoint{
			Timestamp: ts,
			Equity:    e.trades.Portfolio().Equity(),
		})
	}

	metrics.BacktestDuration.Observe(time.Since(started).Seconds())
	report := e.buildReport()
	e.logger.Info("backtest complete",
		zap.String("run_id", report.RunID.String()),
		zap.Int("events", len(e.curve)),
		zap.Int("fills", len(e.fills)),
		zap.Float64("total_return", report.Performance.TotalReturn))
	return report, nil
}

func (e *Engine) processBar(bar models.Bar) {
	e.applyExecutions(e.trades.MarkToMarket(bar), bar.Timestamp)

	atr, ok := e.atrs[bar.Symbol]
	if !ok {
		atr = strategy.NewATR(atrPeriod)
		e.atrs[bar.Symbol] = atr
	}
	high, _ := bar.High.Float64()
	low, _ := bar.Low.Float64()
	closePx, _ := bar.Close.Float64()
	atr.Update(high, low, closePx)

	prev, hadPrev := e.lastBar[bar.Symbol]
	e.lastBar[bar.Symbol] = bar

	var prevBar *models.Bar
	if hadPrev {
		prevBar = &prev
	}

	halted := false
	for _, strat := range e.strategies {
		if halted {
			break
		}
		for _, sig := range strat.OnBar(bar) {
			if e.handleSignal(sig, bar, prevBar) {
				halted = true
				break
			}
		}
	}
}

// processTick synthesizes a one-price bar so tick signals share the bar
// execution path.
func (e *Engine) processTick(tick models.Tick) {
	bar := models.Bar{
		Symbol:    tick.Symbol,
		Timestamp: tick.Timestamp,
		Open:      tick.Price,
		High:      tick.Price,
		Low:       tick.Price,
		Close:     tick.Price,
		Volume:    tick.Size,
	}
	e.applyExecutions(e.trades.MarkToMarket(bar), tick.Timestamp)

	halted := false
	for _, strat := range e.strategies {
		if halted {
			break
		}
		ticker, ok := strat.(strategy.TickStrategy)
		if !ok {
			continue
		}
		for _, sig := range ticker.OnTick(tick) {
			if e.handleSignal(sig, bar, nil) {
				halted = true
				break
			}
		}
	}
}

// handleSignal translates one signal into an order, runs the risk gate and
// executes on approval. Returns true when the risk manager halted trading,
// which skips the remaining signals of the current event.
func (e *Engine) handleSignal(sig models.Signal, bar models.Bar, prevBar *models.Bar) bool {
	refBar := bar
	if sig.Symbol != bar.Symbol {
		known, ok := e.lastBar[sig.Symbol]
		if !ok {
			gap := &commonerrors.DataGapError{Symbol: sig.Symbol, Need: 1, Have: 0}
			e.logger.Debug("signal dropped", zap.Error(gap), zap.String("strategy", sig.Strategy))
			return false
		}
		refBar = known
	}

	var atr float64
	if ind, ok := e.atrs[refBar.Symbol]; ok && ind.Ready() {
		atr = ind.Value()
	}
	ctx := risk.EvalContext{Price: refBar.Close, ATR: atr, Now: bar.Timestamp}

	order := e.orderFromSignal(sig, ctx)
	if order == nil {
		return false
	}

	decision := e.risk.Evaluate(order, e.trades.Portfolio(), ctx)
	metrics.RiskDecisions.WithLabelValues(decision.Type.String()).Inc()

	switch decision.Type {
	case models.DecisionHalt:
		e.logger.Warn("signals skipped for event",
			zap.Error(&commonerrors.TradingHalt{Reason: decision.Reason}),
			zap.Time("at", bar.Timestamp))
		return true
	case models.DecisionReject:
		e.logger.Debug("signal dropped",
			zap.Error(&commonerrors.RiskRejection{Reason: decision.Reason}),
			zap.String("symbol", order.Symbol))
		return false
	}

	execBar := refBar
	if refBar.Symbol != bar.Symbol {
		prevBar = nil
	}
	execs, err := e.trades.Execute(decision.Order, execBar, prevBar, atr)
	if err != nil {
		e.logger.Error("execution failed", zap.Error(err), zap.String("symbol", order.Symbol))
		return false
	}
	e.applyExecutions(execs, bar.Timestamp)
	return false
}

// orderFromSignal builds the order request. Flat closes the current position
// and is skipped when no position exists; entries without an explicit
// quantity are sized by the risk manager's configured method.
func (e *Engine) orderFromSignal(sig models.Signal, ctx risk.EvalContext) *models.OrderRequest {
	portfolio := e.trades.Portfolio()

	if sig.Action == models.ActionFlat {
		pos, ok := portfolio.Positions[sig.Symbol]
		if !ok || pos.Quantity.IsZero() {
			return nil
		}
		return &models.OrderRequest{
			ID:        uuid.New(),
			Symbol:    sig.Symbol,
			Side:      pos.Side().Opposite(),
			Quantity:  pos.Quantity.Abs(),
			Type:      models.OrderMarket,
			Strategy:  sig.Strategy,
			CreatedAt: ctx.Now,
		}
	}

	side := models.SideBuy
	if sig.Action == models.ActionSell {
		side = models.SideSell
	}
	qty := sig.Quantity
	if !qty.IsPositive() {
		qty = e.risk.SuggestQuantity(portfolio, ctx, sig.StopLoss)
	}
	return &models.OrderRequest{
		ID:         uuid.New(),
		Symbol:     sig.Symbol,
		Side:       side,
		Quantity:   qty,
		Type:       models.OrderMarket,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Strategy:   sig.Strategy,
		CreatedAt:  ctx.Now,
	}
}

// applyExecutions records fills and feeds realized P&L back into the risk
// state. A stop-loss exit additionally starts the entry cooldown.
func (e *Engine) applyExecutions(execs []sim.Execution, ts time.Time) {
	for _, exec := range execs {
		e.fills = append(e.fills, exec.Fill)
		e.executions = append(e.executions, exec)
		e.risk.UpdateAfterTrade(exec.Fill.Symbol, exec.RealizedPnL, exec.Fill.Timestamp, e.trades.Portfolio())
		if exec.StopExit {
			e.risk.TriggerCooldown(ts)
		}
	}
}

func (e *Engine) buildReport() *models.BacktestReport {
	report := &models.BacktestReport{
		RunID:       uuid.New(),
		Strategy:    e.cfg.Backtest.Strategy,
		Symbols:     e.cfg.Backtest.Symbols,
		Start:       e.start,
		End:         e.end,
		Trades:      e.fills,
		EquityCurve: e.curve,
	}
	report.DailyReturns = dailyReturns(e.curve)
	report.DrawdownCurve = drawdownCurve(e.curve)
	report.Performance = computePerformance(performanceInput{
		InitialCapital: decimal.NewFromFloat(e.cfg.Backtest.InitialCapital),
		RiskFreeRate:   e.cfg.Backtest.RiskFreeRate,
		Curve:          e.curve,
		DailyReturns:   report.DailyReturns,
		Executions:     e.executions,
		FeesPaid:       e.trades.Portfolio().FeesPaid,
		FillCount:      len(e.fills),
	})
	return report
}
