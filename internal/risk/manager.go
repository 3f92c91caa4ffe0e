// Package risk implements the stateful pre-trade gate: position sizing,
// exposure caps, daily-loss and drawdown circuit breakers, and cooldowns.
package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantframe/backlite/internal/config"
	"github.com/quantframe/backlite/pkg/models"
)

const dayKeyLayout = "2006-01-02"

// EvalContext carries the market context an evaluation needs beyond the
// order itself.
type EvalContext struct {
	// Price is the reference price used for notional and sizing: the order's
	// limit price when present, otherwise the latest close.
	Price decimal.Decimal
	// ATR is the current average true range for the symbol, zero when
	// unavailable.
	ATR float64
	// Now is the simulation timestamp of the order.
	Now time.Time
}

// Manager is the backtest risk manager: a state machine over one trading
// session. tradingDisabled resets on the UTC day change; the circuit breaker
// persists across days until ResetCircuitBreaker is called.
type Manager struct {
	logger *zap.Logger
	cfg    config.RiskConfig
	sizer  *Sizer

	startingCash decimal.Decimal

	currentDay      string
	dailyPnL        map[string]decimal.Decimal
	tradesToday     int
	peakEquity      decimal.Decimal
	drawdownPct     decimal.Decimal
	tradingDisabled bool
	breakerTripped  bool
	cooldownUntil   time.Time
}

// Snapshot is a read-only view of the manager's state.
type Snapshot struct {
	Day                     string
	DailyPnL                decimal.Decimal
	TradesToday             int
	PeakEquity              decimal.Decimal
	DrawdownPct             decimal.Decimal
	TradingDisabled         bool
	CircuitBreakerTriggered bool
	CooldownUntil           time.Time
}

// NewManager builds a risk manager for one run.
func NewManager(cfg config.RiskConfig, startingCash decimal.Decimal, logger *zap.Logger) *Manager {
	return &Manager{
		logger:       logger,
		cfg:          cfg,
		sizer:        NewSizer(cfg),
		startingCash: startingCash,
		dailyPnL:     make(map[string]decimal.Decimal),
		peakEquity:   startingCash,
	}
}

// Evaluate runs the pre-trade pipeline for one order and returns a decision.
// The portfolio is read as a snapshot and never mutated here.
func (m *Manager) Evaluate(order *models.OrderRequest, portfolio *models.PortfolioState, ctx EvalContext) models.RiskDecision {
	m.rollDay(ctx.Now)

	if m.tradingDisabled || m.breakerTripped {
		return models.RiskDecision{Type: models.DecisionHalt, Reason: m.haltReason()}
	}

	if ctx.Now.Before(m.cooldownUntil) {
		return models.RiskDecision{Type: models.DecisionReject, Reason: "cooldown"}
	}

	if m.cfg.DailyLossLimitPct > 0 &&
		m.dayPnL().Abs().GreaterThanOrEqual(m.startingCash.Mul(decimal.NewFromFloat(m.cfg.DailyLossLimitPct))) {
		m.tradingDisabled = true
		m.logger.Warn("daily loss limit breached, disabling trading for the session",
			zap.String("day", m.currentDay),
			zap.String("daily_pnl", m.dayPnL().String()))
		return models.RiskDecision{Type: models.DecisionHalt, Reason: "daily loss limit"}
	}

	if m.cfg.MaxDrawdownStopPct > 0 && m.drawdownPct.GreaterThanOrEqual(decimal.NewFromFloat(m.cfg.MaxDrawdownStopPct)) {
		m.breakerTripped = true
		m.logger.Warn("max drawdown breached, circuit breaker triggered",
			zap.String("drawdown_pct", m.drawdownPct.String()))
		return models.RiskDecision{Type: models.DecisionHalt, Reason: "max drawdown circuit breaker"}
	}

	if !order.Quantity.IsPositive() {
		return models.RiskDecision{Type: models.DecisionReject, Reason: "zero quantity"}
	}
	if !ctx.Price.IsPositive() {
		return models.RiskDecision{Type: models.DecisionReject, Reason: "no reference price"}
	}

	reducing := m.isReducing(order, portfolio)
	if !reducing {
		if reason := m.checkPositionCounts(order, portfolio); reason != "" {
			return models.RiskDecision{Type: models.DecisionReject, Reason: reason}
		}
	}

	sized := order.Quantity
	if !reducing {
		equity := portfolio.Equity()
		stopDistance := decimal.Zero
		if order.StopLoss.IsPositive() {
			stopDistance = ctx.Price.Sub(order.StopLoss).Abs()
		}
		computed := m.sizer.Size(equity, ctx.Price, stopDistance, ctx.ATR)
		if computed.LessThan(sized) {
			sized = computed
		}
		if !sized.IsPositive() {
			return models.RiskDecision{Type: models.DecisionReject, Reason: "position size rounded to zero"}
		}

		// Exposure is checked on the resulting post-trade exposure, so the
		// sized quantity is what counts here.
		if reason := m.checkExposure(order.Symbol, sized.Mul(ctx.Price), portfolio); reason != "" {
			return models.RiskDecision{Type: models.DecisionReject, Reason: reason}
		}
	}

	approved := *order
	approved.Quantity = sized
	if sized.Equal(order.Quantity) {
		return models.RiskDecision{Type: models.DecisionAllow, Order: &approved}
	}
	return models.RiskDecision{Type: models.DecisionModify, Order: &approved, Reason: "resized"}
}

// UpdateAfterTrade accumulates the day's P&L bucket, advances peak equity and
// drawdown, and re-evaluates the circuit breaker threshold.
func (m *Manager) UpdateAfterTrade(symbol string, pnl decimal.Decimal, ts time.Time, portfolio *models.PortfolioState) {
	m.rollDay(ts)
	key := ts.UTC().Format(dayKeyLayout)
	m.dailyPnL[key] = m.dailyPnL[key].Add(pnl)
	m.tradesToday++

	equity := portfolio.Equity()
	if equity.GreaterThan(m.peakEquity) {
		m.peakEquity = equity
	}
	if m.peakEquity.IsPositive() {
		m.drawdownPct = m.peakEquity.Sub(equity).Div(m.peakEquity)
	}
	if m.cfg.MaxDrawdownStopPct > 0 &&
		m.drawdownPct.GreaterThanOrEqual(decimal.NewFromFloat(m.cfg.MaxDrawdownStopPct)) && !m.breakerTripped {
		m.breakerTripped = true
		m.logger.Warn("circuit breaker triggered after trade",
			zap.String("symbol", symbol),
			zap.String("drawdown_pct", m.drawdownPct.String()))
	}
}

// SuggestQuantity computes an entry size for a signal that carries no
// explicit quantity, using the configured sizing method. stopLoss may be zero.
func (m *Manager) SuggestQuantity(portfolio *models.PortfolioState, ctx EvalContext, stopLoss decimal.Decimal) decimal.Decimal {
	stopDistance := decimal.Zero
	if stopLoss.IsPositive() {
		stopDistance = ctx.Price.Sub(stopLoss).Abs()
	}
	return m.sizer.Size(portfolio.Equity(), ctx.Price, stopDistance, ctx.ATR)
}

// TriggerCooldown blocks new entries until cooldown_minutes past ts. Invoked
// by the caller after a stop-loss exit.
func (m *Manager) TriggerCooldown(ts time.Time) {
	m.cooldownUntil = ts.Add(time.Duration(m.cfg.CooldownMinutes) * time.Minute)
	m.logger.Info("cooldown triggered", zap.Time("until", m.cooldownUntil))
}

// ResetCircuitBreaker clears the persistent breaker. The breaker never resets
// on its own, not even across day boundaries.
func (m *Manager) ResetCircuitBreaker() {
	m.breakerTripped = false
	m.logger.Info("circuit breaker reset")
}

// Snapshot returns a copy of the current state for inspection.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		Day:                     m.currentDay,
		DailyPnL:                m.dayPnL(),
		TradesToday:             m.tradesToday,
		PeakEquity:              m.peakEquity,
		DrawdownPct:             m.drawdownPct,
		TradingDisabled:         m.tradingDisabled,
		CircuitBreakerTriggered: m.breakerTripped,
		CooldownUntil:           m.cooldownUntil,
	}
}

// rollDay resets per-day counters when the UTC calendar day changes. The
// session disable flag clears; the circuit breaker deliberately does not.
func (m *Manager) rollDay(ts time.Time) {
	day := ts.UTC().Format(dayKeyLayout)
	if day == m.currentDay {
		return
	}
	if m.currentDay != "" {
		m.logger.Debug("trading day rolled",
			zap.String("from", m.currentDay),
			zap.String("to", day))
	}
	m.currentDay = day
	m.tradesToday = 0
	m.tradingDisabled = false
}

func (m *Manager) dayPnL() decimal.Decimal {
	return m.dailyPnL[m.currentDay]
}

func (m *Manager) haltReason() string {
	if m.breakerTripped {
		return "circuit breaker triggered"
	}
	return "trading disabled for session"
}

// isReducing reports whether the order shrinks an existing position rather
// than opening or extending one. Reducing orders bypass sizing and exposure
// checks; they can only lower risk.
func (m *Manager) isReducing(order *models.OrderRequest, portfolio *models.PortfolioState) bool {
	pos, ok := portfolio.Positions[order.Symbol]
	if !ok || pos.Quantity.IsZero() {
		return false
	}
	if pos.Quantity.IsPositive() && order.Side == models.SideSell {
		return order.Quantity.LessThanOrEqual(pos.Quantity)
	}
	if pos.Quantity.IsNegative() && order.Side == models.SideBuy {
		return order.Quantity.LessThanOrEqual(pos.Quantity.Neg())
	}
	return false
}

func (m *Manager) checkPositionCounts(order *models.OrderRequest, portfolio *models.PortfolioState) string {
	open := 0
	for _, pos := range portfolio.Positions {
		if !pos.Quantity.IsZero() {
			open++
		}
	}
	_, holding := portfolio.Positions[order.Symbol]
	if !holding && m.cfg.MaxPositions > 0 && open >= m.cfg.MaxPositions {
		return "max open positions reached"
	}
	if holding && m.cfg.MaxPositionsPerSymbol > 0 && m.cfg.MaxPositionsPerSymbol <= 1 {
		return "symbol position cap reached"
	}
	return ""
}

// checkExposure validates the post-trade exposure: the proposed notional on
// top of current exposure must stay under the per-symbol cap (symbol override
// falling back to the global cap) and the total cap.
func (m *Manager) checkExposure(symbol string, notional decimal.Decimal, portfolio *models.PortfolioState) string {
	equity := portfolio.Equity()
	if !equity.IsPositive() {
		return "no equity"
	}

	capPct := m.cfg.ExposureCapPct
	if override, ok := m.cfg.SymbolExposureCaps[symbol]; ok {
		capPct = override
	}
	if capPct > 0 {
		symbolCap := equity.Mul(decimal.NewFromFloat(capPct))
		if portfolio.SymbolExposure(symbol).Add(notional).GreaterThan(symbolCap) {
			return "symbol exposure cap exceeded"
		}
	}

	if m.cfg.MaxExposurePct > 0 {
		totalCap := equity.Mul(decimal.NewFromFloat(m.cfg.MaxExposurePct))
		if portfolio.TotalExposure().Add(notional).GreaterThan(totalCap) {
			return "total exposure cap exceeded"
		}
	}
	return ""
}
