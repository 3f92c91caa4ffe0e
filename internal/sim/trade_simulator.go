package sim

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantframe/backlite/pkg/models"
)

// Execution pairs a fill with the realized P&L it produced and whether it
// came from a protective stop. The caller uses StopExit to trigger the risk
// manager's cooldown.
type Execution struct {
	Fill        models.Fill
	RealizedPnL decimal.Decimal
	StopExit    bool
}

// TradeSimulator owns the portfolio. All mutation goes through Execute and
// MarkToMarket; the accounting invariant equity == cash + Σ position value
// holds after every call.
type TradeSimulator struct {
	logger    *zap.Logger
	fills     *FillSimulator
	portfolio *models.PortfolioState
	lastDay   string
}

// NewTradeSimulator builds a simulator with the given starting cash.
func NewTradeSimulator(initialCapital decimal.Decimal, fills *FillSimulator, logger *zap.Logger) *TradeSimulator {
	return &TradeSimulator{
		logger: logger,
		fills:  fills,
		portfolio: &models.PortfolioState{
			Cash:           initialCapital,
			InitialCapital: initialCapital,
			DayStartEquity: initialCapital,
			PeakEquity:     initialCapital,
			Positions:      make(map[string]*models.Position),
		},
	}
}

// Portfolio exposes the book. Callers treat it as a read-only snapshot.
func (ts *TradeSimulator) Portfolio() *models.PortfolioState {
	return ts.portfolio
}

// MarkToMarket refreshes marks and unrealized P&L for the bar's symbol, rolls
// the daily equity anchor on UTC day changes, and fires any pending
// stop-loss or take-profit exits, returning the resulting executions.
func (ts *TradeSimulator) MarkToMarket(bar models.Bar) []Execution {
	ts.rollDay(bar)

	pos, ok := ts.portfolio.Positions[bar.Symbol]
	if !ok {
		ts.updateDrawdown()
		return nil
	}

	pos.MarkPrice = bar.Close
	pos.UnrealizedPnL = bar.Close.Sub(pos.AvgEntryPrice).Mul(pos.Quantity)

	executions := ts.checkExits(pos, bar)
	ts.updateDrawdown()
	return executions
}

// Execute runs one approved order through the fill simulator and applies the
// resulting fills to the book. A nil slice means no fill matched.
func (ts *TradeSimulator) Execute(order *models.OrderRequest, bar models.Bar, prevBar *models.Bar, atr float64) ([]Execution, error) {
	heldSide := models.SideBuy
	if pos, ok := ts.portfolio.Positions[order.Symbol]; ok {
		heldSide = pos.Side()
	}

	fills, err := ts.fills.Simulate(order, bar, prevBar, heldSide, atr)
	if err != nil || len(fills) == 0 {
		return nil, err
	}

	executions := make([]Execution, 0, len(fills))
	for _, fill := range fills {
		pnl := ts.applyFill(fill, order)
		executions = append(executions, Execution{Fill: fill, RealizedPnL: pnl})
	}
	ts.updateDrawdown()
	return executions, nil
}

// applyFill moves cash, updates or opens the position, and realizes P&L on
// reducing fills. Fees always come straight out of cash.
func (ts *TradeSimulator) applyFill(fill models.Fill, order *models.OrderRequest) decimal.Decimal {
	pf := ts.portfolio
	notional := fill.Quantity.Mul(fill.Price)

	if fill.Side == models.SideBuy {
		pf.Cash = pf.Cash.Sub(notional).Sub(fill.Fees)
	} else {
		pf.Cash = pf.Cash.Add(notional).Sub(fill.Fees)
	}
	pf.FeesPaid = pf.FeesPaid.Add(fill.Fees)
	pf.SlippagePaid = pf.SlippagePaid.Add(fill.Slippage)

	signedQty := fill.Quantity
	if fill.Side == models.SideSell {
		signedQty = signedQty.Neg()
	}

	pos, ok := pf.Positions[fill.Symbol]
	if !ok {
		pos = &models.Position{
			Symbol:        fill.Symbol,
			Quantity:      signedQty,
			AvgEntryPrice: fill.Price,
			MarkPrice:     fill.Price,
			OpenedAt:      fill.Timestamp,
		}
		if order != nil {
			pos.StopLoss = order.StopLoss
			pos.TakeProfit = order.TakeProfit
		}
		pf.Positions[fill.Symbol] = pos
		return decimal.Zero
	}

	sameDirection := pos.Quantity.Sign() == signedQty.Sign() || pos.Quantity.IsZero()
	if sameDirection {
		// Extending: volume-weighted average entry.
		oldValue := pos.Quantity.Mul(pos.AvgEntryPrice)
		newQty := pos.Quantity.Add(signedQty)
		if !newQty.IsZero() {
			pos.AvgEntryPrice = oldValue.Add(signedQty.Mul(fill.Price)).Div(newQty)
		}
		pos.Quantity = newQty
		pos.MarkPrice = fill.Price
		if order != nil && order.StopLoss.IsPositive() {
			pos.StopLoss = order.StopLoss
		}
		return decimal.Zero
	}

	// Reducing (or flipping through zero).
	closeQty := signedQty.Abs()
	if closeQty.GreaterThan(pos.Quantity.Abs()) {
		closeQty = pos.Quantity.Abs()
	}
	var pnl decimal.Decimal
	if pos.Quantity.IsPositive() {
		pnl = fill.Price.Sub(pos.AvgEntryPrice).Mul(closeQty)
	} else {
		pnl = pos.AvgEntryPrice.Sub(fill.Price).Mul(closeQty)
	}
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
	pos.Quantity = pos.Quantity.Add(signedQty)
	pos.MarkPrice = fill.Price
	pos.UnrealizedPnL = fill.Price.Sub(pos.AvgEntryPrice).Mul(pos.Quantity)

	if pos.Quantity.IsZero() {
		// Realized P&L flushed; the flat position leaves the book.
		delete(pf.Positions, fill.Symbol)
	} else if pos.Quantity.Sign() != signedQty.Neg().Sign() {
		// Flipped through zero: the remainder is a fresh position at the
		// fill price.
		pos.AvgEntryPrice = fill.Price
		pos.UnrealizedPnL = decimal.Zero
		pos.OpenedAt = fill.Timestamp
		pos.StopLoss = decimal.Zero
		pos.TakeProfit = decimal.Zero
	}
	return pnl
}

// checkExits fires pending stop-loss and take-profit exits for one position
// against the current bar.
func (ts *TradeSimulator) checkExits(pos *models.Position, bar models.Bar) []Execution {
	var executions []Execution

	long := pos.Quantity.IsPositive()
	qty := pos.Quantity.Abs()

	stopHit := pos.StopLoss.IsPositive() &&
		((long && bar.Low.LessThanOrEqual(pos.StopLoss)) ||
			(!long && bar.High.GreaterThanOrEqual(pos.StopLoss)))
	if stopHit {
		order := &models.OrderRequest{
			ID:        uuid.New(),
			Symbol:    pos.Symbol,
			Side:      pos.Side().Opposite(),
			Quantity:  qty,
			Type:      models.OrderStopMarket,
			StopPrice: pos.StopLoss,
			CreatedAt: bar.Timestamp,
		}
		fills, err := ts.fills.Simulate(order, bar, nil, pos.Side(), 0)
		if err == nil {
			for _, fill := range fills {
				pnl := ts.applyFill(fill, nil)
				executions = append(executions, Execution{Fill: fill, RealizedPnL: pnl, StopExit: true})
			}
		}
		if len(executions) > 0 {
			ts.logger.Debug("stop-loss exit",
				zap.String("symbol", pos.Symbol),
				zap.String("stop", order.StopPrice.String()))
			return executions
		}
	}

	tpHit := pos.TakeProfit.IsPositive() &&
		((long && bar.High.GreaterThanOrEqual(pos.TakeProfit)) ||
			(!long && bar.Low.LessThanOrEqual(pos.TakeProfit)))
	if tpHit {
		order := &models.OrderRequest{
			ID:         uuid.New(),
			Symbol:     pos.Symbol,
			Side:       pos.Side().Opposite(),
			Quantity:   qty,
			Type:       models.OrderLimit,
			LimitPrice: pos.TakeProfit,
			CreatedAt:  bar.Timestamp,
		}
		fills, err := ts.fills.Simulate(order, bar, nil, pos.Side(), 0)
		if err == nil {
			for _, fill := range fills {
				pnl := ts.applyFill(fill, nil)
				executions = append(executions, Execution{Fill: fill, RealizedPnL: pnl})
			}
		}
	}
	return executions
}

func (ts *TradeSimulator) rollDay(bar models.Bar) {
	day := bar.Timestamp.UTC().Format("2006-01-02")
	if day != ts.lastDay {
		if ts.lastDay != "" {
			ts.portfolio.DayStartEquity = ts.portfolio.Equity()
		}
		ts.lastDay = day
	}
}

func (ts *TradeSimulator) updateDrawdown() {
	pf := ts.portfolio
	equity := pf.Equity()
	if equity.GreaterThan(pf.PeakEquity) {
		pf.PeakEquity = equity
	}
	if pf.PeakEquity.IsPositive() {
		dd := pf.PeakEquity.Sub(equity).Div(pf.PeakEquity).Mul(decimal.NewFromInt(100))
		if dd.GreaterThan(pf.MaxDrawdownPct) {
			pf.MaxDrawdownPct = dd
		}
	}
}
