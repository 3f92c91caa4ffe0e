package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order or fill.
type OrderSide int

const (
	SideBuy OrderSide = iota
	SideSell
)

func (s OrderSide) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the closing side for a held side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SignalAction is what a strategy wants done with a symbol.
type SignalAction int

const (
	ActionBuy SignalAction = iota
	ActionSell
	ActionFlat
)

func (a SignalAction) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// OrderType enumerates the supported simulated order types.
type OrderType int

const (
	OrderMarket OrderType = iota
	OrderLimit
	OrderStop
	OrderStopMarket
)

func (t OrderType) String() string {
	switch t {
	case OrderMarket:
		return "market"
	case OrderLimit:
		return "limit"
	case OrderStop:
		return "stop"
	case OrderStopMarket:
		return "stop-market"
	default:
		return "unknown"
	}
}

// FillStatus is the terminal state of a simulated fill.
type FillStatus int

const (
	FillStatusFilled FillStatus = iota
	FillStatusPartiallyFilled
	FillStatusRejected
	FillStatusCancelled
)

func (s FillStatus) String() string {
	switch s {
	case FillStatusFilled:
		return "filled"
	case FillStatusPartiallyFilled:
		return "partially_filled"
	case FillStatusRejected:
		return "rejected"
	case FillStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// InstrumentClass selects the fee schedule applied by the cost model.
type InstrumentClass int

const (
	InstrumentEquity InstrumentClass = iota
	InstrumentFuture
	InstrumentOption
	InstrumentCrypto
)

func (c InstrumentClass) String() string {
	switch c {
	case InstrumentEquity:
		return "equity"
	case InstrumentFuture:
		return "future"
	case InstrumentOption:
		return "option"
	case InstrumentCrypto:
		return "crypto"
	default:
		return "unknown"
	}
}

// MarketEvent is either a Bar or a Tick. Events are immutable once produced
// and are consumed read-only by the engine.
type MarketEvent interface {
	EventSymbol() string
	EventTime() time.Time
}

// Bar is one OHLCV candle. Timestamps must carry an explicit UTC offset.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

func (b Bar) EventSymbol() string  { return b.Symbol }
func (b Bar) EventTime() time.Time { return b.Timestamp }

// Mid returns the midpoint of the bar's high and low.
func (b Bar) Mid() decimal.Decimal {
	return b.High.Add(b.Low).Div(decimal.NewFromInt(2))
}

// Tick is a single trade print.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
}

func (t Tick) EventSymbol() string  { return t.Symbol }
func (t Tick) EventTime() time.Time { return t.Timestamp }

/// Signal is one strategy instruction for one symbol. Ephemeral: produced by a
// strategy callback, translated into an OrderRequest and discarded.
// Zero-valued decimal fields mean "not set".
type Signal struct {
	Symbol       string                 `json:"symbol"`
	Action       SignalAction           `json:"action"`
	Quantity     decimal.Decimal        `json:"quantity,omitempty"`
	StopLoss     decimal.Decimal        `json:"stop_loss,omitempty"`
	TakeProfit   decimal.Decimal        `json:"take_profit,omitempty"`
	TrailingStop decimal.Decimal        `json:"trailing_stop,omitempty"`
	Strategy     string                 `json:"strategy"`
	Meta         map[string]interface{} `json:"meta,omitempty"`
}

// OrderRequest is a sized, typed order awaiting risk approval and execution.
// Consumed once; not persisted beyond the current event.
type OrderRequest struct {
	ID         uuid.UUID       `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Type       OrderType       `json:"type"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice  decimal.Decimal `json:"stop_price,omitempty"`
	StopLoss   decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit decimal.Decimal `json:"take_profit,omitempty"`
	Strategy   string          `json:"strategy"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RiskDecisionType is the outcome of the pre-trade risk gate.
type RiskDecisionType int

const (
	DecisionAllow RiskDecisionType = iota
	DecisionReject
	DecisionModify
	DecisionHalt
)

func (t RiskDecisionType) String() string {
	switch t {
	case DecisionAllow:
		return "allow"
	case DecisionReject:
		return "reject"
	case DecisionModify:
		return "modify"
	case DecisionHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// RiskDecision is computed fresh per order. Order carries the sized order for
// Allow and Modify; Reason explains Reject and Halt.
type RiskDecision struct {
	Type   RiskDecisionType `json:"type"`
	Order  *OrderRequest    `json:"order,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// Fill is the result of simulated execution. Quantity may be less than the
// requested quantity when the order was chunked into partial fills.
type Fill struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Slippage  decimal.Decimal `json:"slippage"`
	Fees      decimal.Decimal `json:"fees"`
	Timestamp time.Time       `json:"timestamp"`
	Status    FillStatus      `json:"status"`
}

// Notional returns the absolute traded value of the fill.
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Abs().Mul(f.Price)
}

/// Position is an open holding. Quantity is signed: positive long, negative
// short. Mutated only by the trade simulator; removed when quantity returns
// to zero after realized P&L is flushed.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	StopLoss      decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit    decimal.Decimal `json:"take_profit,omitempty"`
	OpenedAt      time.Time       `json:"opened_at"`
}

// MarketValue returns the signed value of the position at its mark price.
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.MarkPrice)
}

// Side returns the held side. A zero position reports SideBuy.
func (p *Position) Side() OrderSide {
	if p.Quantity.IsNegative() {
		return SideSell
	}
	return SideBuy
}

// PortfolioState is the trade simulator's book. Single owner: TradeSimulator.
// The risk manager only ever reads a snapshot.
type PortfolioState struct {
	Cash           decimal.Decimal      `json:"cash"`
	InitialCapital decimal.Decimal      `json:"initial_capital"`
	DayStartEquity decimal.Decimal      `json:"day_start_equity"`
	Positions      map[string]*Position `json:"positions"`
	FeesPaid       decimal.Decimal      `json:"fees_paid"`
	SlippagePaid   decimal.Decimal      `json:"slippage_paid"`
	PeakEquity     decimal.Decimal      `json:"peak_equity"`
	MaxDrawdownPct decimal.Decimal      `json:"max_drawdown_pct"`
}

// Equity returns cash plus the signed market value of all open positions.
func (ps *PortfolioState) Equity() decimal.Decimal {
	eq := ps.Cash
	for _, pos := range ps.Positions {
		eq = eq.Add(pos.MarketValue())
	}
	return eq
}

// TotalExposure returns the sum of absolute position notionals.
func (ps *PortfolioState) TotalExposure() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range ps.Positions {
		total = total.Add(pos.MarketValue().Abs())
	}
	return total
}

// SymbolExposure returns the absolute notional held in one symbol.
func (ps *PortfolioState) SymbolExposure(symbol string) decimal.Decimal {
	pos, ok := ps.Positions[symbol]
	if !ok {
		return decimal.Zero
	}
	return pos.MarketValue().Abs()
}
