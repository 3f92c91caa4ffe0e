package risk

import (
	"github.com/shopspring/decimal"

	"github.com/quantframe/backlite/internal/config"
)

// SizingMethod selects how entry orders are sized.
type SizingMethod int

const (
	SizingFixed SizingMethod = iota
	SizingPercentEquity
	SizingATRVolatility
)

func (m SizingMethod) String() string {
	switch m {
	case SizingFixed:
		return "fixed"
	case SizingPercentEquity:
		return "percent_equity"
	case SizingATRVolatility:
		return "atr_volatility"
	default:
		return "unknown"
	}
}

func parseSizingMethod(s string) SizingMethod {
	switch s {
	case "fixed":
		return SizingFixed
	case "atr_volatility":
		return SizingATRVolatility
	default:
		return SizingPercentEquity
	}
}

// Sizer computes position sizes from portfolio equity. Fractional results are
// floored to whole units; a result that floors to zero is reported as zero
// and rejected by the caller, never bumped to a minimum lot.
type Sizer struct {
	method        SizingMethod
	fixedQuantity decimal.Decimal
	riskPct       decimal.Decimal
	atrMultiplier decimal.Decimal
	maxSize       decimal.Decimal
}

// NewSizer builds a sizer from risk configuration.
func NewSizer(cfg config.RiskConfig) *Sizer {
	return &Sizer{
		method:        parseSizingMethod(cfg.SizingMethod),
		fixedQuantity: decimal.NewFromFloat(cfg.FixedQuantity),
		riskPct:       decimal.NewFromFloat(cfg.RiskPct),
		atrMultiplier: decimal.NewFromFloat(cfg.ATRMultiplier),
		maxSize:       decimal.NewFromFloat(cfg.MaxPositionSize),
	}
}

// Size computes the position size for one entry.
//
//   - fixed: the configured constant quantity.
//   - percent_equity: equity*riskPct / stopDistance, or /price when no stop
//     is given.
//   - atr_volatility: equity*riskPct / (ATR*multiplier); falls back to the
//     percent-equity formula when ATR is unavailable.
//
// The result is floored to whole units and clamped to the configured maximum.
func (s *Sizer) Size(equity, price, stopDistance decimal.Decimal, atr float64) decimal.Decimal {
	riskBudget := equity.Mul(s.riskPct)

	var size decimal.Decimal
	switch s.method {
	case SizingFixed:
		size = s.fixedQuantity
	case SizingATRVolatility:
		atrDec := decimal.NewFromFloat(atr)
		denom := atrDec.Mul(s.atrMultiplier)
		if denom.IsPositive() {
			size = riskBudget.Div(denom)
			break
		}
		fallthrough
	default: // percent_equity
		denom := stopDistance
		if !denom.IsPositive() {
			denom = price
		}
		if !denom.IsPositive() {
			return decimal.Zero
		}
		size = riskBudget.Div(denom)
	}

	size = size.Floor()
	if size.IsNegative() {
		return decimal.Zero
	}
	if s.maxSize.IsPositive() && size.GreaterThan(s.maxSize) {
		size = s.maxSize
	}
	return size
}
