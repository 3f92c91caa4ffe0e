// Package costs converts trades into slippage-adjusted prices and itemized
// fees. The model is a pure function of its inputs; every rate comes from
// configuration.
package costs

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantframe/backlite/internal/config"
	"github.com/quantframe/backlite/pkg/models"
)

// Fee map keys.
const (
	FeeBrokerage      = "brokerage"
	FeeTransactionTax = "transaction_tax"
	FeeExchange       = "exchange_fee"
	FeeTaxOnFees      = "fee_tax"
	FeeTurnover       = "turnover_fee"
)

// feePlaces is the rounding applied to each fee component: 4 decimal places,
// half away from zero.
const feePlaces = 4

var basisPoints = decimal.NewFromInt(10000)

type schedule struct {
	brokeragePct   decimal.Decimal
	brokerageCap   decimal.Decimal
	taxDeliveryPct decimal.Decimal
	taxIntradayPct decimal.Decimal
	exchangeFeePct decimal.Decimal
	feeTaxPct      decimal.Decimal
	turnoverPct    decimal.Decimal
}

func newSchedule(fs config.FeeSchedule) schedule {
	return schedule{
		brokeragePct:   decimal.NewFromFloat(fs.BrokeragePct),
		brokerageCap:   decimal.NewFromFloat(fs.BrokerageCap),
		taxDeliveryPct: decimal.NewFromFloat(fs.TaxDeliveryPct),
		taxIntradayPct: decimal.NewFromFloat(fs.TaxIntradayPct),
		exchangeFeePct: decimal.NewFromFloat(fs.ExchangeFeePct),
		feeTaxPct:      decimal.NewFromFloat(fs.FeeTaxPct),
		turnoverPct:    decimal.NewFromFloat(fs.TurnoverFeePct),
	}
}

// Model applies slippage and fee schedules to simulated trades.
type Model struct {
	logger       *zap.Logger
	slippageBps  decimal.Decimal
	defaultSched schedule
	classSched   map[models.InstrumentClass]schedule
}

// NewModel builds a cost model from configuration. Per-class schedules fall
// back to the default schedule for classes not configured.
func NewModel(cfg config.CostConfig, logger *zap.Logger) *Model {
	m := &Model{
		logger:       logger,
		slippageBps:  decimal.NewFromFloat(cfg.SlippageBps),
		defaultSched: newSchedule(cfg.Default),
		classSched:   make(map[models.InstrumentClass]schedule),
	}
	for name, fs := range cfg.Classes {
		switch name {
		case "equity":
			m.classSched[models.InstrumentEquity] = newSchedule(fs)
		case "future":
			m.classSched[models.InstrumentFuture] = newSchedule(fs)
		case "option":
			m.classSched[models.InstrumentOption] = newSchedule(fs)
		case "crypto":
			m.classSched[models.InstrumentCrypto] = newSchedule(fs)
		default:
			logger.Warn("unknown instrument class in cost config, ignoring", zap.String("class", name))
		}
	}
	return m
}

// PriceWithSlippage applies the configured basis-point adjustment against the
// trader: buys pay up, sells receive less.
func (m *Model) PriceWithSlippage(side models.OrderSide, price decimal.Decimal) decimal.Decimal {
	adj := price.Mul(m.slippageBps).Div(basisPoints)
	if side == models.SideBuy {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

// Fees itemizes the charges on one trade: a capped proportional brokerage, a
// transaction tax (delivery or intraday rate), an exchange fee, a tax on the
// brokerage and exchange fee, and a turnover fee. Each component is rounded
// independently.
func (m *Model) Fees(class models.InstrumentClass, tradeValue decimal.Decimal, delivery, intraday bool) map[string]decimal.Decimal {
	s := m.scheduleFor(class)

	brokerage := tradeValue.Mul(s.brokeragePct)
	if s.brokerageCap.IsPositive() && brokerage.GreaterThan(s.brokerageCap) {
		brokerage = s.brokerageCap
	}
	brokerage = brokerage.Round(feePlaces)

	taxRate := decimal.Zero
	switch {
	case delivery:
		taxRate = s.taxDeliveryPct
	case intraday:
		taxRate = s.taxIntradayPct
	}
	transactionTax := tradeValue.Mul(taxRate).Round(feePlaces)

	exchangeFee := tradeValue.Mul(s.exchangeFeePct).Round(feePlaces)
	feeTax := brokerage.Add(exchangeFee).Mul(s.feeTaxPct).Round(feePlaces)
	turnover := tradeValue.Mul(s.turnoverPct).Round(feePlaces)

	return map[string]decimal.Decimal{
		FeeBrokerage:      brokerage,
		FeeTransactionTax: transactionTax,
		FeeExchange:       exchangeFee,
		FeeTaxOnFees:      feeTax,
		FeeTurnover:       turnover,
	}
}

// TotalFees sums an itemized fee map.
func (m *Model) TotalFees(fees map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fees {
		total = total.Add(f)
	}
	return total
}

// TradeFees is a convenience composing Fees and TotalFees for a fill value.
func (m *Model) TradeFees(class models.InstrumentClass, tradeValue decimal.Decimal, delivery, intraday bool) decimal.Decimal {
	return m.TotalFees(m.Fees(class, tradeValue, delivery, intraday))
}

func (m *Model) scheduleFor(class models.InstrumentClass) schedule {
	if s, ok := m.classSched[class]; ok {
		return s
	}
	return m.defaultSched
}
