package costs

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantframe/backlite/internal/config"
	"github.com/quantframe/backlite/pkg/models"
)

func testCostConfig() config.CostConfig {
	return config.CostConfig{
		SlippageBps: 10, // 0.1%
		Default: config.FeeSchedule{
			BrokeragePct:   0.0003,
			BrokerageCap:   20,
			TaxDeliveryPct: 0.001,
			TaxIntradayPct: 0.00025,
			ExchangeFeePct: 0.0000345,
			FeeTaxPct:      0.18,
			TurnoverFeePct: 0.000001,
		},
	}
}

func TestPriceWithSlippage(t *testing.T) {
	m := NewModel(testCostConfig(), zap.NewNop())
	price := decimal.NewFromInt(1000)

	buy := m.PriceWithSlippage(models.SideBuy, price)
	sell := m.PriceWithSlippage(models.SideSell, price)

	// 10 bps on 1000 is 1.0, adverse for each side.
	assert.True(t, buy.Equal(decimal.NewFromInt(1001)), "buy price %s", buy)
	assert.True(t, sell.Equal(decimal.NewFromInt(999)), "sell price %s", sell)
}

func TestFeesItemized(t *testing.T) {
	m := NewModel(testCostConfig(), zap.NewNop())
	value := decimal.NewFromInt(100000)

	fees := m.Fees(models.InstrumentEquity, value, true, false)
	require.Len(t, fees, 5)

	// brokerage: 100000*0.0003 = 30 capped at 20
	assert.True(t, fees[FeeBrokerage].Equal(decimal.NewFromInt(20)), "brokerage %s", fees[FeeBrokerage])
	// delivery tax: 100000*0.001 = 100
	assert.True(t, fees[FeeTransactionTax].Equal(decimal.NewFromInt(100)), "tax %s", fees[FeeTransactionTax])
	// exchange fee: 100000*0.0000345 = 3.45
	assert.True(t, fees[FeeExchange].Equal(decimal.RequireFromString("3.45")), "exchange %s", fees[FeeExchange])
	// fee tax: (20+3.45)*0.18 = 4.221
	assert.True(t, fees[FeeTaxOnFees].Equal(decimal.RequireFromString("4.221")), "fee tax %s", fees[FeeTaxOnFees])
	// turnover: 100000*0.000001 = 0.1
	assert.True(t, fees[FeeTurnover].Equal(decimal.RequireFromString("0.1")), "turnover %s", fees[FeeTurnover])

	total := m.TotalFees(fees)
	assert.True(t, total.Equal(decimal.RequireFromString("127.771")), "total %s", total)
}

func TestFeesIntradayRate(t *testing.T) {
	m := NewModel(testCostConfig(), zap.NewNop())
	value := decimal.NewFromInt(100000)

	fees := m.Fees(models.InstrumentEquity, value, false, true)
	assert.True(t, fees[FeeTransactionTax].Equal(decimal.NewFromInt(25)), "intraday tax %s", fees[FeeTransactionTax])

	// Neither flag set: no transaction tax.
	fees = m.Fees(models.InstrumentEquity, value, false, false)
	assert.True(t, fees[FeeTransactionTax].IsZero())
}

func TestFeesClassOverrideFallsBackToDefault(t *testing.T) {
	cfg := testCostConfig()
	cfg.Classes = map[string]config.FeeSchedule{
		"future": {BrokeragePct: 0.0001, BrokerageCap: 10, FeeTaxPct: 0.18},
	}
	m := NewModel(cfg, zap.NewNop())
	value := decimal.NewFromInt(100000)

	fut := m.Fees(models.InstrumentFuture, value, false, false)
	assert.True(t, fut[FeeBrokerage].Equal(decimal.NewFromInt(10)), "future brokerage %s", fut[FeeBrokerage])
	// equity not overridden, uses default
	eq := m.Fees(models.InstrumentEquity, value, false, false)
	assert.True(t, eq[FeeBrokerage].Equal(decimal.NewFromInt(20)), "equity brokerage %s", eq[FeeBrokerage])
}

func TestFeesPure(t *testing.T) {
	m := NewModel(testCostConfig(), zap.NewNop())
	value := decimal.NewFromInt(50000)
	a := m.TradeFees(models.InstrumentEquity, value, true, false)
	b := m.TradeFees(models.InstrumentEquity, value, true, false)
	assert.True(t, a.Equal(b))
}
