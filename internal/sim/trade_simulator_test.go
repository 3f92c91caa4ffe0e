package sim

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantframe/backlite/internal/config"
	"github.com/quantframe/backlite/internal/costs"
	"github.com/quantframe/backlite/pkg/models"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testBar(sym string, ts time.Time, open, high, low, close float64) models.Bar {
	return models.Bar{
		Symbol:    sym,
		Timestamp: ts,
		Open:      d(open),
		High:      d(high),
		Low:       d(low),
		Close:     d(close),
		Volume:    d(10000),
	}
}

// frictionlessSim builds a simulator with zero fees, zero slippage and a
// fixed seed so fill prices are exact.
func frictionlessSim(capital float64) *TradeSimulator {
	logger := zap.NewNop()
	costModel := costs.NewModel(config.CostConfig{}, logger)
	fills := NewFillSimulator(config.FillConfig{
		Model:                "next_open",
		Seed:                 42,
		LatencyMeanMs:        1,
		PartialFillThreshold: 1e9,
		MaxPartialFills:      1,
		InstrumentClass:      "equity",
	}, costModel, logger)
	return NewTradeSimulator(d(capital), fills, logger)
}

func marketOrder(sym string, side models.OrderSide, qty float64) *models.OrderRequest {
	return &models.OrderRequest{
		ID:       uuid.New(),
		Symbol:   sym,
		Side:     side,
		Quantity: d(qty),
		Type:     models.OrderMarket,
	}
}

func TestRoundTripAccounting(t *testing.T) {
	ts := frictionlessSim(100000)
	day := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	buyBar := testBar("RELIANCE", day, 2500, 2510, 2495, 2505)
	ts.MarkToMarket(buyBar)
	execs, err := ts.Execute(marketOrder("RELIANCE", models.SideBuy, 100), buyBar, nil, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Fill.Price.Equal(d(2500)), "fill at open, got %s", execs[0].Fill.Price)
	assert.True(t, execs[0].RealizedPnL.IsZero())

	sellBar := testBar("RELIANCE", day.Add(time.Hour), 2520, 2525, 2515, 2522)
	ts.MarkToMarket(sellBar)
	execs, err = ts.Execute(marketOrder("RELIANCE", models.SideSell, 100), sellBar, nil, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	assert.True(t, execs[0].RealizedPnL.Equal(d(2000)), "realized P&L, got %s", execs[0].RealizedPnL)

	pf := ts.Portfolio()
	assert.Empty(t, pf.Positions, "flat position must leave the book")
	assert.True(t, pf.Cash.Equal(d(102000)), "cash, got %s", pf.Cash)
	assert.True(t, pf.Equity().Equal(d(102000)))
}

func TestEquityInvariantHoldsAfterEveryMutation(t *testing.T) {
	ts := frictionlessSim(50000)
	day := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	tolerance := decimal.New(1, -6)

	checkInvariant := func() {
		pf := ts.Portfolio()
		sum := pf.Cash
		for _, pos := range pf.Positions {
			sum = sum.Add(pos.MarketValue())
		}
		diff := pf.Equity().Sub(sum).Abs()
		require.True(t, diff.LessThanOrEqual(tolerance),
			"equity %s != cash+positions %s", pf.Equity(), sum)
	}

	bars := []models.Bar{
		testBar("INFY", day, 1500, 1520, 1490, 1510),
		testBar("INFY", day.Add(time.Hour), 1510, 1540, 1505, 1535),
		testBar("INFY", day.Add(2*time.Hour), 1535, 1550, 1500, 1505),
	}
	for i, bar := range bars {
		ts.MarkToMarket(bar)
		checkInvariant()
		side := models.SideBuy
		if i == 2 {
			side = models.SideSell
		}
		_, err := ts.Execute(marketOrder("INFY", side, 10), bar, nil, 0)
		require.NoError(t, err)
		checkInvariant()
	}
}

func TestVWAPEntryAveraging(t *testing.T) {
	ts := frictionlessSim(100000)
	day := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	bar1 := testBar("TCS", day, 100, 105, 99, 104)
	ts.MarkToMarket(bar1)
	_, err := ts.Execute(marketOrder("TCS", models.SideBuy, 10), bar1, nil, 0)
	require.NoError(t, err)

	bar2 := testBar("TCS", day.Add(time.Hour), 110, 112, 108, 111)
	ts.MarkToMarket(bar2)
	_, err = ts.Execute(marketOrder("TCS", models.SideBuy, 10), bar2, nil, 0)
	require.NoError(t, err)

	pos := ts.Portfolio().Positions["TCS"]
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(d(20)))
	// (10*100 + 10*110) / 20 = 105
	assert.True(t, pos.AvgEntryPrice.Equal(d(105)), "avg entry, got %s", pos.AvgEntryPrice)
}

func TestPartialReduceRealizesProportionally(t *testing.T) {
	ts := frictionlessSim(100000)
	day := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	bar1 := testBar("TCS", day, 100, 105, 99, 104)
	ts.MarkToMarket(bar1)
	_, err := ts.Execute(marketOrder("TCS", models.SideBuy, 20), bar1, nil, 0)
	require.NoError(t, err)

	bar2 := testBar("TCS", day.Add(time.Hour), 110, 112, 108, 111)
	ts.MarkToMarket(bar2)
	execs, err := ts.Execute(marketOrder("TCS", models.SideSell, 5), bar2, nil, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	// 5 * (110 - 100) = 50 realized, 15 still open at the same entry.
	assert.True(t, execs[0].RealizedPnL.Equal(d(50)))
	pos := ts.Portfolio().Positions["TCS"]
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(d(15)))
	assert.True(t, pos.AvgEntryPrice.Equal(d(100)))
}

func TestStopLossExitOnMark(t *testing.T) {
	ts := frictionlessSim(100000)
	day := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	entry := marketOrder("RELIANCE", models.SideBuy, 10)
	entry.StopLoss = d(2400)
	bar1 := testBar("RELIANCE", day, 2500, 2510, 2495, 2505)
	ts.MarkToMarket(bar1)
	_, err := ts.Execute(entry, bar1, nil, 0)
	require.NoError(t, err)

	// Low trades through the stop.
	bar2 := testBar("RELIANCE", day.Add(time.Hour), 2450, 2455, 2390, 2410)
	execs := ts.MarkToMarket(bar2)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].StopExit)
	assert.True(t, execs[0].Fill.Price.Equal(d(2400)), "stop fill at stop price, got %s", execs[0].Fill.Price)
	assert.True(t, execs[0].RealizedPnL.Equal(d(-1000)))
	assert.Empty(t, ts.Portfolio().Positions)
}

func TestStopNotTriggeredAboveLow(t *testing.T) {
	ts := frictionlessSim(100000)
	day := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	entry := marketOrder("RELIANCE", models.SideBuy, 10)
	entry.StopLoss = d(2400)
	bar1 := testBar("RELIANCE", day, 2500, 2510, 2495, 2505)
	ts.MarkToMarket(bar1)
	_, err := ts.Execute(entry, bar1, nil, 0)
	require.NoError(t, err)

	bar2 := testBar("RELIANCE", day.Add(time.Hour), 2450, 2460, 2405, 2410)
	execs := ts.MarkToMarket(bar2)
	assert.Empty(t, execs)
	assert.Len(t, ts.Portfolio().Positions, 1)
}

func TestLimitOrderRequiresCross(t *testing.T) {
	logger := zap.NewNop()
	costModel := costs.NewModel(config.CostConfig{}, logger)
	fills := NewFillSimulator(config.FillConfig{
		Model: "next_open", Seed: 7, LatencyMeanMs: 1,
		PartialFillThreshold: 1e9, MaxPartialFills: 1,
	}, costModel, logger)

	day := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	bar := testBar("INFY", day, 1500, 1520, 1495, 1510)

	buy := marketOrder("INFY", models.SideBuy, 10)
	buy.Type = models.OrderLimit
	buy.LimitPrice = d(1490) // below the bar's low, never crossed

	got, err := fills.Simulate(buy, bar, nil, models.SideBuy, 0)
	require.NoError(t, err)
	assert.Nil(t, got, "uncrossed limit produces no fill")

	buy.LimitPrice = d(1500)
	got, err = fills.Simulate(buy, bar, nil, models.SideBuy, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Price.LessThanOrEqual(d(1500)), "buy limit fill never above limit")
}

func TestPartialFillChunking(t *testing.T) {
	logger := zap.NewNop()
	costModel := costs.NewModel(config.CostConfig{}, logger)
	fills := NewFillSimulator(config.FillConfig{
		Model: "next_open", Seed: 7, LatencyMeanMs: 1,
		PartialFillThreshold: 100, MaxPartialFills: 4,
	}, costModel, logger)

	day := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	bar := testBar("INFY", day, 1500, 1520, 1495, 1510)

	order := marketOrder("INFY", models.SideBuy, 250)
	got, err := fills.Simulate(order, bar, nil, models.SideBuy, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	total := decimal.Zero
	for _, f := range got {
		total = total.Add(f.Quantity)
		assert.Equal(t, models.FillStatusPartiallyFilled, f.Status)
	}
	assert.True(t, total.Equal(d(250)), "chunks must sum to the order quantity")
}

func TestDeterministicWithFixedSeed(t *testing.T) {
	build := func() *FillSimulator {
		logger := zap.NewNop()
		costModel := costs.NewModel(config.CostConfig{}, logger)
		return NewFillSimulator(config.FillConfig{
			Model: "next_open", Seed: 99,
			LatencyMeanMs: 50, LatencyStdMs: 20,
			BaseSlippageBps: 5, MaxSlippageBps: 20,
			PartialFillThreshold: 1e9, MaxPartialFills: 1,
		}, costModel, logger)
	}

	day := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	a, b := build(), build()
	for i := 0; i < 5; i++ {
		bar := testBar("INFY", day.Add(time.Duration(i)*time.Hour), 1500, 1520, 1495, 1510)
		order := marketOrder("INFY", models.SideBuy, 10)
		fa, err := a.Simulate(order, bar, nil, models.SideBuy, 0.5)
		require.NoError(t, err)
		fb, err := b.Simulate(order, bar, nil, models.SideBuy, 0.5)
		require.NoError(t, err)
		require.Len(t, fa, 1)
		require.Len(t, fb, 1)
		assert.True(t, fa[0].Price.Equal(fb[0].Price), "run %d prices diverge", i)
		assert.Equal(t, fa[0].Timestamp, fb[0].Timestamp)
	}
}
