package risk

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantframe/backlite/internal/config"
	"github.com/quantframe/backlite/pkg/models"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		DailyLossLimitPct:     0.05,
		MaxDrawdownStopPct:    0.20,
		MaxPositions:          10,
		MaxPositionsPerSymbol: 1,
		ExposureCapPct:        0.25,
		MaxExposurePct:        1.0,
		CooldownMinutes:       30,
		SizingMethod:          "fixed",
		FixedQuantity:         1000,
		RiskPct:               0.02,
		ATRMultiplier:         2.0,
		MaxPositionSize:       10000,
	}
}

func emptyPortfolio(cash int64) *models.PortfolioState {
	c := decimal.NewFromInt(cash)
	return &models.PortfolioState{
		Cash:           c,
		InitialCapital: c,
		DayStartEquity: c,
		PeakEquity:     c,
		Positions:      make(map[string]*models.Position),
	}
}

func marketOrder(symbol string, side models.OrderSide, qty int64) *models.OrderRequest {
	return &models.OrderRequest{
		ID:       uuid.New(),
		Symbol:   symbol,
		Side:     side,
		Quantity: decimal.NewFromInt(qty),
		Type:     models.OrderMarket,
	}
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestEvaluateAllowsPlainOrder(t *testing.T) {
	m := NewManager(testRiskConfig(), decimal.NewFromInt(100000), zap.NewNop())
	pf := emptyPortfolio(100000)

	dec := m.Evaluate(marketOrder("AAPL", models.SideBuy, 100), pf, EvalContext{
		Price: decimal.NewFromInt(100), Now: t0,
	})
	require.Equal(t, models.DecisionAllow, dec.Type, dec.Reason)
	assert.True(t, dec.Order.Quantity.Equal(decimal.NewFromInt(100)))
}

func TestZeroQuantityRejectedBeforeSizing(t *testing.T) {
	m := NewManager(testRiskConfig(), decimal.NewFromInt(100000), zap.NewNop())
	pf := emptyPortfolio(100000)

	dec := m.Evaluate(marketOrder("AAPL", models.SideBuy, 0), pf, EvalContext{
		Price: decimal.NewFromInt(100), Now: t0,
	})
	assert.Equal(t, models.DecisionReject, dec.Type)
	assert.Equal(t, "zero quantity", dec.Reason)
}

func TestDailyLossLimitHalts(t *testing.T) {
	// daily_loss_limit = 5%, starting cash 100,000, daily_pnl = -6,000
	// => next order evaluation returns HaltTrading.
	m := NewManager(testRiskConfig(), decimal.NewFromInt(100000), zap.NewNop())
	pf := emptyPortfolio(94000)

	m.UpdateAfterTrade("AAPL", decimal.NewFromInt(-6000), t0, pf)

	dec := m.Evaluate(marketOrder("AAPL", models.SideBuy, 10), pf, EvalContext{
		Price: decimal.NewFromInt(100), Now: t0.Add(time.Minute),
	})
	assert.Equal(t, models.DecisionHalt, dec.Type)
	assert.True(t, m.Snapshot().TradingDisabled)

	// Subsequent orders the same day halt immediately.
	dec = m.Evaluate(marketOrder("MSFT", models.SideBuy, 10), pf, EvalContext{
		Price: decimal.NewFromInt(100), Now: t0.Add(2 * time.Minute),
	})
	assert.Equal(t, models.DecisionHalt, dec.Type)
}

func TestDayResetClearsDisabledNotBreaker(t *testing.T) {
	m := NewManager(testRiskConfig(), decimal.NewFromInt(100000), zap.NewNop())
	pf := emptyPortfolio(94000)

	// Trip the session disable via the daily loss limit.
	m.UpdateAfterTrade("AAPL", decimal.NewFromInt(-6000), t0, pf)
	dec := m.Evaluate(marketOrder("AAPL", models.SideBuy, 10), pf, EvalContext{
		Price: decimal.NewFromInt(100), Now: t0.Add(time.Minute),
	})
	require.Equal(t, models.DecisionHalt, dec.Type)

	// Trip the persistent breaker via drawdown.
	crashed := emptyPortfolio(70000)
	m.UpdateAfterTrade("AAPL", decimal.NewFromInt(-24000), t0.Add(2*time.Minute), crashed)
	require.True(t, m.Snapshot().CircuitBreakerTriggered)

	// Next UTC day: tradingDisabled resets, breaker does not.
	nextDay := t0.Add(24 * time.Hour)
	dec = m.Evaluate(marketOrder("AAPL", models.SideBuy, 10), crashed, EvalContext{
		Price: decimal.NewFromInt(100), Now: nextDay,
	})
	assert.Equal(t, models.DecisionHalt, dec.Type)
	snap := m.Snapshot()
	assert.False(t, snap.TradingDisabled, "session disable must clear on day change")
	assert.True(t, snap.CircuitBreakerTriggered, "breaker must persist across days")

	// Only the explicit reset clears the breaker.
	m.ResetCircuitBreaker()
	assert.False(t, m.Snapshot().CircuitBreakerTriggered)
}

func TestCooldownRejects(t *testing.T) {
	m := NewManager(testRiskConfig(), decimal.NewFromInt(100000), zap.NewNop())
	pf := emptyPortfolio(100000)

	m.TriggerCooldown(t0)

	dec := m.Evaluate(marketOrder("AAPL", models.SideBuy, 10), pf, EvalContext{
		Price: decimal.NewFromInt(100), Now: t0.Add(10 * time.Minute),
	})
	assert.Equal(t, models.DecisionReject, dec.Type)
	assert.Equal(t, "cooldown", dec.Reason)

	dec = m.Evaluate(marketOrder("AAPL", models.SideBuy, 10), pf, EvalContext{
		Price: decimal.NewFromInt(100), Now: t0.Add(31 * time.Minute),
	})
	assert.Equal(t, models.DecisionAllow, dec.Type, dec.Reason)
}

func TestExposureCapMonotonicity(t *testing.T) {
	// Rejected at a quantity over the cap, allowed at a quantity under it,
	// same state both times.
	m := NewManager(testRiskConfig(), decimal.NewFromInt(100000), zap.NewNop())
	pf := emptyPortfolio(100000)
	price := decimal.NewFromInt(100)

	// Symbol cap = 25% of 100k = 25,000 notional = 250 units at 100.
	dec := m.Evaluate(marketOrder("AAPL", models.SideBuy, 300), pf, EvalContext{Price: price, Now: t0})
	require.Equal(t, models.DecisionReject, dec.Type)
	assert.Equal(t, "symbol exposure cap exceeded", dec.Reason)

	dec = m.Evaluate(marketOrder("AAPL", models.SideBuy, 200), pf, EvalContext{Price: price, Now: t0})
	assert.Equal(t, models.DecisionAllow, dec.Type, dec.Reason)
}

func TestExposureUsesResultingExposure(t *testing.T) {
	pf := emptyPortfolio(80000)
	pf.Positions["AAPL"] = &models.Position{
		Symbol:        "AAPL",
		Quantity:      decimal.NewFromInt(200),
		AvgEntryPrice: decimal.NewFromInt(100),
		MarkPrice:     decimal.NewFromInt(100),
	}

	cfg := testRiskConfig()
	cfg.MaxPositionsPerSymbol = 2 // allow scaling in, exposure still binds
	m2 := NewManager(cfg, decimal.NewFromInt(100000), zap.NewNop())

	// Equity 100k, existing AAPL exposure 20k, cap 25k: a further 100 units
	// at 100 lands at 30k resulting exposure and must be rejected even
	// though the order alone is under the cap.
	dec := m2.Evaluate(marketOrder("AAPL", models.SideBuy, 100), pf, EvalContext{
		Price: decimal.NewFromInt(100), Now: t0,
	})
	require.Equal(t, models.DecisionReject, dec.Type)
	assert.Equal(t, "symbol exposure cap exceeded", dec.Reason)
}

func TestReducingOrderBypassesExposure(t *testing.T) {
	cfg := testRiskConfig()
	cfg.ExposureCapPct = 0.01 // would reject any entry
	m := NewManager(cfg, decimal.NewFromInt(100000), zap.NewNop())

	pf := emptyPortfolio(80000)
	pf.Positions["AAPL"] = &models.Position{
		Symbol:    "AAPL",
		Quantity:  decimal.NewFromInt(200),
		MarkPrice: decimal.NewFromInt(100),
	}

	dec := m.Evaluate(marketOrder("AAPL", models.SideSell, 200), pf, EvalContext{
		Price: decimal.NewFromInt(100), Now: t0,
	})
	assert.Equal(t, models.DecisionAllow, dec.Type, dec.Reason)
}

func TestSymbolPositionCap(t *testing.T) {
	m := NewManager(testRiskConfig(), decimal.NewFromInt(100000), zap.NewNop())
	pf := emptyPortfolio(90000)
	pf.Positions["AAPL"] = &models.Position{
		Symbol:    "AAPL",
		Quantity:  decimal.NewFromInt(50),
		MarkPrice: decimal.NewFromInt(100),
	}

	dec := m.Evaluate(marketOrder("AAPL", models.SideBuy, 50), pf, EvalContext{
		Price: decimal.NewFromInt(100), Now: t0,
	})
	assert.Equal(t, models.DecisionReject, dec.Type)
	assert.Equal(t, "symbol position cap reached", dec.Reason)
}

func TestMaxPositionsCap(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxPositions = 1
	m := NewManager(cfg, decimal.NewFromInt(100000), zap.NewNop())

	pf := emptyPortfolio(90000)
	pf.Positions["AAPL"] = &models.Position{
		Symbol:    "AAPL",
		Quantity:  decimal.NewFromInt(10),
		MarkPrice: decimal.NewFromInt(100),
	}

	dec := m.Evaluate(marketOrder("MSFT", models.SideBuy, 10), pf, EvalContext{
		Price: decimal.NewFromInt(100), Now: t0,
	})
	assert.Equal(t, models.DecisionReject, dec.Type)
	assert.Equal(t, "max open positions reached", dec.Reason)
}

func TestPercentEquitySizingFloorsToZero(t *testing.T) {
	// equity=100,000, risk_pct=2%, price=2,500 => 100000*0.02/2500 = 0.8,
	// floored to zero under the documented policy, so the order is rejected.
	cfg := testRiskConfig()
	cfg.SizingMethod = "percent_equity"
	m := NewManager(cfg, decimal.NewFromInt(100000), zap.NewNop())
	pf := emptyPortfolio(100000)

	dec := m.Evaluate(marketOrder("BRK", models.SideBuy, 10), pf, EvalContext{
		Price: decimal.NewFromInt(2500), Now: t0,
	})
	assert.Equal(t, models.DecisionReject, dec.Type)
	assert.Equal(t, "position size rounded to zero", dec.Reason)
}

func TestPercentEquitySizingWithStopDistance(t *testing.T) {
	cfg := testRiskConfig()
	cfg.SizingMethod = "percent_equity"
	m := NewManager(cfg, decimal.NewFromInt(100000), zap.NewNop())
	pf := emptyPortfolio(100000)

	// risk budget 2000, stop distance 20 => 100 units, resized from 500.
	order := marketOrder("AAPL", models.SideBuy, 500)
	order.StopLoss = decimal.NewFromInt(80)
	dec := m.Evaluate(order, pf, EvalContext{Price: decimal.NewFromInt(100), Now: t0})
	require.Equal(t, models.DecisionModify, dec.Type, dec.Reason)
	assert.True(t, dec.Order.Quantity.Equal(decimal.NewFromInt(100)), "sized %s", dec.Order.Quantity)
}

func TestSizerNeverExceedsMaximum(t *testing.T) {
	s := NewSizer(config.RiskConfig{
		SizingMethod:    "percent_equity",
		RiskPct:         0.5,
		MaxPositionSize: 50,
	})
	size := s.Size(decimal.NewFromInt(1000000), decimal.NewFromInt(10), decimal.Zero, 0)
	assert.True(t, size.Equal(decimal.NewFromInt(50)), "size %s", size)
}

func TestATRVolatilitySizing(t *testing.T) {
	s := NewSizer(config.RiskConfig{
		SizingMethod:    "atr_volatility",
		RiskPct:         0.02,
		ATRMultiplier:   2.0,
		MaxPositionSize: 10000,
	})
	// 100000*0.02 / (5*2) = 200
	size := s.Size(decimal.NewFromInt(100000), decimal.NewFromInt(100), decimal.Zero, 5)
	assert.True(t, size.Equal(decimal.NewFromInt(200)), "size %s", size)

	// No ATR available: falls back to percent-equity on price.
	size = s.Size(decimal.NewFromInt(100000), decimal.NewFromInt(100), decimal.Zero, 0)
	assert.True(t, size.Equal(decimal.NewFromInt(20)), "size %s", size)
}
