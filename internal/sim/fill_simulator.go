// Package sim simulates order execution and portfolio accounting for a
// single backtest run. Nothing here is safe for concurrent use; each run
// owns its own simulator instances.
package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantframe/backlite/internal/config"
	"github.com/quantframe/backlite/internal/costs"
	"github.com/quantframe/backlite/pkg/metrics"
	"github.com/quantframe/backlite/pkg/models"
)

// FillModel selects the base price for market-order fills.
type FillModel int

const (
	FillNextOpen FillModel = iota
	FillClose
	FillMidpoint
)

func parseFillModel(s string) FillModel {
	switch s {
	case "close":
		return FillClose
	case "midpoint":
		return FillMidpoint
	default:
		return FillNextOpen
	}
}

func parseInstrumentClass(s string) models.InstrumentClass {
	switch s {
	case "future":
		return models.InstrumentFuture
	case "option":
		return models.InstrumentOption
	case "crypto":
		return models.InstrumentCrypto
	default:
		return models.InstrumentEquity
	}
}

// FillSimulator turns approved orders plus bars into fills, modeling
// execution latency, slippage and partial fills. Deterministic when
// constructed with an explicit seed.
type FillSimulator struct {
	logger *zap.Logger
	costs  *costs.Model
	model  FillModel
	rng    *rand.Rand

	latencyMu    float64 // log-space mean
	latencySigma float64 // log-space stddev
	meanMs       float64

	baseSlipBps float64
	maxSlipBps  float64

	partialThreshold decimal.Decimal
	maxPartialFills  int

	class    models.InstrumentClass
	delivery bool
}

// NewFillSimulator builds a fill simulator. A zero seed falls back to the
// wall clock, making runs reproducible only up to the latency randomness.
func NewFillSimulator(cfg config.FillConfig, costModel *costs.Model, logger *zap.Logger) *FillSimulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mean := cfg.LatencyMeanMs
	if mean <= 0 {
		mean = 1
	}
	sigma := 0.0
	if cfg.LatencyStdMs > 0 {
		sigma = cfg.LatencyStdMs / mean
	}
	return &FillSimulator{
		logger:           logger,
		costs:            costModel,
		model:            parseFillModel(cfg.Model),
		rng:              rand.New(rand.NewSource(seed)),
		latencyMu:        math.Log(mean),
		latencySigma:     sigma,
		meanMs:           mean,
		baseSlipBps:      cfg.BaseSlippageBps,
		maxSlipBps:       cfg.MaxSlippageBps,
		partialThreshold: decimal.NewFromFloat(cfg.PartialFillThreshold),
		maxPartialFills:  cfg.MaxPartialFills,
		class:            parseInstrumentClass(cfg.InstrumentClass),
		delivery:         cfg.Delivery,
	}
}

// Simulate executes one approved order against a bar. prevBar supplies the
// prior bar for market orders; heldSide matters only for stop orders, which
// trigger in the adverse direction for the held side. A nil return with nil
// error means no fill: the caller keeps the order for the next event.
func (fs *FillSimulator) Simulate(order *models.OrderRequest, bar models.Bar, prevBar *models.Bar, heldSide models.OrderSide, atr float64) ([]models.Fill, error) {
	switch order.Type {
	case models.OrderMarket:
		return fs.fillMarket(order, bar, fs.marketBasePrice(bar, prevBar), atr), nil
	case models.OrderLimit:
		return fs.fillLimit(order, bar, order.LimitPrice, atr), nil
	case models.OrderStop:
		if !fs.stopTriggered(order, bar, heldSide) {
			return nil, nil
		}
		// A plain stop converts into a limit at the stop price.
		return fs.fillLimit(order, bar, order.StopPrice, atr), nil
	case models.OrderStopMarket:
		if !fs.stopTriggered(order, bar, heldSide) {
			return nil, nil
		}
		// Triggered stop-market trades through at the stop price.
		return fs.fillMarket(order, bar, order.StopPrice, atr), nil
	default:
		return nil, nil
	}
}

func (fs *FillSimulator) marketBasePrice(bar models.Bar, prevBar *models.Bar) decimal.Decimal {
	switch fs.model {
	case FillClose:
		if prevBar != nil {
			return prevBar.Close
		}
		return bar.Close
	case FillMidpoint:
		return bar.Mid()
	default:
		return bar.Open
	}
}

// fillMarket fills at the base price adjusted by latency- and
// volatility-scaled slippage, chunking large orders into partial fills.
func (fs *FillSimulator) fillMarket(order *models.OrderRequest, bar models.Bar, base decimal.Decimal, atr float64) []models.Fill {
	if !base.IsPositive() {
		return nil
	}
	chunks := fs.chunk(order.Quantity)
	status := models.FillStatusFilled
	if len(chunks) > 1 {
		status = models.FillStatusPartiallyFilled
	}

	fills := make([]models.Fill, 0, len(chunks))
	for _, qty := range chunks {
		latencyMs := fs.sampleLatency(base, atr)
		slipBps := fs.slippageBps(latencyMs, base, atr)
		price, slip := fs.applySlippage(order.Side, base, slipBps)

		fills = append(fills, fs.newFill(order, qty, price, slip, bar.Timestamp, latencyMs, status))
	}
	return fills
}

// fillLimit fills only when the bar crosses the limit price: bar low for
// buys, bar high for sells. The base price is the more favorable of the
// limit and the touched extreme; slippage is still charged against it, but a
// buy never pays above its limit and a sell never receives below it.
func (fs *FillSimulator) fillLimit(order *models.OrderRequest, bar models.Bar, limit decimal.Decimal, atr float64) []models.Fill {
	if !limit.IsPositive() {
		return nil
	}
	var base decimal.Decimal
	if order.Side == models.SideBuy {
		if bar.Low.GreaterThan(limit) {
			return nil
		}
		base = decimal.Min(limit, bar.Low)
	} else {
		if bar.High.LessThan(limit) {
			return nil
		}
		base = decimal.Max(limit, bar.High)
	}

	chunks := fs.chunk(order.Quantity)
	status := models.FillStatusFilled
	if len(chunks) > 1 {
		status = models.FillStatusPartiallyFilled
	}

	fills := make([]models.Fill, 0, len(chunks))
	for _, qty := range chunks {
		latencyMs := fs.sampleLatency(base, atr)
		slipBps := fs.slippageBps(latencyMs, base, atr)
		price, slip := fs.applySlippage(order.Side, base, slipBps)
		if order.Side == models.SideBuy && price.GreaterThan(limit) {
			slip = slip.Sub(price.Sub(limit))
			price = limit
		} else if order.Side == models.SideSell && price.LessThan(limit) {
			slip = slip.Sub(limit.Sub(price))
			price = limit
		}
		if slip.IsNegative() {
			slip = decimal.Zero
		}

		fills = append(fills, fs.newFill(order, qty, price, slip, bar.Timestamp, latencyMs, status))
	}
	return fills
}

// stopTriggered reports whether the bar crossed the stop price in the
// adverse direction for the held side: a long's sell stop triggers on the
// low, a short's buy stop on the high.
func (fs *FillSimulator) stopTriggered(order *models.OrderRequest, bar models.Bar, heldSide models.OrderSide) bool {
	if !order.StopPrice.IsPositive() {
		return false
	}
	if heldSide == models.SideBuy {
		return bar.Low.LessThanOrEqual(order.StopPrice)
	}
	return bar.High.GreaterThanOrEqual(order.StopPrice)
}

// chunk splits a quantity into at most maxPartialFills equal sub-fills once
// it exceeds the partial-fill threshold.
func (fs *FillSimulator) chunk(qty decimal.Decimal) []decimal.Decimal {
	if fs.maxPartialFills <= 1 || !fs.partialThreshold.IsPositive() || qty.LessThanOrEqual(fs.partialThreshold) {
		return []decimal.Decimal{qty}
	}
	n := int(qty.Div(fs.partialThreshold).Ceil().IntPart())
	if n > fs.maxPartialFills {
		n = fs.maxPartialFills
	}
	chunkSize := qty.Div(decimal.NewFromInt(int64(n))).Floor()
	if !chunkSize.IsPositive() {
		return []decimal.Decimal{qty}
	}
	chunks := make([]decimal.Decimal, 0, n)
	remaining := qty
	for i := 0; i < n-1; i++ {
		chunks = append(chunks, chunkSize)
		remaining = remaining.Sub(chunkSize)
	}
	chunks = append(chunks, remaining)
	return chunks
}

// sampleLatency draws execution latency in milliseconds from a log-normal
// distribution, widened when volatility is high relative to price.
func (fs *FillSimulator) sampleLatency(price decimal.Decimal, atr float64) float64 {
	latency := math.Exp(fs.latencyMu + fs.latencySigma*fs.rng.NormFloat64())
	if atr > 0 && price.IsPositive() {
		ratio := atr / price.InexactFloat64()
		if ratio > 0.1 {
			ratio = 0.1
		}
		latency *= 1 + 10*ratio
	}
	return latency
}

// slippageBps grows with latency and volatility, capped at the configured
// maximum.
func (fs *FillSimulator) slippageBps(latencyMs float64, price decimal.Decimal, atr float64) float64 {
	bps := fs.baseSlipBps * (1 + 0.5*latencyMs/fs.meanMs)
	if atr > 0 && price.IsPositive() {
		bps *= 1 + atr/price.InexactFloat64()*100
	}
	if bps > fs.maxSlipBps {
		bps = fs.maxSlipBps
	}
	return bps
}

// applySlippage moves the price against the order's side and returns the new
// price plus the per-unit slippage amount.
func (fs *FillSimulator) applySlippage(side models.OrderSide, base decimal.Decimal, bps float64) (decimal.Decimal, decimal.Decimal) {
	adj := base.Mul(decimal.NewFromFloat(bps)).Div(decimal.NewFromInt(10000))
	if side == models.SideBuy {
		return base.Add(adj), adj
	}
	return base.Sub(adj), adj
}

func (fs *FillSimulator) newFill(order *models.OrderRequest, qty, price, slip decimal.Decimal, barTime time.Time, latencyMs float64, status models.FillStatus) models.Fill {
	notional := qty.Mul(price)
	fees := fs.costs.TradeFees(fs.class, notional, fs.delivery, !fs.delivery)
	metrics.FillsSimulated.WithLabelValues(order.Side.String()).Inc()
	return models.Fill{
		ID:        uuid.New(),
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  qty,
		Price:     price,
		Slippage:  slip.Mul(qty),
		Fees:      fees,
		Timestamp: barTime.Add(time.Duration(latencyMs * float64(time.Millisecond))),
		Status:    status,
	}
}
