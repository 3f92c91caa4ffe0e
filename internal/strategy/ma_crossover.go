package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/quantframe/backlite/pkg/models"
)

type maState struct {
	fast *SMA
	slow *SMA
	atr  *ATR
	long bool
}

// MACrossover goes long when the fast moving average crosses above the slow
// one and flattens on the cross back down. Stop-loss is placed an ATR
// multiple below the entry close.
type MACrossover struct {
	fastPeriod  int
	slowPeriod  int
	atrPeriod   int
	atrStopMult float64
	state       map[string]*maState
}

// NewMACrossover returns the strategy with 10/30 periods and a 2x ATR stop.
func NewMACrossover() *MACrossover {
	return &MACrossover{
		fastPeriod:  10,
		slowPeriod:  30,
		atrPeriod:   14,
		atrStopMult: 2.0,
		state:       make(map[string]*maState),
	}
}

func (s *MACrossover) Name() string { return "ma_crossover" }

func (s *MACrossover) SetParams(params map[string]float64) error {
	if v, ok := params["fast"]; ok && v >= 1 {
		s.fastPeriod = int(v)
	}
	if v, ok := params["slow"]; ok && v >= 2 {
		s.slowPeriod = int(v)
	}
	if v, ok := params["atr_period"]; ok && v >= 1 {
		s.atrPeriod = int(v)
	}
	if v, ok := params["atr_stop_mult"]; ok && v > 0 {
		s.atrStopMult = v
	}
	// Period changes invalidate accumulated indicator state.
	s.state = make(map[string]*maState)
	return nil
}

func (s *MACrossover) OnBar(bar models.Bar) []models.Signal {
	st, ok := s.state[bar.Symbol]
	if !ok {
		st = &maState{
			fast: NewSMA(s.fastPeriod),
			slow: NewSMA(s.slowPeriod),
			atr:  NewATR(s.atrPeriod),
		}
		s.state[bar.Symbol] = st
	}

	close := bar.Close.InexactFloat64()
	st.fast.Update(close)
	st.slow.Update(close)
	st.atr.Update(bar.High.InexactFloat64(), bar.Low.InexactFloat64(), close)

	if !st.fast.Ready() || !st.slow.Ready() {
		return nil
	}

	fastNow, fastPrev := st.fast.Value(), st.fast.Prev()
	slowNow, slowPrev := st.slow.Value(), st.slow.Prev()
	if fastPrev == 0 || slowPrev == 0 {
		return nil
	}

	crossedUp := fastPrev <= slowPrev && fastNow > slowNow
	crossedDown := fastPrev >= slowPrev && fastNow < slowNow

	switch {
	case crossedUp && !st.long:
		st.long = true
		sig := models.Signal{
			Symbol:   bar.Symbol,
			Action:   models.ActionBuy,
			Strategy: s.Name(),
			Meta: map[string]interface{}{
				"fast": fastNow,
				"slow": slowNow,
			},
		}
		if st.atr.Ready() {
			stop := close - s.atrStopMult*st.atr.Value()
			if stop > 0 {
				sig.StopLoss = decimal.NewFromFloat(stop)
			}
			sig.Meta["atr"] = st.atr.Value()
		}
		return []models.Signal{sig}
	case crossedDown && st.long:
		st.long = false
		return []models.Signal{{
			Symbol:   bar.Symbol,
			Action:   models.ActionFlat,
			Strategy: s.Name(),
		}}
	}
	return nil
}
