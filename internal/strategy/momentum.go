package strategy

import (
	"github.com/quantframe/backlite/pkg/models"
)

type momentumState struct {
	closes []float64
	long   bool
}

// Momentum is a channel-breakout strategy: buy when the close exceeds the
// highest close of the lookback window, flatten when it drops below the
// lowest close of the exit window.
type Momentum struct {
	entryLookback int
	exitLookback  int
	state         map[string]*momentumState
}

// NewMomentum returns the strategy with 20-bar entry and 10-bar exit windows.
func NewMomentum() *Momentum {
	return &Momentum{
		entryLookback: 20,
		exitLookback:  10,
		state:         make(map[string]*momentumState),
	}
}

func (s *Momentum) Name() string { return "momentum" }

func (s *Momentum) SetParams(params map[string]float64) error {
	if v, ok := params["entry_lookback"]; ok && v >= 2 {
		s.entryLookback = int(v)
	}
	if v, ok := params["exit_lookback"]; ok && v >= 2 {
		s.exitLookback = int(v)
	}
	s.state = make(map[string]*momentumState)
	return nil
}

func (s *Momentum) OnBar(bar models.Bar) []models.Signal {
	st, ok := s.state[bar.Symbol]
	if !ok {
		st = &momentumState{}
		s.state[bar.Symbol] = st
	}

	close := bar.Close.InexactFloat64()

	var signals []models.Signal
	if len(st.closes) >= s.entryLookback {
		window := st.closes[len(st.closes)-s.entryLookback:]
		if hi := highest(window); !st.long && close > hi {
			st.long = true
			signals = append(signals, models.Signal{
				Symbol:   bar.Symbol,
				Action:   models.ActionBuy,
				Strategy: s.Name(),
				Meta:     map[string]interface{}{"breakout": hi},
			})
		}
	}
	if st.long && len(st.closes) >= s.exitLookback {
		window := st.closes[len(st.closes)-s.exitLookback:]
		if close < lowest(window) {
			st.long = false
			signals = append(signals, models.Signal{
				Symbol:   bar.Symbol,
				Action:   models.ActionFlat,
				Strategy: s.Name(),
			})
		}
	}

	st.closes = append(st.closes, close)
	if limit := s.entryLookback * 4; len(st.closes) > limit {
		st.closes = st.closes[len(st.closes)-limit:]
	}
	return signals
}

func highest(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func lowest(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
