package strategy

// SMA is a simple moving average over a ring buffer with an O(1) running sum.
type SMA struct {
	period     int
	prices     []float64
	idx        int
	count      int
	runningSum float64
	last       float64
	prev       float64
}

// NewSMA creates an SMA over the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		prices: make([]float64, period),
	}
}

// Update adds a price and returns the current SMA. Returns 0 until the
// window is full.
func (s *SMA) Update(price float64) float64 {
	if s.count == s.period {
		s.runningSum -= s.prices[s.idx]
	} else {
		s.count++
	}
	s.prices[s.idx] = price
	s.runningSum += price
	s.idx = (s.idx + 1) % s.period

	s.prev = s.last
	if s.count == s.period {
		s.last = s.runningSum / float64(s.period)
	} else {
		s.last = 0
	}
	return s.last
}

// Value returns the most recent SMA value.
func (s *SMA) Value() float64 { return s.last }

// Prev returns the SMA value one update back.
func (s *SMA) Prev() float64 { return s.prev }

// Ready reports whether the window is full.
func (s *SMA) Ready() bool { return s.count == s.period }

// Reset clears the buffer.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.runningSum = 0
	s.last = 0
	s.prev = 0
}

// EMA is an exponential moving average seeded with the first observation.
type EMA struct {
	alpha float64
	last  float64
	prev  float64
	count int
}

// NewEMA creates an EMA with smoothing 2/(period+1).
func NewEMA(period int) *EMA {
	return &EMA{alpha: 2.0 / (float64(period) + 1)}
}

// Update adds a price and returns the current EMA.
func (e *EMA) Update(price float64) float64 {
	e.prev = e.last
	if e.count == 0 {
		e.last = price
	} else {
		e.last = e.alpha*price + (1-e.alpha)*e.last
	}
	e.count++
	return e.last
}

// Value returns the most recent EMA value.
func (e *EMA) Value() float64 { return e.last }

// Ready reports whether at least one observation was seen.
func (e *EMA) Ready() bool { return e.count > 0 }

// ATR is Wilder's average true range: the smoothed average of the greatest of
// high-low, |high-prevClose| and |low-prevClose|.
type ATR struct {
	period    int
	prevClose float64
	count     int
	value     float64
	sum       float64
}

// NewATR creates an ATR over the given period.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

// Update adds one bar's range and returns the current ATR. The first period
// bars accumulate a plain average; afterwards Wilder smoothing applies.
func (a *ATR) Update(high, low, close float64) float64 {
	tr := high - low
	if a.count > 0 {
		if hc := abs(high - a.prevClose); hc > tr {
			tr = hc
		}
		if lc := abs(low - a.prevClose); lc > tr {
			tr = lc
		}
	}
	a.prevClose = close
	a.count++

	switch {
	case a.count <= a.period:
		a.sum += tr
		a.value = a.sum / float64(a.count)
	default:
		a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
	}
	return a.value
}

// Value returns the most recent ATR value.
func (a *ATR) Value() float64 { return a.value }

// Ready reports whether a full period of bars was seen.
func (a *ATR) Ready() bool { return a.count >= a.period }

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
