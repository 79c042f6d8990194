package signal

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// history bars handed to talib per evaluation
const historyLimit = 300

// Detector watches closed bars and reports trend reversals.
type Detector interface {
	Push(b Bar) (flipped bool)
	Direction() int // 1 up, -1 down, 0 unknown
}

// Supertrend is trend signal A: an ATR band flip.
type Supertrend struct {
	period int
	factor float64
	hist   *series

	upper, lower float64
	prevClose    float64
	dir          int
	ready        bool
}

func NewSupertrend(period int, factor float64) *Supertrend {
	if period < 1 {
		period = 10
	}
	if factor <= 0 {
		factor = 3
	}
	return &Supertrend{period: period, factor: factor, hist: newSeries(historyLimit)}
}

func (s *Supertrend) Direction() int { return s.dir }

func (s *Supertrend) Push(b Bar) bool {
	s.hist.push(b)
	if s.hist.len() <= s.period {
		s.prevClose = b.Close
		return false
	}
	atrArr := talib.Atr(s.hist.highs, s.hist.lows, s.hist.closes, s.period)
	atr := atrArr[len(atrArr)-1]
	if atr <= 0 || math.IsNaN(atr) {
		s.prevClose = b.Close
		return false
	}

	mid := (b.High + b.Low) / 2
	basicUpper := mid + s.factor*atr
	basicLower := mid - s.factor*atr
	if !s.ready {
		s.upper, s.lower = basicUpper, basicLower
		s.dir = 1
		if b.Close < mid {
			s.dir = -1
		}
		s.ready = true
		s.prevClose = b.Close
		return false
	}

	if basicUpper < s.upper || s.prevClose > s.upper {
		s.upper = basicUpper
	}
	if basicLower > s.lower || s.prevClose < s.lower {
		s.lower = basicLower
	}
	s.prevClose = b.Close

	prev := s.dir
	switch {
	case prev < 0 && b.Close > s.upper:
		s.dir = 1
	case prev > 0 && b.Close < s.lower:
		s.dir = -1
	}
	return s.dir != prev
}

// ParabolicSAR is trend signal B: price crossing the stop-and-reverse line.
type ParabolicSAR struct {
	accel, maximum float64
	hist           *series
	dir            int
}

func NewParabolicSAR(accel, maximum float64) *ParabolicSAR {
	if accel <= 0 {
		accel = 0.02
	}
	if maximum <= 0 {
		maximum = 0.2
	}
	return &ParabolicSAR{accel: accel, maximum: maximum, hist: newSeries(historyLimit)}
}

func (p *ParabolicSAR) Direction() int { return p.dir }

func (p *ParabolicSAR) Push(b Bar) bool {
	p.hist.push(b)
	if p.hist.len() < 2 {
		return false
	}
	sar := talib.Sar(p.hist.highs, p.hist.lows, p.accel, p.maximum)
	last := sar[len(sar)-1]
	if last == 0 || math.IsNaN(last) {
		return false
	}
	dir := 1
	if b.Close < last {
		dir = -1
	}
	prev := p.dir
	p.dir = dir
	return prev != 0 && prev != dir
}

// ATRStep derives the bucket height floor from volatility: ATR/divisor,
// never finer than the instrument tick.
type ATRStep struct {
	period  int
	divisor float64
	tick    float64
	hist    *series
	step    float64
}

func NewATRStep(period int, divisor, tick float64) *ATRStep {
	if period < 1 {
		period = 14
	}
	if divisor <= 0 {
		divisor = 10
	}
	return &ATRStep{period: period, divisor: divisor, tick: tick, hist: newSeries(historyLimit), step: tick}
}

func (a *ATRStep) Step() float64 { return a.step }

// Push returns the step after b and whether it changed.
func (a *ATRStep) Push(b Bar) (float64, bool) {
	a.hist.push(b)
	if a.hist.len() <= a.period {
		return a.step, false
	}
	atrArr := talib.Atr(a.hist.highs, a.hist.lows, a.hist.closes, a.period)
	atr := atrArr[len(atrArr)-1]
	if atr <= 0 || math.IsNaN(atr) {
		return a.step, false
	}
	step := atr / a.divisor
	if a.tick > 0 {
		// whole ticks only
		step = math.Max(1, math.Round(step/a.tick)) * a.tick
	}
	changed := step != a.step
	a.step = step
	return step, changed
}
