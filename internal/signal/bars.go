package signal

import (
	"time"
)

// Bar is one OHLCV candle of the feed's native timeframe.
type Bar struct {
	Start  time.Time `json:"start"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// BarBuilder folds ticks into fixed-width bars.
type BarBuilder struct {
	frame time.Duration
	cur   Bar
	open  bool
	index int
}

func NewBarBuilder(frame time.Duration) *BarBuilder {
	return &BarBuilder{frame: frame, index: -1}
}

// Add folds one tick. When the tick opens a new bar the finished one is
// returned with ok=true.
func (b *BarBuilder) Add(t time.Time, price, size float64) (closed Bar, ok bool) {
	start := t.Truncate(b.frame)
	if b.open && start.After(b.cur.Start) {
		closed, ok = b.cur, true
		b.open = false
	}
	if !b.open {
		b.cur = Bar{Start: start, Open: price, High: price, Low: price, Close: price}
		b.open = true
		b.index++
	}
	if price > b.cur.High {
		b.cur.High = price
	}
	if price < b.cur.Low {
		b.cur.Low = price
	}
	b.cur.Close = price
	b.cur.Volume += size
	return closed, ok
}

// Index is the zero-based number of the bar in progress; -1 before any tick.
func (b *BarBuilder) Index() int { return b.index }

func (b *BarBuilder) Current() (Bar, bool) { return b.cur, b.open }

// PeriodClock reports when a timestamp enters a new fixed period.
type PeriodClock struct {
	period  time.Duration
	cur     time.Time
	started bool
}

func NewPeriodClock(period time.Duration) *PeriodClock {
	return &PeriodClock{period: period}
}

// Crossed is false for the very first timestamp; the engine's EMPTY state
// covers the cold start.
func (c *PeriodClock) Crossed(t time.Time) bool {
	p := t.Truncate(c.period)
	if !c.started {
		c.cur, c.started = p, true
		return false
	}
	if p.After(c.cur) {
		c.cur = p
		return true
	}
	return false
}

// series keeps a bounded OHLC history for the talib calls.
type series struct {
	limit  int
	highs  []float64
	lows   []float64
	closes []float64
}

func newSeries(limit int) *series {
	return &series{limit: limit}
}

func (s *series) push(b Bar) {
	s.highs = append(s.highs, b.High)
	s.lows = append(s.lows, b.Low)
	s.closes = append(s.closes, b.Close)
	if over := len(s.closes) - s.limit; over > 0 {
		s.highs = append(s.highs[:0], s.highs[over:]...)
		s.lows = append(s.lows[:0], s.lows[over:]...)
		s.closes = append(s.closes[:0], s.closes[over:]...)
	}
}

func (s *series) len() int { return len(s.closes) }
