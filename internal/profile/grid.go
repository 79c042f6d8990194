package profile

import (
	"math"
	"sort"
)

// MaxLevels is the hard ceiling on levels per profile.
const MaxLevels = 100

// Grid owns the level array of one profile. Bucket boundaries change only in
// Recalc; the incremental ingest path relies on that.
type Grid struct {
	High    float64
	Low     float64
	MinStep float64 // smallest bucket height; 0 disables the cap
	Levels  []Level
}

func NewGrid(minStep float64) *Grid {
	return &Grid{MinStep: minStep}
}

// Recalc rebuilds the grid over [low, high] and returns the level count.
// It is a full reset: every aggregation field goes back to zero.
func (g *Grid) Recalc(high, low float64, requested int) int {
	if high < low {
		high, low = low, high
	}
	height := high - low

	count := min(max(requested, 1), MaxLevels)
	if g.MinStep > 0 {
		// epsilon keeps 0.3/0.1 from flooring to 2
		fit := int(math.Floor(height/g.MinStep + 1e-9))
		count = min(count, fit)
	}
	if count < 1 {
		count = 1
	}

	g.High, g.Low = high, low
	if cap(g.Levels) >= count {
		g.Levels = g.Levels[:count]
		clear(g.Levels)
	} else {
		g.Levels = make([]Level, count)
	}

	step := height / float64(count)
	for i := range g.Levels {
		g.Levels[i].Price = low + (float64(i)+0.5)*step
	}
	return count
}

func (g *Grid) Count() int { return len(g.Levels) }

// Covers reports whether price sits inside the current envelope.
func (g *Grid) Covers(price float64) bool {
	return len(g.Levels) > 0 && price >= g.Low && price <= g.High
}

// Locate returns the level index for price. A price belongs to level i when it
// is below the average of midpoints i and i+1; the last level takes the rest.
func (g *Grid) Locate(price float64) int {
	n := len(g.Levels)
	if n <= 1 {
		return 0
	}
	return sort.Search(n-1, func(i int) bool {
		return price < (g.Levels[i].Price+g.Levels[i+1].Price)/2
	})
}

// Bounds returns the half-open price interval owned by level i.
func (g *Grid) Bounds(i int) (lo, hi float64) {
	lo, hi = g.Low, g.High
	if i > 0 {
		lo = (g.Levels[i-1].Price + g.Levels[i].Price) / 2
	}
	if i < len(g.Levels)-1 {
		hi = (g.Levels[i].Price + g.Levels[i+1].Price) / 2
	}
	return lo, hi
}

func (g *Grid) resetSums() {
	for i := range g.Levels {
		g.Levels[i] = Level{Price: g.Levels[i].Price}
	}
}

// Totals sums volume and counts across every level.
func (g *Grid) Totals() (volume float64, count int) {
	for _, l := range g.Levels {
		volume += l.UpVolume + l.DownVolume
		count += l.UpCount + l.DownCount
	}
	return volume, count
}
