package render

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"tick-profile/internal/profile"
)

const (
	colorUp      = "#26a69a"
	colorDown    = "#ef5350"
	colorNeutral = "#9e9e9e"
)

// alpha per age class, 0 (no data) .. 4 (newest)
var fade = [profile.AgeClasses + 1]string{"33", "59", "8c", "bf", "ff"}

// Primitive is one drawable glyph handed to the host.
type Primitive struct {
	ID      string  `json:"id"`
	Side    Side    `json:"side"`
	Bar     int     `json:"bar"`
	Price   float64 `json:"price"`
	Low     float64 `json:"low"`
	High    float64 `json:"high"`
	Value   float64 `json:"value"`
	Length  int     `json:"length"`
	Height  int     `json:"height"` // 1..4 from the age class
	Color   string  `json:"color"`
	Text    string  `json:"text"`
	Tooltip string  `json:"tooltip"`
}

// Frame is the full drawing for one processed update. Clear lists the ids the
// host must delete first; it is empty when the profile changed so the retired
// profile's last drawing stays on the chart.
type Frame struct {
	Profile    int         `json:"profile"`
	Anchor     int         `json:"anchor"`
	High       float64     `json:"high"`
	Low        float64     `json:"low"`
	Clear      []string    `json:"clear,omitempty"`
	Primitives []Primitive `json:"primitives"`
	Degraded   bool        `json:"degraded,omitempty"`
}

type Renderer struct {
	opts        Options
	lastProfile int
	lastIDs     []string
}

func NewRenderer(opts Options) *Renderer {
	if opts.MaxWidth < 0 {
		opts.MaxWidth = 0
	}
	return &Renderer{opts: opts}
}

func (r *Renderer) Options() Options { return r.opts }

// Draw converts the profile into a frame anchored at bar+Offset. degraded
// forces the tick-count dimension.
func (r *Renderer) Draw(p *profile.Profile, ages profile.Ages, bar int, degraded bool) Frame {
	f := Frame{
		Profile:  p.ID,
		Anchor:   bar + r.opts.Offset,
		High:     p.High(),
		Low:      p.Low(),
		Degraded: degraded,
	}
	if r.lastProfile == p.ID {
		f.Clear = r.lastIDs
	}

	dim := r.opts.Dimension
	if degraded {
		dim = Ticks
	}
	if r.opts.Layout == Double {
		f.Primitives = r.double(p, ages, f.Anchor, dim)
	} else {
		f.Primitives = r.single(p, ages, f.Anchor, dim)
	}

	ids := make([]string, len(f.Primitives))
	for i := range f.Primitives {
		ids[i] = f.Primitives[i].ID
	}
	r.lastProfile, r.lastIDs = p.ID, ids
	return f
}

func (r *Renderer) double(p *profile.Profile, ages profile.Ages, anchor int, dim Dimension) []Primitive {
	levels := p.Levels()
	norm := 0.0
	for _, l := range levels {
		norm = math.Max(norm, math.Max(value(l, profile.Up, dim), value(l, profile.Down, dim)))
	}

	out := make([]Primitive, 0, 2*len(levels))
	for i, l := range levels {
		lo, hi := p.Grid.Bounds(i)
		down := value(l, profile.Down, dim)
		up := value(l, profile.Up, dim)
		out = append(out,
			r.glyph(p.ID, i, Left, anchor, l, lo, hi, down, norm, colorDown, classAt(ages.Down, i), dim),
			r.glyph(p.ID, i, Right, anchor, l, lo, hi, up, norm, colorUp, classAt(ages.Up, i), dim),
		)
	}
	return out
}

func (r *Renderer) single(p *profile.Profile, ages profile.Ages, anchor int, dim Dimension) []Primitive {
	levels := p.Levels()
	vals := make([]float64, len(levels))
	norm := 0.0
	for i, l := range levels {
		up, down := value(l, profile.Up, dim), value(l, profile.Down, dim)
		if r.opts.Display == Totals {
			vals[i] = up + down
		} else {
			vals[i] = up - down
		}
		if r.opts.Normalization == NormGross {
			norm += up + down
		} else {
			norm = math.Max(norm, math.Abs(vals[i]))
		}
	}

	out := make([]Primitive, 0, len(levels))
	for i, l := range levels {
		lo, hi := p.Grid.Bounds(i)
		up, down := value(l, profile.Up, dim), value(l, profile.Down, dim)
		upAge, downAge := classAt(ages.Up, i), classAt(ages.Down, i)
		color, class := colorNeutral, max(upAge, downAge)
		switch {
		case up > down:
			color, class = colorUp, upAge
		case down > up:
			color, class = colorDown, downAge
		}
		out = append(out, r.glyph(p.ID, i, r.opts.Side, anchor, l, lo, hi, vals[i], norm, color, class, dim))
	}
	return out
}

func (r *Renderer) glyph(id, i int, side Side, anchor int, l profile.Level, lo, hi, v, norm float64, color string, class int, dim Dimension) Primitive {
	class = min(max(class, 0), profile.AgeClasses)
	return Primitive{
		ID:      fmt.Sprintf("p%d-%s-%d", id, side, i),
		Side:    side,
		Bar:     anchor,
		Price:   l.Price,
		Low:     lo,
		High:    hi,
		Value:   v,
		Length:  r.length(v, norm),
		Height:  max(class, 1),
		Color:   color + fade[class],
		Text:    formatValue(v, dim),
		Tooltip: r.tooltip(l, lo, hi),
	}
}

// length is zero when length encoding is off or there is nothing to normalize by.
func (r *Renderer) length(v, norm float64) int {
	if r.opts.MaxWidth == 0 || norm <= 0 || math.IsNaN(norm) {
		return 0
	}
	n := int(math.Round(float64(r.opts.MaxWidth) * math.Abs(v) / norm))
	return min(n, r.opts.MaxWidth)
}

func (r *Renderer) tooltip(l profile.Level, lo, hi float64) string {
	return fmt.Sprintf("%s - %s | up %s (%d) | down %s (%d)",
		r.formatPrice(lo), r.formatPrice(hi),
		formatValue(l.UpVolume, Volume), l.UpCount,
		formatValue(l.DownVolume, Volume), l.DownCount)
}

func (r *Renderer) formatPrice(p float64) string {
	d := decimal.NewFromFloat(p)
	if r.opts.TickSize.IsPositive() {
		d = d.Div(r.opts.TickSize).Round(0).Mul(r.opts.TickSize)
	}
	return d.String()
}

func classAt(classes []int, i int) int {
	if i < len(classes) {
		return classes[i]
	}
	return 0
}

func value(l profile.Level, p profile.Polarity, dim Dimension) float64 {
	if dim == Ticks {
		return float64(l.Count(p))
	}
	return l.Volume(p)
}

func formatValue(v float64, dim Dimension) string {
	if dim == Ticks {
		return strconv.Itoa(int(v))
	}
	return decimal.NewFromFloat(v).Round(2).String()
}
