package profile

import (
	"time"
)

type Polarity int8

const (
	Up Polarity = iota
	Down
)

func (p Polarity) String() string {
	if p == Down {
		return "down"
	}
	return "up"
}

// Update is one observed change in traded price/size. Immutable once logged.
type Update struct {
	Time     time.Time `json:"time"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size"`     // unsigned; see Signed
	Polarity Polarity  `json:"polarity"` // sticky across flat updates
}

func (u Update) Signed() float64 {
	if u.Polarity == Down {
		return -u.Size
	}
	return u.Size
}

// Level is one price bucket. Time totals are seconds since the event log origin.
type Level struct {
	Price      float64 `json:"price"` // bucket midpoint
	UpVolume   float64 `json:"upVolume"`
	DownVolume float64 `json:"downVolume"`
	UpCount    int     `json:"upCount"`
	DownCount  int     `json:"downCount"`
	UpTime     float64 `json:"upTime"`
	DownTime   float64 `json:"downTime"`
}

func (l *Level) add(u Update, offset float64) {
	if u.Polarity == Down {
		l.DownVolume += u.Size
		l.DownCount++
		l.DownTime += offset
		return
	}
	l.UpVolume += u.Size
	l.UpCount++
	l.UpTime += offset
}

func (l Level) Volume(p Polarity) float64 {
	if p == Down {
		return l.DownVolume
	}
	return l.UpVolume
}

func (l Level) Count(p Polarity) int {
	if p == Down {
		return l.DownCount
	}
	return l.UpCount
}

// MeanTime returns the mean event offset for one polarity; false when the level
// has no observations on that side.
func (l Level) MeanTime(p Polarity) (float64, bool) {
	n := l.Count(p)
	if n == 0 {
		return 0, false
	}
	total := l.UpTime
	if p == Down {
		total = l.DownTime
	}
	return total / float64(n), true
}

// Classifier turns raw trades into Updates with sticky polarity.
// The first observation of a session is Up.
type Classifier struct {
	last    float64
	started bool
	pol     Polarity
}

func (c *Classifier) Classify(t time.Time, price, size float64) Update {
	if c.started {
		switch {
		case price > c.last:
			c.pol = Up
		case price < c.last:
			c.pol = Down
		}
	}
	c.started = true
	c.last = price
	if size < 0 {
		size = -size
	}
	return Update{Time: t, Price: price, Size: size, Polarity: c.pol}
}
