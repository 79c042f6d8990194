package profile

import (
	"time"
)

// EventLog is the append-only record of updates belonging to the active profile.
// Entries stay until Clear so a widening rescale can replay all of them.
type EventLog struct {
	events      []Update
	totalVolume float64
	totalCount  int
}

func NewEventLog(capacity int) *EventLog {
	if capacity < 0 {
		capacity = 0
	}
	return &EventLog{events: make([]Update, 0, capacity)}
}

func (l *EventLog) Record(u Update) {
	l.events = append(l.events, u)
	l.totalVolume += u.Size
	l.totalCount++
}

// Clear drops every entry and both running totals. The backing array is reused.
func (l *EventLog) Clear() {
	clear(l.events)
	l.events = l.events[:0]
	l.totalVolume = 0
	l.totalCount = 0
}

func (l *EventLog) Events() []Update { return l.events }
func (l *EventLog) Len() int          { return len(l.events) }

func (l *EventLog) TotalVolume() float64 { return l.totalVolume }
func (l *EventLog) TotalCount() int      { return l.totalCount }

func (l *EventLog) Last() (Update, bool) {
	if len(l.events) == 0 {
		return Update{}, false
	}
	return l.events[len(l.events)-1], true
}

// Origin is the timestamp of the first logged update; zero when empty.
func (l *EventLog) Origin() time.Time {
	if len(l.events) == 0 {
		return time.Time{}
	}
	return l.events[0].Time
}

// Offset converts t into seconds since Origin.
func (l *EventLog) Offset(t time.Time) float64 {
	o := l.Origin()
	if o.IsZero() {
		return 0
	}
	return t.Sub(o).Seconds()
}
