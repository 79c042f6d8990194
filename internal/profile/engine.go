package profile

import (
	"fmt"
)

type State int

const (
	Empty State = iota
	Accumulating
	Widening
	Reset
	Retired
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Accumulating:
		return "accumulating"
	case Widening:
		return "widening"
	case Reset:
		return "reset"
	case Retired:
		return "retired"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Profile is the active aggregation window.
type Profile struct {
	ID          int   `json:"id"`
	CreationBar int   `json:"creationBar"`
	State       State `json:"state"`
	Grid        *Grid `json:"grid"`
}

func (p *Profile) High() float64   { return p.Grid.High }
func (p *Profile) Low() float64    { return p.Grid.Low }
func (p *Profile) LevelCount() int { return p.Grid.Count() }
func (p *Profile) Levels() []Level { return p.Grid.Levels }

// Step describes what one Apply did.
type Step struct {
	Profile    *Profile
	Transition State // Empty (first update), Accumulating or Widening
	Replayed   bool
	Ages       Ages
}

// Engine drives exactly one Profile at a time. It is single-writer: callers
// must finish one Apply before starting the next.
type Engine struct {
	maxLevels int
	minStep   float64
	minAge    float64

	log     *EventLog
	prof    *Profile
	nextID  int
	replays int
}

func NewEngine(maxLevels int, minStep, minAge float64) *Engine {
	e := &Engine{
		maxLevels: min(max(maxLevels, 1), MaxLevels),
		minStep:   minStep,
		minAge:    minAge,
		log:       NewEventLog(256),
	}
	e.prof = e.newProfile(0)
	return e
}

func (e *Engine) newProfile(bar int) *Profile {
	e.nextID++
	return &Profile{ID: e.nextID, CreationBar: bar, State: Empty, Grid: NewGrid(e.minStep)}
}

func (e *Engine) Profile() *Profile { return e.prof }
func (e *Engine) Log() *EventLog    { return e.log }

// Replays counts full replays since the engine was created.
func (e *Engine) Replays() int { return e.replays }

// SetMinStep changes the bucket height floor. It takes effect on the next
// Recalc so existing boundaries stay put.
func (e *Engine) SetMinStep(step float64) {
	if step <= 0 {
		return
	}
	e.minStep = step
}

// Reset retires the active profile and starts an EMPTY one. The retired
// profile is returned so the host can keep its last drawing.
func (e *Engine) Reset(bar int) *Profile {
	old := e.prof
	old.State = Retired
	e.log.Clear()
	e.prof = e.newProfile(bar)
	return old
}

// Apply logs u and brings the active profile up to date.
func (e *Engine) Apply(u Update, bar int) Step {
	e.log.Record(u)
	p := e.prof
	st := Step{Profile: p, Transition: Accumulating}

	switch {
	case p.State == Empty:
		p.CreationBar = bar
		p.Grid.MinStep = e.minStep
		p.Grid.Recalc(u.Price, u.Price, e.maxLevels)
		Ingest(p.Grid, e.log, true)
		st.Transition, st.Replayed = Empty, true
	case !p.Grid.Covers(u.Price):
		p.State = Widening
		p.Grid.MinStep = e.minStep
		p.Grid.Recalc(max(p.Grid.High, u.Price), min(p.Grid.Low, u.Price), e.maxLevels)
		Ingest(p.Grid, e.log, true)
		st.Transition, st.Replayed = Widening, true
	default:
		Ingest(p.Grid, e.log, false)
	}
	if st.Replayed {
		e.replays++
	}
	p.State = Accumulating

	st.Ages = Rank(p.Grid.Levels, e.minAge)
	return st
}
