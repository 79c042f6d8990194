package state

import (
	"strings"
	"sync"
	"sync/atomic"

	"tick-profile/internal/render"
)

// State is the host-side view shared between the engine goroutine and the
// HTTP handlers. The indicator session itself is never touched from here.
type State struct {
	activeMu     sync.RWMutex
	activeSymbol string
	generation   uint64 // bumped by every start/stop

	connected atomic.Bool

	warnMu sync.Mutex
	warned map[string]bool // key: "SYMBOL:warning"

	frameMu   sync.RWMutex
	lastFrame render.Frame
	hasFrame  bool
}

func NewState() *State {
	return &State{warned: make(map[string]bool)}
}

// Begin makes sym the active symbol (empty stops) and opens a new
// generation: the last frame and the symbol's once-only warnings are dropped
// so the next session starts from a blank profile.
func (s *State) Begin(sym string) (string, uint64) {
	canon := strings.ToUpper(strings.TrimSpace(sym))
	s.activeMu.Lock()
	s.activeSymbol = canon
	s.generation++
	gen := s.generation
	s.activeMu.Unlock()

	s.ClearFrame()
	prefix := canon + ":"
	s.warnMu.Lock()
	for k := range s.warned {
		if strings.HasPrefix(k, prefix) {
			delete(s.warned, k)
		}
	}
	s.warnMu.Unlock()
	return canon, gen
}

func (s *State) Symbol() string {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.activeSymbol
}

// Active returns the symbol and generation together.
func (s *State) Active() (string, uint64) {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.activeSymbol, s.generation
}

func (s *State) SetConnected(v bool) { s.connected.Store(v) }
func (s *State) Connected() bool     { return s.connected.Load() }

// WarnOnce reports true the first time a warning is seen for a symbol.
func (s *State) WarnOnce(symbol, warning string) bool {
	k := strings.ToUpper(symbol) + ":" + warning
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	if s.warned[k] {
		return false
	}
	s.warned[k] = true
	return true
}

func (s *State) SetFrame(f render.Frame) {
	s.frameMu.Lock()
	s.lastFrame, s.hasFrame = f, true
	s.frameMu.Unlock()
}

// Frame returns the latest frame for clients that join mid-session.
func (s *State) Frame() (render.Frame, bool) {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.lastFrame, s.hasFrame
}

func (s *State) ClearFrame() {
	s.frameMu.Lock()
	s.lastFrame, s.hasFrame = render.Frame{}, false
	s.frameMu.Unlock()
}
