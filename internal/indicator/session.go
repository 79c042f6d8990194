package indicator

import (
	"log/slog"
	"time"

	"tick-profile/internal/profile"
	"tick-profile/internal/render"
	"tick-profile/internal/signal"
)

// Tick is one raw trade observation from the feed.
type Tick struct {
	Symbol  string    `json:"symbol"`
	Time    time.Time `json:"time"`
	Price   float64   `json:"price"`
	Size    float64   `json:"size"`
	HasSize bool      `json:"hasSize"` // false when the instrument reports no volume
}

// Output is everything one processed tick produces for the host.
type Output struct {
	Frame      render.Frame  `json:"frame"`
	Transition profile.State `json:"transition"`
	Reset      bool          `json:"reset"`
	RetiredID  int           `json:"retiredId,omitempty"`
	Warning    string        `json:"warning,omitempty"` // set at most once per session
}

const warnNoVolume = "instrument has no volume data; showing tick counts only"

// Session is one instrument/timeframe context. Process is not safe for
// concurrent use; the host feeds it from a single goroutine.
type Session struct {
	set Settings
	log *slog.Logger

	cls   profile.Classifier
	eng   *profile.Engine
	bars  *signal.BarBuilder
	clock *signal.PeriodClock
	trend signal.Detector
	sizer *signal.ATRStep
	rnd   *render.Renderer

	degraded bool
	warned   bool
	last     time.Time
}

func NewSession(set Settings, logger *slog.Logger) (*Session, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	tick := set.TickSize.InexactFloat64()
	s := &Session{
		set:  set,
		log:  logger,
		eng:  profile.NewEngine(set.MaxLevels, tick, set.MinAge),
		bars: signal.NewBarBuilder(set.FeedFrame),
		rnd:  render.NewRenderer(set.Render),
	}
	switch set.Reset {
	case ResetPeriod:
		s.clock = signal.NewPeriodClock(set.ResetPeriod)
	case ResetTrendA:
		s.trend = signal.NewSupertrend(set.SupertrendPeriod, set.SupertrendFactor)
	case ResetTrendB:
		s.trend = signal.NewParabolicSAR(set.SARAcceleration, set.SARMaximum)
	}
	if set.Sizing == SizingAuto {
		s.sizer = signal.NewATRStep(set.ATRPeriod, set.ATRDivisor, tick)
	}
	return s, nil
}

func (s *Session) Degraded() bool            { return s.degraded }
func (s *Session) Profile() *profile.Profile { return s.eng.Profile() }
func (s *Session) Engine() *profile.Engine   { return s.eng }

// Process runs one tick to completion: log, maybe rescale, aggregate, rank, render.
func (s *Session) Process(t Tick) Output {
	var out Output

	if t.Time.Before(s.last) {
		s.log.Debug("tick out of order; clamped", slog.Time("tick", t.Time), slog.Time("last", s.last))
		t.Time = s.last
	}
	s.last = t.Time

	size := t.Size
	if t.HasSize && s.degraded {
		// a late first size: the instrument does carry volume
		s.degraded = false
		s.log.Info("volume data arrived; leaving tick-count mode", slog.String("symbol", t.Symbol))
	}
	if !t.HasSize {
		size = 0
		s.degraded = true
		if !s.warned {
			s.warned = true
			out.Warning = warnNoVolume
			s.log.Warn(warnNoVolume, slog.String("symbol", t.Symbol))
		}
	}

	reset := false
	closed, ok := s.bars.Add(t.Time, t.Price, size)
	bar := s.bars.Index()
	if ok {
		if s.sizer != nil {
			if step, changed := s.sizer.Push(closed); changed {
				s.eng.SetMinStep(step)
				s.log.Debug("level step resized", slog.Float64("step", step))
			}
		}
		if s.trend != nil && s.trend.Push(closed) {
			reset = true
		}
	}
	if s.clock != nil && s.clock.Crossed(t.Time) {
		reset = true
	}
	if reset && s.eng.Profile().State != profile.Empty {
		old := s.eng.Reset(bar)
		out.Reset, out.RetiredID = true, old.ID
		s.log.Debug("profile reset",
			slog.String("trigger", s.set.Reset.String()),
			slog.Int("retired", old.ID),
			slog.Int("bar", bar),
		)
	}

	u := s.cls.Classify(t.Time, t.Price, size)
	st := s.eng.Apply(u, bar)
	out.Transition = st.Transition
	out.Frame = s.rnd.Draw(st.Profile, st.Ages, bar, s.degraded)
	return out
}
