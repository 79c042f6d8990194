package indicator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tick-profile/internal/config"
	"tick-profile/internal/profile"
	"tick-profile/internal/render"
)

// ErrResetFinerThanFeed is returned when a fixed reset period is shorter than
// the feed's native bar.
var ErrResetFinerThanFeed = errors.New("reset period is finer than the feed timeframe")

type Sizing int

const (
	SizingFixed Sizing = iota
	SizingAuto         // ATR based
)

type ResetTrigger int

const (
	ResetPeriod ResetTrigger = iota
	ResetTrendA             // Supertrend flip
	ResetTrendB             // Parabolic SAR flip
)

func (r ResetTrigger) String() string {
	switch r {
	case ResetTrendA:
		return "trend_a"
	case ResetTrendB:
		return "trend_b"
	}
	return "period"
}

// Settings is the resolved, typed form of config.Config for one session.
type Settings struct {
	FeedFrame   time.Duration
	Sizing      Sizing
	TickSize    decimal.Decimal
	ATRPeriod   int
	ATRDivisor  float64
	MaxLevels   int
	Reset       ResetTrigger
	ResetPeriod time.Duration

	SupertrendPeriod int
	SupertrendFactor float64
	SARAcceleration  float64
	SARMaximum       float64

	MinAge float64
	Render render.Options
}

// FromConfig resolves every string switch once.
func FromConfig(cfg config.Config) (Settings, error) {
	var s Settings
	var err error

	if s.FeedFrame, err = time.ParseDuration(cfg.FeedTimeframe); err != nil {
		return s, fmt.Errorf("feed_timeframe: %w", err)
	}
	switch strings.ToLower(cfg.Sizing) {
	case "fixed", "":
		s.Sizing = SizingFixed
	case "auto":
		s.Sizing = SizingAuto
	default:
		return s, fmt.Errorf("sizing must be auto or fixed, got %q", cfg.Sizing)
	}
	if s.TickSize, err = decimal.NewFromString(cfg.TickSize); err != nil {
		return s, fmt.Errorf("tick_size: %w", err)
	}
	switch strings.ToLower(cfg.Reset) {
	case "period", "":
		s.Reset = ResetPeriod
	case "trend_a", "supertrend":
		s.Reset = ResetTrendA
	case "trend_b", "sar":
		s.Reset = ResetTrendB
	default:
		return s, fmt.Errorf("reset must be period, trend_a or trend_b, got %q", cfg.Reset)
	}
	if s.Reset == ResetPeriod {
		if s.ResetPeriod, err = time.ParseDuration(cfg.ResetPeriod); err != nil {
			return s, fmt.Errorf("reset_period: %w", err)
		}
	}

	s.ATRPeriod = cfg.ATRPeriod
	s.ATRDivisor = cfg.ATRDivisor
	s.MaxLevels = cfg.MaxLevels
	s.SupertrendPeriod = cfg.SupertrendPeriod
	s.SupertrendFactor = cfg.SupertrendFactor
	s.SARAcceleration = cfg.SARAcceleration
	s.SARMaximum = cfg.SARMaximum
	s.MinAge = cfg.MinAge

	ro := render.Options{Offset: cfg.Offset, MaxWidth: cfg.MaxWidth, TickSize: s.TickSize}
	if ro.Layout, err = render.ParseLayout(cfg.Layout); err != nil {
		return s, err
	}
	if ro.Side, err = render.ParseSide(cfg.Side); err != nil {
		return s, err
	}
	if ro.Display, err = render.ParseDisplay(cfg.Display); err != nil {
		return s, err
	}
	if ro.Dimension, err = render.ParseDimension(cfg.Dimension); err != nil {
		return s, err
	}
	if ro.Normalization, err = render.ParseNormalization(cfg.Normalization); err != nil {
		return s, err
	}
	s.Render = ro
	return s, s.Validate()
}

// Validate checks the invariants a session refuses to start without.
func (s Settings) Validate() error {
	if s.FeedFrame <= 0 {
		return errors.New("feed timeframe must be positive")
	}
	if s.MaxLevels < 1 || s.MaxLevels > profile.MaxLevels {
		return fmt.Errorf("max_levels must be within 1..%d", profile.MaxLevels)
	}
	if !s.TickSize.IsPositive() {
		return errors.New("tick_size must be > 0")
	}
	if s.Reset == ResetPeriod && s.ResetPeriod < s.FeedFrame {
		return fmt.Errorf("%w: %s < %s", ErrResetFinerThanFeed, s.ResetPeriod, s.FeedFrame)
	}
	if s.MinAge < 0 || s.MinAge > 1 {
		return errors.New("min_age must be within 0..1")
	}
	if s.Render.MaxWidth < 0 {
		return errors.New("max_width must be >= 0")
	}
	return nil
}
