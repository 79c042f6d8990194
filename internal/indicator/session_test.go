package indicator

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"tick-profile/internal/config"
	"tick-profile/internal/profile"
	"tick-profile/internal/render"
)

var t0 = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func settings(t *testing.T, yaml string) Settings {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	s, err := FromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestFromConfigResolvesSwitches(t *testing.T) {
	s := settings(t, "layout: single\nside: left\ndisplay: totals\nnormalization: gross\nreset: trend_a\nsizing: auto\n")
	if s.Render.Layout != render.Single || s.Render.Side != render.Left || s.Render.Display != render.Totals || s.Render.Normalization != render.NormGross {
		t.Fatalf("render options got %+v", s.Render)
	}
	if s.Reset != ResetTrendA || s.Sizing != SizingAuto {
		t.Fatalf("reset %v sizing %v", s.Reset, s.Sizing)
	}
	if s.TickSize.String() != "0.01" {
		t.Fatalf("tick got %s", s.TickSize)
	}
}

func TestResetFinerThanFeedIsFatal(t *testing.T) {
	cfg, err := config.Parse([]byte("feed_timeframe: 5m\nreset_period: 1m\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := FromConfig(cfg); !errors.Is(err, ErrResetFinerThanFeed) {
		t.Fatalf("got %v want ErrResetFinerThanFeed", err)
	}

	s := settings(t, "")
	s.ResetPeriod = 30 * time.Second
	if _, err := NewSession(s, quietLogger()); !errors.Is(err, ErrResetFinerThanFeed) {
		t.Fatalf("NewSession got %v", err)
	}
}

func TestFromConfigRejectsUnknownSwitch(t *testing.T) {
	cfg, err := config.Parse([]byte("reset: moon_phase\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := FromConfig(cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestSessionAccumulatesAndWidens(t *testing.T) {
	sess, err := NewSession(settings(t, "max_levels: 2\n"), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	ticks := []Tick{
		{Time: t0.Add(1 * time.Second), Price: 10, Size: 5, HasSize: true},
		{Time: t0.Add(2 * time.Second), Price: 10, Size: 3, HasSize: true},
		{Time: t0.Add(3 * time.Second), Price: 12, Size: 2, HasSize: true},
	}
	want := []profile.State{profile.Empty, profile.Accumulating, profile.Widening}
	var out Output
	for i, tk := range ticks {
		out = sess.Process(tk)
		if out.Transition != want[i] {
			t.Fatalf("tick %d transition got %v want %v", i, out.Transition, want[i])
		}
		if out.Reset || out.Warning != "" {
			t.Fatalf("tick %d unexpected reset/warning: %+v", i, out)
		}
	}
	levels := sess.Profile().Levels()
	if len(levels) != 2 || levels[0].UpVolume != 8 || levels[1].UpVolume != 2 {
		t.Fatalf("levels got %+v", levels)
	}
	// previous frame drew the single-level profile on both sides
	if len(out.Frame.Primitives) != 4 || len(out.Frame.Clear) != 2 {
		t.Fatalf("frame got %d primitives, %d clears", len(out.Frame.Primitives), len(out.Frame.Clear))
	}
}

func TestSessionWarnsOnceWithoutVolume(t *testing.T) {
	sess, err := NewSession(settings(t, ""), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	warnings := 0
	for i := 0; i < 5; i++ {
		out := sess.Process(Tick{Time: t0.Add(time.Duration(i) * time.Second), Price: 100 + float64(i)/10})
		if out.Warning != "" {
			warnings++
		}
		if !out.Frame.Degraded {
			t.Fatal("frame should be degraded")
		}
	}
	if warnings != 1 {
		t.Fatalf("warnings got %d want 1", warnings)
	}
	_, count := sess.Profile().Grid.Totals()
	if count != 5 {
		t.Fatalf("tick count got %d want 5", count)
	}
}

func TestSessionResetsOnPeriod(t *testing.T) {
	sess, err := NewSession(settings(t, "reset_period: 1h\n"), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	sess.Process(Tick{Time: t0.Add(10 * time.Minute), Price: 50, Size: 1, HasSize: true})
	sess.Process(Tick{Time: t0.Add(50 * time.Minute), Price: 51, Size: 1, HasSize: true})
	first := sess.Profile().ID

	out := sess.Process(Tick{Time: t0.Add(61 * time.Minute), Price: 52, Size: 7, HasSize: true})
	if !out.Reset || out.RetiredID != first {
		t.Fatalf("expected reset retiring %d, got %+v", first, out)
	}
	if out.Transition != profile.Empty || sess.Profile().LevelCount() != 1 {
		t.Fatalf("new profile not started from the first tick")
	}
	if len(out.Frame.Clear) != 0 {
		t.Fatal("retired drawing must not be cleared")
	}
	if sess.Engine().Log().TotalVolume() != 7 {
		t.Fatalf("log not cleared on reset: %v", sess.Engine().Log().TotalVolume())
	}
}

func TestSessionResetsOnTrendFlip(t *testing.T) {
	sess, err := NewSession(settings(t, "reset: trend_b\n"), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	resets := 0
	p := 100.0
	minute := 0
	emit := func(open, high, low, close float64) {
		base := t0.Add(time.Duration(minute) * time.Minute)
		for i, px := range []float64{open, high, low, close} {
			out := sess.Process(Tick{Time: base.Add(time.Duration(i*10) * time.Second), Price: px, Size: 1, HasSize: true})
			if out.Reset {
				resets++
			}
		}
		minute++
	}
	for i := 0; i < 30; i++ {
		emit(p, p+1, p-0.2, p+0.8)
		p++
	}
	for i := 0; i < 30; i++ {
		emit(p, p+0.2, p-5, p-4.8)
		p -= 5
	}
	if resets == 0 {
		t.Fatal("expected a reset on trend reversal")
	}
}

func TestSessionClampsOutOfOrderTicks(t *testing.T) {
	sess, err := NewSession(settings(t, ""), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	sess.Process(Tick{Time: t0.Add(10 * time.Second), Price: 10, Size: 1, HasSize: true})
	sess.Process(Tick{Time: t0.Add(5 * time.Second), Price: 10, Size: 1, HasSize: true})
	for _, u := range sess.Engine().Log().Events() {
		if u.Time.Before(t0.Add(10 * time.Second)) {
			t.Fatalf("tick not clamped: %v", u.Time)
		}
	}
}

func TestSessionLeavesTickModeWhenVolumeArrives(t *testing.T) {
	sess, err := NewSession(settings(t, ""), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	out := sess.Process(Tick{Time: t0.Add(time.Second), Price: 100})
	if !out.Frame.Degraded || out.Warning == "" {
		t.Fatalf("first tick without size: %+v", out)
	}
	out = sess.Process(Tick{Time: t0.Add(2 * time.Second), Price: 100.5, Size: 40, HasSize: true})
	if out.Frame.Degraded || sess.Degraded() {
		t.Fatal("session stuck in tick-count mode after a size arrived")
	}
	if sess.Engine().Log().TotalVolume() != 40 {
		t.Fatalf("volume got %v", sess.Engine().Log().TotalVolume())
	}
	out = sess.Process(Tick{Time: t0.Add(3 * time.Second), Price: 100.2})
	if out.Warning != "" {
		t.Fatal("warning repeated within one session")
	}
}
