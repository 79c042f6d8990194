package signal

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

func TestBarBuilderClosesOnNewFrame(t *testing.T) {
	b := NewBarBuilder(time.Minute)
	if b.Index() != -1 {
		t.Fatalf("index before ticks got %d", b.Index())
	}
	if _, ok := b.Add(t0.Add(5*time.Second), 10, 1); ok {
		t.Fatal("first tick cannot close a bar")
	}
	b.Add(t0.Add(20*time.Second), 12, 2)
	b.Add(t0.Add(40*time.Second), 9, 3)
	closed, ok := b.Add(t0.Add(65*time.Second), 11, 4)
	if !ok {
		t.Fatal("expected bar close")
	}
	if closed.Open != 10 || closed.High != 12 || closed.Low != 9 || closed.Close != 9 || closed.Volume != 6 {
		t.Fatalf("closed bar got %+v", closed)
	}
	if b.Index() != 1 {
		t.Fatalf("index got %d want 1", b.Index())
	}
	cur, _ := b.Current()
	if cur.Open != 11 || !cur.Start.Equal(t0.Add(time.Minute)) {
		t.Fatalf("current bar got %+v", cur)
	}
}

func TestPeriodClock(t *testing.T) {
	c := NewPeriodClock(time.Hour)
	if c.Crossed(t0.Add(10 * time.Minute)) {
		t.Fatal("first timestamp must not cross")
	}
	if c.Crossed(t0.Add(59 * time.Minute)) {
		t.Fatal("same hour crossed")
	}
	if !c.Crossed(t0.Add(61 * time.Minute)) {
		t.Fatal("next hour not detected")
	}
	if c.Crossed(t0.Add(62 * time.Minute)) {
		t.Fatal("crossed twice")
	}
}

func trendBars() []Bar {
	var bars []Bar
	p := 100.0
	for i := 0; i < 40; i++ {
		bars = append(bars, Bar{Open: p, High: p + 1, Low: p - 0.2, Close: p + 0.8})
		p += 1
	}
	for i := 0; i < 40; i++ {
		bars = append(bars, Bar{Open: p, High: p + 0.2, Low: p - 5, Close: p - 4.8})
		p -= 5
	}
	return bars
}

func TestSupertrendFlipsOnReversal(t *testing.T) {
	st := NewSupertrend(10, 3)
	flips := 0
	for _, b := range trendBars() {
		if st.Push(b) {
			flips++
		}
	}
	if flips == 0 {
		t.Fatal("expected at least one flip")
	}
	if st.Direction() != -1 {
		t.Fatalf("direction got %d want -1", st.Direction())
	}
}

func TestParabolicSARFlipsOnReversal(t *testing.T) {
	sar := NewParabolicSAR(0.02, 0.2)
	flips := 0
	for _, b := range trendBars() {
		if sar.Push(b) {
			flips++
		}
	}
	if flips == 0 {
		t.Fatal("expected at least one flip")
	}
	if sar.Direction() != -1 {
		t.Fatalf("direction got %d want -1", sar.Direction())
	}
}

func TestATRStepWholeTicks(t *testing.T) {
	a := NewATRStep(14, 10, 0.01)
	p := 50.0
	for i := 0; i < 14; i++ {
		if step, _ := a.Push(Bar{High: p + 0.5, Low: p - 0.5, Close: p}); step != 0.01 {
			t.Fatalf("warmup step got %v want tick", step)
		}
	}
	for i := 0; i < 30; i++ {
		a.Push(Bar{High: p + 0.5, Low: p - 0.5, Close: p})
	}
	step := a.Step()
	if step < 0.05 || step > 0.2 {
		t.Fatalf("step got %v want about 0.1", step)
	}
	if ticks := step / 0.01; math.Abs(ticks-math.Round(ticks)) > 1e-6 {
		t.Fatalf("step %v is not a whole number of ticks", step)
	}
}
