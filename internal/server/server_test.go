package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tick-profile/internal/config"
	"tick-profile/internal/ibkrcp"
	"tick-profile/internal/indicator"
	"tick-profile/internal/render"
	"tick-profile/internal/state"
)

func newTestServer(t *testing.T) (*HTTPServer, *state.State, *ibkrcp.MockTickFeed) {
	t.Helper()
	cfg := config.Default()
	set, err := indicator.FromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	st := state.NewState()
	feed := ibkrcp.NewMockTickFeed().(*ibkrcp.MockTickFeed)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPServer(cfg, set, st, feed, logger), st, feed
}

func TestStartRequiresConnection(t *testing.T) {
	s, st, feed := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/start", strings.NewReader(`{"symbol":"aapl"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status got %d", rec.Code)
	}

	st.SetConnected(true)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/start", strings.NewReader(`{"symbol":"aapl"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status got %d body %s", rec.Code, rec.Body)
	}
	if st.Symbol() != "AAPL" || feed.Symbol() != "AAPL" {
		t.Fatalf("symbol state %q feed %q", st.Symbol(), feed.Symbol())
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stop", nil))
	if rec.Code != http.StatusOK || st.Symbol() != "" || feed.Symbol() != "" {
		t.Fatalf("stop got %d %q %q", rec.Code, st.Symbol(), feed.Symbol())
	}
}

func TestStartValidation(t *testing.T) {
	s, st, _ := newTestServer(t)
	st.SetConnected(true)
	cases := []struct {
		method, body string
		want         int
	}{
		{http.MethodGet, ``, http.StatusMethodNotAllowed},
		{http.MethodPost, `{`, http.StatusBadRequest},
		{http.MethodPost, `{"symbol":"  "}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest(c.method, "/api/start", strings.NewReader(c.body)))
		if rec.Code != c.want {
			t.Fatalf("%s %q got %d want %d", c.method, c.body, rec.Code, c.want)
		}
	}
}

func TestFrameEndpoint(t *testing.T) {
	s, st, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/frame", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status got %d", rec.Code)
	}

	st.SetFrame(render.Frame{Profile: 2, Primitives: []render.Primitive{{ID: "p2-right-0", Text: "5"}}})
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/frame", nil))
	var body struct {
		Frame render.Frame `json:"frame"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Frame.Profile != 2 || len(body.Frame.Primitives) != 1 {
		t.Fatalf("frame got %+v", body.Frame)
	}
}

func TestConfigEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	var v map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v["reset"] != "period" || v["side"] != "right" || v["tickSize"] != "0.01" {
		t.Fatalf("config got %v", v)
	}
}

func TestStaticFiles(t *testing.T) {
	s, _, _ := newTestServer(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>ok</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	s.SetWebDir(dir)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("index got %d %s", rec.Code, rec.Body)
	}
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing app.js got %d", rec.Code)
	}
}

func TestWebsocketGreetingAndBroadcast(t *testing.T) {
	s, st, _ := newTestServer(t)
	st.Begin("ES")
	st.SetFrame(render.Frame{Profile: 1})
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	read := func() wsMessage {
		t.Helper()
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var m wsMessage
		if err := ws.ReadJSON(&m); err != nil {
			t.Fatal(err)
		}
		return m
	}
	if m := read(); m.Type != "status" {
		t.Fatalf("first message %s", m.Type)
	}
	if m := read(); m.Type != "frame" {
		t.Fatalf("second message %s", m.Type)
	}

	s.BroadcastWarning("ES", "no volume")
	m := read()
	if m.Type != "warning" {
		t.Fatalf("broadcast got %s", m.Type)
	}
	data, _ := m.Data.(map[string]any)
	if data["message"] != "no volume" {
		t.Fatalf("warning payload %v", m.Data)
	}
}

func waitFrame(t *testing.T, st *state.State, ready func(render.Frame) bool) render.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f, ok := st.Frame(); ok && ready(f) {
			return f
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for frame")
	return render.Frame{}
}

func TestPumpRestartBuildsNewSession(t *testing.T) {
	s, st, feed := newTestServer(t)
	st.SetConnected(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Pump(ctx)

	post := func(path, body string) {
		t.Helper()
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s got %d", path, rec.Code)
		}
	}
	t0 := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	tick := func(sec int, price float64) indicator.Tick {
		return indicator.Tick{Symbol: "AAPL", Time: t0.Add(time.Duration(sec) * time.Second), Price: price, Size: 10, HasSize: true}
	}

	post("/api/start", `{"symbol":"AAPL"}`)
	feed.SendTick(tick(1, 190))
	waitFrame(t, st, func(f render.Frame) bool { return true })
	feed.SendTick(tick(2, 190))
	// same profile redrawn: the previous glyphs are cleared
	waitFrame(t, st, func(f render.Frame) bool { return len(f.Clear) > 0 })

	post("/api/stop", ``)
	post("/api/start", `{"symbol":"AAPL"}`)
	feed.SendTick(tick(3, 191))
	f := waitFrame(t, st, func(f render.Frame) bool { return true })
	if len(f.Clear) != 0 {
		t.Fatalf("restart continued the old session: clear %v", f.Clear)
	}
	if f.Low != 191 || f.High != 191 {
		t.Fatalf("restarted profile holds old data: low %v high %v", f.Low, f.High)
	}
}

func TestPumpSkipsStaleSymbol(t *testing.T) {
	s, st, feed := newTestServer(t)
	st.Begin("ES")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Pump(ctx)

	feed.SendTick(indicator.Tick{Symbol: "NQ", Time: time.Now(), Price: 1, Size: 1, HasSize: true})
	feed.SendTick(indicator.Tick{Symbol: "ES", Time: time.Now(), Price: 5000, Size: 1, HasSize: true})
	f := waitFrame(t, st, func(render.Frame) bool { return true })
	if f.High != 5000 || f.Low != 5000 {
		t.Fatalf("frame built from a stale tick: %+v", f)
	}
}

func TestClientCoalescesFrames(t *testing.T) {
	c := newClient(nil, nil)
	frame := func(profile int, clear ...string) framePayload {
		return framePayload{Output: indicator.Output{Frame: render.Frame{Profile: profile, Clear: clear}}}
	}

	c.offer(frame(1, "a"))
	c.offer(frame(1, "b", "a"))
	fp, ok := c.takeFrame()
	if !ok || len(fp.Frame.Clear) != 2 || fp.Frame.Clear[0] != "a" || fp.Frame.Clear[1] != "b" {
		t.Fatalf("merged clear got %+v", fp.Frame.Clear)
	}
	if _, ok := c.takeFrame(); ok {
		t.Fatal("frame delivered twice")
	}

	// a retired profile's last drawing is queued, never overwritten
	c.offer(frame(1, "x"))
	c.offer(frame(2))
	select {
	case msg := <-c.send:
		var m struct {
			Data struct {
				Frame render.Frame `json:"frame"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg, &m); err != nil || m.Data.Frame.Profile != 1 {
			t.Fatalf("queued frame got %s", msg)
		}
	default:
		t.Fatal("retired frame was dropped")
	}
	if fp, _ := c.takeFrame(); fp.Frame.Profile != 2 || len(fp.Frame.Clear) != 0 {
		t.Fatalf("pending got %+v", fp.Frame)
	}
}

func TestClientOfferFailsWhenQueueFull(t *testing.T) {
	c := newClient(nil, nil)
	for i := 0; i < cap(c.send); i++ {
		c.send <- []byte("x")
	}
	c.offer(framePayload{Output: indicator.Output{Frame: render.Frame{Profile: 1}}})
	if c.offer(framePayload{Output: indicator.Output{Frame: render.Frame{Profile: 2}}}) {
		t.Fatal("full client should be dropped")
	}
}
