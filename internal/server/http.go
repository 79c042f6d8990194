package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"tick-profile/internal/config"
	"tick-profile/internal/ibkrcp"
	"tick-profile/internal/indicator"
	"tick-profile/internal/state"
)

type HTTPServer struct {
	cfg    config.Config
	set    indicator.Settings
	st     *state.State
	feed   ibkrcp.TickFeed
	hub    *hub
	log    *slog.Logger
	mux    *http.ServeMux
	webDir string
}

func NewHTTPServer(cfg config.Config, set indicator.Settings, st *state.State, feed ibkrcp.TickFeed, logger *slog.Logger) *HTTPServer {
	s := &HTTPServer{
		cfg:    cfg,
		set:    set,
		st:     st,
		feed:   feed,
		log:    logger,
		mux:    http.NewServeMux(),
		webDir: "./web",
	}
	s.hub = newHub(logger, s.greeting)
	s.routes()
	go s.hub.run()
	return s
}

func (s *HTTPServer) Router() http.Handler { return s.mux }

// SetWebDir points the static routes at another directory.
func (s *HTTPServer) SetWebDir(dir string) { s.webDir = dir }

// --------- WS broadcasts ----------

func (s *HTTPServer) status() []byte {
	return marshalWS("status", map[string]any{
		"connected": s.st.Connected(),
		"symbol":    s.st.Symbol(),
	})
}

// greeting is sent to a client as it joins: status, then the latest frame.
func (s *HTTPServer) greeting() [][]byte {
	msgs := [][]byte{s.status()}
	if f, ok := s.st.Frame(); ok {
		msgs = append(msgs, marshalWS("frame", framePayload{Symbol: s.st.Symbol(), Output: indicator.Output{Frame: f}}))
	}
	return msgs
}

func (s *HTTPServer) BroadcastStatus() { s.hub.broadcast <- s.status() }

type framePayload struct {
	Symbol string `json:"symbol"`
	indicator.Output
}

func (s *HTTPServer) BroadcastFrame(symbol string, out indicator.Output) {
	s.hub.frames <- framePayload{Symbol: symbol, Output: out}
}

func (s *HTTPServer) BroadcastWarning(symbol, msg string) {
	s.hub.broadcast <- marshalWS("warning", map[string]string{"symbol": symbol, "message": msg})
}

func (s *HTTPServer) BroadcastError(msg string) {
	s.hub.broadcast <- marshalWS("error", map[string]string{"message": msg})
}

// --------- Routes ----------

func (s *HTTPServer) routes() {
	// SPA
	s.mux.HandleFunc("/", s.static("index.html", "text/html; charset=utf-8"))
	s.mux.HandleFunc("/index.html", s.static("index.html", "text/html; charset=utf-8"))
	s.mux.HandleFunc("/app.js", s.static("app.js", "text/javascript; charset=utf-8"))
	s.mux.HandleFunc("/styles.css", s.static("styles.css", "text/css; charset=utf-8"))

	// WS
	s.mux.HandleFunc("/ws", s.hub.serveWS)

	// API
	s.mux.HandleFunc("/api/health", s.apiHealth)
	s.mux.HandleFunc("/api/config", s.apiConfig)
	s.mux.HandleFunc("/api/start", s.apiStart)
	s.mux.HandleFunc("/api/stop", s.apiStop)
	s.mux.HandleFunc("/api/frame", s.apiFrame)
}

func (s *HTTPServer) static(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if name == "index.html" && r.URL.Path != "/" && r.URL.Path != "/index.html" {
			http.NotFound(w, r)
			return
		}
		b, err := os.ReadFile(filepath.Join(s.webDir, name))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(b)
	}
}

func (s *HTTPServer) apiHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"ok":        true,
		"connected": s.st.Connected(),
	})
}

func (s *HTTPServer) apiConfig(w http.ResponseWriter, r *http.Request) {
	o := s.set.Render
	writeJSON(w, map[string]any{
		"feedTimeframe": s.set.FeedFrame.String(),
		"sizing":        s.cfg.Sizing,
		"tickSize":      s.set.TickSize.String(),
		"maxLevels":     s.set.MaxLevels,
		"reset":         s.set.Reset.String(),
		"resetPeriod":   s.set.ResetPeriod.String(),
		"layout":        s.cfg.Layout,
		"side":          o.Side,
		"display":       s.cfg.Display,
		"dimension":     s.cfg.Dimension,
		"normalization": s.cfg.Normalization,
		"offset":        o.Offset,
		"maxWidth":      o.MaxWidth,
		"minAge":        s.set.MinAge,
		"symbol":        s.st.Symbol(),
	})
}

func (s *HTTPServer) apiStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	sym := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if sym == "" {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}

	if !s.st.Connected() && !allowOffline() {
		http.Error(w, "gateway not connected", http.StatusServiceUnavailable)
		s.BroadcastError("Client Portal Gateway not connected. Is it running at the configured ibkr_gateway_url?")
		return
	}

	_, gen := s.st.Begin(sym)
	if err := s.feed.SubscribeSymbol(sym); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("symbol started", slog.String("symbol", sym), slog.Uint64("generation", gen))
	s.BroadcastStatus()
	writeJSON(w, map[string]any{"ok": true, "symbol": s.st.Symbol()})
}

func (s *HTTPServer) apiStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	s.feed.Unsubscribe()
	s.st.Begin("")
	s.BroadcastStatus()
	writeJSON(w, map[string]any{"ok": true})
}

// GET /api/frame returns the latest drawing, 204 before the first tick.
func (s *HTTPServer) apiFrame(w http.ResponseWriter, r *http.Request) {
	f, ok := s.st.Frame()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, map[string]any{"symbol": s.st.Symbol(), "frame": f})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func allowOffline() bool {
	// TICK_PROFILE_ALLOW_START=1 lets /api/start work before the gateway connects
	return os.Getenv("TICK_PROFILE_ALLOW_START") == "1"
}
