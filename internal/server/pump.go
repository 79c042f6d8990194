package server

import (
	"context"
	"log/slog"

	"tick-profile/internal/indicator"
)

// Pump drains the feed into one indicator session and broadcasts the result.
// It is the only writer of the session. A new session (and so a new profile)
// is built whenever the host starts a symbol, including a restart of the same
// one.
func (s *HTTPServer) Pump(ctx context.Context) {
	var (
		sess *indicator.Session
		gen  uint64
	)
	for {
		select {
		case tk, ok := <-s.feed.Ticks():
			if !ok {
				return
			}
			sym, cur := s.st.Active()
			if tk.Symbol != sym {
				continue // stale tick from a previous subscription
			}
			if sess == nil || cur != gen {
				next, err := indicator.NewSession(s.set, s.log.With(slog.String("symbol", sym)))
				if err != nil {
					s.log.Error("session", slog.String("err", err.Error()))
					continue
				}
				sess, gen = next, cur
				s.log.Debug("session started", slog.String("symbol", sym), slog.Uint64("generation", gen))
			}
			out := sess.Process(tk)
			s.st.SetFrame(out.Frame)
			s.BroadcastFrame(sym, out)
			if out.Warning != "" && s.st.WarnOnce(sym, out.Warning) {
				s.BroadcastWarning(sym, out.Warning)
			}
		case err, ok := <-s.feed.Errors():
			if !ok {
				return
			}
			if err != nil {
				s.log.Error("tick feed error", slog.String("err", err.Error()))
				s.BroadcastError(err.Error())
			}
		case <-ctx.Done():
			return
		}
	}
}
