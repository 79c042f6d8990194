package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// hub fans messages out to browser clients. Status, warning and error
// messages are queued per client; frames are coalesced so a slow client only
// ever holds the newest drawing of each profile.
type hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	frames     chan framePayload
	greet      func() [][]byte
	logger     *slog.Logger
}

type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	pending *framePayload
	wake    chan struct{}
}

func newHub(logger *slog.Logger, greet func() [][]byte) *hub {
	return &hub{
		clients:    map[*client]bool{},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		frames:     make(chan framePayload, 1024),
		greet:      greet,
		logger:     logger,
	}
}

func newClient(h *hub, conn *websocket.Conn) *client {
	return &client{hub: h, conn: conn, send: make(chan []byte, 64), wake: make(chan struct{}, 1)}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			if h.greet != nil {
				for _, msg := range h.greet() {
					c.send <- msg
				}
			}
		case c := <-h.unregister:
			h.drop(c)
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.drop(c)
				}
			}
		case fp := <-h.frames:
			for c := range h.clients {
				if !c.offer(fp) {
					h.drop(c)
				}
			}
		}
	}
}

func (h *hub) drop(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// offer parks fp as the client's next frame. A pending frame of the same
// profile is replaced and its clear list carried over, since the host never
// drew it. A pending frame of another profile is the retired drawing and is
// queued as is. false means the client's queue is full.
func (c *client) offer(fp framePayload) bool {
	c.mu.Lock()
	if p := c.pending; p != nil {
		if p.Frame.Profile != fp.Frame.Profile {
			select {
			case c.send <- marshalWS("frame", *p):
			default:
				c.mu.Unlock()
				return false
			}
		} else {
			fp.Frame.Clear = mergeIDs(p.Frame.Clear, fp.Frame.Clear)
		}
	}
	c.pending = &fp
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *client) takeFrame() (framePayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	c.pending = nil
	if p == nil {
		return framePayload{}, false
	}
	return *p, true
}

func mergeIDs(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	for _, id := range b {
		if !slices.Contains(a, id) {
			out = append(out, id)
		}
	}
	return out
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout:  10 * time.Second,
	ReadBufferSize:    4096,
	WriteBufferSize:   16384,
	CheckOrigin:       func(r *http.Request) bool { return true }, // local SPA
	EnableCompression: true,
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade", slog.String("err", err.Error()))
		return
	}
	c := newClient(h, conn)
	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(25 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	write := func(msg []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return c.conn.WriteMessage(websocket.TextMessage, msg) == nil
	}
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !write(msg) {
				return
			}
		case <-c.wake:
			// queued messages (a retired profile's last frame among them) go first
			for drained := false; !drained; {
				select {
				case msg, ok := <-c.send:
					if !ok {
						return
					}
					if !write(msg) {
						return
					}
				default:
					drained = true
				}
			}
			if fp, ok := c.takeFrame(); ok && !write(marshalWS("frame", fp)) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func marshalWS(t string, v any) []byte {
	b, _ := json.Marshal(wsMessage{Type: t, Data: v})
	return b
}
