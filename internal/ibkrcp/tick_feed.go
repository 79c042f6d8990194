package ibkrcp

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"tick-profile/internal/indicator"
)

type TickFeed interface {
	Run(ctx context.Context, onStatus func(connected bool))
	SubscribeSymbol(symbol string) error
	Unsubscribe()
	Ticks() <-chan indicator.Tick
	Errors() <-chan error
	Connected() bool
	Close()
}

// Client Portal market-data field ids
const (
	fieldLast     = "31"
	fieldLastSize = "7059"
)

// GatewayTickFeed streams last-trade updates for one symbol from the Client
// Portal Gateway websocket, with reconnect & resubscribe.
type GatewayTickFeed struct {
	client *Client
	log    *slog.Logger

	mu        sync.RWMutex
	symbol    string
	conid     int64
	connected bool
	wsConn    *websocket.Conn

	tickCh chan indicator.Tick
	errCh  chan error

	ctx    context.Context
	cancel context.CancelFunc
}

func NewGatewayTickFeed(client *Client, logger *slog.Logger) *GatewayTickFeed {
	return &GatewayTickFeed{
		client: client,
		log:    logger,
		tickCh: make(chan indicator.Tick, 4096),
		errCh:  make(chan error, 16),
	}
}

func (f *GatewayTickFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *GatewayTickFeed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *GatewayTickFeed) Ticks() <-chan indicator.Tick { return f.tickCh }
func (f *GatewayTickFeed) Errors() <-chan error         { return f.errCh }

func (f *GatewayTickFeed) SubscribeSymbol(symbol string) error {
	canon := strings.ToUpper(strings.TrimSpace(symbol))
	if canon == "" {
		return fmt.Errorf("empty symbol")
	}
	f.mu.Lock()
	f.symbol = canon
	f.conid = 0
	ws := f.wsConn
	f.mu.Unlock()
	// the run loop reconnects and resubscribes
	if ws != nil {
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "resub"))
		_ = ws.Close()
	}
	return nil
}

func (f *GatewayTickFeed) Unsubscribe() {
	f.mu.Lock()
	ws := f.wsConn
	conid := f.conid
	f.symbol = ""
	f.conid = 0
	f.mu.Unlock()

	if ws != nil && conid != 0 {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("umd+%d+{}", conid)))
	}
	if ws != nil {
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "unsubscribe"))
		_ = ws.Close()
	}
}

func (f *GatewayTickFeed) Close() {
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.RLock()
	ws := f.wsConn
	f.mu.RUnlock()
	if ws != nil {
		_ = ws.Close()
	}
}

func (f *GatewayTickFeed) Run(ctx context.Context, onStatus func(connected bool)) {
	if f.cancel != nil {
		return
	}
	f.ctx, f.cancel = context.WithCancel(ctx)
	defer close(f.tickCh)

	backoff := time.Second
	fail := func(err error) {
		onStatus(false)
		f.setConnected(false)
		f.emitErr(err)
		select {
		case <-f.ctx.Done():
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}

	for f.ctx.Err() == nil {
		if err := f.client.Connect(f.ctx); err != nil {
			fail(fmt.Errorf("connect: %w", err))
			continue
		}

		sym := f.currentSymbol()
		var conid int64
		if sym != "" {
			ct, err := f.client.ContractForSymbol(f.ctx, sym)
			if err != nil {
				fail(fmt.Errorf("secdef for %s: %w", sym, err))
				continue
			}
			conid = ct.Conid
			f.mu.Lock()
			f.conid = conid
			f.mu.Unlock()
		}

		ws, err := f.openWS()
		if err != nil {
			fail(fmt.Errorf("ws open: %w", err))
			continue
		}
		f.mu.Lock()
		f.wsConn = ws
		f.mu.Unlock()
		f.setConnected(true)
		onStatus(true)
		backoff = time.Second

		if conid != 0 {
			if err := f.subscribe(ws, conid); err != nil {
				f.emitErr(fmt.Errorf("subscribe market data: %w", err))
				_ = ws.Close()
				continue
			}
			f.log.Info("subscribed", slog.String("symbol", sym), slog.Int64("conid", conid))
		}

		if err := f.readLoop(ws, sym); err != nil {
			onStatus(false)
			f.setConnected(false)
			f.emitErr(err)
		}
	}
}

func (f *GatewayTickFeed) currentSymbol() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.symbol
}

func (f *GatewayTickFeed) openWS() (*websocket.Conn, error) {
	u, err := url.Parse(f.client.BaseURL())
	if err != nil {
		return nil, err
	}
	u.Scheme = "wss"
	u.Path = "/v1/api/ws"
	d := websocket.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 local gateway
		Jar:             f.client.Jar(),
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var nd net.Dialer
			return nd.DialContext(ctx, "tcp4", addr)
		},
	}
	ws, _, err := d.DialContext(f.ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	sid, _ := f.client.RefreshSessionID(f.ctx)
	if sid == "" {
		sid = f.client.SessionID()
	}
	if sid != "" {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"session":"`+sid+`"}`))
	}
	return ws, nil
}

func (f *GatewayTickFeed) subscribe(ws *websocket.Conn, conid int64) error {
	return ws.WriteMessage(websocket.TextMessage, []byte(
		fmt.Sprintf(`smd+%d+{"fields":["%s","%s"]}`, conid, fieldLast, fieldLastSize),
	))
}

func (f *GatewayTickFeed) readLoop(ws *websocket.Conn, sym string) error {
	defer ws.Close()

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// gateway drops idle sessions; tickle and ping on a timer
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(25 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-f.ctx.Done():
				return
			case <-ticker.C:
				_ = ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
				_, _ = f.client.RefreshSessionID(f.ctx)
			}
		}
	}()

	var p parser
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if f.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ws read: %w", err)
		}
		_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))

		tk, ok := p.parse(data)
		if !ok {
			continue
		}
		tk.Symbol = sym
		select {
		case f.tickCh <- tk:
		case <-f.ctx.Done():
			return nil
		}
	}
}

func (f *GatewayTickFeed) emitErr(err error) {
	select {
	case f.errCh <- err:
	default:
		// drop if buffer full
	}
}

// price-only updates tolerated before an instrument is reported as having no
// volume; the gateway often opens a subscription with the price field alone
const noSizeGrace = 20

// parser decodes smd+ messages. The gateway only sends fields that changed, so
// the last price is cached for size-only updates (a trade at an unchanged
// price) and HasSize stays true once any size was seen.
type parser struct {
	last      decimal.Decimal
	havePrice bool
	sizeSeen  bool
	priceOnly int
}

func (p *parser) parse(data []byte) (indicator.Tick, bool) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return indicator.Tick{}, false
	}
	var topic string
	_ = json.Unmarshal(msg["topic"], &topic)
	if !strings.HasPrefix(topic, "smd+") {
		return indicator.Tick{}, false
	}

	price, hasPrice := fieldDecimal(msg[fieldLast])
	size, hasSize := fieldDecimal(msg[fieldLastSize])
	switch {
	case hasPrice:
		p.last, p.havePrice = price, true
	case hasSize && p.havePrice:
		price = p.last
	default:
		return indicator.Tick{}, false
	}

	tk := indicator.Tick{Time: time.Now(), Price: price.InexactFloat64()}
	var updated int64
	if err := json.Unmarshal(msg["_updated"], &updated); err == nil && updated > 0 {
		tk.Time = time.UnixMilli(updated)
	}
	if hasSize {
		p.sizeSeen = true
		tk.Size = size.InexactFloat64()
	} else if !p.sizeSeen {
		p.priceOnly++
	}
	tk.HasSize = p.sizeSeen || p.priceOnly <= noSizeGrace
	return tk, true
}

// fieldDecimal reads a market-data field. Values are strings that may carry a
// status prefix ("C" closing, "H" halted) and K/M suffixes on sizes.
func fieldDecimal(raw json.RawMessage) (decimal.Decimal, bool) {
	if len(raw) == 0 {
		return decimal.Zero, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return decimal.Zero, false
		}
		s = n.String()
	}
	s = strings.TrimLeft(strings.TrimSpace(s), "CH")
	mult := decimal.NewFromInt(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = decimal.NewFromInt(1_000), strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = decimal.NewFromInt(1_000_000), strings.TrimSuffix(s, "M")
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	return d.Mul(mult), true
}

// ---------- Test/mock feed (handy for integration tests & demos) ----------
type MockTickFeed struct {
	mu        sync.Mutex
	ticks     chan indicator.Tick
	errors    chan error
	connected bool
	subSymbol string
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewMockTickFeed() TickFeed {
	return &MockTickFeed{
		ticks:     make(chan indicator.Tick, 64),
		errors:    make(chan error, 10),
		connected: true,
	}
}

func (m *MockTickFeed) Run(ctx context.Context, onStatus func(connected bool)) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	go func() {
		onStatus(m.Connected())
		<-m.ctx.Done()
	}()
}

func (m *MockTickFeed) SubscribeSymbol(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subSymbol = strings.ToUpper(strings.TrimSpace(symbol))
	return nil
}

func (m *MockTickFeed) Unsubscribe() {
	m.mu.Lock()
	m.subSymbol = ""
	m.mu.Unlock()
}

func (m *MockTickFeed) Symbol() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subSymbol
}

func (m *MockTickFeed) Ticks() <-chan indicator.Tick { return m.ticks }
func (m *MockTickFeed) Errors() <-chan error         { return m.errors }

func (m *MockTickFeed) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockTickFeed) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	close(m.ticks)
	close(m.errors)
}

// Helpers for tests
func (m *MockTickFeed) SendTick(t indicator.Tick) { m.ticks <- t }
func (m *MockTickFeed) SendError(e error)         { m.errors <- e }
func (m *MockTickFeed) SetConnected(c bool) {
	m.mu.Lock()
	m.connected = c
	m.mu.Unlock()
}
