package ibkrcp

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Client talks to a local IBKR Client Portal Gateway over REST.
type Client struct {
	baseURL string
	jar     *cookiejar.Jar
	httpc   *http.Client
	logger  *slog.Logger

	sessionPath string

	mu        sync.RWMutex
	sessionID string
}

func NewClient(baseURL, sessionStorePath string, logger *slog.Logger) *Client {
	jar, _ := cookiejar.New(nil)
	// CP Gateway on 127.0.0.1: self-signed cert
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 local gateway
	}
	httpc := &http.Client{Jar: jar, Transport: tr, Timeout: 15 * time.Second}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		jar:         jar,
		httpc:       httpc,
		logger:      logger,
		sessionPath: sessionStorePath,
	}
}

type cookieDump struct {
	Cookies []*http.Cookie `json:"cookies"`
}

func (c *Client) loadSession() {
	b, err := os.ReadFile(c.sessionPath)
	if err != nil {
		return
	}
	var dump cookieDump
	if err := json.Unmarshal(b, &dump); err != nil {
		c.logger.Warn("session file unreadable", slog.String("path", c.sessionPath), slog.String("err", err.Error()))
		return
	}
	u, _ := url.Parse(c.baseURL)
	c.jar.SetCookies(u, dump.Cookies)
}

func (c *Client) saveSession() {
	u, _ := url.Parse(c.baseURL)
	b, _ := json.MarshalIndent(cookieDump{Cookies: c.jar.Cookies(u)}, "", "  ")
	_ = os.MkdirAll(filepath.Dir(c.sessionPath), fs.ModePerm)
	_ = os.WriteFile(c.sessionPath, b, 0o600)
}

// InjectCookies seeds the jar (e.g. from a browser import) and persists it.
func (c *Client) InjectCookies(cookies []*http.Cookie) {
	u, _ := url.Parse(c.baseURL)
	c.jar.SetCookies(u, cookies)
	c.saveSession()
}

func (c *Client) url(p string) string {
	return c.baseURL + p
}

func (c *Client) getJSON(ctx context.Context, p string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(p), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s status %d", p, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// Connect loads the stored session and checks the gateway reports it as
// authenticated. Market data also needs the accounts preflight.
func (c *Client) Connect(ctx context.Context) error {
	c.loadSession()

	var status struct {
		Authenticated bool `json:"authenticated"`
		Connected     bool `json:"connected"`
	}
	if err := c.getJSON(ctx, "/v1/api/iserver/auth/status", &status); err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	if !status.Authenticated {
		return errors.New("not authenticated in Client Portal Gateway; sign in through the gateway UI or run with --login")
	}

	var accounts json.RawMessage
	if err := c.getJSON(ctx, "/v1/api/iserver/accounts", &accounts); err != nil {
		return fmt.Errorf("accounts preflight: %w", err)
	}

	c.saveSession()
	return nil
}

// RefreshSessionID calls /tickle, which both keeps the session alive and
// returns the id the websocket expects as its first message.
func (c *Client) RefreshSessionID(ctx context.Context) (string, error) {
	var v struct {
		Session string `json:"session"`
	}
	if err := c.getJSON(ctx, "/v1/api/tickle", &v); err != nil {
		return "", err
	}
	if v.Session == "" {
		return "", errors.New("tickle returned no session")
	}
	c.mu.Lock()
	c.sessionID = v.Session
	c.mu.Unlock()
	return v.Session, nil
}

func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Contract is a resolved instrument.
type Contract struct {
	Conid   int64  `json:"conid"`
	Symbol  string `json:"symbol"`
	SecType string `json:"secType"`
}

// ContractForSymbol maps a symbol to a conid. Stocks win; otherwise the first
// futures/cash/index hit is used.
func (c *Client) ContractForSymbol(ctx context.Context, symbol string) (Contract, error) {
	var results []struct {
		Conid    json.Number `json:"conid"`
		Symbol   string      `json:"symbol"`
		Sections []struct {
			SecType string `json:"secType"`
		} `json:"sections"`
		SecType string `json:"secType"`
	}
	if err := c.getJSON(ctx, "/v1/api/iserver/secdef/search?symbol="+url.QueryEscape(symbol), &results); err != nil {
		return Contract{}, err
	}
	var fallback *Contract
	for _, r := range results {
		id, err := r.Conid.Int64()
		if err != nil || id == 0 {
			continue
		}
		sec := r.SecType
		if sec == "" && len(r.Sections) > 0 {
			sec = r.Sections[0].SecType
		}
		ct := Contract{Conid: id, Symbol: r.Symbol, SecType: sec}
		if sec == "STK" {
			return ct, nil
		}
		if fallback == nil {
			fallback = &ct
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return Contract{}, fmt.Errorf("no contract found for %s", symbol)
}

func (c *Client) HTTPClient() *http.Client { return c.httpc }
func (c *Client) Jar() *cookiejar.Jar      { return c.jar }
func (c *Client) BaseURL() string          { return c.baseURL }
func (c *Client) SessionStorePath() string { return c.sessionPath }
