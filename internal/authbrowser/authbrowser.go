package authbrowser

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

var ErrNotAuthenticated = errors.New("gateway did not report authenticated:true (finish 2FA, or raise TICK_PROFILE_LOGIN_WAIT_SECONDS)")

type Options struct {
	BaseURL     string        // e.g. https://127.0.0.1:5000
	Paper       bool          // RL=2 instead of live RL=1
	Headless    bool          // false shows the window for 2FA
	Wait        time.Duration // overall timeout; 0 uses LoginWait()
	UserDataDir string        // optional Chrome profile dir
	Logger      *slog.Logger  // chromedp logs go here when set
}

// CookieJar is satisfied by *cookiejar.Jar.
type CookieJar interface {
	SetCookies(u *url.URL, cookies []*http.Cookie)
	Cookies(u *url.URL) []*http.Cookie
}

// LoginWait reads TICK_PROFILE_LOGIN_WAIT_SECONDS, defaulting to 8 minutes.
func LoginWait() time.Duration {
	if s := os.Getenv("TICK_PROFILE_LOGIN_WAIT_SECONDS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 8 * time.Minute
}

// Login opens the gateway SSO page in Chrome, waits until the session is
// authenticated, then copies the browser's cookies (HttpOnly included) into
// jar and confirms the status from Go.
func Login(ctx context.Context, jar CookieJar, opts Options) error {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Host == "" {
		return fmt.Errorf("bad base url %q", opts.BaseURL)
	}
	wait := opts.Wait
	if wait <= 0 {
		wait = LoginWait()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("allow-insecure-localhost", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("disable-features", "BlockInsecurePrivateNetworkRequests"),
	)
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	actx, acancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer acancel()

	var ctxOpts []chromedp.ContextOption
	if l := opts.Logger; l != nil {
		ctxOpts = append(ctxOpts,
			chromedp.WithLogf(func(f string, a ...any) { l.Debug(fmt.Sprintf(f, a...)) }),
			chromedp.WithErrorf(func(f string, a ...any) { l.Warn(fmt.Sprintf(f, a...)) }),
		)
	}
	cctx, cancel := chromedp.NewContext(actx, ctxOpts...)
	defer cancel()
	cctx, tcancel := context.WithTimeout(cctx, wait)
	defer tcancel()

	if err := chromedp.Run(cctx, network.Enable(), chromedp.Navigate(loginURL(opts.BaseURL, opts.Paper))); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}

	// the user completes the form; poll status from the page with its cookies
	script := statusScript(opts.BaseURL)
	for {
		var body string
		_ = chromedp.Run(cctx, chromedp.Evaluate(script, &body, awaitPromise))
		if authenticated([]byte(body)) {
			break
		}
		select {
		case <-cctx.Done():
			return ErrNotAuthenticated
		case <-time.After(3 * time.Second):
		}
	}

	syncCookies := func() error {
		return chromedp.Run(cctx, chromedp.ActionFunc(func(ctx context.Context) error {
			cks, err := network.GetCookies().WithURLs([]string{opts.BaseURL}).Do(ctx)
			if err != nil {
				return fmt.Errorf("get cookies: %w", err)
			}
			jar.SetCookies(base, toHTTPCookies(cks))
			return nil
		}))
	}

	hc := &http.Client{
		Jar:       jar,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}, // #nosec G402 local gateway
		Timeout:   8 * time.Second,
	}
	// cookies can land after the page flips; resync a few times
	for range 6 {
		if err := syncCookies(); err != nil {
			return err
		}
		if ok, _ := Status(cctx, hc, opts.BaseURL); ok {
			return nil
		}
		select {
		case <-cctx.Done():
			return ErrNotAuthenticated
		case <-time.After(5 * time.Second):
		}
	}
	return ErrNotAuthenticated
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams { return p.WithAwaitPromise(true) }

// Status asks the gateway whether the session in hc's jar is authenticated.
func Status(ctx context.Context, hc *http.Client, baseURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/v1/api/iserver/auth/status", nil)
	if err != nil {
		return false, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	var v struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return false, err
	}
	return v.Authenticated, nil
}

func loginURL(base string, paper bool) string {
	rl := 1
	if paper {
		rl = 2
	}
	return fmt.Sprintf("%s/sso/Login?forwardTo=22&RL=%d&ip2loc=on", strings.TrimRight(base, "/"), rl)
}

func statusScript(base string) string {
	u, _ := json.Marshal(strings.TrimRight(base, "/") + "/v1/api/iserver/auth/status")
	return fmt.Sprintf(`(async () => {
  try {
    const r = await fetch(%s, { credentials: 'include' });
    return r.ok ? await r.text() : '';
  } catch (_) { return ''; }
})()`, u)
}

func authenticated(body []byte) bool {
	var v struct {
		Authenticated bool `json:"authenticated"`
	}
	return json.Unmarshal(body, &v) == nil && v.Authenticated
}

func toHTTPCookies(cks []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cks))
	for _, ck := range cks {
		hc := &http.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HttpOnly: ck.HTTPOnly,
		}
		// CDP reports session cookies with expires <= 0
		if ck.Expires > 0 {
			hc.Expires = time.Unix(int64(ck.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}
