package cookies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all" // register finders for major browsers
)

// ExtractFromBrowser loads cookies for baseURL from one browser family
// ("chrome", "chromium", "edge", "brave", "opera", "firefox", "safari").
// An optional ":<profile path>" suffix narrows to a single profile.
// Session cookies are kept; the gateway relies on them.
func ExtractFromBrowser(browser, baseURL string) ([]*http.Cookie, error) {
	host, err := hostOf(baseURL)
	if err != nil {
		return nil, err
	}

	want, profile := splitBrowser(browser)
	stores := kooky.FindAllCookieStores()
	defer closeAll(stores)

	var use []kooky.CookieStore
	for _, s := range stores {
		if normalizeBrowser(s.Browser()) != want {
			continue
		}
		if profile != "" && !samePath(s.FilePath(), profile) &&
			!strings.Contains(strings.ToLower(s.FilePath()), strings.ToLower(profile)) {
			continue
		}
		use = append(use, s)
	}
	if len(use) == 0 {
		return nil, fmt.Errorf("no %s cookie stores found", want)
	}

	out := collect(use, host)
	if len(out) == 0 {
		return nil, fmt.Errorf("no cookies for %q found in %s", host, want)
	}
	return out, nil
}

// ForURL scans every registered browser store for cookies scoped to the
// host of baseURL.
func ForURL(ctx context.Context, baseURL string) ([]*http.Cookie, error) {
	host, err := hostOf(baseURL)
	if err != nil {
		return nil, err
	}
	stores := kooky.FindAllCookieStores()
	defer closeAll(stores)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := collect(stores, host)
	if len(out) == 0 {
		return nil, fmt.Errorf("no cookies for %q in any browser store", host)
	}
	return out, nil
}

func collect(stores []kooky.CookieStore, host string) []*http.Cookie {
	var out []*http.Cookie
	seen := map[string]bool{}
	for _, s := range stores {
		cc, _ := s.ReadCookies(kooky.Valid, kooky.DomainHasSuffix(host))
		for _, kc := range cc {
			hc := kc.Cookie
			key := dedupeKey(&hc)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, &hc)
		}
	}
	return out
}

func closeAll(stores []kooky.CookieStore) {
	for _, s := range stores {
		_ = s.Close()
	}
}

func hostOf(baseURL string) (string, error) {
	if baseURL == "" {
		return "", errors.New("baseURL required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse baseURL: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid baseURL host in %q", baseURL)
	}
	return u.Hostname(), nil
}

func splitBrowser(s string) (name, profile string) {
	if i := strings.IndexByte(s, ':'); i > 0 {
		return normalizeBrowser(s[:i]), strings.TrimSpace(s[i+1:])
	}
	return normalizeBrowser(s), ""
}

func normalizeBrowser(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chromium":
		return "chromium"
	case "edge", "microsoft edge":
		return "edge"
	case "brave":
		return "brave"
	case "opera":
		return "opera"
	case "firefox":
		return "firefox"
	case "safari":
		return "safari"
	default:
		return "chrome"
	}
}

func samePath(a, b string) bool {
	ra, rb := filepath.Clean(a), filepath.Clean(b)
	if ea, err := filepath.EvalSymlinks(ra); err == nil {
		ra = ea
	}
	if eb, err := filepath.EvalSymlinks(rb); err == nil {
		rb = eb
	}
	return ra == rb
}

// domain+path+name identifies a cookie; domain compares case-insensitively.
func dedupeKey(c *http.Cookie) string {
	return strings.ToLower(c.Domain) + "\t" + c.Path + "\t" + c.Name
}

// WriteDump stores cookies in the session file format internal/ibkrcp reads.
func WriteDump(path string, cookies []*http.Cookie) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(struct {
		Cookies []*http.Cookie `json:"cookies"`
	}{cookies}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
