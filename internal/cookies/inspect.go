package cookies

import (
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/browserutils/kooky"
)

// Row is one cookie as reported by cookiedump's inspect mode.
type Row struct {
	Browser     string `json:"browser"`
	ProfilePath string `json:"profile_path"`
	StoreFile   string `json:"store_file"`
	Domain      string `json:"domain"`
	HostOnly    bool   `json:"host_only"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	Value       string `json:"value"`
	ValueHex    string `json:"value_hex"`
	ValidUTF8   bool   `json:"value_valid_utf8"`
	HasNonASCII bool   `json:"has_non_ascii"`
	Secure      bool   `json:"secure"`
	HttpOnly    bool   `json:"http_only"`
	SameSite    string `json:"same_site"`
	Expires     string `json:"expires"` // RFC3339 or "session"
}

// Inspect lists cookies whose domain contains any of matches across all
// browser stores. It returns the rows and the number of stores scanned.
func Inspect(matches []string, now time.Time) ([]Row, int) {
	stores := kooky.FindAllCookieStores()
	defer closeAll(stores)

	var rows []Row
	for _, s := range stores {
		kcs, _ := s.ReadCookies(kooky.Valid)
		for _, kc := range kcs {
			if !DomainHasAny(kc.Domain, matches) {
				continue
			}
			r := rowFor(&kc.Cookie, now)
			r.Browser, r.ProfilePath, r.StoreFile = s.Browser(), s.Profile(), s.FilePath()
			rows = append(rows, r)
		}
	}
	SortRows(rows)
	return rows, len(stores)
}

func rowFor(c *http.Cookie, now time.Time) Row {
	hasNonASCII := false
	for _, r := range c.Value {
		if r > 127 {
			hasNonASCII = true
			break
		}
	}
	r := Row{
		Domain:      c.Domain,
		HostOnly:    c.Domain != "" && !strings.HasPrefix(c.Domain, "."),
		Path:        c.Path,
		Name:        c.Name,
		Value:       c.Value,
		ValueHex:    hex.EncodeToString([]byte(c.Value)),
		ValidUTF8:   utf8.ValidString(c.Value),
		HasNonASCII: hasNonASCII,
		Secure:      c.Secure,
		HttpOnly:    c.HttpOnly,
		SameSite:    sameSiteString(c.SameSite),
		Expires:     "session",
	}
	if !c.Expires.IsZero() {
		r.Expires = c.Expires.UTC().Format(time.RFC3339)
		if now.After(c.Expires) {
			r.Expires += " (expired)"
		}
	}
	return r
}

func SortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Browser != b.Browser {
			return a.Browser < b.Browser
		}
		if a.StoreFile != b.StoreFile {
			return a.StoreFile < b.StoreFile
		}
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Name < b.Name
	})
}

func DomainHasAny(domain string, subs []string) bool {
	d := strings.ToLower(strings.TrimSpace(domain))
	for _, sub := range subs {
		if strings.Contains(d, sub) {
			return true
		}
	}
	return false
}

func sameSiteString(ss http.SameSite) string {
	switch ss {
	case http.SameSiteDefaultMode:
		return "Default"
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteNoneMode:
		return "None"
	default:
		return ""
	}
}
