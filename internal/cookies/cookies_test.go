package cookies

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSplitBrowser(t *testing.T) {
	cases := []struct{ in, name, profile string }{
		{"Google Chrome", "chrome", ""},
		{"edge", "edge", ""},
		{"brave:/home/me/.config/Brave/Default", "brave", "/home/me/.config/Brave/Default"},
		{"netscape", "chrome", ""},
	}
	for _, c := range cases {
		name, profile := splitBrowser(c.in)
		if name != c.name || profile != c.profile {
			t.Fatalf("%q got (%s,%s) want (%s,%s)", c.in, name, profile, c.name, c.profile)
		}
	}
}

func TestDedupeKeyIgnoresDomainCase(t *testing.T) {
	a := &http.Cookie{Domain: "LOCALHOST", Path: "/", Name: "x"}
	b := &http.Cookie{Domain: "localhost", Path: "/", Name: "x"}
	if dedupeKey(a) != dedupeKey(b) {
		t.Fatal("keys should match")
	}
	b.Path = "/v1"
	if dedupeKey(a) == dedupeKey(b) {
		t.Fatal("path must distinguish cookies")
	}
}

func TestHostOf(t *testing.T) {
	h, err := hostOf("https://localhost:5000/v1/api")
	if err != nil || h != "localhost" {
		t.Fatalf("got %q %v", h, err)
	}
	if _, err := hostOf(""); err == nil {
		t.Fatal("empty url must fail")
	}
	if _, err := hostOf("not a url"); err == nil {
		t.Fatal("hostless url must fail")
	}
}

func TestWriteDumpRoundTripsIntoSessionFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "session.json")
	in := []*http.Cookie{{Name: "api", Value: "abc", Path: "/", Domain: "localhost"}}
	if err := WriteDump(path, in); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var dump struct {
		Cookies []*http.Cookie `json:"cookies"`
	}
	if err := json.Unmarshal(b, &dump); err != nil {
		t.Fatal(err)
	}
	if len(dump.Cookies) != 1 || dump.Cookies[0].Value != "abc" {
		t.Fatalf("dump got %+v", dump.Cookies)
	}
}

func TestRowFor(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := rowFor(&http.Cookie{Domain: ".127.0.0.1", Name: "s", Value: "é", Expires: now.Add(-time.Hour)}, now)
	if r.HostOnly || !r.HasNonASCII || !r.ValidUTF8 {
		t.Fatalf("row flags got %+v", r)
	}
	if r.Expires != "2024-02-29T23:00:00Z (expired)" {
		t.Fatalf("expires got %s", r.Expires)
	}
	if rowFor(&http.Cookie{Domain: "localhost"}, now).Expires != "session" {
		t.Fatal("zero expiry is a session cookie")
	}
}

func TestSortRowsAndMatch(t *testing.T) {
	rows := []Row{{Browser: "firefox"}, {Browser: "chrome", Name: "b"}, {Browser: "chrome", Name: "a"}}
	SortRows(rows)
	if rows[0].Name != "a" || rows[2].Browser != "firefox" {
		t.Fatalf("order got %+v", rows)
	}
	if !DomainHasAny("LocalHost", []string{"local"}) || DomainHasAny("example.com", []string{"local", "127"}) {
		t.Fatal("domain match")
	}
}
