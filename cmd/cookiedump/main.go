package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"tick-profile/internal/cookies"
)

func main() {
	forURL := flag.String("for", "", "write gateway cookies for this URL (e.g. https://127.0.0.1:5000) to --out")
	from := flag.String("from-browser", "", "limit --for to one browser (chrome, edge, brave, firefox, ...)")
	out := flag.String("out", "./data/session.json", "session file written by --for")
	match := flag.String("match", "local,127", "inspect mode: comma-separated substrings matched against cookie domains")
	full := flag.Bool("full", false, "inspect mode: print full values (default truncates to 80 chars)")
	asJSON := flag.Bool("json", false, "inspect mode: JSON output")
	hexAll := flag.Bool("hex", false, "inspect mode: always print value bytes as hex")
	flag.Parse()

	if *forURL != "" {
		dump(*forURL, *from, *out)
		return
	}
	inspect(splitList(*match), *full, *asJSON, *hexAll)
}

func dump(forURL, browser, out string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		cs  []*http.Cookie
		err error
	)
	if browser != "" {
		cs, err = cookies.ExtractFromBrowser(browser, forURL)
	} else {
		cs, err = cookies.ForURL(ctx, forURL)
	}
	if err != nil {
		log.Fatalf("read cookies: %v", err)
	}
	if err := cookies.WriteDump(out, cs); err != nil {
		log.Fatalf("write %s: %v", out, err)
	}
	fmt.Printf("Wrote %d cookies for %s to %s\n", len(cs), forURL, out)
}

func inspect(matches []string, full, asJSON, hexAll bool) {
	if len(matches) == 0 {
		fmt.Fprintln(os.Stderr, "No match substrings provided via -match")
		os.Exit(2)
	}
	now := time.Now()
	rows, stores := cookies.Inspect(matches, now)
	if stores == 0 {
		fmt.Fprintln(os.Stderr, "No browser cookie stores found")
		os.Exit(1)
	}
	if !full {
		for i := range rows {
			rows[i].Value = truncate(rows[i].Value)
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", " ")
		_ = enc.Encode(map[string]any{
			"env": map[string]any{
				"go":       runtime.Version(),
				"os":       runtime.GOOS,
				"arch":     runtime.GOARCH,
				"time_utc": now.UTC().Format(time.RFC3339),
				"match":    matches,
			},
			"count": len(rows),
			"rows":  rows,
		})
		return
	}

	fmt.Printf("Cookie inspect (%s %s, %s) match=%v\n", runtime.GOOS, runtime.GOARCH, now.UTC().Format(time.RFC3339), matches)
	fmt.Printf("Found %d matching cookies across %d stores.\n\n", len(rows), stores)

	lastStore := ""
	for _, r := range rows {
		if key := r.Browser + " :: " + r.StoreFile; key != lastStore {
			fmt.Printf("=== %s\n", key)
			if r.ProfilePath != "" {
				fmt.Printf(" profile: %s\n", homeRel(r.ProfilePath))
			}
			lastStore = key
		}
		fmt.Printf("- domain: %s path: %s name: %s\n", r.Domain, r.Path, r.Name)
		fmt.Printf("  value : %s\n", r.Value)
		if hexAll || !r.ValidUTF8 || r.HasNonASCII {
			fmt.Printf("  value-hex: %s\n", r.ValueHex)
		}
		fmt.Printf("  flags : secure=%v httpOnly=%v sameSite=%s hostOnly=%v\n", r.Secure, r.HttpOnly, r.SameSite, r.HostOnly)
		fmt.Printf("  expires: %s\n", r.Expires)
	}
	if len(rows) == 0 {
		fmt.Println("No matching cookies. Sign in to the gateway on both https://localhost:PORT and https://127.0.0.1:PORT and re-run.")
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(strings.ToLower(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truncate(v string) string {
	if len(v) <= 80 {
		return v
	}
	return v[:80] + "..."
}

func homeRel(p string) string {
	home, _ := os.UserHomeDir()
	if home != "" {
		if rel, err := filepath.Rel(home, p); err == nil && !strings.HasPrefix(rel, "..") {
			return "~/" + rel
		}
	}
	return p
}
