package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
)

const defaultEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGo searches via the DuckDuckGo HTML endpoint. No API key
// required.
type DuckDuckGo struct {
	// Endpoint overrides the search URL base, mainly for tests;
	// PARLEY_SEARCH_ENDPOINT overrides it at runtime.
	Endpoint string

	// Client defaults to a 10s-timeout client.
	Client *http.Client
}

// NewDuckDuckGo returns a searcher with default endpoint and client.
func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{}
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 3
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.searchURL(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Parley/1.0")

	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return parseHTMLResults(string(body), limit), nil
}

func (d *DuckDuckGo) searchURL(query string) string {
	base := d.Endpoint
	if env := os.Getenv("PARLEY_SEARCH_ENDPOINT"); env != "" {
		base = env
	}
	if base == "" {
		base = defaultEndpoint
	}
	u, err := url.Parse(base)
	if err != nil {
		return defaultEndpoint + "?q=" + url.QueryEscape(query)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()
	return u.String()
}

var (
	reResultLink    = regexp.MustCompile(`(?i)<a[^>]+class="result__a"[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	reResultSnippet = regexp.MustCompile(`(?i)<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
	reTag           = regexp.MustCompile(`<[^>]+>`)
)

func parseHTMLResults(html string, limit int) []Result {
	links := reResultLink.FindAllStringSubmatch(html, -1)
	snippets := reResultSnippet.FindAllStringSubmatch(html, -1)

	var results []Result
	for i, link := range links {
		if len(link) < 3 {
			continue
		}
		rawURL := link[1]
		// DuckDuckGo wraps URLs in a redirect; extract the target.
		if u, err := url.Parse(rawURL); err == nil {
			if actual := u.Query().Get("uddg"); actual != "" {
				rawURL = actual
			}
		}
		snippet := ""
		if i < len(snippets) && len(snippets[i]) >= 2 {
			snippet = stripTags(snippets[i][1])
		}
		results = append(results, Result{
			Title:   stripTags(link[2]),
			URL:     rawURL,
			Snippet: snippet,
		})
		if len(results) >= limit {
			break
		}
	}
	return results
}

func stripTags(s string) string {
	return strings.TrimSpace(reTag.ReplaceAllString(s, ""))
}
