// Package search retrieves web results used to ground a chat turn.
// Results are rendered as an inline block prepended to the user
// message; the engine treats search as best-effort and answers
// without it on failure.
package search

import (
	"fmt"
	"strings"
)

// Result is one web search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// FormatResults renders results as the block prepended to the user
// turn. An empty slice still yields a block so the model knows the
// search ran and found nothing.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "[Search Results]\n\nNo relevant results found."
	}
	var b strings.Builder
	b.WriteString("[Search Results]\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
		if r.URL != "" {
			fmt.Fprintf(&b, "   link: %s\n", r.URL)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
