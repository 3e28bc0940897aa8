package signal

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML removes markup from scraped text, keeping only text nodes.
// Trend snapshots and post bodies arrive from scraped sources and often
// carry anchor tags and entity escapes; keyword matching needs plain text.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	var sb strings.Builder
	tok := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := tok.Next()
		switch tt {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			sb.Write(tok.Text())
			sb.WriteByte(' ')
		}
	}
}
