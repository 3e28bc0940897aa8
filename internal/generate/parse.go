package generate

import (
	"regexp"
	"strings"
)

// parsedOutput is the result of interpreting raw collaborator text.
type parsedOutput struct {
	Parts []string
	Skip  bool
}

// threadSeparator is the explicit token a multi-part response must use.
// Plain paragraph breaks are NOT a thread: splitting on them would fragment
// ordinary single posts.
const threadSeparator = "---"

// threadNumbering matches explicit "1/4"-style part markers at line start.
var threadNumbering = regexp.MustCompile(`(?m)^\s*\d+\s*/\s*\d+\b`)

// metaPrefixes are filler openers models prepend despite instructions.
// Matched case-insensitively against the first line only.
var metaPrefixes = []string{
	"here's the tweet:",
	"here is the tweet:",
	"here's the post:",
	"here is the post:",
	"here's a tweet:",
	"here's your tweet:",
	"tweet:",
	"post:",
	"draft:",
}

// fillerLine matches whole-line conversational openers ("Sure, here's a
// draft you could use:") that carry no content of their own.
var fillerLine = regexp.MustCompile(`(?i)^(sure|ok|okay|of course|certainly)\b.*:$`)

// parseOutput interprets raw generator text: detects the SKIP token, strips
// meta-commentary and code fences, and splits threads only on an explicit
// separator or numbering pattern.
func parseOutput(raw string) parsedOutput {
	s := strings.TrimSpace(raw)
	s = stripFences(s)
	s = stripMetaPrefix(s)

	if isSkip(s) {
		return parsedOutput{Skip: true}
	}
	if s == "" {
		return parsedOutput{}
	}

	if parts := splitThread(s); len(parts) > 1 {
		return parsedOutput{Parts: parts}
	}
	return parsedOutput{Parts: []string{s}}
}

// isSkip reports whether the response is the literal SKIP token or a
// SKIP:-prefixed line.
func isSkip(s string) bool {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "SKIP") {
		return true
	}
	first, _, _ := strings.Cut(s, "\n")
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(first)), "SKIP:")
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx != -1 {
		s = s[idx+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// stripMetaPrefix removes a known filler opener from the first line. When
// the opener occupies the whole line the line is dropped entirely.
func stripMetaPrefix(s string) string {
	first, rest, found := strings.Cut(s, "\n")
	trimmed := strings.TrimSpace(first)
	lower := strings.ToLower(trimmed)

	for _, prefix := range metaPrefixes {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		remainder := strings.TrimSpace(trimmed[len(prefix):])
		if remainder != "" {
			if found {
				return remainder + "\n" + rest
			}
			return remainder
		}
		if found {
			return strings.TrimSpace(rest)
		}
		return ""
	}

	if fillerLine.MatchString(trimmed) {
		if found {
			return strings.TrimSpace(rest)
		}
		return ""
	}
	return s
}

func hasThreadSeparator(s string) bool {
	return strings.Contains(s, "\n"+threadSeparator) || strings.HasPrefix(s, threadSeparator)
}

func hasThreadNumbering(s string) bool {
	return len(threadNumbering.FindAllStringIndex(s, -1)) > 1
}

// splitThread returns the ordered thread parts, or a single-element slice
// when the text carries no explicit thread structure.
func splitThread(s string) []string {
	if hasThreadSeparator(s) {
		var parts []string
		for _, p := range strings.Split(s, "\n"+threadSeparator) {
			p = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), threadSeparator))
			if p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) > 1 {
			return parts
		}
	}

	if hasThreadNumbering(s) {
		marks := threadNumbering.FindAllStringIndex(s, -1)
		var parts []string
		for i, m := range marks {
			end := len(s)
			if i+1 < len(marks) {
				end = marks[i+1][0]
			}
			part := strings.TrimSpace(threadNumbering.ReplaceAllString(s[m[0]:end], ""))
			if part != "" {
				parts = append(parts, part)
			}
		}
		if len(parts) > 1 {
			return parts
		}
	}

	return []string{s}
}
