package tgui

import (
	"strings"
	"unicode/utf8"
)

// MessageLimit is the rune budget used per Telegram message. The API limit
// is 4096; the margin leaves room for entities.
const MessageLimit = 4000

// TruncRunes returns s cut to at most n runes, ending in "…" when cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	return string(rs[:n-1]) + "…"
}

// Split breaks s into chunks of at most limit runes. It prefers newline
// boundaries in the last two thirds of a window and, when html is set,
// never cuts inside a tag.
func Split(s string, limit int, html bool) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, len(rs)/limit+1)
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			if cut := lastNewline(rs, start, end, limit/3); cut > 0 {
				end = cut
			}
			if html {
				if open := danglingTag(rs, start, end); open > start+1 {
					end = open
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// lastNewline returns the index just past the last newline in rs[start:end]
// that leaves at least minChunk runes, or -1.
func lastNewline(rs []rune, start, end, minChunk int) int {
	for i := end - 1; i > start; i-- {
		if rs[i] == '\n' && i-start >= minChunk {
			return i + 1
		}
	}
	return -1
}

// danglingTag returns the index of a '<' in rs[start:end] that has no
// closing '>' before end, or -1.
func danglingTag(rs []rune, start, end int) int {
	open, closed := -1, -1
	for i := start; i < end; i++ {
		switch rs[i] {
		case '<':
			open = i
		case '>':
			closed = i
		}
	}
	if open > closed {
		return open
	}
	return -1
}
