package adapter

import (
	"strings"
	"time"
	"unicode/utf8"

	"structwatch/internal/transport"
	"structwatch/pkg/tgui"
)

var severityMark = map[transport.Severity]string{
	transport.SeverityCritical: "🔴",
	transport.SeverityWarning:  "🟠",
	transport.SeverityNormal:   "🟢",
}

// cardHTML lays out one card:
//
//	🔴 <b>Title</b>
//	<i>Description</i>
//	<b>Field:</b> value · <b>Inline:</b> value
//	<code>2024-01-02 15:04 UTC</code>
func cardHTML(c transport.Card) tgui.H {
	title := tgui.B(c.Title)
	if c.Thumbnail != "" {
		title = tgui.Raw("<b>" + tgui.Link(c.Title, c.Thumbnail).String() + "</b>")
	}
	mark := severityMark[c.Severity]
	if mark == "" {
		mark = severityMark[transport.SeverityNormal]
	}

	lines := []tgui.H{tgui.Raw(mark + " " + title.String())}
	if c.Description != "" {
		lines = append(lines, tgui.I(c.Description))
	}

	var inline []tgui.H
	flush := func() {
		if len(inline) > 0 {
			lines = append(lines, tgui.JoinH(" · ", inline...))
			inline = nil
		}
	}
	for _, f := range c.Fields {
		kv := tgui.KV(f.Name, f.Value)
		if f.Inline {
			inline = append(inline, kv)
			continue
		}
		flush()
		lines = append(lines, kv)
	}
	flush()

	if ts := formatTimestamp(c.Timestamp); ts != "" {
		lines = append(lines, tgui.Code(ts))
	}
	return tgui.JoinH("\n", lines...)
}

func formatTimestamp(s string) string {
	if s == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

// packCards joins the leading text and card blocks into messages of at most
// limit runes. Blocks are never split unless a single one is over the limit.
func packCards(leading string, cards []transport.Card, limit int) []string {
	blocks := make([]string, 0, len(cards)+1)
	if strings.TrimSpace(leading) != "" {
		blocks = append(blocks, leading)
	}
	for _, c := range cards {
		blocks = append(blocks, cardHTML(c).String())
	}

	const sep = "\n\n"
	var (
		out []string
		cur strings.Builder
		n   int
	)
	emit := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, b := range blocks {
		bn := utf8.RuneCountInString(b)
		if bn > limit {
			emit()
			out = append(out, tgui.Split(b, limit, true)...)
			continue
		}
		if n > 0 && n+len(sep)+bn > limit {
			emit()
		}
		if n > 0 {
			cur.WriteString(sep)
			n += len(sep)
		}
		cur.WriteString(b)
		n += bn
	}
	emit()
	return out
}
