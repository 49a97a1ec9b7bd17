package adapter

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"structwatch/internal/transport"
	logx "structwatch/pkg/logx"
)

func loggerForTest() logx.Logger { return logx.Nop() }

func TestCardHTML(t *testing.T) {
	t.Parallel()

	c := transport.Card{
		Title:       "Keepstar <Home>",
		Description: "CRITICAL",
		Severity:    transport.SeverityCritical,
		Thumbnail:   "https://images.evetech.net/types/35834/render?size=64",
		Fields: []transport.CardField{
			{Name: "Fuel Remaining", Value: "2 Days"},
			{Name: "Vulnerability Status", Value: "Shield Vulnerable", Inline: true},
			{Name: "Reinforce Hours", Value: "1800 ± 0200 hrs", Inline: true},
		},
		Timestamp: "2024-05-01T10:20:30Z",
	}
	want := strings.Join([]string{
		`🔴 <b><a href="https://images.evetech.net/types/35834/render?size=64">Keepstar &lt;Home&gt;</a></b>`,
		`<i>CRITICAL</i>`,
		`<b>Fuel Remaining:</b> 2 Days`,
		`<b>Vulnerability Status:</b> Shield Vulnerable · <b>Reinforce Hours:</b> 1800 ± 0200 hrs`,
		`<code>2024-05-01 10:20 UTC</code>`,
	}, "\n")
	if diff := cmp.Diff(want, cardHTML(c).String()); diff != "" {
		t.Fatalf("cardHTML() mismatch (-want +got):\n%s", diff)
	}
}

func TestCardHTMLDefaultsToNormal(t *testing.T) {
	t.Parallel()

	got := cardHTML(transport.Card{Title: "X"}).String()
	if got != "🟢 <b>X</b>" {
		t.Fatalf("cardHTML() = %q", got)
	}
}

func TestPackCards(t *testing.T) {
	t.Parallel()

	cards := []transport.Card{{Title: "A"}, {Title: "B"}, {Title: "C"}}

	t.Run("fits in one message", func(t *testing.T) {
		got := packCards("lead", cards, 4000)
		want := []string{"lead\n\n🟢 <b>A</b>\n\n🟢 <b>B</b>\n\n🟢 <b>C</b>"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("packCards() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("blank leading is dropped", func(t *testing.T) {
		got := packCards("  ", cards[:1], 4000)
		if diff := cmp.Diff([]string{"🟢 <b>A</b>"}, got); diff != "" {
			t.Fatalf("packCards() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("splits between blocks", func(t *testing.T) {
		got := packCards("", cards, 22)
		want := []string{"🟢 <b>A</b>\n\n🟢 <b>B</b>", "🟢 <b>C</b>"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("packCards() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := packCards("", nil, 4000); len(got) != 0 {
			t.Fatalf("packCards() = %q", got)
		}
	})
}
