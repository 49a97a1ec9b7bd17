package render

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"structwatch/internal/model"
	"structwatch/internal/monitor"
	"structwatch/internal/transport"
)

func TestFormatMinutes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   int64
		want string
	}{
		{-5, "Empty"},
		{0, "Empty"},
		{1, "1 Minute"},
		{59, "59 Minutes"},
		{60, "1 Hour"},
		{150, "2 Hours"},
		{1440, "1 Day"},
		{4320, "3 Days"},
		{10079, "6 Days"},
		{10080, "1 Week"},
		{30000, "2 Weeks"},
	}
	for _, tc := range cases {
		if got := FormatMinutes(tc.in); got != tc.want {
			t.Fatalf("FormatMinutes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestProperCase(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"StructureUnderAttack":    "Structure Under Attack",
		"AllAnchoringMsg":         "All Anchoring Msg",
		"ESIStructureFuelAlert":   "ESI Structure Fuel Alert",
		"structure":               "structure",
		"StructureLostShields":    "Structure Lost Shields",
		"StructuresJobsCancelled": "Structures Jobs Cancelled",
	}
	for in, want := range cases {
		if got := ProperCase(in); got != want {
			t.Fatalf("ProperCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStructureSeverity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		state     model.State
		remaining int64
		want      transport.Severity
	}{
		{"one minute left", model.StateShieldVulnerable, 1, transport.SeverityCritical},
		{"three days left", model.StateShieldVulnerable, 4320, transport.SeverityCritical},
		{"just over three days", model.StateShieldVulnerable, 4321, transport.SeverityWarning},
		{"one week left", model.StateShieldVulnerable, 10080, transport.SeverityWarning},
		{"plenty", model.StateShieldVulnerable, 10081, transport.SeverityNormal},
		{"empty and nominal", model.StateShieldVulnerable, 0, transport.SeverityNormal},
		{"empty and reinforced", model.StateArmorReinforce, 0, transport.SeverityCritical},
		{"hull vulnerable", model.StateHullVulnerable, 50000, transport.SeverityCritical},
		{"anchoring", model.StateAnchoring, 50000, transport.SeverityCritical},
		{"fuel beats state", model.StateHullReinforce, 5000, transport.SeverityWarning},
		{"unknown state", model.State("bogus"), 50000, transport.SeverityNormal},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := StructureSeverity(tc.state, tc.remaining); got != tc.want {
				t.Fatalf("StructureSeverity(%s, %d) = %s, want %s", tc.state, tc.remaining, got, tc.want)
			}
		})
	}
}

func TestNotificationSeverityIgnoresCase(t *testing.T) {
	t.Parallel()

	cases := map[string]transport.Severity{
		"StructureUnderAttack":          transport.SeverityCritical,
		"structureunderattack":          transport.SeverityCritical,
		"StructureServicesOffline":      transport.SeverityCritical,
		"STRUCTUREFUELALERT":            transport.SeverityWarning,
		"StructureReinforcementChanged": transport.SeverityWarning,
		"StructureOnline":               transport.SeverityNormal,
	}
	for typ, want := range cases {
		if got := NotificationSeverity(typ); got != want {
			t.Fatalf("NotificationSeverity(%q) = %s, want %s", typ, got, want)
		}
	}
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fuel(minutes int64) *time.Time {
	t := now.Add(time.Duration(minutes) * time.Minute)
	return &t
}

func TestStructureCard(t *testing.T) {
	t.Parallel()

	s := model.Structure{ID: 1, Name: "Home Fortizar", State: model.StateShieldVulnerable, FuelExpires: fuel(2 * 1440), TypeID: 35833, ReinforceHour: 5}
	got := Structure(s, now)
	want := transport.Card{
		Title:       "Home Fortizar",
		Description: "CRITICAL",
		Severity:    transport.SeverityCritical,
		Thumbnail:   "https://images.evetech.net/types/35833/icon",
		Timestamp:   "2024-06-01T12:00:00Z",
		Fields: []transport.CardField{
			{Name: "Fuel Remaining", Value: "2 Days"},
			{Name: "Vulnerability Status", Value: "VULNERABLE [SHIELD]", Inline: true},
			{Name: "Reinforce Hours", Value: "0500 ± 0200 hrs"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("card mismatch (-want +got):\n%s", diff)
	}
}

func structureNote(typ string, id string) model.Notification {
	return model.Notification{
		ID:        1,
		Type:      typ,
		Text:      "allianceID: 1\nstructureID: &id001 " + id + "\nsolarsystemID: 30000142\n",
		Timestamp: now,
	}
}

func TestNotificationCard(t *testing.T) {
	t.Parallel()

	snap := model.NewSnapshot(now, []model.Structure{
		{ID: 1035466617946, Name: "Astrahus", TypeID: 35832},
		{ID: 42, Name: "Drill", TypeID: RefineryTypeID},
	})

	cases := []struct {
		name string
		n    model.Notification
		want *transport.Card
	}{
		{
			name: "known structure",
			n:    structureNote("StructureUnderAttack", "1035466617946"),
			want: &transport.Card{
				Title:       "Astrahus",
				Description: "Structure Under Attack",
				Severity:    transport.SeverityCritical,
				Thumbnail:   "https://images.evetech.net/types/35832/icon",
				Timestamp:   "2024-06-01T12:00:00Z",
			},
		},
		{name: "unknown structure", n: structureNote("StructureUnderAttack", "7")},
		{name: "no structure reference", n: model.Notification{Type: "StructureUnderAttack", Text: "foo: bar"}},
		{name: "ignored type", n: structureNote("StructurePaintPurchased", "1035466617946")},
		{name: "moon drill chatter", n: structureNote("StructureLowReagentsAlert", "42")},
		{
			name: "moon drill attack still reported",
			n:    structureNote("StructureLostShields", "42"),
			want: &transport.Card{
				Title:       "Drill",
				Description: "Structure Lost Shields",
				Severity:    transport.SeverityCritical,
				Thumbnail:   "https://images.evetech.net/types/81826/icon",
				Timestamp:   "2024-06-01T12:00:00Z",
			},
		},
		{
			name: "reagent alert on a citadel is kept",
			n:    structureNote("StructureLowReagentsAlert", "1035466617946"),
			want: &transport.Card{
				Title:       "Astrahus",
				Description: "Structure Low Reagents Alert",
				Severity:    transport.SeverityNormal,
				Thumbnail:   "https://images.evetech.net/types/35832/icon",
				Timestamp:   "2024-06-01T12:00:00Z",
			},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Notification(tc.n, snap)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("card mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAlertCards(t *testing.T) {
	t.Parallel()

	s := model.Structure{ID: 9, Name: "Raitaru", State: model.StateArmorReinforce, FuelExpires: fuel(3000), TypeID: 35825}
	snap := model.NewSnapshot(now, []model.Structure{s})

	cases := []struct {
		name  string
		alert monitor.Alert
		desc  string
	}{
		{"new", monitor.NewStructure{ID: 9}, "New structure"},
		{"state", monitor.StateChanged{ID: 9, Old: model.StateShieldVulnerable, New: model.StateArmorReinforce}, "State changed to REINFORCED [ARMOR]"},
		{"first run state", monitor.StateChanged{ID: 9, Old: model.StateArmorReinforce, New: model.StateArmorReinforce}, "Structure is REINFORCED [ARMOR]"},
		{"fuel low", monitor.FuelCrossing{ID: 9, Direction: monitor.Down, Threshold: monitor.ThresholdWarning, Remaining: 3000}, "Fuel low: 2 Days remaining"},
		{"fuel out", monitor.FuelCrossing{ID: 9, Direction: monitor.Down, Threshold: monitor.ThresholdCritical}, "Out of fuel"},
		{"refuel", monitor.FuelCrossing{ID: 9, Direction: monitor.Up, Threshold: monitor.ThresholdWarning, Remaining: 20160}, "Refuelled: 2 Weeks remaining"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			card := Alert(tc.alert, snap, now)
			if card == nil {
				t.Fatal("Alert returned nil")
			}
			if card.Description != tc.desc {
				t.Fatalf("Description = %q, want %q", card.Description, tc.desc)
			}
			if card.Severity != transport.SeverityCritical {
				t.Fatalf("Severity = %s, want critical", card.Severity)
			}
		})
	}

	if card := Alert(monitor.NewStructure{ID: 404}, snap, now); card != nil {
		t.Fatalf("Alert for unknown structure = %+v, want nil", card)
	}
}
