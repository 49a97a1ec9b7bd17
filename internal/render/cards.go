// Package render turns structures, alerts and notifications into transport cards.
package render

import (
	"fmt"
	"strings"
	"time"

	"structwatch/internal/model"
	"structwatch/internal/monitor"
	"structwatch/internal/transport"
)

// RefineryTypeID is the Metenox moon drill; its routine notifications are noise.
const RefineryTypeID = 81826

var (
	ignoredNotifications = []string{
		"StructurePaintPurchased",
		"StructuresJobsCancelled",
		"StructuresJobsPaused",
		"StructureItemsDelivered",
		"StructureImpendingAbandonmentAssetsAtRisk",
	}
	ignoredRefineryNotifications = []string{
		"StructureNoReagentsAlert",
		"StructureLowReagentsAlert",
		"AllAnchoringMsg",
		"StructureAnchoring",
		"StructureUnanchoring",
	}
)

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// StructureName is the display name of s, falling back to its ID.
func StructureName(s model.Structure) string {
	return untitled(s.Name, s.ID)
}

func untitled(name string, id int64) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("Structure %d", id)
}

// Structure renders the rolling list card for s.
func Structure(s model.Structure, now time.Time) transport.Card {
	remaining := s.RemainingMinutes(now)
	sev := StructureSeverity(s.State, remaining)
	return transport.Card{
		Title:       untitled(s.Name, s.ID),
		Description: strings.ToUpper(string(sev)),
		Severity:    sev,
		Thumbnail:   Thumbnail(s.TypeID),
		Timestamp:   stamp(now),
		Fields: []transport.CardField{
			{Name: "Fuel Remaining", Value: FormatMinutes(remaining)},
			{Name: "Vulnerability Status", Value: s.State.Label(), Inline: true},
			{Name: "Reinforce Hours", Value: ReinforceWindow(s.ReinforceHour)},
		},
	}
}

// Alert renders a diff alert using the structure found in cur. It returns nil
// when the structure is not part of cur.
func Alert(a monitor.Alert, cur model.Snapshot, now time.Time) *transport.Card {
	if ev, ok := a.(monitor.GenericEvent); ok {
		return Notification(ev.Notification, cur)
	}

	s, ok := cur.Lookup(a.StructureID())
	if !ok {
		return nil
	}
	card := Structure(s, now)

	switch v := a.(type) {
	case monitor.NewStructure:
		card.Description = "New structure"
	case monitor.StateChanged:
		if v.Old == v.New {
			card.Description = "Structure is " + v.New.Label()
			break
		}
		card.Description = "State changed to " + v.New.Label()
		card.Fields = append(card.Fields, transport.CardField{Name: "Previous State", Value: v.Old.Label(), Inline: true})
	case monitor.FuelCrossing:
		card.Description = fuelDescription(v)
	}
	return &card
}

func fuelDescription(c monitor.FuelCrossing) string {
	switch {
	case c.Direction == monitor.Up:
		return "Refuelled: " + FormatMinutes(c.Remaining) + " remaining"
	case c.Threshold == monitor.ThresholdCritical:
		return "Out of fuel"
	default:
		return "Fuel low: " + FormatMinutes(c.Remaining) + " remaining"
	}
}

// Notification renders a notification card. It returns nil when the card
// should not be sent: the referenced structure is unknown, the type is
// ignored, or it is routine moon drill chatter.
func Notification(n model.Notification, structures model.Snapshot) *transport.Card {
	id, ok := n.StructureID()
	if !ok {
		return nil
	}
	s, ok := structures.Lookup(id)
	if !ok {
		return nil
	}
	if containsFold(ignoredNotifications, n.Type) {
		return nil
	}
	if s.TypeID == RefineryTypeID && containsFold(ignoredRefineryNotifications, n.Type) {
		return nil
	}

	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &transport.Card{
		Title:       untitled(s.Name, s.ID),
		Description: ProperCase(n.Type),
		Severity:    NotificationSeverity(n.Type),
		Thumbnail:   Thumbnail(s.TypeID),
		Timestamp:   stamp(ts),
	}
}
