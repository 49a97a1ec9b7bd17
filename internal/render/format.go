package render

import (
	"fmt"
	"regexp"
	"strings"

	"structwatch/internal/model"
	"structwatch/internal/transport"
)

const (
	minutesPerHour = 60
	minutesPerDay  = 24 * minutesPerHour
	minutesPerWeek = 7 * minutesPerDay

	// Fuel windows used for card highlighting.
	criticalFuelWindow = 3 * minutesPerDay
	warningFuelWindow  = minutesPerWeek
)

// FormatMinutes renders a remaining duration in its largest whole unit,
// e.g. "45 Minutes", "1 Hour", "3 Days", "2 Weeks". Anything under a minute is "Empty".
func FormatMinutes(m int64) string {
	switch {
	case m < 1:
		return "Empty"
	case m < minutesPerHour:
		return unit(m, "Minute")
	case m < minutesPerDay:
		return unit(m/minutesPerHour, "Hour")
	case m < minutesPerWeek:
		return unit(m/minutesPerDay, "Day")
	default:
		return unit(m/minutesPerWeek, "Week")
	}
}

func unit(v int64, name string) string {
	if v != 1 {
		name += "s"
	}
	return fmt.Sprintf("%d %s", v, name)
}

var (
	reAcronym = regexp.MustCompile(`([A-Z]+)([A-Z][a-z]+)`)
	reCamel   = regexp.MustCompile(`([a-z])([A-Z])`)
)

// ProperCase splits a CamelCase identifier into words:
// "StructureUnderAttack" -> "Structure Under Attack".
func ProperCase(s string) string {
	s = reAcronym.ReplaceAllString(s, "${1} ${2}")
	return reCamel.ReplaceAllString(s, "${1} ${2}")
}

// ReinforceWindow formats the reinforcement hour, e.g. 5 -> "0500 ± 0200 hrs".
func ReinforceWindow(hour int) string {
	return fmt.Sprintf("%02d00 ± 0200 hrs", hour)
}

// Thumbnail is the image server icon for a structure type.
func Thumbnail(typeID int64) string {
	if typeID == 0 {
		return ""
	}
	return fmt.Sprintf("https://images.evetech.net/types/%d/icon", typeID)
}

// StructureSeverity derives the card highlight from fuel first and state second.
func StructureSeverity(state model.State, remaining int64) transport.Severity {
	switch {
	case remaining > 0 && remaining <= criticalFuelWindow:
		return transport.SeverityCritical
	case remaining > criticalFuelWindow && remaining <= warningFuelWindow:
		return transport.SeverityWarning
	}
	label := state.Label()
	for _, k := range []string{"REINFORCED", "ARMOR", "HULL", "ANCHOR"} {
		if strings.Contains(label, k) {
			return transport.SeverityCritical
		}
	}
	return transport.SeverityNormal
}

var (
	criticalNotifications = []string{
		"StructureDestroyed",
		"StructureUnderAttack",
		"StructureLostArmor",
		"StructureLostShields",
		"StructureImpendingAbandonmentAssetsAtRisk",
		"StructureWentLowPower",
		"StructureServicesOffline",
	}
	warningNotifications = []string{
		"StructureFuelAlert",
		"StructureServicesOffline",
		"StructuresJobsCancelled",
		"StructuresJobsPaused",
		"StructureReinforcementChanged",
	}
)

// NotificationSeverity maps a notification type to a highlight tier,
// ignoring case.
func NotificationSeverity(typ string) transport.Severity {
	switch {
	case containsFold(criticalNotifications, typ):
		return transport.SeverityCritical
	case containsFold(warningNotifications, typ):
		return transport.SeverityWarning
	default:
		return transport.SeverityNormal
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
