package model

import (
	"math"
	"time"
)

// State is the lifecycle state reported by ESI for a structure.
type State string

const (
	StateAnchorVulnerable    State = "anchor_vulnerable"
	StateAnchoring           State = "anchoring"
	StateArmorReinforce      State = "armor_reinforce"
	StateArmorVulnerable     State = "armor_vulnerable"
	StateDeployVulnerable    State = "deploy_vulnerable"
	StateFittingInvulnerable State = "fitting_invulnerable"
	StateHullReinforce       State = "hull_reinforce"
	StateHullVulnerable      State = "hull_vulnerable"
	StateOnlineDeprecated    State = "online_deprecated"
	StateOnliningVulnerable  State = "onlining_vulnerable"
	StateShieldVulnerable    State = "shield_vulnerable"
	StateUnanchored          State = "unanchored"
	StateUnknown             State = "unknown"
)

// StateNominal is the state a healthy, fully onlined structure sits in.
const StateNominal = StateShieldVulnerable

var stateLabels = map[State]string{
	StateAnchorVulnerable:    "VULNERABLE [ANCHOR]",
	StateAnchoring:           "ANCHORING",
	StateArmorReinforce:      "REINFORCED [ARMOR]",
	StateArmorVulnerable:     "VULNERABLE [ARMOR]",
	StateDeployVulnerable:    "VULNERABLE [DEPLOY]",
	StateFittingInvulnerable: "INVULNERABLE [FITTING]",
	StateHullReinforce:       "REINFORCED [HULL]",
	StateHullVulnerable:      "VULNERABLE [HULL]",
	StateOnlineDeprecated:    "ONLINE [DEPRECATED]",
	StateOnliningVulnerable:  "VULNERABLE [ONLINING]",
	StateShieldVulnerable:    "VULNERABLE [SHIELD]",
	StateUnanchored:          "UNANCHORED",
	StateUnknown:             "UNKNOWN",
}

// Label returns the human label for s; unrecognised states map to UNKNOWN.
func (s State) Label() string {
	if l, ok := stateLabels[s]; ok {
		return l
	}
	return stateLabels[StateUnknown]
}

// Known reports whether s is one of the enumerated ESI states.
func (s State) Known() bool {
	_, ok := stateLabels[s]
	return ok
}

// Structure is one monitored corporation structure.
//
// ID is the only join key between snapshots.
type Structure struct {
	ID            int64      `json:"structure_id"`
	Name          string     `json:"name"`
	State         State      `json:"state"`
	FuelExpires   *time.Time `json:"fuel_expires,omitempty"`
	TypeID        int64      `json:"type_id"`
	CorporationID int64      `json:"corporation_id"`
	SystemID      int64      `json:"system_id"`
	ReinforceHour int        `json:"reinforce_hour"`
	StateTimerEnd *time.Time `json:"state_timer_end,omitempty"`
}

// RemainingMinutes returns whole minutes of fuel left at the given instant,
// negative once the fuel has run out. Structures without a fuel timestamp
// report 0 so they fall in the most urgent bucket.
func (s Structure) RemainingMinutes(at time.Time) int64 {
	if s.FuelExpires == nil || s.FuelExpires.IsZero() {
		return 0
	}
	return int64(math.Floor(s.FuelExpires.Sub(at).Minutes()))
}

// Snapshot is the last persisted structure collection.
type Snapshot struct {
	TakenAt    time.Time           `json:"taken_at"`
	Structures map[int64]Structure `json:"-"`
}

// NewSnapshot indexes structures by ID. Later duplicates replace earlier ones.
func NewSnapshot(at time.Time, structures []Structure) Snapshot {
	m := make(map[int64]Structure, len(structures))
	for _, s := range structures {
		m[s.ID] = s
	}
	return Snapshot{TakenAt: at, Structures: m}
}

func (s Snapshot) Lookup(id int64) (Structure, bool) {
	st, ok := s.Structures[id]
	return st, ok
}

func (s Snapshot) Len() int { return len(s.Structures) }
