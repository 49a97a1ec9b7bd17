package monitor

import "structwatch/internal/model"

// Alert is a semantic change derived from one poll. The concrete types are
// NewStructure, StateChanged, FuelCrossing and GenericEvent.
type Alert interface {
	// StructureID is the structure the alert is about (0 when unknown).
	StructureID() int64
	alert()
}

// NewStructure reports a structure that was not in the previous snapshot.
type NewStructure struct {
	ID int64
}

// StateChanged reports a lifecycle transition. On a first run Old equals New
// and the alert only flags a non-nominal state.
type StateChanged struct {
	ID  int64
	Old model.State
	New model.State
}

// Direction tells which way a fuel value crossed its threshold.
type Direction int

const (
	// Down means fuel dropped to or below the threshold.
	Down Direction = iota
	// Up means fuel was topped up above the threshold.
	Up
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// FuelCrossing reports fuel moving across one of the fixed thresholds.
type FuelCrossing struct {
	ID        int64
	Direction Direction
	Threshold Threshold
	Remaining int64 // minutes at the time of the poll
}

// GenericEvent wraps a deduplicated notification.
type GenericEvent struct {
	Category     string
	Notification model.Notification
}

func (a NewStructure) StructureID() int64 { return a.ID }
func (a StateChanged) StructureID() int64 { return a.ID }
func (a FuelCrossing) StructureID() int64 { return a.ID }
func (a GenericEvent) StructureID() int64 {
	id, _ := a.Notification.StructureID()
	return id
}

func (NewStructure) alert() {}
func (StateChanged) alert() {}
func (FuelCrossing) alert() {}
func (GenericEvent) alert() {}
