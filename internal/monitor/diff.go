package monitor

import (
	"time"

	"structwatch/internal/model"
)

// Threshold is a fixed fuel boundary in minutes.
type Threshold int64

const (
	// ThresholdCritical is reached when the structure is out of fuel.
	ThresholdCritical Threshold = 0
	// ThresholdWarning is the three-day warning window.
	ThresholdWarning Threshold = 3 * 24 * 60
)

// thresholds is ordered most severe first.
var thresholds = [...]Threshold{ThresholdCritical, ThresholdWarning}

func (t Threshold) String() string {
	if t == ThresholdCritical {
		return "critical"
	}
	return "warning"
}

func (t Threshold) reached(minutes int64) bool { return minutes <= int64(t) }

// Diff compares the current structure collection against the previous
// snapshot and returns the alerts for this poll in input order.
//
// firstRun means there is no real baseline: state alerts only flag
// non-nominal states and fuel is judged on the current value alone.
func Diff(old model.Snapshot, cur []model.Structure, firstRun bool, now time.Time) []Alert {
	var out []Alert
	for _, s := range cur {
		prev, ok := old.Lookup(s.ID)
		if !ok {
			out = append(out, NewStructure{ID: s.ID})
			continue
		}

		remaining := s.RemainingMinutes(now)
		if firstRun {
			if s.State != model.StateNominal {
				out = append(out, StateChanged{ID: s.ID, Old: prev.State, New: s.State})
			}
			if t, ok := levelThreshold(remaining); ok {
				out = append(out, FuelCrossing{ID: s.ID, Direction: Down, Threshold: t, Remaining: remaining})
			}
			continue
		}

		if prev.State != s.State {
			out = append(out, StateChanged{ID: s.ID, Old: prev.State, New: s.State})
		}
		before := prev.RemainingMinutes(old.TakenAt)
		if c, ok := crossing(before, remaining); ok {
			c.ID = s.ID
			out = append(out, c)
		}
	}
	return out
}

// levelThreshold returns the most severe threshold the value sits at or below.
func levelThreshold(minutes int64) (Threshold, bool) {
	for _, t := range thresholds {
		if t.reached(minutes) {
			return t, true
		}
	}
	return 0, false
}

// crossing reports at most one crossing between two observations. When a
// single poll jumps over both thresholds the most severe one wins going down
// and the least severe one wins going up (the structure is fully refuelled).
func crossing(before, after int64) (FuelCrossing, bool) {
	switch {
	case after < before:
		for _, t := range thresholds {
			if t.reached(after) && !t.reached(before) {
				return FuelCrossing{Direction: Down, Threshold: t, Remaining: after}, true
			}
		}
	case after > before:
		for i := len(thresholds) - 1; i >= 0; i-- {
			t := thresholds[i]
			if t.reached(before) && !t.reached(after) {
				return FuelCrossing{Direction: Up, Threshold: t, Remaining: after}, true
			}
		}
	}
	return FuelCrossing{}, false
}
