package radar

import "math"

// RangeWindow is an inclusive [Min, Max] range gate in meters.
type RangeWindow struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultRangeWindow returns the default 0-100 m window.
func DefaultRangeWindow() RangeWindow {
	return RangeWindow{Min: 0.0, Max: 100.0}
}

// Contains reports whether r lies inside the window, bounds included.
func (w RangeWindow) Contains(r float64) bool {
	return r >= w.Min && r <= w.Max
}

// FilterRange returns a new batch holding only the targets inside the
// window. Surviving targets are re-indexed 0..k-1 in their original order.
func FilterRange(b Batch, w RangeWindow) Batch {
	out := Batch{
		FrameID:   b.FrameID,
		Timestamp: b.Timestamp,
		Targets:   make([]Target, 0, len(b.Targets)),
	}
	for _, t := range b.Targets {
		if !w.Contains(t.Range) {
			continue
		}
		t.TargetID = len(out.Targets)
		out.Targets = append(out.Targets, t)
	}
	return out
}

// SpeedPolicy gates targets on their ego-motion compensated speed.
//
// Each threshold is only active when set. MaxSpeed keeps slow targets
// (|s| < MaxSpeed) and MinSpeed keeps fast targets (|s| > MinSpeed). The two
// gates are evaluated independently: a target passing either one is kept.
type SpeedPolicy struct {
	MinSpeed *float64 `json:"min_speed,omitempty"`
	MaxSpeed *float64 `json:"max_speed,omitempty"`

	// PassThroughUnfiltered keeps every target when neither threshold is
	// set. When false (the default) such targets are all dropped.
	PassThroughUnfiltered bool `json:"pass_through_unfiltered,omitempty"`
}

// FilterMoving reports whether the moving-target filter is active.
func (p SpeedPolicy) FilterMoving() bool { return p.MaxSpeed != nil }

// FilterStationary reports whether the stationary-target filter is active.
func (p SpeedPolicy) FilterStationary() bool { return p.MinSpeed != nil }

// Admit applies the policy to a projected speed.
func (p SpeedPolicy) Admit(projSpeed float64) bool {
	speed := math.Abs(projSpeed)
	if p.FilterMoving() && speed < *p.MaxSpeed {
		return true
	}
	if p.FilterStationary() && speed > *p.MinSpeed {
		return true
	}
	if !p.FilterMoving() && !p.FilterStationary() {
		return p.PassThroughUnfiltered
	}
	return false
}
