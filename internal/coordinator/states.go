package coordinator

import (
	"time"

	"beamline/internal/calibration"
)

// State is a unit's position in the calibration lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateCalibrating State = "calibrating"
	StateTracking    State = "tracking"
	StateFailed      State = "failed"
)

var allowedTransitions = map[State][]State{
	StateIdle:        {StateCalibrating},
	StateCalibrating: {StateTracking, StateFailed, StateIdle},
	StateTracking:    {StateCalibrating, StateFailed, StateIdle},
	StateFailed:      {StateIdle},
}

func transitionAllowed(from, to State) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// UnitStatus is a point-in-time view of one unit.
type UnitStatus struct {
	Unit           string
	Role           string
	State          State
	Detail         string
	Channels       int
	NoiseFloorDB   float64
	LastCalibrated time.Time
	SyncFailures   int
}

// Outcome summarizes a completed calibration run.
type Outcome struct {
	SessionID  string
	FromCache  bool
	Shared     bool
	CacheKey   string
	PerUnit    map[string]calibration.Result
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time of the run.
func (o *Outcome) Duration() time.Duration {
	if o == nil {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}
