package calibration

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Status represents the lifecycle of a calibration result.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCalibrated Status = "calibrated"
	StatusFailed     Status = "failed"
)

var statusSet = map[Status]struct{}{
	StatusPending:    {},
	StatusInProgress: {},
	StatusCalibrated: {},
	StatusFailed:     {},
}

// ParseStatus maps a string onto a Status, reporting whether it is known.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[status]
	return status, ok
}

// Result holds the per-channel corrections computed for one unit (or for the
// shared stimulus source).
type Result struct {
	AmplitudeCorrectionsDB []float64     `json:"amplitude_corrections_db"`
	TimeDelayCorrectionsNs []float64     `json:"time_delay_corrections_ns"`
	NoiseFloorDB           float64       `json:"noise_floor_db"`
	Status                 Status        `json:"status"`
	MeasuredAt             time.Time     `json:"measured_at"`
	Duration               time.Duration `json:"duration_ns"`
}

// Channels reports the number of receiver channels covered by the result.
func (r Result) Channels() int {
	return len(r.AmplitudeCorrectionsDB)
}

// Validate checks internal consistency of a calibrated result.
func (r Result) Validate() error {
	if r.Status != StatusCalibrated {
		return fmt.Errorf("result status is %q, not calibrated", r.Status)
	}
	if len(r.AmplitudeCorrectionsDB) == 0 {
		return fmt.Errorf("result has no amplitude corrections")
	}
	if len(r.AmplitudeCorrectionsDB) != len(r.TimeDelayCorrectionsNs) {
		return fmt.Errorf("correction channel mismatch: %d amplitude vs %d delay",
			len(r.AmplitudeCorrectionsDB), len(r.TimeDelayCorrectionsNs))
	}
	return nil
}

// WithinTolerance reports whether every correction stays inside the
// configured quality bounds. Tolerance is a calibration-quality parameter;
// it is intentionally separate from the retry budget for transient faults.
func (r Result) WithinTolerance(amplitudeToleranceDB, delayToleranceNs float64) bool {
	for _, corr := range r.AmplitudeCorrectionsDB {
		if math.Abs(corr) > amplitudeToleranceDB {
			return false
		}
	}
	for _, corr := range r.TimeDelayCorrectionsNs {
		if math.Abs(corr) > delayToleranceNs {
			return false
		}
	}
	return true
}

// AverageShared merges two per-unit results measured against the common
// noise source. Arrays fed from one stimulus through a clock splitter see the
// same reference, so averaging suppresses uncorrelated measurement noise.
// Both results must be calibrated and channel-aligned.
func AverageShared(a, b Result) (Result, error) {
	if err := a.Validate(); err != nil {
		return Result{}, fmt.Errorf("first result: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Result{}, fmt.Errorf("second result: %w", err)
	}
	if a.Channels() != b.Channels() {
		return Result{}, fmt.Errorf("channel count mismatch: %d vs %d", a.Channels(), b.Channels())
	}

	merged := Result{
		AmplitudeCorrectionsDB: make([]float64, a.Channels()),
		TimeDelayCorrectionsNs: make([]float64, a.Channels()),
		NoiseFloorDB:           (a.NoiseFloorDB + b.NoiseFloorDB) / 2,
		Status:                 StatusCalibrated,
		MeasuredAt:             laterTime(a.MeasuredAt, b.MeasuredAt),
	}
	for i := range merged.AmplitudeCorrectionsDB {
		merged.AmplitudeCorrectionsDB[i] = (a.AmplitudeCorrectionsDB[i] + b.AmplitudeCorrectionsDB[i]) / 2
		merged.TimeDelayCorrectionsNs[i] = (a.TimeDelayCorrectionsNs[i] + b.TimeDelayCorrectionsNs[i]) / 2
	}
	return merged, nil
}

func laterTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
