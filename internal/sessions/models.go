package sessions

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a calibration session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Method describes how the corrections for a session were obtained.
type Method string

const (
	MethodSequential Method = "sequential"
	MethodParallel   Method = "parallel"
	MethodShared     Method = "shared"
	MethodCached     Method = "cached"
)

// DaemonStopReason is the error message set on running sessions when the
// daemon shuts down before they finish.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusAborted,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// IsValid reports whether the status is one of the known lifecycle values.
func (s Status) IsValid() bool {
	_, ok := statusSet[s]
	return ok
}

// IsTerminal reports whether the session has finished.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusAborted
}

// ParseStatus normalizes a stored status string.
func ParseStatus(raw string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := statusSet[status]
	return status, ok
}

// UnitOutcome captures how a single unit fared within a session.
type UnitOutcome struct {
	Unit           string  `json:"unit"`
	Role           string  `json:"role"`
	Attempts       int     `json:"attempts"`
	DurationMillis int64   `json:"duration_millis"`
	NoiseFloorDB   float64 `json:"noise_floor_db"`
	Succeeded      bool    `json:"succeeded"`
	Detail         string  `json:"detail,omitempty"`
}

// Session is one recorded calibration run.
type Session struct {
	ID           string
	Method       Method
	Status       Status
	CacheKey     string
	StartedAt    time.Time
	FinishedAt   *time.Time
	UnitOutcomes []UnitOutcome
	ErrorMessage string
}

// Duration returns the session runtime, zero while still running.
func (s *Session) Duration() time.Duration {
	if s == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// HealthSummary aggregates session counts for diagnostic output.
type HealthSummary struct {
	Total     int
	Running   int
	Succeeded int
	Failed    int
	Aborted   int
}
