package ipc

import "time"

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the daemon.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// UnitStatus mirrors coordinator state for one receiver unit.
type UnitStatus struct {
	Unit           string    `json:"unit"`
	Role           string    `json:"role"`
	State          string    `json:"state"`
	Detail         string    `json:"detail"`
	Channels       int       `json:"channels"`
	NoiseFloorDB   float64   `json:"noise_floor_db"`
	LastCalibrated time.Time `json:"last_calibrated"`
	SyncFailures   int       `json:"sync_failures"`
}

// ServiceStatus mirrors supervisor state for one managed process.
type ServiceStatus struct {
	Name         string `json:"name"`
	Unit         string `json:"unit"`
	Running      bool   `json:"running"`
	PID          int    `json:"pid"`
	UptimeMillis int64  `json:"uptime_millis"`
}

// DependencyStatus describes availability of an external binary.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail"`
	Severity    string `json:"severity,omitempty"`
}

// SessionSummary aggregates calibration session history.
type SessionSummary struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Aborted   int `json:"aborted"`
}

// StatusResponse represents combined daemon status information.
type StatusResponse struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	LockPath      string             `json:"lock_path"`
	CachePath     string             `json:"cache_path"`
	LastError     string             `json:"last_error"`
	USBMonitoring bool               `json:"usb_monitoring"`
	Units         []UnitStatus       `json:"units"`
	Services      []ServiceStatus    `json:"services"`
	Sessions      SessionSummary     `json:"sessions"`
	Dependencies  []DependencyStatus `json:"dependencies"`
}

// CalibrateRequest triggers a calibration run.
type CalibrateRequest struct {
	Force bool `json:"force"`
}

// CalibrateResponse summarizes a completed run.
type CalibrateResponse struct {
	SessionID      string  `json:"session_id"`
	FromCache      bool    `json:"from_cache"`
	Shared         bool    `json:"shared"`
	Units          int     `json:"units"`
	DurationMillis int64   `json:"duration_millis"`
	NoiseFloors    []Floor `json:"noise_floors"`
}

// Floor is one unit's measured noise floor.
type Floor struct {
	Unit         string  `json:"unit"`
	NoiseFloorDB float64 `json:"noise_floor_db"`
}

// CacheClearRequest drops cached calibrations.
type CacheClearRequest struct{}

// CacheClearResponse reports cache clear result.
type CacheClearResponse struct {
	Cleared bool `json:"cleared"`
}

// SessionListRequest fetches recent calibration sessions.
type SessionListRequest struct {
	Limit int `json:"limit"`
}

// SessionRecord is one calibration session on the wire.
type SessionRecord struct {
	ID             string    `json:"id"`
	Method         string    `json:"method"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	DurationMillis int64     `json:"duration_millis"`
	Units          int       `json:"units"`
	ErrorMessage   string    `json:"error_message"`
}

// SessionListResponse contains session history entries.
type SessionListResponse struct {
	Sessions []SessionRecord `json:"sessions"`
}
