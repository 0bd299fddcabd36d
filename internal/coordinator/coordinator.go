package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"beamline/internal/calcache"
	"beamline/internal/calibration"
	"beamline/internal/config"
	"beamline/internal/firmware"
	"beamline/internal/logging"
	"beamline/internal/sessions"
)

// ErrMasterNotTracking rejects slave work while the master unit is not
// delivering corrections.
var ErrMasterNotTracking = errors.New("master unit is not tracking")

// ErrCalibrationInProgress rejects overlapping calibration runs.
var ErrCalibrationInProgress = errors.New("calibration already in progress")

// Backend is the firmware surface the coordinator drives.
type Backend interface {
	Calibrate(ctx context.Context, unit config.Unit, plan calibration.Plan, opts firmware.CalibrateOptions) (calibration.Result, error)
	SetNoiseSource(ctx context.Context, unit config.Unit, enabled bool) error
	SyncStatus(ctx context.Context, unit config.Unit) (firmware.SyncReport, error)
}

type unitState struct {
	state          State
	detail         string
	result         calibration.Result
	hasResult      bool
	lastCalibrated time.Time
	syncFailures   int
}

// Coordinator owns per-unit calibration state for the array.
type Coordinator struct {
	cfg      *config.Config
	backend  Backend
	cache    *calcache.Store
	sessions *sessions.Store
	logger   *slog.Logger

	mu      sync.Mutex
	units   map[string]*unitState
	changed chan struct{}
	running bool
}

// New builds a coordinator with every configured unit idle. The session
// store may be nil, in which case history recording is skipped.
func New(cfg *config.Config, backend Backend, cache *calcache.Store, history *sessions.Store, logger *slog.Logger) *Coordinator {
	units := make(map[string]*unitState, len(cfg.Units))
	for _, unit := range cfg.ActiveUnits() {
		units[unit.Name] = &unitState{state: StateIdle}
	}
	return &Coordinator{
		cfg:      cfg,
		backend:  backend,
		cache:    cache,
		sessions: history,
		logger:   logging.NewComponentLogger(logger, "coordinator"),
		units:    units,
		changed:  make(chan struct{}),
	}
}

// Plan returns the frequency sweep derived from configuration.
func (c *Coordinator) Plan() calibration.Plan {
	cal := c.cfg.Calibration
	return calibration.Plan{
		FrequencyStartHz: cal.FrequencyStartHz,
		FrequencyStopHz:  cal.FrequencyStopHz,
		FrequencyStepHz:  cal.FrequencyStepHz,
		SampleCount:      cal.SampleCount,
		SampleWindow:     time.Duration(cal.SampleWindowMillis) * time.Millisecond,
	}
}

// State returns the current state of a unit, StateIdle for unknown names.
func (c *Coordinator) State(unit string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if us, ok := c.units[unit]; ok {
		return us.state
	}
	return StateIdle
}

// Result returns a unit's most recent accepted corrections.
func (c *Coordinator) Result(unit string) (calibration.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	us, ok := c.units[unit]
	if !ok || !us.hasResult {
		return calibration.Result{}, false
	}
	return us.result, true
}

// Status reports every unit in configuration order.
func (c *Coordinator) Status() []UnitStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := make([]UnitStatus, 0, len(c.units))
	for _, unit := range c.cfg.ActiveUnits() {
		us, ok := c.units[unit.Name]
		if !ok {
			continue
		}
		status := UnitStatus{
			Unit:           unit.Name,
			Role:           unit.Role,
			State:          us.state,
			Detail:         us.detail,
			LastCalibrated: us.lastCalibrated,
			SyncFailures:   us.syncFailures,
		}
		if us.hasResult {
			status.Channels = us.result.Channels()
			status.NoiseFloorDB = us.result.NoiseFloorDB
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// MasterTracking reports whether the master unit is delivering corrections.
func (c *Coordinator) MasterTracking() bool {
	return c.State(c.cfg.MasterUnit().Name) == StateTracking
}

// WaitForTracking blocks until the unit reaches tracking. It fails fast when
// the unit enters the failed state rather than waiting out the context.
func (c *Coordinator) WaitForTracking(ctx context.Context, unit string) error {
	for {
		c.mu.Lock()
		us, ok := c.units[unit]
		if !ok {
			c.mu.Unlock()
			return fmt.Errorf("unknown unit %q", unit)
		}
		state := us.state
		detail := us.detail
		waitCh := c.changed
		c.mu.Unlock()

		switch state {
		case StateTracking:
			return nil
		case StateFailed:
			if detail == "" {
				detail = "calibration failed"
			}
			return fmt.Errorf("unit %s failed: %s", unit, detail)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s to track: %w", unit, ctx.Err())
		case <-waitCh:
		}
	}
}

// Reset returns a failed unit to idle so it can calibrate again.
func (c *Coordinator) Reset(unit string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	us, ok := c.units[unit]
	if !ok {
		return fmt.Errorf("unknown unit %q", unit)
	}
	if us.state != StateFailed && us.state != StateTracking {
		return nil
	}
	c.setStateLocked(unit, StateIdle, "reset")
	us.syncFailures = 0
	return nil
}

// recoverFailed returns failed units to idle so a new attempt can drive them
// through the normal lifecycle. Without this a failed unit would block the
// calibrating transition and stay failed even after a successful sweep.
func (c *Coordinator) recoverFailed(units ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(units) == 0 {
		for name := range c.units {
			units = append(units, name)
		}
	}
	for _, name := range units {
		us, ok := c.units[name]
		if !ok || us.state != StateFailed {
			continue
		}
		c.setStateLocked(name, StateIdle, "recalibrating after failure")
		us.syncFailures = 0
	}
}

// setStateLocked applies a transition and wakes waiters. Callers hold c.mu.
func (c *Coordinator) setStateLocked(unit string, to State, detail string) {
	us, ok := c.units[unit]
	if !ok {
		return
	}
	from := us.state
	if from == to {
		us.detail = detail
		return
	}
	if !transitionAllowed(from, to) {
		c.logger.Warn("blocked state transition",
			logging.String(logging.FieldUnit, unit),
			logging.String("from", string(from)),
			logging.String("to", string(to)))
		return
	}
	us.state = to
	us.detail = detail
	c.logger.Info("unit state changed",
		logging.String(logging.FieldUnit, unit),
		logging.String("from", string(from)),
		logging.String("to", string(to)),
		logging.String("detail", detail))

	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Coordinator) setState(unit string, to State, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(unit, to, detail)
}

func (c *Coordinator) adoptResult(unit string, result calibration.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	us, ok := c.units[unit]
	if !ok {
		return
	}
	us.result = result
	us.hasResult = true
	us.lastCalibrated = result.MeasuredAt
	us.syncFailures = 0
}
