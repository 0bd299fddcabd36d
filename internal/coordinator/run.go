package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"beamline/internal/calcache"
	"beamline/internal/calibration"
	"beamline/internal/config"
	"beamline/internal/firmware"
	"beamline/internal/logging"
	"beamline/internal/sessions"
)

// RunOptions tunes a calibration run.
type RunOptions struct {
	// Force skips the cache lookup and always performs a fresh sweep.
	Force bool
}

// Calibrate runs the full array calibration: cache lookup, master sweep,
// then slave sweeps once the master is tracking. Only one run may be active
// at a time.
func (c *Coordinator) Calibrate(ctx context.Context, opts RunOptions) (*Outcome, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrCalibrationInProgress
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	c.recoverFailed()

	plan := c.Plan()
	key := calcache.Key(c.cfg, plan)
	started := time.Now()

	if outcome := c.tryCached(ctx, key, opts, started); outcome != nil {
		return outcome, nil
	}

	session := c.beginSession(ctx, c.runMethod(), key)
	outcome := &Outcome{
		SessionID: sessionID(session),
		Shared:    c.cfg.Calibration.SharedStim,
		CacheKey:  key,
		PerUnit:   make(map[string]calibration.Result),
		StartedAt: started,
	}

	master := c.cfg.MasterUnit()
	// With a shared stimulus the master's noise source keeps feeding every
	// unit until the slaves are done, so it is released here rather than at
	// the end of the master sweep.
	if c.cfg.Calibration.SharedStim {
		defer func() {
			if err := c.backend.SetNoiseSource(context.WithoutCancel(ctx), master, false); err != nil {
				c.logger.Warn("noise source disable failed",
					logging.String(logging.FieldUnit, master.Name),
					logging.Error(err))
			}
		}()
	}

	masterOutcome, err := c.calibrateMaster(ctx, master, plan)
	outcomes := []sessions.UnitOutcome{masterOutcome}
	if err != nil {
		c.finishSession(ctx, session, sessions.StatusFailed, outcomes, err.Error())
		return nil, err
	}
	masterResult, _ := c.Result(master.Name)
	outcome.PerUnit[master.Name] = masterResult

	slaves := c.cfg.SlaveUnits()
	if len(slaves) > 0 {
		slaveOutcomes, slaveErr := c.calibrateSlaves(ctx, slaves, plan, masterResult)
		outcomes = append(outcomes, slaveOutcomes...)
		if slaveErr != nil {
			c.finishSession(ctx, session, sessions.StatusFailed, outcomes, slaveErr.Error())
			return nil, slaveErr
		}
		for _, slave := range slaves {
			if result, ok := c.Result(slave.Name); ok {
				outcome.PerUnit[slave.Name] = result
			}
		}
	}

	outcome.FinishedAt = time.Now()
	c.storeInCache(key, outcome, masterResult)
	c.finishSession(ctx, session, sessions.StatusSucceeded, outcomes, "")
	c.logger.Info("calibration run complete",
		logging.String(logging.FieldEventType, "calibration_complete"),
		logging.Int("units", len(outcome.PerUnit)),
		logging.Duration("elapsed", outcome.Duration()))
	return outcome, nil
}

// CalibrateUnit calibrates a single unit on demand. Slaves are rejected with
// ErrMasterNotTracking while the master has no corrections in effect.
func (c *Coordinator) CalibrateUnit(ctx context.Context, name string) error {
	unit, ok := c.lookupUnit(name)
	if !ok {
		return fmt.Errorf("unknown unit %q", name)
	}
	c.recoverFailed(name)
	plan := c.Plan()

	if unit.Role == string(config.RoleMaster) {
		_, err := c.calibrateMaster(ctx, unit, plan)
		return err
	}
	if !c.MasterTracking() {
		return fmt.Errorf("cannot calibrate slave %s: %w", name, ErrMasterNotTracking)
	}

	masterResult, _ := c.Result(c.cfg.MasterUnit().Name)
	_, err := c.calibrateSlave(ctx, unit, plan, masterResult)
	return err
}

func (c *Coordinator) runMethod() sessions.Method {
	cal := c.cfg.Calibration
	switch {
	case cal.SharedStim:
		return sessions.MethodShared
	case cal.Parallel && len(c.cfg.SlaveUnits()) > 0:
		return sessions.MethodParallel
	default:
		return sessions.MethodSequential
	}
}

// tryCached applies cached corrections to every unit. Returns nil when the
// cache is disabled, bypassed, stale, or does not cover the active units.
func (c *Coordinator) tryCached(ctx context.Context, key string, opts RunOptions, started time.Time) *Outcome {
	if c.cache == nil || !c.cfg.Calibration.UseCache || opts.Force {
		return nil
	}
	entry, ok, err := c.cache.Get(key)
	if err != nil {
		c.logger.Warn("cache lookup failed", logging.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	for _, unit := range c.cfg.ActiveUnits() {
		if _, covered := entry.PerUnit[unit.Name]; !covered {
			c.logger.Info("cache entry does not cover unit, recalibrating",
				logging.String(logging.FieldUnit, unit.Name))
			return nil
		}
	}

	session := c.beginSession(ctx, sessions.MethodCached, key)
	outcome := &Outcome{
		SessionID: sessionID(session),
		FromCache: true,
		CacheKey:  key,
		PerUnit:   make(map[string]calibration.Result),
		StartedAt: started,
	}
	outcomes := make([]sessions.UnitOutcome, 0, len(entry.PerUnit))
	for _, unit := range c.cfg.ActiveUnits() {
		result := entry.PerUnit[unit.Name]
		c.setState(unit.Name, StateCalibrating, "applying cached corrections")
		c.adoptResult(unit.Name, result)
		c.setState(unit.Name, StateTracking, "cached corrections")
		outcome.PerUnit[unit.Name] = result
		outcomes = append(outcomes, sessions.UnitOutcome{
			Unit:         unit.Name,
			Role:         unit.Role,
			NoiseFloorDB: result.NoiseFloorDB,
			Succeeded:    true,
			Detail:       "cached",
		})
	}
	outcome.FinishedAt = time.Now()
	c.finishSession(ctx, session, sessions.StatusSucceeded, outcomes, "")
	c.logger.Info("calibration served from cache",
		logging.String(logging.FieldEventType, "calibration_cached"),
		logging.Duration("age", entry.Age(time.Now())))
	return outcome
}

func (c *Coordinator) calibrateMaster(ctx context.Context, master config.Unit, plan calibration.Plan) (sessions.UnitOutcome, error) {
	c.setState(master.Name, StateCalibrating, "sweep in progress")

	if err := c.backend.SetNoiseSource(ctx, master, true); err != nil {
		failure := fmt.Errorf("enable noise source on %s: %w", master.Name, err)
		c.setState(master.Name, StateFailed, failure.Error())
		return failedOutcome(master, 0, failure), failure
	}
	// Without a shared stimulus the source only runs for the master sweep.
	if !c.cfg.Calibration.SharedStim {
		defer func() {
			if err := c.backend.SetNoiseSource(context.WithoutCancel(ctx), master, false); err != nil {
				c.logger.Warn("noise source disable failed",
					logging.String(logging.FieldUnit, master.Name),
					logging.Error(err))
			}
		}()
	}

	result, attempts, err := c.calibrateWithRetry(ctx, master, plan, firmware.CalibrateOptions{})
	if err != nil {
		failure := fmt.Errorf("master %s calibration: %w", master.Name, err)
		c.setState(master.Name, StateFailed, err.Error())
		return failedOutcome(master, attempts, err), failure
	}

	c.adoptResult(master.Name, result)
	c.setState(master.Name, StateTracking, "corrections in effect")
	return sessions.UnitOutcome{
		Unit:           master.Name,
		Role:           master.Role,
		Attempts:       attempts,
		DurationMillis: result.Duration.Milliseconds(),
		NoiseFloorDB:   result.NoiseFloorDB,
		Succeeded:      true,
	}, nil
}

func (c *Coordinator) calibrateSlaves(ctx context.Context, slaves []config.Unit, plan calibration.Plan, masterResult calibration.Result) ([]sessions.UnitOutcome, error) {
	outcomes := make([]sessions.UnitOutcome, len(slaves))
	errs := make([]error, len(slaves))

	run := func(i int, slave config.Unit) {
		outcomes[i], errs[i] = c.calibrateSlave(ctx, slave, plan, masterResult)
	}

	if c.cfg.Calibration.Parallel {
		var wg sync.WaitGroup
		for i, slave := range slaves {
			wg.Add(1)
			go func(i int, slave config.Unit) {
				defer wg.Done()
				run(i, slave)
			}(i, slave)
		}
		wg.Wait()
	} else {
		for i, slave := range slaves {
			run(i, slave)
		}
	}

	return outcomes, errors.Join(errs...)
}

func (c *Coordinator) calibrateSlave(ctx context.Context, slave config.Unit, plan calibration.Plan, masterResult calibration.Result) (sessions.UnitOutcome, error) {
	c.setState(slave.Name, StateCalibrating, "sweep in progress")

	opts := firmware.CalibrateOptions{ExternalStimulus: c.cfg.Calibration.SharedStim}
	result, attempts, err := c.calibrateWithRetry(ctx, slave, plan, opts)
	if err != nil {
		failure := fmt.Errorf("slave %s calibration: %w", slave.Name, err)
		c.setState(slave.Name, StateFailed, err.Error())
		return failedOutcome(slave, attempts, err), failure
	}

	if c.cfg.Calibration.SharedStim {
		averaged, avgErr := calibration.AverageShared(masterResult, result)
		if avgErr != nil {
			failure := fmt.Errorf("slave %s shared-stimulus averaging: %w", slave.Name, avgErr)
			c.setState(slave.Name, StateFailed, avgErr.Error())
			return failedOutcome(slave, attempts, avgErr), failure
		}
		result = averaged
	}

	c.adoptResult(slave.Name, result)
	c.setState(slave.Name, StateTracking, "corrections in effect")
	return sessions.UnitOutcome{
		Unit:           slave.Name,
		Role:           slave.Role,
		Attempts:       attempts,
		DurationMillis: result.Duration.Milliseconds(),
		NoiseFloorDB:   result.NoiseFloorDB,
		Succeeded:      true,
	}, nil
}

// calibrateWithRetry performs the sweep with bounded retries. Out-of-tolerance
// corrections and failed sweeps both consume an attempt; the budget never
// loosens the tolerance itself.
func (c *Coordinator) calibrateWithRetry(ctx context.Context, unit config.Unit, plan calibration.Plan, opts firmware.CalibrateOptions) (calibration.Result, int, error) {
	cal := c.cfg.Calibration
	maxAttempts := cal.MaxRetries + 1
	backoff := time.Duration(cal.RetryBackoffSeconds) * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			c.logger.Info("retrying calibration",
				logging.String(logging.FieldUnit, unit.Name),
				logging.Int("attempt", attempt),
				logging.Int("max_attempts", maxAttempts))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return calibration.Result{}, attempt - 1, ctx.Err()
			}
		}

		result, err := c.backend.Calibrate(ctx, unit, plan, opts)
		if err != nil {
			lastErr = err
			continue
		}
		if !result.WithinTolerance(cal.AmplitudeToleranceDB, cal.DelayToleranceNs) {
			lastErr = fmt.Errorf("corrections exceed tolerance (%.1f dB, %.0f ns)",
				cal.AmplitudeToleranceDB, cal.DelayToleranceNs)
			continue
		}
		return result, attempt, nil
	}
	return calibration.Result{}, maxAttempts, fmt.Errorf("no acceptable sweep in %d attempts: %w", maxAttempts, lastErr)
}

func (c *Coordinator) storeInCache(key string, outcome *Outcome, masterResult calibration.Result) {
	if c.cache == nil || !c.cfg.Calibration.UseCache {
		return
	}
	entry := calcache.Entry{
		TTLSeconds: c.cfg.Calibration.TTLSeconds,
		PerUnit:    outcome.PerUnit,
	}
	if c.cfg.Calibration.SharedStim {
		stimulus := masterResult
		entry.Stimulus = &stimulus
	}
	if err := c.cache.Put(key, entry); err != nil {
		c.logger.Warn("cache write failed", logging.Error(err))
	}
}

func (c *Coordinator) lookupUnit(name string) (config.Unit, bool) {
	for _, unit := range c.cfg.ActiveUnits() {
		if unit.Name == name {
			return unit, true
		}
	}
	return config.Unit{}, false
}

func (c *Coordinator) beginSession(ctx context.Context, method sessions.Method, key string) *sessions.Session {
	if c.sessions == nil {
		return nil
	}
	session, err := c.sessions.Begin(ctx, method, key)
	if err != nil {
		c.logger.Warn("session record failed", logging.Error(err))
		return nil
	}
	return session
}

func (c *Coordinator) finishSession(ctx context.Context, session *sessions.Session, status sessions.Status, outcomes []sessions.UnitOutcome, message string) {
	if c.sessions == nil || session == nil {
		return
	}
	if err := c.sessions.Finish(context.WithoutCancel(ctx), session.ID, status, outcomes, message); err != nil {
		c.logger.Warn("session finish failed", logging.Error(err))
	}
}

func sessionID(session *sessions.Session) string {
	if session == nil {
		return ""
	}
	return session.ID
}

func failedOutcome(unit config.Unit, attempts int, err error) sessions.UnitOutcome {
	return sessions.UnitOutcome{
		Unit:     unit.Name,
		Role:     unit.Role,
		Attempts: attempts,
		Detail:   err.Error(),
	}
}
