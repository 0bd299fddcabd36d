package coordinator

import (
	"context"

	"beamline/internal/logging"
)

// CheckSync polls coherence on every tracking unit. Consecutive failures
// accumulate per unit; crossing the configured threshold moves the unit to
// failed instead of letting it track on drifted samples. A clean report
// resets the counter.
func (c *Coordinator) CheckSync(ctx context.Context) []UnitStatus {
	threshold := c.cfg.Calibration.SyncFailureThreshold

	for _, unit := range c.cfg.ActiveUnits() {
		if c.State(unit.Name) != StateTracking {
			continue
		}

		report, err := c.backend.SyncStatus(ctx, unit)
		healthy := err == nil && report.Synced()

		c.mu.Lock()
		us, ok := c.units[unit.Name]
		if !ok {
			c.mu.Unlock()
			continue
		}
		if healthy {
			us.syncFailures = 0
			c.mu.Unlock()
			continue
		}

		us.syncFailures++
		failures := us.syncFailures
		if failures >= threshold {
			c.setStateLocked(unit.Name, StateFailed, "sync failures exceeded threshold")
			us.syncFailures = 0
		}
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn("sync check failed",
				logging.String(logging.FieldUnit, unit.Name),
				logging.Int("consecutive", failures),
				logging.Error(err))
		} else {
			c.logger.Warn("unit out of sync",
				logging.String(logging.FieldUnit, unit.Name),
				logging.Int("consecutive", failures),
				logging.Int64("sample_offset", report.SampleOffset))
		}
	}

	return c.Status()
}
