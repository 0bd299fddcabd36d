package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"beamline/internal/calcache"
	"beamline/internal/config"
	"beamline/internal/coordinator"
	"beamline/internal/deps"
	"beamline/internal/logging"
	"beamline/internal/preflight"
	"beamline/internal/sessions"
	"beamline/internal/supervisor"
)

const syncCheckInterval = 5 * time.Second

// Daemon coordinates the array services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	coord    *coordinator.Coordinator
	services *supervisor.Supervisor
	cache    *calcache.Store
	store    *sessions.Store
	logPath  string

	lockPath string
	lock     *flock.Flock

	usb *usbMonitor

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr atomic.Value
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	LockFilePath  string
	CachePath     string
	LastError     string
	USBMonitoring bool
	Units         []coordinator.UnitStatus
	Services      []supervisor.ServiceStatus
	Sessions      sessions.HealthSummary
	Dependencies  []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, coord *coordinator.Coordinator, services *supervisor.Supervisor, cache *calcache.Store, store *sessions.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || coord == nil || services == nil {
		return nil, errors.New("daemon requires config, coordinator, and supervisor")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "beamlined.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		coord:    coord,
		services: services,
		cache:    cache,
		store:    store,
		logPath:  filepath.Join(cfg.Paths.LogDir, "beamline.log"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.usb = newUSBMonitor(logger, d.handleUSBEvent)
	return d, nil
}

// Start acquires the instance lock, verifies preflight, launches the
// acquisition services, and kicks off calibration. Service launch failures
// fail Start instead of surfacing later as a half-running array.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another beamline daemon instance is already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		_ = d.lock.Unlock()
		return err
	}
	if err := preflight.Summarize(preflight.RunAll(ctx, d.cfg)); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := d.startAcquisition(runCtx); err != nil {
		_ = d.services.StopAll()
		_ = d.lock.Unlock()
		cancel()
		return err
	}

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	d.running.Store(true)
	d.lastErr.Store("")
	_ = d.usb.Start(runCtx)

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.calibrateAndServe(runCtx)
	}()
	go func() {
		defer d.wg.Done()
		d.syncLoop(runCtx)
	}()

	d.logger.Info("beamline daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("units", len(d.cfg.ActiveUnits())))
	return nil
}

// startAcquisition launches one acquisition daemon per active unit and waits
// for each control port to answer.
func (d *Daemon) startAcquisition(ctx context.Context) error {
	for _, spec := range AcquisitionSpecs(d.cfg) {
		if err := d.services.Start(ctx, spec); err != nil {
			return fmt.Errorf("launch acquisition: %w", err)
		}
	}
	return nil
}

// calibrateAndServe runs the initial calibration and brings up the GUI once
// the master is tracking. Failures here are recorded and alerted, not
// retried; the operator recalibrates explicitly.
func (d *Daemon) calibrateAndServe(ctx context.Context) {
	if _, err := d.coord.Calibrate(ctx, coordinator.RunOptions{}); err != nil {
		d.recordError(err)
		d.logger.Error("startup calibration failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "startup_calibration_failed"),
			logging.String(logging.FieldImpact, "direction finding unavailable"),
			logging.String(logging.FieldErrorHint, "fix the array and run beamline calibrate"),
			logging.Bool(logging.FieldAlert, true))
		return
	}

	master := d.cfg.MasterUnit().Name
	if err := d.coord.WaitForTracking(ctx, master); err != nil {
		d.recordError(err)
		return
	}

	if err := d.services.Start(ctx, GUISpec(d.cfg)); err != nil {
		d.recordError(err)
		d.logger.Error("GUI launch failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "gui_launch_failed"),
			logging.String(logging.FieldImpact, "web interface unavailable"),
			logging.Bool(logging.FieldAlert, true))
		return
	}
	if d.cfg.Services.RelayEnabled {
		if err := d.services.Start(ctx, RelaySpec(d.cfg)); err != nil {
			d.recordError(err)
			d.logger.Warn("bearing relay launch failed", logging.Error(err))
		}
	}
}

// syncLoop watches channel coherence while units are tracking.
func (d *Daemon) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(syncCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.coord.CheckSync(ctx)
		}
	}
}

// Stop shuts down services and releases the daemon lock. Safe to call when
// already stopped.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.usb.Stop()

	if err := d.services.StopAll(); err != nil {
		d.logger.Warn("service shutdown incomplete", logging.Error(err))
	}
	if d.store != nil {
		if _, err := d.store.AbortRunning(context.Background(), sessions.DaemonStopReason); err != nil {
			d.logger.Warn("failed to abort running sessions", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("beamline daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Calibrate triggers a calibration run over the live array.
func (d *Daemon) Calibrate(ctx context.Context, force bool) (*coordinator.Outcome, error) {
	if !d.running.Load() {
		return nil, errors.New("daemon not running")
	}
	outcome, err := d.coord.Calibrate(ctx, coordinator.RunOptions{Force: force})
	if err != nil {
		d.recordError(err)
		return nil, err
	}
	return outcome, nil
}

// CacheClear drops all cached calibrations.
func (d *Daemon) CacheClear() error {
	if d.cache == nil {
		return errors.New("cache unavailable")
	}
	return d.cache.Clear()
}

// Sessions lists recent calibration sessions, newest first.
func (d *Daemon) Sessions(ctx context.Context, limit int) ([]*sessions.Session, error) {
	if d.store == nil {
		return nil, errors.New("session store unavailable")
	}
	return d.store.List(ctx, limit)
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		LockFilePath:  d.lockPath,
		USBMonitoring: d.usb.Running(),
		Units:         d.coord.Status(),
		Services:      d.services.Status(),
		Dependencies:  preflight.CheckSystemDeps(ctx, d.cfg),
	}
	if lastErr, ok := d.lastErr.Load().(string); ok {
		status.LastError = lastErr
	}
	if d.cache != nil {
		status.CachePath = d.cache.Path()
	}
	if d.store != nil {
		if health, err := d.store.Health(ctx); err == nil {
			status.Sessions = health
		}
	}
	return status
}

func (d *Daemon) recordError(err error) {
	if err != nil {
		d.lastErr.Store(err.Error())
	}
}

// handleUSBEvent reacts to receiver hardware appearing or vanishing.
func (d *Daemon) handleUSBEvent(action, device string) {
	switch action {
	case "remove":
		d.logger.Error("receiver hardware removed",
			logging.String("device", device),
			logging.String(logging.FieldEventType, "usb_removed"),
			logging.String(logging.FieldImpact, "array coherence lost until the unit returns"),
			logging.Bool(logging.FieldAlert, true))
	case "add":
		d.logger.Info("receiver hardware attached",
			logging.String("device", device),
			logging.String(logging.FieldEventType, "usb_attached"))
	}
}
