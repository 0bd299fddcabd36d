package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"beamline/internal/calcache"
	"beamline/internal/config"
	"beamline/internal/coordinator"
	"beamline/internal/daemon"
	"beamline/internal/firmware"
	"beamline/internal/ipc"
	"beamline/internal/logging"
	"beamline/internal/preflight"
	"beamline/internal/sessions"
	"beamline/internal/supervisor"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the beamline daemon runtime loop. It blocks until the context
// is canceled or an interrupt signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("beamline-%s.log", runID))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update beamline.log link: %v\n", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "beamlined.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := sessions.Open(cfg)
	if err != nil {
		logger.Error("open session store", logging.Error(err))
		return err
	}
	defer store.Close()

	cache := calcache.New(cfg.Paths.CacheFile, logger)
	backend := firmware.NewTCP(logger, firmware.WithTimeout(firmwareTimeout(cfg)))
	coord := coordinator.New(cfg, backend, cache, store, logger)
	services := supervisor.New(logger)

	d, err := daemon.New(cfg, coord, services, cache, store, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check receiver connections and directory permissions"),
			logging.String(logging.FieldImpact, "array will not calibrate or track"),
		)
	}

	<-signalCtx.Done()
	logger.Info("beamline daemon shutting down")
	return nil
}

// firmwareTimeout covers a full frequency sweep, so it scales with the
// configured sample window and sweep width.
func firmwareTimeout(cfg *config.Config) time.Duration {
	cal := cfg.Calibration
	window := time.Duration(cal.SampleWindowMillis) * time.Millisecond
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	steps := int64(1)
	if cal.FrequencyStepHz > 0 && cal.FrequencyStopHz > cal.FrequencyStartHz {
		steps += int64((cal.FrequencyStopHz - cal.FrequencyStartHz) / cal.FrequencyStepHz)
	}
	return time.Duration(steps)*window*2 + 30*time.Second
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "beamline.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []any{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("dual_mode", cfg.Calibration.DualMode),
		logging.Int("units", len(cfg.ActiveUnits())),
	}
	for _, status := range preflight.CheckSystemDeps(context.Background(), cfg) {
		attrs = append(attrs, logging.Bool(filepath.Base(status.Command)+"_available", status.Available))
	}
	logger.Info("dependency snapshot", attrs...)
}
