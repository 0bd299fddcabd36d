package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"beamline/internal/logging"
)

const (
	defaultStartTimeout  = 10 * time.Second
	defaultStopTimeout   = 5 * time.Second
	defaultProbeInterval = 200 * time.Millisecond
)

// ServiceSpec describes one managed service.
type ServiceSpec struct {
	// Name identifies the service to Start, Stop, and Status. Names are
	// unique within a supervisor.
	Name string
	// Unit is the receiver unit this service belongs to, empty for shared
	// services such as the GUI.
	Unit    string
	Command string
	Args    []string
	Dir     string
	Env     []string
	// LogPath receives combined stdout and stderr when set.
	LogPath string
	// Readiness gates Start completion. A nil probe means the service is
	// ready as soon as the process is running.
	Readiness     Probe
	StartTimeout  time.Duration
	StopTimeout   time.Duration
	ProbeInterval time.Duration
}

func (s ServiceSpec) startTimeout() time.Duration {
	if s.StartTimeout > 0 {
		return s.StartTimeout
	}
	return defaultStartTimeout
}

func (s ServiceSpec) stopTimeout() time.Duration {
	if s.StopTimeout > 0 {
		return s.StopTimeout
	}
	return defaultStopTimeout
}

func (s ServiceSpec) probeInterval() time.Duration {
	if s.ProbeInterval > 0 {
		return s.ProbeInterval
	}
	return defaultProbeInterval
}

// ServiceStatus is a point-in-time view of one managed service.
type ServiceStatus struct {
	Name      string
	Unit      string
	Running   bool
	PID       int
	StartedAt time.Time
	Uptime    time.Duration
}

type process struct {
	spec      ServiceSpec
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}
	waitErr   error
}

func (p *process) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Supervisor owns the lifecycle of the array services.
type Supervisor struct {
	mu       sync.Mutex
	logger   *slog.Logger
	procs    map[string]*process
	starting map[string]bool
	order    []string
}

// New creates an empty supervisor.
func New(logger *slog.Logger) *Supervisor {
	return &Supervisor{
		logger:   logging.NewComponentLogger(logger, "supervisor"),
		procs:    make(map[string]*process),
		starting: make(map[string]bool),
	}
}

// Start launches the service and waits for its readiness probe. Starting a
// service that is already running is a no-op. A service that exits before
// becoming ready fails the call with its exit status.
func (s *Supervisor) Start(ctx context.Context, spec ServiceSpec) error {
	if spec.Name == "" {
		return errors.New("service name must not be empty")
	}
	if spec.Command == "" {
		return fmt.Errorf("service %s has no command", spec.Name)
	}

	s.mu.Lock()
	if existing, ok := s.procs[spec.Name]; ok && existing.alive() {
		s.mu.Unlock()
		s.logger.Debug("service already running",
			logging.String(logging.FieldService, spec.Name),
			logging.Int("pid", existing.cmd.Process.Pid))
		return nil
	}
	// Claim the name before releasing the lock so two racing Start calls
	// cannot both launch and orphan one process.
	if s.starting[spec.Name] {
		s.mu.Unlock()
		return fmt.Errorf("service %s start already in progress", spec.Name)
	}
	s.starting[spec.Name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.starting, spec.Name)
		s.mu.Unlock()
	}()

	proc, err := s.launch(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, tracked := s.procs[spec.Name]; !tracked {
		s.order = append(s.order, spec.Name)
	}
	s.procs[spec.Name] = proc
	s.mu.Unlock()

	s.logger.Info("service started",
		logging.String(logging.FieldService, spec.Name),
		logging.String(logging.FieldUnit, spec.Unit),
		logging.Int("pid", proc.cmd.Process.Pid))

	if err := s.awaitReady(ctx, proc); err != nil {
		_ = s.Stop(spec.Name)
		return fmt.Errorf("service %s: %w", spec.Name, err)
	}
	return nil
}

func (s *Supervisor) launch(spec ServiceSpec) (*process, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// Give each service its own process group so signals do not leak to the
	// daemon or between services.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var logFile *os.File
	if spec.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory for %s: %w", spec.Name, err)
		}
		f, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file for %s: %w", spec.Name, err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("start service %s: %w", spec.Name, err)
	}

	proc := &process{
		spec:      spec,
		cmd:       cmd,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		proc.waitErr = cmd.Wait()
		if logFile != nil {
			_ = logFile.Close()
		}
		close(proc.done)
	}()
	return proc, nil
}

func (s *Supervisor) awaitReady(ctx context.Context, proc *process) error {
	if proc.spec.Readiness == nil {
		return nil
	}

	deadline := time.NewTimer(proc.spec.startTimeout())
	defer deadline.Stop()
	ticker := time.NewTicker(proc.spec.probeInterval())
	defer ticker.Stop()

	var lastErr error
	for {
		probeCtx, cancel := context.WithTimeout(ctx, proc.spec.probeInterval()*2)
		lastErr = proc.spec.Readiness(probeCtx)
		cancel()
		if lastErr == nil {
			s.logger.Info("service ready",
				logging.String(logging.FieldService, proc.spec.Name),
				logging.Duration("after", time.Since(proc.startedAt)))
			return nil
		}

		select {
		case <-proc.done:
			return fmt.Errorf("exited during startup: %w", exitReason(proc.waitErr))
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("not ready after %s: %w", proc.spec.startTimeout(), lastErr)
		case <-ticker.C:
		}
	}
}

func exitReason(waitErr error) error {
	if waitErr == nil {
		return errors.New("process exited")
	}
	return waitErr
}

// Stop terminates the named service, escalating from SIGTERM to SIGKILL
// after the stop timeout. Stopping an unknown or already stopped service is
// a no-op.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	proc, ok := s.procs[name]
	if ok {
		delete(s.procs, name)
		s.removeFromOrder(name)
	}
	s.mu.Unlock()
	if !ok || !proc.alive() {
		return nil
	}

	pid := proc.cmd.Process.Pid
	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal service %s: %w", name, err)
	}

	select {
	case <-proc.done:
	case <-time.After(proc.spec.stopTimeout()):
		s.logger.Warn("service ignored SIGTERM, killing",
			logging.String(logging.FieldService, name),
			logging.Int("pid", pid))
		if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill service %s: %w", name, err)
		}
		<-proc.done
	}

	s.logger.Info("service stopped",
		logging.String(logging.FieldService, name),
		logging.Int("pid", pid))
	return nil
}

// StopAll stops every managed service in reverse start order. Errors are
// collected; one stubborn service does not leave the rest running.
func (s *Supervisor) StopAll() error {
	s.mu.Lock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	s.mu.Unlock()

	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		if err := s.Stop(names[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Running reports whether the named service has a live process.
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	proc, ok := s.procs[name]
	s.mu.Unlock()
	return ok && proc.alive()
}

// Status returns the state of every tracked service in start order.
func (s *Supervisor) Status() []ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]ServiceStatus, 0, len(s.order))
	for _, name := range s.order {
		proc, ok := s.procs[name]
		if !ok {
			continue
		}
		status := ServiceStatus{
			Name:      name,
			Unit:      proc.spec.Unit,
			Running:   proc.alive(),
			PID:       proc.cmd.Process.Pid,
			StartedAt: proc.startedAt,
		}
		if status.Running {
			status.Uptime = time.Since(proc.startedAt)
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func (s *Supervisor) removeFromOrder(name string) {
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
