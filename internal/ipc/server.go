package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"beamline/internal/daemon"
	"beamline/internal/logging"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Beamline", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun beamline stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.LockPath = status.LockFilePath
	resp.CachePath = status.CachePath
	resp.LastError = status.LastError
	resp.USBMonitoring = status.USBMonitoring
	resp.Sessions = SessionSummary{
		Total:     status.Sessions.Total,
		Running:   status.Sessions.Running,
		Succeeded: status.Sessions.Succeeded,
		Failed:    status.Sessions.Failed,
		Aborted:   status.Sessions.Aborted,
	}
	for _, unit := range status.Units {
		resp.Units = append(resp.Units, UnitStatus{
			Unit:           unit.Unit,
			Role:           unit.Role,
			State:          string(unit.State),
			Detail:         unit.Detail,
			Channels:       unit.Channels,
			NoiseFloorDB:   unit.NoiseFloorDB,
			LastCalibrated: unit.LastCalibrated,
			SyncFailures:   unit.SyncFailures,
		})
	}
	for _, svc := range status.Services {
		resp.Services = append(resp.Services, ServiceStatus{
			Name:         svc.Name,
			Unit:         svc.Unit,
			Running:      svc.Running,
			PID:          svc.PID,
			UptimeMillis: svc.Uptime.Milliseconds(),
		})
	}
	for _, dep := range status.Dependencies {
		resp.Dependencies = append(resp.Dependencies, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return nil
}

func (s *service) Calibrate(req CalibrateRequest, resp *CalibrateResponse) error {
	s.logger.Debug("calibration requested", logging.Bool("force", req.Force))
	outcome, err := s.daemon.Calibrate(s.ctx, req.Force)
	if err != nil {
		return err
	}
	resp.SessionID = outcome.SessionID
	resp.FromCache = outcome.FromCache
	resp.Shared = outcome.Shared
	resp.Units = len(outcome.PerUnit)
	resp.DurationMillis = outcome.Duration().Milliseconds()
	for unit, result := range outcome.PerUnit {
		resp.NoiseFloors = append(resp.NoiseFloors, Floor{Unit: unit, NoiseFloorDB: result.NoiseFloorDB})
	}
	s.logger.Info("calibration completed via IPC",
		logging.String(logging.FieldEventType, "calibration_requested"),
		logging.Bool("from_cache", resp.FromCache))
	return nil
}

func (s *service) CacheClear(_ CacheClearRequest, resp *CacheClearResponse) error {
	s.logger.Debug("cache clear requested")
	if err := s.daemon.CacheClear(); err != nil {
		return err
	}
	resp.Cleared = true
	s.logger.Info("calibration cache cleared",
		logging.String(logging.FieldEventType, "cache_clear"))
	return nil
}

func (s *service) Sessions(req SessionListRequest, resp *SessionListResponse) error {
	list, err := s.daemon.Sessions(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	resp.Sessions = make([]SessionRecord, 0, len(list))
	for _, session := range list {
		resp.Sessions = append(resp.Sessions, SessionRecord{
			ID:             session.ID,
			Method:         string(session.Method),
			Status:         string(session.Status),
			StartedAt:      session.StartedAt,
			DurationMillis: session.Duration().Milliseconds(),
			Units:          len(session.UnitOutcomes),
			ErrorMessage:   session.ErrorMessage,
		})
	}
	return nil
}
