package firmware

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"beamline/internal/calibration"
	"beamline/internal/config"
	"beamline/internal/logging"
)

// ErrCommandFailed indicates the firmware accepted the connection but
// rejected the command.
var ErrCommandFailed = errors.New("firmware command failed")

// Dialer matches net.Dialer.DialContext, overridable in tests.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// SyncReport describes the coherence state of a unit's receiver channels.
type SyncReport struct {
	FrameSync    bool  `json:"frame_sync"`
	SampleOffset int64 `json:"sample_offset"`
	IQSync       bool  `json:"iq_sync"`
}

// Synced reports whether the unit is fully coherent.
func (r SyncReport) Synced() bool {
	return r.FrameSync && r.IQSync && r.SampleOffset == 0
}

// CalibrateOptions tunes a single calibration command.
type CalibrateOptions struct {
	// ExternalStimulus tells the unit to measure against a stimulus it does
	// not generate itself, used when the master's noise source feeds every
	// unit at once.
	ExternalStimulus bool
}

// Option configures the TCP client.
type Option func(*TCP)

// WithHost overrides the control host, default localhost.
func WithHost(host string) Option {
	return func(c *TCP) {
		if host != "" {
			c.host = host
		}
	}
}

// WithTimeout overrides the per-command network timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *TCP) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithDialer overrides the network dialer.
func WithDialer(dial Dialer) Option {
	return func(c *TCP) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// TCP issues commands to unit firmware over TCP control ports.
type TCP struct {
	host    string
	timeout time.Duration
	dial    Dialer
	logger  *slog.Logger
}

// NewTCP constructs a client with defaults.
func NewTCP(logger *slog.Logger, opts ...Option) *TCP {
	dialer := &net.Dialer{}
	client := &TCP{
		host:    "127.0.0.1",
		timeout: 30 * time.Second,
		dial:    dialer.DialContext,
		logger:  logging.NewComponentLogger(logger, "firmware"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type request struct {
	Command            string    `json:"command"`
	FrequenciesHz      []float64 `json:"frequencies_hz,omitempty"`
	SampleCount        int       `json:"sample_count,omitempty"`
	SampleWindowMillis int64     `json:"sample_window_millis,omitempty"`
	ExternalStimulus   bool      `json:"external_stimulus,omitempty"`
	Enabled            *bool     `json:"enabled,omitempty"`
}

type response struct {
	Status                 string      `json:"status"`
	Message                string      `json:"message"`
	AmplitudeCorrectionsDB []float64   `json:"amplitude_corrections_db"`
	TimeDelayCorrectionsNs []float64   `json:"time_delay_corrections_ns"`
	NoiseFloorDB           float64     `json:"noise_floor_db"`
	DurationMillis         int64       `json:"duration_millis"`
	Sync                   *SyncReport `json:"sync"`
}

// Calibrate runs the frequency sweep on one unit and returns the measured
// corrections.
func (c *TCP) Calibrate(ctx context.Context, unit config.Unit, plan calibration.Plan, opts CalibrateOptions) (calibration.Result, error) {
	started := time.Now()
	resp, err := c.roundTrip(ctx, unit, request{
		Command:            "calibrate",
		FrequenciesHz:      plan.Frequencies(),
		SampleCount:        plan.SampleCount,
		SampleWindowMillis: plan.SampleWindow.Milliseconds(),
		ExternalStimulus:   opts.ExternalStimulus,
	})
	if err != nil {
		return calibration.Result{}, err
	}

	result := calibration.Result{
		AmplitudeCorrectionsDB: resp.AmplitudeCorrectionsDB,
		TimeDelayCorrectionsNs: resp.TimeDelayCorrectionsNs,
		NoiseFloorDB:           resp.NoiseFloorDB,
		Status:                 calibration.StatusCalibrated,
		MeasuredAt:             started.UTC(),
		Duration:               time.Duration(resp.DurationMillis) * time.Millisecond,
	}
	if err := result.Validate(); err != nil {
		return calibration.Result{}, fmt.Errorf("unit %s returned invalid corrections: %w", unit.Name, err)
	}
	return result, nil
}

// SetNoiseSource switches the calibration noise source on a unit. Only the
// master unit carries the source hardware; the firmware rejects the command
// elsewhere.
func (c *TCP) SetNoiseSource(ctx context.Context, unit config.Unit, enabled bool) error {
	_, err := c.roundTrip(ctx, unit, request{Command: "noise_source", Enabled: &enabled})
	return err
}

// SyncStatus reports channel coherence for a unit.
func (c *TCP) SyncStatus(ctx context.Context, unit config.Unit) (SyncReport, error) {
	resp, err := c.roundTrip(ctx, unit, request{Command: "sync_status"})
	if err != nil {
		return SyncReport{}, err
	}
	if resp.Sync == nil {
		return SyncReport{}, fmt.Errorf("unit %s returned no sync state", unit.Name)
	}
	return *resp.Sync, nil
}

// Ping verifies the control port answers commands.
func (c *TCP) Ping(ctx context.Context, unit config.Unit) error {
	_, err := c.roundTrip(ctx, unit, request{Command: "ping"})
	return err
}

func (c *TCP) roundTrip(ctx context.Context, unit config.Unit, req request) (*response, error) {
	addr := net.JoinHostPort(c.host, strconv.Itoa(unit.ControlPort))

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := c.dial(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect unit %s at %s: %w", unit.Name, addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline for unit %s: %w", unit.Name, err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", req.Command, err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("send %s to unit %s: %w", req.Command, unit.Name, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read %s reply from unit %s: %w", req.Command, unit.Name, err)
	}
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode %s reply from unit %s: %w", req.Command, unit.Name, err)
	}
	if resp.Status != "ok" {
		c.logger.Warn("firmware rejected command",
			logging.String(logging.FieldUnit, unit.Name),
			logging.String("command", req.Command),
			logging.String("message", resp.Message))
		return nil, fmt.Errorf("%w: unit %s %s: %s", ErrCommandFailed, unit.Name, req.Command, resp.Message)
	}
	return &resp, nil
}
