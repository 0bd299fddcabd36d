package daemon

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"beamline/internal/config"
	"beamline/internal/supervisor"
)

// AcquisitionSpecs builds one supervisor spec per active unit. Each
// acquisition daemon is ready once its control port answers.
func AcquisitionSpecs(cfg *config.Config) []supervisor.ServiceSpec {
	specs := make([]supervisor.ServiceSpec, 0, len(cfg.ActiveUnits()))
	for _, unit := range cfg.ActiveUnits() {
		specs = append(specs, supervisor.ServiceSpec{
			Name:    "daq-" + unit.Name,
			Unit:    unit.Name,
			Command: cfg.Services.DAQBinary,
			Args: []string{
				"--device", strconv.Itoa(unit.DeviceIndex),
				"--control-port", strconv.Itoa(unit.ControlPort),
				"--data-port", strconv.Itoa(unit.DataPort),
			},
			Dir:           cfg.Paths.FirmwareDir,
			Env:           []string{"BEAMLINE_UNIT=" + unit.Name},
			LogPath:       filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("daq-%s.log", unit.Name)),
			Readiness:     supervisor.TCPProbe(controlAddr(unit.ControlPort)),
			StartTimeout:  startTimeout(cfg),
			StopTimeout:   stopTimeout(cfg),
			ProbeInterval: probeInterval(cfg),
		})
	}
	return specs
}

// GUISpec describes the direction-finding web interface. It consumes every
// unit's data port, so it only launches once the master is tracking.
func GUISpec(cfg *config.Config) supervisor.ServiceSpec {
	args := []string{"--port", strconv.Itoa(cfg.Services.GUIPort)}
	for _, unit := range cfg.ActiveUnits() {
		args = append(args, "--source", unit.Name+":"+strconv.Itoa(unit.DataPort))
	}
	return supervisor.ServiceSpec{
		Name:          "gui",
		Command:       cfg.Services.GUIBinary,
		Args:          args,
		LogPath:       filepath.Join(cfg.Paths.LogDir, "gui.log"),
		Readiness:     supervisor.TCPProbe(controlAddr(cfg.Services.GUIPort)),
		StartTimeout:  startTimeout(cfg),
		StopTimeout:   stopTimeout(cfg),
		ProbeInterval: probeInterval(cfg),
	}
}

// RelaySpec describes the optional bearing relay.
func RelaySpec(cfg *config.Config) supervisor.ServiceSpec {
	return supervisor.ServiceSpec{
		Name:          "relay",
		Command:       cfg.Services.RelayBinary,
		Args:          []string{"--listen", strconv.Itoa(cfg.Services.RelayPort)},
		LogPath:       filepath.Join(cfg.Paths.LogDir, "relay.log"),
		Readiness:     supervisor.TCPProbe(controlAddr(cfg.Services.RelayPort)),
		StartTimeout:  startTimeout(cfg),
		StopTimeout:   stopTimeout(cfg),
		ProbeInterval: probeInterval(cfg),
	}
}

func controlAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

func startTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Services.StartTimeoutSeconds) * time.Second
}

func stopTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Services.StopTimeoutSeconds) * time.Second
}

func probeInterval(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Services.ProbeIntervalMillis) * time.Millisecond
}
