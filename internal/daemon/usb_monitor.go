package daemon

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"beamline/internal/logging"
)

// Realtek RTL2832U, the tuner inside every KrakenSDR channel.
const (
	sdrVendorID = "0bda"
	sdrModelID  = "2838"
)

// usbMonitor listens for udev netlink events so unplugged receiver hardware
// is noticed immediately instead of at the next failed sweep.
type usbMonitor struct {
	logger  *slog.Logger
	handler func(action, device string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newUSBMonitor(logger *slog.Logger, handler func(action, device string)) *usbMonitor {
	return &usbMonitor{
		logger:  logging.NewComponentLogger(logger, "usb-monitor"),
		handler: handler,
	}
}

// Start begins listening for udev netlink events. A missing netlink socket
// is non-fatal; the daemon still works, it just loses hotplug awareness.
func (m *usbMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; hardware removal will go unnoticed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"))
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Info("usb monitor started",
		logging.String(logging.FieldEventType, "usb_monitor_started"))
	return nil
}

// Stop shuts down the monitor.
func (m *usbMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
}

// Running reports whether the monitor is active.
func (m *usbMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *usbMonitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(events, errs, m.buildMatcher())
	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			m.handleEvent(uevent)
		case err := <-errs:
			m.logger.Warn("usb monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "usb_monitor_error"))
		}
	}
}

// buildMatcher selects add/remove events for the SDR tuner hardware.
func (m *usbMonitor) buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM":    "usb",
			"ID_VENDOR_ID": sdrVendorID,
			"ID_MODEL_ID":  sdrModelID,
		},
	})
	return rules
}

func (m *usbMonitor) handleEvent(uevent netlink.UEvent) {
	device := uevent.Env["DEVNAME"]
	if device == "" {
		device = uevent.KObj
	}
	m.logger.Debug("usb event",
		logging.String("action", string(uevent.Action)),
		logging.String("device", device))
	if m.handler != nil {
		m.handler(string(uevent.Action), device)
	}
}
