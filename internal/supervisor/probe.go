package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"
)

// Probe reports nil once a service is ready to accept work. Probes are
// re-invoked on an interval until they succeed or the start timeout lapses.
type Probe func(ctx context.Context) error

// TCPProbe succeeds once a TCP connection to addr can be established. Used
// for services that expose a control or data port.
func TCPProbe(addr string) Probe {
	return func(ctx context.Context) error {
		dialer := net.Dialer{Timeout: time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn.Close()
	}
}

// FileProbe succeeds once the file at path exists. Used for services that
// signal readiness by writing a marker or socket file.
func FileProbe(path string) Probe {
	return func(ctx context.Context) error {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		return nil
	}
}
