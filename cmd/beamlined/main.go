// Command beamlined runs the daemon directly in the foreground, for systemd
// units and containers that do not want the detaching `beamline start` path.
package main

import (
	"context"
	"log"
	"os"

	"beamline/internal/config"
	"beamline/internal/daemonrun"
)

func main() {
	path := ""
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, _, _, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		log.Fatalf("run daemon: %v", err)
	}
}
