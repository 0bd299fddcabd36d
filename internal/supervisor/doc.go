// Package supervisor launches and tracks the long-running array services:
// one acquisition daemon per receiver unit, the direction-finding GUI, and
// the optional bearing relay.
//
// Start is idempotent per service name and blocks until the service reports
// ready through its probe, so callers sequence dependent services without
// fixed sleeps. A service that exits during startup fails the Start call with
// the exit status rather than being discovered dead later. Stop escalates
// from SIGTERM to SIGKILL after the configured grace period and is a no-op
// for services that are not running.
package supervisor
