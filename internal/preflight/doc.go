// Package preflight verifies the host is ready to run the array before the
// daemon starts any service: required binaries resolvable, working
// directories writable, and the firmware tree present.
package preflight
