// Package coordinator sequences calibration across the receiver units of a
// dual-array deployment.
//
// Each unit moves through idle, calibrating, tracking, and failed states.
// The master unit owns the shared noise source, so it always calibrates
// first; slaves are admitted only once the master is tracking and are
// rejected otherwise. Measured corrections that pass tolerance are cached so
// later runs can skip the sweep entirely, and every run is recorded in the
// session history.
package coordinator
