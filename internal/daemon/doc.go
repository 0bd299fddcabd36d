// Package daemon runs the array in the background: it enforces
// single-instance execution with a file lock, launches the acquisition
// services, drives calibration through the coordinator, and gates the
// direction-finding GUI on the master unit reaching tracking.
package daemon
