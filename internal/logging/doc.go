// Package logging assembles structured slog loggers and formatting helpers
// used across beamline components.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and defines the standardized field keys so calibration,
// supervision, and IPC code all emit log lines with the same shape. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
