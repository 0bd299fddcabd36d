// Package config loads, normalizes, and validates beamline configuration.
//
// Configuration lives in a single TOML file describing the receiver units,
// calibration parameters, supervised firmware services, and ambient daemon
// settings. A handful of environment variables override the calibration mode
// flags so deployment scripts can flip behavior without editing the file.
package config
