// Package calibration defines the calibration result model shared by the
// coordinator, cache, and IPC layers: per-channel amplitude and time-delay
// corrections, the frequency plan they were measured against, and the
// shared-stimulus averaging used by dual-unit arrays with a common noise
// source.
//
// The measurements themselves come from the wrapped acquisition firmware;
// this package never touches IQ samples.
package calibration
