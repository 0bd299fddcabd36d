// Package firmware talks to the acquisition firmware of each receiver unit
// over its TCP control port.
//
// The firmware is a black box: this package only issues commands and decodes
// replies. Requests and responses are single JSON lines, one command per
// connection. The coordinator drives these primitives; nothing here knows
// about master/slave ordering or the calibration cache.
package firmware
