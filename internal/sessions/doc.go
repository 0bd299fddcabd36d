// Package sessions persists calibration session history in SQLite.
//
// Every calibration run, whether fresh, shared, or served from cache, is
// recorded as a session with per-unit outcomes. The history backs the
// "sessions" CLI command and lets operators correlate tracking problems with
// the calibration that preceded them. The schema is versioned; on a version
// mismatch the store refuses to open rather than guess at a migration.
package sessions
