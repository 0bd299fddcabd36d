// Package logs tails the daemon log for the CLI.
//
// Tail reads the last N lines with bounded memory, Follow polls for lines
// appended past an offset and backs `beamline logs --follow`. Rotated or
// truncated files restart from the top on the next poll.
package logs
