// Package monitoring holds the process-wide diagnostic logging hook used by
// the readout core. Burst transitions and packet drops are informational
// notices only; no caller depends on their format.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be swapped out with SetLogger, e.g. to mute it in tests.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
