// Package monitoring holds the diagnostic logger shared by the export
// pipeline.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// ScanLogger returns a logger that prefixes every line with the scan name.
// Concurrent workers share Logf, so the prefix is what keeps their output
// attributable.
func ScanLogger(scan string) func(format string, v ...interface{}) {
	prefix := "[" + scan + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
