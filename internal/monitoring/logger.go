// Package monitoring holds the process-wide diagnostic logger used by the
// summary pipeline.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose turns debug output on or off.
func SetVerbose(on bool) { verbose.Store(on) }

// Verbose reports whether debug output is enabled.
func Verbose() bool { return verbose.Load() }

// Debugf logs through Logf only when verbose output is enabled. Defaults
// applied to optional header fields and cache hits are reported here.
func Debugf(format string, v ...interface{}) {
	if !verbose.Load() {
		return
	}
	Logf("DEBUG: "+format, v...)
}

// Warnf logs a recoverable condition with the WARNING: prefix used across
// the pipeline.
func Warnf(format string, v ...interface{}) {
	Logf("WARNING: "+format, v...)
}
