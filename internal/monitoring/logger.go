package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger used by the protocol, device
// and session layers. It defaults to log.Printf but may be replaced by
// SetLogger so tests can capture or mute decoder diagnostics.
var Logf func(format string, v ...interface{}) = log.Printf

var debug atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug enables or disables per-frame diagnostics emitted via Debugf.
func SetDebug(enabled bool) {
	debug.Store(enabled)
}

// DebugEnabled reports whether Debugf output is enabled.
func DebugEnabled() bool {
	return debug.Load()
}

// Debugf logs through Logf only when debug output is enabled. Frame sequence
// numbers, status bytes and individual RR values are logged at this level.
func Debugf(format string, v ...interface{}) {
	if !debug.Load() {
		return
	}
	Logf(format, v...)
}
