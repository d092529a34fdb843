package monitoring

import (
	"log"
	"os"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var debugEnabled = os.Getenv("HERDSIGHT_DEBUG") != ""

// Debugf logs through Logf only when debug output is enabled, either via the
// HERDSIGHT_DEBUG environment variable or SetDebug.
func Debugf(format string, v ...interface{}) {
	if debugEnabled {
		Logf(format, v...)
	}
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug toggles Debugf output regardless of the environment variable.
func SetDebug(enabled bool) {
	debugEnabled = enabled
}
