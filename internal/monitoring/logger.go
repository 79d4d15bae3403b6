package monitoring

import "log"

// LogFunc matches the signature of log.Printf.
type LogFunc func(format string, v ...interface{})

// Logf is the package-level diagnostic logger used by the controller, the
// camera drivers and the API. It defaults to log.Printf but may be replaced
// by SetLogger. Tests or production code can redirect or mute it.
var Logf LogFunc = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f LogFunc) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Prefixed returns a logger that prepends prefix to every message and
// forwards to whatever Logf is at call time, so a later SetLogger still
// takes effect.
func Prefixed(prefix string) LogFunc {
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
