// Package monitoring holds the shared diagnostic logger used across the
// analysis service.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf.
// The batch runner and HTTP layer log through it so tests can capture or
// mute output with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op sink.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
