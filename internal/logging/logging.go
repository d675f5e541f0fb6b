// Package logging provides the thin logger interface pipeline code depends
// on, so tests can substitute a no-op logger without touching the standard
// library's global logger state.
package logging

import "log"

// Logger is the minimal surface forwarding packages use.
type Logger interface {
	Printf(format string, v ...any)
}

// StdLogger forwards to the standard library's log package.
type StdLogger struct{}

// New returns the standard-library-backed Logger.
func New() Logger { return StdLogger{} }

func (StdLogger) Printf(format string, v ...any) { log.Printf(format, v...) }

// Nop discards everything, for tests.
type Nop struct{}

func (Nop) Printf(string, ...any) {}
