// Package util provides logging and process-wide counters shared by every
// peerlink component.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

// Setup configures the shared pterm logger every Logger writes through.
// Commands call it once at start-up; debug lowers the level to show debug
// lines.
func Setup(debug bool) {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
	pterm.DefaultLogger.Level = pterm.LogLevelInfo
	if debug {
		pterm.DefaultLogger.Level = pterm.LogLevelDebug
	}
}

// DebugEnabled reports whether debug messages are currently printed.
func DebugEnabled() bool {
	lvl := pterm.DefaultLogger.Level
	return lvl == pterm.LogLevelTrace || lvl == pterm.LogLevelDebug
}

// Logger tags every line it prints with a component name and, optionally,
// the session identity it belongs to.
type Logger struct {
	component string
	session   string
}

// NewLogger returns a Logger for the named component.
func NewLogger(component string) Logger {
	return Logger{component: component}
}

// WithSession returns a copy of l that also tags lines with a short form of
// the session id.
func (l Logger) WithSession(id string) Logger {
	l.session = ShortTag(id)
	return l
}

func (l Logger) args() []pterm.LoggerArgument {
	if l.session == "" {
		return pterm.DefaultLogger.Args("component", l.component)
	}
	return pterm.DefaultLogger.Args("component", l.component, "session", l.session)
}

func (l Logger) Debug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...), l.args())
}

func (l Logger) Info(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), l.args())
}

func (l Logger) Warn(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...), l.args())
}

func (l Logger) Error(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...), l.args())
}
