package util

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes pion's internal logs into the pterm logger.
// pion is chatty below warning level, so trace/debug/info lines are only
// printed when debug logging is enabled.
type PionLoggerFactory struct{}

var _ logging.LoggerFactory = PionLoggerFactory{}

// NewLogger implements logging.LoggerFactory.
func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{log: NewLogger("pion/" + scope)}
}

type pionLogger struct {
	log Logger
}

func (p pionLogger) Trace(msg string) { p.Tracef("%s", msg) }
func (p pionLogger) Tracef(format string, args ...interface{}) {
	if DebugEnabled() {
		p.log.Debug(format, args...)
	}
}

func (p pionLogger) Debug(msg string) { p.Debugf("%s", msg) }
func (p pionLogger) Debugf(format string, args ...interface{}) {
	if DebugEnabled() {
		p.log.Debug(format, args...)
	}
}

func (p pionLogger) Info(msg string) { p.Infof("%s", msg) }
func (p pionLogger) Infof(format string, args ...interface{}) {
	if DebugEnabled() {
		p.log.Info(format, args...)
	}
}

func (p pionLogger) Warn(msg string) { p.log.Warn("%s", msg) }
func (p pionLogger) Warnf(format string, args ...interface{}) {
	p.log.Warn("%s", fmt.Sprintf(format, args...))
}

func (p pionLogger) Error(msg string) { p.log.Error("%s", msg) }
func (p pionLogger) Errorf(format string, args ...interface{}) {
	p.log.Error("%s", fmt.Sprintf(format, args...))
}
