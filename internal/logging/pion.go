package logging

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PionFactory routes pion's internal logs into zerolog, one sub-logger per
// pion scope. Pion's debug and info output land one level lower.
type PionFactory struct{}

var _ logging.LoggerFactory = PionFactory{}

func (PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{l: log.Logger.With().Str("component", "pion").Str("scope", scope).Logger()}
}

type pionLogger struct {
	l zerolog.Logger
}

func (p pionLogger) Trace(msg string)                          { p.l.Trace().Msg(msg) }
func (p pionLogger) Tracef(format string, args ...interface{}) { p.l.Trace().Msg(fmt.Sprintf(format, args...)) }
func (p pionLogger) Debug(msg string)                          { p.l.Trace().Msg(msg) }
func (p pionLogger) Debugf(format string, args ...interface{}) { p.l.Trace().Msg(fmt.Sprintf(format, args...)) }
func (p pionLogger) Info(msg string)                           { p.l.Debug().Msg(msg) }
func (p pionLogger) Infof(format string, args ...interface{})  { p.l.Debug().Msg(fmt.Sprintf(format, args...)) }
func (p pionLogger) Warn(msg string)                           { p.l.Warn().Msg(msg) }
func (p pionLogger) Warnf(format string, args ...interface{})  { p.l.Warn().Msg(fmt.Sprintf(format, args...)) }
func (p pionLogger) Error(msg string)                          { p.l.Error().Msg(msg) }
func (p pionLogger) Errorf(format string, args ...interface{}) { p.l.Error().Msg(fmt.Sprintf(format, args...)) }
