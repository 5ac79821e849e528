// Package zlog adapts github.com/rs/zerolog to storage.Logger, the
// trace sink consumed by coordinator and its storage backends.
package zlog

import (
	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/rescoord/storage"
)

// Logger wraps a zerolog.Logger.
type Logger struct {
	log zerolog.Logger
}

// New wraps an existing zerolog.Logger.
func New(l zerolog.Logger) Logger { return Logger{log: l} }

// Trace implements storage.Logger.
func (l Logger) Trace(level storage.Level, message string, cause error, trace string) {
	var ev *zerolog.Event
	switch level {
	case storage.LevelDebug:
		ev = l.log.Debug()
	case storage.LevelWarning:
		ev = l.log.Warn()
	default:
		ev = l.log.Error()
	}
	if cause != nil {
		ev = ev.Err(cause)
	}
	if trace != "" {
		ev = ev.Str("trace", trace)
	}
	ev.Msg(message)
}

var _ storage.Logger = Logger{}
