package events

import (
	"context"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/rs/zerolog"
)

// LogSink writes events to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Handle implements Sink.
func (s *LogSink) Handle(_ context.Context, ev models.Event) error {
	var e *zerolog.Event
	switch ev.Kind {
	case models.EventError:
		e = s.logger.Error()
	case models.EventWarning:
		e = s.logger.Warn()
	default:
		e = s.logger.Info()
	}

	e = e.Str("code", ev.Code).Str("kind", string(ev.Kind))
	for k, v := range ev.Context {
		e = e.Str(k, v)
	}
	e.Msg("event")
	return nil
}
