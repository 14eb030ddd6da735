// Package logging defines the structured logging interface components
// depend on, decoupled from the concrete backend.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the minimal structured logging surface every component takes
// as a dependency instead of a concrete logging library.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

// zerologLogger adapts zerolog.Logger to the Logger interface.
type zerologLogger struct {
	l zerolog.Logger
}

// New builds the default production logger: JSON to stdout, RFC3339 time.
func New(level string) Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	return &zerologLogger{l: l}
}

// NoOp returns a logger that discards everything, useful in tests.
func NoOp() Logger {
	return &zerologLogger{l: zerolog.Nop()}
}

func (z *zerologLogger) event(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func (z *zerologLogger) Debug(msg string, kv ...any) { z.event(z.l.Debug(), msg, kv) }
func (z *zerologLogger) Info(msg string, kv ...any)  { z.event(z.l.Info(), msg, kv) }
func (z *zerologLogger) Warn(msg string, kv ...any)  { z.event(z.l.Warn(), msg, kv) }
func (z *zerologLogger) Error(msg string, kv ...any) { z.event(z.l.Error(), msg, kv) }

func (z *zerologLogger) With(kv ...any) Logger {
	ctx := z.l.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &zerologLogger{l: ctx.Logger()}
}
