// Package logger provides a thin wrapper around zerolog.Logger used
// across ditoxd: the daemon, watcher, and sync engine take a *Logger
// rather than reaching for a global. Grounded on
// MKhiriev-GoPassKeeper/internal/logger/logger.go.
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

// Logger embeds zerolog.Logger so every zerolog method (Debug, Info,
// Warn, Error, ...) is available directly.
type Logger struct {
	zerolog.Logger
}

// New constructs a *Logger writing JSON lines to w, tagged with the
// given component name and the current process's pid.
func New(w *os.File, component string, level zerolog.Level) *Logger {
	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", component).
		Int("pid", os.Getpid()).
		Logger().
		Level(level)
	return &Logger{zl}
}

// Nop returns a *Logger that discards all output, for tests.
func Nop() *Logger {
	return &Logger{zerolog.Nop()}
}

// With returns a child logger carrying an additional field, without
// mutating the receiver.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{l.Logger.With().Str(key, value).Logger()}
}

type ctxKey struct{}

// WithContext attaches l to ctx for retrieval via FromContext.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext extracts the *Logger attached by WithContext, or a no-op
// logger if none was attached.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
