// Package logger is the logging seam used throughout vuser. Anything with
// leveled, key/value style methods can be plugged in; adapters for log/slog
// and zerolog are provided.
package logger

import (
	rawslog "log/slog"
	"os"

	"github.com/surrealdb/vuser.go/pkg/logger/slog"
)

type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// New returns a Logger writing to the given slog handler.
func New(h rawslog.Handler) Logger {
	return slog.New(h)
}

// Default writes text records at warn level and above to stderr.
func Default() Logger {
	return New(rawslog.NewTextHandler(os.Stderr, &rawslog.HandlerOptions{Level: rawslog.LevelWarn}))
}

type nop struct{}

func (nop) Error(string, ...any) {}
func (nop) Warn(string, ...any)  {}
func (nop) Info(string, ...any)  {}
func (nop) Debug(string, ...any) {}

// Nop discards everything.
func Nop() Logger {
	return nop{}
}
