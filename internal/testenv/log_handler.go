// Package testenv holds helpers shared by the vuser test suites.
package testenv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
)

// EnvPostgresDSN names the variable holding a Postgres DSN for the sqlstore
// integration tests. They are skipped when it is unset.
const EnvPostgresDSN = "VUSER_POSTGRES_DSN"

// PostgresDSN returns the configured DSN or skips t.
func PostgresDSN(t testing.TB) string {
	t.Helper()
	dsn := os.Getenv(EnvPostgresDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvPostgresDSN)
	}
	return dsn
}

// LogHandler is a slog.Handler that records every message as
// "LEVEL: message k=v, k=v" without timestamps, so tests can assert on log
// output deterministically.
type LogHandler struct {
	mu    *sync.Mutex
	lines *[]string
	attrs []slog.Attr
}

func NewLogHandler() *LogHandler {
	return &LogHandler{mu: &sync.Mutex{}, lines: &[]string{}}
}

func (h *LogHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

//nolint:gocritic
func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	parts := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		parts = append(parts, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})

	line := fmt.Sprintf("%s: %s", r.Level, r.Message)
	if len(parts) > 0 {
		line += " " + strings.Join(parts, ", ")
	}

	h.mu.Lock()
	*h.lines = append(*h.lines, line)
	h.mu.Unlock()
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{
		mu:    h.mu,
		lines: h.lines,
		attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
	}
}

func (h *LogHandler) WithGroup(string) slog.Handler {
	return h
}

// Lines returns a copy of everything logged so far.
func (h *LogHandler) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), *h.lines...)
}

// Contains reports whether any recorded line contains s.
func (h *LogHandler) Contains(s string) bool {
	for _, l := range h.Lines() {
		if strings.Contains(l, s) {
			return true
		}
	}
	return false
}
