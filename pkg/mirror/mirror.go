// Package mirror provides durable copies of the user data cache so that a
// session can resume offline with the values it saw last time.
//
// A mirror holds the entire cache in a single slot. Every operation may fail
// with an error wrapping [ErrUnavailable]; callers are expected to log and
// carry on with memory-only caching in that case.
package mirror

import (
	"context"
	"fmt"

	"github.com/surrealdb/vuser.go/pkg/constants"
)

var ErrUnavailable = constants.ErrPersistenceUnavailable

// Mirror is a durable key/value blob store holding the whole cache.
type Mirror interface {
	ReadAll(ctx context.Context) (map[string]any, error)
	WriteAll(ctx context.Context, data map[string]any) error
	Clear(ctx context.Context) error
}

// Prober is implemented by mirrors that can check their own availability
// without touching the cache slot.
type Prober interface {
	Probe(ctx context.Context) error
}

// Probe reports whether m is usable. Mirrors that do not implement Prober are
// probed by reading the slot.
func Probe(ctx context.Context, m Mirror) error {
	if m == nil {
		return fmt.Errorf("%w: no mirror configured", ErrUnavailable)
	}
	if p, ok := m.(Prober); ok {
		return p.Probe(ctx)
	}
	if _, err := m.ReadAll(ctx); err != nil {
		return err
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
