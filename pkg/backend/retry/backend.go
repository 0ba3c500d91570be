// Package retry wraps a vuser.Backend so that Load and Store are retried on
// transient failures. The vuser engine itself never retries; wrap the backend
// when the transport is flaky enough to warrant it.
//
//	b := retry.New(surrealBackend, retry.Exponential())
//	u, err := vuser.New(ctx, vuser.NewConfig(b))
package retry

import (
	"context"
	"errors"
	"time"

	vuser "github.com/surrealdb/vuser.go"
	"github.com/surrealdb/vuser.go/pkg/constants"
	"github.com/surrealdb/vuser.go/pkg/envelope"
	"github.com/surrealdb/vuser.go/pkg/logger"
)

// Backend retries Load and Store of the wrapped backend. Authenticate is
// passed through untouched.
type Backend struct {
	next    vuser.Backend
	retryer Retryer

	// Retryable reports whether err is worth another attempt. The default
	// gives up on missing keys, authentication failures, a closed connection
	// and a done context.
	Retryable func(err error) bool

	Logger logger.Logger
}

var _ vuser.Backend = (*Backend)(nil)

func New(next vuser.Backend, r Retryer) *Backend {
	return &Backend{
		next:      next,
		retryer:   r,
		Retryable: Retryable,
		Logger:    logger.Nop(),
	}
}

// Retryable is the default classification used by New.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, constants.ErrNotFound),
		errors.Is(err, constants.ErrNotSignedIn),
		errors.Is(err, constants.ErrAuthentication),
		errors.Is(err, constants.ErrConnectionClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (b *Backend) Authenticate(ctx context.Context, credentials ...any) error {
	return b.next.Authenticate(ctx, credentials...)
}

func (b *Backend) Load(ctx context.Context, key string) (envelope.Payload, error) {
	var p envelope.Payload
	err := b.do(ctx, "load", key, func() (err error) {
		p, err = b.next.Load(ctx, key)
		return err
	})
	return p, err
}

func (b *Backend) Store(ctx context.Context, key string, payload envelope.Payload) error {
	return b.do(ctx, "store", key, func() error {
		return b.next.Store(ctx, key, payload)
	})
}

// Close closes the wrapped backend if it can be closed.
func (b *Backend) Close() error {
	if c, ok := b.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (b *Backend) do(ctx context.Context, op, key string, call func() error) error {
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil {
			b.retryer.Reset()
			return nil
		}
		if !b.Retryable(err) {
			return err
		}
		delay, ok := b.retryer.NextDelay(attempt, err)
		if !ok {
			return err
		}
		b.Logger.Debug("retrying backend call", "op", op, "key", key, "attempt", attempt+1, "delay", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}
