package vuser

import (
	"context"

	"github.com/surrealdb/vuser.go/pkg/envelope"
)

// Backend is the remote source of truth supplied by the application.
//
// Authenticate is called before every Load and Store, usually without
// credentials, so implementations must treat it as idempotent and return nil
// when a session is already established. Load returns ErrNotFound, or an
// empty payload, for keys that were never stored.
//
// Timeouts are the backend's business; the engine only passes the context
// through.
type Backend interface {
	Authenticate(ctx context.Context, credentials ...any) error
	Load(ctx context.Context, key string) (envelope.Payload, error)
	Store(ctx context.Context, key string, payload envelope.Payload) error
}

// BackendFuncs adapts plain functions to a Backend. All three are required.
type BackendFuncs struct {
	AuthenticateFunc func(ctx context.Context, credentials ...any) error
	LoadFunc         func(ctx context.Context, key string) (envelope.Payload, error)
	StoreFunc        func(ctx context.Context, key string, payload envelope.Payload) error
}

func (f BackendFuncs) Authenticate(ctx context.Context, credentials ...any) error {
	return f.AuthenticateFunc(ctx, credentials...)
}

func (f BackendFuncs) Load(ctx context.Context, key string) (envelope.Payload, error) {
	return f.LoadFunc(ctx, key)
}

func (f BackendFuncs) Store(ctx context.Context, key string, payload envelope.Payload) error {
	return f.StoreFunc(ctx, key, payload)
}

func (f BackendFuncs) validate() error {
	switch {
	case f.LoadFunc == nil:
		return &ConfigurationError{Option: "load", Reason: "must be defined"}
	case f.StoreFunc == nil:
		return &ConfigurationError{Option: "store", Reason: "must be defined"}
	case f.AuthenticateFunc == nil:
		return &ConfigurationError{Option: "authenticate", Reason: "must be defined"}
	}
	return nil
}

type closer interface {
	Close() error
}
