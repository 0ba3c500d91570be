package vuser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/surrealdb/vuser.go/pkg/envelope"
	"github.com/surrealdb/vuser.go/pkg/logger"
	"github.com/surrealdb/vuser.go/pkg/mirror"
)

// User is one authenticated session against a Backend. It gates every remote
// call behind Authenticate, applies the codec around Backend calls and owns
// the cache engine that serves Get, Set and Sync.
type User struct {
	cfg Config
	log logger.Logger

	once      sync.Once
	engine    Engine
	engineErr error
}

// New validates cfg and returns a User. The cache engine is created on first
// use. A mirror that fails its availability probe demotes
// CacheInLocalStorage to false with a warning.
func New(ctx context.Context, cfg *Config) (*User, error) {
	if cfg == nil {
		return nil, &ConfigurationError{Option: "config", Reason: "must be defined"}
	}
	c := *cfg
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.withDefaults()

	if c.CacheInLocalStorage {
		if err := mirror.Probe(ctx, c.Mirror); err != nil {
			c.Logger.Warn("local persistence is not available, caching in memory only", "err", err)
			c.CacheInLocalStorage = false
		}
	}

	return &User{cfg: c, log: c.Logger}, nil
}

// Config returns a copy of the effective configuration.
func (u *User) Config() Config {
	return u.cfg
}

// Authenticate forwards credentials to the backend. It is not cached: the
// backend decides whether a call is a no-op.
func (u *User) Authenticate(ctx context.Context, credentials ...any) error {
	if err := u.cfg.Backend.Authenticate(ctx, credentials...); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return nil
}

// Load authenticates and fetches key from the backend. A key the backend has
// never seen yields a zero Envelope, whose timestamp 0 loses against any
// local write.
func (u *User) Load(ctx context.Context, key string) (envelope.Envelope, error) {
	if err := u.Authenticate(ctx); err != nil {
		return envelope.Envelope{}, err
	}

	payload, err := u.cfg.Backend.Load(ctx, key)
	if errors.Is(err, ErrNotFound) || (err == nil && len(payload) == 0) {
		u.cfg.Metrics.Load(nil)
		return envelope.Envelope{}, nil
	}
	u.cfg.Metrics.Load(err)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("%w: load %q: %w", ErrBackendUnavailable, key, err)
	}

	env, err := u.cfg.Codec.Decode(payload)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("%w: key %q: %w", ErrDecode, key, err)
	}
	return env, nil
}

// Store authenticates, encodes value with timestamp and writes it to the
// backend. A zero timestamp means now.
func (u *User) Store(ctx context.Context, key string, value any, timestamp uint64) error {
	if err := u.Authenticate(ctx); err != nil {
		return err
	}
	if timestamp == 0 {
		timestamp = u.now()
	}

	payload, err := u.cfg.Codec.Encode(value, timestamp)
	if err != nil {
		return fmt.Errorf("%w: key %q: %w", ErrEncode, key, err)
	}

	err = u.cfg.Backend.Store(ctx, key, payload)
	u.cfg.Metrics.Store(err)
	if err != nil {
		return fmt.Errorf("%w: store %q: %w", ErrBackendUnavailable, key, err)
	}
	return nil
}

func (u *User) now() uint64 {
	return envelope.Millis(u.cfg.Now())
}

// Data returns the cache engine, creating it on first call.
func (u *User) Data(ctx context.Context) (Engine, error) {
	u.once.Do(func() {
		u.engine, u.engineErr = u.cfg.NewEngine(ctx, u)
		if u.engineErr == nil && u.engine == nil {
			u.engineErr = &ConfigurationError{Option: "newEngine", Reason: "returned no engine"}
		}
	})
	return u.engine, u.engineErr
}

// Get returns the value for key, from the cache when possible.
func (u *User) Get(ctx context.Context, key string, opts ...GetOption) (any, error) {
	e, err := u.Data(ctx)
	if err != nil {
		return nil, err
	}
	return e.Get(ctx, key, opts...)
}

// Set caches value under key and marks it for the next Sync, or writes it
// through when SyncImmediately is given.
func (u *User) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	e, err := u.Data(ctx)
	if err != nil {
		return err
	}
	return e.Set(ctx, key, value, opts...)
}

// Delete drops key from the local cache and its pending write, if any.
func (u *User) Delete(ctx context.Context, key string) error {
	e, err := u.Data(ctx)
	if err != nil {
		return err
	}
	return e.Delete(ctx, key)
}

// Sync reconciles every cached key with the backend.
func (u *User) Sync(ctx context.Context) (*SyncReport, error) {
	e, err := u.Data(ctx)
	if err != nil {
		return nil, err
	}
	return e.Sync(ctx)
}

// Close releases the backend if it holds resources. Pending writes that were
// never synced are lost unless a mirror keeps the cached values.
func (u *User) Close() error {
	if c, ok := u.cfg.Backend.(closer); ok {
		return c.Close()
	}
	return nil
}
