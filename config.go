package vuser

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/vuser.go/pkg/envelope"
	"github.com/surrealdb/vuser.go/pkg/logger"
	"github.com/surrealdb/vuser.go/pkg/metrics"
	"github.com/surrealdb/vuser.go/pkg/mirror"
)

// ReloadPolicy decides what a forced reload (Get with IgnoreCache) does to a
// key that has an unsynced local write.
type ReloadPolicy int

const (
	// ReloadReconcile applies the same rule as Sync: the remote value wins
	// only if it is at least as new as the local write.
	ReloadReconcile ReloadPolicy = iota
	// ReloadDiscardPending always adopts the remote value and drops the
	// pending local write.
	ReloadDiscardPending
	// ReloadKeepPending leaves a pending local write untouched; the remote
	// value is only cached for clean keys.
	ReloadKeepPending
)

func (p ReloadPolicy) String() string {
	switch p {
	case ReloadReconcile:
		return "reconcile"
	case ReloadDiscardPending:
		return "discard-pending"
	case ReloadKeepPending:
		return "keep-pending"
	}
	return fmt.Sprintf("ReloadPolicy(%d)", int(p))
}

// EngineFunc builds the cache engine for a user. It is called once, on the
// first data access.
type EngineFunc func(ctx context.Context, u *User) (Engine, error)

// Config configures a User. Only Backend is required; New fills in defaults
// for everything else.
type Config struct {
	Backend Backend

	// Codec encodes values for the backend. Defaults to envelope.JSON().
	Codec envelope.Codec

	// NewEngine swaps the cache engine. Defaults to NewUserData.
	NewEngine EngineFunc

	// CacheInLocalStorage mirrors the cache into Mirror. When false and a
	// Mirror is set, the mirror is cleared when the engine starts.
	CacheInLocalStorage bool
	Mirror              mirror.Mirror

	ReloadPolicy ReloadPolicy

	// SyncConcurrency bounds how many keys Sync reconciles at once.
	// Zero means no limit.
	SyncConcurrency int

	Logger  logger.Logger
	Metrics metrics.Recorder

	// Now is the clock used for write timestamps.
	Now func() time.Time
}

// NewConfig returns a Config for b with every default filled in.
func NewConfig(b Backend) *Config {
	return &Config{
		Backend:      b,
		Codec:        envelope.JSON(),
		NewEngine:    defaultEngine,
		ReloadPolicy: ReloadReconcile,
		Logger:       logger.Default(),
		Now:          time.Now,
	}
}

func defaultEngine(ctx context.Context, u *User) (Engine, error) {
	return NewUserData(ctx, u)
}

func (c *Config) withDefaults() {
	d := NewConfig(c.Backend)
	if c.Codec == nil {
		c.Codec = d.Codec
	}
	if c.NewEngine == nil {
		c.NewEngine = d.NewEngine
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Metrics == nil {
		c.Metrics = (*metrics.Metrics)(nil)
	}
	if c.Now == nil {
		c.Now = d.Now
	}
}

type validator interface {
	validate() error
}

func (c *Config) validate() error {
	if c.Backend == nil {
		return &ConfigurationError{Option: "backend", Reason: "must be defined"}
	}
	if v, ok := c.Backend.(validator); ok {
		if err := v.validate(); err != nil {
			return err
		}
	}
	if c.CacheInLocalStorage && c.Mirror == nil {
		return &ConfigurationError{Option: "cacheInLocalStorage", Reason: "requires a mirror"}
	}
	switch c.ReloadPolicy {
	case ReloadReconcile, ReloadDiscardPending, ReloadKeepPending:
	default:
		return &ConfigurationError{Option: "reloadPolicy", Reason: "unknown policy " + c.ReloadPolicy.String()}
	}
	if c.SyncConcurrency < 0 {
		return &ConfigurationError{Option: "syncConcurrency", Reason: "must not be negative"}
	}
	return nil
}
