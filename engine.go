package vuser

import "context"

// Engine is the cache in front of a User's backend. UserData is the default
// implementation; Config.NewEngine installs another one.
type Engine interface {
	Get(ctx context.Context, key string, opts ...GetOption) (any, error)
	Set(ctx context.Context, key string, value any, opts ...SetOption) error
	Delete(ctx context.Context, key string) error
	Sync(ctx context.Context) (*SyncReport, error)
}

type getOptions struct {
	ignoreCache bool
}

type GetOption func(*getOptions)

// IgnoreCache forces a remote load even when the key is cached.
func IgnoreCache() GetOption {
	return func(o *getOptions) {
		o.ignoreCache = true
	}
}

type setOptions struct {
	syncImmediately bool
}

type SetOption func(*setOptions)

// SyncImmediately writes the value through to the backend before Set
// returns. A failed write is returned and the key is not queued for Sync.
func SyncImmediately() SetOption {
	return func(o *setOptions) {
		o.syncImmediately = true
	}
}
