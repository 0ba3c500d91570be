package vuser

import (
	"context"
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/surrealdb/vuser.go/pkg/logger"
	"github.com/surrealdb/vuser.go/pkg/metrics"
	"github.com/surrealdb/vuser.go/pkg/mirror"
)

type entry struct {
	value any
	// rev changes on every write, so background reads can tell whether the
	// entry moved on while they were in flight.
	rev uint64
}

// UserData caches one user's values and remembers which of them were written
// locally and when, so Sync can reconcile them with the backend.
//
// UserData is safe for concurrent use, but it does not order overlapping
// calls on the same key: callers that need strict per-key ordering must wait
// for one call to return before issuing the next. Concurrent cold Gets for the
// same key each load from the backend.
type UserData struct {
	user    *User
	log     logger.Logger
	metrics metrics.Recorder
	policy  ReloadPolicy
	limit   int

	mu    sync.Mutex
	cache map[string]*entry
	dirty map[string]uint64
	rev   uint64

	mirror   mirror.Mirror
	persist  bool
	mirrorMu sync.Mutex
	mirrored uint64
}

// NewUserData creates the default engine for u. With CacheInLocalStorage the
// cache is hydrated from the mirror; otherwise a configured mirror is
// cleared. Mirror failures are logged and never fail construction.
func NewUserData(ctx context.Context, u *User) (*UserData, error) {
	cfg := u.cfg
	d := &UserData{
		user:    u,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		policy:  cfg.ReloadPolicy,
		limit:   cfg.SyncConcurrency,
		cache:   map[string]*entry{},
		dirty:   map[string]uint64{},
		mirror:  cfg.Mirror,
		persist: cfg.CacheInLocalStorage && cfg.Mirror != nil,
	}

	switch {
	case d.persist:
		data, err := d.mirror.ReadAll(ctx)
		if err != nil {
			d.log.Warn("unable to hydrate cache from local persistence", "err", err)
			break
		}
		for k, v := range data {
			d.rev++
			d.cache[k] = &entry{value: v, rev: d.rev}
		}
		d.log.Debug("hydrated cache from local persistence", "keys", len(data))
	case d.mirror != nil:
		if err := d.mirror.Clear(ctx); err != nil {
			d.log.Debug("unable to clear local persistence", "err", err)
		}
	}
	d.metrics.CacheSize(len(d.cache))

	return d, nil
}

// Get returns the cached value for key. On a miss, or with IgnoreCache, the
// value is loaded from the backend and cached; a pending local write for the
// key is then resolved according to the configured ReloadPolicy.
func (d *UserData) Get(ctx context.Context, key string, opts ...GetOption) (any, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	d.mu.Lock()
	e, ok := d.cache[key]
	rev := d.revLocked(key)
	d.mu.Unlock()
	if ok && !o.ignoreCache {
		return e.value, nil
	}

	remote, err := d.user.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.revLocked(key) != rev {
		// Written locally while we were loading; the local value is newer.
		current, ok := d.cache[key]
		d.mu.Unlock()
		d.log.Debug("discarding stale load", "key", key)
		if ok {
			return current.value, nil
		}
		return remote.Value, nil
	}

	ts, dirty := d.dirty[key]
	if dirty {
		keepLocal := false
		switch d.policy {
		case ReloadKeepPending:
			keepLocal = true
		case ReloadReconcile:
			keepLocal = remote.Timestamp < ts
		}
		if keepLocal {
			value := d.cache[key].value
			d.mu.Unlock()
			return value, nil
		}
		delete(d.dirty, key)
	}
	snap, seq := d.cacheLocked(key, remote.Value)
	d.mu.Unlock()

	d.flush(ctx, snap, seq)
	return remote.Value, nil
}

// Set caches value under key. Without SyncImmediately the key is marked
// dirty with the current time and nothing is sent to the backend.
func (d *UserData) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}

	now := d.user.now()

	d.mu.Lock()
	snap, seq := d.cacheLocked(key, value)
	rev := d.revLocked(key)
	if !o.syncImmediately {
		d.dirty[key] = now
	}
	d.mu.Unlock()

	d.flush(ctx, snap, seq)

	if !o.syncImmediately {
		return nil
	}

	if err := d.user.Store(ctx, key, value, now); err != nil {
		return err
	}

	d.mu.Lock()
	if d.revLocked(key) == rev {
		delete(d.dirty, key)
	}
	d.mu.Unlock()
	return nil
}

// Delete forgets key locally. The backend is not touched.
func (d *UserData) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	if _, ok := d.cache[key]; !ok {
		d.mu.Unlock()
		return nil
	}
	delete(d.cache, key)
	delete(d.dirty, key)
	d.rev++
	snap, seq := d.snapshotLocked()
	d.mu.Unlock()

	d.flush(ctx, snap, seq)
	return nil
}

// Peek returns the cached value for key without touching the backend.
func (d *UserData) Peek(key string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.cache[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Keys returns the cached keys in sorted order.
func (d *UserData) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Sorted(maps.Keys(d.cache))
}

// Dirty returns a copy of the pending local writes and their timestamps.
func (d *UserData) Dirty() map[string]uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.dirty)
}

// IsDirty reports whether key has a local write that was not synced yet.
func (d *UserData) IsDirty(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.dirty[key]
	return ok
}

func (d *UserData) revLocked(key string) uint64 {
	if e, ok := d.cache[key]; ok {
		return e.rev
	}
	return 0
}

// cacheLocked stores value under key and moves its revision, even when the
// value is unchanged. It returns a snapshot to mirror when the value actually
// changed and persistence is on.
func (d *UserData) cacheLocked(key string, value any) (map[string]any, uint64) {
	e, ok := d.cache[key]
	unchanged := ok && reflect.DeepEqual(e.value, value)
	d.rev++
	d.cache[key] = &entry{value: value, rev: d.rev}
	if unchanged {
		return nil, 0
	}
	return d.snapshotLocked()
}

func (d *UserData) snapshotLocked() (map[string]any, uint64) {
	d.metrics.CacheSize(len(d.cache))
	if !d.persist {
		return nil, 0
	}
	snap := make(map[string]any, len(d.cache))
	for k, e := range d.cache {
		snap[k] = e.value
	}
	return snap, d.rev
}

// flush writes snap to the mirror unless a newer snapshot got there first.
// Failures only cost durability.
func (d *UserData) flush(ctx context.Context, snap map[string]any, seq uint64) {
	if snap == nil {
		return
	}
	d.mirrorMu.Lock()
	defer d.mirrorMu.Unlock()
	if seq <= d.mirrored {
		return
	}
	d.mirrored = seq
	if err := d.mirror.WriteAll(ctx, snap); err != nil {
		d.log.Warn("unable to write cache to local persistence", "err", err)
	}
}

var _ Engine = (*UserData)(nil)

