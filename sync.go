package vuser

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SyncAction is what Sync did with one key.
type SyncAction string

const (
	// SyncPushed: the local write was newer and was stored remotely.
	SyncPushed SyncAction = "pushed"
	// SyncAdopted: the remote value was at least as new and replaced the
	// pending local write.
	SyncAdopted SyncAction = "adopted"
	// SyncRefreshed: the key was clean and the cache took the remote value.
	SyncRefreshed SyncAction = "refreshed"
	// SyncSuperseded: the key changed locally while the sync was in flight;
	// the newer local state was kept.
	SyncSuperseded SyncAction = "superseded"
	// SyncFailed: the key could not be reconciled; see KeyOutcome.Err.
	SyncFailed SyncAction = "failed"
)

type KeyOutcome struct {
	Key    string
	Action SyncAction
	Err    error
}

// SyncReport collects the outcome of every key processed by a Sync.
type SyncReport struct {
	mu       sync.Mutex
	outcomes map[string]KeyOutcome
}

func newSyncReport(n int) *SyncReport {
	return &SyncReport{outcomes: make(map[string]KeyOutcome, n)}
}

func (r *SyncReport) record(o KeyOutcome) {
	r.mu.Lock()
	r.outcomes[o.Key] = o
	r.mu.Unlock()
}

// Outcome returns the outcome for key, if key took part in the sync.
func (r *SyncReport) Outcome(key string) (KeyOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.outcomes[key]
	return o, ok
}

// Outcomes returns all outcomes ordered by key.
func (r *SyncReport) Outcomes() []KeyOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]KeyOutcome, 0, len(r.outcomes))
	for _, k := range slices.Sorted(maps.Keys(r.outcomes)) {
		out = append(out, r.outcomes[k])
	}
	return out
}

// Failed returns the keys that could not be reconciled, in order.
func (r *SyncReport) Failed() []string {
	var keys []string
	for _, o := range r.Outcomes() {
		if o.Err != nil {
			keys = append(keys, o.Key)
		}
	}
	return keys
}

// Succeeded returns the keys that were reconciled, in order.
func (r *SyncReport) Succeeded() []string {
	var keys []string
	for _, o := range r.Outcomes() {
		if o.Err == nil {
			keys = append(keys, o.Key)
		}
	}
	return keys
}

// Err joins the per-key failures as *KeyError values, or returns nil.
func (r *SyncReport) Err() error {
	var errs []error
	for _, o := range r.Outcomes() {
		if o.Err != nil {
			errs = append(errs, &KeyError{Key: o.Key, Err: o.Err})
		}
	}
	return errors.Join(errs...)
}

type syncJob struct {
	key     string
	value   any
	rev     uint64
	dirty   bool
	dirtyTS uint64
}

// Sync reconciles every cached key, clean or dirty, with the backend. Keys
// are processed concurrently and independently: for a dirty key the local
// write is pushed when the remote timestamp is older, otherwise the remote
// value is adopted; clean keys are refreshed. Sync waits for all keys to
// settle and returns the joined per-key errors alongside the full report.
//
// Pending writes are cleared for keys that were reconciled; a key that failed
// stays dirty and is retried by the next Sync.
//
// Sync is not atomic across devices: two engines syncing the same key at the
// same time can both decide their value is newer and both store it, and the
// last store wins regardless of timestamps.
func (d *UserData) Sync(ctx context.Context) (*SyncReport, error) {
	d.mu.Lock()
	jobs := make([]syncJob, 0, len(d.cache))
	for _, k := range slices.Sorted(maps.Keys(d.cache)) {
		e := d.cache[k]
		ts, dirty := d.dirty[k]
		jobs = append(jobs, syncJob{key: k, value: e.value, rev: e.rev, dirty: dirty, dirtyTS: ts})
	}
	d.mu.Unlock()

	report := newSyncReport(len(jobs))

	var g errgroup.Group
	if d.limit > 0 {
		g.SetLimit(d.limit)
	}
	for _, j := range jobs {
		g.Go(func() error {
			o := d.reconcile(ctx, j)
			d.metrics.Sync(string(o.Action))
			if o.Err != nil {
				d.log.Warn("failed to sync key", "key", o.Key, "err", o.Err)
			} else {
				d.log.Debug("synced key", "key", o.Key, "action", string(o.Action))
			}
			report.record(o)
			return nil
		})
	}
	_ = g.Wait()

	return report, report.Err()
}

func (d *UserData) reconcile(ctx context.Context, j syncJob) KeyOutcome {
	remote, err := d.user.Load(ctx, j.key)
	if err != nil {
		return KeyOutcome{Key: j.key, Action: SyncFailed, Err: err}
	}

	if j.dirty && remote.Timestamp < j.dirtyTS {
		if err := d.user.Store(ctx, j.key, j.value, j.dirtyTS); err != nil {
			return KeyOutcome{Key: j.key, Action: SyncFailed, Err: err}
		}
		d.mu.Lock()
		d.clearDirtyLocked(j)
		d.mu.Unlock()
		return KeyOutcome{Key: j.key, Action: SyncPushed}
	}

	d.mu.Lock()
	if d.revLocked(j.key) != j.rev {
		d.mu.Unlock()
		return KeyOutcome{Key: j.key, Action: SyncSuperseded}
	}
	d.clearDirtyLocked(j)
	snap, seq := d.cacheLocked(j.key, remote.Value)
	d.mu.Unlock()
	d.flush(ctx, snap, seq)

	if j.dirty {
		return KeyOutcome{Key: j.key, Action: SyncAdopted}
	}
	return KeyOutcome{Key: j.key, Action: SyncRefreshed}
}

// clearDirtyLocked drops the pending write observed by j, unless a newer
// write replaced it in the meantime.
func (d *UserData) clearDirtyLocked(j syncJob) {
	if !j.dirty {
		return
	}
	if ts, ok := d.dirty[j.key]; ok && ts == j.dirtyTS && d.revLocked(j.key) == j.rev {
		delete(d.dirty, j.key)
	}
}
