// The [vuser] package is a cached, offline-tolerant, per-user key/value layer
// in front of any backend the application can reach.
//
// # Backends
//
// The application supplies a [Backend]: three functions to authenticate, load
// and store a single key. Ready-made backends live under pkg/backend:
// SurrealDB over WebSocket ([github.com/surrealdb/vuser.go/pkg/backend/surreal]),
// SQL through GORM ([github.com/surrealdb/vuser.go/pkg/backend/sqlstore]) and a
// small HTTP protocol ([github.com/surrealdb/vuser.go/pkg/backend/rest]).
//
// Values travel as envelopes of value and write timestamp. The encoding is
// pluggable through [Config.Codec]; JSON is the default.
//
// # Caching and Sync
//
// [User.Get] serves from the cache and only loads from the backend on a miss.
// [User.Set] updates the cache and marks the key dirty; nothing is sent until
// [User.Sync], unless [SyncImmediately] is given.
//
// [User.Sync] reconciles every cached key. For dirty keys the newer of the local
// write and the remote value wins by timestamp. Each key is reconciled on its
// own, and the returned [SyncReport] tells which keys succeeded.
//
// The policy is last writer by timestamp wins. Two devices syncing the same key
// at the same moment can still lose an update; vuser does not lock the backend.
//
// # Local Persistence
//
// With [Config.CacheInLocalStorage] the whole cache is mirrored into a
// [github.com/surrealdb/vuser.go/pkg/mirror.Mirror] after every change and read
// back when the next session starts. A mirror that is not available only costs
// durability; the session keeps working from memory.
package vuser
