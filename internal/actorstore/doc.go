// Package actorstore is the storage surface an actor sees: transactional,
// cached, durable key-value operations plus alarms, bookmarks, and the
// liveness and concurrency controls the host uses around them.
//
// The package is organized around a small set of roles:
//
//   - Storage is the actor-visible facade. It dispatches the shared verbs
//     (get/list/put/delete/alarm ops), orchestrates transactions, wipes the
//     keyspace, drains unconfirmed writes, and manages bookmarks.
//   - Txn is a scoped view produced by Storage.Transaction, reusing the same
//     verbs against a staged overlay with a close-once commit/rollback
//     lifecycle.
//   - State owns one actor's gates and request tracker and exposes
//     BlockConcurrencyWhile and Abort.
//   - CacheInterface is the consumed contract of the cache/backing-store
//     engine; internal/actorcache provides the Pebble-backed implementation.
//
// Every verb normalizes its options before dispatch. Owners that use direct
// I/O (the SQL side-view) force relaxed concurrency and cache bypass on all
// of their operations.
package actorstore
