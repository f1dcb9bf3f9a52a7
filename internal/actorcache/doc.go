// Package actorcache is the Pebble-backed cache and backing-store engine
// behind an actor's storage facade. It implements the cache contract
// consumed by internal/actorstore.
//
// # Keyspace
//
// Each actor owns a byte-wise prefix of the shared database (actor IDs are
// fixed 16-byte, lexicographically sortable values):
//   - act/{id}/kv/{key}            user entries
//   - act/{id}/alarm               scheduled wake time (8B BE ms)
//   - act/{id}/seq                 last committed sequence (8B BE)
//   - act/{id}/floor               oldest restorable sequence (8B BE)
//   - act/{id}/epoch               session epoch (8B BE)
//   - act/{id}/restore             pending restore marker
//   - act/{id}/undo/{epoch_be8}    undo-bookmark resolutions
//   - act/{id}/bk/{seq_be8}        bookmark time samples (commit ms)
//   - act/{id}/hist/{seq_be8}/{key} pre-images for point-in-time restore
//
// # Write path
//
// Writes are staged in a dirty set and committed as one atomic Pebble batch
// per flush. Confirmed writes flush before returning; unconfirmed writes
// return immediately and the flusher confirms them through the output gate.
// A flush failure fails the entire staged set and breaks the gate: the
// session either lands all unconfirmed writes or is torn down.
//
// Every flush commits under a fresh sequence number and records pre-images,
// which is what bookmarks and next-session restores are built from.
package actorcache
