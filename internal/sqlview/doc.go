// Package sqlview exposes a per-actor SQLite database colocated with the
// actor's key-value state. The view records its existence and write
// activity through a Store, which the storage facade backs with direct
// I/O so those records are immediately durable and never reordered behind
// gated work.
package sqlview
