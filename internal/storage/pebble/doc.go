// Package pebblestore wraps a Pebble database with the durability policy and
// helpers shared by Keel's storage engine.
//
// All writes go through batches so the configured fsync policy applies
// uniformly. The wrapper adds the primitives the actor keyspace needs on top
// of raw Pebble: ranged deletes for keyspace wipes, existence probes, and a
// metrics hook observing read/write/commit volume.
package pebblestore
