// Package runtime wires the pieces of a single-node actor host: the shared
// Pebble store, per-actor gates and cache engines, and the storage facades
// handed to actor code. Sessions are resident until deactivated; a cold
// start applies any restore the previous session scheduled.
package runtime
