// Package tracker counts in-flight requests for an actor and notifies the
// host on the busy/idle edges, so an idle actor can be evicted without
// dropping work.
//
// Hooks fire only on the 0→1 and 1→0 transitions; interior increments and
// decrements adjust the count silently. The count/notify step is atomic
// under the tracker's lock, so hook implementations must not block.
package tracker
