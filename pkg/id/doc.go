// Package id provides lexicographically sortable actor identifiers.
//
// An actor's ID doubles as its keyspace prefix in the store, so IDs must
// sort byte-wise in creation order. The layout is 16 bytes big-endian:
// 8 bytes of millisecond timestamp followed by 8 bytes of per-process
// sequence.
package id
