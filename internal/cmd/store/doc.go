// Package store implements the offline `keel store` command tree: direct
// get/put/list/delete/deleteall/alarm operations against an actor's data
// directory, for inspection and repair while no server owns the store.
package store
