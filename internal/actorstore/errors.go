package actorstore

import "errors"

var (
	// ErrTxnClosed is returned by operations on a committed or rolled-back
	// transaction.
	ErrTxnClosed = errors.New("actorstore: transaction is closed")

	// ErrTxnDeleteAll is returned by DeleteAll on a transaction; a
	// full-keyspace wipe is not transactionally composable.
	ErrTxnDeleteAll = errors.New("actorstore: deleteAll() is not supported inside a transaction")

	// ErrInvalidLimit is returned when a list limit is negative; zero means
	// no limit.
	ErrInvalidLimit = errors.New("actorstore: list limit must be a positive integer")

	// ErrConflictingStart is returned when both start and startAfter are set.
	ErrConflictingStart = errors.New("actorstore: list options cannot specify both start and startAfter")

	// ErrRetention is returned for bookmark timestamps outside the
	// retention window.
	ErrRetention = errors.New("actorstore: timestamp is outside the bookmark retention window")

	// ErrAborted is the base error for operations after the actor instance
	// was aborted and its output gate broken.
	ErrAborted = errors.New("actorstore: actor instance was aborted")

	// ErrSyncDepth is returned when synchronous transactions nest beyond
	// the configured depth.
	ErrSyncDepth = errors.New("actorstore: synchronous transaction reentrancy depth exceeded")

	// ErrExperimental is returned by surfaces gated behind the experimental
	// capability when it was not granted at construction.
	ErrExperimental = errors.New("actorstore: experimental storage features are not enabled")
)
