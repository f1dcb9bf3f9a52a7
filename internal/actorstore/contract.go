package actorstore

import (
	"context"
	"time"
)

// ReadOptions is the read contract passed down to the cache engine.
type ReadOptions struct {
	// NoCache routes the read directly to the backing store, bypassing the
	// cache and leaving it unpopulated.
	NoCache bool
}

// WriteOptions is the write contract passed down to the cache engine.
type WriteOptions struct {
	// AllowUnconfirmed lets the write return before the backing store
	// confirms it; the output gate tracks it until confirmation.
	AllowUnconfirmed bool
	// NoCache evicts the written entry from the cache once confirmed rather
	// than retaining it for future reads.
	NoCache bool
}

// Entry is one key-value pair. Values are opaque serialized blobs; this
// layer never inspects them.
type Entry struct {
	Key   string
	Value []byte
}

// ListRange is a normalized, validated key range. End == "" means
// unbounded; Limit == 0 means unlimited.
type ListRange struct {
	Start   string
	End     string
	Prefix  string
	Reverse bool
	Limit   int
}

// Bookmark is an opaque, totally ordered token naming a consistent cut of
// an actor's durable history. Tokens of equal history position compare
// equal; later cuts compare greater. No structural decomposition is exposed.
type Bookmark string

// CacheOps is the operation set shared by the cache engine and its
// transactions. Absent keys are reported via the bool/count results, never
// as errors.
type CacheOps interface {
	Get(ctx context.Context, key string, opts ReadOptions) ([]byte, bool, error)
	GetMultiple(ctx context.Context, keys []string, opts ReadOptions) (map[string][]byte, error)
	List(ctx context.Context, r ListRange, opts ReadOptions) ([]Entry, error)
	Put(ctx context.Context, key string, value []byte, opts WriteOptions) error
	PutMultiple(ctx context.Context, entries []Entry, opts WriteOptions) error
	Delete(ctx context.Context, key string, opts WriteOptions) (bool, error)
	DeleteMultiple(ctx context.Context, keys []string, opts WriteOptions) (int, error)
	GetAlarm(ctx context.Context, opts ReadOptions) (time.Time, bool, error)
	SetAlarm(ctx context.Context, at time.Time, opts WriteOptions) error
	DeleteAlarm(ctx context.Context, opts WriteOptions) error
}

// CacheTransaction is a staged view over the engine. Writes are invisible
// to the parent until Commit applies them as one atomic group.
type CacheTransaction interface {
	CacheOps

	// NewTransaction opens a nested staged view whose Commit merges into
	// this transaction's staging rather than the engine.
	NewTransaction() (CacheTransaction, error)

	Commit(ctx context.Context) error
	Rollback() error
}

// CacheInterface is the full consumed contract of the cache/backing-store
// engine.
type CacheInterface interface {
	CacheOps

	NewTransaction() (CacheTransaction, error)

	// DeleteAll wipes the actor's entire key-value keyspace. The alarm is
	// not part of the keyspace and survives.
	DeleteAll(ctx context.Context, opts WriteOptions) error

	// Sync blocks until every write issued so far is confirmed.
	Sync(ctx context.Context) error

	CurrentBookmark(ctx context.Context) (Bookmark, error)
	BookmarkForTime(ctx context.Context, at time.Time) (Bookmark, error)

	// ScheduleRestore arranges that on the actor's next cold start the
	// keyspace is rolled back to the state at b, and returns an undo
	// bookmark naming the state the actor will have at the end of the
	// current session.
	ScheduleRestore(ctx context.Context, b Bookmark) (Bookmark, error)
}
