package actorstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rzbill/keel/internal/gate"
	"github.com/rzbill/keel/internal/sqlview"
)

// Config carries the facade-level knobs.
type Config struct {
	// MaxSyncTxnDepth bounds TransactionSync reentrancy. Zero means 1.
	MaxSyncTxnDepth int
	// Experimental unlocks the bookmark surface, TransactionSync, and the
	// SQL side-view.
	Experimental bool
	// SQLPath is the SQLite file backing the SQL side-view. Empty disables
	// the view.
	SQLPath string
	Hooks   Hooks
}

// Storage is the actor-visible facade over one actor's cache engine. All
// verbs of CacheOps are available on it directly, ordered behind the
// actor's gates.
type Storage struct {
	storageOps
	engine CacheInterface
	cfg    Config

	mu        sync.Mutex
	broken    error
	syncStack []CacheTransaction

	sqlOnce sync.Once
	sqlView *sqlview.View
	sqlErr  error
}

// NewStorage wires a facade over an engine and the actor's gates.
func NewStorage(engine CacheInterface, in *gate.InputGate, out *gate.OutputGate, cfg Config) *Storage {
	if cfg.MaxSyncTxnDepth <= 0 {
		cfg.MaxSyncTxnDepth = 1
	}
	if cfg.Hooks == nil {
		cfg.Hooks = NopHooks{}
	}
	s := &Storage{engine: engine, cfg: cfg}
	s.storageOps = storageOps{own: s, in: in, out: out, hooks: cfg.Hooks}
	return s
}

// cache routes verbs to the innermost open synchronous transaction, or the
// engine when none is open. A broken facade rejects everything.
func (s *Storage) cache(op opName) (CacheOps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken != nil {
		return nil, s.broken
	}
	if n := len(s.syncStack); n > 0 {
		return s.syncStack[n-1], nil
	}
	return s.engine, nil
}

func (s *Storage) directIO() bool { return false }

// breakStorage invalidates the facade; every subsequent operation fails
// with the recorded error. First error wins.
func (s *Storage) breakStorage(err error) {
	s.mu.Lock()
	if s.broken == nil {
		s.broken = err
	}
	s.mu.Unlock()
}

func (s *Storage) brokenErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

// Transaction runs fn against a staged view. The view commits when fn
// returns nil and rolls back when it returns an error. fn may finish the
// transaction early through Txn.Rollback; the implicit outcome then yields.
func (s *Storage) Transaction(ctx context.Context, fn func(ctx context.Context, txn *Txn) error) error {
	inner, err := s.newEngineTxn()
	if err != nil {
		return err
	}
	txn := newTxn(s, inner)
	// The deferred rollback also covers a panicking fn; after a commit it is
	// a no-op, so exactly one outcome runs however the closure terminates.
	defer txn.maybeRollback()
	if err := fn(ctx, txn); err != nil {
		return err
	}
	return txn.maybeCommit(ctx)
}

func (s *Storage) newEngineTxn() (CacheTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken != nil {
		return nil, s.broken
	}
	if n := len(s.syncStack); n > 0 {
		return s.syncStack[n-1].NewTransaction()
	}
	return s.engine.NewTransaction()
}

// TransactionSync runs fn inside a savepoint without suspension points
// between operations: every verb issued by fn routes through the savepoint
// until it closes. Reentrancy is bounded by MaxSyncTxnDepth.
func (s *Storage) TransactionSync(fn func() error) error {
	if !s.cfg.Experimental {
		return ErrExperimental
	}

	s.mu.Lock()
	if s.broken != nil {
		s.mu.Unlock()
		return s.broken
	}
	if len(s.syncStack) >= s.cfg.MaxSyncTxnDepth {
		s.mu.Unlock()
		return ErrSyncDepth
	}
	var txn CacheTransaction
	var err error
	if n := len(s.syncStack); n > 0 {
		txn, err = s.syncStack[n-1].NewTransaction()
	} else {
		txn, err = s.engine.NewTransaction()
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.syncStack = append(s.syncStack, txn)
	s.mu.Unlock()

	// Unwind in a defer so a panicking fn cannot leave the dead savepoint
	// routing verbs or holding a depth slot.
	committed := false
	defer func() {
		s.mu.Lock()
		s.syncStack = s.syncStack[:len(s.syncStack)-1]
		s.mu.Unlock()
		if !committed {
			_ = txn.Rollback()
		}
	}()

	if err := fn(); err != nil {
		return err
	}
	committed = true
	return txn.Commit(context.Background())
}

// DeleteAll wipes the actor's keyspace. The wipe is not transactionally
// composable: it is rejected while a synchronous transaction is open, and
// Txn rejects it always.
func (s *Storage) DeleteAll(ctx context.Context, opts PutOptions) error {
	opts = s.configureWrite(opts)
	s.mu.Lock()
	if s.broken != nil {
		s.mu.Unlock()
		return s.broken
	}
	if len(s.syncStack) > 0 {
		s.mu.Unlock()
		return ErrTxnDeleteAll
	}
	s.mu.Unlock()
	if err := s.admit(ctx, opDeleteAll, opts.AllowConcurrency); err != nil {
		return err
	}
	return s.engine.DeleteAll(ctx, opts.write())
}

// Sync returns once every write issued so far is confirmed durable, or
// fails with the output gate's break error.
func (s *Storage) Sync(ctx context.Context) error {
	if err := s.brokenErr(); err != nil {
		return err
	}
	return s.engine.Sync(ctx)
}

// CurrentBookmark names the actor's current durable state.
func (s *Storage) CurrentBookmark(ctx context.Context) (Bookmark, error) {
	if err := s.bookmarkable(); err != nil {
		return "", err
	}
	return s.engine.CurrentBookmark(ctx)
}

// BookmarkForTime names the newest durable state at or before the given
// wall-clock time, within the retention window.
func (s *Storage) BookmarkForTime(ctx context.Context, at time.Time) (Bookmark, error) {
	if err := s.bookmarkable(); err != nil {
		return "", err
	}
	return s.engine.BookmarkForTime(ctx, at)
}

// OnNextSessionRestoreBookmark schedules a rollback to b, applied when the
// actor next cold-starts, and returns an undo bookmark naming the state the
// actor will have at the end of the current session.
func (s *Storage) OnNextSessionRestoreBookmark(ctx context.Context, b Bookmark) (Bookmark, error) {
	if err := s.bookmarkable(); err != nil {
		return "", err
	}
	return s.engine.ScheduleRestore(ctx, b)
}

func (s *Storage) bookmarkable() error {
	if !s.cfg.Experimental {
		return ErrExperimental
	}
	return s.brokenErr()
}

// SQL opens the actor's SQL side-view lazily. The view's key-value
// touchpoints run as direct I/O: relaxed concurrency, cache bypass,
// immediately durable.
func (s *Storage) SQL() (*sqlview.View, error) {
	if !s.cfg.Experimental {
		return nil, ErrExperimental
	}
	if err := s.brokenErr(); err != nil {
		return nil, err
	}
	s.sqlOnce.Do(func() {
		var v *sqlview.View
		var err error
		if s.cfg.SQLPath == "" {
			err = errors.New("actorstore: sql view is not configured")
		} else {
			direct := &directStore{}
			direct.ops = storageOps{own: directOwner{s}, in: s.in, out: s.out, hooks: s.hooks}
			v, err = sqlview.Open(s.cfg.SQLPath, direct)
		}
		s.mu.Lock()
		s.sqlView, s.sqlErr = v, err
		s.mu.Unlock()
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sqlView, s.sqlErr
}

// CloseSQL closes the side-view if it was opened.
func (s *Storage) CloseSQL() error {
	s.mu.Lock()
	v := s.sqlView
	s.mu.Unlock()
	if v == nil {
		return nil
	}
	return v.Close()
}

// directOwner dispatches straight to the engine, bypassing any open
// synchronous transaction.
type directOwner struct{ s *Storage }

func (d directOwner) cache(op opName) (CacheOps, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if d.s.broken != nil {
		return nil, d.s.broken
	}
	return d.s.engine, nil
}

func (directOwner) directIO() bool { return true }

// directStore adapts the direct-I/O verbs to the SQL view's store contract.
type directStore struct{ ops storageOps }

func (d *directStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return d.ops.Get(ctx, key, GetOptions{})
}

func (d *directStore) Put(ctx context.Context, key string, value []byte) error {
	return d.ops.Put(ctx, key, value, PutOptions{})
}
