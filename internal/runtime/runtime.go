package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rzbill/keel/internal/actorcache"
	"github.com/rzbill/keel/internal/actorstore"
	cfgpkg "github.com/rzbill/keel/internal/config"
	"github.com/rzbill/keel/internal/gate"
	pebblestore "github.com/rzbill/keel/internal/storage/pebble"
	"github.com/rzbill/keel/pkg/id"
	"github.com/rzbill/keel/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Hooks         actorstore.Hooks
	Logger        log.Logger
}

// Runtime hosts actor instances over a shared store for a single-node
// deployment. Each actor gets its own gates, cache engine, and state; the
// Pebble store and configuration are shared.
type Runtime struct {
	db     *pebblestore.DB
	sqlDir string
	config cfgpkg.Config
	hooks  actorstore.Hooks
	logger log.Logger

	mu     sync.Mutex
	actors map[id.ID]*actorHandle
	closed bool
}

type actorHandle struct {
	state  *actorstore.State
	engine *actorcache.Cache
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	if opts.Hooks == nil {
		opts.Hooks = actorstore.NopHooks{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}

	sqlDir := filepath.Join(opts.DataDir, "sql")
	if err := os.MkdirAll(sqlDir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       filepath.Join(opts.DataDir, "store"),
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{
		db:     db,
		sqlDir: sqlDir,
		config: opts.Config,
		hooks:  opts.Hooks,
		logger: opts.Logger.WithComponent("runtime"),
		actors: make(map[id.ID]*actorHandle),
	}, nil
}

// Actor returns the resident state for actorID, cold-starting a session if
// the actor is not resident. Cold start applies any restore scheduled by
// the previous session.
func (r *Runtime) Actor(actorID id.ID) (*actorstore.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("runtime: closed")
	}
	if h, ok := r.actors[actorID]; ok {
		return h.state, nil
	}

	in := gate.NewInput()
	out := gate.NewOutput()
	engine, err := actorcache.Open(r.db, actorID, out, actorcache.Options{
		Retention:  r.config.BookmarkRetention(),
		FlushDelay: r.config.FlushDelay(),
		Hooks:      r.hooks,
		Logger:     r.logger,
	})
	if err != nil {
		return nil, err
	}
	st := actorstore.NewState(actorID, engine, in, out, actorstore.StateOptions{
		Config: actorstore.Config{
			MaxSyncTxnDepth: r.config.SyncTxnMaxDepth,
			Experimental:    r.config.Experimental,
			SQLPath:         filepath.Join(r.sqlDir, actorID.String()+".db"),
		},
		Hooks:  r.hooks,
		Logger: r.logger,
	})
	r.actors[actorID] = &actorHandle{state: st, engine: engine}
	r.logger.Debug("actor session started", log.Str("actor", actorID.String()))
	return st, nil
}

// ResidentActors reports how many actors currently hold a session.
func (r *Runtime) ResidentActors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// Deactivate ends an actor's session after flushing its staged writes. The
// next Actor call cold-starts a fresh session.
func (r *Runtime) Deactivate(ctx context.Context, actorID id.ID) error {
	r.mu.Lock()
	h, ok := r.actors[actorID]
	delete(r.actors, actorID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	_ = h.state.Storage().CloseSQL()
	err := h.engine.Close(ctx)
	r.logger.Debug("actor session ended", log.Str("actor", actorID.String()))
	return err
}

// Close ends every resident session and closes the store.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	actors := r.actors
	r.actors = make(map[id.ID]*actorHandle)
	r.mu.Unlock()

	var firstErr error
	for _, h := range actors {
		_ = h.state.Storage().CloseSQL()
		if err := h.engine.Close(context.Background()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// CheckHealth performs a simple health check against the store.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("runtime: db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// DB exposes the underlying store for tooling (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
