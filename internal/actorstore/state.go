package actorstore

import (
	"context"
	"fmt"

	"github.com/rzbill/keel/internal/gate"
	"github.com/rzbill/keel/internal/tracker"
	"github.com/rzbill/keel/pkg/id"
	"github.com/rzbill/keel/pkg/log"
)

// StateOptions configures a State.
type StateOptions struct {
	Config Config
	Hooks  Hooks
	Logger log.Logger
}

// State owns one actor instance's concurrency and liveness controls: its
// gates, its request tracker, and the storage facade built over them.
type State struct {
	actorID id.ID
	storage *Storage
	in      *gate.InputGate
	out     *gate.OutputGate
	trk     *tracker.Tracker
	hooks   Hooks
	logger  log.Logger
}

// NewState wires a State over an engine and the gates the engine was built
// with.
func NewState(actorID id.ID, engine CacheInterface, in *gate.InputGate, out *gate.OutputGate, opts StateOptions) *State {
	if opts.Hooks == nil {
		opts.Hooks = NopHooks{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	opts.Config.Hooks = opts.Hooks

	st := &State{
		actorID: actorID,
		in:      in,
		out:     out,
		hooks:   opts.Hooks,
		logger:  opts.Logger.With(log.Str("actor", actorID.String())),
	}
	st.storage = NewStorage(engine, in, out, opts.Config)
	st.trk = tracker.New(edgeHooks{opts.Hooks})
	return st
}

func (st *State) ID() id.ID           { return st.actorID }
func (st *State) Storage() *Storage   { return st.storage }
func (st *State) ActiveRequests() int { return st.trk.ActiveCount() }

// StartRequest marks a unit of request work against the actor. Release the
// handle when the work completes; releasing twice is safe.
func (st *State) StartRequest() *tracker.ActiveRequest {
	return st.trk.StartRequest()
}

// BlockConcurrencyWhile holds the input gate for the duration of fn, so no
// other operation interleaves with it. A failing fn aborts the actor:
// state built partially under the lock cannot be trusted afterward.
func (st *State) BlockConcurrencyWhile(ctx context.Context, fn func(context.Context) error) error {
	release, err := st.in.Lock(ctx)
	if err != nil {
		return err
	}
	st.hooks.InputGateLocked()
	err = fn(ctx)
	release()
	st.hooks.InputGateReleased()
	if err != nil {
		st.Abort(fmt.Sprintf("blockConcurrencyWhile callback failed: %v", err))
		return err
	}
	return nil
}

// Abort tears the actor instance down: the storage facade is invalidated,
// the output gate breaks so all unconfirmed work fails together, and the
// request tracker stops signaling.
func (st *State) Abort(reason string) {
	err := fmt.Errorf("%w: %s", ErrAborted, reason)
	st.storage.breakStorage(err)
	st.out.Break(err)
	st.trk.Shutdown()
	st.logger.Warn("actor aborted", log.Str("reason", reason))
}

// Aborted returns the abort error, or nil while the instance is healthy.
func (st *State) Aborted() error { return st.storage.brokenErr() }

// edgeHooks adapts tracker edges onto the storage hook surface.
type edgeHooks struct{ h Hooks }

func (e edgeHooks) Active()   { e.h.RequestActive() }
func (e edgeHooks) Inactive() { e.h.RequestInactive() }
