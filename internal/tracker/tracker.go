package tracker

import "sync"

// Hooks receives busy/idle edge notifications. Implementations must be
// non-blocking and must not panic; a Tracker holds its lock across the call
// so the count and the notification stay one atomic step.
type Hooks interface {
	// Active fires when the request count rises from zero.
	Active()
	// Inactive fires when the request count returns to zero.
	Inactive()
}

// NopHooks is a valid do-nothing Hooks implementation.
type NopHooks struct{}

func (NopHooks) Active()   {}
func (NopHooks) Inactive() {}

// Tracker counts live requests for one actor.
type Tracker struct {
	mu       sync.Mutex
	active   int
	hooks    Hooks
	shutdown bool
}

// New creates a Tracker notifying the given hooks. Nil hooks are replaced
// with NopHooks.
func New(hooks Hooks) *Tracker {
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &Tracker{hooks: hooks}
}

// ActiveRequest is a handle representing one live request. It must be
// released exactly once via Done; releasing again is a no-op.
type ActiveRequest struct {
	once    sync.Once
	tracker *Tracker
}

// StartRequest registers a new live request. Creating the first one fires
// the Active hook.
func (t *Tracker) StartRequest() *ActiveRequest {
	t.mu.Lock()
	t.active++
	first := t.active == 1
	notify := first && !t.shutdown
	if notify {
		t.hooks.Active()
	}
	t.mu.Unlock()
	return &ActiveRequest{tracker: t}
}

// Done releases the handle. Releasing the last live request fires the
// Inactive hook.
func (r *ActiveRequest) Done() {
	r.once.Do(func() {
		t := r.tracker
		t.mu.Lock()
		t.active--
		if t.active == 0 && !t.shutdown {
			t.hooks.Inactive()
		}
		t.mu.Unlock()
	})
}

// ActiveCount returns the number of live requests.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Shutdown permanently disables hook notifications. Counting continues, so
// handles created before or after remain balanced.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	t.shutdown = true
	t.mu.Unlock()
}
