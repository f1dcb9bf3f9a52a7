package gate

import (
	"context"
	"sync"
)

// InputGate serializes mutating operations for one actor. Operations wait
// for admission while an exclusive section holds the gate; waiters are
// admitted when the section releases.
type InputGate struct {
	mu       sync.Mutex
	locked   bool
	released chan struct{}
}

// NewInput creates an open input gate.
func NewInput() *InputGate { return &InputGate{} }

// Wait blocks until the gate admits the caller. Operations issued with
// relaxed concurrency skip this call entirely.
func (g *InputGate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if !g.locked {
			g.mu.Unlock()
			return nil
		}
		ch := g.released
		g.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Lock acquires the gate exclusively, holding back all admissions until the
// returned release function runs. Release is idempotent.
func (g *InputGate) Lock(ctx context.Context) (func(), error) {
	for {
		g.mu.Lock()
		if !g.locked {
			g.locked = true
			ch := make(chan struct{})
			g.released = ch
			g.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					g.mu.Lock()
					g.locked = false
					g.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		ch := g.released
		g.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Locked reports whether an exclusive section currently holds the gate.
func (g *InputGate) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked
}
