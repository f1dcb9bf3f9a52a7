package gate

import (
	"context"
	"sync"
)

// OutputGate tracks writes accepted but not yet confirmed by the backing
// store. Each accepted write locks the gate open until its resolve function
// runs; Wait drains the gate; Break fails the whole unconfirmed set at once.
type OutputGate struct {
	mu      sync.Mutex
	pending int
	idle    chan struct{}
	broken  error
}

// NewOutput creates an output gate with no pending writes.
func NewOutput() *OutputGate { return &OutputGate{} }

// Lock registers one unconfirmed write and returns its resolve function.
// Resolving with nil confirms the write; resolving with an error breaks the
// gate, failing the whole unconfirmed set. Resolve is idempotent.
func (g *OutputGate) Lock() func(error) {
	g.mu.Lock()
	g.pending++
	g.mu.Unlock()

	var once sync.Once
	return func(err error) {
		once.Do(func() {
			if err != nil {
				g.Break(err)
			}
			g.mu.Lock()
			g.pending--
			if g.pending == 0 && g.idle != nil {
				close(g.idle)
				g.idle = nil
			}
			g.mu.Unlock()
		})
	}
}

// Wait blocks until no unconfirmed writes remain. If the gate is or becomes
// broken, it returns the break error instead.
func (g *OutputGate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.broken != nil {
			err := g.broken
			g.mu.Unlock()
			return err
		}
		if g.pending == 0 {
			g.mu.Unlock()
			return nil
		}
		if g.idle == nil {
			g.idle = make(chan struct{})
		}
		ch := g.idle
		g.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Break marks the gate broken. The first error wins; waiters wake with it
// and every later Wait or Err call reports it.
func (g *OutputGate) Break(err error) {
	if err == nil {
		return
	}
	g.mu.Lock()
	if g.broken == nil {
		g.broken = err
	}
	if g.idle != nil {
		close(g.idle)
		g.idle = nil
	}
	g.mu.Unlock()
}

// Err returns the break error, or nil while the gate is intact.
func (g *OutputGate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.broken
}

// Pending returns the number of unconfirmed writes.
func (g *OutputGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}
