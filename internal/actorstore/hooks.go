package actorstore

import "time"

// Hooks receives per-operation observations from the storage layer. All
// methods are fire-and-forget: implementations must not block and must not
// panic, and the zero-cost NopHooks is always a valid implementation.
type Hooks interface {
	// ReadUnits reports units read by a get or list, split by whether the
	// cache served them.
	ReadUnits(n int, cached bool)
	// WriteUnits reports units written by a put or alarm write.
	WriteUnits(n int)
	// DeleteUnits reports keys that existed among a delete.
	DeleteUnits(n int)

	// InputGateWaited reports time spent waiting for gate admission.
	InputGateWaited(d time.Duration)
	// InputGateLocked and InputGateReleased bracket exclusive sections.
	InputGateLocked()
	InputGateReleased()

	// RequestActive and RequestInactive mirror the request tracker's
	// busy/idle edges.
	RequestActive()
	RequestInactive()
}

// NopHooks is the default no-op Hooks implementation.
type NopHooks struct{}

func (NopHooks) ReadUnits(int, bool)            {}
func (NopHooks) WriteUnits(int)                 {}
func (NopHooks) DeleteUnits(int)                {}
func (NopHooks) InputGateWaited(time.Duration)  {}
func (NopHooks) InputGateLocked()               {}
func (NopHooks) InputGateReleased()             {}
func (NopHooks) RequestActive()                 {}
func (NopHooks) RequestInactive()               {}
