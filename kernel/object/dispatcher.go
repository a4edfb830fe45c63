// Package object defines the capability surface of kernel objects
// (dispatchers) as seen by the handle table, the per-object state tracker,
// and a few concrete dispatchers.
package object

import (
	"sync/atomic"

	"keystone/kernel/kpanic"
)

// Transition is a handle-count milestone reported to a state tracker.
type Transition uint8

const (
	TransitionNone Transition = iota
	// TransitionShared: the object gained its second handle.
	TransitionShared
	// TransitionSole: the object dropped back to a single handle.
	TransitionSole
	// TransitionUnreferenced: the last handle is gone.
	TransitionUnreferenced
)

func (t Transition) String() string {
	switch t {
	case TransitionNone:
		return "none"
	case TransitionShared:
		return "shared"
	case TransitionSole:
		return "sole"
	case TransitionUnreferenced:
		return "unreferenced"
	default:
		return "unknown"
	}
}

// StateTracker receives handle-count transitions and handle-scoped cancellation.
//
// The handle table calls it at most once per operation and never while holding
// its lock, so calls for one object may arrive out of order. tr names the
// transition that prompted the call; implementations derive their state from
// count, which always holds the current handle count.
type StateTracker interface {
	UpdateLastHandleSignal(tr Transition, count *atomic.Uint32)
	Cancel(handle uint32)
}

// Dispatcher is a reference-counted kernel object that handles point to.
type Dispatcher interface {
	Koid() Koid
	Type() Type

	// HandleCountPtr returns the object's handle count. It is only written
	// under the handle table lock; anyone may load it.
	HandleCountPtr() *atomic.Uint32

	// StateTracker returns nil if the object has no tracker.
	StateTracker() StateTracker

	// OnZeroHandles runs once the last handle to the object is deleted.
	OnZeroHandles()

	IncRef()
	DecRef()
}

// Closeable is implemented by the legacy dispatchers that have no state
// tracker but need explicit close logic when a handle is deleted. New object
// types should carry a state tracker instead.
type Closeable interface {
	Close()
}

// Base implements the bookkeeping part of Dispatcher. It is meant to be
// embedded; call Init before sharing the object.
type Base struct {
	koid        Koid
	typ         Type
	handleCount atomic.Uint32
	refs        atomic.Int64
	tracker     *Tracker
	destroyed   atomic.Bool
	onDestroy   func()
}

// Init assigns a koid and takes the creator's reference. tracker may be nil.
func (b *Base) Init(typ Type, tracker *Tracker) {
	b.koid = NewKoid()
	b.typ = typ
	b.tracker = tracker
	b.refs.Store(1)
}

// OnDestroy registers fn to run when the last reference is released.
func (b *Base) OnDestroy(fn func()) { b.onDestroy = fn }

func (b *Base) Koid() Koid                     { return b.koid }
func (b *Base) Type() Type                     { return b.typ }
func (b *Base) HandleCountPtr() *atomic.Uint32 { return &b.handleCount }
func (b *Base) RelatedKoid() Koid              { return KoidInvalid }
func (b *Base) OnZeroHandles()                 {}

// Tracker returns the concrete tracker, or nil.
func (b *Base) Tracker() *Tracker { return b.tracker }

func (b *Base) StateTracker() StateTracker {
	if b.tracker == nil {
		return nil
	}
	return b.tracker
}

func (b *Base) IncRef() {
	if b.refs.Add(1) <= 1 {
		kpanic.Fatalf("object: koid %d revived after destruction", b.koid)
	}
}

func (b *Base) DecRef() {
	n := b.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		kpanic.Fatalf("object: koid %d reference count underflow", b.koid)
	}
	b.destroyed.Store(true)
	if b.onDestroy != nil {
		b.onDestroy()
	}
}

// RefCount returns the current number of references.
func (b *Base) RefCount() int64 { return b.refs.Load() }

// Destroyed reports whether the last reference has been released.
func (b *Base) Destroyed() bool { return b.destroyed.Load() }
