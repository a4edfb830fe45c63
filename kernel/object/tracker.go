package object

import (
	"context"
	"sync"
	"sync/atomic"
)

// Signals is the waitable state of an object.
type Signals uint32

const (
	SignalNone Signals = 0

	// SignalSignaled is the generic "event asserted" bit.
	SignalSignaled Signals = 1 << 3
	// SignalTerminated is asserted on processes and jobs once they are dead.
	SignalTerminated Signals = 1 << 4

	SignalUser0 Signals = 1 << 24
	SignalUser1 Signals = 1 << 25
	SignalUser2 Signals = 1 << 26
	SignalUser3 Signals = 1 << 27

	// SignalHandleClosed is delivered to observers whose handle was deleted.
	SignalHandleClosed Signals = 1 << 29
	// SignalLastHandle is asserted while exactly one handle refers to the object.
	SignalLastHandle Signals = 1 << 30

	SignalUserAll = SignalSignaled | SignalUser0 | SignalUser1 | SignalUser2 | SignalUser3
)

// Tracker holds an object's signals and the observers waiting on them.
type Tracker struct {
	mu        sync.Mutex
	signals   Signals
	observers []*Observer
}

// NewTracker returns a tracker with the given initial signals.
func NewTracker(initial Signals) *Tracker {
	return &Tracker{signals: initial}
}

// Signals returns the current signal state.
func (t *Tracker) Signals() Signals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signals
}

// UpdateState clears and then sets signals, firing any observer whose
// trigger mask intersects the new state.
func (t *Tracker) UpdateState(clear, set Signals) {
	t.mu.Lock()
	fired, state := t.updateLocked(clear, set)
	t.mu.Unlock()

	for _, o := range fired {
		o.deliver(state)
	}
}

// UpdateLastHandleSignal asserts SignalLastHandle while count is exactly one
// and clears it otherwise. count is loaded under the tracker lock, so a late
// call for an older transition settles on the current count instead of
// undoing a newer one.
func (t *Tracker) UpdateLastHandleSignal(_ Transition, count *atomic.Uint32) {
	t.mu.Lock()
	var fired []*Observer
	var state Signals
	if count.Load() == 1 {
		fired, state = t.updateLocked(0, SignalLastHandle)
	} else {
		fired, state = t.updateLocked(SignalLastHandle, 0)
	}
	t.mu.Unlock()

	for _, o := range fired {
		o.deliver(state)
	}
}

func (t *Tracker) updateLocked(clear, set Signals) ([]*Observer, Signals) {
	prev := t.signals
	t.signals = (prev &^ clear) | set
	if t.signals == prev {
		return nil, t.signals
	}
	fired := t.collectLocked(func(o *Observer) bool { return o.trigger&t.signals != 0 })
	return fired, t.signals
}

// AddObserver registers a one-shot wait keyed by a handle value. If the
// trigger is already satisfied the observer fires immediately.
func (t *Tracker) AddObserver(handle uint32, trigger Signals) *Observer {
	o := &Observer{handle: handle, trigger: trigger, ch: make(chan Signals, 1)}

	t.mu.Lock()
	state := t.signals
	if trigger&state != 0 {
		t.mu.Unlock()
		o.deliver(state)
		return o
	}
	t.observers = append(t.observers, o)
	t.mu.Unlock()
	return o
}

// RemoveObserver unregisters o without delivering anything. It reports
// whether o was still pending.
func (t *Tracker) RemoveObserver(o *Observer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := t.collectLocked(func(c *Observer) bool { return c == o })
	return len(removed) > 0
}

// Cancel fires every observer registered through the given handle with
// SignalHandleClosed. Observers registered through other handles to the same
// object are untouched.
func (t *Tracker) Cancel(handle uint32) {
	t.mu.Lock()
	fired := t.collectLocked(func(o *Observer) bool { return o.handle == handle })
	state := t.signals
	t.mu.Unlock()

	for _, o := range fired {
		o.deliver(state | SignalHandleClosed)
	}
}

// Pending returns the number of registered observers.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.observers)
}

func (t *Tracker) collectLocked(match func(*Observer) bool) []*Observer {
	var out []*Observer
	kept := t.observers[:0]
	for _, o := range t.observers {
		if match(o) {
			out = append(out, o)
			continue
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(t.observers); i++ {
		t.observers[i] = nil
	}
	t.observers = kept
	return out
}

// Observer is a pending one-shot wait on a tracker.
type Observer struct {
	handle  uint32
	trigger Signals
	ch      chan Signals
}

// C delivers the observed signals exactly once.
func (o *Observer) C() <-chan Signals { return o.ch }

// Wait blocks until the observer fires or ctx is done.
func (o *Observer) Wait(ctx context.Context) (Signals, error) {
	select {
	case s := <-o.ch:
		return s, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (o *Observer) deliver(s Signals) {
	select {
	case o.ch <- s:
	default:
	}
}
