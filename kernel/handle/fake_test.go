package handle

import (
	"sync"
	"sync/atomic"

	"keystone/kernel/object"
)

type fakeTracker struct {
	mu          sync.Mutex
	transitions []object.Transition
	cancels     []uint32

	// table, when set, is checked to verify callbacks run without its lock.
	table    *Table
	lockSeen bool
}

func (f *fakeTracker) UpdateLastHandleSignal(tr object.Transition, _ *atomic.Uint32) {
	f.checkUnlocked()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, tr)
}

func (f *fakeTracker) Cancel(handle uint32) {
	f.checkUnlocked()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, handle)
}

func (f *fakeTracker) checkUnlocked() {
	if f.table == nil {
		return
	}
	if f.table.mu.TryLock() {
		f.table.mu.Unlock()
		return
	}
	f.mu.Lock()
	f.lockSeen = true
	f.mu.Unlock()
}

func (f *fakeTracker) count(tr object.Transition) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, got := range f.transitions {
		if got == tr {
			n++
		}
	}
	return n
}

func (f *fakeTracker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transitions)
}

type fakeDispatcher struct {
	object.Base
	tracker *fakeTracker
	zero    atomic.Int32
	onZero  func()
}

func newFakeDispatcher(withTracker bool) *fakeDispatcher {
	d := &fakeDispatcher{}
	d.Init(object.TypeEvent, nil)
	if withTracker {
		d.tracker = &fakeTracker{}
	}
	return d
}

func (d *fakeDispatcher) StateTracker() object.StateTracker {
	if d.tracker == nil {
		return nil
	}
	return d.tracker
}

func (d *fakeDispatcher) OnZeroHandles() {
	d.zero.Add(1)
	if d.onZero != nil {
		d.onZero()
	}
}

func (d *fakeDispatcher) handleCount() uint32 { return d.HandleCountPtr().Load() }

// gatedTracker forwards to a real tracker but holds shared transitions until
// release is closed.
type gatedTracker struct {
	*object.Tracker
	held    chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedTracker() *gatedTracker {
	return &gatedTracker{
		Tracker: object.NewTracker(object.SignalLastHandle),
		held:    make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedTracker) UpdateLastHandleSignal(tr object.Transition, count *atomic.Uint32) {
	if tr == object.TransitionShared {
		g.once.Do(func() { close(g.held) })
		<-g.release
	}
	g.Tracker.UpdateLastHandleSignal(tr, count)
}

type gatedDispatcher struct {
	object.Base
	gate *gatedTracker
}

func newGatedDispatcher() *gatedDispatcher {
	d := &gatedDispatcher{gate: newGatedTracker()}
	d.Init(object.TypeEvent, d.gate.Tracker)
	return d
}

func (d *gatedDispatcher) StateTracker() object.StateTracker { return d.gate }
