// Package handle implements the kernel handle table: a fixed-capacity arena
// of handle slots, generation-tagged base values, and the create, duplicate
// and delete protocol that keeps dispatcher handle counts and state trackers
// in step.
package handle

import (
	"errors"
	"sync"

	"keystone/kernel/klog"
	"keystone/kernel/kpanic"
	"keystone/kernel/object"
)

var (
	// ErrNoResources is returned when the arena is full.
	ErrNoResources = errors.New("handle: no resources")

	// ErrInvalidRights is returned when a duplicate asks for rights the
	// source handle does not have.
	ErrInvalidRights = errors.New("handle: invalid rights")
)

// Config controls a Table.
type Config struct {
	Name      string
	Capacity  int // power of two; DefaultCapacity when zero
	HighWater int // warning threshold; 7/8 of Capacity when zero
	Logger    klog.Logger
}

// Table owns the handle arena. One lock guards the arena, the outstanding
// count, and the handle count of every dispatcher referenced from it.
// Dispatcher and tracker callbacks always run after the lock is released.
type Table struct {
	layout Layout
	log    klog.Logger

	mu          sync.Mutex
	arena       *arena
	outstanding int
	highWater   int
	highWarned  bool
}

// NewTable returns an empty table.
func NewTable(cfg Config) (*Table, error) {
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	layout, err := NewLayout(cfg.Capacity)
	if err != nil {
		return nil, err
	}
	if cfg.HighWater <= 0 || cfg.HighWater > cfg.Capacity {
		cfg.HighWater = cfg.Capacity * 7 / 8
	}
	if cfg.Name == "" {
		cfg.Name = "handles"
	}
	return &Table{
		layout:    layout,
		log:       cfg.Logger,
		arena:     newArena(cfg.Name, cfg.Capacity),
		highWater: cfg.HighWater,
	}, nil
}

// Layout returns the base-value layout of the table.
func (t *Table) Layout() Layout { return t.layout }

// Capacity returns the fixed number of slots.
func (t *Table) Capacity() int { return t.arena.capacity() }

// Create makes the first or an additional handle to d. The handle holds its
// own reference to d.
func (t *Table) Create(d object.Dispatcher, rights object.Rights) (*Handle, error) {
	d.IncRef()
	h, err := t.place(d, rights, false, "new")
	if err != nil {
		d.DecRef()
		return nil, err
	}
	return h, nil
}

// Duplicate makes a new handle to the object behind src. rights must be a
// subset of src's rights, or RightSameRights. When isReplace is set the
// caller is about to delete src, so the shared transition is not signalled.
func (t *Table) Duplicate(src *Handle, rights object.Rights, isReplace bool) (*Handle, error) {
	if rights == object.RightSameRights {
		rights = src.rights
	} else if !src.rights.Has(rights) {
		return nil, ErrInvalidRights
	}
	d := src.dispatcher
	d.IncRef()
	h, err := t.place(d, rights, isReplace, "duplicate")
	if err != nil {
		d.DecRef()
		return nil, err
	}
	return h, nil
}

func (t *Table) place(d object.Dispatcher, rights object.Rights, quiet bool, what string) (*Handle, error) {
	var (
		tr       object.Transition
		warnHigh bool
		count    int
	)

	t.mu.Lock()
	i, ok := t.arena.alloc()
	if !ok {
		count = t.outstanding
		t.mu.Unlock()
		klog.Printf(t.log, "handle: WARNING: could not allocate %s handle (%d outstanding)", what, count)
		return nil, ErrNoResources
	}
	t.outstanding++
	count = t.outstanding
	if count > t.highWater && !t.highWarned {
		t.highWarned = true
		warnHigh = true
	}

	hc := d.HandleCountPtr()
	if hc.Add(1) == 2 {
		tr = object.TransitionShared
	}

	value := t.layout.NextBaseValue(i, t.arena.stash(i))
	h := t.arena.handle(i)
	*h = Handle{dispatcher: d, rights: rights, baseValue: value}
	t.mu.Unlock()

	if warnHigh {
		klog.Printf(t.log, "handle: WARNING: high handle count: %d handles", count)
	}
	if tr != object.TransitionNone && !quiet {
		if st := d.StateTracker(); st != nil {
			st.UpdateLastHandleSignal(tr, hc)
		}
	}
	return h, nil
}

// Delete destroys h. If it was the last handle to its object, the object's
// OnZeroHandles hook runs; otherwise a drop to a single handle is signalled.
func (t *Table) Delete(h *Handle) {
	d := h.dispatcher
	kpanic.Assert(d != nil, "handle: deleting a dead handle")
	value := h.baseValue
	i := t.layout.Index(value)
	kpanic.Assert(t.arena.owns(i, h), "handle: %#x is not in arena %q", value, t.arena.name)

	// Pin d so the last reference cannot drop before OnZeroHandles.
	d.IncRef()
	defer d.DecRef()

	st := d.StateTracker()
	if st != nil {
		st.Cancel(value)
	} else if c, ok := d.(object.Closeable); ok {
		c.Close()
	}

	// Release the handle's own reference outside the lock.
	d.DecRef()

	var tr object.Transition
	t.mu.Lock()
	*h = Handle{}
	t.arena.setStash(i, value)

	t.outstanding--
	if t.outstanding <= t.highWater {
		t.highWarned = false
	}

	hc := d.HandleCountPtr()
	kpanic.Assert(hc.Load() > 0, "handle: koid %d handle count underflow", d.Koid())
	switch hc.Add(^uint32(0)) {
	case 0:
		tr = object.TransitionUnreferenced
	case 1:
		tr = object.TransitionSole
	}
	t.arena.release(i)
	t.mu.Unlock()

	if tr == object.TransitionUnreferenced {
		d.OnZeroHandles()
		return
	}
	if tr != object.TransitionNone && st != nil {
		st.UpdateLastHandleSignal(tr, hc)
	}
}

// Lookup maps an external value back to its live handle, or nil. A value
// whose slot is live but whose generation differs does not resolve.
func (t *Table) Lookup(value uint32) *Handle {
	if value&ReservedMask != 0 {
		return nil
	}
	i := t.layout.Index(value)

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.arena.isLive(i) {
		return nil
	}
	h := t.arena.handle(i)
	if h.baseValue != value {
		return nil
	}
	return h
}

// InRange reports whether value's slot lies inside the used part of the arena.
func (t *Table) InRange(value uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arena.inRange(t.layout.Index(value))
}

// Outstanding returns the number of live handles.
func (t *Table) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outstanding
}

// Stats returns arena occupancy.
func (t *Table) Stats() ArenaStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arena.stats()
}

// DumpInfo logs arena occupancy.
func (t *Table) DumpInfo() {
	s := t.Stats()
	klog.Printf(t.log, "handle: arena %q: %d/%d slots live, %d committed, %d on free list",
		s.Name, s.Live, s.Capacity, s.Committed, s.FreeList)
}

// Occupancy copies slot liveness into dst (up to len(dst) slots) and returns
// the number of live slots copied.
func (t *Table) Occupancy(dst []bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range dst {
		live := i < len(t.arena.slots) && t.arena.slots[i].live
		dst[i] = live
		if live {
			n++
		}
	}
	return n
}
