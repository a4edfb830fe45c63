package handle

import "keystone/kernel/kpanic"

const noSlot = ^SlotIndex(0)

type slot struct {
	h Handle

	// stash is the base value of the last handle that lived here. It
	// survives the handle and seeds the next generation.
	stash uint32

	next SlotIndex
	live bool
}

// arena is a fixed-capacity slab of handle slots. It is not safe for
// concurrent use; Table guards it.
type arena struct {
	name  string
	slots []slot
	top   int
	free  SlotIndex
	nfree int
	live  int
}

func newArena(name string, capacity int) *arena {
	return &arena{
		name:  name,
		slots: make([]slot, capacity),
		free:  noSlot,
	}
}

// alloc returns a free slot, preferring recently freed ones. It never grows.
func (a *arena) alloc() (SlotIndex, bool) {
	var i SlotIndex
	switch {
	case a.free != noSlot:
		i = a.free
		a.free = a.slots[i].next
		a.nfree--
	case a.top < len(a.slots):
		i = SlotIndex(a.top)
		a.top++
	default:
		return noSlot, false
	}
	s := &a.slots[i]
	s.next = noSlot
	s.live = true
	a.live++
	return i, true
}

func (a *arena) release(i SlotIndex) {
	kpanic.Assert(a.inRange(i) && a.slots[i].live, "handle: arena %q freeing non-live slot %d", a.name, i)
	s := &a.slots[i]
	s.live = false
	s.next = a.free
	a.free = i
	a.nfree++
	a.live--
}

// inRange reports whether i lies in the part of the arena ever handed out.
func (a *arena) inRange(i SlotIndex) bool { return int(i) < a.top }

func (a *arena) handle(i SlotIndex) *Handle { return &a.slots[i].h }

func (a *arena) isLive(i SlotIndex) bool { return a.inRange(i) && a.slots[i].live }

func (a *arena) stash(i SlotIndex) uint32 { return a.slots[i].stash }

func (a *arena) setStash(i SlotIndex, v uint32) { a.slots[i].stash = v }

// owns reports whether h is the handle stored in slot i.
func (a *arena) owns(i SlotIndex, h *Handle) bool {
	return int(i) < len(a.slots) && &a.slots[i].h == h
}

func (a *arena) capacity() int { return len(a.slots) }

// ArenaStats is a point-in-time view of arena occupancy.
type ArenaStats struct {
	Name      string
	Live      int
	Capacity  int
	Committed int // slots handed out at least once
	FreeList  int
}

func (a *arena) stats() ArenaStats {
	return ArenaStats{
		Name:      a.name,
		Live:      a.live,
		Capacity:  len(a.slots),
		Committed: a.top,
		FreeList:  a.nfree,
	}
}
