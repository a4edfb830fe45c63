package handle

import (
	"errors"
	"math/bits"

	"keystone/kernel/kpanic"
)

// SlotIndex names one slot of the handle arena.
type SlotIndex uint32

const (
	// DefaultCapacity is the number of possible handles in the arena.
	DefaultCapacity = 256 * 1024

	// MaxCapacity keeps at least 255 generations per slot.
	MaxCapacity = 1 << 21

	// ReservedMask covers the base-value bits that are always zero.
	ReservedMask uint32 = 0b111 << 29
)

// ErrInvalidCapacity is returned for a capacity that is not a power of two
// in [1, MaxCapacity].
var ErrInvalidCapacity = errors.New("handle: invalid arena capacity")

// Layout describes how a base value packs a slot index and a generation.
//
//	[31..29]            reserved, zero
//	[28..shift]         generation
//	[shift-1..0]        slot index
type Layout struct {
	IndexMask       uint32
	GenerationMask  uint32
	GenerationShift uint32
}

// NewLayout returns the layout for an arena of the given capacity.
func NewLayout(capacity int) (Layout, error) {
	if capacity <= 0 || capacity > MaxCapacity || capacity&(capacity-1) != 0 {
		return Layout{}, ErrInvalidCapacity
	}
	shift := uint32(bits.TrailingZeros32(uint32(capacity)))
	index := uint32(capacity - 1)
	return Layout{
		IndexMask:       index,
		GenerationMask:  ^index &^ ReservedMask,
		GenerationShift: shift,
	}, nil
}

// Index extracts the slot index of a base value.
func (l Layout) Index(v uint32) SlotIndex { return SlotIndex(v & l.IndexMask) }

// Generation extracts the generation of a base value.
func (l Layout) Generation(v uint32) uint32 {
	return (v & l.GenerationMask) >> l.GenerationShift
}

// NextBaseValue returns the base value for the next handle placed in slot
// index, given the last value stashed there (zero if the slot is fresh). The
// result always differs from stashed; the generation wraps silently.
func (l Layout) NextBaseValue(index SlotIndex, stashed uint32) uint32 {
	kpanic.Assert(uint32(index)&^l.IndexMask == 0, "handle: slot index %d out of layout", index)

	var oldGen uint32
	if stashed != 0 {
		kpanic.Assert(l.Index(stashed) == index,
			"handle: slot %d stashed value %#x belongs to slot %d", index, stashed, l.Index(stashed))
		oldGen = l.Generation(stashed)
	}
	return (((oldGen + 1) << l.GenerationShift) & l.GenerationMask) | uint32(index)
}
