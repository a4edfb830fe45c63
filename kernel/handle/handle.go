package handle

import "keystone/kernel/object"

// Handle binds one process to a dispatcher with a fixed set of rights.
//
// Handles live in arena slots and are only created and destroyed by a Table.
// Fields are immutable while the handle is live.
type Handle struct {
	dispatcher object.Dispatcher
	rights     object.Rights
	baseValue  uint32
}

func (h *Handle) Dispatcher() object.Dispatcher { return h.dispatcher }
func (h *Handle) Rights() object.Rights         { return h.rights }

// BaseValue is the externally visible value: slot index plus generation.
func (h *Handle) BaseValue() uint32 { return h.baseValue }

// HasRights reports whether the handle carries every right in desired.
func (h *Handle) HasRights(desired object.Rights) bool {
	return h.rights.Has(desired)
}

// BasicInfo summarises a handle and the object behind it.
type BasicInfo struct {
	Koid        object.Koid
	Rights      object.Rights
	Type        object.Type
	RelatedKoid object.Koid
	Waitable    bool
}

// Info returns the handle's basic info.
func (h *Handle) Info() BasicInfo {
	d := h.dispatcher
	info := BasicInfo{
		Koid:     d.Koid(),
		Rights:   h.rights,
		Type:     d.Type(),
		Waitable: d.StateTracker() != nil,
	}
	if r, ok := d.(interface{ RelatedKoid() object.Koid }); ok {
		info.RelatedKoid = r.RelatedKoid()
	}
	return info
}
