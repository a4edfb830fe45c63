package object

import "sync/atomic"

// Koid is a kernel object id. Koids are never reused.
type Koid uint64

// KoidInvalid is never assigned to an object.
const KoidInvalid Koid = 0

// Koids below this value are reserved for well-known objects.
const firstKoid = 1024

var koidCounter atomic.Uint64

// NewKoid returns a fresh, never-issued koid.
func NewKoid() Koid {
	return Koid(firstKoid + koidCounter.Add(1))
}

// Type tags the concrete kind of a dispatcher.
type Type uint32

const (
	TypeNone Type = iota
	TypeProcess
	TypeThread
	TypeVMO
	TypeChannel
	TypeEvent
	TypePort
	TypeInterrupt
	TypeIOMapping
	TypeLog
	TypeResource
	TypeJob
	TypeIOMMU
	TypeBTI
	TypePinnedMemory
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeProcess:
		return "process"
	case TypeThread:
		return "thread"
	case TypeVMO:
		return "vmo"
	case TypeChannel:
		return "channel"
	case TypeEvent:
		return "event"
	case TypePort:
		return "port"
	case TypeInterrupt:
		return "interrupt"
	case TypeIOMapping:
		return "iomap"
	case TypeLog:
		return "log"
	case TypeResource:
		return "resource"
	case TypeJob:
		return "job"
	case TypeIOMMU:
		return "iommu"
	case TypeBTI:
		return "bti"
	case TypePinnedMemory:
		return "pmo"
	default:
		return "unknown"
	}
}

// Rights define which operations a handle permits on its object.
type Rights uint32

const (
	RightDuplicate Rights = 1 << iota
	RightTransfer
	RightRead
	RightWrite
	RightExecute
	RightMap
	RightGetProperty
	RightSetProperty
	RightEnumerate
	RightDestroy
	RightSetPolicy
	RightGetPolicy
	RightSignal
	RightSignalPeer
)

const (
	RightNone Rights = 0

	// RightSameRights asks Duplicate to copy the source handle's rights.
	RightSameRights Rights = 1 << 31

	RightsBasic = RightTransfer | RightDuplicate
	RightsIO    = RightRead | RightWrite
	RightsProp  = RightGetProperty | RightSetProperty
)

// Has reports whether r includes every right in desired.
func (r Rights) Has(desired Rights) bool {
	return r&desired == desired
}

// Restrict returns the rights present in both r and mask.
func (r Rights) Restrict(mask Rights) Rights {
	return r & mask
}

// DefaultRights returns the rights granted to the first handle of a new object.
func DefaultRights(t Type) Rights {
	switch t {
	case TypeEvent:
		return RightsBasic | RightSignal
	case TypeProcess:
		return RightsBasic | RightsIO | RightsProp | RightEnumerate | RightDestroy
	case TypeJob:
		return RightsBasic | RightsIO | RightsProp | RightEnumerate | RightDestroy |
			RightSetPolicy | RightGetPolicy
	case TypeVMO:
		return RightsBasic | RightsIO | RightsProp | RightExecute | RightMap
	case TypeIOMapping:
		return RightsBasic | RightRead
	case TypeLog:
		return RightsBasic | RightWrite
	case TypeIOMMU, TypeBTI, TypePinnedMemory:
		return RightsBasic | RightsIO | RightMap
	default:
		return RightsBasic
	}
}
