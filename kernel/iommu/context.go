package iommu

import (
	"errors"
	"fmt"
	"sync"

	"keystone/kernel/klog"
	"keystone/kernel/kpanic"
)

// Guest address widths a context may be configured with.
const (
	MinAddressWidth = 12
	MaxAddressWidth = 64
)

// ErrInvalidAddressWidth is returned for an address width outside
// [MinAddressWidth, MaxAddressWidth].
var ErrInvalidAddressWidth = errors.New("iommu: invalid address width")

// AddressWidth validates a guest address width given in bits.
func AddressWidth(bits uint64) (uint8, error) {
	if bits < MinAddressWidth || bits > MaxAddressWidth {
		return 0, fmt.Errorf("%w: %d bits", ErrInvalidAddressWidth, bits)
	}
	return uint8(bits), nil
}

// BDF addresses a PCI function.
type BDF struct {
	Bus     uint8
	DevFunc uint8
}

func (b BDF) String() string {
	return fmt.Sprintf("%02x:%02x.%x", b.Bus, b.DevFunc>>3, b.DevFunc&7)
}

// Format selects the context-entry layout.
type Format uint8

const (
	FormatLegacy Format = iota
	FormatExtended
)

func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatExtended:
		return "extended"
	default:
		return "unknown"
	}
}

// Context is a present context entry.
type Context struct {
	BDF          BDF
	Domain       DomainID
	Format       Format
	AddressWidth uint8
}

// ContextTable holds the present context entries of one IOMMU. Legacy and
// extended entries draw from the same domain allocator.
type ContextTable struct {
	domains     *DomainAllocator
	aspaceWidth uint8
	log         klog.Logger

	mu      sync.Mutex
	entries map[BDF]*Context
}

// NewContextTable returns an empty table. aspaceWidth is the guest address
// width in bits given to every new context.
func NewContextTable(domains *DomainAllocator, aspaceWidth uint8, log klog.Logger) *ContextTable {
	return &ContextTable{
		domains:     domains,
		aspaceWidth: aspaceWidth,
		log:         log,
		entries:     make(map[BDF]*Context),
	}
}

// CreateContext makes a legacy context entry for bdf.
func (t *ContextTable) CreateContext(bdf BDF) (*Context, error) {
	return t.create(bdf, FormatLegacy)
}

// CreateExtendedContext makes an extended context entry for bdf.
func (t *ContextTable) CreateExtendedContext(bdf BDF) (*Context, error) {
	return t.create(bdf, FormatExtended)
}

func (t *ContextTable) create(bdf BDF, format Format) (*Context, error) {
	t.mu.Lock()
	_, present := t.entries[bdf]
	t.mu.Unlock()
	kpanic.Assert(!present, "iommu: context %s already present", bdf)

	id, err := t.domains.Alloc()
	if err != nil {
		klog.Printf(t.log, "iommu: no domain for %s context %s: %v", format, bdf, err)
		return nil, err
	}
	c := &Context{BDF: bdf, Domain: id, Format: format, AddressWidth: t.aspaceWidth}

	t.mu.Lock()
	_, present = t.entries[bdf]
	if !present {
		t.entries[bdf] = c
	}
	t.mu.Unlock()
	if present {
		t.domains.Release(id)
		kpanic.Fatalf("iommu: context %s already present", bdf)
	}
	return c, nil
}

// ReleaseContext removes the entry for bdf and frees its domain ID. It
// reports whether an entry was present.
func (t *ContextTable) ReleaseContext(bdf BDF) bool {
	t.mu.Lock()
	c, ok := t.entries[bdf]
	delete(t.entries, bdf)
	t.mu.Unlock()
	if !ok {
		return false
	}
	t.domains.Release(c.Domain)
	return true
}

// Lookup returns the entry for bdf.
func (t *ContextTable) Lookup(bdf BDF) (*Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.entries[bdf]
	return c, ok
}

// Len returns the number of present entries.
func (t *ContextTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
