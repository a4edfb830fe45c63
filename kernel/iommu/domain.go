// Package iommu tracks device contexts and the domain IDs they are tagged
// with. Page-table mechanics live elsewhere.
package iommu

import (
	"errors"
	"sync"

	"keystone/kernel/kpanic"
)

// MaxDomains is the widest domain-ID space the hardware reports.
const MaxDomains = 1 << 16

var (
	// ErrDomainsExhausted is returned when every domain ID is in use.
	ErrDomainsExhausted = errors.New("iommu: domain IDs exhausted")

	// ErrInvalidDomainCount is returned for a domain space outside [1, MaxDomains].
	ErrInvalidDomainCount = errors.New("iommu: invalid domain count")
)

// DomainID tags the translations of one device context.
type DomainID uint16

// DomainAllocator hands out domain IDs from a fixed space. The search for a
// free ID starts after the last one issued and wraps, so released IDs are
// not reused immediately.
type DomainAllocator struct {
	mu    sync.Mutex
	used  []bool
	next  int
	inUse int
}

// NewDomainAllocator returns an allocator for IDs [0, n).
func NewDomainAllocator(n int) (*DomainAllocator, error) {
	if n < 1 || n > MaxDomains {
		return nil, ErrInvalidDomainCount
	}
	return &DomainAllocator{used: make([]bool, n)}, nil
}

// Alloc returns a free domain ID.
func (a *DomainAllocator) Alloc() (DomainID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inUse == len(a.used) {
		return 0, ErrDomainsExhausted
	}
	for i := 0; i < len(a.used); i++ {
		id := (a.next + i) % len(a.used)
		if a.used[id] {
			continue
		}
		a.used[id] = true
		a.inUse++
		a.next = (id + 1) % len(a.used)
		return DomainID(id), nil
	}
	return 0, ErrDomainsExhausted
}

// Release returns id to the pool. Releasing a free ID is fatal.
func (a *DomainAllocator) Release(id DomainID) {
	a.mu.Lock()
	ok := int(id) < len(a.used) && a.used[id]
	if ok {
		a.used[id] = false
		a.inUse--
	}
	a.mu.Unlock()
	kpanic.Assert(ok, "iommu: release of unallocated domain %d", id)
}

// InUse returns the number of allocated IDs.
func (a *DomainAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Size returns the size of the ID space.
func (a *DomainAllocator) Size() int { return len(a.used) }
