// Package kernel assembles the handle table, job tree and OOM machinery into
// one system. Nothing in it is global: every piece is built by NewSystem and
// reached through the returned value.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"keystone/kernel/cmdline"
	"keystone/kernel/handle"
	"keystone/kernel/iommu"
	"keystone/kernel/job"
	"keystone/kernel/klog"
	"keystone/kernel/oom"
)

const (
	defaultIOMMUDomains = 256
	defaultAspaceBits   = 48
)

// Config holds the inputs of NewSystem.
type Config struct {
	// Cmdline supplies kernel.handle.*, kernel.oom.* and kernel.iommu.*
	// tunables. Nil means all defaults.
	Cmdline *cmdline.Cmdline

	Logger klog.Logger

	// Memory feeds the low-memory monitor. When nil the monitor is disabled.
	Memory oom.MemoryStats
}

// System is one kernel instance.
type System struct {
	log     klog.Logger
	handles *handle.Table
	jobs    *job.Tree
	oom     *oom.Selector
	monitor *oom.Monitor
	iommu   *iommu.ContextTable
	domains *iommu.DomainAllocator

	selectMu sync.Mutex
	ticks    atomic.Uint64
}

// NewSystem creates a kernel instance.
func NewSystem(cfg Config) (*System, error) {
	c := cfg.Cmdline

	handles, err := handle.NewTable(handle.Config{
		Name:      c.GetString("kernel.handle.arena", "handles"),
		Capacity:  int(c.GetUint64("kernel.handle.capacity", handle.DefaultCapacity)),
		HighWater: int(c.GetUint64("kernel.handle.high-water", 0)),
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: handle table: %w", err)
	}

	domains, err := iommu.NewDomainAllocator(int(c.GetUint64("kernel.iommu.domains", defaultIOMMUDomains)))
	if err != nil {
		return nil, fmt.Errorf("kernel: iommu: %w", err)
	}
	aspace, err := iommu.AddressWidth(c.GetUint64("kernel.iommu.aspace-bits", defaultAspaceBits))
	if err != nil {
		return nil, fmt.Errorf("kernel: iommu: %w", err)
	}

	s := &System{
		log:     cfg.Logger,
		handles: handles,
		jobs:    job.NewTree(),
		domains: domains,
		iommu:   iommu.NewContextTable(domains, aspace, cfg.Logger),
	}
	s.oom = oom.NewSelector(s.jobs, cfg.Logger)
	s.oom.SetDumpMinBytes(c.GetUint64("kernel.oom.dump-mb", oom.DefaultDumpMinBytes>>20) << 20)

	mcfg := oom.ConfigFromCmdline(c)
	mem := cfg.Memory
	if mem == nil {
		mcfg.Enabled = false
		mem = noMemory{}
	}
	s.monitor = oom.NewMonitor(mcfg, mem, s.lowMemory, cfg.Logger)
	return s, nil
}

func (s *System) Handles() *handle.Table          { return s.handles }
func (s *System) Jobs() *job.Tree                 { return s.jobs }
func (s *System) OOM() *oom.Selector              { return s.oom }
func (s *System) Monitor() *oom.Monitor           { return s.monitor }
func (s *System) IOMMU() *iommu.ContextTable      { return s.iommu }
func (s *System) Domains() *iommu.DomainAllocator { return s.domains }

// LowMemory runs one OOM selection pass. Passes are serialized.
func (s *System) LowMemory(shortfall uint64) oom.Result {
	s.selectMu.Lock()
	defer s.selectMu.Unlock()
	return s.oom.Select(shortfall)
}

func (s *System) lowMemory(shortfall uint64) { s.LowMemory(shortfall) }

// Ticks returns the current tick count (1ms per tick).
func (s *System) Ticks() uint64 {
	return s.ticks.Load()
}

// Run drives the timebase and the low-memory monitor until ctx is done.
func (s *System) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.monitor.Run(ctx) })
	g.Go(func() error {
		t := time.NewTicker(time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				s.ticks.Add(1)
			}
		}
	})
	return g.Wait()
}

// DumpInfo logs handle and IOMMU occupancy.
func (s *System) DumpInfo() {
	s.handles.DumpInfo()
	klog.Printf(s.log, "iommu: %d contexts, %d/%d domains in use",
		s.iommu.Len(), s.domains.InUse(), s.domains.Size())
}

type noMemory struct{}

func (noMemory) FreeBytes() uint64 { return ^uint64(0) }
