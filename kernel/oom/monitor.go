package oom

import (
	"context"
	"sync/atomic"
	"time"

	"keystone/kernel/cmdline"
	"keystone/kernel/klog"
)

const mb = 1 << 20

// MemoryStats reports how much memory is still available.
type MemoryStats interface {
	FreeBytes() uint64
}

// Config controls the low-memory monitor.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Redline  uint64 // bytes; below this much free memory the monitor fires
}

// DefaultConfig matches the command-line defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, Interval: time.Second, Redline: 50 * mb}
}

// ConfigFromCmdline reads kernel.oom.enable, kernel.oom.sleep-sec and
// kernel.oom.redline-mb.
func ConfigFromCmdline(c *cmdline.Cmdline) Config {
	def := DefaultConfig()
	return Config{
		Enabled:  c.GetBool("kernel.oom.enable", def.Enabled),
		Interval: time.Duration(c.GetUint64("kernel.oom.sleep-sec", uint64(def.Interval/time.Second))) * time.Second,
		Redline:  c.GetUint64("kernel.oom.redline-mb", def.Redline/mb) * mb,
	}
}

// Monitor periodically compares free memory with the redline and calls
// lowmem with the shortfall. It does not wait for the victim to die.
type Monitor struct {
	cfg    Config
	mem    MemoryStats
	lowmem func(shortfall uint64)
	log    klog.Logger

	checks atomic.Uint64
	fires  atomic.Uint64
}

// NewMonitor returns a monitor. A zero Interval is replaced by one second.
func NewMonitor(cfg Config, mem MemoryStats, lowmem func(shortfall uint64), log klog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Monitor{cfg: cfg, mem: mem, lowmem: lowmem, log: log}
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config { return m.cfg }

// Check samples free memory once and fires lowmem if it is below the redline.
func (m *Monitor) Check() (shortfall uint64, fired bool) {
	m.checks.Add(1)
	free := m.mem.FreeBytes()
	if free >= m.cfg.Redline {
		return 0, false
	}
	shortfall = m.cfg.Redline - free
	m.fires.Add(1)
	if m.lowmem != nil {
		m.lowmem(shortfall)
	}
	return shortfall, true
}

// Checks returns how many samples were taken.
func (m *Monitor) Checks() uint64 { return m.checks.Load() }

// Fires returns how many samples were below the redline.
func (m *Monitor) Fires() uint64 { return m.fires.Load() }

// Run samples memory every Interval until ctx is done. It returns nil on
// cancellation and immediately when the monitor is disabled.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.cfg.Enabled {
		klog.Printf(m.log, "OOM: monitor disabled")
		return nil
	}
	klog.Printf(m.log, "OOM: monitor started: interval %s, redline %d MB", m.cfg.Interval, m.cfg.Redline/mb)

	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Check()
		}
	}
}
