// Package app is the host simulator: it boots a kernel.System, drives it with
// a load generator, and paints the handle arena into the HAL framebuffer.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"keystone/hal"
	"keystone/internal/buildinfo"
	"keystone/kernel"
	"keystone/kernel/cmdline"
)

const (
	defaultMemoryMB = 256
	dumpEvery       = 600
	pruneEvery      = 60
)

// Config selects the kernel command line and the workload.
type Config struct {
	Cmdline  string
	MemoryMB uint64
	Load     LoadConfig
}

// App is one running simulator.
type App struct {
	h     hal.HAL
	log   *consoleLog
	sys   *kernel.System
	mem   *ledger
	stats *LoadStats
	view  *occupancyView

	cancel context.CancelFunc
	done   chan struct{}

	errMu sync.Mutex
	err   error

	steps  uint64
	hwTick atomic.Uint64
}

// New initializes and starts the simulator with default config.
func New(h hal.HAL) func() error {
	return NewWithConfig(h, Config{})
}

// NewWithConfig starts the simulator and returns the per-frame step
// function expected by the hal runners.
func NewWithConfig(h hal.HAL, cfg Config) func() error {
	a, err := Start(h, cfg)
	if err != nil {
		return func() error { return err }
	}
	return a.Step
}

// Start boots the kernel and the workers.
func Start(h hal.HAL, cfg Config) (*App, error) {
	installPanicHandler(h)

	c, err := cmdline.Parse(cfg.Cmdline)
	if err != nil {
		return nil, err
	}
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = defaultMemoryMB
	}
	mem := newLedger(cfg.MemoryMB << 20)
	log := newConsoleLog(h.Logger())

	sys, err := kernel.NewSystem(kernel.Config{Cmdline: c, Logger: log, Memory: mem})
	if err != nil {
		return nil, err
	}
	log.WriteLineString(fmt.Sprintf("keystone %s: %d handle slots, %d MB simulated memory, cmdline %q",
		buildinfo.Short(), sys.Handles().Capacity(), cfg.MemoryMB, c.String()))

	a := &App{
		h:     h,
		log:   log,
		sys:   sys,
		mem:   mem,
		stats: &LoadStats{},
		done:  make(chan struct{}),
	}
	if disp := h.Display(); disp != nil {
		if fb := disp.Framebuffer(); fb != nil {
			d := newFBDisplay(fb)
			a.view = newOccupancyView(d, newConsole(d, log), sys, mem, a.stats, &a.hwTick)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	load := cfg.Load.withDefaults()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sys.Run(gctx) })
	for i := 0; i < load.Workers; i++ {
		w := newWorker(i, sys, mem, load, a.stats)
		g.Go(func() error { return w.run(gctx) })
	}
	if ht := h.Time(); ht != nil {
		if ch := ht.Ticks(); ch != nil {
			g.Go(func() error {
				for {
					select {
					case <-gctx.Done():
						return nil
					case seq := <-ch:
						a.hwTick.Store(seq)
					}
				}
			})
		}
	}
	go func() {
		err := g.Wait()
		a.errMu.Lock()
		a.err = err
		a.errMu.Unlock()
		close(a.done)
	}()
	return a, nil
}

// System returns the running kernel.
func (a *App) System() *kernel.System { return a.sys }

// Stats returns the load generator counters.
func (a *App) Stats() *LoadStats { return a.stats }

// Step renders one frame and reports the first worker or kernel error.
func (a *App) Step() error {
	select {
	case <-a.done:
		return a.Err()
	default:
	}

	a.steps++
	if a.steps%pruneEvery == 0 {
		a.sys.Jobs().Prune()
	}
	if a.steps%dumpEvery == 0 {
		a.sys.DumpInfo()
		a.log.WriteLineString(fmt.Sprintf("load: creates=%d dups=%d deletes=%d nores=%d spawned=%d reaped=%d killed=%d free=%dMB",
			a.stats.Creates.Load(), a.stats.Duplicates.Load(), a.stats.Deletes.Load(), a.stats.NoResources.Load(),
			a.stats.Spawned.Load(), a.stats.Reaped.Load(), a.stats.Killed.Load(), a.mem.FreeBytes()>>20))
	}
	if a.view != nil {
		a.view.render()
	}
	return nil
}

// Err returns the error that stopped the workers, if any.
func (a *App) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}

// Close stops the workers and waits for them to release their handles.
func (a *App) Close() error {
	a.cancel()
	<-a.done
	return a.Err()
}
