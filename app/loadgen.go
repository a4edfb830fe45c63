package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"keystone/kernel"
	"keystone/kernel/handle"
	"keystone/kernel/job"
	"keystone/kernel/object"
)

// LoadConfig shapes the simulated workload.
type LoadConfig struct {
	Workers     int
	MaxHandles  int // per worker
	MaxProcs    int // per worker
	HandleBytes uint64
	ProcBytes   uint64
	Interval    time.Duration // pause between worker steps
	Seed        int64
}

func (c LoadConfig) withDefaults() LoadConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxHandles <= 0 {
		c.MaxHandles = 4096
	}
	if c.MaxProcs <= 0 {
		c.MaxProcs = 16
	}
	if c.HandleBytes == 0 {
		c.HandleBytes = 256
	}
	if c.ProcBytes == 0 {
		c.ProcBytes = 4 << 20
	}
	if c.Interval <= 0 {
		c.Interval = 100 * time.Microsecond
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// LoadStats counts what the workers did.
type LoadStats struct {
	Creates     atomic.Uint64
	Duplicates  atomic.Uint64
	Deletes     atomic.Uint64
	NoResources atomic.Uint64
	Spawned     atomic.Uint64
	Reaped      atomic.Uint64
	Killed      atomic.Uint64
}

type liveProc struct {
	p *job.Process
	h *handle.Handle
}

// worker creates, duplicates and deletes event handles and churns processes
// in a job of its own. It owns every handle it holds.
type worker struct {
	id    int
	sys   *kernel.System
	mem   *ledger
	cfg   LoadConfig
	stats *LoadStats
	rng   *rand.Rand

	handles []*handle.Handle
	job     *job.Job
	jobH    *handle.Handle
	procs   []liveProc
	spawned int
}

func newWorker(id int, sys *kernel.System, mem *ledger, cfg LoadConfig, stats *LoadStats) *worker {
	return &worker{
		id:    id,
		sys:   sys,
		mem:   mem,
		cfg:   cfg,
		stats: stats,
		rng:   rand.New(rand.NewSource(cfg.Seed + int64(id))),
	}
}

func (w *worker) run(ctx context.Context) error {
	defer w.release()
	t := time.NewTicker(w.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := w.step(); err != nil {
				return fmt.Errorf("worker %d: %w", w.id, err)
			}
		}
	}
}

func (w *worker) step() error {
	var err error
	switch n := w.rng.Intn(100); {
	case n < 35:
		err = w.create()
	case n < 55:
		err = w.duplicate()
	case n < 85:
		w.deleteRandom()
	case n < 95:
		err = w.spawn()
	default:
		w.exitRandom()
	}
	w.reap()
	return err
}

func (w *worker) table() *handle.Table { return w.sys.Handles() }

func (w *worker) create() error {
	if len(w.handles) >= w.cfg.MaxHandles {
		w.deleteRandom()
		return nil
	}
	e := object.NewEvent()
	h, err := w.table().Create(e, object.DefaultRights(object.TypeEvent))
	e.DecRef()
	if err != nil {
		return w.softFail(err)
	}
	w.hold(h)
	w.stats.Creates.Add(1)
	return nil
}

func (w *worker) duplicate() error {
	if len(w.handles) == 0 {
		return w.create()
	}
	i := w.rng.Intn(len(w.handles))
	src := w.handles[i]

	rights := object.RightSameRights
	if w.rng.Intn(2) == 0 {
		rights = src.Rights() &^ object.RightTransfer
	}
	replace := w.rng.Intn(4) == 0
	h, err := w.table().Duplicate(src, rights, replace)
	if err != nil {
		return w.softFail(err)
	}
	w.stats.Duplicates.Add(1)
	if replace {
		w.handles[i] = h
		w.table().Delete(src)
		return nil
	}
	w.hold(h)
	return nil
}

func (w *worker) hold(h *handle.Handle) {
	w.handles = append(w.handles, h)
	w.mem.charge(w.cfg.HandleBytes)
}

func (w *worker) deleteRandom() {
	if len(w.handles) == 0 {
		return
	}
	i := w.rng.Intn(len(w.handles))
	h := w.handles[i]
	last := len(w.handles) - 1
	w.handles[i] = w.handles[last]
	w.handles[last] = nil
	w.handles = w.handles[:last]
	w.table().Delete(h)
	w.mem.release(w.cfg.HandleBytes)
	w.stats.Deletes.Add(1)
}

func (w *worker) ensureJob() error {
	if w.job != nil && !w.job.Dead() {
		return nil
	}
	w.dropJob()
	imp := []job.Importance{job.ImportanceLow, job.ImportanceDefault, job.ImportanceHigh}[w.rng.Intn(3)]
	j, err := w.sys.Jobs().Root().CreateChildJob(fmt.Sprintf("load-%d", w.id), imp)
	if err != nil {
		return err
	}
	h, err := w.table().Create(j, object.DefaultRights(object.TypeJob))
	if err != nil {
		j.Kill()
		return err
	}
	w.job, w.jobH = j, h
	return nil
}

func (w *worker) dropJob() {
	if w.jobH != nil {
		w.table().Delete(w.jobH)
		w.jobH = nil
	}
	if w.job != nil && w.job.Dead() {
		w.stats.Killed.Add(1)
	}
	w.job = nil
}

func (w *worker) spawn() error {
	if len(w.procs) >= w.cfg.MaxProcs {
		w.exitRandom()
		return nil
	}
	if err := w.ensureJob(); err != nil {
		return w.softFail(err)
	}
	w.spawned++
	p, err := w.job.CreateProcess(fmt.Sprintf("proc-%d.%d", w.id, w.spawned))
	if errors.Is(err, job.ErrJobKilled) {
		return nil
	}
	if err != nil {
		return err
	}
	h, err := w.table().Create(p, object.DefaultRights(object.TypeProcess))
	if err != nil {
		p.Kill()
		return w.softFail(err)
	}
	p.Start()
	p.SetCommittedBytes(w.cfg.ProcBytes)
	w.mem.charge(w.cfg.ProcBytes)
	w.procs = append(w.procs, liveProc{p: p, h: h})
	w.stats.Spawned.Add(1)
	return nil
}

func (w *worker) exitRandom() {
	if len(w.procs) == 0 {
		return
	}
	w.procs[w.rng.Intn(len(w.procs))].p.Exit(0)
}

// reap releases the memory and handles of processes that have exited, either
// on their own or because their job was killed.
func (w *worker) reap() {
	live := w.procs[:0]
	for _, lp := range w.procs {
		if !lp.p.Info().Exited {
			live = append(live, lp)
			continue
		}
		w.table().Delete(lp.h)
		w.mem.release(w.cfg.ProcBytes)
		w.stats.Reaped.Add(1)
	}
	for i := len(live); i < len(w.procs); i++ {
		w.procs[i] = liveProc{}
	}
	w.procs = live
	if w.job != nil && w.job.Dead() {
		w.dropJob()
	}
}

// softFail absorbs arena exhaustion and a job killed under the worker; any
// other error is returned.
func (w *worker) softFail(err error) error {
	switch {
	case errors.Is(err, handle.ErrNoResources):
		w.stats.NoResources.Add(1)
		return nil
	case errors.Is(err, job.ErrJobKilled):
		return nil
	}
	return err
}

// release gives back everything the worker holds.
func (w *worker) release() {
	for _, lp := range w.procs {
		lp.p.Kill()
	}
	w.reap()
	for len(w.handles) > 0 {
		w.deleteRandom()
	}
	j := w.job
	w.dropJob()
	if j != nil {
		j.Kill()
	}
}
