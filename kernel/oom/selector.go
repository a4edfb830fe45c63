// Package oom picks a job to kill when the system runs low on memory, and
// runs the monitor loop that decides when that is.
package oom

import (
	"sync/atomic"

	"keystone/kernel/job"
	"keystone/kernel/klog"
)

// State is the phase of a selection pass.
type State uint32

const (
	StateIdle State = iota
	StateCounting
	StateSelecting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCounting:
		return "counting"
	case StateSelecting:
		return "selecting"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// DefaultNextCount is how many jobs after the victim are logged.
const DefaultNextCount = 3

// DefaultDumpMinBytes is the committed size below which a process is left
// out of the memory dump.
const DefaultDumpMinBytes = 8 << 20

// JobWalker ranks jobs for killing.
type JobWalker interface {
	ForEachJobByImportance(fn func(*job.Job) error) error
}

// Result describes one selection pass.
type Result struct {
	// Killed is nil when no job had running processes.
	Killed *job.Job

	// Running is the number of running processes under Killed.
	Running int

	// Skipped counts jobs passed over before the kill.
	Skipped int

	// Next lists the jobs that would have been considered after Killed.
	Next []*job.Job
}

// Selector chooses the least important job that has running processes and
// kills it. It is greedy: it does not look for the smallest job that would
// cover the shortfall.
type Selector struct {
	tree  JobWalker
	log   klog.Logger
	next  int
	dump  uint64
	state atomic.Uint32
	runs  atomic.Uint64
	kills atomic.Uint64
}

// NewSelector returns a selector over tree.
func NewSelector(tree JobWalker, log klog.Logger) *Selector {
	return &Selector{tree: tree, log: log, next: DefaultNextCount, dump: DefaultDumpMinBytes}
}

// SetDumpMinBytes changes the smallest committed size that is logged in the
// per-process memory dump.
func (s *Selector) SetDumpMinBytes(n uint64) { s.dump = n }

// SetNextCount changes how many "(next)" jobs are logged after a kill.
func (s *Selector) SetNextCount(n int) {
	if n < 0 {
		n = 0
	}
	s.next = n
}

// State returns the phase of the current or last pass.
func (s *Selector) State() State { return State(s.state.Load()) }

// Runs returns the number of passes made.
func (s *Selector) Runs() uint64 { return s.runs.Load() }

// Kills returns the number of passes that killed a job.
func (s *Selector) Kills() uint64 { return s.kills.Load() }

func (s *Selector) setState(st State) { s.state.Store(uint32(st)) }

// Select makes one pass over the tree. It must not run concurrently with
// itself.
func (s *Selector) Select(shortfall uint64) Result {
	s.runs.Add(1)
	s.setState(StateIdle)
	klog.Printf(s.log, "OOM: lowmem called, shortfall %d bytes", shortfall)
	klog.Printf(s.log, "OOM: Process mapped committed bytes:")
	s.dumpMemory("OOM:   ")
	klog.Printf(s.log, "OOM: Finding a job to kill...")

	var (
		res     Result
		counter jobCounter
		printer = jobCounter{prefix: "OOM:        + ", log: s.log}
	)
	_ = s.tree.ForEachJobByImportance(func(j *job.Job) error {
		kill := false
		if res.Killed == nil {
			s.setState(StateCounting)
			counter.reset()
			j.EnumerateChildren(&counter, true)
			kill = counter.running > 0
		}

		var tag string
		switch {
		case kill:
			tag = "*KILL*"
		case res.Killed == nil:
			tag = "(skip)"
		default:
			tag = "(next)"
		}
		klog.Printf(s.log, "OOM:   %s job %6d '%s'", tag, j.Koid(), j.Name())

		switch {
		case kill:
			s.setState(StateSelecting)
			printer.reset()
			j.EnumerateChildren(&printer, true)
			klog.Printf(s.log, "OOM:        = %d running procs (%d total), %d jobs",
				printer.running, printer.procs, printer.jobs)
			j.Kill()
			s.kills.Add(1)
			res.Killed = j
			res.Running = counter.running
			if s.next == 0 {
				return job.ErrStop
			}
		case res.Killed != nil:
			res.Next = append(res.Next, j)
			if len(res.Next) >= s.next {
				return job.ErrStop
			}
		default:
			res.Skipped++
		}
		return nil
	})

	if res.Killed == nil {
		klog.Printf(s.log, "OOM: no job with running processes; shortfall of %d bytes unresolved", shortfall)
	}
	s.setState(StateDone)
	return res
}

// dumpMemory logs every live process that has committed at least s.dump
// bytes.
func (s *Selector) dumpMemory(prefix string) {
	d := memoryDumper{prefix: prefix, min: s.dump, log: s.log}
	_ = s.tree.ForEachJobByImportance(func(j *job.Job) error {
		j.EnumerateChildren(&d, false)
		return nil
	})
}

type memoryDumper struct {
	prefix string
	min    uint64
	log    klog.Logger
}

func (d *memoryDumper) OnJob(*job.Job) bool { return true }

func (d *memoryDumper) OnProcess(p *job.Process) bool {
	n := p.CommittedBytes()
	if n < d.min || p.Info().Exited {
		return true
	}
	klog.Printf(d.log, "%sproc %5d %4dM '%s'", d.prefix, p.Koid(), n>>20, p.Name())
	return true
}

// Running reports whether a process counts toward freeing memory: started,
// not exited, and not held by a debugger.
func Running(info job.ProcessInfo) bool {
	return info.Started && !info.Exited && !info.DebuggerAttached
}

// jobCounter counts, and when log is set prints, the descendants of a job.
type jobCounter struct {
	prefix string
	log    klog.Logger

	jobs    int
	procs   int
	running int
}

func (c *jobCounter) reset() {
	c.jobs, c.procs, c.running = 0, 0, 0
}

func (c *jobCounter) OnJob(j *job.Job) bool {
	if c.log != nil {
		klog.Printf(c.log, "%sjob %6d '%s'", c.prefix, j.Koid(), j.Name())
	}
	c.jobs++
	return true
}

func (c *jobCounter) OnProcess(p *job.Process) bool {
	info := p.Info()
	if Running(info) {
		c.running++
	}
	if c.log != nil {
		klog.Printf(c.log, "%sproc %5d %4s '%s'", c.prefix, p.Koid(), processTag(info), p.Name())
	}
	c.procs++
	return true
}

func processTag(info job.ProcessInfo) string {
	switch {
	case info.DebuggerAttached:
		return "dbg"
	case info.Exited:
		return "dead"
	case info.Started:
		return "run"
	default:
		return "new"
	}
}
