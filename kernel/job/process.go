package job

import (
	"sync"
	"sync/atomic"

	"keystone/kernel/object"
)

// KilledReturnCode is reported by processes that were killed.
const KilledReturnCode = -1024

// ProcessInfo is the externally visible state of a process.
type ProcessInfo struct {
	// ReturnCode is only meaningful once Exited is set.
	ReturnCode int

	// Started stays set after the process exits.
	Started bool

	Exited           bool
	DebuggerAttached bool
}

// Process is a leaf of the job tree.
type Process struct {
	object.Base

	job  *Job
	name string

	mu   sync.Mutex
	info ProcessInfo

	// committed counts bytes the process has mapped and committed.
	committed atomic.Uint64
}

func (p *Process) Name() string { return p.name }
func (p *Process) Job() *Job    { return p.job }

// RelatedKoid returns the owning job's koid.
func (p *Process) RelatedKoid() object.Koid { return p.job.Koid() }

// Info returns a snapshot of the process state.
func (p *Process) Info() ProcessInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Start moves the process out of its initial state. It has no effect on an
// exited process.
func (p *Process) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.info.Exited {
		p.info.Started = true
	}
}

// Exit records the return code. Only the first exit counts.
func (p *Process) Exit(code int) {
	p.mu.Lock()
	if p.info.Exited {
		p.mu.Unlock()
		return
	}
	p.info.Exited = true
	p.info.ReturnCode = code
	p.mu.Unlock()

	p.Tracker().UpdateState(0, object.SignalTerminated)
}

// Kill exits the process with KilledReturnCode.
func (p *Process) Kill() { p.Exit(KilledReturnCode) }

// SetDebuggerAttached records whether a debugger holds the process.
func (p *Process) SetDebuggerAttached(attached bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.info.DebuggerAttached = attached
}

// SetCommittedBytes records how much memory the process has committed.
func (p *Process) SetCommittedBytes(n uint64) { p.committed.Store(n) }

func (p *Process) CommittedBytes() uint64 { return p.committed.Load() }
