// Package job models the job/process tree: jobs nest, every process is a
// leaf of exactly one job, and jobs carry an importance used to rank them
// for out-of-memory kills.
package job

import (
	"errors"
	"math"
	"sort"
	"sync"

	"keystone/kernel/object"
)

var (
	// ErrJobKilled is returned when creating children in a dead job.
	ErrJobKilled = errors.New("job: job is dead")

	// ErrStop ends ForEachJobByImportance early without an error.
	ErrStop = errors.New("job: stop")
)

// Importance ranks jobs; higher values are more important.
type Importance int32

const (
	ImportanceLow     Importance = 10
	ImportanceDefault Importance = 50
	ImportanceHigh    Importance = 90
	ImportanceRoot    Importance = math.MaxInt32
)

// Enumerator visits the children of a job. Returning false stops the walk.
type Enumerator interface {
	OnJob(j *Job) bool
	OnProcess(p *Process) bool
}

// Tree owns the root job and the importance ranking of every job under it.
type Tree struct {
	root *Job

	mu   sync.Mutex
	jobs []*Job
	seq  uint64
}

// NewTree returns a tree with a root job.
func NewTree() *Tree {
	t := &Tree{}
	t.root = t.newJob(nil, "root", ImportanceRoot)
	return t
}

// Root returns the root job.
func (t *Tree) Root() *Job { return t.root }

func (t *Tree) newJob(parent *Job, name string, imp Importance) *Job {
	j := &Job{tree: t, parent: parent, name: name}
	j.Init(object.TypeJob, object.NewTracker(object.SignalLastHandle))

	t.mu.Lock()
	t.seq++
	j.seq = t.seq
	j.importance = imp
	t.jobs = append(t.jobs, j)
	t.mu.Unlock()
	return j
}

// ForEachJobByImportance calls fn on every living job, least important
// first. Among equally important jobs the newer one comes first. If fn
// returns ErrStop the walk ends and nil is returned; any other error ends
// the walk and is returned.
func (t *Tree) ForEachJobByImportance(fn func(*Job) error) error {
	type ranked struct {
		j   *Job
		imp Importance
	}
	t.mu.Lock()
	all := make([]ranked, len(t.jobs))
	for i, j := range t.jobs {
		all[i] = ranked{j: j, imp: j.importance}
	}
	t.mu.Unlock()

	order := all[:0]
	for _, r := range all {
		if !r.j.Dead() {
			order = append(order, r)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		if order[a].imp != order[b].imp {
			return order[a].imp < order[b].imp
		}
		return order[a].j.seq > order[b].j.seq
	})

	for _, r := range order {
		if err := fn(r.j); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Prune forgets dead jobs and exited processes so long-running trees do not
// grow without bound. It returns the number of jobs removed.
func (t *Tree) Prune() int {
	t.mu.Lock()
	all := append([]*Job(nil), t.jobs...)
	t.mu.Unlock()

	dead := make(map[*Job]bool)
	for _, j := range all {
		if j.Dead() {
			dead[j] = true
		}
		j.reap()
	}
	if len(dead) == 0 {
		return 0
	}

	t.mu.Lock()
	keep := t.jobs[:0]
	for _, j := range t.jobs {
		if !dead[j] {
			keep = append(keep, j)
		}
	}
	for i := len(keep); i < len(t.jobs); i++ {
		t.jobs[i] = nil
	}
	t.jobs = keep
	t.mu.Unlock()
	return len(dead)
}

// Len returns the number of jobs the tree still ranks, including the root.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Job is a node of the tree.
type Job struct {
	object.Base

	tree   *Tree
	parent *Job
	name   string
	seq    uint64

	importance Importance // guarded by tree.mu

	mu    sync.Mutex
	jobs  []*Job
	procs []*Process
	dead  bool
}

func (j *Job) Name() string { return j.name }
func (j *Job) Parent() *Job { return j.parent }

// RelatedKoid returns the parent job's koid, or zero for the root.
func (j *Job) RelatedKoid() object.Koid {
	if j.parent == nil {
		return object.KoidInvalid
	}
	return j.parent.Koid()
}

// Importance returns the job's rank.
func (j *Job) Importance() Importance {
	j.tree.mu.Lock()
	defer j.tree.mu.Unlock()
	return j.importance
}

// SetImportance re-ranks the job.
func (j *Job) SetImportance(imp Importance) {
	j.tree.mu.Lock()
	defer j.tree.mu.Unlock()
	j.importance = imp
}

// CreateChildJob adds a nested job.
func (j *Job) CreateChildJob(name string, imp Importance) (*Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.dead {
		return nil, ErrJobKilled
	}
	c := j.tree.newJob(j, name, imp)
	j.jobs = append(j.jobs, c)
	return c, nil
}

// CreateProcess adds a process that has not started yet.
func (j *Job) CreateProcess(name string) (*Process, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.dead {
		return nil, ErrJobKilled
	}
	p := &Process{job: j, name: name}
	p.Init(object.TypeProcess, object.NewTracker(object.SignalLastHandle))
	j.procs = append(j.procs, p)
	return p, nil
}

// EnumerateChildren visits child jobs (descending into them when recurse is
// set) and then child processes. It returns false if the enumerator stopped
// the walk.
func (j *Job) EnumerateChildren(e Enumerator, recurse bool) bool {
	j.mu.Lock()
	jobs := append([]*Job(nil), j.jobs...)
	procs := append([]*Process(nil), j.procs...)
	j.mu.Unlock()

	for _, c := range jobs {
		if !e.OnJob(c) {
			return false
		}
		if recurse && !c.EnumerateChildren(e, true) {
			return false
		}
	}
	for _, p := range procs {
		if !e.OnProcess(p) {
			return false
		}
	}
	return true
}

// Kill terminates every process and job below j and marks j dead. It does
// not wait for the processes to release their resources.
func (j *Job) Kill() {
	j.mu.Lock()
	if j.dead {
		j.mu.Unlock()
		return
	}
	j.dead = true
	jobs := append([]*Job(nil), j.jobs...)
	procs := append([]*Process(nil), j.procs...)
	j.mu.Unlock()

	for _, p := range procs {
		p.Kill()
	}
	for _, c := range jobs {
		c.Kill()
	}
	j.Tracker().UpdateState(0, object.SignalTerminated)
}

// reap drops dead child jobs and exited processes from j's lists.
func (j *Job) reap() {
	j.mu.Lock()
	defer j.mu.Unlock()
	jobs := j.jobs[:0]
	for _, c := range j.jobs {
		if !c.Dead() {
			jobs = append(jobs, c)
		}
	}
	for i := len(jobs); i < len(j.jobs); i++ {
		j.jobs[i] = nil
	}
	j.jobs = jobs

	procs := j.procs[:0]
	for _, p := range j.procs {
		if !p.Info().Exited {
			procs = append(procs, p)
		}
	}
	for i := len(procs); i < len(j.procs); i++ {
		j.procs[i] = nil
	}
	j.procs = procs
}

// Dead reports whether the job was killed.
func (j *Job) Dead() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dead
}
