package oom

import (
	"strings"
	"testing"

	"keystone/kernel/job"
	"keystone/kernel/klog"
)

func newJob(t *testing.T, parent *job.Job, name string, imp job.Importance) *job.Job {
	t.Helper()
	j, err := parent.CreateChildJob(name, imp)
	if err != nil {
		t.Fatalf("CreateChildJob(%q) err = %v", name, err)
	}
	return j
}

func runningProc(t *testing.T, j *job.Job, name string) *job.Process {
	t.Helper()
	p, err := j.CreateProcess(name)
	if err != nil {
		t.Fatalf("CreateProcess(%q) err = %v", name, err)
	}
	p.Start()
	return p
}

func TestSelectSkipsDebuggedJob(t *testing.T) {
	tree := job.NewTree()
	a := newJob(t, tree.Root(), "a", job.ImportanceLow)
	b := newJob(t, tree.Root(), "b", job.ImportanceDefault)
	runningProc(t, a, "a1").SetDebuggerAttached(true)
	victim := runningProc(t, b, "b1")

	var log klog.Buffer
	s := NewSelector(tree, &log)
	res := s.Select(4096)

	if res.Killed != b {
		t.Fatalf("Killed = %v, want job b", res.Killed)
	}
	if res.Skipped != 1 || res.Running != 1 {
		t.Fatalf("Skipped, Running = %d, %d; want 1, 1", res.Skipped, res.Running)
	}
	if !b.Dead() || a.Dead() {
		t.Fatalf("b.Dead, a.Dead = %v, %v; want true, false", b.Dead(), a.Dead())
	}
	if info := victim.Info(); !info.Exited || info.ReturnCode != job.KilledReturnCode {
		t.Fatalf("victim info = %+v, want exited with %d", info, job.KilledReturnCode)
	}
	if s.State() != StateDone {
		t.Fatalf("State() = %v, want %v", s.State(), StateDone)
	}
	if log.Count("*KILL*") != 1 || log.Count("(skip)") != 1 {
		t.Fatalf("log = %q", log.Lines())
	}
	if log.Count("shortfall 4096 bytes") != 1 {
		t.Fatalf("log missing shortfall line: %q", log.Lines())
	}
}

func TestSelectNothingEligible(t *testing.T) {
	tree := job.NewTree()
	a := newJob(t, tree.Root(), "a", job.ImportanceLow)
	if _, err := a.CreateProcess("never-started"); err != nil {
		t.Fatal(err)
	}
	done := runningProc(t, a, "exited")
	done.Exit(0)

	var log klog.Buffer
	s := NewSelector(tree, &log)
	res := s.Select(1)
	if res.Killed != nil {
		t.Fatalf("Killed = %s, want nil", res.Killed.Name())
	}
	if a.Dead() || tree.Root().Dead() {
		t.Fatal("a job was killed with nothing running")
	}
	if s.Kills() != 0 || s.Runs() != 1 {
		t.Fatalf("Kills, Runs = %d, %d; want 0, 1", s.Kills(), s.Runs())
	}
	if log.Count("unresolved") != 1 {
		t.Fatalf("log = %q", log.Lines())
	}
}

func TestSelectLogsNextJobs(t *testing.T) {
	tree := job.NewTree()
	low := newJob(t, tree.Root(), "low", job.ImportanceLow)
	runningProc(t, low, "p")
	var rest []*job.Job
	for _, name := range []string{"m1", "m2", "m3", "m4", "m5"} {
		j := newJob(t, tree.Root(), name, job.ImportanceDefault)
		runningProc(t, j, "p")
		rest = append(rest, j)
	}

	var log klog.Buffer
	res := NewSelector(tree, &log).Select(1)
	if res.Killed != low {
		t.Fatalf("Killed = %p, want %p", res.Killed, low)
	}
	if len(res.Next) != DefaultNextCount {
		t.Fatalf("len(Next) = %d, want %d", len(res.Next), DefaultNextCount)
	}
	// Equal importance: newest first.
	for i, want := range []*job.Job{rest[4], rest[3], rest[2]} {
		if res.Next[i] != want {
			t.Fatalf("Next[%d] = %s, want %s", i, res.Next[i].Name(), want.Name())
		}
	}
	if got := log.Count("(next)"); got != DefaultNextCount {
		t.Fatalf("(next) lines = %d, want %d", got, DefaultNextCount)
	}
	for _, j := range rest {
		if j.Dead() {
			t.Fatalf("job %s killed, want only one victim", j.Name())
		}
	}
}

func TestSelectPrintsVictimSubtree(t *testing.T) {
	tree := job.NewTree()
	a := newJob(t, tree.Root(), "a", job.ImportanceLow)
	inner := newJob(t, a, "inner", job.ImportanceHigh)
	runningProc(t, inner, "worker")
	dbg := runningProc(t, a, "held")
	dbg.SetDebuggerAttached(true)
	if _, err := a.CreateProcess("fresh"); err != nil {
		t.Fatal(err)
	}

	var log klog.Buffer
	s := NewSelector(tree, &log)
	s.SetNextCount(0)
	res := s.Select(1)
	if res.Killed != a {
		t.Fatalf("Killed = %v, want a", res.Killed)
	}
	if len(res.Next) != 0 {
		t.Fatalf("len(Next) = %d, want 0", len(res.Next))
	}

	var summary string
	for _, l := range log.Lines() {
		if strings.Contains(l, "running procs") {
			summary = l
		}
	}
	if !strings.Contains(summary, "= 1 running procs (3 total), 1 jobs") {
		t.Fatalf("summary = %q", summary)
	}
	for _, tag := range []string{" run ", " dbg ", " new "} {
		if log.Count(tag) == 0 {
			t.Fatalf("no %q line in %q", tag, log.Lines())
		}
	}
}

func TestRunning(t *testing.T) {
	tests := []struct {
		info job.ProcessInfo
		want bool
	}{
		{job.ProcessInfo{}, false},
		{job.ProcessInfo{Started: true}, true},
		{job.ProcessInfo{Started: true, Exited: true}, false},
		{job.ProcessInfo{Started: true, DebuggerAttached: true}, false},
	}
	for _, tt := range tests {
		if got := Running(tt.info); got != tt.want {
			t.Fatalf("Running(%+v) = %v, want %v", tt.info, got, tt.want)
		}
	}
}

func TestSelectDumpsCommittedMemory(t *testing.T) {
	tree := job.NewTree()
	a := newJob(t, tree.Root(), "a", job.ImportanceLow)
	big := runningProc(t, a, "big")
	big.SetCommittedBytes(16 << 20)
	runningProc(t, a, "small").SetCommittedBytes(1 << 20)
	gone := runningProc(t, a, "gone")
	gone.SetCommittedBytes(32 << 20)
	gone.Exit(0)

	var log klog.Buffer
	s := NewSelector(tree, &log)
	s.Select(4096)

	lines := log.Lines()
	if len(lines) < 4 || lines[1] != "OOM: Process mapped committed bytes:" {
		t.Fatalf("log = %q", lines)
	}
	if !strings.HasSuffix(lines[2], "  16M 'big'") || !strings.HasPrefix(lines[2], "OOM:   proc ") {
		t.Fatalf("dump line = %q, want big at 16M", lines[2])
	}
	if lines[3] != "OOM: Finding a job to kill..." {
		t.Fatalf("line after dump = %q", lines[3])
	}
	if log.Count("'small'") != 1 || log.Count("'gone'") != 1 {
		t.Fatalf("small or gone listed in dump: %q", lines)
	}
}

func TestSelectDumpMinBytes(t *testing.T) {
	tree := job.NewTree()
	a := newJob(t, tree.Root(), "a", job.ImportanceLow)
	runningProc(t, a, "small").SetCommittedBytes(1 << 20)

	var log klog.Buffer
	s := NewSelector(tree, &log)
	s.SetDumpMinBytes(1 << 20)
	s.Select(4096)
	if got := log.Count("   1M 'small'"); got != 1 {
		t.Fatalf("small listed %d times, want 1: %q", got, log.Lines())
	}
}
