package app

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"keystone/hal"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, a *App, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for !cond() {
		if err := a.Step(); err != nil {
			t.Fatalf("Step() err = %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAppReleasesEverythingOnClose(t *testing.T) {
	var out syncBuffer
	a, err := Start(hal.NewWithWriter(&out, 64, 64), Config{
		Cmdline: "kernel.handle.capacity=4096 kernel.oom.enable=false",
		Load:    LoadConfig{Workers: 4, Interval: 50 * time.Microsecond, Seed: 1},
	})
	if err != nil {
		t.Fatalf("Start() err = %v", err)
	}
	waitFor(t, a, "handle traffic", func() bool {
		return a.Stats().Creates.Load() > 200 && a.Stats().Spawned.Load() > 10
	})
	if err := a.Close(); err != nil {
		t.Fatalf("Close() err = %v", err)
	}

	if n := a.System().Handles().Outstanding(); n != 0 {
		t.Fatalf("Outstanding() after Close = %d, want 0", n)
	}
	if used := a.mem.Used(); used != 0 {
		t.Fatalf("ledger used after Close = %d, want 0", used)
	}
	if !strings.Contains(out.String(), "4096 handle slots") {
		t.Fatalf("boot line missing from %q", out.String())
	}
}

func TestAppOOMKillsUnderPressure(t *testing.T) {
	var out syncBuffer
	a, err := Start(hal.NewWithWriter(&out, 64, 64), Config{
		Cmdline:  "kernel.handle.capacity=4096 kernel.oom.redline-mb=32 kernel.oom.sleep-sec=1",
		MemoryMB: 64,
		Load:     LoadConfig{Workers: 2, Interval: 50 * time.Microsecond, Seed: 2},
	})
	if err != nil {
		t.Fatalf("Start() err = %v", err)
	}
	defer a.Close()

	waitFor(t, a, "an OOM kill", func() bool { return a.System().OOM().Kills() > 0 })
	if !strings.Contains(out.String(), "*KILL*") {
		t.Fatalf("no kill logged in %q", out.String())
	}
}

func TestStartRejectsBadCmdline(t *testing.T) {
	step := NewWithConfig(hal.NewWithWriter(&syncBuffer{}, 8, 8), Config{Cmdline: `kernel.oom.enable="x`})
	if err := step(); err == nil {
		t.Fatal("step() err = nil, want parse error")
	}
}

func TestCellSize(t *testing.T) {
	tests := []struct{ capacity, w, h, want int }{
		{256 * 1024, 320, 296, 3},
		{1024, 64, 64, 1},
		{10, 0, 10, 10},
	}
	for _, tt := range tests {
		if got := cellSize(tt.capacity, tt.w, tt.h); got != tt.want {
			t.Fatalf("cellSize(%d, %d, %d) = %d, want %d", tt.capacity, tt.w, tt.h, got, tt.want)
		}
	}
}
