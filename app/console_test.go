package app

import (
	"fmt"
	"testing"

	"keystone/kernel/klog"
)

func TestConsoleLogQueuesMarkedLines(t *testing.T) {
	var out klog.Buffer
	l := newConsoleLog(&out)
	l.WriteLineString("handle: arena \"h\": 3/8 slots live")
	l.WriteLineString("OOM:   *KILL* job     12 'worker-0'")
	l.WriteLineBytes([]byte("handle: WARNING: high handle count: 9 handles"))

	if n := len(out.Lines()); n != 3 {
		t.Fatalf("passed through %d lines, want 3", n)
	}
	lines, dropped := l.drain()
	if len(lines) != 2 || dropped != 0 {
		t.Fatalf("drain() = %q, %d; want 2 lines, 0 dropped", lines, dropped)
	}
	if lines, _ := l.drain(); len(lines) != 0 {
		t.Fatalf("second drain() = %q, want empty", lines)
	}
}

func TestConsoleLogDropsOldest(t *testing.T) {
	l := newConsoleLog(nil)
	for i := 0; i < consoleBacklog+5; i++ {
		l.WriteLineString(fmt.Sprintf("WARNING %d", i))
	}
	lines, dropped := l.drain()
	if len(lines) != consoleBacklog || dropped != 5 {
		t.Fatalf("drain() = %d lines, %d dropped; want %d, 5", len(lines), dropped, consoleBacklog)
	}
	if lines[0] != "WARNING 5" {
		t.Fatalf("oldest kept line = %q, want WARNING 5", lines[0])
	}
}

func TestConsoleDrawsBelowStatus(t *testing.T) {
	d := newTestDisplay(64, 64)
	l := newConsoleLog(nil)
	c := newConsole(d, l)
	if c == nil {
		t.Fatal("newConsole() = nil on a 64x64 display")
	}
	if got, want := c.top(), int16(64-6*fontHeight); got != want {
		t.Fatalf("top() = %d, want %d", got, want)
	}

	l.WriteLineString("OOM:   *KILL* job     12 'worker-0'")
	if n := c.flush(); n != 1 {
		t.Fatalf("flush() = %d, want 1", n)
	}
	ink := 0
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if pixelAt(d, x, y) == 0 {
				continue
			}
			if y < int(c.top()) {
				t.Fatalf("console drew at (%d,%d), above its top %d", x, y, c.top())
			}
			ink++
		}
	}
	if ink == 0 {
		t.Fatal("no text drawn in the console")
	}
}

func TestNewConsoleTooShort(t *testing.T) {
	if c := newConsole(newTestDisplay(64, 16), newConsoleLog(nil)); c != nil {
		t.Fatalf("newConsole() on a 64x16 display = %+v, want nil", c)
	}
}
