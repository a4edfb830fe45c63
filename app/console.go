package app

import (
	"image/color"
	"strings"
	"sync"

	"keystone/hal"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyterm"
)

const (
	consoleRows    = 8
	consoleBacklog = 64
)

// Lines containing any of these are echoed to the on-screen console.
var consoleMarks = []string{"*KILL*", "(next)", "WARNING", "unresolved", "OOM: monitor"}

// consoleLog passes every line through to the HAL logger and queues the
// interesting ones for the console.
type consoleLog struct {
	out hal.Logger

	mu      sync.Mutex
	pending []string
	dropped int
}

func newConsoleLog(out hal.Logger) *consoleLog {
	return &consoleLog{out: out}
}

func (l *consoleLog) WriteLineString(s string) {
	if l.out != nil {
		l.out.WriteLineString(s)
	}
	if !consoleWorthy(s) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == consoleBacklog {
		l.pending = l.pending[1:]
		l.dropped++
	}
	l.pending = append(l.pending, s)
}

func (l *consoleLog) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

// drain returns the queued lines and how many were dropped since the last
// call.
func (l *consoleLog) drain() ([]string, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lines, dropped := l.pending, l.dropped
	l.pending, l.dropped = nil, 0
	return lines, dropped
}

func consoleWorthy(s string) bool {
	for _, m := range consoleMarks {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

var _ tinyterm.Displayer = (*consoleRegion)(nil)

// consoleRegion is a horizontal band of an fbDisplay with its own origin.
type consoleRegion struct {
	d  *fbDisplay
	y0 int16
	h  int16
}

func (r *consoleRegion) Size() (x, y int16) {
	w, _ := r.d.Size()
	return w, r.h
}

func (r *consoleRegion) SetPixel(x, y int16, c color.RGBA) {
	if y < 0 || y >= r.h {
		return
	}
	r.d.SetPixel(x, r.y0+y, c)
}

// Display is a no-op; the view presents the whole frame.
func (r *consoleRegion) Display() error { return nil }

func (r *consoleRegion) FillRectangle(x, y, width, height int16, c color.RGBA) error {
	if y < 0 {
		height += y
		y = 0
	}
	if y+height > r.h {
		height = r.h - y
	}
	if height > 0 {
		r.d.FillRectangle(x, r.y0+y, width, height, c)
	}
	return nil
}

func (r *consoleRegion) SetScroll(int16) {}

func (r *consoleRegion) SetRotation(drivers.Rotation) error { return nil }

// console is a scrolling text terminal along the bottom of the screen.
type console struct {
	region *consoleRegion
	term   *tinyterm.Terminal
	log    *consoleLog
}

// newConsole returns nil when the display is too short to hold a console
// under the status lines.
func newConsole(d *fbDisplay, log *consoleLog) *console {
	_, h := d.Size()
	rows := int16(consoleRows)
	for rows > 1 && h-rows*fontHeight < statusLines*fontHeight+2 {
		rows--
	}
	if rows < 2 {
		return nil
	}
	r := &consoleRegion{d: d, y0: h - rows*fontHeight, h: rows * fontHeight}
	term := tinyterm.NewTerminal(r)
	term.Configure(&tinyterm.Config{
		Font:              &tinyfont.TomThumb,
		FontHeight:        fontHeight,
		FontOffset:        fontOffset,
		UseSoftwareScroll: true,
	})
	return &console{region: r, term: term, log: log}
}

// top is the first display row the console owns.
func (c *console) top() int16 { return c.region.y0 }

// flush writes the queued log lines to the terminal. Kill lines are red.
func (c *console) flush() int {
	lines, dropped := c.log.drain()
	if dropped > 0 {
		c.term.Printf("... %d lines dropped\n", dropped)
	}
	for _, s := range lines {
		if strings.Contains(s, "*KILL*") {
			c.term.Printf("\x1b[31m%s\x1b[0m\n", s)
			continue
		}
		c.term.Printf("%s\n", s)
	}
	return len(lines)
}
