package hal

import (
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	defaultWidth  = 320
	defaultHeight = 320
)

type hostHAL struct {
	logger *hostLogger
	fb     *hostFramebuffer
	t      *hostTime
}

// New returns a host HAL that logs to stdout.
func New() HAL {
	return newHost(os.Stdout, defaultWidth, defaultHeight)
}

// NewWithWriter returns a host HAL that logs to w with a width x height
// framebuffer.
func NewWithWriter(w io.Writer, width, height int) HAL {
	return newHost(w, width, height)
}

func newHost(w io.Writer, width, height int) *hostHAL {
	return &hostHAL{
		logger: &hostLogger{w: w},
		fb:     newHostFramebuffer(width, height),
		t:      newHostTime(),
	}
}

func (h *hostHAL) Logger() Logger   { return h.logger }
func (h *hostHAL) Display() Display { return hostDisplay{fb: h.fb} }
func (h *hostHAL) Time() Time       { return h.t }

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}
