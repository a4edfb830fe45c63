// Package klog is the kernel's line logger contract. It has the same shape
// as hal.Logger so the host logger plugs in directly, without the kernel
// packages depending on display backends.
package klog

import (
	"fmt"
	"strings"
	"sync"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// Printf formats one line to l. A nil logger drops the line.
func Printf(l Logger, format string, args ...any) {
	if l == nil {
		return
	}
	l.WriteLineString(fmt.Sprintf(format, args...))
}

// Buffer is a Logger that keeps lines in memory.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *Buffer) WriteLineString(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, s)
}

func (b *Buffer) WriteLineBytes(p []byte) { b.WriteLineString(string(p)) }

// Lines returns a copy of the recorded lines.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// Count returns how many recorded lines contain substr.
func (b *Buffer) Count(substr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, l := range b.lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

// Reset drops all recorded lines.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = nil
}
