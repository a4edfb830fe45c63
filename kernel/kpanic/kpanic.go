// Package kpanic reports kernel invariant violations.
//
// A violation means kernel-internal state is corrupt. It is never returned as
// an error: the installed handler runs once and the calling goroutine panics.
package kpanic

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Info contains details about an invariant violation.
type Info struct {
	Value any
	Stack []byte
}

var (
	active atomic.Bool
	once   sync.Once

	handler atomic.Value // func(Info)
)

// Active reports whether an invariant violation has been raised.
func Active() bool {
	return active.Load()
}

// SetHandler installs a process-wide violation handler.
//
// The handler is invoked at most once (on the first violation). It must not panic.
func SetHandler(fn func(Info)) {
	handler.Store(fn)
}

// Fatalf raises an invariant violation and does not return.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	trigger(Info{Value: msg})
	panic("kpanic: " + msg)
}

// Assert raises an invariant violation when cond is false.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		Fatalf(format, args...)
	}
}

func trigger(info Info) {
	once.Do(func() {
		active.Store(true)
		info.Stack = debug.Stack()
		if v := handler.Load(); v != nil {
			if fn, ok := v.(func(Info)); ok && fn != nil {
				fn(info)
			}
		}
	})
}
