package kpanic

import (
	"strings"
	"testing"
)

func TestFatalfRunsHandlerOnceAndPanics(t *testing.T) {
	calls := 0
	var got Info
	SetHandler(func(info Info) {
		calls++
		got = info
	})
	defer SetHandler(nil)

	for i := 0; i < 2; i++ {
		func() {
			defer func() {
				r := recover()
				if r == nil {
					t.Fatal("expected Fatalf to panic")
				}
				if s, ok := r.(string); !ok || !strings.Contains(s, "slot 7") {
					t.Fatalf("panic value = %v, want message containing %q", r, "slot 7")
				}
			}()
			Fatalf("slot %d corrupt", 7)
		}()
	}

	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if got.Value != "slot 7 corrupt" {
		t.Fatalf("info.Value = %v, want %q", got.Value, "slot 7 corrupt")
	}
	if len(got.Stack) == 0 {
		t.Fatal("expected stack to be captured")
	}
	if !Active() {
		t.Fatal("Active() = false after violation, want true")
	}
}

func TestAssertTrueDoesNotPanic(t *testing.T) {
	Assert(true, "never")
}
