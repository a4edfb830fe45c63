package app

import "sync/atomic"

// ledger is the simulated physical memory the load generator charges and
// the OOM monitor samples.
type ledger struct {
	total uint64
	used  atomic.Int64
}

func newLedger(total uint64) *ledger {
	return &ledger{total: total}
}

func (l *ledger) charge(n uint64)  { l.used.Add(int64(n)) }
func (l *ledger) release(n uint64) { l.used.Add(-int64(n)) }

func (l *ledger) Used() uint64 {
	u := l.used.Load()
	if u < 0 {
		return 0
	}
	return uint64(u)
}

// FreeBytes implements oom.MemoryStats.
func (l *ledger) FreeBytes() uint64 {
	u := l.Used()
	if u >= l.total {
		return 0
	}
	return l.total - u
}
