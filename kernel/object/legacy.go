package object

import "sync/atomic"

// IoMapping is an I/O mapping object. It predates state trackers and relies
// on Close being called when one of its handles is deleted.
type IoMapping struct {
	Base
	closes atomic.Int32
}

// NewIoMapping returns an I/O mapping holding one (creator) reference.
func NewIoMapping() *IoMapping {
	m := &IoMapping{}
	m.Init(TypeIOMapping, nil)
	return m
}

// Close unmaps the region. Later calls only bump the counter.
func (m *IoMapping) Close() { m.closes.Add(1) }

// Closed reports whether Close has been called.
func (m *IoMapping) Closed() bool { return m.closes.Load() > 0 }

// Closes returns how many times Close ran.
func (m *IoMapping) Closes() int { return int(m.closes.Load()) }

// Log is the kernel debug log object. Deleting its handles needs no cleanup.
type Log struct {
	Base
}

func NewLog() *Log {
	l := &Log{}
	l.Init(TypeLog, nil)
	return l
}
