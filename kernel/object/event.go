package object

import "errors"

// ErrInvalidSignals is returned when a caller touches non-user signals.
var ErrInvalidSignals = errors.New("object: invalid signals")

// Event is a waitable object with user-settable signals.
type Event struct {
	Base
}

// NewEvent returns an event holding one (creator) reference.
func NewEvent() *Event {
	e := &Event{}
	e.Init(TypeEvent, NewTracker(SignalLastHandle))
	return e
}

// Signal clears and sets user signals.
func (e *Event) Signal(clear, set Signals) error {
	if (clear|set)&^SignalUserAll != 0 {
		return ErrInvalidSignals
	}
	e.tracker.UpdateState(clear, set)
	return nil
}
