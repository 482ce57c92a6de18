package sim

import "fmt"

// VTimeInSec defines the time in the simulated space in the unit of second
type VTimeInSec float64

// Units of simulated time.
const (
	Second      VTimeInSec = 1
	Millisecond VTimeInSec = 1e-3
	Microsecond VTimeInSec = 1e-6
	Nanosecond  VTimeInSec = 1e-9
)

// String prints the time with the largest unit that keeps the integer part
// non-zero, e.g. "12.000us".
func (t VTimeInSec) String() string {
	switch {
	case t == 0:
		return "0.000s"
	case t >= Second || t <= -Second:
		return fmt.Sprintf("%.3fs", float64(t))
	case t >= Millisecond || t <= -Millisecond:
		return fmt.Sprintf("%.3fms", float64(t/Millisecond))
	case t >= Microsecond || t <= -Microsecond:
		return fmt.Sprintf("%.3fus", float64(t/Microsecond))
	default:
		return fmt.Sprintf("%.3fns", float64(t/Nanosecond))
	}
}

// An Event is something going to happen in the future.
type Event interface {
	// Return the time that the event should happen
	Time() VTimeInSec

	// Returns the handler that can should handle the event
	Handler() Handler

	// IsSecondary tells if the event is a secondary event. Secondary event are
	// handled after all same-time primary events are handled.
	IsSecondary() bool
}

// EventBase provides the basic fields and getters for other events
type EventBase struct {
	ID        string
	time      VTimeInSec
	handler   Handler
	secondary bool
}

// NewEventBase creates a new EventBase
func NewEventBase(t VTimeInSec, handler Handler) *EventBase {
	e := new(EventBase)
	e.ID = GetIDGenerator().Generate()
	e.time = t
	e.handler = handler
	e.secondary = false
	return e
}

// NewSecondaryEventBase creates an EventBase that is handled after all the
// primary events scheduled at the same time.
func NewSecondaryEventBase(t VTimeInSec, handler Handler) *EventBase {
	e := NewEventBase(t, handler)
	e.secondary = true
	return e
}

// Time return the time that the event is going to happen
func (e *EventBase) Time() VTimeInSec {
	return e.time
}

// Handler returns the handler to handle the event.
func (e *EventBase) Handler() Handler {
	return e.handler
}

// IsSecondary returns true if the event is a secondary event.
func (e *EventBase) IsSecondary() bool {
	return e.secondary
}

// A Handler defines a domain for the events.
//
// One event is always constraint to one Handler, which means the event can
// only be scheduled by one handler and can only directly modify that handler.
type Handler interface {
	Handle(e Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(e Event) error

// Handle calls f(e).
func (f HandlerFunc) Handle(e Event) error {
	return f(e)
}
