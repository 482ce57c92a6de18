package coop

import (
	"slices"

	"github.com/sarchlab/qnetsim/sim"
)

// An Awaitable is a condition that a process can suspend on. Awaitables are
// armed by the runtime when a process suspends and disarmed when the process
// resumes, so the same Awaitable can be awaited repeatedly.
type Awaitable interface {
	arm(w *waiter)
	disarm(w *waiter)
	satisfied(f Fired) bool
}

// Fired tells which awaitables fired before a process resumed, together with
// the values they carried.
type Fired struct {
	values map[Awaitable]any
}

func newFired() Fired {
	return Fired{values: make(map[Awaitable]any)}
}

// Has returns true if a is satisfied. For Or and And combinations the check
// is applied to their terms.
func (f Fired) Has(a Awaitable) bool {
	if a == nil || f.values == nil {
		return false
	}

	return a.satisfied(f)
}

// Value returns the value that a leaf awaitable fired with. It returns nil for
// combinations and for awaitables that did not fire.
func (f Fired) Value(a Awaitable) any {
	return f.values[a]
}

func (f Fired) has(a Awaitable) bool {
	_, ok := f.values[a]
	return ok
}

type waiterList []*waiter

func (l *waiterList) add(w *waiter) {
	*l = append(*l, w)
}

func (l *waiterList) remove(w *waiter) {
	i := slices.Index(*l, w)
	if i >= 0 {
		*l = slices.Delete(*l, i, i+1)
	}
}

func (l waiterList) notify(a Awaitable, v any) {
	for _, w := range slices.Clone(l) {
		w.notify(a, v)
	}
}

// A Signal is an edge-triggered broadcast. Only the processes that are
// suspended on the signal at the moment it is emitted observe the emission.
type Signal struct {
	name    string
	waiters waiterList
}

// NewSignal creates a Signal.
func NewSignal(name string) *Signal {
	return &Signal{name: name}
}

// Name returns the name of the signal.
func (s *Signal) Name() string {
	return s.name
}

// Emit wakes every process currently waiting on the signal.
func (s *Signal) Emit(v any) {
	s.waiters.notify(s, v)
}

func (s *Signal) arm(w *waiter) {
	s.waiters.add(w)
}

func (s *Signal) disarm(w *waiter) {
	s.waiters.remove(w)
}

func (s *Signal) satisfied(f Fired) bool {
	return f.has(s)
}

// A Latch fires once it is set and stays fired afterwards.
type Latch struct {
	isSet   bool
	value   any
	waiters waiterList
}

// NewLatch creates an unset Latch.
func NewLatch() *Latch {
	return &Latch{}
}

// Set fires the latch. Setting a latch more than once keeps the first value.
func (l *Latch) Set(v any) {
	if l.isSet {
		return
	}

	l.isSet = true
	l.value = v
	l.waiters.notify(l, v)
}

// IsSet returns true if the latch has been set.
func (l *Latch) IsSet() bool {
	return l.isSet
}

// Value returns the value the latch was set with.
func (l *Latch) Value() any {
	return l.value
}

func (l *Latch) arm(w *waiter) {
	l.waiters.add(w)
	if l.isSet {
		w.notify(l, l.value)
	}
}

func (l *Latch) disarm(w *waiter) {
	l.waiters.remove(w)
}

func (l *Latch) satisfied(f Fired) bool {
	return f.has(l)
}

// A Timer fires at a point in simulated time. A relative timer measures its
// delay from the moment a process starts waiting on it.
type Timer struct {
	at       sim.VTimeInSec
	delay    sim.VTimeInSec
	relative bool
	pending  map[*waiter]*timerEvent
}

// Timeout returns a timer that fires d after the waiting process suspends.
func Timeout(d sim.VTimeInSec) *Timer {
	return &Timer{
		delay:    d,
		relative: true,
		pending:  make(map[*waiter]*timerEvent),
	}
}

// Deadline returns a timer that fires at the absolute time t. Waiting on a
// deadline that has already passed fires immediately.
func Deadline(t sim.VTimeInSec) *Timer {
	return &Timer{
		at:      t,
		pending: make(map[*waiter]*timerEvent),
	}
}

// At returns the absolute deadline, or the delay for relative timers.
func (t *Timer) At() sim.VTimeInSec {
	if t.relative {
		return t.delay
	}

	return t.at
}

func (t *Timer) arm(w *waiter) {
	rt := w.proc.rt
	now := rt.Now()

	at := t.at
	if t.relative {
		at = now + t.delay
	}

	if at <= now {
		w.notify(t, now)
		return
	}

	evt := &timerEvent{
		EventBase: sim.NewEventBase(at, rt),
		timer:     t,
		waiter:    w,
	}
	t.pending[w] = evt
	rt.engine.Schedule(evt)
}

func (t *Timer) disarm(w *waiter) {
	evt, ok := t.pending[w]
	if !ok {
		return
	}

	evt.cancelled = true
	delete(t.pending, w)
}

func (t *Timer) satisfied(f Fired) bool {
	return f.has(t)
}

func (t *Timer) fire(evt *timerEvent) {
	if evt.cancelled {
		return
	}

	delete(t.pending, evt.waiter)
	evt.waiter.notify(t, evt.Time())
}

type timerEvent struct {
	*sim.EventBase
	timer     *Timer
	waiter    *waiter
	cancelled bool
}

type anyOf struct {
	terms []Awaitable
}

// Or fires when any of the terms fires. Nil terms are ignored, which makes it
// convenient to pass optional conditions.
func Or(terms ...Awaitable) Awaitable {
	return &anyOf{terms: nonNil(terms)}
}

func (a *anyOf) arm(w *waiter) {
	for _, t := range a.terms {
		t.arm(w)
	}
}

func (a *anyOf) disarm(w *waiter) {
	for _, t := range a.terms {
		t.disarm(w)
	}
}

func (a *anyOf) satisfied(f Fired) bool {
	for _, t := range a.terms {
		if t.satisfied(f) {
			return true
		}
	}

	return false
}

type allOf struct {
	terms []Awaitable
}

// And fires once every term has fired at least once while the process was
// waiting.
func And(terms ...Awaitable) Awaitable {
	return &allOf{terms: nonNil(terms)}
}

func (a *allOf) arm(w *waiter) {
	for _, t := range a.terms {
		t.arm(w)
	}
}

func (a *allOf) disarm(w *waiter) {
	for _, t := range a.terms {
		t.disarm(w)
	}
}

func (a *allOf) satisfied(f Fired) bool {
	for _, t := range a.terms {
		if !t.satisfied(f) {
			return false
		}
	}

	return true
}

func nonNil(terms []Awaitable) []Awaitable {
	out := make([]Awaitable, 0, len(terms))
	for _, t := range terms {
		if t != nil {
			out = append(out, t)
		}
	}

	if len(out) == 0 {
		panic("combining zero awaitables")
	}

	return out
}
