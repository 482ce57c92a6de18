package coop

import (
	"fmt"

	"github.com/sarchlab/qnetsim/sim"
)

// HookPosProcessStart marks when a process runs for the first time.
var HookPosProcessStart = &sim.HookPos{Name: "ProcessStart"}

// HookPosProcessResume marks when a suspended process is resumed. The detail
// is the Fired set.
var HookPosProcessResume = &sim.HookPos{Name: "ProcessResume"}

// HookPosProcessEnd marks when a process completes or is stopped.
var HookPosProcessEnd = &sim.HookPos{Name: "ProcessEnd"}

// A Runtime drives cooperative processes on top of a simulation engine. A
// process only ever resumes from an engine event, so all the processes that
// become ready at the same time resume in the order they became ready.
type Runtime struct {
	sim.HookableBase

	name   string
	engine sim.Engine
	live   map[*Process]struct{}
}

// NewRuntime creates a Runtime that schedules on the given engine.
func NewRuntime(name string, engine sim.Engine) *Runtime {
	sim.NameMustBeValid(name)

	return &Runtime{
		name:   name,
		engine: engine,
		live:   make(map[*Process]struct{}),
	}
}

// Name returns the name of the runtime.
func (r *Runtime) Name() string {
	return r.name
}

// Engine returns the engine that the runtime schedules on.
func (r *Runtime) Engine() sim.Engine {
	return r.engine
}

// Now returns the current simulated time.
func (r *Runtime) Now() sim.VTimeInSec {
	return r.engine.CurrentTime()
}

// CurrentTime returns the current simulated time.
func (r *Runtime) CurrentTime() sim.VTimeInSec {
	return r.engine.CurrentTime()
}

// NumLive returns the number of processes that have started but not ended.
func (r *Runtime) NumLive() int {
	return len(r.live)
}

// Start creates a process that runs body at the current time.
func (r *Runtime) Start(name string, body func() Step) *Process {
	p := &Process{
		name:     name,
		rt:       r,
		finished: NewLatch(),
	}
	r.live[p] = struct{}{}

	evt := &startEvent{
		EventBase: sim.NewEventBase(r.Now(), r),
		proc:      p,
		body:      body,
	}
	r.engine.Schedule(evt)

	return p
}

// Handle runs the runtime's internal events.
func (r *Runtime) Handle(e sim.Event) error {
	switch e := e.(type) {
	case *startEvent:
		r.start(e)
	case *resumeEvent:
		r.resume(e.waiter)
	case *timerEvent:
		e.timer.fire(e)
	default:
		return fmt.Errorf("runtime %s cannot handle event %T", r.name, e)
	}

	return nil
}

func (r *Runtime) start(e *startEvent) {
	p := e.proc
	if p.stopped {
		return
	}

	r.invoke(HookPosProcessStart, p, nil)
	p.advance(e.body())
}

func (r *Runtime) resume(w *waiter) {
	p := w.proc
	if w.done || p.stopped {
		return
	}

	w.done = true
	w.target.disarm(w)
	p.current = nil

	r.invoke(HookPosProcessResume, p, w.fired)
	p.advance(w.resume(w.fired))
}

func (r *Runtime) scheduleResume(w *waiter) {
	evt := &resumeEvent{
		EventBase: sim.NewEventBase(r.Now(), r),
		waiter:    w,
	}
	r.engine.Schedule(evt)
}

func (r *Runtime) invoke(pos *sim.HookPos, p *Process, detail any) {
	if r.NumHooks() == 0 {
		return
	}

	r.InvokeHook(sim.HookCtx{
		Domain: r,
		Pos:    pos,
		Item:   p,
		Detail: detail,
	})
}

func (r *Runtime) end(p *Process) {
	delete(r.live, p)
	r.invoke(HookPosProcessEnd, p, p.result)
	p.finished.Set(p.result)
}

type startEvent struct {
	*sim.EventBase
	proc *Process
	body func() Step
}

type resumeEvent struct {
	*sim.EventBase
	waiter *waiter
}

type waiter struct {
	proc      *Process
	target    Awaitable
	resume    func(Fired) Step
	fired     Fired
	scheduled bool
	done      bool
}

func (w *waiter) notify(a Awaitable, v any) {
	if w.done {
		return
	}

	w.fired.values[a] = v
	if w.scheduled || !w.target.satisfied(w.fired) {
		return
	}

	w.scheduled = true
	w.proc.rt.scheduleResume(w)
}

// A Process is a cooperative task. It runs until it suspends on an
// Awaitable, and is resumed by the runtime when the awaitable fires.
type Process struct {
	name     string
	rt       *Runtime
	current  *waiter
	finished *Latch
	result   any
	ended    bool
	stopped  bool
}

// Name returns the name of the process.
func (p *Process) Name() string {
	return p.name
}

// Ended returns true if the process completed or was stopped.
func (p *Process) Ended() bool {
	return p.ended
}

// Result returns the value the process completed with.
func (p *Process) Result() any {
	return p.result
}

// Finished returns a latch that fires when the process ends.
func (p *Process) Finished() *Latch {
	return p.finished
}

// Stop ends the process without resuming it again.
func (p *Process) Stop() {
	if p.ended {
		return
	}

	p.stopped = true
	if p.current != nil {
		p.current.done = true
		p.current.target.disarm(p.current)
		p.current = nil
	}

	p.ended = true
	p.rt.end(p)
}

func (p *Process) advance(s Step) {
	if p.stopped {
		return
	}

	if s.Done() {
		p.ended = true
		p.result = s.value
		p.rt.end(p)
		return
	}

	w := &waiter{
		proc:   p,
		target: s.wait,
		resume: s.resume,
		fired:  newFired(),
	}
	p.current = w
	s.wait.arm(w)
}
