package coop

import "github.com/sarchlab/qnetsim/sim"

// A Step is the result of running a piece of a process. It is either
// suspended on an Awaitable together with the continuation to run once the
// awaitable fires, or completed with a value.
type Step struct {
	wait   Awaitable
	resume func(Fired) Step
	value  any
}

// Done returns true if the step has completed.
func (s Step) Done() bool {
	return s.wait == nil
}

// Value returns the value a completed step carries.
func (s Step) Value() any {
	return s.value
}

// Await suspends on a and continues with k once a fires.
func Await(a Awaitable, k func(Fired) Step) Step {
	if a == nil {
		panic("awaiting a nil awaitable")
	}

	return Step{wait: a, resume: k}
}

// Return completes with v.
func Return(v any) Step {
	return Step{value: v}
}

// Wait suspends on a and completes with the Fired set.
func Wait(a Awaitable) Step {
	return Await(a, func(f Fired) Step { return Return(f) })
}

// Sleep suspends for d and then continues with k.
func Sleep(d sim.VTimeInSec, k func() Step) Step {
	return Await(Timeout(d), func(Fired) Step { return k() })
}

// Then runs s to completion and feeds its value to k.
func Then(s Step, k func(v any) Step) Step {
	if s.Done() {
		return k(s.value)
	}

	return Step{
		wait: s.wait,
		resume: func(f Fired) Step {
			return Then(s.resume(f), k)
		},
	}
}

type loopBreak struct {
	value any
}

// Break ends the enclosing Loop, which completes with v.
func Break(v any) Step {
	return Return(loopBreak{value: v})
}

// Continue ends the current iteration of the enclosing Loop.
func Continue() Step {
	return Return(nil)
}

// Loop runs body repeatedly until an iteration completes with Break.
// Iterations that complete without suspending run in place, so a loop does
// not grow the stack with the number of iterations.
func Loop(body func() Step) Step {
	for {
		s := body()
		if !s.Done() {
			return suspendedIteration(s, body)
		}

		if b, ok := s.value.(loopBreak); ok {
			return Return(b.value)
		}
	}
}

func suspendedIteration(s Step, body func() Step) Step {
	return Step{
		wait: s.wait,
		resume: func(f Fired) Step {
			next := s.resume(f)
			if !next.Done() {
				return suspendedIteration(next, body)
			}

			if b, ok := next.value.(loopBreak); ok {
				return Return(b.value)
			}

			return Loop(body)
		},
	}
}
