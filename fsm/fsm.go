// Package fsm drives protocol state machines whose state handlers can
// suspend.
package fsm

import (
	"fmt"
	"log"

	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/sim"
)

// State names a state of a machine.
type State string

// A HandlerFunc runs the behavior of one state. The step it returns must
// complete with the next State.
type HandlerFunc func() coop.Step

// HookPosStateChange marks a state transition. The hook item is a Transition.
var HookPosStateChange = &sim.HookPos{Name: "StateChange"}

// Transition describes a change of state.
type Transition struct {
	From State
	To   State
}

// A Machine is a finite state machine with an explicit dispatch table.
type Machine struct {
	sim.HookableBase

	name     string
	handlers map[State]HandlerFunc
	terminal map[State]bool
	initial  State
	state    State
}

// Name returns the name of the machine.
func (m *Machine) Name() string {
	return m.name
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Initial returns the initial state.
func (m *Machine) Initial() State {
	return m.initial
}

// IsTerminal checks if s is a terminal state.
func (m *Machine) IsTerminal(s State) bool {
	return m.terminal[s]
}

// Ended returns true if the machine is in a terminal state.
func (m *Machine) Ended() bool {
	return m.terminal[m.state]
}

// SetState moves the machine to s. Moving to an unknown state or away from a
// terminal state panics.
func (m *Machine) SetState(s State) {
	if !m.known(s) {
		log.Panicf("machine %s: unknown state %q", m.name, s)
	}

	if m.terminal[m.state] && s != m.state {
		log.Panicf("machine %s: cannot leave terminal state %q for %q",
			m.name, m.state, s)
	}

	from := m.state
	m.state = s

	if m.NumHooks() > 0 {
		m.InvokeHook(sim.HookCtx{
			Domain: m,
			Pos:    HookPosStateChange,
			Item:   Transition{From: from, To: s},
		})
	}
}

// Run invokes the handler of the current state until the machine enters a
// terminal state. The returned step completes with that terminal state. A
// machine without terminal states runs forever.
func (m *Machine) Run() coop.Step {
	return coop.Loop(func() coop.Step {
		if m.terminal[m.state] {
			return coop.Break(m.state)
		}

		handler := m.handlers[m.state]
		return coop.Then(handler(), func(v any) coop.Step {
			m.SetState(m.nextState(v))
			return coop.Continue()
		})
	})
}

func (m *Machine) nextState(v any) State {
	next, ok := v.(State)
	if !ok {
		panic(fmt.Sprintf(
			"machine %s: handler of state %q returned %v instead of a state",
			m.name, m.state, v))
	}

	return next
}

func (m *Machine) known(s State) bool {
	_, hasHandler := m.handlers[s]
	return hasHandler || m.terminal[s]
}
