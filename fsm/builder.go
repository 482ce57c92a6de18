package fsm

import (
	"fmt"
	"log"
)

// Builder collects the dispatch table of a Machine.
type Builder struct {
	name     string
	handlers map[State]HandlerFunc
	initial  []State
	terminal map[State]bool
	problems []string
}

// NewBuilder creates a Builder for a machine with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:     name,
		handlers: make(map[State]HandlerFunc),
		terminal: make(map[State]bool),
	}
}

// WithState registers the handler of s.
func (b *Builder) WithState(s State, h HandlerFunc) *Builder {
	if _, dup := b.handlers[s]; dup {
		b.problems = append(b.problems,
			fmt.Sprintf("duplicate handler for state %q", s))
	}

	if h == nil {
		b.problems = append(b.problems,
			fmt.Sprintf("nil handler for state %q", s))
	}

	b.handlers[s] = h

	return b
}

// WithInitialState registers the handler of s and marks s as the state the
// machine starts in.
func (b *Builder) WithInitialState(s State, h HandlerFunc) *Builder {
	b.initial = append(b.initial, s)
	return b.WithState(s, h)
}

// WithTerminalState marks s as terminal. Entering s ends the machine.
func (b *Builder) WithTerminalState(s State) *Builder {
	b.terminal[s] = true
	return b
}

// Build validates the dispatch table and returns the machine. It panics if
// the table is inconsistent.
func (b *Builder) Build() *Machine {
	b.validate()

	m := &Machine{
		name:     b.name,
		handlers: make(map[State]HandlerFunc, len(b.handlers)),
		terminal: make(map[State]bool, len(b.terminal)),
		initial:  b.initial[0],
		state:    b.initial[0],
	}

	for s, h := range b.handlers {
		m.handlers[s] = h
	}

	for s := range b.terminal {
		m.terminal[s] = true
	}

	return m
}

func (b *Builder) validate() {
	problems := append([]string(nil), b.problems...)

	switch len(b.initial) {
	case 0:
		problems = append(problems, "no initial state")
	case 1:
	default:
		problems = append(problems,
			fmt.Sprintf("multiple initial states %v", b.initial))
	}

	for s := range b.terminal {
		if _, ok := b.handlers[s]; ok {
			problems = append(problems,
				fmt.Sprintf("terminal state %q has a handler", s))
		}
	}

	if len(problems) > 0 {
		log.Panicf("machine %s is invalid: %v", b.name, problems)
	}
}
