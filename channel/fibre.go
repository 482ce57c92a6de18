package channel

import (
	"log"

	"github.com/sarchlab/qnetsim/sim"
)

// A Fibre connects two ports with a fixed latency. Messages in each direction
// arrive in the order they were sent.
type Fibre struct {
	sim.HookableBase

	name     string
	engine   sim.Engine
	latency  sim.VTimeInSec
	ends     []*Port
	inFlight [2]sim.Buffer
}

// NewFibre creates a fibre.
func NewFibre(name string, engine sim.Engine, latency sim.VTimeInSec) *Fibre {
	sim.NameMustBeValid(name)

	if latency < 0 {
		log.Panicf("fibre %s has negative latency", name)
	}

	f := &Fibre{
		name:    name,
		engine:  engine,
		latency: latency,
	}
	f.inFlight[0] = sim.NewBuffer(sim.BuildName(name, "Forward"), 0)
	f.inFlight[1] = sim.NewBuffer(sim.BuildName(name, "Backward"), 0)

	return f
}

// Name returns the name of the fibre.
func (f *Fibre) Name() string {
	return f.name
}

// Latency returns the time a message spends on the fibre.
func (f *Fibre) Latency() sim.VTimeInSec {
	return f.latency
}

// PlugIn attaches a port to one end of the fibre.
func (f *Fibre) PlugIn(p *Port) {
	if len(f.ends) == 2 {
		log.Panicf("fibre %s already has two ends", f.name)
	}

	f.ends = append(f.ends, p)
	p.SetConnection(f)
}

// InFlight returns the number of messages travelling on the fibre.
func (f *Fibre) InFlight() int {
	return f.inFlight[0].Size() + f.inFlight[1].Size()
}

// Send puts a message on the fibre.
func (f *Fibre) Send(src *Port, msg Message) {
	dir := f.direction(src)

	f.inFlight[dir].Push(msg)
	f.engine.Schedule(&arrivalEvent{
		EventBase: sim.NewEventBase(f.engine.CurrentTime()+f.latency, f),
		direction: dir,
	})
}

// Handle delivers the message at the head of a direction.
func (f *Fibre) Handle(e sim.Event) error {
	evt := e.(*arrivalEvent)

	msg := f.inFlight[evt.direction].Pop().(Message)
	f.ends[1-evt.direction].Deliver(msg)

	return nil
}

func (f *Fibre) direction(src *Port) int {
	if len(f.ends) != 2 {
		log.Panicf("fibre %s is not fully connected", f.name)
	}

	switch src {
	case f.ends[0]:
		return 0
	case f.ends[1]:
		return 1
	}

	log.Panicf("port %s is not plugged into fibre %s", src.Name(), f.name)
	return -1
}

type arrivalEvent struct {
	*sim.EventBase
	direction int
}
