package relay

import (
	"github.com/sarchlab/qnetsim/channel"
	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/sim"
)

// HookPosForward marks a message passed through a forwarder. The item is the
// message.
var HookPosForward = &sim.HookPos{Name: "Forward"}

// A Forwarder passes the messages of one header between two ports unchanged,
// so that the endpoints of a chain can talk over the relays.
type Forwarder struct {
	sim.HookableBase

	name      string
	header    string
	ports     [2]*channel.Port
	inboxes   [2]*coop.Inbox[channel.Message]
	forwarded uint64
}

// NewForwarder creates a forwarder and starts its process.
func NewForwarder(
	rt *coop.Runtime,
	name, header string,
	a, b *channel.Port,
) *Forwarder {
	sim.NameMustBeValid(name)

	f := &Forwarder{
		name:   name,
		header: header,
		ports:  [2]*channel.Port{a, b},
	}

	for i, p := range f.ports {
		f.inboxes[i] = p.Listen(header)
	}

	rt.Start(name, f.run)

	return f
}

// Name returns the name of the forwarder.
func (f *Forwarder) Name() string {
	return f.name
}

// Forwarded returns the number of messages forwarded so far.
func (f *Forwarder) Forwarded() uint64 {
	return f.forwarded
}

func (f *Forwarder) run() coop.Step {
	return coop.Loop(func() coop.Step {
		for i, in := range f.inboxes {
			for _, msg := range in.Drain() {
				f.forwarded++
				if f.NumHooks() > 0 {
					f.InvokeHook(sim.HookCtx{
						Domain: f,
						Pos:    HookPosForward,
						Item:   msg,
					})
				}

				f.ports[1-i].Forward(msg)
			}
		}

		return coop.Await(
			coop.Or(f.inboxes[0], f.inboxes[1]),
			func(coop.Fired) coop.Step { return coop.Continue() },
		)
	})
}
