// Package chain assembles a repeater chain: a headend, a tailend and the
// relays between them, joined hop by hop by heralding stations and fibres.
package chain

import (
	"github.com/sarchlab/qnetsim/channel"
	"github.com/sarchlab/qnetsim/link"
	"github.com/sarchlab/qnetsim/phys"
	"github.com/sarchlab/qnetsim/purify"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/relay"
	"github.com/sarchlab/qnetsim/session"
	"github.com/sarchlab/qnetsim/sim"
)

// AppHeader is the header that the relays forward unchanged, so that the
// applications at both ends can talk.
const AppHeader = "Application"

// A Node is one station of the chain and owns one bank. Ports and Links are
// ordered upstream first. The headend has no upstream side and the tailend
// has no downstream side.
type Node struct {
	Name      string
	Bank      *qmem.Bank
	Ports     []*channel.Port
	Links     []*link.Protocol
	Purifiers []*purify.Greedy
}

// A Chain is a linear repeater network.
type Chain struct {
	name string

	Nodes      []*Node
	Head       *session.Endpoint
	Tail       *session.Endpoint
	Relays     []*relay.Relay
	Forwarders []*relay.Forwarder
	Stations   []*phys.Station
	Fibres     []*channel.Fibre

	// NetPurifiers holds the end-to-end purifiers of the headend and the
	// tailend, if any.
	NetPurifiers []*purify.Greedy

	// Protocols lists every link protocol, including the raw ones that feed
	// the purifiers.
	Protocols []*link.Protocol
}

// Name returns the name of the chain.
func (c *Chain) Name() string {
	return c.name
}

// LiveSlots returns the number of slots in use over the whole chain.
func (c *Chain) LiveSlots() int {
	n := 0
	for _, node := range c.Nodes {
		n += node.Bank.InUse()
	}

	return n
}

// RelaySlots returns the number of slots in use at the relays.
func (c *Chain) RelaySlots() int {
	n := 0
	for _, node := range c.Nodes[1 : len(c.Nodes)-1] {
		n += node.Bank.InUse()
	}

	return n
}

// Hookables returns every component of the chain that accepts hooks.
func (c *Chain) Hookables() []sim.Hookable {
	var out []sim.Hookable

	for _, n := range c.Nodes {
		out = append(out, n.Bank)
		for _, p := range n.Ports {
			out = append(out, p)
		}

		for _, p := range n.Purifiers {
			out = append(out, p)
		}
	}

	for _, p := range c.Protocols {
		out = append(out, p)
	}

	for _, s := range c.Stations {
		out = append(out, s)
	}

	for _, f := range c.Fibres {
		out = append(out, f)
	}

	for _, r := range c.Relays {
		out = append(out, r)
	}

	for _, f := range c.Forwarders {
		out = append(out, f)
	}

	for _, p := range c.NetPurifiers {
		out = append(out, p)
	}

	out = append(out, c.Head, c.Tail)

	return out
}
