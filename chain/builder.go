package chain

import (
	"log"

	"github.com/sarchlab/qnetsim/channel"
	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/link"
	"github.com/sarchlab/qnetsim/phys"
	"github.com/sarchlab/qnetsim/purify"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/relay"
	"github.com/sarchlab/qnetsim/session"
	"github.com/sarchlab/qnetsim/sim"
)

// Builder can build chains.
type Builder struct {
	rt         *coop.Runtime
	relays     int
	slots      int
	station    phys.StationBuilder
	latency    sim.VTimeInSec
	cutoff     sim.VTimeInSec
	swapTime   sim.VTimeInSec
	iterations int
	queueLimit int
	netIters   int
	scheme     purify.Scheme
	seed       uint64
	sessionIDs sim.IDGenerator
}

// MakeBuilder creates a Builder with default parameters: one relay, four
// slots per node, 1us fibres and a 1ms cutoff.
func MakeBuilder() Builder {
	return Builder{
		relays:  1,
		slots:   4,
		station: phys.MakeStationBuilder(),
		latency: 1 * sim.Microsecond,
		cutoff:  1 * sim.Millisecond,
		seed:    1,
	}
}

// WithRuntime sets the runtime every process of the chain runs on.
func (b Builder) WithRuntime(rt *coop.Runtime) Builder {
	b.rt = rt
	return b
}

// WithRelays sets the number of relays.
func (b Builder) WithRelays(n int) Builder {
	b.relays = n
	return b
}

// WithSlotsPerNode sets the size of the bank of every node. A relay splits
// its bank evenly between its two hops.
func (b Builder) WithSlotsPerNode(n int) Builder {
	b.slots = n
	return b
}

// WithStation sets the template of the heralding stations. The runtime and
// the seed of the template are replaced for every hop.
func (b Builder) WithStation(s phys.StationBuilder) Builder {
	b.station = s
	return b
}

// WithChannelLatency sets the latency of the fibres.
func (b Builder) WithChannelLatency(t sim.VTimeInSec) Builder {
	b.latency = t
	return b
}

// WithCutoff sets how long the relays keep a pair waiting for a partner.
func (b Builder) WithCutoff(t sim.VTimeInSec) Builder {
	b.cutoff = t
	return b
}

// WithSwapTime sets how long a swap occupies a relay.
func (b Builder) WithSwapTime(t sim.VTimeInSec) Builder {
	b.swapTime = t
	return b
}

// WithPurification makes every hop purify its pairs for the given number of
// rounds before handing them over. Zero disables purification.
func (b Builder) WithPurification(iterations, queueLimit int) Builder {
	b.iterations = iterations
	b.queueLimit = queueLimit

	return b
}

// WithNetworkPurification makes both ends purify the end-to-end pairs for
// the given number of rounds before delivering them. Zero disables it.
func (b Builder) WithNetworkPurification(iterations int) Builder {
	b.netIters = iterations
	return b
}

// WithPurificationScheme sets the round protocol of every purifier.
func (b Builder) WithPurificationScheme(s purify.Scheme) Builder {
	b.scheme = s
	return b
}

// WithSeed sets the seed that the random streams of the chain derive from.
func (b Builder) WithSeed(seed uint64) Builder {
	b.seed = seed
	return b
}

// WithSessionIDGenerator sets the generator of the headend's session ids.
func (b Builder) WithSessionIDGenerator(g sim.IDGenerator) Builder {
	b.sessionIDs = g
	return b
}

// Build creates the chain and starts all its processes.
func (b Builder) Build(name string) *Chain {
	sim.NameMustBeValid(name)
	b.mustBeValid(name)

	c := &Chain{name: name}

	b.buildNodes(c)
	for h := 0; h < len(c.Nodes)-1; h++ {
		b.buildHop(c, h)
	}

	b.buildEndpoints(c)
	b.buildRelays(c)

	return c
}

func (b Builder) mustBeValid(name string) {
	if b.rt == nil {
		log.Panicf("chain %s requires a runtime", name)
	}

	if b.relays < 0 {
		log.Panicf("chain %s: negative number of relays", name)
	}

	if b.slots < 1 || (b.relays > 0 && b.slots < 2) {
		log.Panicf("chain %s: %d slots per node are not enough", name, b.slots)
	}

	if b.iterations < 0 || b.queueLimit < 0 || b.netIters < 0 {
		log.Panicf("chain %s: negative purification parameters", name)
	}
}

func (b Builder) buildNodes(c *Chain) {
	n := b.relays + 2
	for i := 0; i < n; i++ {
		var nodeName string
		switch i {
		case 0:
			nodeName = sim.BuildName(c.name, "Head")
		case n - 1:
			nodeName = sim.BuildName(c.name, "Tail")
		default:
			nodeName = sim.BuildNameWithIndex(c.name, "Relay", i-1)
		}

		node := &Node{
			Name: nodeName,
			Bank: qmem.NewBank(sim.BuildName(nodeName, "Bank"), b.slots),
		}

		if i > 0 {
			node.Ports = append(node.Ports,
				channel.NewPort(sim.BuildName(nodeName, "Up"), b.rt))
		}

		if i < n-1 {
			node.Ports = append(node.Ports,
				channel.NewPort(sim.BuildName(nodeName, "Down"), b.rt))
		}

		c.Nodes = append(c.Nodes, node)
	}
}

// buildHop joins node h and node h+1 with a station and a fibre.
func (b Builder) buildHop(c *Chain, h int) {
	up, down := c.Nodes[h], c.Nodes[h+1]

	station := b.station.
		WithRuntime(b.rt).
		WithSeed(b.seed + uint64(h)).
		Build(sim.BuildNameWithIndex(c.name, "Hop", h))
	c.Stations = append(c.Stations, station)

	fibre := channel.NewFibre(
		sim.BuildNameWithIndex(c.name, "Fibre", h), b.rt.Engine(), b.latency)
	fibre.PlugIn(up.Ports[len(up.Ports)-1])
	fibre.PlugIn(down.Ports[0])
	c.Fibres = append(c.Fibres, fibre)

	upPartition := b.partition(up, false)
	downPartition := b.partition(down, true)

	b.buildLink(c, up, "DownLink", upPartition, station.Side(0))
	b.buildLink(c, down, "UpLink", downPartition, station.Side(1))
}

// partition returns the slots a node gives to one of its hops. The ends give
// all their slots to their only hop.
func (b Builder) partition(node *Node, upstream bool) []qmem.SlotID {
	if len(node.Ports) == 1 {
		return nil
	}

	half := b.slots / 2
	if upstream {
		return node.Bank.Partition(0, half)
	}

	return node.Bank.Partition(half, b.slots)
}

func (b Builder) buildLink(
	c *Chain,
	node *Node,
	suffix string,
	partition []qmem.SlotID,
	attempter phys.Attempter,
) {
	name := sim.BuildName(node.Name, suffix)
	raw := link.MakeBuilder().
		WithRuntime(b.rt).
		WithStorage(node.Bank).
		WithPartition(partition).
		WithAttempter(attempter)

	if b.iterations == 0 {
		l := raw.Build(name)
		node.Links = append(node.Links, l)
		c.Protocols = append(c.Protocols, l)

		return
	}

	inner := raw.Build(sim.BuildName(name, "Raw"))
	purifier := purify.MakeGreedyBuilder().
		WithRuntime(b.rt).
		WithStorage(node.Bank).
		WithIterations(b.iterations).
		WithQueueLimit(b.queueLimit).
		WithScheme(b.scheme).
		WithExchangeLatency(2 * b.latency).
		Build(sim.BuildName(name, "Purifier"))
	outer := link.MakeBuilder().
		WithRuntime(b.rt).
		WithStorage(node.Bank).
		WithPurification(purifier, inner).
		Build(name)

	node.Links = append(node.Links, outer)
	node.Purifiers = append(node.Purifiers, purifier)
	c.Protocols = append(c.Protocols, inner, outer)
}

func (b Builder) buildEndpoints(c *Chain) {
	head := c.Nodes[0]
	tail := c.Nodes[len(c.Nodes)-1]

	hb := session.MakeBuilder().
		WithRuntime(b.rt).
		WithCutoff(b.cutoff)
	if b.sessionIDs != nil {
		hb = hb.WithSessionIDGenerator(b.sessionIDs)
	}

	c.Head = hb.
		WithStorage(head.Bank).
		WithPort(head.Ports[0]).
		WithLink(head.Links[0]).
		WithPurifier(b.netPurifier(c, head)).
		Build(sim.BuildName(head.Name, "Net"))
	c.Tail = hb.
		WithStorage(tail.Bank).
		WithPort(tail.Ports[0]).
		WithLink(tail.Links[0]).
		WithPurifier(b.netPurifier(c, tail)).
		Build(sim.BuildName(tail.Name, "Net"))
}

// netPurifier builds the end-to-end purifier of an end. Its rounds wait for
// the outcome of the far end to cross the whole chain. It never drops pairs,
// since the two ends may fall behind by different amounts.
func (b Builder) netPurifier(c *Chain, node *Node) purify.Purifier {
	if b.netIters == 0 {
		return nil
	}

	p := purify.MakeGreedyBuilder().
		WithRuntime(b.rt).
		WithStorage(node.Bank).
		WithIterations(b.netIters).
		WithScheme(b.scheme).
		WithExchangeLatency(sim.VTimeInSec(b.relays+1) * b.latency).
		Build(sim.BuildName(node.Name, "NetPurifier"))
	c.NetPurifiers = append(c.NetPurifiers, p)

	return p
}

func (b Builder) buildRelays(c *Chain) {
	for i, node := range c.Nodes[1 : len(c.Nodes)-1] {
		r := relay.MakeBuilder().
			WithRuntime(b.rt).
			WithStorage(node.Bank).
			WithSwapper(phys.NewSwapper(b.seed+1000+uint64(i), b.swapTime)).
			WithNeighbor(node.Ports[0], node.Links[0]).
			WithNeighbor(node.Ports[1], node.Links[1]).
			Build(sim.BuildName(node.Name, "Net"))
		c.Relays = append(c.Relays, r)

		f := relay.NewForwarder(b.rt, sim.BuildName(node.Name, "Forwarder"),
			AppHeader, node.Ports[0], node.Ports[1])
		c.Forwarders = append(c.Forwarders, f)
	}
}
