package relay

import (
	"log"

	"github.com/sarchlab/qnetsim/channel"
	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/fsm"
	"github.com/sarchlab/qnetsim/link"
	"github.com/sarchlab/qnetsim/phys"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/sim"
)

// Builder can build relays.
type Builder struct {
	rt        *coop.Runtime
	storage   qmem.Storage
	swapper   *phys.Swapper
	neighbors []*neighbor
}

// MakeBuilder creates a Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithRuntime sets the runtime the relay process runs on.
func (b Builder) WithRuntime(rt *coop.Runtime) Builder {
	b.rt = rt
	return b
}

// WithStorage sets the bank that holds the halves of both hops.
func (b Builder) WithStorage(s qmem.Storage) Builder {
	b.storage = s
	return b
}

// WithSwapper sets the swapper. By default swaps take no time.
func (b Builder) WithSwapper(s *phys.Swapper) Builder {
	b.swapper = s
	return b
}

// WithNeighbor adds a neighbor, reached through port and sharing pairs
// through l. A relay has exactly two neighbors.
func (b Builder) WithNeighbor(port *channel.Port, l link.Layer) Builder {
	n := &neighbor{port: port, link: l}
	b.neighbors = append(b.neighbors[:len(b.neighbors):len(b.neighbors)], n)

	return b
}

// Build creates the relay and starts its process.
func (b Builder) Build(name string) *Relay {
	sim.NameMustBeValid(name)

	if b.rt == nil || b.storage == nil {
		log.Panicf("relay %s requires a runtime and a storage", name)
	}

	if len(b.neighbors) != 2 {
		log.Panicf("relay %s requires 2 neighbors, got %d",
			name, len(b.neighbors))
	}

	r := &Relay{
		name:    name,
		rt:      b.rt,
		storage: b.storage,
		swapper: b.swapper,
	}

	if r.swapper == nil {
		r.swapper = phys.NewSwapper(1, 0)
	}

	for i, n := range b.neighbors {
		r.neighbors[i] = &neighbor{
			port:    n.port,
			link:    n.link,
			control: n.port.Listen(channel.NetworkHeader),
		}
	}

	r.machine = fsm.NewBuilder(name).
		WithInitialState(StateIdle, r.idle).
		WithState(StateSwapping, r.swapping).
		WithState(StateTerminating, r.terminating).
		Build()

	b.rt.Start(name, r.machine.Run)

	return r
}
