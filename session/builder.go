package session

import (
	"log"

	"github.com/sarchlab/qnetsim/channel"
	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/fsm"
	"github.com/sarchlab/qnetsim/link"
	"github.com/sarchlab/qnetsim/purify"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/request"
	"github.com/sarchlab/qnetsim/sim"
)

// Builder can build endpoints.
type Builder struct {
	rt         *coop.Runtime
	storage    qmem.Storage
	port       *channel.Port
	link       link.Layer
	purifier   purify.Purifier
	cutoff     sim.VTimeInSec
	sessionIDs sim.IDGenerator
}

// MakeBuilder creates a Builder with a cutoff of 1ms.
func MakeBuilder() Builder {
	return Builder{
		cutoff: 1 * sim.Millisecond,
	}
}

// WithRuntime sets the runtime the endpoint process runs on.
func (b Builder) WithRuntime(rt *coop.Runtime) Builder {
	b.rt = rt
	return b
}

// WithStorage sets the bank that holds the pairs of the endpoint.
func (b Builder) WithStorage(s qmem.Storage) Builder {
	b.storage = s
	return b
}

// WithPort sets the port towards the only neighbor of the endpoint.
func (b Builder) WithPort(p *channel.Port) Builder {
	b.port = p
	return b
}

// WithLink sets the link layer of the hop towards the neighbor.
func (b Builder) WithLink(l link.Layer) Builder {
	b.link = l
	return b
}

// WithPurifier makes the endpoint purify the end-to-end pairs before
// delivering them. The far end needs a purifier that reaches the same
// decisions. The count of a session then counts purified pairs.
func (b Builder) WithPurifier(p purify.Purifier) Builder {
	b.purifier = p
	return b
}

// WithCutoff sets how long the relays keep a pair waiting for a partner.
// Only the headend announces it.
func (b Builder) WithCutoff(t sim.VTimeInSec) Builder {
	b.cutoff = t
	return b
}

// WithSessionIDGenerator sets the generator of session ids. By default,
// session ids are xids.
func (b Builder) WithSessionIDGenerator(g sim.IDGenerator) Builder {
	b.sessionIDs = g
	return b
}

// Build creates the endpoint and starts its process.
func (b Builder) Build(name string) *Endpoint {
	sim.NameMustBeValid(name)
	b.mustBeValid(name)

	e := &Endpoint{
		name:       name,
		rt:         b.rt,
		storage:    b.storage,
		port:       b.port,
		link:       b.link,
		purifier:   b.purifier,
		cutoff:     b.cutoff,
		sessionIDs: b.sessionIDs,
		netIDs:     sim.NewSequentialIDGenerator("net"),
		queue:      request.NewQueue[Params, Response](name+".Queue", b.rt),
		control:    b.port.Listen(channel.NetworkHeader),
	}

	if e.sessionIDs == nil {
		e.sessionIDs = xidGenerator{}
	}

	e.machine = fsm.NewBuilder(name).
		WithInitialState(StateIdle, e.idle).
		WithState(StateInitiating, e.initiating).
		WithState(StateSwapping, e.swapping).
		WithState(StateTerminating, e.terminating).
		Build()

	b.rt.Start(name, e.machine.Run)

	return e
}

func (b Builder) mustBeValid(name string) {
	if b.rt == nil || b.storage == nil {
		log.Panicf("session %s requires a runtime and a storage", name)
	}

	if b.port == nil || b.link == nil {
		log.Panicf("session %s requires a port and a link layer", name)
	}

	if b.cutoff <= 0 {
		log.Panicf("session %s: cutoff must be positive", name)
	}
}
