package link

import (
	"log"

	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/fsm"
	"github.com/sarchlab/qnetsim/phys"
	"github.com/sarchlab/qnetsim/purify"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/request"
	"github.com/sarchlab/qnetsim/sim"
)

// Builder can build link protocols.
type Builder struct {
	rt        *coop.Runtime
	storage   qmem.Storage
	partition []qmem.SlotID
	attempter phys.Attempter
	purifier  purify.Purifier
	inner     Layer
}

// MakeBuilder creates a Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithRuntime sets the runtime the protocol process runs on.
func (b Builder) WithRuntime(rt *coop.Runtime) Builder {
	b.rt = rt
	return b
}

// WithStorage sets the bank that receives the pairs.
func (b Builder) WithStorage(s qmem.Storage) Builder {
	b.storage = s
	return b
}

// WithPartition restricts the slots the protocol may use. By default, any
// slot of the storage can be used.
func (b Builder) WithPartition(slots []qmem.SlotID) Builder {
	b.partition = slots
	return b
}

// WithAttempter sets the physical layer that generates the pairs.
func (b Builder) WithAttempter(a phys.Attempter) Builder {
	b.attempter = a
	return b
}

// WithPurification makes the protocol feed the pairs of the inner link layer
// through the purifier and deliver only purified pairs. The inner layer must
// use the same storage.
func (b Builder) WithPurification(p purify.Purifier, inner Layer) Builder {
	b.purifier = p
	b.inner = inner
	return b
}

// Build creates the protocol and starts its process.
func (b Builder) Build(name string) *Protocol {
	sim.NameMustBeValid(name)
	b.mustBeValid(name)

	p := &Protocol{
		name:      name,
		rt:        b.rt,
		storage:   b.storage,
		partition: b.partition,
		queue:     request.NewQueue[Params, Response](name, b.rt),
	}

	if b.purifier != nil {
		p.sharer = &purifyingSharer{inner: b.inner, purifier: b.purifier}
	} else {
		p.sharer = &simpleSharer{attempter: b.attempter}
	}

	p.machine = fsm.NewBuilder(name).
		WithInitialState(StateIdle, p.idle).
		WithState(StateSharing, p.share).
		Build()

	b.rt.Start(name, p.machine.Run)
	b.rt.Start(name+".Expiry", p.expireQueued)

	return p
}

func (b Builder) mustBeValid(name string) {
	if b.rt == nil {
		log.Panicf("link %s requires a runtime", name)
	}

	if b.storage == nil {
		log.Panicf("link %s requires a storage", name)
	}

	if b.purifier == nil && b.attempter == nil {
		log.Panicf("link %s requires an attempter", name)
	}

	if b.purifier != nil && b.inner == nil {
		log.Panicf("link %s: purification requires an inner link layer", name)
	}
}
