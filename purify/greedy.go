package purify

import (
	"hash/fnv"
	"log"

	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/request"
	"github.com/sarchlab/qnetsim/sim"
)

type pairParams struct {
	pair qmem.EntanglementRecord
}

// Greedy purifies every incoming pair into the one it currently holds until
// the held pair survived the configured number of rounds. A failed round
// discards both pairs. The scheme decides how a round transforms the held
// pair.
//
// The measurement outcome of a round is derived from the ids of the two pairs,
// so the two ends of a hop reach the same decision without talking. The
// exchange latency still delays every round by the time the outcomes would
// take to cross the hop.
type Greedy struct {
	sim.HookableBase

	name       string
	storage    qmem.Storage
	iterations int
	queueLimit int
	exchange   sim.VTimeInSec
	scheme     Scheme

	pairs     *request.Queue[pairParams, struct{}]
	completed *coop.Inbox[qmem.EntanglementRecord]

	current *qmem.EntanglementRecord
	state   BellDiagonal
	rounds  int
	epoch    int

	numRounds    uint64
	numSuccesses uint64
	numDropped   uint64
}

// Name returns the name of the purifier.
func (g *Greedy) Name() string {
	return g.name
}

// AddPair queues a pair for purification.
func (g *Greedy) AddPair(rec qmem.EntanglementRecord) {
	g.pairs.Push(AddPairLabel, CompleteLabel, pairParams{pair: rec})
}

// Reset destroys the held pair and every queued pair. A round that is waiting
// for its outcome when Reset is called is abandoned.
func (g *Greedy) Reset() {
	g.epoch++

	if g.current != nil {
		g.storage.Destroy(g.current.Slot)
		g.clear()
	}

	for req := range g.pairs.PollAll() {
		g.storage.Destroy(req.Params.pair.Slot)
	}
}

// Completed returns the inbox of purified pairs.
func (g *Greedy) Completed() *coop.Inbox[qmem.EntanglementRecord] {
	return g.completed
}

// Rounds returns the number of rounds performed so far.
func (g *Greedy) Rounds() uint64 {
	return g.numRounds
}

// Successes returns the number of successful rounds so far.
func (g *Greedy) Successes() uint64 {
	return g.numSuccesses
}

// Dropped returns the number of pairs dropped because the queue was full.
func (g *Greedy) Dropped() uint64 {
	return g.numDropped
}

func (g *Greedy) run() coop.Step {
	return coop.Loop(func() coop.Step {
		req, ok := g.pairs.Poll()
		if !ok {
			return coop.Await(g.pairs.AwaitArrival(),
				func(coop.Fired) coop.Step { return coop.Continue() })
		}

		return g.handlePair(req.Params.pair)
	})
}

func (g *Greedy) handlePair(pair qmem.EntanglementRecord) coop.Step {
	if g.iterations == 0 {
		g.completed.Put(pair)
		return coop.Continue()
	}

	if g.queueLimit > 0 && g.pairs.Len() >= g.queueLimit {
		g.drop(pair)
		return coop.Continue()
	}

	if g.current == nil {
		g.current = &pair
		g.state = Werner(g.storage.Peek(pair.Slot)[0].Fidelity)
		g.rounds = 0
		return coop.Continue()
	}

	epoch := g.epoch
	return coop.Sleep(g.exchange, func() coop.Step {
		if epoch != g.epoch || g.current == nil {
			g.storage.Destroy(pair.Slot)
			return coop.Continue()
		}

		g.round(pair)
		return coop.Continue()
	})
}

func (g *Greedy) round(sacrificed qmem.EntanglementRecord) {
	kept := *g.current
	f2 := g.storage.Peek(sacrificed.Slot)[0].Fidelity
	g.storage.Destroy(sacrificed.Slot)

	prob, state := g.scheme.round(g.state, Werner(f2))
	success := outcome(kept.ID, sacrificed.ID) < prob

	g.numRounds++
	if success {
		g.numSuccesses++
		g.rounds++
		g.state = state
		g.storage.SetFidelity(kept.Slot, state.Fidelity())
	}

	g.invoke(HookPosRound, Round{
		Kept:       kept,
		Sacrificed: sacrificed,
		Success:    success,
		Fidelity:   g.state.Fidelity(),
	})

	switch {
	case !success:
		g.storage.Destroy(kept.Slot)
		g.clear()
	case g.rounds >= g.iterations:
		g.clear()
		g.completed.Put(kept)
	}
}

func (g *Greedy) drop(pair qmem.EntanglementRecord) {
	g.numDropped++
	g.storage.Destroy(pair.Slot)
	g.invoke(HookPosDropPair, pair)
}

func (g *Greedy) clear() {
	g.current = nil
	g.state = BellDiagonal{}
	g.rounds = 0
}

func (g *Greedy) invoke(pos *sim.HookPos, item any) {
	if g.NumHooks() == 0 {
		return
	}

	g.InvokeHook(sim.HookCtx{
		Domain: g,
		Pos:    pos,
		Item:   item,
	})
}

// outcome maps a pair of ids to a number in [0, 1).
func outcome(kept, sacrificed string) float64 {
	h := fnv.New64a()
	h.Write([]byte(kept))
	h.Write([]byte{0})
	h.Write([]byte(sacrificed))

	return float64(h.Sum64()>>11) / (1 << 53)
}

// GreedyBuilder builds greedy purifiers.
type GreedyBuilder struct {
	rt         *coop.Runtime
	storage    qmem.Storage
	iterations int
	queueLimit int
	exchange   sim.VTimeInSec
	scheme     Scheme
}

// MakeGreedyBuilder returns a GreedyBuilder that purifies once and never
// drops pairs.
func MakeGreedyBuilder() GreedyBuilder {
	return GreedyBuilder{
		iterations: 1,
	}
}

// WithRuntime sets the runtime the purifier process runs on.
func (b GreedyBuilder) WithRuntime(rt *coop.Runtime) GreedyBuilder {
	b.rt = rt
	return b
}

// WithStorage sets the bank that holds the pairs.
func (b GreedyBuilder) WithStorage(s qmem.Storage) GreedyBuilder {
	b.storage = s
	return b
}

// WithIterations sets how many rounds a pair has to survive. Zero passes
// pairs through unchanged.
func (b GreedyBuilder) WithIterations(n int) GreedyBuilder {
	b.iterations = n
	return b
}

// WithQueueLimit sets how many pairs may wait before new ones are dropped.
// Zero means no limit.
func (b GreedyBuilder) WithQueueLimit(n int) GreedyBuilder {
	b.queueLimit = n
	return b
}

// WithExchangeLatency sets how long a round waits for the outcome of the far
// end.
func (b GreedyBuilder) WithExchangeLatency(t sim.VTimeInSec) GreedyBuilder {
	b.exchange = t
	return b
}

// WithScheme sets the protocol of every round.
func (b GreedyBuilder) WithScheme(s Scheme) GreedyBuilder {
	b.scheme = s
	return b
}

// Build creates the purifier and starts its process.
func (b GreedyBuilder) Build(name string) *Greedy {
	sim.NameMustBeValid(name)

	if b.rt == nil || b.storage == nil {
		log.Panicf("purifier %s requires a runtime and a storage", name)
	}

	if b.iterations < 0 || b.queueLimit < 0 {
		log.Panicf("purifier %s: negative iterations or queue limit", name)
	}

	g := &Greedy{
		name:       name,
		storage:    b.storage,
		iterations: b.iterations,
		queueLimit: b.queueLimit,
		exchange:   b.exchange,
		scheme:     b.scheme,
		pairs:      request.NewQueue[pairParams, struct{}](name, b.rt),
		completed:  coop.NewInbox[qmem.EntanglementRecord](name + ".Completed"),
	}

	b.rt.Start(name, g.run)

	return g
}
