package phys

import (
	"log"
	"math/rand/v2"

	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/request"
	"github.com/sarchlab/qnetsim/sim"
)

// HookPosHerald marks when the station resolves an attempt. The item is the
// result announced to side A.
var HookPosHerald = &sim.HookPos{Name: "Herald"}

// A Station sits in the middle of a hop. An attempt happens on the clock tick
// after both sides have submitted one, and its outcome is heralded to both
// sides after the herald latency.
type Station struct {
	sim.HookableBase

	name          string
	rt            *coop.Runtime
	freq          sim.Freq
	successProb   float64
	heraldLatency sim.VTimeInSec
	fidelity      float64
	rng           *rand.Rand
	pairIDs       sim.IDGenerator
	sides         [2]*Side

	attempts  uint64
	successes uint64
}

// Name returns the name of the station.
func (s *Station) Name() string {
	return s.name
}

// Side returns one of the two sides, 0 or 1.
func (s *Station) Side(i int) *Side {
	return s.sides[i]
}

// Attempts returns the number of attempts resolved so far.
func (s *Station) Attempts() uint64 {
	return s.attempts
}

// Successes returns the number of successful attempts so far.
func (s *Station) Successes() uint64 {
	return s.successes
}

func (s *Station) run() coop.Step {
	return coop.Loop(func() coop.Step {
		s.withdrawCancelled()

		a, aOK := s.sides[0].queue.Peek()
		b, bOK := s.sides[1].queue.Peek()
		if aOK && bOK {
			s.sides[0].queue.Poll()
			s.sides[1].queue.Poll()
			return s.attempt(a, b)
		}

		return coop.Await(
			coop.Or(s.sides[0].wakeUp(aOK), s.sides[1].wakeUp(bOK)),
			func(coop.Fired) coop.Step { return coop.Continue() },
		)
	})
}

func (s *Station) withdrawCancelled() {
	for _, side := range s.sides {
		req, ok := side.queue.Peek()
		if ok && req.Cancelled() {
			side.queue.Poll()
			req.Answer(AttemptResult{})
		}
	}
}

func (s *Station) attempt(a, b *AttemptRequest) coop.Step {
	tick := s.freq.NextTick(s.rt.Now())

	return coop.Await(
		coop.Deadline(tick+s.heraldLatency),
		func(coop.Fired) coop.Step {
			s.resolve(a, b)
			return coop.Continue()
		},
	)
}

func (s *Station) resolve(a, b *AttemptRequest) {
	s.attempts++

	var resultA, resultB AttemptResult
	success := s.rng.Float64() < s.successProb
	if success && !a.Cancelled() && !b.Cancelled() {
		s.successes++
		pairID := s.pairIDs.Generate()
		resultA = AttemptResult{
			Success:  true,
			PairID:   pairID,
			Fidelity: s.fidelity,
		}
		resultB = resultA
		resultB.CX = s.rng.IntN(2) == 1
		resultB.CZ = s.rng.IntN(2) == 1
	}

	if s.NumHooks() > 0 {
		s.InvokeHook(sim.HookCtx{
			Domain: s,
			Pos:    HookPosHerald,
			Item:   resultA,
		})
	}

	a.Answer(resultA)
	b.Answer(resultB)
}

// A Side is the attachment point of one node to a station.
type Side struct {
	name  string
	queue *request.Queue[AttemptParams, AttemptResult]
}

// Name returns the name of the side.
func (s *Side) Name() string {
	return s.name
}

// Attempt submits an attempt on slot. Cancelling the request before the
// station pairs it withdraws it, and cancelling it afterwards turns the
// outcome into a failure.
func (s *Side) Attempt(slot qmem.SlotID) *AttemptRequest {
	return s.queue.Push(AttemptLabel, AttemptDoneLabel, AttemptParams{Slot: slot})
}

func (s *Side) wakeUp(hasPending bool) coop.Awaitable {
	if hasPending {
		return s.queue.Cancellations()
	}

	return s.queue.AwaitArrival()
}

// StationBuilder builds stations.
type StationBuilder struct {
	rt            *coop.Runtime
	freq          sim.Freq
	successProb   float64
	heraldLatency sim.VTimeInSec
	fidelity      float64
	seed          uint64
}

// MakeStationBuilder returns a StationBuilder with default parameters.
func MakeStationBuilder() StationBuilder {
	return StationBuilder{
		freq:          1 * sim.MHz,
		successProb:   0.5,
		heraldLatency: 1 * sim.Microsecond,
		fidelity:      1,
		seed:          1,
	}
}

// WithRuntime sets the runtime the station process runs on.
func (b StationBuilder) WithRuntime(rt *coop.Runtime) StationBuilder {
	b.rt = rt
	return b
}

// WithFreq sets the attempt clock.
func (b StationBuilder) WithFreq(f sim.Freq) StationBuilder {
	b.freq = f
	return b
}

// WithSuccessProbability sets the probability that an attempt succeeds.
func (b StationBuilder) WithSuccessProbability(p float64) StationBuilder {
	b.successProb = p
	return b
}

// WithHeraldLatency sets the time between an attempt and its outcome.
func (b StationBuilder) WithHeraldLatency(t sim.VTimeInSec) StationBuilder {
	b.heraldLatency = t
	return b
}

// WithFidelity sets the fidelity of generated pairs.
func (b StationBuilder) WithFidelity(f float64) StationBuilder {
	b.fidelity = f
	return b
}

// WithSeed sets the seed of the station's random stream.
func (b StationBuilder) WithSeed(seed uint64) StationBuilder {
	b.seed = seed
	return b
}

// Build creates the station and starts its process.
func (b StationBuilder) Build(name string) *Station {
	sim.NameMustBeValid(name)

	if b.rt == nil {
		log.Panicf("station %s requires a runtime", name)
	}

	if b.successProb < 0 || b.successProb > 1 {
		log.Panicf("station %s: success probability %f out of [0, 1]",
			name, b.successProb)
	}

	s := &Station{
		name:          name,
		rt:            b.rt,
		freq:          b.freq,
		successProb:   b.successProb,
		heraldLatency: b.heraldLatency,
		fidelity:      b.fidelity,
		rng:           rand.New(rand.NewPCG(b.seed, 0x9e3779b97f4a7c15)),
		pairIDs:       sim.NewSequentialIDGenerator(name + "#"),
	}

	for i, suffix := range []string{"A", "B"} {
		sideName := sim.BuildName(name, suffix)
		s.sides[i] = &Side{
			name:  sideName,
			queue: request.NewQueue[AttemptParams, AttemptResult](sideName, b.rt),
		}
	}

	b.rt.Start(name, s.run)

	return s
}
