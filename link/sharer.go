package link

import (
	"errors"
	"log"

	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/phys"
	"github.com/sarchlab/qnetsim/purify"
	"github.com/sarchlab/qnetsim/qmem"
)

// A sharer produces the pairs of a fulfillment one at a time. The step
// returned by share completes with a *shared, or with nil if the request was
// aborted first.
type sharer interface {
	share(f *fulfillment) coop.Step
	release(f *fulfillment)
}

// retry marks a failed attempt whose slot has been released.
type retry struct{}

// simpleSharer generates every pair directly with the physical layer,
// retrying failed attempts until one succeeds.
type simpleSharer struct {
	attempter phys.Attempter
}

func (s *simpleSharer) share(f *fulfillment) coop.Step {
	tries := 0

	return coop.Loop(func() coop.Step {
		if f.aborted() {
			return coop.Break(nil)
		}

		return coop.Then(s.allocate(f), func(v any) coop.Step {
			slot, ok := v.(qmem.SlotID)
			if !ok {
				return coop.Break(nil)
			}

			tries++
			return coop.Then(s.attempt(f, slot), func(v any) coop.Step {
				switch r := v.(type) {
				case *shared:
					r.tries = tries
					return coop.Break(r)
				case retry:
					return coop.Continue()
				default:
					return coop.Break(nil)
				}
			})
		})
	})
}

func (s *simpleSharer) release(*fulfillment) {}

// allocate completes with a reserved slot, waiting for one to be freed if the
// partition is full.
func (s *simpleSharer) allocate(f *fulfillment) coop.Step {
	storage := f.p.storage

	return coop.Loop(func() coop.Step {
		if f.aborted() {
			return coop.Break(nil)
		}

		slots, err := storage.Allocate(1, f.p.partition)
		if err == nil {
			return coop.Break(slots[0])
		}

		if !errors.Is(err, qmem.ErrAllocationFull) {
			log.Panicf("link %s: %v", f.p.name, err)
		}

		return coop.Await(
			coop.Or(storage.SlotFreed(), f.abortSignal()),
			func(coop.Fired) coop.Step { return coop.Continue() },
		)
	})
}

// attempt completes with a *shared on success, retry on failure, and nil if
// the request was aborted while the attempt was in flight.
func (s *simpleSharer) attempt(f *fulfillment, slot qmem.SlotID) coop.Step {
	f.p.numAttempts++
	req := s.attempter.Attempt(slot)

	return coop.Loop(func() coop.Step {
		if resp, ok := req.Responses().Pop(); ok {
			return coop.Break(s.settle(f, slot, resp.Body))
		}

		if f.aborted() {
			f.abort()
			req.Cancel()

			return coop.Await(req.Responses(), func(coop.Fired) coop.Step {
				resp, _ := req.Responses().Pop()
				s.discard(f, slot, resp.Body)
				return coop.Break(nil)
			})
		}

		return coop.Await(
			coop.Or(req.Responses(), f.abortSignal()),
			func(coop.Fired) coop.Step { return coop.Continue() },
		)
	})
}

func (s *simpleSharer) settle(
	f *fulfillment,
	slot qmem.SlotID,
	result phys.AttemptResult,
) any {
	storage := f.p.storage
	if !result.Success {
		storage.Deallocate(slot)
		return retry{}
	}

	storage.Store(slot, qmem.Handle{
		PairID:   result.PairID,
		Fidelity: result.Fidelity,
		StoredAt: f.p.rt.Now(),
	})
	storage.Correct(slot, result.CX, result.CZ)

	return &shared{record: qmem.EntanglementRecord{Slot: slot, ID: result.PairID}}
}

func (s *simpleSharer) discard(
	f *fulfillment,
	slot qmem.SlotID,
	result phys.AttemptResult,
) {
	if s.settle(f, slot, result) == (retry{}) {
		return
	}

	f.p.storage.Destroy(slot)
}

// purifyingSharer pulls raw pairs from an inner link stream and delivers the
// pairs that survive purification.
type purifyingSharer struct {
	inner    Layer
	purifier purify.Purifier
	stream   *Request
	tries    int
}

func (s *purifyingSharer) share(f *fulfillment) coop.Step {
	if s.stream == nil {
		s.stream = s.inner.RequestEntanglement(Params{Mode: Consecutive})
	}

	completed := s.purifier.Completed()
	raw := s.stream.Responses()

	return coop.Loop(func() coop.Step {
		if rec, ok := completed.Pop(); ok {
			out := &shared{record: rec, tries: s.tries}
			s.tries = 0
			return coop.Break(out)
		}

		for _, resp := range raw.Drain() {
			s.tries += sum(resp.Body.Tries)
			s.purifier.AddPair(resp.Body.Record)
		}

		if f.aborted() {
			return coop.Break(nil)
		}

		return coop.Await(
			coop.Or(completed, raw, f.abortSignal()),
			func(coop.Fired) coop.Step { return coop.Continue() },
		)
	})
}

func (s *purifyingSharer) release(f *fulfillment) {
	storage := f.p.storage

	if s.stream != nil {
		s.stream.Cancel()
		for _, resp := range s.stream.Responses().Drain() {
			storage.Destroy(resp.Body.Record.Slot)
		}
		s.stream = nil
	}

	s.purifier.Reset()
	for _, rec := range s.purifier.Completed().Drain() {
		storage.Destroy(rec.Slot)
	}

	s.tries = 0
}

func sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}

	return total
}
