package link

import (
	"log"

	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/fsm"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/request"
	"github.com/sarchlab/qnetsim/sim"
	"github.com/sarchlab/qnetsim/tracing"
)

// States of the link protocol.
const (
	StateIdle    fsm.State = "IDLE"
	StateSharing fsm.State = "SHARING"
)

// HookPosDeliver marks when the link layer answers a request. The item is the
// response and the detail is the request.
var HookPosDeliver = &sim.HookPos{Name: "LinkDeliver"}

// A Protocol is the link layer of one end of a hop. It serves one request at
// a time, in submission order.
type Protocol struct {
	sim.HookableBase

	name      string
	rt        *coop.Runtime
	storage   qmem.Storage
	partition []qmem.SlotID
	queue     *request.Queue[Params, Response]
	machine   *fsm.Machine
	sharer    sharer
	current   *Request

	numAttempts uint64
	numPairs    uint64
	numTimeouts uint64
}

// Name returns the name of the protocol.
func (p *Protocol) Name() string {
	return p.name
}

// Queue returns the queue of the requests that are not being served yet.
func (p *Protocol) Queue() *request.Queue[Params, Response] {
	return p.queue
}

// Machine returns the state machine of the protocol.
func (p *Protocol) Machine() *fsm.Machine {
	return p.machine
}

// Current returns the request being served, or nil.
func (p *Protocol) Current() *Request {
	return p.current
}

// Attempts returns the number of attempts made so far.
func (p *Protocol) Attempts() uint64 {
	return p.numAttempts
}

// Pairs returns the number of pairs delivered so far.
func (p *Protocol) Pairs() uint64 {
	return p.numPairs
}

// Timeouts returns the number of requests that timed out.
func (p *Protocol) Timeouts() uint64 {
	return p.numTimeouts
}

// RequestEntanglement submits a request. An atomic request without a count
// is a protocol violation.
func (p *Protocol) RequestEntanglement(params Params) *Request {
	if params.Count < 0 || params.Timeout < 0 {
		log.Panicf("link %s: negative count or timeout in %+v", p.name, params)
	}

	if params.Mode == Atomic && params.Count == 0 {
		log.Panicf("link %s: atomic delivery requires a count", p.name)
	}

	return p.queue.Push(RequestLabel, ReadyLabel, params)
}

func (p *Protocol) idle() coop.Step {
	return coop.Await(p.queue.AwaitArrival(), func(coop.Fired) coop.Step {
		return coop.Return(StateSharing)
	})
}

func (p *Protocol) share() coop.Step {
	req, ok := p.queue.Poll()
	if !ok {
		return coop.Return(StateIdle)
	}

	p.current = req
	tracing.StartTask(req.ID, "", p, tracing.KindLinkRequest, req.Label, req.Params)

	return coop.Then(p.fulfill(req), func(any) coop.Step {
		tracing.EndTask(req.ID, p)
		p.current = nil
		if p.queue.Len() > 0 {
			return coop.Return(StateSharing)
		}

		return coop.Return(StateIdle)
	})
}

// expireQueued answers the queued requests whose timeout passes before they
// are served. The request being served times out by itself.
func (p *Protocol) expireQueued() coop.Step {
	return coop.Loop(func() coop.Step {
		now := p.rt.Now()
		next := sim.VTimeInSec(-1)

		for _, req := range p.queue.Queued() {
			if req.Params.Timeout == 0 || req.Cancelled() {
				continue
			}

			at := req.SubmittedAt + req.Params.Timeout
			if at <= now {
				p.queue.Withdraw(req)
				p.expire(req)

				continue
			}

			if next < 0 || at < next {
				next = at
			}
		}

		wake := coop.Awaitable(p.queue.Changed())
		if next >= 0 {
			wake = coop.Or(wake, coop.Deadline(next))
		}

		return coop.Await(wake, func(coop.Fired) coop.Step {
			return coop.Continue()
		})
	})
}

func (p *Protocol) expire(req *Request) {
	tracing.StartTask(req.ID, "", p, tracing.KindLinkRequest, req.Label, req.Params)
	p.answer(req, Response{Result: ResultTimeout, Mode: req.Params.Mode})
	tracing.EndTask(req.ID, p)
}

func (p *Protocol) fulfill(req *Request) coop.Step {
	f := p.newFulfillment(req)

	serve := coop.Loop(func() coop.Step {
		if f.done() {
			return coop.Break(nil)
		}

		if f.aborted() {
			f.abort()
			return coop.Break(nil)
		}

		return coop.Then(p.sharer.share(f), func(v any) coop.Step {
			if s, ok := v.(*shared); ok {
				f.deliver(s)
			}

			return coop.Continue()
		})
	})

	return coop.Then(serve, func(any) coop.Step {
		p.sharer.release(f)
		return coop.Return(nil)
	})
}

func (p *Protocol) newFulfillment(req *Request) *fulfillment {
	f := &fulfillment{p: p, req: req}

	if req.Params.Timeout > 0 {
		f.deadlineAt = req.SubmittedAt + req.Params.Timeout
		f.deadline = coop.Deadline(f.deadlineAt)
	}

	return f
}

func (p *Protocol) answer(req *Request, resp Response) {
	switch resp.Result {
	case ResultOK:
		p.numPairs += uint64(len(resp.Tries))
		tracing.AddTaskStep(req.ID, p, "pair")
	case ResultTimeout:
		p.numTimeouts++
		tracing.AddTaskStep(req.ID, p, "timeout")
	}

	req.Answer(resp)

	if p.NumHooks() > 0 {
		p.InvokeHook(sim.HookCtx{
			Domain: p,
			Pos:    HookPosDeliver,
			Item:   resp,
			Detail: req,
		})
	}
}

type shared struct {
	record qmem.EntanglementRecord
	tries  int
}

// A fulfillment tracks the progress of the request being served.
type fulfillment struct {
	p   *Protocol
	req *Request

	deadline   coop.Awaitable
	deadlineAt sim.VTimeInSec

	collected []qmem.EntanglementRecord
	tries     []int
	delivered int
	closed    bool
}

func (f *fulfillment) timedOut() bool {
	return f.deadline != nil && f.p.rt.Now() >= f.deadlineAt
}

func (f *fulfillment) aborted() bool {
	return f.req.Cancelled() || f.timedOut()
}

// abortSignal fires when the request may have been aborted.
func (f *fulfillment) abortSignal() coop.Awaitable {
	return coop.Or(f.p.queue.Cancellations(), f.deadline)
}

func (f *fulfillment) done() bool {
	if f.closed {
		return true
	}

	params := f.req.Params

	return params.Mode == Consecutive &&
		params.Count > 0 &&
		f.delivered >= params.Count
}

// abort ends the request early. A request that timed out is answered once
// with a timeout, and pairs collected for an atomic answer are destroyed.
func (f *fulfillment) abort() {
	if f.closed {
		return
	}
	f.closed = true

	if len(f.collected) > 0 {
		f.p.storage.Destroy(recordSlots(f.collected)...)
		f.collected = nil
		f.tries = nil
	}

	if f.timedOut() && !f.req.Cancelled() {
		f.p.answer(f.req, Response{
			Result: ResultTimeout,
			Mode:   f.req.Params.Mode,
		})
	}
}

func (f *fulfillment) deliver(s *shared) {
	if f.closed || f.aborted() {
		f.abort()
		f.p.storage.Destroy(s.record.Slot)
		return
	}

	params := f.req.Params
	switch params.Mode {
	case Atomic:
		f.collected = append(f.collected, s.record)
		f.tries = append(f.tries, s.tries)
		if len(f.collected) < params.Count {
			return
		}

		f.closed = true
		f.p.answer(f.req, Response{
			Result:  ResultOK,
			Mode:    Atomic,
			Records: f.collected,
			Final:   true,
			Tries:   f.tries,
		})
		f.collected = nil
		f.tries = nil
	case Consecutive:
		f.delivered++
		f.p.answer(f.req, Response{
			Result: ResultOK,
			Mode:   Consecutive,
			Record: s.record,
			Final:  params.Count > 0 && f.delivered == params.Count,
			Tries:  []int{s.tries},
		})
	}
}

func recordSlots(records []qmem.EntanglementRecord) []qmem.SlotID {
	slots := make([]qmem.SlotID, len(records))
	for i, r := range records {
		slots[i] = r.Slot
	}

	return slots
}
