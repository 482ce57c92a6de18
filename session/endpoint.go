package session

import (
	"fmt"
	"log"

	"github.com/sarchlab/qnetsim/channel"
	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/fsm"
	"github.com/sarchlab/qnetsim/link"
	"github.com/sarchlab/qnetsim/purify"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/request"
	"github.com/sarchlab/qnetsim/sim"
	"github.com/sarchlab/qnetsim/tracing"
)

// States of an endpoint.
const (
	StateIdle        fsm.State = "IDLE"
	StateInitiating  fsm.State = "INITIATING"
	StateSwapping    fsm.State = "SWAPPING"
	StateTerminating fsm.State = "TERMINATING"
)

var (
	// HookPosDeliver marks an end-to-end pair handed to the application. The
	// item is the response and the detail is the request.
	HookPosDeliver = &sim.HookPos{Name: "SessionDeliver"}

	// HookPosDiscard marks a pair dropped because the chain failed to extend
	// it. The item is the record.
	HookPosDiscard = &sim.HookPos{Name: "SessionDiscard"}
)

type pairRecord struct {
	slot  qmem.SlotID
	netID string
}

// active holds the state of the session being served.
type active struct {
	req       *Request
	id        string
	count     int
	msgs      *coop.Inbox[channel.Message]
	stream    *link.Request
	records   map[string]pairRecord
	pending   []channel.Item
	delivered int

	// closedByPeer is set when the far end completed the session first.
	closedByPeer bool
}

func (a *active) finished() bool {
	return a.delivered >= a.count || a.closedByPeer || a.req.Cancelled()
}

// initiatesClose reports whether this end sends the first COMPLETE. The
// headend closes a session that ran its course; either end closes a session
// whose own request was cancelled.
func (a *active) initiatesClose() bool {
	return a.req.Params.Role == Headend || a.req.Cancelled()
}

func (a *active) takePending(id string) (channel.Item, bool) {
	for i, item := range a.pending {
		if itemID(item) == id {
			a.pending = append(a.pending[:i], a.pending[i+1:]...)
			return item, true
		}
	}

	return nil, false
}

func itemID(item channel.Item) string {
	switch it := item.(type) {
	case channel.Track:
		return it.ID
	case channel.Discard:
		return it.ID
	default:
		return ""
	}
}

// An Endpoint is the session layer of the headend or the tailend. It serves
// one session at a time.
type Endpoint struct {
	sim.HookableBase

	name       string
	rt         *coop.Runtime
	storage    qmem.Storage
	port       *channel.Port
	link       link.Layer
	purifier   purify.Purifier
	cutoff     sim.VTimeInSec
	sessionIDs sim.IDGenerator
	netIDs     sim.IDGenerator
	queue      *request.Queue[Params, Response]
	control    *coop.Inbox[channel.Message]
	machine    *fsm.Machine
	cur        *active

	numSessions  uint64
	numDelivered uint64
	numDiscarded uint64
	numStale     uint64
	numPurifying uint64
}

// Name returns the name of the endpoint.
func (e *Endpoint) Name() string {
	return e.name
}

// Machine returns the state machine of the endpoint.
func (e *Endpoint) Machine() *fsm.Machine {
	return e.machine
}

// Queue returns the requests that are not finished yet.
func (e *Endpoint) Queue() *request.Queue[Params, Response] {
	return e.queue
}

// Session returns the id of the current session, or an empty string.
func (e *Endpoint) Session() string {
	if e.cur == nil {
		return ""
	}

	return e.cur.id
}

// Sessions returns the number of sessions opened so far.
func (e *Endpoint) Sessions() uint64 {
	return e.numSessions
}

// Delivered returns the number of end-to-end pairs delivered so far.
func (e *Endpoint) Delivered() uint64 {
	return e.numDelivered
}

// Discarded returns the number of pairs the chain failed to extend.
func (e *Endpoint) Discarded() uint64 {
	return e.numDiscarded
}

// Purifying returns the number of end-to-end pairs handed to the purifier.
func (e *Endpoint) Purifying() uint64 {
	return e.numPurifying
}

// Stale returns the number of session messages that arrived after the pairs
// they refer to were released.
func (e *Endpoint) Stale() uint64 {
	return e.numStale
}

// InitiateSharing opens a session that delivers count pairs. The count must
// be positive.
func (e *Endpoint) InitiateSharing(count int) *Request {
	if count <= 0 {
		log.Panicf("session %s: count must be positive, got %d", e.name, count)
	}

	return e.queue.Push(ShareLabel, ReadyLabel, Params{
		Role:  Headend,
		Count: count,
	})
}

// Receive waits for the far end to open a session.
func (e *Endpoint) Receive() *Request {
	return e.queue.Push(ReceiveLabel, ReadyLabel, Params{Role: Tailend})
}

func (e *Endpoint) idle() coop.Step {
	return coop.Await(e.queue.AwaitArrival(), func(coop.Fired) coop.Step {
		return coop.Return(StateInitiating)
	})
}

func (e *Endpoint) initiating() coop.Step {
	req, _ := e.queue.Peek()

	switch req.Params.Role {
	case Headend:
		init := channel.Init{
			SessionID: e.sessionIDs.Generate(),
			Count:     req.Params.Count,
			Cutoff:    e.cutoff,
		}
		e.open(req, init)
		e.port.Send(channel.NetworkHeader, init)

		return coop.Return(StateSwapping)
	case Tailend:
		return coop.Loop(func() coop.Step {
			msg, ok := e.control.Pop()
			if ok {
				e.open(req, e.mustBeInit(msg))
				return coop.Break(StateSwapping)
			}

			return coop.Await(e.control, func(coop.Fired) coop.Step {
				return coop.Continue()
			})
		})
	default:
		panic(fmt.Sprintf("session %s: unknown role %s", e.name, req.Params.Role))
	}
}

func (e *Endpoint) mustBeInit(msg channel.Message) channel.Init {
	items := channel.MustDecodeAll(msg)
	if len(items) != 1 {
		panic(fmt.Sprintf("session %s: expected a single INIT, got %s", e.name, msg))
	}

	init, ok := items[0].(channel.Init)
	if !ok {
		panic(fmt.Sprintf("session %s: unexpected %s, expected %s",
			e.name, items[0].Label(), channel.InitLabel))
	}

	return init
}

func (e *Endpoint) open(req *Request, init channel.Init) {
	e.cur = &active{
		req:     req,
		id:      init.SessionID,
		count:   init.Count,
		msgs:    e.port.Listen(channel.SessionHeader(init.SessionID)),
		records: make(map[string]pairRecord),
		stream: e.link.RequestEntanglement(link.Params{
			Mode: link.Consecutive,
		}),
	}
	e.numSessions++

	tracing.StartTask(e.taskID(e.cur), "", e, tracing.KindSession, req.Label, init)
}

// taskID names the part of a session that this endpoint serves. Both ends
// share the session id.
func (e *Endpoint) taskID(a *active) string {
	return a.id + "@" + e.name
}

func (e *Endpoint) swapping() coop.Step {
	a := e.cur

	serve := coop.Loop(func() coop.Step {
		if a.finished() {
			return coop.Break(nil)
		}

		if resp, ok := a.stream.Responses().Pop(); ok {
			e.newPair(resp.Body.Record)
			return coop.Continue()
		}

		if e.purifier != nil {
			if rec, ok := e.purifier.Completed().Pop(); ok {
				e.deliver(rec)
				return coop.Continue()
			}
		}

		if msg, ok := a.msgs.Pop(); ok {
			e.handleMessage(msg)
			return coop.Continue()
		}

		return coop.Await(
			e.swappingWakeUp(a),
			func(coop.Fired) coop.Step { return coop.Continue() },
		)
	})

	return coop.Then(serve, func(any) coop.Step {
		e.release(a)
		return coop.Return(StateTerminating)
	})
}

func (e *Endpoint) swappingWakeUp(a *active) coop.Awaitable {
	terms := []coop.Awaitable{
		a.stream.Responses(), a.msgs, e.queue.Cancellations(),
	}
	if e.purifier != nil {
		terms = append(terms, e.purifier.Completed())
	}

	return coop.Or(terms...)
}

// newPair records a pair produced by the link layer and announces it to the
// far end. The headend names the end-to-end pair.
func (e *Endpoint) newPair(rec qmem.EntanglementRecord) {
	a := e.cur

	netID := ""
	if a.req.Params.Role == Headend {
		netID = e.netIDs.Generate()
	}

	a.records[rec.ID] = pairRecord{slot: rec.Slot, netID: netID}
	e.port.Send(channel.SessionHeader(a.id), channel.Track{
		ID:    rec.ID,
		NetID: netID,
	})

	if item, ok := a.takePending(rec.ID); ok {
		e.handleItem(item)
	}
}

func (e *Endpoint) handleMessage(msg channel.Message) {
	for _, item := range channel.MustDecodeAll(msg) {
		e.handleItem(item)
	}
}

func (e *Endpoint) handleItem(item channel.Item) {
	a := e.cur

	switch it := item.(type) {
	case channel.Track:
		e.track(it)
	case channel.Discard:
		e.discard(it.ID)
	case channel.Complete:
		if it.SessionID == a.id {
			a.closedByPeer = true
		}
	default:
		panic(fmt.Sprintf("session %s: unexpected %s in session %s",
			e.name, item.Label(), a.id))
	}
}

// track applies the corrections accumulated along the chain and delivers the
// pair, or hands it to the purifier.
func (e *Endpoint) track(t channel.Track) {
	a := e.cur

	rec, ok := a.records[t.ID]
	if !ok {
		a.pending = append(a.pending, t)
		return
	}
	delete(a.records, t.ID)

	netID := rec.netID
	if a.req.Params.Role == Tailend {
		netID = t.NetID
	}

	e.storage.Correct(rec.slot, t.CX, t.CZ)
	if t.Fidelity > 0 {
		e.storage.SetFidelity(rec.slot, t.Fidelity)
	}

	pair := qmem.EntanglementRecord{Slot: rec.slot, ID: netID}
	if e.purifier != nil {
		e.numPurifying++
		tracing.AddTaskStep(e.taskID(a), e, "purify")
		e.purifier.AddPair(pair)

		return
	}

	e.deliver(pair)
}

func (e *Endpoint) deliver(pair qmem.EntanglementRecord) {
	a := e.cur

	a.delivered++
	e.numDelivered++
	tracing.AddTaskStep(e.taskID(a), e, "deliver")
	e.answer(Response{
		Result:   ResultOK,
		Session:  a.id,
		Record:   pair,
		Fidelity: e.storage.Peek(pair.Slot)[0].Fidelity,
		Final:    a.delivered == a.count,
	})
}

func (e *Endpoint) discard(id string) {
	a := e.cur

	rec, ok := a.records[id]
	if !ok {
		a.pending = append(a.pending, channel.Discard{ID: id})
		return
	}
	delete(a.records, id)

	e.storage.Destroy(rec.slot)
	e.numDiscarded++
	tracing.AddTaskStep(e.taskID(a), e, "discard")
	e.invoke(HookPosDiscard, qmem.EntanglementRecord{Slot: rec.slot, ID: id}, nil)
}

// release stops the link stream and destroys the pairs that were not
// delivered.
func (e *Endpoint) release(a *active) {
	a.stream.Cancel()
	for _, resp := range a.stream.Responses().Drain() {
		e.storage.Destroy(resp.Body.Record.Slot)
	}

	for _, rec := range a.records {
		e.storage.Destroy(rec.slot)
	}
	a.records = nil
	a.pending = nil

	if e.purifier != nil {
		e.purifier.Reset()
		for _, rec := range e.purifier.Completed().Drain() {
			e.storage.Destroy(rec.Slot)
		}
	}
}

func (e *Endpoint) terminating() coop.Step {
	a := e.cur

	if a.closedByPeer {
		e.sendComplete(a)
		return e.finish(a)
	}

	if a.initiatesClose() {
		e.sendComplete(a)
		return coop.Then(e.awaitComplete(a), func(any) coop.Step {
			return e.finish(a)
		})
	}

	return coop.Then(e.awaitComplete(a), func(any) coop.Step {
		e.sendComplete(a)
		return e.finish(a)
	})
}

func (e *Endpoint) sendComplete(a *active) {
	e.port.Send(channel.SessionHeader(a.id), channel.Complete{SessionID: a.id})
}

// awaitComplete waits for the COMPLETE of the session. Anything else that
// arrives meanwhile refers to released pairs.
func (e *Endpoint) awaitComplete(a *active) coop.Step {
	return coop.Loop(func() coop.Step {
		for {
			msg, ok := a.msgs.Pop()
			if !ok {
				break
			}

			for _, item := range channel.MustDecodeAll(msg) {
				if c, ok := item.(channel.Complete); ok && c.SessionID == a.id {
					return coop.Break(nil)
				}

				e.numStale++
			}
		}

		return coop.Await(a.msgs, func(coop.Fired) coop.Step {
			return coop.Continue()
		})
	})
}

func (e *Endpoint) finish(a *active) coop.Step {
	e.queue.Poll()

	if a.delivered < a.count {
		e.answer(Response{
			Result:  ResultAborted,
			Session: a.id,
			Final:   true,
		})
	}

	e.port.Close(channel.SessionHeader(a.id))
	tracing.EndTask(e.taskID(a), e)
	e.cur = nil

	if e.queue.Len() > 0 {
		return coop.Return(StateInitiating)
	}

	return coop.Return(StateIdle)
}

func (e *Endpoint) answer(resp Response) {
	req := e.cur.req
	req.Answer(resp)
	e.invoke(HookPosDeliver, resp, req)
}

func (e *Endpoint) invoke(pos *sim.HookPos, item, detail any) {
	if e.NumHooks() == 0 {
		return
	}

	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	})
}
