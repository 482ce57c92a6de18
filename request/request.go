// Package request provides the typed request and response mailbox that every
// protocol layer uses to take work from the layer above.
package request

import (
	"iter"

	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/sim"
)

// HookPosPush marks when a request is queued. The item is the request.
var HookPosPush = &sim.HookPos{Name: "RequestPush"}

// HookPosAnswer marks when a request is answered. The item is the request and
// the detail is the response body.
var HookPosAnswer = &sim.HookPos{Name: "RequestAnswer"}

// HookPosCancel marks when a request is cancelled.
var HookPosCancel = &sim.HookPos{Name: "RequestCancel"}

// A Request is one in-flight ask across a layer boundary.
type Request[P, R any] struct {
	ID            string
	Label         string
	ResponseLabel string
	Params        P
	SubmittedAt   sim.VTimeInSec

	cancelled bool
	answers   int
	queue     *Queue[P, R]
	responses *coop.Inbox[Response[R]]
}

// A Response is correlated to its request by ID. A request may be answered
// more than once.
type Response[R any] struct {
	ID    string
	Label string
	Body  R
}

// Cancel marks the request as cancelled. Cancellation is advisory: the layer
// serving the request checks it between iterations.
func (r *Request[P, R]) Cancel() {
	if r.cancelled {
		return
	}

	r.cancelled = true
	r.queue.cancelled(r)
}

// Cancelled checks if the request has been cancelled.
func (r *Request[P, R]) Cancelled() bool {
	return r.cancelled
}

// Responses returns the inbox that collects the responses of this request.
// The inbox is level-triggered, so a burst of responses is never lost.
func (r *Request[P, R]) Responses() *coop.Inbox[Response[R]] {
	return r.responses
}

// NumAnswers returns how many times the request has been answered.
func (r *Request[P, R]) NumAnswers() int {
	return r.answers
}

// Answer delivers a response for the request.
func (r *Request[P, R]) Answer(body R) {
	r.queue.Answer(r, body)
}

// A Queue holds the requests that a layer has not finished serving.
type Queue[P, R any] struct {
	sim.HookableBase

	name         string
	timeTeller   sim.TimeTeller
	pending      *coop.Inbox[*Request[P, R]]
	answered     *coop.Signal
	cancellation *coop.Signal
	changed      *coop.Signal
}

// NewQueue creates a Queue.
func NewQueue[P, R any](name string, tt sim.TimeTeller) *Queue[P, R] {
	return &Queue[P, R]{
		name:         name,
		timeTeller:   tt,
		pending:      coop.NewInbox[*Request[P, R]](name + ".Pending"),
		answered:     coop.NewSignal(name + ".Answered"),
		cancellation: coop.NewSignal(name + ".Cancelled"),
		changed:      coop.NewSignal(name + ".Changed"),
	}
}

// Name returns the name of the queue.
func (q *Queue[P, R]) Name() string {
	return q.name
}

// Push enqueues a request and returns its handle.
func (q *Queue[P, R]) Push(label, responseLabel string, params P) *Request[P, R] {
	req := &Request[P, R]{
		ID:            sim.GetIDGenerator().Generate(),
		Label:         label,
		ResponseLabel: responseLabel,
		Params:        params,
		SubmittedAt:   q.timeTeller.CurrentTime(),
		queue:         q,
	}
	req.responses = coop.NewInbox[Response[R]](q.name + ".Responses." + req.ID)

	q.pending.Put(req)
	q.changed.Emit(nil)
	q.invoke(HookPosPush, req, nil)

	return req
}

// AwaitArrival returns an awaitable that fires while at least one request is
// queued.
func (q *Queue[P, R]) AwaitArrival() coop.Awaitable {
	return q.pending
}

// Len returns the number of queued requests.
func (q *Queue[P, R]) Len() int {
	return q.pending.Len()
}

// Peek returns the oldest queued request without removing it.
func (q *Queue[P, R]) Peek() (*Request[P, R], bool) {
	return q.pending.Peek()
}

// Queued returns the queued requests, oldest first.
func (q *Queue[P, R]) Queued() []*Request[P, R] {
	return q.pending.Items()
}

// Poll removes and returns the oldest queued request.
func (q *Queue[P, R]) Poll() (*Request[P, R], bool) {
	req, ok := q.pending.Pop()
	if ok {
		q.changed.Emit(nil)
	}

	return req, ok
}

// PollAll returns a sequence that drains the queue in FIFO order. The
// sequence is lazy: requests pushed while it is being consumed are yielded
// too. It can only be consumed once.
func (q *Queue[P, R]) PollAll() iter.Seq[*Request[P, R]] {
	used := false
	return func(yield func(*Request[P, R]) bool) {
		if used {
			return
		}
		used = true

		for {
			req, ok := q.Poll()
			if !ok || !yield(req) {
				return
			}
		}
	}
}

// Answered returns the signal that broadcasts every response of the queue.
func (q *Queue[P, R]) Answered() *coop.Signal {
	return q.answered
}

// Changed returns the signal that fires whenever a request enters or leaves
// the queue.
func (q *Queue[P, R]) Changed() *coop.Signal {
	return q.changed
}

// Cancellations returns the signal that broadcasts cancelled requests.
func (q *Queue[P, R]) Cancellations() *coop.Signal {
	return q.cancellation
}

// Answer delivers a response to the request's inbox and broadcasts it.
func (q *Queue[P, R]) Answer(req *Request[P, R], body R) {
	resp := Response[R]{ID: req.ID, Label: req.ResponseLabel, Body: body}

	req.answers++
	req.responses.Put(resp)
	q.answered.Emit(resp)
	q.invoke(HookPosAnswer, req, body)
}

// Withdraw removes a queued request that will not be served. It returns false
// if the request is not queued.
func (q *Queue[P, R]) Withdraw(req *Request[P, R]) bool {
	_, ok := q.pending.Remove(func(r *Request[P, R]) bool { return r == req })
	if ok {
		q.changed.Emit(nil)
	}

	return ok
}

func (q *Queue[P, R]) cancelled(req *Request[P, R]) {
	q.cancellation.Emit(req)
	q.invoke(HookPosCancel, req, nil)
}

func (q *Queue[P, R]) invoke(pos *sim.HookPos, req *Request[P, R], detail any) {
	if q.NumHooks() == 0 {
		return
	}

	q.InvokeHook(sim.HookCtx{
		Domain: q,
		Pos:    pos,
		Item:   req,
		Detail: detail,
	})
}

// AwaitAll returns an awaitable that fires once every request has at least
// one response.
func AwaitAll[P, R any](reqs ...*Request[P, R]) coop.Awaitable {
	terms := make([]coop.Awaitable, len(reqs))
	for i, r := range reqs {
		terms[i] = r.responses
	}

	return coop.And(terms...)
}
