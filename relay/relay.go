// Package relay implements the repeater of a chain. A relay joins the pairs
// it shares with its two neighbors by swapping them, and tracks every swap
// until both neighbors know about it.
package relay

import (
	"fmt"

	"github.com/sarchlab/qnetsim/channel"
	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/fsm"
	"github.com/sarchlab/qnetsim/link"
	"github.com/sarchlab/qnetsim/phys"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/sim"
	"github.com/sarchlab/qnetsim/tracing"
)

// States of a relay.
const (
	StateIdle        fsm.State = "IDLE"
	StateSwapping    fsm.State = "SWAPPING"
	StateTerminating fsm.State = "TERMINATING"
)

var (
	// HookPosSwap marks a local swap. The item is a SwapEvent.
	HookPosSwap = &sim.HookPos{Name: "RelaySwap"}

	// HookPosExpire marks a pair that expired before it could be swapped.
	// The item is the record.
	HookPosExpire = &sim.HookPos{Name: "RelayExpire"}

	// HookPosSessionEnd marks the end of a session. The item is a
	// SessionReport.
	HookPosSessionEnd = &sim.HookPos{Name: "RelaySessionEnd"}
)

// SwapEvent describes a local swap.
type SwapEvent struct {
	Session    string
	Upstream   string
	Downstream string
	CX, CZ     bool
	Fidelity   float64
}

// SessionReport summarizes a session served by a relay. Orphaned counts the
// TRACK and DISCARD messages that never found their pair.
type SessionReport struct {
	Session  string
	Swaps    int
	Expired  int
	Orphaned int
	Stale    int
}

type neighbor struct {
	port    *channel.Port
	link    link.Layer
	control *coop.Inbox[channel.Message]
}

// A Relay sits between two neighbors of a chain and serves one session at a
// time.
type Relay struct {
	sim.HookableBase

	name      string
	rt        *coop.Runtime
	storage   qmem.Storage
	swapper   *phys.Swapper
	neighbors [2]*neighbor
	machine   *fsm.Machine
	sess      *session

	numSessions uint64
	numSwaps    uint64
	numExpired  uint64
	numOrphaned uint64
}

// Name returns the name of the relay.
func (r *Relay) Name() string {
	return r.name
}

// Machine returns the state machine of the relay.
func (r *Relay) Machine() *fsm.Machine {
	return r.machine
}

// Session returns the id of the current session, or an empty string.
func (r *Relay) Session() string {
	if r.sess == nil {
		return ""
	}

	return r.sess.id
}

// Sessions returns the number of sessions served so far.
func (r *Relay) Sessions() uint64 {
	return r.numSessions
}

// Swaps returns the number of swaps performed so far.
func (r *Relay) Swaps() uint64 {
	return r.numSwaps
}

// Expired returns the number of pairs that expired so far.
func (r *Relay) Expired() uint64 {
	return r.numExpired
}

// Orphaned returns the number of messages left pending at session ends.
func (r *Relay) Orphaned() uint64 {
	return r.numOrphaned
}

// LiveSwapRecords returns the number of swaps not fully acknowledged yet.
func (r *Relay) LiveSwapRecords() int {
	if r.sess == nil {
		return 0
	}

	return len(r.sess.swaps)
}

func (r *Relay) idle() coop.Step {
	return coop.Loop(func() coop.Step {
		for i, n := range r.neighbors {
			msg, ok := n.control.Pop()
			if !ok {
				continue
			}

			r.open(i, r.mustBeInit(msg))
			return coop.Break(StateSwapping)
		}

		return coop.Await(
			coop.Or(r.neighbors[0].control, r.neighbors[1].control),
			func(coop.Fired) coop.Step { return coop.Continue() },
		)
	})
}

func (r *Relay) mustBeInit(msg channel.Message) channel.Init {
	items := channel.MustDecodeAll(msg)
	if len(items) != 1 {
		panic(fmt.Sprintf("relay %s: expected a single INIT, got %s", r.name, msg))
	}

	init, ok := items[0].(channel.Init)
	if !ok {
		panic(fmt.Sprintf("relay %s: unexpected %s while idle", r.name, msg))
	}

	return init
}

// open starts the session announced by the INIT that arrived from neighbor
// up and forwards the INIT to the other neighbor.
func (r *Relay) open(up int, init channel.Init) {
	s := &session{
		id:     init.SessionID,
		cutoff: init.Cutoff,
		report: SessionReport{Session: init.SessionID},
	}

	header := channel.SessionHeader(init.SessionID)
	for d, n := range []*neighbor{r.neighbors[up], r.neighbors[1-up]} {
		s.ends[d] = &end{
			neighbor: n,
			msgs:     n.port.Listen(header),
			stream: n.link.RequestEntanglement(link.Params{
				Mode: link.Consecutive,
			}),
		}
	}

	r.sess = s
	r.numSessions++
	tracing.StartTask(r.taskID(), "", r, tracing.KindRelaySession, "SWAP", init)

	s.ends[downstream].neighbor.port.Send(channel.NetworkHeader, init)
}

func (r *Relay) swapping() coop.Step {
	s := r.sess

	return coop.Loop(func() coop.Step {
		r.collectPairs()
		r.expire()

		if s.canSwap() {
			up, down := s.popPair()
			if d := r.swapper.Duration(); d > 0 {
				return coop.Sleep(d, func() coop.Step {
					r.swap(up, down)
					return coop.Continue()
				})
			}

			r.swap(up, down)
			return coop.Continue()
		}

		if r.handleMessages() {
			return coop.Break(StateTerminating)
		}

		return coop.Await(r.swappingWakeUp(), func(coop.Fired) coop.Step {
			return coop.Continue()
		})
	})
}

func (r *Relay) swappingWakeUp() coop.Awaitable {
	s := r.sess
	up := s.ends[upstream]
	down := s.ends[downstream]

	var expiry coop.Awaitable
	if _, t, ok := s.earliestExpiry(); ok {
		expiry = coop.Deadline(t)
	}

	return coop.Or(
		up.stream.Responses(),
		down.stream.Responses(),
		up.msgs,
		down.msgs,
		expiry,
	)
}

func (r *Relay) collectPairs() {
	s := r.sess
	for d, e := range s.ends {
		for _, resp := range e.stream.Responses().Drain() {
			r.register(direction(d), resp.Body.Record)
		}
	}
}

func (r *Relay) register(d direction, rec qmem.EntanglementRecord) {
	s := r.sess
	if _, ok := s.takePendingDiscard(rec.ID); ok {
		r.storage.Destroy(rec.Slot)
		return
	}

	e := s.ends[d]
	e.queue = append(e.queue, linkRecord{
		rec:    rec,
		expiry: r.rt.Now() + s.cutoff,
	})
}

func (r *Relay) expire() {
	s := r.sess
	now := r.rt.Now()

	for {
		d, t, ok := s.earliestExpiry()
		if !ok || t > now {
			return
		}

		e := s.ends[d]
		rec := e.queue[0].rec
		e.queue = e.queue[1:]

		r.storage.Destroy(rec.Slot)
		r.numExpired++
		s.report.Expired++
		r.invoke(HookPosExpire, rec)
		tracing.AddTaskStep(r.taskID(), r, "expire")

		if p, ok := s.takePendingTrack(rec.ID); ok {
			r.send(p.from, channel.Discard{ID: rec.ID})
			continue
		}

		s.discards = append(s.discards, discardRecord{id: rec.ID, time: now})
	}
}

func (r *Relay) swap(up, down qmem.EntanglementRecord) {
	s := r.sess
	handles := r.storage.Peek(up.Slot, down.Slot)
	m := r.swapper.Measure(handles[0], handles[1])
	r.storage.Destroy(up.Slot, down.Slot)

	rec := &swapRecord{
		ids:      [2]string{up.ID, down.ID},
		fidelity: [2]float64{handles[0].Fidelity, handles[1].Fidelity},
		cx:       m.CX,
		cz:       m.CZ,
		time:     r.rt.Now(),
	}
	s.swaps = append(s.swaps, rec)

	r.numSwaps++
	s.report.Swaps++
	tracing.AddTaskStep(r.taskID(), r, "swap")
	r.invoke(HookPosSwap, SwapEvent{
		Session:    s.id,
		Upstream:   up.ID,
		Downstream: down.ID,
		CX:         m.CX,
		CZ:         m.CZ,
		Fidelity:   m.Fidelity,
	})

	for _, id := range rec.ids {
		if p, ok := s.takePendingTrack(id); ok {
			r.trackSwapped(rec, p)
		}

		if p, ok := s.takePendingDiscard(id); ok {
			r.discardSwapped(rec, p)
		}
	}
}

// handleMessages dispatches the messages of both neighbors, upstream first.
// It returns true once the session is complete.
func (r *Relay) handleMessages() bool {
	s := r.sess
	for d, e := range s.ends {
		for {
			msg, ok := e.msgs.Pop()
			if !ok {
				break
			}

			if r.handleMessage(direction(d), msg) {
				return true
			}
		}
	}

	return false
}

func (r *Relay) handleMessage(from direction, msg channel.Message) bool {
	for _, item := range channel.MustDecodeAll(msg) {
		switch it := item.(type) {
		case channel.Track:
			r.track(from, it)
		case channel.Discard:
			r.discard(from, it.ID)
		case channel.Complete:
			r.complete(from, it)
			return true
		default:
			panic(fmt.Sprintf("relay %s: unexpected %s in session %s",
				r.name, item.Label(), r.sess.id))
		}
	}

	return false
}

func (r *Relay) track(from direction, t channel.Track) {
	s := r.sess
	p := pendingTrack{track: t, from: from}

	if rec := s.findSwap(t.ID); rec != nil {
		r.trackSwapped(rec, p)
		return
	}

	if s.takeDiscard(t.ID) {
		r.send(from, channel.Discard{ID: t.ID})
		return
	}

	s.pendingTracks = append(s.pendingTracks, p)
}

// trackSwapped forwards a TRACK through a swap. Only TRACKs that travel
// downstream pick up the corrections of the swap.
func (r *Relay) trackSwapped(rec *swapRecord, p pendingTrack) {
	if !rec.discarded {
		out := p.track
		out.ID = rec.partner(p.track.ID)
		out.Fidelity = rec.extend(p.track.Fidelity, p.from)
		if p.from == upstream {
			out.CX = out.CX != rec.cx
			out.CZ = out.CZ != rec.cz
		}

		r.send(p.from.opposite(), out)
	}

	r.ack(rec)
}

func (r *Relay) discard(from direction, id string) {
	s := r.sess

	if rec := s.findSwap(id); rec != nil {
		r.discardSwapped(rec, pendingDiscard{id: id, from: from})
		return
	}

	if rec, ok := s.takeQueued(id); ok {
		r.storage.Destroy(rec.Slot)
		return
	}

	if s.takeDiscard(id) {
		return
	}

	s.pendingDiscards = append(s.pendingDiscards, pendingDiscard{id: id, from: from})
}

func (r *Relay) discardSwapped(rec *swapRecord, p pendingDiscard) {
	if !rec.discarded {
		rec.discarded = true
		r.send(p.from.opposite(), channel.Discard{ID: rec.partner(p.id)})
	}

	r.ack(rec)
}

func (r *Relay) ack(rec *swapRecord) {
	rec.acks++
	if rec.acks < 2 {
		return
	}

	s := r.sess
	s.removeSwap(rec)
	s.collectDiscards(rec.time)
}

// complete releases everything the session holds and forwards the COMPLETE.
func (r *Relay) complete(from direction, c channel.Complete) {
	s := r.sess
	s.closer = from

	for _, e := range s.ends {
		e.stream.Cancel()
		for _, resp := range e.stream.Responses().Drain() {
			r.storage.Destroy(resp.Body.Record.Slot)
		}

		for _, lr := range e.queue {
			r.storage.Destroy(lr.rec.Slot)
		}
		e.queue = nil
	}

	r.send(from.opposite(), c)
}

func (r *Relay) terminating() coop.Step {
	s := r.sess
	echo := s.ends[s.closer.opposite()]

	return coop.Loop(func() coop.Step {
		for _, e := range s.ends {
			if e == echo {
				continue
			}

			s.report.Stale += e.msgs.Len()
			e.msgs.Drain()
		}

		for {
			msg, ok := echo.msgs.Pop()
			if !ok {
				break
			}

			if c, ok := completeIn(msg); ok {
				r.send(s.closer, c)
				r.close()
				return coop.Break(StateIdle)
			}

			s.report.Stale++
		}

		return coop.Await(
			coop.Or(s.ends[upstream].msgs, s.ends[downstream].msgs),
			func(coop.Fired) coop.Step { return coop.Continue() },
		)
	})
}

func completeIn(msg channel.Message) (channel.Complete, bool) {
	for _, item := range channel.MustDecodeAll(msg) {
		if c, ok := item.(channel.Complete); ok {
			return c, true
		}
	}

	return channel.Complete{}, false
}

// close clears the session. Pending messages that never found their pair are
// counted as orphans.
func (r *Relay) close() {
	s := r.sess
	s.report.Orphaned = s.orphans()
	r.numOrphaned += uint64(s.report.Orphaned)

	header := channel.SessionHeader(s.id)
	for _, e := range s.ends {
		e.neighbor.port.Close(header)
	}

	r.invoke(HookPosSessionEnd, s.report)
	tracing.EndTask(r.taskID(), r)
	r.sess = nil
}

func (r *Relay) taskID() string {
	return r.sess.id + "@" + r.name
}

func (r *Relay) send(to direction, item channel.Item) {
	s := r.sess
	s.ends[to].neighbor.port.Send(channel.SessionHeader(s.id), item)
}

func (r *Relay) invoke(pos *sim.HookPos, item any) {
	if r.NumHooks() == 0 {
		return
	}

	r.InvokeHook(sim.HookCtx{
		Domain: r,
		Pos:    pos,
		Item:   item,
	})
}
