package relay

import (
	"github.com/sarchlab/qnetsim/channel"
	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/link"
	"github.com/sarchlab/qnetsim/phys"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/sim"
)

// direction tells which neighbor of a session something relates to. The
// neighbor that sent INIT is upstream.
type direction int

const (
	upstream direction = iota
	downstream
)

func (d direction) opposite() direction {
	return 1 - d
}

func (d direction) String() string {
	if d == upstream {
		return "upstream"
	}

	return "downstream"
}

// A linkRecord is a pair of a hop waiting to be swapped.
type linkRecord struct {
	rec    qmem.EntanglementRecord
	expiry sim.VTimeInSec
}

// A swapRecord remembers a swap until both neighbors acknowledged it.
type swapRecord struct {
	ids       [2]string
	fidelity  [2]float64
	cx, cz    bool
	time      sim.VTimeInSec
	acks      int
	discarded bool
}

func (r *swapRecord) has(id string) bool {
	return r.ids[0] == id || r.ids[1] == id
}

// extend returns the fidelity a TRACK from one side carries past the swap.
// A TRACK that passed no swap yet stands for the pair of its own hop.
func (r *swapRecord) extend(f float64, from direction) float64 {
	if f == 0 {
		f = r.fidelity[from]
	}

	return phys.SwapFidelity(f, r.fidelity[from.opposite()])
}

func (r *swapRecord) partner(id string) string {
	if r.ids[0] == id {
		return r.ids[1]
	}

	return r.ids[0]
}

// A discardRecord remembers an expired pair for a TRACK that may still come.
type discardRecord struct {
	id   string
	time sim.VTimeInSec
}

type pendingTrack struct {
	track channel.Track
	from  direction
}

type pendingDiscard struct {
	id   string
	from direction
}

// An end is the per-session view of one neighbor.
type end struct {
	neighbor *neighbor
	stream   *link.Request
	msgs     *coop.Inbox[channel.Message]
	queue    []linkRecord
}

// A session holds everything a relay knows about the session it serves. The
// relay process is its only owner.
type session struct {
	id     string
	cutoff sim.VTimeInSec
	ends   [2]*end

	swaps           []*swapRecord
	discards        []discardRecord
	pendingTracks   []pendingTrack
	pendingDiscards []pendingDiscard

	// closer is the side the first COMPLETE came from.
	closer direction
	report SessionReport
}

func (s *session) findSwap(id string) *swapRecord {
	for _, r := range s.swaps {
		if r.has(id) {
			return r
		}
	}

	return nil
}

func (s *session) removeSwap(rec *swapRecord) {
	for i, r := range s.swaps {
		if r == rec {
			s.swaps = append(s.swaps[:i], s.swaps[i+1:]...)
			return
		}
	}
}

func (s *session) takeDiscard(id string) bool {
	for i, r := range s.discards {
		if r.id == id {
			s.discards = append(s.discards[:i], s.discards[i+1:]...)
			return true
		}
	}

	return false
}

// collectDiscards drops the discard records older than t.
func (s *session) collectDiscards(t sim.VTimeInSec) {
	i := 0
	for i < len(s.discards) && s.discards[i].time < t {
		i++
	}

	s.discards = s.discards[i:]
}

func (s *session) takePendingTrack(id string) (pendingTrack, bool) {
	for i, p := range s.pendingTracks {
		if p.track.ID == id {
			s.pendingTracks = append(s.pendingTracks[:i], s.pendingTracks[i+1:]...)
			return p, true
		}
	}

	return pendingTrack{}, false
}

func (s *session) takePendingDiscard(id string) (pendingDiscard, bool) {
	for i, p := range s.pendingDiscards {
		if p.id == id {
			s.pendingDiscards = append(s.pendingDiscards[:i], s.pendingDiscards[i+1:]...)
			return p, true
		}
	}

	return pendingDiscard{}, false
}

// takeQueued removes the link record of id from either queue.
func (s *session) takeQueued(id string) (qmem.EntanglementRecord, bool) {
	for _, e := range s.ends {
		for i, r := range e.queue {
			if r.rec.ID == id {
				e.queue = append(e.queue[:i], e.queue[i+1:]...)
				return r.rec, true
			}
		}
	}

	return qmem.EntanglementRecord{}, false
}

// earliestExpiry returns the side whose head expires first. Expiries are
// non-decreasing within a queue, so only the heads matter.
func (s *session) earliestExpiry() (direction, sim.VTimeInSec, bool) {
	up := s.ends[upstream].queue
	down := s.ends[downstream].queue

	switch {
	case len(up) == 0 && len(down) == 0:
		return upstream, 0, false
	case len(down) == 0:
		return upstream, up[0].expiry, true
	case len(up) == 0:
		return downstream, down[0].expiry, true
	case down[0].expiry < up[0].expiry:
		return downstream, down[0].expiry, true
	default:
		return upstream, up[0].expiry, true
	}
}

func (s *session) canSwap() bool {
	return len(s.ends[upstream].queue) > 0 && len(s.ends[downstream].queue) > 0
}

func (s *session) popPair() (up, down qmem.EntanglementRecord) {
	u := s.ends[upstream]
	d := s.ends[downstream]

	up = u.queue[0].rec
	down = d.queue[0].rec
	u.queue = u.queue[1:]
	d.queue = d.queue[1:]

	return up, down
}

func (s *session) orphans() int {
	return len(s.pendingTracks) + len(s.pendingDiscards)
}
