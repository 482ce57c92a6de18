// Package purify turns several low-fidelity pairs of a hop into fewer pairs
// of higher fidelity.
package purify

import (
	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/sim"
)

// Request labels of a purifier.
const (
	AddPairLabel  = "ADD_PAIR"
	ResetLabel    = "RESET"
	CompleteLabel = "PURIFICATION_COMPLETE"
)

// HookPosRound marks the end of a purification round. The item is a Round.
var HookPosRound = &sim.HookPos{Name: "PurificationRound"}

// HookPosDropPair marks a pair dropped because the purifier fell behind. The
// item is the record.
var HookPosDropPair = &sim.HookPos{Name: "PurificationDrop"}

// A Purifier consumes pairs of one hop and eventually completes some of them.
// Both ends of the hop run a purifier and feed it the same pairs in the same
// order, so they agree on which pairs survive.
type Purifier interface {
	sim.Named

	// AddPair hands a stored pair to the purifier. The purifier owns the slot
	// from now on.
	AddPair(rec qmem.EntanglementRecord)

	// Reset destroys every pair that the purifier holds and has not completed.
	Reset()

	// Completed collects the purified pairs. Their slots belong to whoever
	// pops them.
	Completed() *coop.Inbox[qmem.EntanglementRecord]
}

// Round describes one purification round.
type Round struct {
	Kept       qmem.EntanglementRecord
	Sacrificed qmem.EntanglementRecord
	Success    bool
	Fidelity   float64
}

// Recurrence returns the success probability of purifying a pair of fidelity
// f1 with a sacrificial pair of fidelity f2, and the fidelity of the kept pair
// on success. Both pairs are assumed to be Werner states.
func Recurrence(f1, f2 float64) (prob, fidelity float64) {
	e1 := (1 - f1) / 3
	e2 := (1 - f2) / 3

	prob = f1*f2 + f1*e2 + e1*f2 + 5*e1*e2
	if prob == 0 {
		return 0, 0
	}

	fidelity = (f1*f2 + e1*e2) / prob

	return prob, fidelity
}
