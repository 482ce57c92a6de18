// Package phys models the physical layer of a hop: a heralding station that
// turns simultaneous attempts of the two nodes into a shared pair, and the
// Bell-state measurement that relays use to swap.
package phys

import (
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/request"
	"github.com/sarchlab/qnetsim/sim"
)

// Request labels of an attempt.
const (
	AttemptLabel     = "ATTEMPT"
	AttemptDoneLabel = "ATTEMPT_DONE"
)

// AttemptParams names the slot that should receive the half-pair.
type AttemptParams struct {
	Slot qmem.SlotID
}

// AttemptResult is the outcome of one attempt. CX and CZ are the corrections
// the receiving side has to apply.
type AttemptResult struct {
	Success  bool
	PairID   string
	Fidelity float64
	CX       bool
	CZ       bool
}

// An AttemptRequest is an attempt that has been submitted.
type AttemptRequest = request.Request[AttemptParams, AttemptResult]

// An Attempter tries to generate a pair on a slot. The returned request is
// answered exactly once.
type Attempter interface {
	sim.Named

	Attempt(slot qmem.SlotID) *AttemptRequest
}
