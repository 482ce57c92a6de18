// Package link implements the link layer. A link layer turns the
// probabilistic attempts of one hop into a reliable stream of pairs by
// retrying until an attempt succeeds.
package link

import (
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/request"
	"github.com/sarchlab/qnetsim/sim"
)

// Request labels of the link layer.
const (
	RequestLabel = "REQUEST_ENTANGLEMENT"
	ReadyLabel   = "ENTANGLEMENT_READY"
)

// Mode selects how pairs are delivered.
type Mode int

// Delivery modes.
const (
	// Atomic delivers all the pairs of a request in one response.
	Atomic Mode = iota

	// Consecutive delivers every pair as soon as it exists.
	Consecutive
)

func (m Mode) String() string {
	switch m {
	case Atomic:
		return "ATOMIC"
	case Consecutive:
		return "CONSECUTIVE"
	default:
		return "UNKNOWN"
	}
}

// Result tells whether a response carries pairs.
type Result string

// Results.
const (
	ResultOK      Result = "OK"
	ResultTimeout Result = "TIMEOUT"
)

// Params describe an entanglement request.
type Params struct {
	// Count is the number of pairs. Zero in consecutive mode streams pairs
	// until the request is cancelled.
	Count int

	Mode Mode

	// Timeout is measured from submission. Zero means no timeout.
	Timeout sim.VTimeInSec
}

// A Response answers an entanglement request.
type Response struct {
	Result Result
	Mode   Mode

	// Records holds the pairs of an atomic response.
	Records []qmem.EntanglementRecord

	// Record holds the pair of a consecutive response.
	Record qmem.EntanglementRecord

	// Final is set on the response that carries the last pair of a request.
	Final bool

	// Tries holds how many attempts each delivered pair took.
	Tries []int
}

// A Request is an entanglement request submitted to a link layer.
type Request = request.Request[Params, Response]

// A Layer provides pairs of one hop to the layer above.
type Layer interface {
	sim.Named

	RequestEntanglement(p Params) *Request
}
