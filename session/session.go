// Package session implements the end-to-end layer that runs on the two ends
// of a chain. The headend opens a session, both ends collect the pairs their
// link layers produce, and each pair is delivered once the far end has
// announced its half through the relays.
package session

import (
	"github.com/rs/xid"

	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/request"
	"github.com/sarchlab/qnetsim/sim"
)

// Request labels of the session layer.
const (
	ShareLabel   = "INITIATE_SHARING"
	ReceiveLabel = "RECEIVE"
	ReadyLabel   = "ETGM_READY"
)

// Role tells which end of the chain serves a request.
type Role int

// Roles.
const (
	// Headend opens sessions.
	Headend Role = iota

	// Tailend waits for sessions opened by the headend.
	Tailend
)

func (r Role) String() string {
	switch r {
	case Headend:
		return "HEADEND"
	case Tailend:
		return "TAILEND"
	default:
		return "UNKNOWN"
	}
}

// Result tells how a response ends.
type Result string

// Results.
const (
	ResultOK Result = "OK"

	// ResultAborted is answered once when the far end completed the session
	// before all the pairs were delivered.
	ResultAborted Result = "ABORTED"
)

// Params describe a session request.
type Params struct {
	Role Role

	// Count is the number of end-to-end pairs. The tailend takes it from the
	// session announcement.
	Count int
}

// Response delivers one end-to-end pair. Record.ID is the end-to-end id
// assigned by the headend, shared by both ends.
type Response struct {
	Result   Result
	Session  string
	Record   qmem.EntanglementRecord
	Fidelity float64
	Final    bool
}

// Request is a session request.
type Request = request.Request[Params, Response]

// Layer is the interface the applications use.
type Layer interface {
	sim.Named

	// InitiateSharing opens a session that delivers count pairs.
	InitiateSharing(count int) *Request

	// Receive waits for the next session opened by the far end.
	Receive() *Request
}

type xidGenerator struct{}

func (xidGenerator) Generate() string {
	return xid.New().String()
}
