package stats

import (
	"github.com/sarchlab/qnetsim/datarecording"
	"github.com/sarchlab/qnetsim/relay"
	"github.com/sarchlab/qnetsim/session"
	"github.com/sarchlab/qnetsim/sim"
)

// Tables written by a TableWriter.
const (
	DeliveryTable     = "delivery"
	SwapTable         = "swap"
	RelaySessionTable = "relay_session"
)

// DeliveryEntry is one pair handed to an application.
type DeliveryEntry struct {
	Time     float64
	Endpoint string
	Session  string
	Result   string
	NetID    string
	Slot     int
	Fidelity float64
	Final    bool
}

// SwapEntry is one swap at a relay.
type SwapEntry struct {
	Time       float64
	Relay      string
	Session    string
	Upstream   string
	Downstream string
	CX         bool
	CZ         bool
	Fidelity   float64
}

// RelaySessionEntry summarizes a session at a relay.
type RelaySessionEntry struct {
	EndTime  float64
	Relay    string
	Session  string
	Swaps    int
	Expired  int
	Orphaned int
	Stale    int
}

// A TableWriter is a hook that records deliveries, swaps and relay sessions
// into a data recorder.
type TableWriter struct {
	recorder   datarecording.DataRecorder
	timeTeller sim.TimeTeller
}

// NewTableWriter creates the tables in the recorder.
func NewTableWriter(
	recorder datarecording.DataRecorder,
	timeTeller sim.TimeTeller,
) *TableWriter {
	recorder.CreateTable(DeliveryTable, DeliveryEntry{})
	recorder.CreateTable(SwapTable, SwapEntry{})
	recorder.CreateTable(RelaySessionTable, RelaySessionEntry{})

	return &TableWriter{
		recorder:   recorder,
		timeTeller: timeTeller,
	}
}

// Attach makes the writer listen to the given components.
func (w *TableWriter) Attach(domains ...sim.Hookable) {
	for _, d := range domains {
		d.AcceptHook(w)
	}
}

// Func writes a row for the events it knows about.
func (w *TableWriter) Func(ctx sim.HookCtx) {
	now := float64(w.timeTeller.CurrentTime())

	name := ""
	if named, ok := ctx.Domain.(sim.Named); ok {
		name = named.Name()
	}

	switch ctx.Pos {
	case session.HookPosDeliver:
		r := ctx.Item.(session.Response)
		w.recorder.InsertData(DeliveryTable, DeliveryEntry{
			Time:     now,
			Endpoint: name,
			Session:  r.Session,
			Result:   string(r.Result),
			NetID:    r.Record.ID,
			Slot:     int(r.Record.Slot),
			Fidelity: r.Fidelity,
			Final:    r.Final,
		})
	case relay.HookPosSwap:
		s := ctx.Item.(relay.SwapEvent)
		w.recorder.InsertData(SwapTable, SwapEntry{
			Time:       now,
			Relay:      name,
			Session:    s.Session,
			Upstream:   s.Upstream,
			Downstream: s.Downstream,
			CX:         s.CX,
			CZ:         s.CZ,
			Fidelity:   s.Fidelity,
		})
	case relay.HookPosSessionEnd:
		s := ctx.Item.(relay.SessionReport)
		w.recorder.InsertData(RelaySessionTable, RelaySessionEntry{
			EndTime:  now,
			Relay:    name,
			Session:  s.Session,
			Swaps:    s.Swaps,
			Expired:  s.Expired,
			Orphaned: s.Orphaned,
			Stale:    s.Stale,
		})
	}
}
