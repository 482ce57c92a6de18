// Package simlog prints what the protocol layers of a chain do, one line per
// event, in the format
//
//	<level><layer> <time> <action> <name>: <message>
//
// where the action is '@' for something that happens at a node, '>' for a
// message coming into a node and '<' for a message leaving it.
package simlog

import (
	"fmt"
	"log"
	"strings"

	"github.com/sarchlab/qnetsim/channel"
	"github.com/sarchlab/qnetsim/fsm"
	"github.com/sarchlab/qnetsim/link"
	"github.com/sarchlab/qnetsim/phys"
	"github.com/sarchlab/qnetsim/purify"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/relay"
	"github.com/sarchlab/qnetsim/session"
	"github.com/sarchlab/qnetsim/sim"
	"github.com/sarchlab/qnetsim/tracing"
)

// Level orders the lines by importance.
type Level int

// Levels of the log lines.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

var levelNames = []string{"debug", "info", "warning", "error"}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	for i, n := range levelNames {
		if strings.EqualFold(s, n) {
			return Level(i), nil
		}
	}

	return 0, fmt.Errorf("unknown log level %q", s)
}

// String returns the name of the level.
func (l Level) String() string {
	return levelNames[l]
}

func (l Level) letter() byte {
	return "DIWE"[l]
}

// Layer is the protocol layer that reports a line.
type Layer byte

// Layers of the log lines.
const (
	LayerNone     Layer = 'x'
	LayerPhysical Layer = 'P'
	LayerLink     Layer = 'L'
	LayerNetwork  Layer = 'N'
	LayerApp      Layer = 'A'
)

// Actions of the log lines.
const (
	ActionAt    = '@'
	ActionInto  = '>'
	ActionOutOf = '<'
)

// ProtocolLogger is a hook that prints the activity of the components it is
// attached to.
type ProtocolLogger struct {
	sim.LogHookBase

	timeTeller sim.TimeTeller
	level      Level
}

// NewProtocolLogger creates a ProtocolLogger that prints the lines of the
// given level and above.
func NewProtocolLogger(
	logger *log.Logger,
	timeTeller sim.TimeTeller,
	level Level,
) *ProtocolLogger {
	h := new(ProtocolLogger)
	h.Logger = logger
	h.timeTeller = timeTeller
	h.level = level

	return h
}

// PrintFormat prints a legend of the line format.
func (h *ProtocolLogger) PrintFormat() {
	h.Logger.Print("Format: <level><layer> <time> <action> <name>: <message>")
	h.Logger.Print("  level: D (debug), I (info), W (warning), E (error)")
	h.Logger.Print("  layer: x (not set), P (physical), L (link), " +
		"N (network), A (application)")
	h.Logger.Print("  action: @ (at the node), > (into the node), " +
		"< (out of the node)")
}

type line struct {
	level  Level
	layer  Layer
	action byte
	msg    string
}

// Func prints the line that describes the hook context, if any.
func (h *ProtocolLogger) Func(ctx sim.HookCtx) {
	l, ok := describe(ctx)
	if !ok || l.level < h.level {
		return
	}

	name := "-"
	if named, ok := ctx.Domain.(sim.Named); ok {
		name = named.Name()
	}

	h.Logger.Printf("%c%c %10s %c %s: %s",
		l.level.letter(), byte(l.layer),
		h.timeTeller.CurrentTime(), l.action, name, l.msg)
}

//nolint:gocyclo,funlen
func describe(ctx sim.HookCtx) (line, bool) {
	switch ctx.Pos {
	case channel.HookPosPortSend:
		msg := ctx.Item.(channel.Message)
		return line{LevelInfo, headerLayer(msg.Header), ActionOutOf,
			msg.Header + " " + msg.String()}, true
	case channel.HookPosPortDeliver:
		msg := ctx.Item.(channel.Message)
		return line{LevelInfo, headerLayer(msg.Header), ActionInto,
			msg.Header + " " + msg.String()}, true
	case channel.HookPosPortDrop:
		msg := ctx.Item.(channel.Message)
		return line{LevelWarning, headerLayer(msg.Header), ActionInto,
			"dropped " + msg.Header + " " + msg.String()}, true
	case phys.HookPosHerald:
		r := ctx.Item.(phys.AttemptResult)
		if !r.Success {
			return line{LevelDebug, LayerPhysical, ActionAt, "herald failed"}, true
		}

		return line{LevelDebug, LayerPhysical, ActionAt,
			fmt.Sprintf("heralded %s (F=%.3f)", r.PairID, r.Fidelity)}, true
	case link.HookPosDeliver:
		return line{LevelInfo, LayerLink, ActionAt,
			describeLink(ctx.Item.(link.Response))}, true
	case purify.HookPosRound:
		r := ctx.Item.(purify.Round)
		return line{LevelDebug, LayerLink, ActionAt,
			fmt.Sprintf("purified %s with %s: success=%t F=%.3f",
				r.Kept.ID, r.Sacrificed.ID, r.Success, r.Fidelity)}, true
	case purify.HookPosDropPair:
		r := ctx.Item.(qmem.EntanglementRecord)
		return line{LevelWarning, LayerLink, ActionAt,
			"purification queue full, dropped " + r.ID}, true
	case relay.HookPosSwap:
		s := ctx.Item.(relay.SwapEvent)
		return line{LevelInfo, LayerNetwork, ActionAt,
			fmt.Sprintf("SWAP %s x %s cX=%t cZ=%t F=%.3f",
				s.Upstream, s.Downstream, s.CX, s.CZ, s.Fidelity)}, true
	case relay.HookPosExpire:
		r := ctx.Item.(qmem.EntanglementRecord)
		return line{LevelWarning, LayerNetwork, ActionAt,
			"cutoff expired " + r.ID}, true
	case relay.HookPosSessionEnd:
		r := ctx.Item.(relay.SessionReport)
		return line{LevelInfo, LayerNetwork, ActionAt,
			fmt.Sprintf("session %s ended: swaps=%d expired=%d "+
				"orphaned=%d stale=%d",
				r.Session, r.Swaps, r.Expired, r.Orphaned, r.Stale)}, true
	case session.HookPosDeliver:
		r := ctx.Item.(session.Response)
		return line{LevelInfo, LayerNetwork, ActionOutOf,
			fmt.Sprintf("%s{result: %s, session: %s, id: %s, final: %t}",
				session.ReadyLabel, r.Result, r.Session, r.Record.ID,
				r.Final)}, true
	case session.HookPosDiscard:
		r := ctx.Item.(qmem.EntanglementRecord)
		return line{LevelWarning, LayerNetwork, ActionAt,
			"discarded " + r.ID}, true
	case fsm.HookPosStateChange:
		t := ctx.Item.(fsm.Transition)
		return line{LevelDebug, LayerNone, ActionAt,
			fmt.Sprintf("%s -> %s", t.From, t.To)}, true
	case qmem.HookPosAllocate:
		return line{LevelDebug, LayerNone, ActionAt,
			fmt.Sprintf("allocated %v", ctx.Item)}, true
	case qmem.HookPosRelease:
		return line{LevelDebug, LayerNone, ActionAt,
			fmt.Sprintf("released %v (%v)", ctx.Item, ctx.Detail)}, true
	case tracing.HookPosTaskStart:
		t := ctx.Item.(tracing.Task)
		return line{LevelDebug, LayerNone, ActionAt,
			fmt.Sprintf("start %s %s %s", t.Kind, t.What, t.ID)}, true
	case tracing.HookPosTaskEnd:
		t := ctx.Item.(tracing.Task)
		return line{LevelDebug, LayerNone, ActionAt, "end " + t.ID}, true
	}

	return line{}, false
}

func describeLink(r link.Response) string {
	if r.Result != link.ResultOK {
		return fmt.Sprintf("%s{result: %s}", link.ReadyLabel, r.Result)
	}

	if r.Mode == link.Atomic {
		ids := make([]string, len(r.Records))
		for i, rec := range r.Records {
			ids[i] = rec.ID
		}

		return fmt.Sprintf("%s{result: %s, ids: [%s]}",
			link.ReadyLabel, r.Result, strings.Join(ids, ", "))
	}

	return fmt.Sprintf("%s{result: %s, id: %s, slot: %d, final: %t}",
		link.ReadyLabel, r.Result, r.Record.ID, r.Record.Slot, r.Final)
}

func headerLayer(header string) Layer {
	if header == channel.NetworkHeader ||
		strings.HasPrefix(header, channel.NetworkHeader+"/") {
		return LayerNetwork
	}

	return LayerApp
}
