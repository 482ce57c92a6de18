package channel

import (
	"log"

	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/sim"
)

// HookPosPortSend marks when a port sends a message.
var HookPosPortSend = &sim.HookPos{Name: "PortSend"}

// HookPosPortDeliver marks when a message arrives at a port.
var HookPosPortDeliver = &sim.HookPos{Name: "PortDeliver"}

// HookPosPortDrop marks when a message is dropped because its header was
// closed.
var HookPosPortDrop = &sim.HookPos{Name: "PortDrop"}

// A Connection moves messages from one port to the port at its other end.
type Connection interface {
	sim.Named

	Send(src *Port, msg Message)
	Latency() sim.VTimeInSec
}

type closedHeader struct {
	header string
	at     sim.VTimeInSec
}

// A Port is a node's classical endpoint of a connection. Arriving messages
// are sorted into one inbox per header. Messages for a header that nobody
// listens to yet are held until someone does, and messages for a closed
// header are dropped. A closed header is forgotten one round trip after it
// was closed, once nothing sent before the close can still arrive.
type Port struct {
	sim.HookableBase

	name       string
	timeTeller sim.TimeTeller
	conn       Connection
	inboxes    map[string]*coop.Inbox[Message]
	closed     map[string]sim.VTimeInSec
	closeOrder []closedHeader
	dropped    uint64
}

// NewPort creates a port.
func NewPort(name string, tt sim.TimeTeller) *Port {
	sim.NameMustBeValid(name)

	return &Port{
		name:       name,
		timeTeller: tt,
		inboxes:    make(map[string]*coop.Inbox[Message]),
		closed:     make(map[string]sim.VTimeInSec),
	}
}

// Name returns the name of the port.
func (p *Port) Name() string {
	return p.name
}

// SetConnection attaches the port to a connection.
func (p *Port) SetConnection(conn Connection) {
	if p.conn != nil {
		log.Panicf("port %s is already connected to %s",
			p.name, p.conn.Name())
	}

	p.conn = conn
}

// Listen returns the inbox of a header, creating it if needed. Listening to a
// closed header reopens it.
func (p *Port) Listen(header string) *coop.Inbox[Message] {
	delete(p.closed, header)

	return p.inbox(header)
}

func (p *Port) inbox(header string) *coop.Inbox[Message] {
	in, ok := p.inboxes[header]
	if !ok {
		in = coop.NewInbox[Message](p.name + ":" + header)
		p.inboxes[header] = in
	}

	return in
}

// Close stops listening to a header. Messages left in its inbox and messages
// that arrive later are dropped.
func (p *Port) Close(header string) {
	p.pruneClosed()

	now := p.timeTeller.CurrentTime()
	p.closed[header] = now
	p.closeOrder = append(p.closeOrder, closedHeader{header: header, at: now})

	in, ok := p.inboxes[header]
	if !ok {
		return
	}

	delete(p.inboxes, header)
	for _, msg := range in.Drain() {
		p.drop(msg)
	}
}

// Send encodes the items and sends them as one message.
func (p *Port) Send(header string, items ...Item) {
	wire := make([]WireItem, len(items))
	for i, it := range items {
		wire[i] = it.Encode()
	}

	p.Forward(Message{Header: header, Items: wire})
}

// Forward sends a message as is.
func (p *Port) Forward(msg Message) {
	if p.conn == nil {
		log.Panicf("port %s is not connected", p.name)
	}

	msg.SentAt = p.timeTeller.CurrentTime()
	p.invoke(HookPosPortSend, msg)
	p.conn.Send(p, msg)
}

// Deliver is called by the connection when a message arrives.
func (p *Port) Deliver(msg Message) {
	p.pruneClosed()

	if _, closed := p.closed[msg.Header]; closed {
		p.drop(msg)
		return
	}

	p.invoke(HookPosPortDeliver, msg)
	p.inbox(msg.Header).Put(msg)
}

// NumClosed returns the number of closed headers the port still remembers.
func (p *Port) NumClosed() int {
	return len(p.closed)
}

func (p *Port) pruneClosed() {
	if p.conn == nil {
		return
	}

	expiry := p.timeTeller.CurrentTime() - 2*p.conn.Latency()

	n := 0
	for _, c := range p.closeOrder {
		if c.at >= expiry {
			break
		}

		if at, ok := p.closed[c.header]; ok && at == c.at {
			delete(p.closed, c.header)
		}
		n++
	}

	p.closeOrder = p.closeOrder[n:]
}

// Dropped returns the number of messages dropped by the port.
func (p *Port) Dropped() uint64 {
	return p.dropped
}

func (p *Port) drop(msg Message) {
	p.dropped++
	p.invoke(HookPosPortDrop, msg)
}

func (p *Port) invoke(pos *sim.HookPos, msg Message) {
	if p.NumHooks() == 0 {
		return
	}

	p.InvokeHook(sim.HookCtx{
		Domain: p,
		Pos:    pos,
		Item:   msg,
	})
}
