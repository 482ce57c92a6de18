// Package channel carries classical control messages between neighbouring
// nodes.
package channel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sarchlab/qnetsim/sim"
)

// NetworkHeader is the header of all network-layer control messages.
const NetworkHeader = "NetworkLayer"

// Labels of the network-layer control messages.
const (
	InitLabel     = "INIT_MSG"
	TrackLabel    = "TRACK_MSG"
	DiscardLabel  = "DISCARD_MSG"
	CompleteLabel = "COMPLETE_MSG"
)

// SessionHeader returns the sub-header that scopes the messages of a session.
func SessionHeader(sessionID string) string {
	return Subheader(NetworkHeader, sessionID)
}

// Subheader appends a sub-header to a header.
func Subheader(header, sub string) string {
	return header + "/" + sub
}

// A WireItem is one item as it travels on the wire: a label and a payload.
type WireItem struct {
	Label   string
	Payload map[string]any
}

// String prints the item as LABEL{key: value, ...} with sorted keys.
func (w WireItem) String() string {
	keys := make([]string, 0, len(w.Payload))
	for k := range w.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, len(keys))
	for i, k := range keys {
		fields[i] = fmt.Sprintf("%s: %v", k, w.Payload[k])
	}

	return w.Label + "{" + strings.Join(fields, ", ") + "}"
}

// A Message is a batch of items sent under one header.
type Message struct {
	Header string
	Items  []WireItem
	SentAt sim.VTimeInSec
}

// String prints the items of the message.
func (m Message) String() string {
	items := make([]string, len(m.Items))
	for i, it := range m.Items {
		items[i] = it.String()
	}

	return "[" + strings.Join(items, ", ") + "]"
}

// An Item is a typed control message.
type Item interface {
	Label() string
	Encode() WireItem
}

// Init starts a session.
type Init struct {
	SessionID string
	Count     int
	Cutoff    sim.VTimeInSec
}

// Label returns InitLabel.
func (Init) Label() string { return InitLabel }

// Encode converts the item to its wire form.
func (m Init) Encode() WireItem {
	return WireItem{Label: InitLabel, Payload: map[string]any{
		"session_id":  m.SessionID,
		"count":       m.Count,
		"cutoff_time": float64(m.Cutoff),
	}}
}

// Track acknowledges a pair and carries the corrections accumulated along the
// chain. NetID is only known once the headend has assigned it.
type Track struct {
	ID    string
	NetID string
	CX    bool
	CZ    bool

	// Fidelity is the fidelity of the pair extended over the swaps the TRACK
	// passed. Zero means no swap was passed yet.
	Fidelity float64
}

// Label returns TrackLabel.
func (Track) Label() string { return TrackLabel }

// Encode converts the item to its wire form.
func (m Track) Encode() WireItem {
	payload := map[string]any{
		"id":     m.ID,
		"net_id": m.NetID,
		"cX":     m.CX,
		"cZ":     m.CZ,
	}
	if m.Fidelity != 0 {
		payload["fidelity"] = m.Fidelity
	}

	return WireItem{Label: TrackLabel, Payload: payload}
}

// Discard tells that a pair failed and must be abandoned.
type Discard struct {
	ID string
}

// Label returns DiscardLabel.
func (Discard) Label() string { return DiscardLabel }

// Encode converts the item to its wire form.
func (m Discard) Encode() WireItem {
	return WireItem{Label: DiscardLabel, Payload: map[string]any{
		"id": m.ID,
	}}
}

// Complete ends a session.
type Complete struct {
	SessionID string
}

// Label returns CompleteLabel.
func (Complete) Label() string { return CompleteLabel }

// Encode converts the item to its wire form.
func (m Complete) Encode() WireItem {
	return WireItem{Label: CompleteLabel, Payload: map[string]any{
		"session_id": m.SessionID,
	}}
}

// Decode converts a wire item back to its typed form.
func Decode(w WireItem) (Item, error) {
	d := payloadDecoder{item: w}

	var it Item
	switch w.Label {
	case InitLabel:
		it = Init{
			SessionID: d.asString("session_id"),
			Count:     d.asInt("count"),
			Cutoff:    sim.VTimeInSec(d.asFloat("cutoff_time")),
		}
	case TrackLabel:
		it = Track{
			ID:    d.asString("id"),
			NetID: d.asString("net_id"),
			CX:    d.asBool("cX"),
			CZ:    d.asBool("cZ"),

			Fidelity: d.optFloat("fidelity"),
		}
	case DiscardLabel:
		it = Discard{ID: d.asString("id")}
	case CompleteLabel:
		it = Complete{SessionID: d.asString("session_id")}
	default:
		return nil, fmt.Errorf("unknown message label %q", w.Label)
	}

	if d.err != nil {
		return nil, d.err
	}

	return it, nil
}

// DecodeAll decodes every item of a message.
func DecodeAll(m Message) ([]Item, error) {
	items := make([]Item, 0, len(m.Items))
	for _, w := range m.Items {
		it, err := Decode(w)
		if err != nil {
			return nil, fmt.Errorf("message under %s: %w", m.Header, err)
		}
		items = append(items, it)
	}

	return items, nil
}

// MustDecodeAll decodes every item of a message and panics on failure. A
// message that does not decode is a protocol violation.
func MustDecodeAll(m Message) []Item {
	items, err := DecodeAll(m)
	if err != nil {
		panic(err)
	}

	return items
}

type payloadDecoder struct {
	item WireItem
	err  error
}

func (d *payloadDecoder) field(key string) (any, bool) {
	v, ok := d.item.Payload[key]
	if !ok && d.err == nil {
		d.err = fmt.Errorf("%s: missing field %q", d.item.Label, key)
	}

	return v, ok
}

func (d *payloadDecoder) mismatch(key string, v any) {
	if d.err == nil {
		d.err = fmt.Errorf("%s: field %q has unexpected type %T",
			d.item.Label, key, v)
	}
}

func (d *payloadDecoder) asString(key string) string {
	v, ok := d.field(key)
	if !ok || v == nil {
		return ""
	}

	s, ok := v.(string)
	if !ok {
		d.mismatch(key, v)
	}

	return s
}

func (d *payloadDecoder) asBool(key string) bool {
	v, ok := d.field(key)
	if !ok {
		return false
	}

	b, ok := v.(bool)
	if !ok {
		d.mismatch(key, v)
	}

	return b
}

func (d *payloadDecoder) asInt(key string) int {
	v, ok := d.field(key)
	if !ok {
		return 0
	}

	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		d.mismatch(key, v)
		return 0
	}
}

// optFloat reads a field that encoders may leave out.
func (d *payloadDecoder) optFloat(key string) float64 {
	if _, ok := d.item.Payload[key]; !ok {
		return 0
	}

	return d.asFloat(key)
}

func (d *payloadDecoder) asFloat(key string) float64 {
	v, ok := d.field(key)
	if !ok {
		return 0
	}

	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		d.mismatch(key, v)
		return 0
	}
}
