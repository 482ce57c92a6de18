package channel

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/qnetsim/sim"
)

var _ = Describe("Message", func() {
	It("should build session sub-headers", func() {
		Expect(SessionHeader("s1")).To(Equal("NetworkLayer/s1"))
	})

	It("should decode what it encodes", func() {
		items := []Item{
			Init{SessionID: "s1", Count: 3, Cutoff: 20 * sim.Microsecond},
			Track{ID: "p1", NetID: "n1", CX: true},
			Track{ID: "p3", Fidelity: 0.75},
			Discard{ID: "p2"},
			Complete{SessionID: "s1"},
		}

		msg := Message{Header: "H"}
		for _, it := range items {
			msg.Items = append(msg.Items, it.Encode())
		}

		Expect(DecodeAll(msg)).To(Equal(items))
	})

	It("should accept payloads produced by other encoders", func() {
		it, err := Decode(WireItem{Label: InitLabel, Payload: map[string]any{
			"session_id":  "s1",
			"count":       float64(4),
			"cutoff_time": 1,
		}})

		Expect(err).NotTo(HaveOccurred())
		Expect(it).To(Equal(Init{SessionID: "s1", Count: 4, Cutoff: 1}))
	})

	It("should treat a missing net id as empty", func() {
		it, err := Decode(WireItem{Label: TrackLabel, Payload: map[string]any{
			"id": "p1", "net_id": nil, "cX": false, "cZ": true,
		}})

		Expect(err).NotTo(HaveOccurred())
		Expect(it).To(Equal(Track{ID: "p1", CZ: true}))
	})

	It("should reject unknown labels and malformed payloads", func() {
		_, err := Decode(WireItem{Label: "HELLO"})
		Expect(err).To(MatchError(ContainSubstring("unknown message label")))

		_, err = Decode(WireItem{Label: DiscardLabel, Payload: map[string]any{}})
		Expect(err).To(MatchError(ContainSubstring("missing field")))

		_, err = Decode(WireItem{Label: TrackLabel, Payload: map[string]any{
			"id": 5, "net_id": "", "cX": false, "cZ": false,
		}})
		Expect(err).To(MatchError(ContainSubstring("unexpected type")))

		Expect(func() {
			MustDecodeAll(Message{Items: []WireItem{{Label: "HELLO"}}})
		}).To(Panic())
	})

	It("should print items with sorted fields", func() {
		msg := Message{Items: []WireItem{Discard{ID: "p1"}.Encode(),
			Complete{SessionID: "s"}.Encode()}}

		Expect(msg.String()).To(Equal(
			"[DISCARD_MSG{id: p1}, COMPLETE_MSG{session_id: s}]"))
	})
})
