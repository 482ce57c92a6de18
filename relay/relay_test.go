package relay

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/qnetsim/channel"
	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/link"
	"github.com/sarchlab/qnetsim/phys"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/request"
	"github.com/sarchlab/qnetsim/sim"
)

const us = sim.Microsecond

var sessionHeader = channel.SessionHeader("s1")

type harness struct {
	engine       *sim.SerialEngine
	rt           *coop.Runtime
	bank         *qmem.Bank
	relay        *Relay
	upPort       *channel.Port
	downPort     *channel.Port
	upQueue      *request.Queue[link.Params, link.Response]
	downQueue    *request.Queue[link.Params, link.Response]
	upStreams    []*link.Request
	downStreams  []*link.Request
	swaps        []SwapEvent
	reports      []SessionReport
	upLinkMock   *MockLayer
	downLinkMock *MockLayer
}

func newHarness(ctrl *gomock.Controller, swapTime sim.VTimeInSec) *harness {
	h := &harness{}
	h.engine = sim.NewSerialEngine()
	h.rt = coop.NewRuntime("Runtime", h.engine)
	h.bank = qmem.NewBank("Relay.Bank", 8)

	relayUp := channel.NewPort("Relay.Up", h.rt)
	relayDown := channel.NewPort("Relay.Down", h.rt)
	h.upPort = channel.NewPort("Head.Port", h.rt)
	h.downPort = channel.NewPort("Tail.Port", h.rt)

	f1 := channel.NewFibre("UpFibre", h.engine, 1*us)
	f1.PlugIn(h.upPort)
	f1.PlugIn(relayUp)
	f2 := channel.NewFibre("DownFibre", h.engine, 1*us)
	f2.PlugIn(relayDown)
	f2.PlugIn(h.downPort)

	h.upQueue = request.NewQueue[link.Params, link.Response]("UpLink", h.rt)
	h.downQueue = request.NewQueue[link.Params, link.Response]("DownLink", h.rt)

	h.upLinkMock = NewMockLayer(ctrl)
	h.upLinkMock.EXPECT().
		RequestEntanglement(link.Params{Mode: link.Consecutive}).
		DoAndReturn(func(p link.Params) *link.Request {
			req := h.upQueue.Push(link.RequestLabel, link.ReadyLabel, p)
			h.upStreams = append(h.upStreams, req)
			return req
		}).
		AnyTimes()

	h.downLinkMock = NewMockLayer(ctrl)
	h.downLinkMock.EXPECT().
		RequestEntanglement(link.Params{Mode: link.Consecutive}).
		DoAndReturn(func(p link.Params) *link.Request {
			req := h.downQueue.Push(link.RequestLabel, link.ReadyLabel, p)
			h.downStreams = append(h.downStreams, req)
			return req
		}).
		AnyTimes()

	h.relay = MakeBuilder().
		WithRuntime(h.rt).
		WithStorage(h.bank).
		WithSwapper(phys.NewSwapper(7, swapTime)).
		WithNeighbor(relayUp, h.upLinkMock).
		WithNeighbor(relayDown, h.downLinkMock).
		Build("Relay")

	h.relay.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
		switch ctx.Pos {
		case HookPosSwap:
			h.swaps = append(h.swaps, ctx.Item.(SwapEvent))
		case HookPosSessionEnd:
			h.reports = append(h.reports, ctx.Item.(SessionReport))
		}
	}))

	return h
}

// at runs fn at time t.
func (h *harness) at(t sim.VTimeInSec, fn func()) {
	h.rt.Start("Script", func() coop.Step {
		return coop.Sleep(t-h.rt.Now(), func() coop.Step {
			fn()
			return coop.Return(nil)
		})
	})
}

func (h *harness) init(cutoff sim.VTimeInSec) {
	h.upPort.Send(channel.NetworkHeader, channel.Init{
		SessionID: "s1",
		Count:     1,
		Cutoff:    cutoff,
	})
}

func (h *harness) pair(up bool, id string) {
	slots, err := h.bank.Allocate(1, nil)
	Expect(err).NotTo(HaveOccurred())

	h.bank.Store(slots[0], qmem.Handle{PairID: id, Fidelity: 1})

	stream := h.downStreams[len(h.downStreams)-1]
	if up {
		stream = h.upStreams[len(h.upStreams)-1]
	}

	stream.Answer(link.Response{
		Result: link.ResultOK,
		Mode:   link.Consecutive,
		Record: qmem.EntanglementRecord{Slot: slots[0], ID: id},
	})
}

func received(p *channel.Port, header string) []channel.Item {
	var items []channel.Item
	for _, msg := range p.Listen(header).Drain() {
		items = append(items, channel.MustDecodeAll(msg)...)
	}

	return items
}

var _ = Describe("Relay", func() {
	var (
		mockCtrl *gomock.Controller
		h        *harness
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		h = newHarness(mockCtrl, 0)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should forward INIT and open both link streams", func() {
		h.init(100 * us)

		Expect(h.engine.Run()).To(Succeed())

		Expect(received(h.downPort, channel.NetworkHeader)).To(Equal([]channel.Item{
			channel.Init{SessionID: "s1", Count: 1, Cutoff: 100 * us},
		}))
		Expect(h.relay.Session()).To(Equal("s1"))
		Expect(h.relay.Machine().State()).To(Equal(StateSwapping))
		Expect(h.upStreams).To(HaveLen(1))
		Expect(h.downStreams).To(HaveLen(1))
	})

	It("should panic on anything but INIT while idle", func() {
		h.upPort.Send(channel.NetworkHeader, channel.Discard{ID: "x"})

		Expect(func() { _ = h.engine.Run() }).To(Panic())
	})

	It("should swap and translate TRACKs in both directions", func() {
		h.init(100 * us)
		h.at(5*us, func() {
			h.pair(true, "u1")
			h.pair(false, "d1")
		})
		h.at(7*us, func() {
			h.upPort.Send(sessionHeader, channel.Track{ID: "u1", NetID: "n1"})
			h.downPort.Send(sessionHeader, channel.Track{ID: "d1"})
		})

		Expect(h.engine.Run()).To(Succeed())

		Expect(h.swaps).To(HaveLen(1))
		swap := h.swaps[0]
		Expect(swap.Upstream).To(Equal("u1"))
		Expect(swap.Downstream).To(Equal("d1"))

		Expect(received(h.downPort, sessionHeader)).To(Equal([]channel.Item{
			channel.Track{
				ID: "d1", NetID: "n1", CX: swap.CX, CZ: swap.CZ,
				Fidelity: swap.Fidelity,
			},
		}))
		Expect(received(h.upPort, sessionHeader)).To(Equal([]channel.Item{
			channel.Track{ID: "u1", Fidelity: swap.Fidelity},
		}))
		Expect(h.relay.LiveSwapRecords()).To(Equal(0))
		Expect(h.bank.InUse()).To(Equal(0))
	})

	It("should extend the fidelity a TRACK carries over the swap", func() {
		rec := &swapRecord{fidelity: [2]float64{0.9, 0.8}}

		Expect(rec.extend(0, upstream)).
			To(BeNumerically("~", phys.SwapFidelity(0.9, 0.8), 1e-12))
		Expect(rec.extend(0, downstream)).
			To(BeNumerically("~", phys.SwapFidelity(0.8, 0.9), 1e-12))
		Expect(rec.extend(0.7, downstream)).
			To(BeNumerically("~", phys.SwapFidelity(0.7, 0.9), 1e-12))
	})

	It("should forward the same TRACKs when they overtake the swap", func() {
		run := func(trackFirst bool) ([]channel.Item, []channel.Item) {
			ctrl := gomock.NewController(GinkgoT())
			defer ctrl.Finish()

			h := newHarness(ctrl, 2*us)
			h.init(100 * us)

			trackAt, pairAt := 7*us, 5*us
			if trackFirst {
				trackAt, pairAt = 2*us, 9*us
			}

			h.at(pairAt, func() {
				h.pair(true, "u1")
				h.pair(false, "d1")
			})
			h.at(trackAt, func() {
				h.upPort.Send(sessionHeader, channel.Track{ID: "u1", NetID: "n1"})
				h.downPort.Send(sessionHeader, channel.Track{ID: "d1"})
			})

			Expect(h.engine.Run()).To(Succeed())
			Expect(h.relay.LiveSwapRecords()).To(Equal(0))

			return received(h.downPort, sessionHeader),
				received(h.upPort, sessionHeader)
		}

		down1, up1 := run(false)
		down2, up2 := run(true)

		Expect(down1).To(HaveLen(1))
		Expect(up1).To(HaveLen(1))
		Expect(down2).To(Equal(down1))
		Expect(up2).To(Equal(up1))
	})

	It("should answer a late TRACK of an expired pair with DISCARD", func() {
		h.init(10 * us)
		h.at(2*us, func() { h.pair(true, "u1") })
		h.at(20*us, func() {
			h.upPort.Send(sessionHeader, channel.Track{ID: "u1", NetID: "n1"})
		})

		Expect(h.engine.Run()).To(Succeed())

		Expect(h.relay.Expired()).To(Equal(uint64(1)))
		Expect(h.bank.InUse()).To(Equal(0))
		Expect(received(h.upPort, sessionHeader)).To(Equal([]channel.Item{
			channel.Discard{ID: "u1"},
		}))
		Expect(received(h.downPort, sessionHeader)).To(BeEmpty())
	})

	It("should resolve a pending TRACK when its pair expires", func() {
		var discardedAt sim.VTimeInSec
		upSession := h.upPort.Listen(sessionHeader)

		h.init(10 * us)
		h.at(2*us, func() { h.pair(true, "u1") })
		h.at(3*us, func() {
			h.upPort.Send(sessionHeader, channel.Track{ID: "u1", NetID: "n1"})
		})
		h.rt.Start("Watcher", func() coop.Step {
			return coop.Await(upSession, func(coop.Fired) coop.Step {
				discardedAt = h.rt.Now()
				return coop.Return(nil)
			})
		})

		Expect(h.engine.Run()).To(Succeed())

		Expect(discardedAt).To(BeNumerically("~", 13*us, 1e-12))
		Expect(received(h.upPort, sessionHeader)).To(Equal([]channel.Item{
			channel.Discard{ID: "u1"},
		}))
	})

	It("should forward DISCARD through a swap and swallow the late TRACK", func() {
		h.init(100 * us)
		h.at(5*us, func() {
			h.pair(true, "u1")
			h.pair(false, "d1")
		})
		h.at(6*us, func() {
			h.downPort.Send(sessionHeader, channel.Discard{ID: "d1"})
		})
		h.at(7*us, func() {
			h.upPort.Send(sessionHeader, channel.Track{ID: "u1"})
		})

		Expect(h.engine.Run()).To(Succeed())

		Expect(received(h.upPort, sessionHeader)).To(Equal([]channel.Item{
			channel.Discard{ID: "u1"},
		}))
		Expect(received(h.downPort, sessionHeader)).To(BeEmpty())
		Expect(h.relay.LiveSwapRecords()).To(Equal(0))
	})

	It("should destroy a queued pair on DISCARD", func() {
		h.init(100 * us)
		h.at(2*us, func() { h.pair(true, "u1") })
		h.at(4*us, func() {
			h.upPort.Send(sessionHeader, channel.Discard{ID: "u1"})
		})

		Expect(h.engine.Run()).To(Succeed())

		Expect(h.bank.InUse()).To(Equal(0))
		Expect(h.swaps).To(BeEmpty())
	})

	It("should destroy a pair whose DISCARD came first", func() {
		h.init(100 * us)
		h.at(2*us, func() {
			h.upPort.Send(sessionHeader, channel.Discard{ID: "u1"})
		})
		h.at(6*us, func() {
			h.pair(true, "u1")
			h.pair(false, "d1")
		})

		Expect(h.engine.RunUntil(50 * us)).To(Succeed())

		Expect(h.swaps).To(BeEmpty())
		Expect(h.bank.InUse()).To(Equal(1))
	})

	It("should release everything on COMPLETE and return to idle", func() {
		h.init(100 * us)
		h.at(2*us, func() { h.pair(true, "u1") })
		h.at(3*us, func() {
			h.upPort.Send(sessionHeader, channel.Track{ID: "unknown"})
		})
		h.at(4*us, func() {
			h.upPort.Send(sessionHeader, channel.Complete{SessionID: "s1"})
		})
		h.at(10*us, func() {
			Expect(h.relay.Machine().State()).To(Equal(StateTerminating))
			h.downPort.Send(sessionHeader, channel.Complete{SessionID: "s1"})
		})
		h.at(20*us, func() {
			h.downPort.Send(channel.NetworkHeader, channel.Init{
				SessionID: "s2",
				Cutoff:    100 * us,
			})
		})

		Expect(h.engine.Run()).To(Succeed())

		Expect(h.upStreams[0].Cancelled()).To(BeTrue())
		Expect(h.downStreams[0].Cancelled()).To(BeTrue())
		Expect(received(h.downPort, sessionHeader)).To(Equal([]channel.Item{
			channel.Complete{SessionID: "s1"},
		}))
		Expect(received(h.upPort, sessionHeader)).To(Equal([]channel.Item{
			channel.Complete{SessionID: "s1"},
		}))
		Expect(h.reports).To(Equal([]SessionReport{
			{Session: "s1", Orphaned: 1},
		}))
		Expect(h.relay.Orphaned()).To(Equal(uint64(1)))

		Expect(received(h.upPort, channel.NetworkHeader)).To(Equal([]channel.Item{
			channel.Init{SessionID: "s2", Cutoff: 100 * us},
		}))
		Expect(h.relay.Session()).To(Equal("s2"))
		Expect(h.relay.Sessions()).To(Equal(uint64(2)))
		Expect(h.bank.InUse()).To(Equal(0))
	})
})
