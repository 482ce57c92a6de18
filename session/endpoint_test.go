package session

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/qnetsim/channel"
	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/link"
	"github.com/sarchlab/qnetsim/phys"
	"github.com/sarchlab/qnetsim/purify"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/request"
	"github.com/sarchlab/qnetsim/sim"
)

const us = sim.Microsecond

func drainResponses(req *Request) []Response {
	var out []Response
	for _, r := range req.Responses().Drain() {
		out = append(out, r.Body)
	}

	return out
}

var _ = Describe("Endpoints over a direct hop", func() {
	var (
		engine       *sim.SerialEngine
		rt           *coop.Runtime
		bankH, bankT *qmem.Bank
		head, tail   *Endpoint
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		rt = coop.NewRuntime("Runtime", engine)
		bankH = qmem.NewBank("Head.Bank", 4)
		bankT = qmem.NewBank("Tail.Bank", 4)

		station := phys.MakeStationBuilder().
			WithRuntime(rt).
			WithFreq(1 * sim.MHz).
			WithHeraldLatency(5 * us).
			WithSuccessProbability(1).
			Build("Hop")

		linkH := link.MakeBuilder().
			WithRuntime(rt).
			WithStorage(bankH).
			WithAttempter(station.Side(0)).
			Build("Head.Link")
		linkT := link.MakeBuilder().
			WithRuntime(rt).
			WithStorage(bankT).
			WithAttempter(station.Side(1)).
			Build("Tail.Link")

		portH := channel.NewPort("Head.Port", rt)
		portT := channel.NewPort("Tail.Port", rt)
		fibre := channel.NewFibre("Fibre", engine, 2*us)
		fibre.PlugIn(portH)
		fibre.PlugIn(portT)

		head = MakeBuilder().
			WithRuntime(rt).
			WithStorage(bankH).
			WithPort(portH).
			WithLink(linkH).
			WithSessionIDGenerator(sim.NewSequentialIDGenerator("s")).
			Build("Head")
		tail = MakeBuilder().
			WithRuntime(rt).
			WithStorage(bankT).
			WithPort(portT).
			WithLink(linkT).
			Build("Tail")
	})

	It("should deliver the same pairs at both ends", func() {
		reqH := head.InitiateSharing(3)
		reqT := tail.Receive()

		Expect(engine.Run()).To(Succeed())

		respH := drainResponses(reqH)
		respT := drainResponses(reqT)
		Expect(respH).To(HaveLen(3))
		Expect(respT).To(HaveLen(3))

		for i := range respH {
			Expect(respH[i].Result).To(Equal(ResultOK))
			Expect(respH[i].Session).To(Equal("s1"))
			Expect(respH[i].Record.ID).To(Equal(respT[i].Record.ID))
			Expect(respH[i].Final).To(Equal(i == 2))
			Expect(respT[i].Final).To(Equal(i == 2))
		}
		Expect(respH[0].Record.ID).To(Equal("net1"))

		Expect(bankH.InUse()).To(Equal(3))
		Expect(bankT.InUse()).To(Equal(3))
		Expect(head.Machine().State()).To(Equal(StateIdle))
		Expect(tail.Machine().State()).To(Equal(StateIdle))
		Expect(head.Session()).To(BeEmpty())
	})

	It("should serve sessions one after another", func() {
		first := head.InitiateSharing(1)
		second := head.InitiateSharing(1)
		tail.Receive()
		tail.Receive()

		Expect(engine.Run()).To(Succeed())

		r1 := drainResponses(first)
		r2 := drainResponses(second)
		Expect(r1).To(HaveLen(1))
		Expect(r2).To(HaveLen(1))
		Expect(r1[0].Session).To(Equal("s1"))
		Expect(r2[0].Session).To(Equal("s2"))
		Expect(head.Sessions()).To(Equal(uint64(2)))
		Expect(tail.Sessions()).To(Equal(uint64(2)))
		Expect(tail.Delivered()).To(Equal(uint64(2)))
	})

	It("should panic on a non-positive count", func() {
		Expect(func() { head.InitiateSharing(0) }).To(Panic())
	})
})

var _ = Describe("Endpoints purifying over a direct hop", func() {
	It("should deliver only pairs that survived purification", func() {
		engine := sim.NewSerialEngine()
		rt := coop.NewRuntime("Runtime", engine)

		station := phys.MakeStationBuilder().
			WithRuntime(rt).
			WithFreq(1 * sim.MHz).
			WithHeraldLatency(5 * us).
			WithSuccessProbability(1).
			WithFidelity(0.9).
			Build("Hop")
		fibre := channel.NewFibre("Fibre", engine, 2*us)

		build := func(name string, side int) (*Endpoint, *purify.Greedy, *qmem.Bank) {
			bank := qmem.NewBank(name+".Bank", 8)
			l := link.MakeBuilder().
				WithRuntime(rt).
				WithStorage(bank).
				WithAttempter(station.Side(side)).
				Build(name + ".Link")
			port := channel.NewPort(name+".Port", rt)
			fibre.PlugIn(port)
			p := purify.MakeGreedyBuilder().
				WithRuntime(rt).
				WithStorage(bank).
				WithIterations(1).
				WithExchangeLatency(2 * us).
				Build(name + ".Purifier")

			e := MakeBuilder().
				WithRuntime(rt).
				WithStorage(bank).
				WithPort(port).
				WithLink(l).
				WithPurifier(p).
				Build(name)

			return e, p, bank
		}

		head, pH, bankH := build("Head", 0)
		tail, pT, bankT := build("Tail", 1)

		reqH := head.InitiateSharing(2)
		reqT := tail.Receive()

		Expect(engine.Run()).To(Succeed())

		respH := drainResponses(reqH)
		respT := drainResponses(reqT)
		Expect(respH).To(HaveLen(2))
		Expect(respT).To(HaveLen(2))

		_, purified := purify.Recurrence(0.9, 0.9)
		for i := range respH {
			Expect(respH[i].Result).To(Equal(ResultOK))
			Expect(respH[i].Record.ID).To(Equal(respT[i].Record.ID))
			Expect(respH[i].Fidelity).To(BeNumerically("~", purified, 1e-12))
			Expect(respT[i].Fidelity).To(BeNumerically("~", purified, 1e-12))
		}

		Expect(head.Purifying()).To(BeNumerically(">=", 4))
		Expect(pH.Successes()).To(BeNumerically(">=", 2))
		Expect(pT.Successes()).To(Equal(pH.Successes()))
		Expect(bankH.InUse()).To(Equal(2))
		Expect(bankT.InUse()).To(Equal(2))
		Expect(head.Machine().State()).To(Equal(StateIdle))
		Expect(tail.Machine().State()).To(Equal(StateIdle))
	})
})

var _ = Describe("Tailend with a scripted peer", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *sim.SerialEngine
		rt       *coop.Runtime
		bank     *qmem.Bank
		far      *channel.Port
		queue    *request.Queue[link.Params, link.Response]
		streams  []*link.Request
		tail     *Endpoint
		header   = channel.SessionHeader("s1")
	)

	at := func(t sim.VTimeInSec, fn func()) {
		rt.Start("Script", func() coop.Step {
			return coop.Sleep(t-rt.Now(), func() coop.Step {
				fn()
				return coop.Return(nil)
			})
		})
	}

	pair := func(id string) {
		slots, err := bank.Allocate(1, nil)
		Expect(err).NotTo(HaveOccurred())
		bank.Store(slots[0], qmem.Handle{PairID: id, Fidelity: 1})

		streams[len(streams)-1].Answer(link.Response{
			Result: link.ResultOK,
			Mode:   link.Consecutive,
			Record: qmem.EntanglementRecord{Slot: slots[0], ID: id},
		})
	}

	farReceived := func() []channel.Item {
		var items []channel.Item
		for _, msg := range far.Listen(header).Drain() {
			items = append(items, channel.MustDecodeAll(msg)...)
		}

		return items
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = sim.NewSerialEngine()
		rt = coop.NewRuntime("Runtime", engine)
		bank = qmem.NewBank("Tail.Bank", 4)
		streams = nil

		port := channel.NewPort("Tail.Port", rt)
		far = channel.NewPort("Far.Port", rt)
		fibre := channel.NewFibre("Fibre", engine, 1*us)
		fibre.PlugIn(far)
		fibre.PlugIn(port)

		queue = request.NewQueue[link.Params, link.Response]("Link", rt)
		l := NewMockLayer(mockCtrl)
		l.EXPECT().
			RequestEntanglement(link.Params{Mode: link.Consecutive}).
			DoAndReturn(func(p link.Params) *link.Request {
				req := queue.Push(link.RequestLabel, link.ReadyLabel, p)
				streams = append(streams, req)
				return req
			}).
			AnyTimes()

		tail = MakeBuilder().
			WithRuntime(rt).
			WithStorage(bank).
			WithPort(port).
			WithLink(l).
			Build("Tail")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should correct, discard and deliver regardless of order", func() {
		req := tail.Receive()

		far.Send(channel.NetworkHeader, channel.Init{SessionID: "s1", Count: 2})
		at(3*us, func() {
			far.Send(header, channel.Track{ID: "p1", NetID: "net7", CX: true})
		})
		at(5*us, func() { pair("p1") })
		at(6*us, func() { pair("p2") })
		at(7*us, func() { far.Send(header, channel.Discard{ID: "p2"}) })
		at(9*us, func() { pair("p3") })
		at(10*us, func() { far.Send(header, channel.Track{ID: "p3", NetID: "net8"}) })
		at(15*us, func() { far.Send(header, channel.Complete{SessionID: "s1"}) })

		Expect(engine.Run()).To(Succeed())

		resp := drainResponses(req)
		Expect(resp).To(HaveLen(2))
		Expect(resp[0].Record.ID).To(Equal("net7"))
		Expect(resp[0].Final).To(BeFalse())
		Expect(resp[1].Record.ID).To(Equal("net8"))
		Expect(resp[1].Final).To(BeTrue())

		h := bank.Peek(resp[0].Record.Slot)[0]
		Expect(h.X).To(BeTrue())
		Expect(h.Z).To(BeFalse())

		Expect(tail.Discarded()).To(Equal(uint64(1)))
		Expect(bank.InUse()).To(Equal(2))
		Expect(streams[0].Cancelled()).To(BeTrue())
		Expect(farReceived()).To(Equal([]channel.Item{
			channel.Track{ID: "p1"},
			channel.Track{ID: "p2"},
			channel.Track{ID: "p3"},
			channel.Complete{SessionID: "s1"},
		}))
		Expect(tail.Machine().State()).To(Equal(StateIdle))
	})

	It("should abort when the far end completes first", func() {
		req := tail.Receive()

		far.Send(channel.NetworkHeader, channel.Init{SessionID: "s1", Count: 3})
		at(3*us, func() { pair("p1") })
		at(5*us, func() { far.Send(header, channel.Complete{SessionID: "s1"}) })

		Expect(engine.Run()).To(Succeed())

		Expect(drainResponses(req)).To(Equal([]Response{
			{Result: ResultAborted, Session: "s1", Final: true},
		}))
		Expect(bank.InUse()).To(Equal(0))
		Expect(farReceived()).To(Equal([]channel.Item{
			channel.Track{ID: "p1"},
			channel.Complete{SessionID: "s1"},
		}))
	})

	It("should complete first when its own request is cancelled", func() {
		req := tail.Receive()

		far.Send(channel.NetworkHeader, channel.Init{SessionID: "s1", Count: 3})
		at(3*us, func() { pair("p1") })
		at(4*us, func() { req.Cancel() })

		Expect(engine.RunUntil(8 * us)).To(Succeed())

		Expect(tail.Machine().State()).To(Equal(StateTerminating))
		Expect(bank.InUse()).To(Equal(0))
		Expect(farReceived()).To(Equal([]channel.Item{
			channel.Track{ID: "p1"},
			channel.Complete{SessionID: "s1"},
		}))

		at(10*us, func() { far.Send(header, channel.Complete{SessionID: "s1"}) })
		Expect(engine.Run()).To(Succeed())

		Expect(drainResponses(req)).To(Equal([]Response{
			{Result: ResultAborted, Session: "s1", Final: true},
		}))
		Expect(tail.Machine().State()).To(Equal(StateIdle))
		Expect(farReceived()).To(BeEmpty())
	})

	It("should panic on anything but INIT while initiating", func() {
		tail.Receive()
		far.Send(channel.NetworkHeader, channel.Complete{SessionID: "s1"})

		Expect(func() { _ = engine.Run() }).To(Panic())
	})
})
