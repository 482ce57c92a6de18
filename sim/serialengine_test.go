package sim

import (
	"errors"
	"math/rand/v2"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gmeasure"
	"go.uber.org/mock/gomock"
)

func mockEventAt(
	ctrl *gomock.Controller,
	t VTimeInSec,
	h Handler,
	secondary bool,
) *MockEvent {
	evt := NewMockEvent(ctrl)
	evt.EXPECT().Time().Return(t).AnyTimes()
	evt.EXPECT().Handler().Return(h).AnyTimes()
	evt.EXPECT().IsSecondary().Return(secondary).AnyTimes()
	return evt
}

var _ = Describe("SerialEngine", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *SerialEngine
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewSerialEngine()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should schedule events", func() {
		handler1 := NewMockHandler(mockCtrl)
		handler2 := NewMockHandler(mockCtrl)
		evt1 := mockEventAt(mockCtrl, 4.0, handler1, false)
		evt2 := mockEventAt(mockCtrl, 2.0, handler2, false)
		evt3 := mockEventAt(mockCtrl, 3.0, handler1, false)
		evt4 := mockEventAt(mockCtrl, 5.0, handler1, false)

		handleEvt2 := handler2.EXPECT().Handle(evt2).Do(func(e Event) {
			engine.Schedule(evt3)
			engine.Schedule(evt4)
		})
		handleEvt3 := handler1.EXPECT().Handle(evt3).After(handleEvt2)
		handleEvt1 := handler1.EXPECT().Handle(evt1).After(handleEvt3)
		handler1.EXPECT().Handle(evt4).After(handleEvt1)

		engine.Schedule(evt1)
		engine.Schedule(evt2)

		Expect(engine.Run()).To(Succeed())
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(5.0)))
	})

	It("should consider secondary events", func() {
		handler1 := NewMockHandler(mockCtrl)
		handler2 := NewMockHandler(mockCtrl)
		handler3 := NewMockHandler(mockCtrl)
		evt1 := mockEventAt(mockCtrl, 2.0, handler1, true)
		evt2 := mockEventAt(mockCtrl, 2.0, handler2, false)
		evt3 := mockEventAt(mockCtrl, 2.0, handler3, false)

		handleEvt2 := handler2.EXPECT().Handle(evt2)
		handleEvt3 := handler3.EXPECT().Handle(evt3).After(handleEvt2)
		handler1.EXPECT().Handle(evt1).After(handleEvt3)

		engine.Schedule(evt1)
		engine.Schedule(evt2)
		engine.Schedule(evt3)

		Expect(engine.Run()).To(Succeed())
	})

	It("should run same-time events in schedule order", func() {
		handler := NewMockHandler(mockCtrl)
		var prev *gomock.Call
		for i := 0; i < 10; i++ {
			evt := mockEventAt(mockCtrl, 1.0, handler, false)
			call := handler.EXPECT().Handle(evt)
			if prev != nil {
				call.After(prev)
			}
			prev = call
			engine.Schedule(evt)
		}

		Expect(engine.Run()).To(Succeed())
	})

	It("should panic when scheduling in the past", func() {
		handler := NewMockHandler(mockCtrl)
		evt1 := mockEventAt(mockCtrl, 2.0, handler, false)
		evt2 := mockEventAt(mockCtrl, 1.0, handler, false)

		handler.EXPECT().Handle(evt1).Do(func(e Event) {
			Expect(func() { engine.Schedule(evt2) }).To(Panic())
		})

		engine.Schedule(evt1)
		Expect(engine.Run()).To(Succeed())
	})

	It("should stop at the deadline", func() {
		handler := NewMockHandler(mockCtrl)
		evt1 := mockEventAt(mockCtrl, 1.0, handler, false)
		evt2 := mockEventAt(mockCtrl, 3.0, handler, false)

		handler.EXPECT().Handle(evt1)

		engine.Schedule(evt1)
		engine.Schedule(evt2)

		Expect(engine.RunUntil(2.0)).To(Succeed())
		Expect(engine.CurrentTime()).To(Equal(VTimeInSec(1.0)))
		Expect(engine.Pending()).To(Equal(1))

		handler.EXPECT().Handle(evt2)
		Expect(engine.Run()).To(Succeed())
	})

	It("should return handler errors", func() {
		handler := NewMockHandler(mockCtrl)
		evt := mockEventAt(mockCtrl, 1.0, handler, false)
		handler.EXPECT().Handle(evt).Return(errors.New("boom"))

		engine.Schedule(evt)

		Expect(engine.Run()).To(MatchError(ContainSubstring("boom")))
	})

	It("should invoke hooks around events", func() {
		handler := NewMockHandler(mockCtrl)
		hook := NewMockHook(mockCtrl)
		evt := mockEventAt(mockCtrl, 1.0, handler, false)
		engine.AcceptHook(hook)

		before := hook.EXPECT().Func(gomock.Any()).Do(func(ctx HookCtx) {
			Expect(ctx.Pos).To(Equal(HookPosBeforeEvent))
		})
		handling := handler.EXPECT().Handle(evt).After(before)
		hook.EXPECT().Func(gomock.Any()).Do(func(ctx HookCtx) {
			Expect(ctx.Pos).To(Equal(HookPosAfterEvent))
			Expect(ctx.Item).To(BeIdenticalTo(evt))
		}).After(handling)

		engine.Schedule(evt)
		Expect(engine.Run()).To(Succeed())
	})

	It("measure triggering speed", func() {
		experiment := gmeasure.NewExperiment("Serial Engine Triggering Speed")
		AddReportEntry(experiment.Name, experiment)

		handled := 0
		handler := HandlerFunc(func(Event) error {
			handled++
			return nil
		})
		rng := rand.New(rand.NewPCG(1, 2))

		experiment.MeasureDuration("runtime", func() {
			for range 10000 {
				t := VTimeInSec(float64(rng.Uint64()%10) * 0.01)
				engine.Schedule(NewEventBase(t, handler))
			}

			Expect(engine.Run()).To(Succeed())
		})

		Expect(handled).To(Equal(10000))
	})
})
