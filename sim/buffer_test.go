package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("BufferImpl", func() {
	var (
		mockCtrl *gomock.Controller
		buf      Buffer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		buf = NewBuffer("Buf", 2)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should allow push and pop", func() {
		Expect(buf.Capacity()).To(Equal(2))
		Expect(buf.CanPush()).To(BeTrue())

		buf.Push(1)
		Expect(buf.CanPush()).To(BeTrue())
		Expect(buf.Size()).To(Equal(1))

		buf.Push(2)
		Expect(buf.CanPush()).To(BeFalse())
		Expect(func() { buf.Push(3) }).To(Panic())

		Expect(buf.Peek()).To(Equal(1))
		Expect(buf.Pop()).To(Equal(1))
		Expect(buf.Pop()).To(Equal(2))
		Expect(buf.Size()).To(Equal(0))
		Expect(buf.Pop()).To(BeNil())
	})

	It("should be unbounded when capacity is zero", func() {
		buf = NewBuffer("Unbounded", 0)
		for i := 0; i < 100; i++ {
			buf.Push(i)
		}
		Expect(buf.CanPush()).To(BeTrue())
		Expect(buf.Size()).To(Equal(100))
	})

	It("should invoke hooks on push and pop", func() {
		hook := NewMockHook(mockCtrl)
		buf.AcceptHook(hook)

		push := hook.EXPECT().Func(gomock.Any()).Do(func(ctx HookCtx) {
			Expect(ctx.Pos).To(Equal(HookPosBufPush))
			Expect(ctx.Item).To(Equal(7))
		})
		hook.EXPECT().Func(gomock.Any()).Do(func(ctx HookCtx) {
			Expect(ctx.Pos).To(Equal(HookPosBufPop))
			Expect(ctx.Item).To(Equal(7))
		}).After(push)

		buf.Push(7)
		buf.Pop()
	})

	It("should clear", func() {
		buf.Push(2)
		buf.Clear()

		Expect(buf.Size()).To(Equal(0))
		Expect(buf.Peek()).To(BeNil())
	})

	It("should reject invalid names", func() {
		Expect(func() { NewBuffer("buf", 1) }).To(Panic())
		Expect(func() { NewBuffer("A..B", 1) }).To(Panic())
		Expect(func() { NewBuffer("Node[1", 1) }).To(Panic())
	})
})
