package coop_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/sim"
)

type logEntry struct {
	time  sim.VTimeInSec
	label string
}

var _ = Describe("Runtime", func() {
	var (
		engine *sim.SerialEngine
		rt     *coop.Runtime
		trace  []logEntry
	)

	record := func(label string) {
		trace = append(trace, logEntry{time: rt.Now(), label: label})
	}

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		rt = coop.NewRuntime("Runtime", engine)
		trace = nil
	})

	It("should resume a process when a signal is emitted", func() {
		sig := coop.NewSignal("Sig")

		p := rt.Start("Waiter", func() coop.Step {
			return coop.Await(sig, func(f coop.Fired) coop.Step {
				record("woken")
				Expect(f.Has(sig)).To(BeTrue())
				return coop.Return(f.Value(sig))
			})
		})
		rt.Start("Emitter", func() coop.Step {
			return coop.Sleep(2, func() coop.Step {
				sig.Emit("hello")
				return coop.Return(nil)
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(trace).To(Equal([]logEntry{{2, "woken"}}))
		Expect(p.Ended()).To(BeTrue())
		Expect(p.Result()).To(Equal("hello"))
		Expect(rt.NumLive()).To(Equal(0))
	})

	It("should lose signal emissions nobody waits for", func() {
		sig := coop.NewSignal("Sig")
		sig.Emit(nil)

		rt.Start("Waiter", func() coop.Step {
			timeout := coop.Timeout(5)
			return coop.Await(coop.Or(sig, timeout), func(f coop.Fired) coop.Step {
				Expect(f.Has(sig)).To(BeFalse())
				Expect(f.Has(timeout)).To(BeTrue())
				record("timeout")
				return coop.Return(nil)
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(trace).To(Equal([]logEntry{{5, "timeout"}}))
	})

	It("should fire immediately on a non-empty inbox", func() {
		inbox := coop.NewInbox[int]("Inbox")
		inbox.Put(1)
		inbox.Put(2)

		rt.Start("Reader", func() coop.Step {
			return coop.Await(inbox, func(f coop.Fired) coop.Step {
				record("read")
				Expect(inbox.Drain()).To(Equal([]int{1, 2}))
				return coop.Return(nil)
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(trace).To(Equal([]logEntry{{0, "read"}}))
		Expect(inbox.Len()).To(Equal(0))
	})

	It("should keep inbox items until they are taken", func() {
		inbox := coop.NewInbox[string]("Inbox")

		rt.Start("Writer", func() coop.Step {
			return coop.Sleep(1, func() coop.Step {
				inbox.Put("a")
				inbox.Put("b")
				return coop.Return(nil)
			})
		})
		rt.Start("Reader", func() coop.Step {
			return coop.Loop(func() coop.Step {
				return coop.Await(inbox, func(coop.Fired) coop.Step {
					item, _ := inbox.Pop()
					record(item)
					if item == "b" {
						return coop.Break(nil)
					}
					return coop.Continue()
				})
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(trace).To(Equal([]logEntry{{1, "a"}, {1, "b"}}))
	})

	It("should fire a passed deadline immediately", func() {
		rt.Start("Sleeper", func() coop.Step {
			return coop.Sleep(3, func() coop.Step {
				return coop.Await(coop.Deadline(1), func(coop.Fired) coop.Step {
					record("deadline")
					return coop.Return(nil)
				})
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(trace).To(Equal([]logEntry{{3, "deadline"}}))
	})

	It("should measure a relative timer from the time of waiting", func() {
		timer := coop.Timeout(2)
		rt.Start("Sleeper", func() coop.Step {
			return coop.Await(timer, func(coop.Fired) coop.Step {
				record("first")
				return coop.Await(timer, func(coop.Fired) coop.Step {
					record("second")
					return coop.Return(nil)
				})
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(trace).To(Equal([]logEntry{{2, "first"}, {4, "second"}}))
	})

	It("should wait for all terms of And", func() {
		a := coop.NewLatch()
		b := coop.NewSignal("B")

		rt.Start("Waiter", func() coop.Step {
			return coop.Await(coop.And(a, b), func(f coop.Fired) coop.Step {
				Expect(f.Has(a)).To(BeTrue())
				Expect(f.Has(b)).To(BeTrue())
				record("both")
				return coop.Return(nil)
			})
		})
		rt.Start("Setter", func() coop.Step {
			return coop.Sleep(1, func() coop.Step {
				a.Set(nil)
				return coop.Sleep(1, func() coop.Step {
					b.Emit(nil)
					return coop.Return(nil)
				})
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(trace).To(Equal([]logEntry{{2, "both"}}))
	})

	It("should resume same-time waiters in registration order", func() {
		sig := coop.NewSignal("Sig")
		for _, name := range []string{"A", "B", "C"} {
			rt.Start(name, func() coop.Step {
				return coop.Await(sig, func(coop.Fired) coop.Step {
					record(name)
					return coop.Return(nil)
				})
			})
		}
		rt.Start("Emitter", func() coop.Step {
			return coop.Sleep(1, func() coop.Step {
				sig.Emit(nil)
				return coop.Return(nil)
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(trace).To(Equal([]logEntry{{1, "A"}, {1, "B"}, {1, "C"}}))
	})

	It("should not cancel a disarmed timer for other waiters", func() {
		sig := coop.NewSignal("Sig")
		timer := coop.Deadline(10)

		rt.Start("Early", func() coop.Step {
			return coop.Await(coop.Or(sig, timer), func(coop.Fired) coop.Step {
				record("early")
				return coop.Return(nil)
			})
		})
		rt.Start("Late", func() coop.Step {
			return coop.Await(timer, func(coop.Fired) coop.Step {
				record("late")
				return coop.Return(nil)
			})
		})
		rt.Start("Emitter", func() coop.Step {
			return coop.Sleep(1, func() coop.Step {
				sig.Emit(nil)
				return coop.Return(nil)
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(trace).To(Equal([]logEntry{{1, "early"}, {10, "late"}}))
	})

	It("should run many suspended loop iterations", func() {
		n := 0
		p := rt.Start("Counter", func() coop.Step {
			return coop.Loop(func() coop.Step {
				return coop.Sleep(sim.Microsecond, func() coop.Step {
					n++
					if n == 20000 {
						return coop.Break(n)
					}
					return coop.Continue()
				})
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(p.Result()).To(Equal(20000))
	})

	It("should run loop iterations that do not suspend in place", func() {
		n := 0
		p := rt.Start("Counter", func() coop.Step {
			return coop.Loop(func() coop.Step {
				n++
				if n == 100000 {
					return coop.Break("done")
				}
				return coop.Continue()
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(p.Result()).To(Equal("done"))
	})

	It("should chain steps with Then", func() {
		p := rt.Start("Chain", func() coop.Step {
			first := coop.Sleep(1, func() coop.Step { return coop.Return(20) })
			return coop.Then(first, func(v any) coop.Step {
				return coop.Sleep(1, func() coop.Step { return coop.Return(v.(int) + 22) })
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(p.Result()).To(Equal(42))
		Expect(engine.CurrentTime()).To(Equal(sim.VTimeInSec(2)))
	})

	It("should stop a suspended process", func() {
		sig := coop.NewSignal("Sig")
		p := rt.Start("Victim", func() coop.Step {
			return coop.Await(sig, func(coop.Fired) coop.Step {
				record("resumed")
				return coop.Return(nil)
			})
		})
		rt.Start("Killer", func() coop.Step {
			return coop.Sleep(1, func() coop.Step {
				p.Stop()
				sig.Emit(nil)
				return coop.Return(nil)
			})
		})
		watcher := rt.Start("Watcher", func() coop.Step {
			return coop.Await(p.Finished(), func(coop.Fired) coop.Step {
				return coop.Return(rt.Now())
			})
		})

		Expect(engine.Run()).To(Succeed())
		Expect(trace).To(BeEmpty())
		Expect(p.Ended()).To(BeTrue())
		Expect(watcher.Result()).To(Equal(sim.VTimeInSec(1)))
	})

	It("should invoke process hooks", func() {
		var positions []*sim.HookPos
		rt.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
			positions = append(positions, ctx.Pos)
		}))

		rt.Start("Short", func() coop.Step {
			return coop.Sleep(1, func() coop.Step { return coop.Return(nil) })
		})

		Expect(engine.Run()).To(Succeed())
		Expect(positions).To(Equal([]*sim.HookPos{
			coop.HookPosProcessStart, coop.HookPosProcessResume, coop.HookPosProcessEnd,
		}))
	})
})
