package purify

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/sim"
)

func sum(s BellDiagonal) float64 {
	return s[0] + s[1] + s[2] + s[3]
}

var _ = Describe("DEJMPS", func() {
	It("should match the recurrence on two Werner states", func() {
		prob, kept := DEJMPSRound(Werner(0.7), Werner(0.7))
		wantProb, wantF := Recurrence(0.7, 0.7)

		Expect(prob).To(BeNumerically("~", wantProb, 1e-12))
		Expect(kept.Fidelity()).To(BeNumerically("~", wantF, 1e-12))
		Expect(sum(kept)).To(BeNumerically("~", 1, 1e-12))
		Expect(kept[3]).To(BeNumerically(">", kept[1]))
	})

	It("should pump faster than twirling between rounds", func() {
		_, first := DEJMPSRound(Werner(0.7), Werner(0.7))

		_, dejmps := SchemeDEJMPS.round(first, Werner(0.7))
		_, bbpssw := SchemeBBPSSW.round(first, Werner(0.7))

		Expect(dejmps.Fidelity()).To(BeNumerically("~", 0.7857, 1e-4))
		Expect(bbpssw.Fidelity()).To(BeNumerically("~", 0.7542, 1e-4))
		Expect(bbpssw).To(Equal(Werner(bbpssw.Fidelity())))
	})

	It("should fail on orthogonal states", func() {
		prob, kept := DEJMPSRound(
			BellDiagonal{1, 0, 0, 0}, BellDiagonal{0, 0, 1, 0})

		Expect(prob).To(BeZero())
		Expect(kept).To(Equal(BellDiagonal{}))
	})

	It("should parse scheme names", func() {
		for _, s := range []Scheme{SchemeBBPSSW, SchemeDEJMPS} {
			parsed, err := ParseScheme(s.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(s))
		}

		s, err := ParseScheme("")
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(Equal(SchemeBBPSSW))

		_, err = ParseScheme("ladder")
		Expect(err).To(MatchError(ContainSubstring("ladder")))
	})

	It("should keep perfect pairs perfect in a purifier", func() {
		engine := sim.NewSerialEngine()
		rt := coop.NewRuntime("Runtime", engine)
		bank := qmem.NewBank("Node.Bank", 4)
		g := MakeGreedyBuilder().
			WithRuntime(rt).
			WithStorage(bank).
			WithIterations(2).
			WithScheme(SchemeDEJMPS).
			Build("Purifier")

		kept := storePair(bank, "p1", 1)
		g.AddPair(kept)
		g.AddPair(storePair(bank, "p2", 1))
		g.AddPair(storePair(bank, "p3", 1))

		Expect(engine.Run()).To(Succeed())
		Expect(g.Completed().Drain()).To(Equal([]qmem.EntanglementRecord{kept}))
		Expect(g.Successes()).To(Equal(uint64(2)))
		Expect(bank.Peek(kept.Slot)[0].Fidelity).To(BeNumerically("~", 1, 1e-12))
	})
})
