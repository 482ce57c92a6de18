package phys

import (
	"math/rand/v2"

	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/sim"
)

// Measurement is the outcome of a Bell-state measurement on two halves.
type Measurement struct {
	CX bool
	CZ bool

	// Fidelity is the fidelity of the long-distance pair that the swap
	// produces, assuming Werner states.
	Fidelity float64
}

// A Swapper performs the fixed two-qubit measurement that a relay uses to
// join two pairs.
type Swapper struct {
	rng      *rand.Rand
	duration sim.VTimeInSec
}

// NewSwapper creates a Swapper. The duration is how long a swap occupies the
// relay.
func NewSwapper(seed uint64, duration sim.VTimeInSec) *Swapper {
	return &Swapper{
		rng:      rand.New(rand.NewPCG(seed, 0x5851f42d4c957f2d)),
		duration: duration,
	}
}

// Duration returns how long a swap takes.
func (s *Swapper) Duration() sim.VTimeInSec {
	return s.duration
}

// Measure swaps the two halves and returns the correction bits. A pending
// Pauli frame on either half is folded into the bits.
func (s *Swapper) Measure(up, down qmem.Handle) Measurement {
	return Measurement{
		CX:       (s.rng.IntN(2) == 1) != up.X != down.X,
		CZ:       (s.rng.IntN(2) == 1) != up.Z != down.Z,
		Fidelity: SwapFidelity(up.Fidelity, down.Fidelity),
	}
}

// SwapFidelity returns the fidelity of the pair produced by swapping two
// Werner pairs.
func SwapFidelity(f1, f2 float64) float64 {
	return f1*f2 + (1-f1)*(1-f2)/3
}
