package purify

import "fmt"

// BellDiagonal holds the weights of a Bell-diagonal state in the order
// Phi+, Psi-, Psi+, Phi-. The first weight is the fidelity.
type BellDiagonal [4]float64

// Werner returns the Werner state of fidelity f.
func Werner(f float64) BellDiagonal {
	e := (1 - f) / 3
	return BellDiagonal{f, e, e, e}
}

// Fidelity returns the Phi+ weight.
func (s BellDiagonal) Fidelity() float64 {
	return s[0]
}

// DEJMPSRound returns the success probability of one DEJMPS round on the
// kept state k and the sacrificed state s, and the state kept on success.
// Unlike the recurrence on Werner states, the output is not twirled, so the
// weights it concentrates on Phi+ carry over to the next round.
func DEJMPSRound(k, s BellDiagonal) (prob float64, kept BellDiagonal) {
	prob = (k[0]+k[1])*(s[0]+s[1]) + (k[2]+k[3])*(s[2]+s[3])
	if prob == 0 {
		return 0, BellDiagonal{}
	}

	kept = BellDiagonal{
		(k[0]*s[0] + k[1]*s[1]) / prob,
		(k[2]*s[3] + k[3]*s[2]) / prob,
		(k[2]*s[2] + k[3]*s[3]) / prob,
		(k[0]*s[1] + k[1]*s[0]) / prob,
	}

	return prob, kept
}

// A Scheme is the two-pair protocol that one purification round runs.
type Scheme int

// Schemes.
const (
	// SchemeBBPSSW twirls both pairs into Werner states before every round.
	SchemeBBPSSW Scheme = iota

	// SchemeDEJMPS keeps the Bell-diagonal weights of the held pair between
	// rounds.
	SchemeDEJMPS
)

func (s Scheme) String() string {
	switch s {
	case SchemeBBPSSW:
		return "bbpssw"
	case SchemeDEJMPS:
		return "dejmps"
	default:
		return "unknown"
	}
}

// ParseScheme converts a scheme name back to a Scheme.
func ParseScheme(name string) (Scheme, error) {
	switch name {
	case "", "bbpssw":
		return SchemeBBPSSW, nil
	case "dejmps":
		return SchemeDEJMPS, nil
	default:
		return 0, fmt.Errorf("unknown purification scheme %q", name)
	}
}

// round evaluates one round of the scheme.
func (s Scheme) round(kept, sacrificed BellDiagonal) (float64, BellDiagonal) {
	if s == SchemeDEJMPS {
		return DEJMPSRound(kept, sacrificed)
	}

	prob, f := Recurrence(kept.Fidelity(), sacrificed.Fidelity())

	return prob, Werner(f)
}
