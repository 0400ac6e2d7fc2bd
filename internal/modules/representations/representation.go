// Package representations expresses ideal circuit fragments as signed
// combinations of noisy operations. A representation carries the
// quasi-probability coefficients, their one-norm and the induced sampling
// distribution, and is the unit of work for the estimation pipeline.
package representations

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/noisyops"
)

// Term is one weighted noisy operation in a basis expansion.
type Term struct {
	Operation noisyops.NoisyOperation
	Coeff     float64
}

// Representation is the decomposition of an ideal fragment over a noisy
// basis: ideal = sum_i Coeff_i * Operation_i. The one-norm and sampling
// distribution are computed once at construction.
type Representation struct {
	ideal circuits.Circuit
	terms []Term
	norm  float64
	probs []float64
}

// New builds a representation of the ideal fragment. Every term must act on
// the same qubits as the fragment itself. Zero-coefficient terms are kept;
// they simply carry no sampling weight.
func New(ideal circuits.Circuit, terms []Term) (*Representation, error) {
	if err := ideal.Validate(); err != nil {
		return nil, err
	}
	if len(ideal.Operations) == 0 {
		return nil, fmt.Errorf("representations: ideal fragment has no operations")
	}
	support := ideal.Qubits()
	r := &Representation{
		ideal: ideal,
		terms: make([]Term, len(terms)),
		probs: make([]float64, len(terms)),
	}
	copy(r.terms, terms)
	for i, term := range r.terms {
		if !sameInts(term.Operation.Qubits(), support) {
			return nil, fmt.Errorf("representations: term %d acts on qubits %v, ideal acts on %v",
				i, term.Operation.Qubits(), support)
		}
		if math.IsNaN(term.Coeff) || math.IsInf(term.Coeff, 0) {
			return nil, fmt.Errorf("representations: term %d has non-finite coefficient", i)
		}
		r.norm += math.Abs(term.Coeff)
	}
	if r.norm > 0 {
		for i, term := range r.terms {
			r.probs[i] = math.Abs(term.Coeff) / r.norm
		}
	}
	return r, nil
}

// Ideal returns the represented fragment.
func (r *Representation) Ideal() circuits.Circuit {
	return r.ideal
}

// Terms returns the expansion terms in construction order.
func (r *Representation) Terms() []Term {
	out := make([]Term, len(r.terms))
	copy(out, r.terms)
	return out
}

// Coeffs returns the quasi-probability coefficients in term order.
func (r *Representation) Coeffs() []float64 {
	out := make([]float64, len(r.terms))
	for i, term := range r.terms {
		out[i] = term.Coeff
	}
	return out
}

// OneNorm returns gamma, the sum of absolute coefficients. Values above one
// measure how much sampling overhead the noise costs.
func (r *Representation) OneNorm() float64 {
	return r.norm
}

// Distribution returns the sampling distribution |coeff_i| / gamma.
func (r *Representation) Distribution() []float64 {
	out := make([]float64, len(r.probs))
	copy(out, r.probs)
	return out
}

// Sample draws one noisy operation according to the distribution, returning
// the operation, the sign of its coefficient and the coefficient itself.
// A nil rng falls back to a time-seeded source.
func (r *Representation) Sample(rng *rand.Rand) (noisyops.NoisyOperation, int, float64, error) {
	if r.norm == 0 || len(r.terms) == 0 {
		return noisyops.NoisyOperation{}, 0, 0, &EmptyRepresentationError{Ideal: r.ideal.String()}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	u := rng.Float64()
	acc := 0.0
	idx := len(r.terms) - 1
	for i, p := range r.probs {
		acc += p
		if u < acc {
			idx = i
			break
		}
	}
	term := r.terms[idx]
	sign := 1
	if term.Coeff < 0 {
		sign = -1
	}
	return term.Operation, sign, term.Coeff, nil
}

// Equal reports whether two representations describe the same expansion of
// the same fragment, ignoring term order. Coefficients are compared within
// tol.
func (r *Representation) Equal(other *Representation, tol float64) bool {
	if other == nil {
		return false
	}
	if !r.ideal.Equal(other.ideal) {
		return false
	}
	if len(r.terms) != len(other.terms) {
		return false
	}
	used := make([]bool, len(other.terms))
	for _, term := range r.terms {
		found := false
		for j, cand := range other.terms {
			if used[j] {
				continue
			}
			if term.Operation.Equal(cand.Operation) && math.Abs(term.Coeff-cand.Coeff) <= tol {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// String renders the expansion, e.g. "H(0) = 1.188*[H(0)] - 0.062*[H(0) X(0)]".
func (r *Representation) String() string {
	var b strings.Builder
	b.WriteString(r.ideal.String())
	b.WriteString(" =")
	if len(r.terms) == 0 {
		b.WriteString(" (empty)")
		return b.String()
	}
	for i, term := range r.terms {
		c := term.Coeff
		switch {
		case i == 0:
			b.WriteString(fmt.Sprintf(" %.3f", c))
		case c < 0:
			b.WriteString(fmt.Sprintf(" - %.3f", -c))
		default:
			b.WriteString(fmt.Sprintf(" + %.3f", c))
		}
		b.WriteString(fmt.Sprintf("*[%s]", term.Operation.Circuit()))
	}
	return b.String()
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
