package representations

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/noisyops"
	"github.com/aristath/quasar/internal/modules/superop"
)

var pauliLetters = [4]byte{'I', 'X', 'Y', 'Z'}

// RepresentGlobalDepolarizing builds the closed-form representation of an
// ideal fragment whose execution is followed by global depolarizing noise
// of strength p on its qubit support. The terms are the fragment itself and
// the fragment followed by every non-identity Pauli string, with
// coefficients
//
//	coeff_I = (d^2 - p) / ((1-p) d^2)
//	coeff_P = -p / ((1-p) d^2)
//
// where d is the Hilbert dimension of the support. No LP run is needed.
func RepresentGlobalDepolarizing(ideal circuits.Circuit, p float64) (*Representation, error) {
	k, err := depolarizingSupport(ideal, p)
	if err != nil {
		return nil, err
	}
	d2 := float64(int(1) << (2 * k))
	coeffIdent := (d2 - p) / ((1 - p) * d2)
	coeffPauli := -p / ((1 - p) * d2)
	noise := depolarizingChannel(p, k, true)
	return pauliTermRepresentation(ideal, k, noise, func(letters []byte) float64 {
		if allIdentity(letters) {
			return coeffIdent
		}
		return coeffPauli
	})
}

// RepresentLocalDepolarizing builds the closed-form representation of an
// ideal fragment whose execution is followed by independent single-qubit
// depolarizing noise of strength p on each support qubit. Coefficients are
// products of the single-qubit factors
//
//	factor_I = (4 - p) / (4 (1-p))
//	factor_P = -p / (4 (1-p))
//
// Only one- and two-qubit fragments are supported.
func RepresentLocalDepolarizing(ideal circuits.Circuit, p float64) (*Representation, error) {
	k, err := depolarizingSupport(ideal, p)
	if err != nil {
		return nil, err
	}
	if k > 2 {
		return nil, fmt.Errorf("representations: local depolarizing supports 1- or 2-qubit fragments, got %d qubits", k)
	}
	factorIdent := (4 - p) / (4 * (1 - p))
	factorPauli := -p / (4 * (1 - p))
	noise := depolarizingChannel(p, k, false)
	return pauliTermRepresentation(ideal, k, noise, func(letters []byte) float64 {
		coeff := 1.0
		for _, l := range letters {
			if l == 'I' {
				coeff *= factorIdent
			} else {
				coeff *= factorPauli
			}
		}
		return coeff
	})
}

func depolarizingSupport(ideal circuits.Circuit, p float64) (int, error) {
	if err := ideal.Validate(); err != nil {
		return 0, err
	}
	if len(ideal.Operations) == 0 {
		return 0, fmt.Errorf("representations: ideal fragment has no operations")
	}
	if p < 0 || p >= 1 || math.IsNaN(p) {
		return 0, fmt.Errorf("representations: noise level must be in [0, 1), got %g", p)
	}
	return len(ideal.Qubits()), nil
}

// depolarizingChannel returns the noise superoperator on k qubits: the
// global channel, or the tensor product of k single-qubit channels.
func depolarizingChannel(p float64, k int, global bool) *mat.CDense {
	if global || k == 1 {
		return superop.Depolarizing(p, k)
	}
	noise := superop.Depolarizing(p, 1)
	for i := 1; i < k; i++ {
		next, err := superop.Tensor(superop.Depolarizing(p, 1), noise)
		if err != nil {
			// Both operands are well-formed by construction.
			panic(err)
		}
		noise = next
	}
	return noise
}

// pauliTermRepresentation enumerates all Pauli strings over the fragment's
// support, attaching to each the circuit "ideal then corrections" and the
// channel "noise after corrected ideal". The identity string comes first;
// the letter on the lowest qubit varies fastest.
func pauliTermRepresentation(ideal circuits.Circuit, k int, noise *mat.CDense, coeffFor func([]byte) float64) (*Representation, error) {
	support := ideal.Qubits()
	idealChannel, err := ideal.Channel()
	if err != nil {
		return nil, err
	}

	count := 1 << (2 * k)
	terms := make([]Term, 0, count)
	letters := make([]byte, k)
	for t := 0; t < count; t++ {
		for j := 0; j < k; j++ {
			letters[j] = pauliLetters[(t>>(2*j))&3]
		}

		circuit := ideal
		for j, l := range letters {
			if l == 'I' {
				continue
			}
			op, _ := circuits.PauliFor(l, support[j])
			circuit = circuit.Append(op)
		}

		channel, err := termChannel(idealChannel, letters, noise)
		if err != nil {
			return nil, err
		}
		op, err := noisyops.NewOperation(circuit, channel)
		if err != nil {
			return nil, err
		}
		terms = append(terms, Term{Operation: op, Coeff: coeffFor(letters)})
	}
	return New(ideal, terms)
}

// termChannel computes noise * pauli * ideal over the local support space.
func termChannel(idealChannel *mat.CDense, letters []byte, noise *mat.CDense) (*mat.CDense, error) {
	pauli := pauliUnitary(letters)
	corrected, err := superop.Compose(superop.FromUnitary(pauli), idealChannel)
	if err != nil {
		return nil, err
	}
	return superop.Compose(noise, corrected)
}

// pauliUnitary builds the unitary of a Pauli string, letters indexed by
// local qubit with qubit 0 on the least significant bit.
func pauliUnitary(letters []byte) *mat.CDense {
	u, _ := superop.PauliMatrix(letters[len(letters)-1])
	for j := len(letters) - 2; j >= 0; j-- {
		p, _ := superop.PauliMatrix(letters[j])
		u = superop.Kron(u, p)
	}
	return u
}

func allIdentity(letters []byte) bool {
	for _, l := range letters {
		if l != 'I' {
			return false
		}
	}
	return true
}
