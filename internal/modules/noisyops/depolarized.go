package noisyops

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/superop"
)

var pauliLetters = [4]byte{'I', 'X', 'Y', 'Z'}

// Depolarized builds a NoisyOperation whose channel models executing the
// fragment on a backend that follows every gate with depolarizing noise of
// strength p on that gate's qubits. The channel is expressed over the
// fragment's distinct qubits, lowest addressed qubit on the least
// significant index bit.
func Depolarized(c circuits.Circuit, p float64) (NoisyOperation, error) {
	if p < 0 || p > 1 {
		return NoisyOperation{}, fmt.Errorf("noisyops: depolarizing strength %v outside [0, 1]", p)
	}
	if err := c.Validate(); err != nil {
		return NoisyOperation{}, err
	}
	if len(c.Operations) == 0 {
		return NoisyOperation{}, fmt.Errorf("noisyops: fragment has no operations")
	}

	qubits := c.Qubits()
	local := make(map[int]int, len(qubits))
	for i, q := range qubits {
		local[q] = i
	}

	type step struct {
		s       *mat.CDense
		targets []int
	}
	steps := make([]step, 0, 2*len(c.Operations))
	for _, op := range c.Operations {
		g, err := op.Unitary()
		if err != nil {
			return NoisyOperation{}, err
		}
		targets := make([]int, len(op.Qubits))
		for i, q := range op.Qubits {
			targets[i] = local[q]
		}
		steps = append(steps, step{s: superop.FromUnitary(g), targets: targets})
		if p > 0 {
			steps = append(steps, step{s: superop.Depolarizing(p, len(op.Qubits)), targets: targets})
		}
	}

	// Streaming the j-th basis vector of the vectorized space through every
	// step yields the j-th column of the composed channel.
	dim := superop.Dim(len(qubits))
	channel := mat.NewCDense(dim, dim, nil)
	for j := 0; j < dim; j++ {
		state := make([]complex128, dim)
		state[j] = 1
		for _, st := range steps {
			var err error
			state, err = superop.ApplyLocal(st.s, st.targets, len(qubits), state)
			if err != nil {
				return NoisyOperation{}, err
			}
		}
		for i := 0; i < dim; i++ {
			channel.Set(i, j, state[i])
		}
	}
	return NewOperation(c, channel)
}

// DepolarizingBasis enumerates the fragment followed by every Pauli string
// over its support, each element built with Depolarized so its channel
// reflects per-gate noise, corrections included. The identity string comes
// first; the letter on the lowest qubit varies fastest.
func DepolarizingBasis(ideal circuits.Circuit, p float64) (NoisyBasis, error) {
	base, err := Depolarized(ideal, p)
	if err != nil {
		return NoisyBasis{}, err
	}
	support := ideal.Qubits()
	k := len(support)
	count := 1 << (2 * k)
	ops := make([]NoisyOperation, 0, count)
	ops = append(ops, base)
	letters := make([]byte, k)
	for t := 1; t < count; t++ {
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
		elem, err := Depolarized(circuit, p)
		if err != nil {
			return NoisyBasis{}, err
		}
		ops = append(ops, elem)
	}
	return NewBasis(ops...)
}
