// Package noisyops pairs circuit fragments with the channel matrices they
// implement on real hardware. A NoisyBasis collects such operations so that
// ideal gates can be decomposed over what the device can actually run.
package noisyops

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/superop"
)

// NoisyOperation is a circuit fragment together with the superoperator it
// effects when executed. The channel may be absent when the device action
// is unknown; such operations can still be sampled and executed, but not
// used to solve for decompositions.
type NoisyOperation struct {
	circuit circuits.Circuit
	channel *mat.CDense
}

// NewOperation builds a NoisyOperation. channel may be nil. When present it
// must be square with dimension 4^k for the fragment's k distinct qubits,
// expressed with the lowest addressed qubit on the least significant index
// bit. The matrix is retained, not copied.
func NewOperation(c circuits.Circuit, channel *mat.CDense) (NoisyOperation, error) {
	if err := c.Validate(); err != nil {
		return NoisyOperation{}, err
	}
	if len(c.Operations) == 0 {
		return NoisyOperation{}, fmt.Errorf("noisyops: fragment has no operations")
	}
	if channel != nil {
		r, cols := channel.Dims()
		if r != cols {
			return NoisyOperation{}, &DimensionError{Qubits: len(c.Qubits()), Want: superop.Dim(len(c.Qubits())), GotRows: r, GotCols: cols}
		}
		if want := superop.Dim(len(c.Qubits())); r != want {
			return NoisyOperation{}, &DimensionError{Qubits: len(c.Qubits()), Want: want, GotRows: r, GotCols: cols}
		}
	}
	return NoisyOperation{circuit: c, channel: channel}, nil
}

// Ideal builds a NoisyOperation whose channel is the fragment's own ideal
// unitary channel.
func Ideal(c circuits.Circuit) (NoisyOperation, error) {
	ch, err := c.Channel()
	if err != nil {
		return NoisyOperation{}, err
	}
	return NewOperation(c, ch)
}

// Circuit returns the fragment.
func (op NoisyOperation) Circuit() circuits.Circuit {
	return op.circuit
}

// Channel returns the stored channel matrix. ok is false when the channel
// is unknown. The returned matrix must not be modified.
func (op NoisyOperation) Channel() (*mat.CDense, bool) {
	if op.channel == nil {
		return nil, false
	}
	return op.channel, true
}

// Qubits returns the distinct qubits the fragment acts on, ascending.
func (op NoisyOperation) Qubits() []int {
	return op.circuit.Qubits()
}

// NumQubits returns the size of the fragment's qubit support.
func (op NoisyOperation) NumQubits() int {
	return len(op.circuit.Qubits())
}

// Equal reports whether two operations have the same fragment and, when
// both carry channels, channels agreeing within a small tolerance.
func (op NoisyOperation) Equal(other NoisyOperation) bool {
	if !op.circuit.Equal(other.circuit) {
		return false
	}
	if (op.channel == nil) != (other.channel == nil) {
		return false
	}
	if op.channel == nil {
		return true
	}
	return superop.EqualApprox(op.channel, other.channel, 1e-9)
}

// Tensor combines two operations acting on disjoint, non-interleaved qubit
// ranges into one operation on the union. The circuits are concatenated and
// the channels tensored; if either channel is unknown the result's channel
// is unknown too.
func (op NoisyOperation) Tensor(other NoisyOperation) (NoisyOperation, error) {
	qa, qb := op.Qubits(), other.Qubits()
	if len(qa) == 0 || len(qb) == 0 {
		return NoisyOperation{}, fmt.Errorf("noisyops: cannot tensor an empty fragment")
	}
	lo, hi := op, other
	if qa[0] > qb[0] {
		lo, hi = other, op
	}
	loQ, hiQ := lo.Qubits(), hi.Qubits()
	if loQ[len(loQ)-1] >= hiQ[0] {
		return NoisyOperation{}, fmt.Errorf("noisyops: qubit supports %v and %v overlap or interleave", qa, qb)
	}
	combined := lo.circuit.Concat(hi.circuit)
	var channel *mat.CDense
	if lo.channel != nil && hi.channel != nil {
		// The higher qubits occupy the more significant index bits.
		var err error
		channel, err = superop.Tensor(hi.channel, lo.channel)
		if err != nil {
			return NoisyOperation{}, err
		}
	}
	return NewOperation(combined, channel)
}

// String renders the fragment and whether a channel is attached.
func (op NoisyOperation) String() string {
	if op.channel == nil {
		return fmt.Sprintf("%s (no channel)", op.circuit)
	}
	return op.circuit.String()
}

// NoisyBasis is an ordered collection of distinct noisy operations sharing
// one qubit support.
type NoisyBasis struct {
	elements []NoisyOperation
	qubits   []int
}

// NewBasis builds a basis from the given operations. Duplicates (by Equal)
// are dropped, first occurrence wins. All elements must act on the same
// qubits.
func NewBasis(ops ...NoisyOperation) (NoisyBasis, error) {
	b := NoisyBasis{}
	if err := b.Add(ops...); err != nil {
		return NoisyBasis{}, err
	}
	return b, nil
}

// Add appends operations to the basis, skipping duplicates.
func (b *NoisyBasis) Add(ops ...NoisyOperation) error {
	for _, op := range ops {
		if len(op.circuit.Operations) == 0 {
			return fmt.Errorf("noisyops: basis element has no operations")
		}
		if b.qubits == nil {
			b.qubits = op.Qubits()
		} else if !sameInts(b.qubits, op.Qubits()) {
			return fmt.Errorf("noisyops: basis acts on qubits %v, element acts on %v", b.qubits, op.Qubits())
		}
		dup := false
		for _, have := range b.elements {
			if have.Equal(op) {
				dup = true
				break
			}
		}
		if !dup {
			b.elements = append(b.elements, op)
		}
	}
	return nil
}

// Elements returns the basis operations in insertion order.
func (b NoisyBasis) Elements() []NoisyOperation {
	out := make([]NoisyOperation, len(b.elements))
	copy(out, b.elements)
	return out
}

// Len returns the number of distinct operations in the basis.
func (b NoisyBasis) Len() int {
	return len(b.elements)
}

// Qubits returns the shared qubit support, ascending.
func (b NoisyBasis) Qubits() []int {
	out := make([]int, len(b.qubits))
	copy(out, b.qubits)
	return out
}

// Combine returns the product basis of two bases on disjoint qubit ranges:
// every pairing of an element of b with an element of other, tensored.
func (b NoisyBasis) Combine(other NoisyBasis) (NoisyBasis, error) {
	if b.Len() == 0 || other.Len() == 0 {
		return NoisyBasis{}, fmt.Errorf("noisyops: cannot combine an empty basis")
	}
	combined := NoisyBasis{}
	for _, ea := range b.elements {
		for _, eb := range other.elements {
			op, err := ea.Tensor(eb)
			if err != nil {
				return NoisyBasis{}, err
			}
			if err := combined.Add(op); err != nil {
				return NoisyBasis{}, err
			}
		}
	}
	return combined, nil
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
