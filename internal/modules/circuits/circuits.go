// Package circuits defines gate-level circuit fragments and their ideal
// unitaries and channels. Fragments are small: they describe the pieces a
// noisy basis decomposes, not whole programs.
package circuits

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quasar/internal/modules/superop"
)

// Operation is a single gate application. Qubits are listed in gate order:
// for controlled gates the control comes first. Params carries rotation
// angles for the parametric gates.
type Operation struct {
	Gate   string    `json:"gate"`
	Qubits []int     `json:"qubits"`
	Params []float64 `json:"params,omitempty"`
}

// Validate checks the gate name, qubit arity and parameter count.
func (o Operation) Validate() error {
	spec, ok := gateSpecs[o.Gate]
	if !ok {
		return fmt.Errorf("circuits: unknown gate %q", o.Gate)
	}
	if len(o.Qubits) != spec.qubits {
		return fmt.Errorf("circuits: gate %s takes %d qubit(s), got %d", o.Gate, spec.qubits, len(o.Qubits))
	}
	if len(o.Params) != spec.params {
		return fmt.Errorf("circuits: gate %s takes %d parameter(s), got %d", o.Gate, spec.params, len(o.Params))
	}
	seen := make(map[int]bool, len(o.Qubits))
	for _, q := range o.Qubits {
		if q < 0 {
			return fmt.Errorf("circuits: gate %s addresses negative qubit %d", o.Gate, q)
		}
		if seen[q] {
			return fmt.Errorf("circuits: gate %s addresses qubit %d twice", o.Gate, q)
		}
		seen[q] = true
	}
	return nil
}

// Unitary returns the gate matrix of the operation. The first listed qubit
// addresses the most significant index, matching superop.LiftUnitary.
func (o Operation) Unitary() (*mat.CDense, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return gateSpecs[o.Gate].matrix(o.Params), nil
}

func (o Operation) String() string {
	var b strings.Builder
	b.WriteString(o.Gate)
	b.WriteByte('(')
	for i, q := range o.Qubits {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(q))
	}
	for _, p := range o.Params {
		b.WriteByte(';')
		b.WriteString(strconv.FormatFloat(p, 'g', -1, 64))
	}
	b.WriteByte(')')
	return b.String()
}

// Circuit is an ordered sequence of operations.
type Circuit struct {
	Operations []Operation `json:"operations"`
}

// New builds a circuit from the given operations.
func New(ops ...Operation) Circuit {
	c := Circuit{Operations: make([]Operation, len(ops))}
	copy(c.Operations, ops)
	return c
}

// Append returns a new circuit with the operations added at the end. The
// receiver is not modified.
func (c Circuit) Append(ops ...Operation) Circuit {
	out := Circuit{Operations: make([]Operation, 0, len(c.Operations)+len(ops))}
	out.Operations = append(out.Operations, c.Operations...)
	out.Operations = append(out.Operations, ops...)
	return out
}

// Concat returns a new circuit running c first, then other.
func (c Circuit) Concat(other Circuit) Circuit {
	return c.Append(other.Operations...)
}

// Validate checks every operation.
func (c Circuit) Validate() error {
	for i, op := range c.Operations {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("circuits: operation %d: %w", i, err)
		}
	}
	return nil
}

// Qubits returns the distinct qubits the circuit touches, ascending.
func (c Circuit) Qubits() []int {
	seen := make(map[int]bool)
	for _, op := range c.Operations {
		for _, q := range op.Qubits {
			seen[q] = true
		}
	}
	qubits := make([]int, 0, len(seen))
	for q := range seen {
		qubits = append(qubits, q)
	}
	sort.Ints(qubits)
	return qubits
}

// Width returns the register size needed to run the circuit, i.e. the
// highest addressed qubit plus one.
func (c Circuit) Width() int {
	w := 0
	for _, op := range c.Operations {
		for _, q := range op.Qubits {
			if q+1 > w {
				w = q + 1
			}
		}
	}
	return w
}

// Unitary returns the ideal unitary of the whole fragment, expressed over
// the circuit's distinct qubits: the lowest addressed qubit maps to the
// least significant index bit. An empty circuit yields the 1x1 identity.
func (c Circuit) Unitary() (*mat.CDense, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	qubits := c.Qubits()
	local := make(map[int]int, len(qubits))
	for i, q := range qubits {
		local[q] = i
	}
	u := superop.Identity(1 << len(qubits))
	for _, op := range c.Operations {
		g, err := op.Unitary()
		if err != nil {
			return nil, err
		}
		targets := make([]int, len(op.Qubits))
		for i, q := range op.Qubits {
			targets[i] = local[q]
		}
		lifted, err := superop.LiftUnitary(g, targets, len(qubits))
		if err != nil {
			return nil, err
		}
		next := mat.NewCDense(1<<len(qubits), 1<<len(qubits), nil)
		next.Mul(lifted, u)
		u = next
	}
	return u, nil
}

// Channel returns the superoperator of the fragment's ideal unitary.
func (c Circuit) Channel() (*mat.CDense, error) {
	u, err := c.Unitary()
	if err != nil {
		return nil, err
	}
	return superop.FromUnitary(u), nil
}

// Key returns a stable content hash of the circuit, suitable as a cache or
// lookup key. Operation order is significant.
func (c Circuit) Key() string {
	data, err := json.Marshal(c.Operations)
	if err != nil {
		// Operations marshal unconditionally; keep the method infallible.
		data = []byte(c.String())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two circuits contain the same operations in the
// same order.
func (c Circuit) Equal(other Circuit) bool {
	if len(c.Operations) != len(other.Operations) {
		return false
	}
	for i, op := range c.Operations {
		o := other.Operations[i]
		if op.Gate != o.Gate || len(op.Qubits) != len(o.Qubits) || len(op.Params) != len(o.Params) {
			return false
		}
		for j, q := range op.Qubits {
			if q != o.Qubits[j] {
				return false
			}
		}
		for j, p := range op.Params {
			if p != o.Params[j] {
				return false
			}
		}
	}
	return true
}

func (c Circuit) String() string {
	if len(c.Operations) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(c.Operations))
	for i, op := range c.Operations {
		parts[i] = op.String()
	}
	return strings.Join(parts, " ")
}
