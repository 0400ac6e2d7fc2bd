// Package observables maps density matrices to real expectation values.
// The concrete types are Pauli strings and real-weighted sums of them,
// which cover the measurements the estimation pipeline needs.
package observables

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quasar/internal/modules/superop"
)

// Observable yields a real expectation value from a density matrix.
type Observable interface {
	// Expectation returns Tr(M rho) for the observable's matrix M. rho must
	// be square with a power-of-two dimension covering every addressed
	// qubit.
	Expectation(rho *mat.CDense) (float64, error)
	// Support returns the qubits the observable acts on, ascending.
	Support() []int
	fmt.Stringer
}

// PauliString is a tensor product of single-qubit Paulis with a real
// weight. Qubits not listed carry the identity.
type PauliString struct {
	coeff   float64
	letters map[int]byte
}

// NewPauliString builds a weighted Pauli string. letters[i] applies to
// qubits[i]; identity letters are dropped. Valid letters are I, X, Y, Z.
func NewPauliString(coeff float64, letters string, qubits ...int) (PauliString, error) {
	if len(letters) != len(qubits) {
		return PauliString{}, fmt.Errorf("observables: %d letters for %d qubits", len(letters), len(qubits))
	}
	ps := PauliString{coeff: coeff, letters: make(map[int]byte)}
	for i := 0; i < len(letters); i++ {
		l := letters[i]
		if l != 'I' && l != 'X' && l != 'Y' && l != 'Z' {
			return PauliString{}, fmt.Errorf("observables: invalid Pauli letter %q", string(l))
		}
		q := qubits[i]
		if q < 0 {
			return PauliString{}, fmt.Errorf("observables: negative qubit %d", q)
		}
		if _, dup := ps.letters[q]; dup {
			return PauliString{}, fmt.Errorf("observables: qubit %d listed twice", q)
		}
		if l != 'I' {
			ps.letters[q] = l
		}
	}
	return ps, nil
}

// Z returns the single-qubit Z observable with weight one.
func Z(qubit int) PauliString {
	ps, _ := NewPauliString(1, "Z", qubit)
	return ps
}

// X returns the single-qubit X observable with weight one.
func X(qubit int) PauliString {
	ps, _ := NewPauliString(1, "X", qubit)
	return ps
}

// Coeff returns the weight.
func (p PauliString) Coeff() float64 {
	return p.coeff
}

// WithCoeff returns a copy with the given weight.
func (p PauliString) WithCoeff(coeff float64) PauliString {
	out := PauliString{coeff: coeff, letters: make(map[int]byte, len(p.letters))}
	for q, l := range p.letters {
		out.letters[q] = l
	}
	return out
}

// Support implements Observable.
func (p PauliString) Support() []int {
	qubits := make([]int, 0, len(p.letters))
	for q := range p.letters {
		qubits = append(qubits, q)
	}
	sort.Ints(qubits)
	return qubits
}

// Matrix builds the 2^width observable matrix, qubit 0 on the least
// significant index bit. Every addressed qubit must fit in width.
func (p PauliString) Matrix(width int) (*mat.CDense, error) {
	if width < 1 {
		return nil, fmt.Errorf("observables: width must be positive, got %d", width)
	}
	for q := range p.letters {
		if q >= width {
			return nil, fmt.Errorf("observables: qubit %d outside register of width %d", q, width)
		}
	}
	m, _ := superop.PauliMatrix(p.letterFor(width - 1))
	for q := width - 2; q >= 0; q-- {
		f, _ := superop.PauliMatrix(p.letterFor(q))
		m = superop.Kron(m, f)
	}
	if p.coeff != 1 {
		d := 1 << width
		w := complex(p.coeff, 0)
		for i := 0; i < d; i++ {
			for j := 0; j < d; j++ {
				m.Set(i, j, w*m.At(i, j))
			}
		}
	}
	return m, nil
}

func (p PauliString) letterFor(qubit int) byte {
	if l, ok := p.letters[qubit]; ok {
		return l
	}
	return 'I'
}

// Expectation implements Observable.
func (p PauliString) Expectation(rho *mat.CDense) (float64, error) {
	width, err := widthOf(rho)
	if err != nil {
		return 0, err
	}
	m, err := p.Matrix(width)
	if err != nil {
		return 0, err
	}
	tr, err := superop.TraceMul(m, rho)
	if err != nil {
		return 0, err
	}
	if math.Abs(imag(tr)) > 1e-8 {
		return 0, fmt.Errorf("observables: expectation has imaginary part %g; density matrix is not Hermitian", imag(tr))
	}
	return real(tr), nil
}

// String renders e.g. "1.5*Z0 X2".
func (p PauliString) String() string {
	var b strings.Builder
	if p.coeff != 1 {
		b.WriteString(strconv.FormatFloat(p.coeff, 'g', -1, 64))
		b.WriteByte('*')
	}
	support := p.Support()
	if len(support) == 0 {
		b.WriteString("I")
		return b.String()
	}
	for i, q := range support {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(p.letters[q])
		b.WriteString(strconv.Itoa(q))
	}
	return b.String()
}

// PauliSum is a real-weighted sum of Pauli strings.
type PauliSum struct {
	terms []PauliString
}

// NewPauliSum builds an observable from the given strings.
func NewPauliSum(terms ...PauliString) PauliSum {
	s := PauliSum{terms: make([]PauliString, len(terms))}
	copy(s.terms, terms)
	return s
}

// Terms returns the summands.
func (s PauliSum) Terms() []PauliString {
	out := make([]PauliString, len(s.terms))
	copy(out, s.terms)
	return out
}

// Support implements Observable.
func (s PauliSum) Support() []int {
	seen := make(map[int]bool)
	for _, t := range s.terms {
		for _, q := range t.Support() {
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

// Expectation implements Observable.
func (s PauliSum) Expectation(rho *mat.CDense) (float64, error) {
	total := 0.0
	for i, t := range s.terms {
		v, err := t.Expectation(rho)
		if err != nil {
			return 0, fmt.Errorf("observables: term %d: %w", i, err)
		}
		total += v
	}
	return total, nil
}

func (s PauliSum) String() string {
	if len(s.terms) == 0 {
		return "0"
	}
	parts := make([]string, len(s.terms))
	for i, t := range s.terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " + ")
}

func widthOf(rho *mat.CDense) (int, error) {
	r, c := rho.Dims()
	if r != c {
		return 0, fmt.Errorf("observables: density matrix is %dx%d, want square", r, c)
	}
	width := 0
	for d := r; d > 1; d >>= 1 {
		if d&1 != 0 {
			return 0, fmt.Errorf("observables: dimension %d is not a power of two", r)
		}
		width++
	}
	if width == 0 {
		return 0, fmt.Errorf("observables: dimension %d is not a valid register", r)
	}
	return width, nil
}
