// Package superop provides channel-matrix (superoperator) algebra over
// vectorized density matrices.
//
// All superoperators act on row-major vectorizations: for a density matrix
// rho of Hilbert dimension d, vec(rho)[i*d+j] = rho[i,j]. A channel on n
// qubits is a 4^n x 4^n complex matrix. Qubit indexing is little-endian:
// qubit q corresponds to bit q of a basis-state index.
package superop

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// HilbertDim returns 2^n, the state-space dimension of n qubits.
func HilbertDim(nQubits int) int {
	return 1 << nQubits
}

// Dim returns 4^n, the superoperator dimension for n qubits.
func Dim(nQubits int) int {
	return 1 << (2 * nQubits)
}

// QubitCount returns the qubit count n such that dim == 4^n.
// The second return value is false when dim is not a power of four.
func QubitCount(dim int) (int, bool) {
	if dim < 1 {
		return 0, false
	}
	n := 0
	for d := dim; d > 1; d >>= 2 {
		if d&3 != 0 {
			return 0, false
		}
		n++
	}
	return n, true
}

// Identity returns the dim x dim identity matrix.
func Identity(dim int) *mat.CDense {
	m := mat.NewCDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// PauliMatrix returns the 2x2 matrix of the Pauli named by letter
// ('I', 'X', 'Y' or 'Z'). ok is false for any other letter.
func PauliMatrix(letter byte) (*mat.CDense, bool) {
	switch letter {
	case 'I':
		return mat.NewCDense(2, 2, []complex128{1, 0, 0, 1}), true
	case 'X':
		return mat.NewCDense(2, 2, []complex128{0, 1, 1, 0}), true
	case 'Y':
		return mat.NewCDense(2, 2, []complex128{0, complex(0, -1), complex(0, 1), 0}), true
	case 'Z':
		return mat.NewCDense(2, 2, []complex128{1, 0, 0, -1}), true
	}
	return nil, false
}

// Kron returns the Kronecker product a (x) b. The first factor acts on the
// more significant part of the joint index, so for little-endian qubit
// ordering Kron(u1, u0) places u1 on the higher qubit.
func Kron(a, b *mat.CDense) *mat.CDense {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	out := mat.NewCDense(ra*rb, ca*cb, nil)
	for ia := 0; ia < ra; ia++ {
		for ja := 0; ja < ca; ja++ {
			va := a.At(ia, ja)
			if va == 0 {
				continue
			}
			for ib := 0; ib < rb; ib++ {
				for jb := 0; jb < cb; jb++ {
					out.Set(ia*rb+ib, ja*cb+jb, va*b.At(ib, jb))
				}
			}
		}
	}
	return out
}

// FromUnitary returns the superoperator of the unitary channel
// rho -> U rho U^dagger. In the row-major vec convention this is
// S[(i,j),(k,l)] = U[i,k] * conj(U[j,l]).
func FromUnitary(u *mat.CDense) *mat.CDense {
	d, _ := u.Dims()
	s := mat.NewCDense(d*d, d*d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			row := i*d + j
			for k := 0; k < d; k++ {
				uik := u.At(i, k)
				if uik == 0 {
					continue
				}
				for l := 0; l < d; l++ {
					v := u.At(j, l)
					if v == 0 {
						continue
					}
					s.Set(row, k*d+l, uik*complex(real(v), -imag(v)))
				}
			}
		}
	}
	return s
}

// Compose returns the superoperator of "inner, then outer", i.e. the matrix
// product outer * inner. Dimensions must agree.
func Compose(outer, inner *mat.CDense) (*mat.CDense, error) {
	ro, co := outer.Dims()
	ri, ci := inner.Dims()
	if co != ri {
		return nil, fmt.Errorf("superop: cannot compose %dx%d with %dx%d", ro, co, ri, ci)
	}
	out := mat.NewCDense(ro, ci, nil)
	out.Mul(outer, inner)
	return out, nil
}

// Tensor returns the superoperator of the tensor product of two independent
// channels. The first factor acts on the more significant qubits of the
// joint register. Note this is not a plain Kronecker product of the two
// superoperators: the row-major vec convention interleaves row and column
// indices of the joint density matrix.
func Tensor(a, b *mat.CDense) (*mat.CDense, error) {
	da, err := hilbertDimOf(a)
	if err != nil {
		return nil, err
	}
	db, err := hilbertDimOf(b)
	if err != nil {
		return nil, err
	}
	d := da * db
	out := mat.NewCDense(d*d, d*d, nil)
	for i1 := 0; i1 < da; i1++ {
		for j1 := 0; j1 < da; j1++ {
			for k1 := 0; k1 < da; k1++ {
				for l1 := 0; l1 < da; l1++ {
					va := a.At(i1*da+j1, k1*da+l1)
					if va == 0 {
						continue
					}
					for i2 := 0; i2 < db; i2++ {
						for j2 := 0; j2 < db; j2++ {
							row := (i1*db+i2)*d + (j1*db + j2)
							for k2 := 0; k2 < db; k2++ {
								for l2 := 0; l2 < db; l2++ {
									vb := b.At(i2*db+j2, k2*db+l2)
									if vb == 0 {
										continue
									}
									col := (k1*db+k2)*d + (l1*db + l2)
									out.Set(row, col, out.At(row, col)+va*vb)
								}
							}
						}
					}
				}
			}
		}
	}
	return out, nil
}

// Depolarizing returns the superoperator of the global depolarizing channel
// rho -> (1-p) rho + p I/d on nQubits qubits.
func Depolarizing(p float64, nQubits int) *mat.CDense {
	d := HilbertDim(nQubits)
	dim := d * d
	s := mat.NewCDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		s.Set(i, i, complex(1-p, 0))
	}
	// The replacement term maps vec(rho) to vec(I/d * Tr rho): every
	// diagonal input entry (k,k) contributes p/d to every diagonal output
	// entry (i,i).
	w := complex(p/float64(d), 0)
	for i := 0; i < d; i++ {
		row := i*d + i
		for k := 0; k < d; k++ {
			col := k*d + k
			s.Set(row, col, s.At(row, col)+w)
		}
	}
	return s
}

// LiftUnitary embeds a unitary acting on the listed target qubits into the
// full nQubits register, identity elsewhere. targets[0] addresses the most
// significant index of u, matching the gate-matrix convention of the
// circuits package.
func LiftUnitary(u *mat.CDense, targets []int, nQubits int) (*mat.CDense, error) {
	k := len(targets)
	dt := 1 << k
	if r, c := u.Dims(); r != dt || c != dt {
		return nil, fmt.Errorf("superop: unitary is %dx%d, want %dx%d for %d target qubits", r, c, dt, dt, k)
	}
	for _, q := range targets {
		if q < 0 || q >= nQubits {
			return nil, fmt.Errorf("superop: target qubit %d outside register of %d qubits", q, nQubits)
		}
	}
	d := HilbertDim(nQubits)
	out := mat.NewCDense(d, d, nil)
	for col := 0; col < d; col++ {
		tIn := extractBits(col, targets)
		rest := col
		for tOut := 0; tOut < dt; tOut++ {
			v := u.At(tOut, tIn)
			if v == 0 {
				continue
			}
			out.Set(insertBits(rest, tOut, targets), col, v)
		}
	}
	return out, nil
}

// ApplyLocal applies a channel acting on the listed target qubits to the
// row-major vectorization of an nQubits density matrix, returning a new
// state slice. The channel dimension must be 4^len(targets).
func ApplyLocal(s *mat.CDense, targets []int, nQubits int, state []complex128) ([]complex128, error) {
	k := len(targets)
	dt := 1 << k
	if r, c := s.Dims(); r != dt*dt || c != dt*dt {
		return nil, fmt.Errorf("superop: channel is %dx%d, want %dx%d for %d target qubits", r, c, dt*dt, dt*dt, k)
	}
	d := HilbertDim(nQubits)
	if len(state) != d*d {
		return nil, fmt.Errorf("superop: state has %d entries, want %d", len(state), d*d)
	}
	out := make([]complex128, d*d)
	for i := 0; i < d; i++ {
		ti := extractBits(i, targets)
		for j := 0; j < d; j++ {
			tj := extractBits(j, targets)
			row := ti*dt + tj
			var acc complex128
			for ki := 0; ki < dt; ki++ {
				src := insertBits(i, ki, targets)
				for kj := 0; kj < dt; kj++ {
					v := s.At(row, ki*dt+kj)
					if v == 0 {
						continue
					}
					acc += v * state[src*d+insertBits(j, kj, targets)]
				}
			}
			out[i*d+j] = acc
		}
	}
	return out, nil
}

// EqualApprox reports whether two complex matrices agree entrywise within tol.
func EqualApprox(a, b *mat.CDense, tol float64) bool {
	return mat.CEqualApprox(a, b, tol)
}

// TraceMul returns Tr(a * b) without forming the product.
func TraceMul(a, b *mat.CDense) (complex128, error) {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ca != rb || ra != cb {
		return 0, fmt.Errorf("superop: trace of %dx%d * %dx%d undefined", ra, ca, rb, cb)
	}
	var tr complex128
	for i := 0; i < ra; i++ {
		for j := 0; j < ca; j++ {
			tr += a.At(i, j) * b.At(j, i)
		}
	}
	return tr, nil
}

// extractBits packs the bits of x at the target positions, targets[0]
// becoming the most significant packed bit.
func extractBits(x int, targets []int) int {
	k := len(targets)
	v := 0
	for bi, q := range targets {
		if x&(1<<q) != 0 {
			v |= 1 << (k - 1 - bi)
		}
	}
	return v
}

// insertBits replaces the bits of x at the target positions with the packed
// bits of t, inverse of extractBits.
func insertBits(x, t int, targets []int) int {
	k := len(targets)
	for bi, q := range targets {
		if t&(1<<(k-1-bi)) != 0 {
			x |= 1 << q
		} else {
			x &^= 1 << q
		}
	}
	return x
}

func hilbertDimOf(s *mat.CDense) (int, error) {
	r, c := s.Dims()
	if r != c {
		return 0, fmt.Errorf("superop: matrix is %dx%d, want square", r, c)
	}
	d := int(math.Round(math.Sqrt(float64(r))))
	if d*d != r {
		return 0, fmt.Errorf("superop: dimension %d is not a perfect square", r)
	}
	return d, nil
}
