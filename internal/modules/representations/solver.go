package representations

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/noisyops"
)

// DefaultTol is the numerical tolerance used for rank decisions, the
// feasibility test and coefficient clipping when Options.Tol is zero.
const DefaultTol = 1e-8

// ErrInfeasible is returned by LP solvers when the program has no feasible
// point. FindOptimal translates it into a RepresentationNotFoundError.
var ErrInfeasible = errors.New("representations: linear program is infeasible")

// LinearProgram is a standard-form problem: minimize Cost.x subject to
// A x = B, x >= 0. A must have full row rank.
type LinearProgram struct {
	Cost []float64
	A    *mat.Dense
	B    []float64
}

// LPSolver solves standard-form linear programs. Implementations return
// ErrInfeasible when no feasible point exists.
type LPSolver interface {
	Solve(p LinearProgram) ([]float64, error)
}

// SimplexSolver solves linear programs with the simplex method.
type SimplexSolver struct {
	// Tol is the pivot tolerance passed to the underlying routine. Zero
	// selects a conservative default.
	Tol float64
}

// Solve implements LPSolver.
func (s SimplexSolver) Solve(p LinearProgram) ([]float64, error) {
	tol := s.Tol
	if tol <= 0 {
		tol = 1e-10
	}
	_, x, err := lp.Simplex(p.Cost, p.A, p.B, tol, nil)
	if err != nil {
		if errors.Is(err, lp.ErrInfeasible) {
			return nil, ErrInfeasible
		}
		return nil, fmt.Errorf("representations: simplex: %w", err)
	}
	return x, nil
}

// Options configures FindOptimal.
type Options struct {
	// Tol is the tolerance for rank decisions, the span-membership test and
	// coefficient clipping. Zero selects DefaultTol.
	Tol float64
	// Solver overrides the LP backend. Nil selects SimplexSolver.
	Solver LPSolver
}

// FindOptimal computes the minimum one-norm quasi-probability representation
// of the ideal fragment over the basis. The coefficients minimise
// sum_i |coeff_i| subject to sum_i coeff_i * channel_i = ideal channel,
// solved as a standard-form LP after splitting each coefficient into its
// positive and negative parts.
//
// When the ideal channel lies outside the basis span, or the LP is
// infeasible, a *RepresentationNotFoundError is returned.
func FindOptimal(ideal circuits.Circuit, basis noisyops.NoisyBasis, opts Options) (*Representation, error) {
	tol := opts.Tol
	if tol <= 0 {
		tol = DefaultTol
	}
	solver := opts.Solver
	if solver == nil {
		solver = SimplexSolver{}
	}

	if err := ideal.Validate(); err != nil {
		return nil, err
	}
	if len(ideal.Operations) == 0 {
		return nil, fmt.Errorf("representations: ideal fragment has no operations")
	}
	if basis.Len() == 0 {
		return nil, fmt.Errorf("representations: basis is empty")
	}
	if !sameInts(ideal.Qubits(), basis.Qubits()) {
		return nil, fmt.Errorf("representations: ideal acts on qubits %v, basis on %v",
			ideal.Qubits(), basis.Qubits())
	}

	target, err := ideal.Channel()
	if err != nil {
		return nil, err
	}
	elements := basis.Elements()
	channels := make([]*mat.CDense, len(elements))
	for i, el := range elements {
		ch, ok := el.Channel()
		if !ok {
			return nil, fmt.Errorf("representations: basis element %d (%s) has no channel", i, el.Circuit())
		}
		channels[i] = ch
	}

	prog, err := buildProgram(target, channels)
	if err != nil {
		return nil, err
	}
	reduced, err := reduceRows(prog, tol)
	if err != nil {
		var nf *notInSpanError
		if errors.As(err, &nf) {
			return nil, &RepresentationNotFoundError{Circuit: ideal.String(), Reason: err}
		}
		return nil, err
	}

	x, err := solver.Solve(reduced)
	if err != nil {
		if errors.Is(err, ErrInfeasible) {
			return nil, &RepresentationNotFoundError{Circuit: ideal.String(), Reason: err}
		}
		return nil, err
	}

	m := len(elements)
	terms := make([]Term, m)
	for i, el := range elements {
		coeff := x[i] - x[m+i]
		if math.Abs(coeff) < tol {
			coeff = 0
		}
		terms[i] = Term{Operation: el, Coeff: coeff}
	}
	return New(ideal, terms)
}

// notInSpanError marks span-membership failures detected before the LP runs.
type notInSpanError struct {
	residual float64
}

func (e *notInSpanError) Error() string {
	return fmt.Sprintf("target channel outside basis span (residual %.3e)", e.residual)
}

// buildProgram assembles the standard-form LP. Each complex matrix entry
// contributes two rows (real and imaginary part); each basis element two
// columns (positive and negative coefficient part). The cost of every
// column is one, so the objective is exactly the one-norm.
func buildProgram(target *mat.CDense, channels []*mat.CDense) (LinearProgram, error) {
	dim, _ := target.Dims()
	m := len(channels)
	for i, ch := range channels {
		if r, c := ch.Dims(); r != dim || c != dim {
			return LinearProgram{}, fmt.Errorf("representations: basis channel %d is %dx%d, target is %dx%d", i, r, c, dim, dim)
		}
	}
	rows := 2 * dim * dim
	cols := 2 * m
	a := mat.NewDense(rows, cols, nil)
	b := make([]float64, rows)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			re := 2 * (i*dim + j)
			im := re + 1
			g := target.At(i, j)
			b[re] = real(g)
			b[im] = imag(g)
			for k, ch := range channels {
				v := ch.At(i, j)
				a.Set(re, k, real(v))
				a.Set(re, m+k, -real(v))
				a.Set(im, k, imag(v))
				a.Set(im, m+k, -imag(v))
			}
		}
	}
	cost := make([]float64, cols)
	for i := range cost {
		cost[i] = 1
	}
	return LinearProgram{Cost: cost, A: a, B: b}, nil
}

// reduceRows projects the constraint system onto an orthonormal basis of
// its row space so that the reduced matrix has full row rank, which the
// simplex backend requires. If the right-hand side has a component outside
// the column space of A the system is unsolvable and a notInSpanError is
// returned.
func reduceRows(p LinearProgram, tol float64) (LinearProgram, error) {
	rows, _ := p.A.Dims()

	var svd mat.SVD
	if !svd.Factorize(p.A, mat.SVDThin) {
		return LinearProgram{}, fmt.Errorf("representations: SVD of constraint matrix failed")
	}
	sv := svd.Values(nil)
	rank := 0
	if len(sv) > 0 && sv[0] > 0 {
		cut := tol * sv[0]
		for _, s := range sv {
			if s > cut {
				rank++
			}
		}
	}
	if rank == 0 {
		return LinearProgram{}, &notInSpanError{residual: floats.Norm(p.B, 2)}
	}

	var u mat.Dense
	svd.UTo(&u)
	ur := u.Slice(0, rows, 0, rank)

	var ar mat.Dense
	ar.Mul(ur.T(), p.A)

	bvec := mat.NewVecDense(rows, p.B)
	var br mat.VecDense
	br.MulVec(ur.T(), bvec)

	// Span check: the projection of b onto col(Ur) must reproduce b.
	var proj mat.VecDense
	proj.MulVec(ur, &br)
	residual := 0.0
	for i := 0; i < rows; i++ {
		d := p.B[i] - proj.AtVec(i)
		residual += d * d
	}
	residual = math.Sqrt(residual)
	if residual > tol*(1+floats.Norm(p.B, 2)) {
		return LinearProgram{}, &notInSpanError{residual: residual}
	}

	bOut := make([]float64, rank)
	for i := range bOut {
		bOut[i] = br.AtVec(i)
	}
	return LinearProgram{Cost: p.Cost, A: &ar, B: bOut}, nil
}
