package representations

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/noisyops"
)

func matDense(r, c int, vals ...float64) *mat.Dense {
	return mat.NewDense(r, c, vals)
}

func idealOp(t *testing.T, ops ...circuits.Operation) noisyops.NoisyOperation {
	t.Helper()
	op, err := noisyops.Ideal(circuits.New(ops...))
	require.NoError(t, err)
	return op
}

func TestFindOptimalPicksExactBasisElement(t *testing.T) {
	ideal := circuits.New(circuits.H(0))
	basis, err := noisyops.NewBasis(
		idealOp(t, circuits.H(0)),
		idealOp(t, circuits.H(0), circuits.X(0)),
		idealOp(t, circuits.H(0), circuits.Z(0)),
	)
	require.NoError(t, err)

	rep, err := FindOptimal(ideal, basis, Options{})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, rep.OneNorm(), 1e-6)
	coeffs := rep.Coeffs()
	require.Len(t, coeffs, 3)
	assert.InDelta(t, 1.0, coeffs[0], 1e-6)
	assert.InDelta(t, 0.0, coeffs[1], 1e-6)
	assert.InDelta(t, 0.0, coeffs[2], 1e-6)
}

func TestFindOptimalOutOfSpan(t *testing.T) {
	// The Hadamard channel is not a linear combination of the X and Z
	// channels.
	ideal := circuits.New(circuits.H(0))
	basis, err := noisyops.NewBasis(
		idealOp(t, circuits.X(0)),
		idealOp(t, circuits.Z(0)),
	)
	require.NoError(t, err)

	_, err = FindOptimal(ideal, basis, Options{})
	var notFound *RepresentationNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Contains(t, notFound.Error(), "H(0)")
}

func TestFindOptimalUsageErrors(t *testing.T) {
	ideal := circuits.New(circuits.H(0))

	// Empty basis.
	_, err := FindOptimal(ideal, noisyops.NoisyBasis{}, Options{})
	require.Error(t, err)
	var notFound *RepresentationNotFoundError
	assert.False(t, errors.As(err, &notFound))

	// Support mismatch.
	other, err := noisyops.NewBasis(idealOp(t, circuits.H(1)))
	require.NoError(t, err)
	_, err = FindOptimal(ideal, other, Options{})
	assert.Error(t, err)

	// Basis element without a channel.
	blind, err := noisyops.NewOperation(circuits.New(circuits.H(0)), nil)
	require.NoError(t, err)
	basis, err := noisyops.NewBasis(blind)
	require.NoError(t, err)
	_, err = FindOptimal(ideal, basis, Options{})
	assert.Error(t, err)
	assert.False(t, errors.As(err, &notFound))

	// Empty ideal fragment.
	_, err = FindOptimal(circuits.New(), basis, Options{})
	assert.Error(t, err)
}

type recordingSolver struct {
	program LinearProgram
	x       []float64
	err     error
}

func (s *recordingSolver) Solve(p LinearProgram) ([]float64, error) {
	s.program = p
	return s.x, s.err
}

func TestFindOptimalUsesInjectedSolver(t *testing.T) {
	ideal := circuits.New(circuits.H(0))
	basis, err := noisyops.NewBasis(
		idealOp(t, circuits.H(0)),
		idealOp(t, circuits.H(0), circuits.X(0)),
	)
	require.NoError(t, err)

	// The positive/negative split doubles the column count.
	fake := &recordingSolver{x: []float64{2, 0, 0.5, 1}}
	rep, err := FindOptimal(ideal, basis, Options{Solver: fake})
	require.NoError(t, err)

	require.Len(t, fake.program.Cost, 4)
	for _, c := range fake.program.Cost {
		assert.Equal(t, 1.0, c)
	}
	rows, cols := fake.program.A.Dims()
	assert.Equal(t, cols, 4)
	assert.LessOrEqual(t, rows, 32)
	assert.Equal(t, rows, len(fake.program.B))

	coeffs := rep.Coeffs()
	assert.InDelta(t, 1.5, coeffs[0], 1e-12)
	assert.InDelta(t, -1.0, coeffs[1], 1e-12)
}

func TestFindOptimalTranslatesInfeasible(t *testing.T) {
	ideal := circuits.New(circuits.H(0))
	basis, err := noisyops.NewBasis(idealOp(t, circuits.H(0)))
	require.NoError(t, err)

	fake := &recordingSolver{err: ErrInfeasible}
	_, err = FindOptimal(ideal, basis, Options{Solver: fake})
	var notFound *RepresentationNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestFindOptimalClipsTinyCoefficients(t *testing.T) {
	ideal := circuits.New(circuits.H(0))
	basis, err := noisyops.NewBasis(
		idealOp(t, circuits.H(0)),
		idealOp(t, circuits.H(0), circuits.X(0)),
	)
	require.NoError(t, err)

	fake := &recordingSolver{x: []float64{1, 1e-12, 0, 0}}
	rep, err := FindOptimal(ideal, basis, Options{Solver: fake})
	require.NoError(t, err)
	coeffs := rep.Coeffs()
	assert.Equal(t, 0.0, coeffs[1])
}

func TestSimplexSolverSolvesSmallProgram(t *testing.T) {
	// minimize x+y subject to x - y = 2 has optimum x=2, y=0.
	p := LinearProgram{
		Cost: []float64{1, 1},
		A:    matDense(1, 2, 1, -1),
		B:    []float64{2},
	}
	x, err := SimplexSolver{}.Solve(p)
	require.NoError(t, err)
	assert.InDelta(t, 2, x[0], 1e-9)
	assert.InDelta(t, 0, x[1], 1e-9)

	// x + y = -1 with x, y >= 0 is infeasible.
	p = LinearProgram{
		Cost: []float64{1, 1},
		A:    matDense(1, 2, 1, 1),
		B:    []float64{-1},
	}
	_, err = SimplexSolver{}.Solve(p)
	assert.ErrorIs(t, err, ErrInfeasible)
}
