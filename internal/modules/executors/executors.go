// Package executors defines how realized circuits are run. An Executor
// returns either a scalar expectation value or a full density matrix; the
// estimation pipeline consumes scalars, and WithObservable bridges the two.
package executors

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/observables"
)

// Result is the outcome of executing one circuit: either a Scalar or a
// DensityMatrix.
type Result interface {
	isResult()
}

// Scalar is a measured expectation value.
type Scalar float64

func (Scalar) isResult() {}

// DensityMatrix is the full output state of a simulator.
type DensityMatrix struct {
	Rho *mat.CDense
}

func (DensityMatrix) isResult() {}

// ScalarValue extracts the float from a scalar result.
func ScalarValue(r Result) (float64, bool) {
	s, ok := r.(Scalar)
	return float64(s), ok
}

// Executor runs a single circuit. Implementations must be safe for
// concurrent use; the estimation pipeline calls Execute from several
// goroutines.
type Executor interface {
	Execute(ctx context.Context, c circuits.Circuit) (Result, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, c circuits.Circuit) (Result, error)

// Execute implements Executor.
func (f Func) Execute(ctx context.Context, c circuits.Circuit) (Result, error) {
	return f(ctx, c)
}

// ScalarFunc adapts a function returning plain expectation values.
func ScalarFunc(f func(ctx context.Context, c circuits.Circuit) (float64, error)) Executor {
	return Func(func(ctx context.Context, c circuits.Circuit) (Result, error) {
		v, err := f(ctx, c)
		if err != nil {
			return nil, err
		}
		return Scalar(v), nil
	})
}

// WithObservable turns a density-matrix executor into a scalar one by
// measuring the given observable on every result.
func WithObservable(inner Executor, obs observables.Observable) Executor {
	return Func(func(ctx context.Context, c circuits.Circuit) (Result, error) {
		res, err := inner.Execute(ctx, c)
		if err != nil {
			return nil, err
		}
		dm, ok := res.(DensityMatrix)
		if !ok {
			return nil, fmt.Errorf("executors: observable %s requires a density-matrix result, got %T", obs, res)
		}
		v, err := obs.Expectation(dm.Rho)
		if err != nil {
			return nil, err
		}
		return Scalar(v), nil
	})
}
