package estimation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/executors"
	"github.com/aristath/quasar/internal/modules/noisyops"
	"github.com/aristath/quasar/internal/modules/observables"
	"github.com/aristath/quasar/internal/modules/representations"
	"github.com/aristath/quasar/internal/modules/sampling"
	"github.com/aristath/quasar/internal/modules/superop"
)

func seedPtr(v int64) *int64 { return &v }

func scalarExec(v float64) executors.Executor {
	return executors.ScalarFunc(func(context.Context, circuits.Circuit) (float64, error) {
		return v, nil
	})
}

func emptySampler(t *testing.T) *sampling.Sampler {
	t.Helper()
	s, err := sampling.NewSampler()
	require.NoError(t, err)
	return s
}

// asExecutedRepresentation solves for the representation of X(0) whose
// basis channels describe the noisy simulator exactly: depolarizing noise
// follows every executed gate, corrections included.
func asExecutedRepresentation(t *testing.T, p float64) *representations.Representation {
	t.Helper()
	ideal := circuits.New(circuits.X(0))

	dep := superop.Depolarizing(p, 1)
	xu, err := circuits.X(0).Unitary()
	require.NoError(t, err)
	base, err := superop.Compose(dep, superop.FromUnitary(xu))
	require.NoError(t, err)

	identityTerm, err := noisyops.NewOperation(ideal, base)
	require.NoError(t, err)
	ops := []noisyops.NoisyOperation{identityTerm}
	for _, letter := range []byte{'X', 'Y', 'Z'} {
		pu, ok := superop.PauliMatrix(letter)
		require.True(t, ok)
		withPauli, err := superop.Compose(superop.FromUnitary(pu), base)
		require.NoError(t, err)
		channel, err := superop.Compose(dep, withPauli)
		require.NoError(t, err)

		correction, ok := circuits.PauliFor(letter, 0)
		require.True(t, ok)
		op, err := noisyops.NewOperation(ideal.Append(correction), channel)
		require.NoError(t, err)
		ops = append(ops, op)
	}
	basis, err := noisyops.NewBasis(ops...)
	require.NoError(t, err)

	rep, err := representations.FindOptimal(ideal, basis, representations.Options{})
	require.NoError(t, err)
	return rep
}

func TestNoiselessEstimationIsExact(t *testing.T) {
	rep, err := representations.RepresentGlobalDepolarizing(circuits.New(circuits.X(0)), 0)
	require.NoError(t, err)
	smp, err := sampling.NewSampler(rep)
	require.NoError(t, err)

	sim, err := executors.NewDensityMatrixSimulator(0, zerolog.Nop())
	require.NoError(t, err)
	est := NewEstimator(executors.WithObservable(sim, observables.Z(0)), smp, zerolog.Nop())

	value, data, err := est.EstimateWithData(context.Background(), circuits.New(circuits.X(0)), Options{
		Precision: 0.5,
		Seed:      seedPtr(0),
	})
	require.NoError(t, err)

	assert.InDelta(t, -1, value, 1e-12)
	assert.InDelta(t, 0, data.PECStd, 1e-12)
	assert.InDelta(t, 0, data.PECError, 1e-12)
	// One-norm one and precision 0.5 resolve to ceil(4) draws.
	assert.Equal(t, 4, data.NumSamples)
	assert.Len(t, data.UnbiasedEstimators, 4)
	assert.Len(t, data.MeasuredValues, 4)
	assert.Len(t, data.SampledCircuits, 4)
	assert.InDelta(t, 1.0, data.OneNorm, 1e-12)
}

func TestEstimationCancelsDepolarizingBias(t *testing.T) {
	const p = 0.2
	rep := asExecutedRepresentation(t, p)
	smp, err := sampling.NewSampler(rep)
	require.NoError(t, err)

	sim, err := executors.NewDensityMatrixSimulator(p, zerolog.Nop())
	require.NoError(t, err)
	exec := executors.WithObservable(sim, observables.Z(0))

	// Unmitigated, the noisy simulator reports -(1-p).
	raw, err := exec.Execute(context.Background(), circuits.New(circuits.X(0)))
	require.NoError(t, err)
	rawValue, ok := executors.ScalarValue(raw)
	require.True(t, ok)
	assert.InDelta(t, -0.8, rawValue, 1e-12)

	est := NewEstimator(exec, smp, zerolog.Nop())
	value, data, err := est.EstimateWithData(context.Background(), circuits.New(circuits.X(0)), Options{
		NumSamples: 20000,
		Seed:       seedPtr(42),
		Workers:    4,
	})
	require.NoError(t, err)

	// Mitigation recovers the ideal -1 well inside the statistical error.
	assert.InDelta(t, -1, value, 0.05)
	assert.Greater(t, data.PECError, 0.0)
	assert.Greater(t, data.OneNorm, 1.0)
	assert.Equal(t, data.PECValue, value)
}

func TestEstimationDeterministicAcrossWorkerCounts(t *testing.T) {
	const p = 0.15
	rep := asExecutedRepresentation(t, p)
	smp, err := sampling.NewSampler(rep)
	require.NoError(t, err)
	sim, err := executors.NewDensityMatrixSimulator(p, zerolog.Nop())
	require.NoError(t, err)
	est := NewEstimator(executors.WithObservable(sim, observables.Z(0)), smp, zerolog.Nop())

	run := func(workers int) *Data {
		_, data, err := est.EstimateWithData(context.Background(), circuits.New(circuits.X(0)), Options{
			NumSamples: 500,
			Seed:       seedPtr(7),
			Workers:    workers,
		})
		require.NoError(t, err)
		return data
	}

	serial := run(1)
	parallel := run(8)
	assert.Equal(t, serial.PECValue, parallel.PECValue)
	assert.Equal(t, serial.PECError, parallel.PECError)
	assert.Equal(t, serial.UnbiasedEstimators, parallel.UnbiasedEstimators)

	// A different seed produces a different run.
	_, other, err := est.EstimateWithData(context.Background(), circuits.New(circuits.X(0)), Options{
		NumSamples: 500,
		Seed:       seedPtr(8),
	})
	require.NoError(t, err)
	assert.NotEqual(t, serial.UnbiasedEstimators, other.UnbiasedEstimators)
}

func TestSampleCountFromPrecision(t *testing.T) {
	rep, err := representations.RepresentGlobalDepolarizing(circuits.New(circuits.H(0)), 0.2)
	require.NoError(t, err)
	smp, err := sampling.NewSampler(rep)
	require.NoError(t, err)

	est := NewEstimator(scalarExec(0), smp, zerolog.Nop())
	_, data, err := est.EstimateWithData(context.Background(), circuits.New(circuits.H(0)), Options{
		Precision: 0.5,
		Seed:      seedPtr(1),
	})
	require.NoError(t, err)

	// ceil((1.375 / 0.5)^2) = ceil(7.5625) = 8.
	assert.Equal(t, 8, data.NumSamples)
	assert.Len(t, data.UnbiasedEstimators, 8)
	assert.InDelta(t, 0.5, data.Precision, 1e-12)
}

func TestExplicitNumSamplesWins(t *testing.T) {
	est := NewEstimator(scalarExec(0.5), emptySampler(t), zerolog.Nop())
	_, data, err := est.EstimateWithData(context.Background(), circuits.New(circuits.H(0)), Options{
		NumSamples: 11,
		Seed:       seedPtr(1),
	})
	require.NoError(t, err)
	assert.Equal(t, 11, data.NumSamples)
	assert.Len(t, data.UnbiasedEstimators, 11)
}

func TestConfigurationErrorsBeforeExecution(t *testing.T) {
	calls := 0
	counting := executors.ScalarFunc(func(context.Context, circuits.Circuit) (float64, error) {
		calls++
		return 0, nil
	})
	est := NewEstimator(counting, emptySampler(t), zerolog.Nop())
	ctx := context.Background()
	c := circuits.New(circuits.H(0))

	var cfgErr *ConfigurationError
	_, err := est.Estimate(ctx, c, Options{NumSamples: -1})
	require.True(t, errors.As(err, &cfgErr))

	_, err = est.Estimate(ctx, c, Options{Precision: 1.5})
	require.True(t, errors.As(err, &cfgErr))

	_, err = est.Estimate(ctx, c, Options{Precision: -0.3})
	require.True(t, errors.As(err, &cfgErr))

	// Even with an explicit sample count, a nonsensical precision is
	// rejected.
	_, err = est.Estimate(ctx, c, Options{NumSamples: 5, Precision: 2})
	require.True(t, errors.As(err, &cfgErr))

	assert.Equal(t, 0, calls)
}

func TestExecutorFailureBecomesExecutionError(t *testing.T) {
	boom := errors.New("device offline")
	failing := executors.Func(func(context.Context, circuits.Circuit) (executors.Result, error) {
		return nil, boom
	})
	est := NewEstimator(failing, emptySampler(t), zerolog.Nop())

	_, err := est.Estimate(context.Background(), circuits.New(circuits.H(0)), Options{
		NumSamples: 10,
		Seed:       seedPtr(1),
	})
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.NotEmpty(t, execErr.Circuit.Operations)
	assert.ErrorIs(t, err, boom)
}

func TestDensityMatrixWithoutObservableFails(t *testing.T) {
	sim, err := executors.NewDensityMatrixSimulator(0, zerolog.Nop())
	require.NoError(t, err)
	est := NewEstimator(sim, emptySampler(t), zerolog.Nop())

	_, err = est.Estimate(context.Background(), circuits.New(circuits.X(0)), Options{
		NumSamples: 2,
		Seed:       seedPtr(1),
	})
	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Contains(t, err.Error(), "WithObservable")
}

func TestEstimateHonorsContextCancellation(t *testing.T) {
	est := NewEstimator(scalarExec(0), emptySampler(t), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := est.Estimate(ctx, circuits.New(circuits.H(0)), Options{
		NumSamples: 100,
		Seed:       seedPtr(1),
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProgressReportsEveryCompletion(t *testing.T) {
	est := NewEstimator(scalarExec(0.1), emptySampler(t), zerolog.Nop())

	var mu sync.Mutex
	var calls [][2]int
	_, data, err := est.EstimateWithData(context.Background(), circuits.New(circuits.H(0)), Options{
		NumSamples: 25,
		Seed:       seedPtr(1),
		Workers:    1,
		Progress: func(done, total int) {
			mu.Lock()
			calls = append(calls, [2]int{done, total})
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.Len(t, calls, data.NumSamples)
	assert.Equal(t, [2]int{25, 25}, calls[len(calls)-1])
	for _, c := range calls {
		assert.Equal(t, 25, c[1])
	}
}

func TestFreshSeedIsRecorded(t *testing.T) {
	est := NewEstimator(scalarExec(0), emptySampler(t), zerolog.Nop())
	_, data, err := est.EstimateWithData(context.Background(), circuits.New(circuits.H(0)), Options{
		NumSamples: 3,
	})
	require.NoError(t, err)
	require.NotNil(t, data.Seed)
	assert.Equal(t, 3, data.NumSamples)
}
