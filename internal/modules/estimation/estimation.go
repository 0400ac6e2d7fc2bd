// Package estimation computes error-mitigated expectation values by Monte
// Carlo over quasi-probability representations. Sampling is deterministic
// per seed and independent of the worker count: realizations are drawn
// sequentially up front, only executor calls run in parallel.
package estimation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/executors"
	"github.com/aristath/quasar/internal/modules/sampling"
)

// DefaultPrecision is the target precision used when neither NumSamples nor
// Precision is set.
const DefaultPrecision = 0.03

// Options configures one estimation run.
type Options struct {
	// NumSamples fixes the number of Monte Carlo draws. Zero derives the
	// count from Precision.
	NumSamples int
	// Precision is the target standard error relative to the total
	// one-norm; the derived draw count is ceil((norm/precision)^2). Zero
	// selects DefaultPrecision. Must lie in (0, 1] when set.
	Precision float64
	// Seed makes sampling reproducible. Nil draws a fresh seed.
	Seed *int64
	// Workers bounds concurrent executor calls. Zero or negative selects
	// the number of CPUs.
	Workers int
	// Progress, when set, is called after every completed execution with
	// (completed, total). Completions may arrive in any order.
	Progress func(completed, total int)
}

// Data is the full outcome of an estimation run.
type Data struct {
	NumSamples         int                `json:"num_samples" msgpack:"num_samples"`
	Precision          float64            `json:"precision" msgpack:"precision"`
	OneNorm            float64            `json:"one_norm" msgpack:"one_norm"`
	PECValue           float64            `json:"pec_value" msgpack:"pec_value"`
	PECStd             float64            `json:"pec_std" msgpack:"pec_std"`
	PECError           float64            `json:"pec_error" msgpack:"pec_error"`
	UnbiasedEstimators []float64          `json:"unbiased_estimators" msgpack:"unbiased_estimators"`
	MeasuredValues     []float64          `json:"measured_expectation_values" msgpack:"measured_expectation_values"`
	SampledCircuits    []circuits.Circuit `json:"sampled_circuits" msgpack:"sampled_circuits"`
	Workers            int                `json:"workers" msgpack:"workers"`
	Seed               *int64             `json:"seed,omitempty" msgpack:"seed,omitempty"`
}

// Estimator runs the mitigation pipeline against a fixed executor and
// sampler.
type Estimator struct {
	exec executors.Executor
	smp  *sampling.Sampler
	log  zerolog.Logger
}

// NewEstimator wires an estimator.
func NewEstimator(exec executors.Executor, smp *sampling.Sampler, logger zerolog.Logger) *Estimator {
	return &Estimator{
		exec: exec,
		smp:  smp,
		log:  logger.With().Str("component", "estimation").Logger(),
	}
}

// Estimate returns the error-mitigated expectation value of the circuit.
func (e *Estimator) Estimate(ctx context.Context, c circuits.Circuit, opts Options) (float64, error) {
	value, _, err := e.EstimateWithData(ctx, c, opts)
	return value, err
}

// EstimateWithData returns the mitigated value together with the full run
// record.
func (e *Estimator) EstimateWithData(ctx context.Context, c circuits.Circuit, opts Options) (float64, *Data, error) {
	if err := c.Validate(); err != nil {
		return 0, nil, err
	}
	norm := e.smp.Norm(c)
	num, precision, err := resolveNumSamples(norm, opts)
	if err != nil {
		return 0, nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > num {
		workers = num
	}

	seed := opts.Seed
	if seed == nil {
		fresh := time.Now().UnixNano()
		seed = &fresh
	}
	rng := rand.New(rand.NewSource(*seed))

	e.log.Debug().
		Stringer("circuit", c).
		Int("num_samples", num).
		Float64("one_norm", norm).
		Int("workers", workers).
		Msg("Starting estimation run")

	draws, err := e.smp.N(c, num, rng)
	if err != nil {
		return 0, nil, err
	}

	measured, err := e.executeAll(ctx, draws, workers, opts.Progress)
	if err != nil {
		return 0, nil, err
	}

	estimators := make([]float64, num)
	sampled := make([]circuits.Circuit, num)
	for i, d := range draws {
		estimators[i] = float64(d.Sign) * d.Norm * measured[i]
		sampled[i] = d.Circuit
	}
	value := stat.Mean(estimators, nil)
	std := 0.0
	if num > 1 {
		std = stat.StdDev(estimators, nil)
	}
	pecError := std / math.Sqrt(float64(num))

	e.log.Debug().
		Float64("pec_value", value).
		Float64("pec_error", pecError).
		Int("num_samples", num).
		Msg("Estimation run finished")

	data := &Data{
		NumSamples:         num,
		Precision:          precision,
		OneNorm:            norm,
		PECValue:           value,
		PECStd:             std,
		PECError:           pecError,
		UnbiasedEstimators: estimators,
		MeasuredValues:     measured,
		SampledCircuits:    sampled,
		Workers:            workers,
		Seed:               seed,
	}
	return value, data, nil
}

// resolveNumSamples derives the draw count from the options, validating
// them before anything runs.
func resolveNumSamples(norm float64, opts Options) (int, float64, error) {
	if opts.NumSamples < 0 {
		return 0, 0, &ConfigurationError{Reason: fmt.Sprintf("num_samples must be positive, got %d", opts.NumSamples)}
	}
	precision := opts.Precision
	if precision == 0 {
		precision = DefaultPrecision
	}
	if precision <= 0 || precision > 1 || math.IsNaN(precision) {
		return 0, 0, &ConfigurationError{Reason: fmt.Sprintf("precision must be in (0, 1], got %g", opts.Precision)}
	}
	if opts.NumSamples > 0 {
		return opts.NumSamples, precision, nil
	}
	ratio := norm / precision
	num := int(math.Ceil(ratio * ratio))
	if num <= 0 {
		return 0, 0, &ConfigurationError{Reason: fmt.Sprintf("derived sample count %d from norm %g and precision %g", num, norm, precision)}
	}
	return num, precision, nil
}

// executeAll runs every draw through the executor with a bounded worker
// pool. The first failure cancels the remaining work.
func (e *Estimator) executeAll(ctx context.Context, draws []sampling.Draw, workers int, progress func(int, int)) ([]float64, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	measured := make([]float64, len(draws))
	jobs := make(chan int)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
		completed int
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				select {
				case <-runCtx.Done():
					continue
				default:
				}
				v, err := e.runOne(runCtx, draws[idx])
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					cancel()
					continue
				}
				mu.Lock()
				measured[idx] = v
				completed++
				done := completed
				mu.Unlock()
				if progress != nil {
					progress(done, len(draws))
				}
			}
		}()
	}

feed:
	for i := range draws {
		select {
		case <-runCtx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return measured, nil
}

func (e *Estimator) runOne(ctx context.Context, d sampling.Draw) (float64, error) {
	res, err := e.exec.Execute(ctx, d.Circuit)
	if err != nil {
		return 0, &ExecutionError{Circuit: d.Circuit, Err: err}
	}
	v, ok := executors.ScalarValue(res)
	if !ok {
		return 0, &ExecutionError{
			Circuit: d.Circuit,
			Err:     fmt.Errorf("executor returned %T, want a scalar; wrap density-matrix executors with executors.WithObservable", res),
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ExecutionError{Circuit: d.Circuit, Err: fmt.Errorf("executor returned non-finite value %g", v)}
	}
	return v, nil
}
