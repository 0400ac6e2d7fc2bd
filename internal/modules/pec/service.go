// Package pec orchestrates full mitigation runs. For every distinct
// operation of a circuit it derives the quasi-probability representation
// matching the simulator's noise, then samples, estimates and records the
// outcome.
package pec

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/estimation"
	"github.com/aristath/quasar/internal/modules/executors"
	"github.com/aristath/quasar/internal/modules/noisyops"
	"github.com/aristath/quasar/internal/modules/observables"
	"github.com/aristath/quasar/internal/modules/representations"
	"github.com/aristath/quasar/internal/modules/runs"
	"github.com/aristath/quasar/internal/modules/sampling"
)

// Service runs the mitigation pipeline end to end.
type Service struct {
	reps         *representations.Service
	runs         *runs.Service
	defaultNoise float64
	workers      int
	log          zerolog.Logger
}

// NewService wires the pipeline. runsService may be nil, in which case
// outcomes are returned but not persisted. defaultNoise is the simulator
// strength used when a request leaves the noise level unset; workers bounds
// concurrent executions when a request does not say otherwise (zero means
// one per CPU).
func NewService(reps *representations.Service, runsService *runs.Service, defaultNoise float64, workers int, log zerolog.Logger) *Service {
	return &Service{
		reps:         reps,
		runs:         runsService,
		defaultNoise: defaultNoise,
		workers:      workers,
		log:          log.With().Str("service", "pec").Logger(),
	}
}

// Request describes one estimation run.
type Request struct {
	// Circuit is the ideal circuit to mitigate.
	Circuit circuits.Circuit
	// Observable to measure. Nil selects Z on qubit 0.
	Observable observables.Observable
	// NoiseLevel overrides the service default when non-nil. Zero is the
	// ideal simulator.
	NoiseLevel *float64
	// NumSamples, Precision and Seed follow estimation.Options.
	NumSamples int
	Precision  float64
	Seed       *int64
	// Workers overrides the service default when positive.
	Workers int
	// IncludeRaw additionally measures the unmitigated expectation by one
	// plain noisy execution of the ideal circuit.
	IncludeRaw bool
	// Progress, when set, receives (completed, total) after every
	// execution.
	Progress func(completed, total int)
}

// Result is the outcome of one estimation run.
type Result struct {
	// Run is the persisted record, nil when persistence is disabled or
	// failed.
	Run        *runs.Run
	Value      float64
	Data       *estimation.Data
	RawValue   *float64
	NoiseLevel float64
	Observable string
	Duration   time.Duration
}

// Estimate performs a full mitigation run: representations are solved (or
// served from cache) per distinct operation, the circuit is sampled and
// executed, and the outcome recorded.
func (s *Service) Estimate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Circuit.Validate(); err != nil {
		return nil, err
	}
	if len(req.Circuit.Operations) == 0 {
		return nil, fmt.Errorf("pec: circuit has no operations")
	}
	width := req.Circuit.Width()
	if width > executors.MaxSimulatorQubits {
		return nil, fmt.Errorf("pec: circuit needs %d qubits, simulator supports at most %d", width, executors.MaxSimulatorQubits)
	}

	noise := s.defaultNoise
	if req.NoiseLevel != nil {
		noise = *req.NoiseLevel
	}
	if noise < 0 || noise > 1 {
		return nil, fmt.Errorf("pec: noise level must be in [0, 1], got %g", noise)
	}

	obs := req.Observable
	if obs == nil {
		obs = observables.Z(0)
	}
	for _, q := range obs.Support() {
		if q >= width {
			return nil, fmt.Errorf("pec: observable %s addresses qubit %d, circuit has width %d", obs, q, width)
		}
	}

	start := time.Now()

	smp, err := s.sampler(req.Circuit, noise)
	if err != nil {
		return nil, err
	}

	sim, err := executors.NewDensityMatrixSimulator(noise, s.log)
	if err != nil {
		return nil, err
	}
	exec := executors.WithObservable(sim, obs)

	workers := req.Workers
	if workers <= 0 {
		workers = s.workers
	}
	est := estimation.NewEstimator(exec, smp, s.log)
	value, data, err := est.EstimateWithData(ctx, req.Circuit, estimation.Options{
		NumSamples: req.NumSamples,
		Precision:  req.Precision,
		Seed:       req.Seed,
		Workers:    workers,
		Progress:   req.Progress,
	})
	if err != nil {
		return nil, err
	}

	var raw *float64
	if req.IncludeRaw {
		res, err := exec.Execute(ctx, req.Circuit)
		if err != nil {
			return nil, fmt.Errorf("pec: raw execution: %w", err)
		}
		if v, ok := executors.ScalarValue(res); ok {
			raw = &v
		}
	}

	duration := time.Since(start)
	result := &Result{
		Value:      value,
		Data:       data,
		RawValue:   raw,
		NoiseLevel: noise,
		Observable: obs.String(),
		Duration:   duration,
	}

	s.log.Info().
		Stringer("circuit", req.Circuit).
		Str("observable", result.Observable).
		Float64("noise_level", noise).
		Float64("pec_value", value).
		Float64("pec_error", data.PECError).
		Int("num_samples", data.NumSamples).
		Dur("duration", duration).
		Msg("Estimation run complete")

	if s.runs != nil {
		run, err := s.runs.Record(runs.RecordParams{
			Circuit:    req.Circuit,
			Observable: result.Observable,
			NoiseLevel: noise,
			RawValue:   raw,
			Duration:   duration,
			Data:       data,
		})
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to persist estimation run")
		} else {
			result.Run = run
		}
	}
	return result, nil
}

// Represent returns the representation the pipeline would use for a single
// operation of the circuit at the given noise level, solved against the
// per-gate noise model.
func (s *Service) Represent(op circuits.Operation, noise float64) (*representations.Representation, error) {
	ideal := circuits.New(op)
	basis, err := noisyops.DepolarizingBasis(ideal, noise)
	if err != nil {
		return nil, err
	}
	rep, err := s.reps.SolveOptimal(ideal, basis, representations.Options{})
	if err != nil {
		return nil, fmt.Errorf("pec: representing %s: %w", ideal, err)
	}
	return rep, nil
}

// sampler builds one representation per distinct operation of the circuit.
func (s *Service) sampler(c circuits.Circuit, noise float64) (*sampling.Sampler, error) {
	var reps []*representations.Representation
	seen := make(map[string]bool)
	for _, op := range c.Operations {
		key := circuits.New(op).Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		rep, err := s.Represent(op, noise)
		if err != nil {
			return nil, err
		}
		reps = append(reps, rep)
	}
	return sampling.NewSampler(reps...)
}
