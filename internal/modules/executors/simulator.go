package executors

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/superop"
)

// MaxSimulatorQubits bounds the register the density-matrix simulator will
// allocate. State size grows as 16^n.
const MaxSimulatorQubits = 10

// DensityMatrixSimulator executes circuits by evolving the full density
// matrix, applying depolarizing noise on each operation's support after the
// operation itself. NoiseLevel zero gives the ideal simulator.
type DensityMatrixSimulator struct {
	noiseLevel float64
	log        zerolog.Logger
}

// NewDensityMatrixSimulator builds a simulator with the given depolarizing
// strength in [0, 1].
func NewDensityMatrixSimulator(noiseLevel float64, logger zerolog.Logger) (*DensityMatrixSimulator, error) {
	if noiseLevel < 0 || noiseLevel > 1 || math.IsNaN(noiseLevel) {
		return nil, fmt.Errorf("executors: noise level must be in [0, 1], got %g", noiseLevel)
	}
	return &DensityMatrixSimulator{
		noiseLevel: noiseLevel,
		log:        logger.With().Str("component", "simulator").Logger(),
	}, nil
}

// NoiseLevel returns the configured depolarizing strength.
func (s *DensityMatrixSimulator) NoiseLevel() float64 {
	return s.noiseLevel
}

// Execute implements Executor, returning a DensityMatrix over the circuit's
// register. An empty circuit yields the single-qubit ground state.
func (s *DensityMatrixSimulator) Execute(ctx context.Context, c circuits.Circuit) (Result, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	width := c.Width()
	if width == 0 {
		width = 1
	}
	if width > MaxSimulatorQubits {
		return nil, fmt.Errorf("executors: circuit needs %d qubits, simulator supports at most %d", width, MaxSimulatorQubits)
	}

	d := superop.HilbertDim(width)
	state := make([]complex128, d*d)
	state[0] = 1

	for i, op := range c.Operations {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		u, err := op.Unitary()
		if err != nil {
			return nil, err
		}
		state, err = superop.ApplyLocal(superop.FromUnitary(u), op.Qubits, width, state)
		if err != nil {
			return nil, fmt.Errorf("executors: operation %d (%s): %w", i, op, err)
		}
		if s.noiseLevel > 0 {
			noise := superop.Depolarizing(s.noiseLevel, len(op.Qubits))
			state, err = superop.ApplyLocal(noise, op.Qubits, width, state)
			if err != nil {
				return nil, fmt.Errorf("executors: noise on operation %d (%s): %w", i, op, err)
			}
		}
	}

	rho := mat.NewCDense(d, d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			rho.Set(i, j, state[i*d+j])
		}
	}
	s.log.Debug().Int("qubits", width).Int("operations", len(c.Operations)).Msg("Simulated circuit")
	return DensityMatrix{Rho: rho}, nil
}
