package runs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/estimation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Service provides run recording and retrieval on top of the repository.
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a new runs service.
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "runs").Logger(),
	}
}

// RecordParams carries everything needed to persist a completed run.
type RecordParams struct {
	Circuit    circuits.Circuit
	Observable string
	NoiseLevel float64
	RawValue   *float64 // Unmitigated expectation, when measured
	Duration   time.Duration
	Data       *estimation.Data
}

// Record stores a completed estimation run and returns the stored record.
// The full estimator arrays are msgpack-encoded into the data blob.
func (s *Service) Record(p RecordParams) (*Run, error) {
	if p.Data == nil {
		return nil, fmt.Errorf("run data must not be nil")
	}

	blob, err := msgpack.Marshal(p.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run data: %w", err)
	}

	run := &Run{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now().UTC(),
		Circuit:    p.Circuit.String(),
		CircuitKey: p.Circuit.Key(),
		Qubits:     p.Circuit.Width(),
		Observable: p.Observable,
		NoiseLevel: p.NoiseLevel,
		OneNorm:    p.Data.OneNorm,
		NumSamples: p.Data.NumSamples,
		Seed:       p.Data.Seed,
		PECValue:   p.Data.PECValue,
		PECStd:     p.Data.PECStd,
		PECError:   p.Data.PECError,
		RawValue:   p.RawValue,
		DurationMS: p.Duration.Milliseconds(),
		Data:       blob,
	}

	if err := s.repo.Create(run); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("run_id", run.ID).
		Str("circuit", run.Circuit).
		Float64("pec_value", run.PECValue).
		Int("num_samples", run.NumSamples).
		Msg("Run recorded")

	return run, nil
}

// Get returns a run together with its decoded estimator data.
// Returns nil, nil, nil if no run with that ID exists.
func (s *Service) Get(id string) (*Run, *estimation.Data, error) {
	run, err := s.repo.GetByID(id)
	if err != nil || run == nil {
		return nil, nil, err
	}

	var data *estimation.Data
	if len(run.Data) > 0 {
		data = &estimation.Data{}
		if err := msgpack.Unmarshal(run.Data, data); err != nil {
			return nil, nil, fmt.Errorf("failed to decode run data for %s: %w", id, err)
		}
	}

	return run, data, nil
}

// List returns run summaries, newest first. A non-positive limit selects
// the default page size.
func (s *Service) List(limit, offset int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(limit, offset)
}

// Count returns the total number of stored runs.
func (s *Service) Count() (int, error) {
	return s.repo.Count()
}

// Delete removes a run. Returns false if it didn't exist.
func (s *Service) Delete(id string) (bool, error) {
	deleted, err := s.repo.Delete(id)
	if err != nil {
		return false, err
	}
	if deleted {
		s.log.Info().Str("run_id", id).Msg("Run deleted")
	}
	return deleted, nil
}

// PruneOlderThan removes runs older than the given number of days and
// returns the number deleted. Zero or negative days is a no-op.
func (s *Service) PruneOlderThan(days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	return s.repo.DeleteOlderThan(cutoff)
}

// ConfidenceInterval returns the normal-theory confidence interval for a
// run's mitigated value at the given level, e.g. 0.95 for a 95% interval.
func (s *Service) ConfidenceInterval(run *Run, level float64) (float64, float64, error) {
	if level <= 0 || level >= 1 {
		return 0, 0, fmt.Errorf("confidence level must lie in (0, 1), got %g", level)
	}
	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.5 + level/2)
	delta := z * run.PECError
	return run.PECValue - delta, run.PECValue + delta, nil
}
