// Package sampling realizes ideal circuits as randomly drawn noisy ones.
// Each operation with a known representation is replaced by a sampled basis
// term; operations without one pass through unchanged with neutral weight.
package sampling

import (
	"fmt"
	"math/rand"

	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/representations"
)

// Draw is one realized circuit together with its sampling bookkeeping: the
// product of term signs and the product of one-norms over all represented
// operations.
type Draw struct {
	Circuit circuits.Circuit
	Sign    int
	Norm    float64
}

// Sampler matches circuit operations against representations and draws
// noisy realizations. Matching is per operation, by the content key of the
// single-operation fragment.
type Sampler struct {
	byKey map[string]*representations.Representation
	reps  []*representations.Representation
}

// NewSampler builds a sampler. Two representations of the same ideal
// fragment are rejected.
func NewSampler(reps ...*representations.Representation) (*Sampler, error) {
	s := &Sampler{byKey: make(map[string]*representations.Representation, len(reps))}
	for _, rep := range reps {
		if rep == nil {
			return nil, fmt.Errorf("sampling: nil representation")
		}
		key := rep.Ideal().Key()
		if _, dup := s.byKey[key]; dup {
			return nil, fmt.Errorf("sampling: duplicate representation for %s", rep.Ideal())
		}
		s.byKey[key] = rep
		s.reps = append(s.reps, rep)
	}
	return s, nil
}

// Representations returns the registered representations in registration
// order.
func (s *Sampler) Representations() []*representations.Representation {
	out := make([]*representations.Representation, len(s.reps))
	copy(out, s.reps)
	return out
}

// Lookup returns the representation matching a single operation, if any.
func (s *Sampler) Lookup(op circuits.Operation) (*representations.Representation, bool) {
	rep, ok := s.byKey[circuits.New(op).Key()]
	return rep, ok
}

// Norm returns the total one-norm of the circuit under this sampler: the
// product of the one-norms of all represented operations. Unrepresented
// operations contribute a factor of one.
func (s *Sampler) Norm(c circuits.Circuit) float64 {
	norm := 1.0
	for _, op := range c.Operations {
		if rep, ok := s.Lookup(op); ok {
			norm *= rep.OneNorm()
		}
	}
	return norm
}

// One draws a single realization of the circuit, consuming entropy from
// rng.
func (s *Sampler) One(c circuits.Circuit, rng *rand.Rand) (Draw, error) {
	if err := c.Validate(); err != nil {
		return Draw{}, err
	}
	realized := circuits.New()
	sign := 1
	norm := 1.0
	for _, op := range c.Operations {
		rep, ok := s.Lookup(op)
		if !ok {
			realized = realized.Append(op)
			continue
		}
		noisy, termSign, _, err := rep.Sample(rng)
		if err != nil {
			return Draw{}, err
		}
		realized = realized.Append(noisy.Circuit().Operations...)
		sign *= termSign
		norm *= rep.OneNorm()
	}
	return Draw{Circuit: realized, Sign: sign, Norm: norm}, nil
}

// N draws n realizations sequentially from the same rng.
func (s *Sampler) N(c circuits.Circuit, n int, rng *rand.Rand) ([]Draw, error) {
	if n < 0 {
		return nil, fmt.Errorf("sampling: negative sample count %d", n)
	}
	draws := make([]Draw, 0, n)
	for i := 0; i < n; i++ {
		d, err := s.One(c, rng)
		if err != nil {
			return nil, err
		}
		draws = append(draws, d)
	}
	return draws, nil
}
