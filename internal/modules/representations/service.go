package representations

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/quasar/internal/cache"
	"github.com/aristath/quasar/internal/modules/circuits"
	"github.com/aristath/quasar/internal/modules/noisyops"
)

const cacheCategory = "representations"

// Service wraps the optimal solver with persistent caching. Solving is
// deterministic for a fixed fragment and basis, so a cache hit rebuilds
// the representation from the stored coefficients and the basis at hand
// instead of running the LP again.
type Service struct {
	cache *cache.Repository // nil disables caching
	log   zerolog.Logger
}

// NewService creates a new representations service. cacheRepo may be nil
// to disable caching.
func NewService(cacheRepo *cache.Repository, log zerolog.Logger) *Service {
	return &Service{
		cache: cacheRepo,
		log:   log.With().Str("service", "representations").Logger(),
	}
}

// cachedSolution is the msgpack payload stored for a solved representation.
type cachedSolution struct {
	Coeffs []float64 `msgpack:"coeffs"`
}

// SolveOptimal returns the minimum one-norm representation of the ideal
// fragment over the basis, consulting the cache first.
func (s *Service) SolveOptimal(ideal circuits.Circuit, basis noisyops.NoisyBasis, opts Options) (*Representation, error) {
	if s.cache == nil {
		return FindOptimal(ideal, basis, opts)
	}

	key := solveKey(ideal, basis, opts.Tol)

	if blob, found := s.cache.GetIfFresh(cacheCategory, key); found {
		rep, err := s.rebuild(ideal, basis, blob)
		if err == nil {
			s.log.Debug().Str("key", key).Msg("Representation cache hit")
			return rep, nil
		}
		s.log.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cached representation")
	}

	rep, err := FindOptimal(ideal, basis, opts)
	if err != nil {
		return nil, err
	}

	blob, err := msgpack.Marshal(cachedSolution{Coeffs: rep.Coeffs()})
	if err == nil {
		if err := s.cache.Store(cacheCategory, key, blob, cache.TTLRepresentation); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Failed to cache representation")
		}
	}

	return rep, nil
}

// rebuild reconstructs a representation from cached coefficients paired
// with the basis elements in order.
func (s *Service) rebuild(ideal circuits.Circuit, basis noisyops.NoisyBasis, blob []byte) (*Representation, error) {
	var sol cachedSolution
	if err := msgpack.Unmarshal(blob, &sol); err != nil {
		return nil, fmt.Errorf("failed to decode cached solution: %w", err)
	}

	elements := basis.Elements()
	if len(sol.Coeffs) != len(elements) {
		return nil, fmt.Errorf("cached solution has %d coefficients for a basis of %d", len(sol.Coeffs), len(elements))
	}

	terms := make([]Term, len(elements))
	for i, op := range elements {
		terms[i] = Term{Operation: op, Coeff: sol.Coeffs[i]}
	}
	return New(ideal, terms)
}

// solveKey derives the cache key for a solve. It hashes the ideal fragment,
// every basis element's circuit and channel content, and the tolerance, so
// any input change misses the cache.
func solveKey(ideal circuits.Circuit, basis noisyops.NoisyBasis, tol float64) string {
	h := sha256.New()
	io.WriteString(h, ideal.Key())

	for _, op := range basis.Elements() {
		h.Write([]byte{0})
		io.WriteString(h, op.Circuit().Key())
		hashChannel(h, op)
	}

	writeFloat(h, tol)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// hashChannel folds the channel matrix content into the hash. An absent
// channel is derived from the circuit, which the circuit key already covers.
func hashChannel(h io.Writer, op noisyops.NoisyOperation) {
	ch, ok := op.Channel()
	if !ok {
		h.Write([]byte{'i'})
		return
	}

	rows, cols := ch.Dims()
	writeInt(h, rows)
	writeInt(h, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := ch.At(i, j)
			writeFloat(h, real(v))
			writeFloat(h, imag(v))
		}
	}
}

func writeInt(h io.Writer, v int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}

func writeFloat(h io.Writer, v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	h.Write(buf[:])
}
