package executors

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/quasar/internal/modules/circuits"
)

// Logged wraps an executor and records every successful execution. It is
// safe for concurrent use.
type Logged struct {
	inner Executor
	log   zerolog.Logger

	mu       sync.Mutex
	calls    int
	executed []circuits.Circuit
	results  []Result
}

// NewLogged wraps inner with call recording.
func NewLogged(inner Executor, logger zerolog.Logger) *Logged {
	return &Logged{
		inner: inner,
		log:   logger.With().Str("component", "executor").Logger(),
	}
}

// Execute implements Executor.
func (l *Logged) Execute(ctx context.Context, c circuits.Circuit) (Result, error) {
	l.mu.Lock()
	l.calls++
	call := l.calls
	l.mu.Unlock()

	res, err := l.inner.Execute(ctx, c)
	if err != nil {
		l.log.Error().Err(err).Int("call", call).Stringer("circuit", c).Msg("Execution failed")
		return nil, err
	}

	l.mu.Lock()
	l.executed = append(l.executed, c)
	l.results = append(l.results, res)
	l.mu.Unlock()

	l.log.Debug().Int("call", call).Stringer("circuit", c).Msg("Executed circuit")
	return res, nil
}

// Calls returns how many times Execute was invoked, including failures.
func (l *Logged) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// ExecutedCircuits returns the successfully executed circuits in order.
func (l *Logged) ExecutedCircuits() []circuits.Circuit {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]circuits.Circuit, len(l.executed))
	copy(out, l.executed)
	return out
}

// Results returns the recorded results in execution order.
func (l *Logged) Results() []Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Result, len(l.results))
	copy(out, l.results)
	return out
}
