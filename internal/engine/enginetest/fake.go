// Package enginetest provides an in-memory engine.Scorer for tests.
package enginetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"expectree/internal/engine"
	"expectree/internal/position"
)

var ErrScripted = errors.New("scripted engine failure")

// Fake answers from a table keyed by canonical position key. It counts
// calls per key so tests can assert how often the engine was consulted.
type Fake struct {
	// Default answers positions missing from the table.
	Default engine.Eval
	// Delay is slept (respecting ctx) before every answer.
	Delay time.Duration

	mu    sync.Mutex
	evals map[string]engine.Eval
	fails map[string]int
	calls map[string]int
	total int
}

func New() *Fake {
	return &Fake{
		evals: make(map[string]engine.Eval),
		fails: make(map[string]int),
		calls: make(map[string]int),
	}
}

// Set scripts the answer for fen.
func (f *Fake) Set(fen string, ev engine.Eval) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals[key(fen)] = ev
	return f
}

// SetCP is Set with a centipawn score.
func (f *Fake) SetCP(fen string, cp int) *Fake {
	return f.Set(fen, engine.Eval{CP: cp, Depth: 10})
}

// FailTimes makes the next n calls for fen fail; n < 0 fails forever.
func (f *Fake) FailTimes(fen string, n int) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails[key(fen)] = n
	return f
}

func (f *Fake) Score(ctx context.Context, fen string, budget time.Duration) (engine.Eval, error) {
	k := key(fen)
	f.mu.Lock()
	f.calls[k]++
	f.total++
	fail := f.fails[k]
	if fail > 0 {
		f.fails[k] = fail - 1
	}
	ev, ok := f.evals[k]
	if !ok {
		ev = f.Default
	}
	delay := f.Delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return engine.Eval{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if fail != 0 {
		return engine.Eval{}, ErrScripted
	}
	return ev, nil
}

// Calls is how often fen was scored.
func (f *Fake) Calls(fen string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key(fen)]
}

// Total is the number of Score calls across all positions.
func (f *Fake) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *Fake) Name() string {
	return "enginetest"
}

func key(fen string) string {
	k, _, err := position.Normalize(fen)
	if err != nil {
		return fen
	}
	return k
}
