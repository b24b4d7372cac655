// Package evaluator turns engine verdicts into cached win probabilities.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/notnil/chess"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"expectree/internal/engine"
	"expectree/internal/evalcache"
	"expectree/internal/position"
	"expectree/internal/tree"
)

var ErrUnevaluated = errors.New("position could not be evaluated")

var evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "expectree_evaluations_total",
	Help: "Position evaluations by source",
}, []string{"source"})

const (
	minProb = 1e-9
	maxProb = 1 - 1e-9
)

type Request struct {
	Node   tree.NodeID
	Key    string
	Budget time.Duration
}

// Result carries a score from the optimizer's point of view.
type Result struct {
	Node   tree.NodeID
	Key    string
	Score  float64
	Cached bool
	Err    error
}

type Config struct {
	// Color is the optimizer; scores are returned from its side.
	Color chess.Color
	// Retries is the number of extra engine attempts after a failure.
	Retries int
	// Budget applies to requests that carry none.
	Budget time.Duration
	// Engine is recorded with every committed entry.
	Engine string
	Logger zerolog.Logger
}

type Evaluator struct {
	cache  evalcache.Store
	scorer engine.Scorer
	cfg    Config
	log    zerolog.Logger
	calls  singleflight.Group
}

func New(cache evalcache.Store, scorer engine.Scorer, cfg Config) *Evaluator {
	if cfg.Color != chess.Black {
		cfg.Color = chess.White
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 50 * time.Millisecond
	}
	return &Evaluator{
		cache:  cache,
		scorer: scorer,
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "evaluator").Logger(),
	}
}

func (e *Evaluator) Color() chess.Color {
	return e.cfg.Color
}

// Evaluate scores the position in req. A cached entry is returned without
// consulting the engine; otherwise concurrent requests for one key share a
// single engine call whose result is committed before anyone returns.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) Result {
	res := Result{Node: req.Node, Key: req.Key}
	key, full, err := position.Normalize(req.Key)
	if err != nil {
		res.Err = fmt.Errorf("%w: %v", ErrUnevaluated, err)
		return res
	}
	res.Key = key

	entry, err := e.cache.Get(ctx, key)
	switch {
	case err == nil:
		evaluations.WithLabelValues("cache").Inc()
		res.Score = e.fromWhite(entry.Score)
		res.Cached = true
		return res
	case !errors.Is(err, evalcache.ErrNotFound):
		res.Err = fmt.Errorf("%w: read cache: %v", ErrUnevaluated, err)
		return res
	}

	budget := req.Budget
	if budget <= 0 {
		budget = e.cfg.Budget
	}
	v, err, _ := e.calls.Do(key, func() (any, error) {
		got, err := e.cache.Get(ctx, key)
		switch {
		case err == nil:
			return got, nil
		case !errors.Is(err, evalcache.ErrNotFound):
			return evalcache.Entry{}, fmt.Errorf("%w: read cache: %v", ErrUnevaluated, err)
		}
		fresh, err := e.compute(ctx, key, full, budget)
		if err != nil {
			return evalcache.Entry{}, err
		}
		return e.cache.PutIfAbsent(ctx, fresh)
	})
	if err != nil {
		evaluations.WithLabelValues("failed").Inc()
		res.Err = err
		return res
	}
	res.Score = e.fromWhite(v.(evalcache.Entry).Score)
	return res
}

// Lookup returns the cached entry for any FEN.
func (e *Evaluator) Lookup(ctx context.Context, fen string) (evalcache.Entry, error) {
	key, _, err := position.Normalize(fen)
	if err != nil {
		return evalcache.Entry{}, err
	}
	return e.cache.Get(ctx, key)
}

func (e *Evaluator) compute(ctx context.Context, key, full string, budget time.Duration) (evalcache.Entry, error) {
	pos, err := position.Parse(full)
	if err != nil {
		return evalcache.Entry{}, fmt.Errorf("%w: %v", ErrUnevaluated, err)
	}
	if entry, ok := terminal(key, pos); ok {
		evaluations.WithLabelValues("terminal").Inc()
		return entry, nil
	}

	var lastErr error
	attempts := 1 + e.cfg.Retries
	for i := 0; i < attempts; i++ {
		ev, err := e.scorer.Score(ctx, full, budget)
		if err == nil {
			evaluations.WithLabelValues("engine").Inc()
			if pos.Turn() == chess.Black {
				ev = ev.Negate()
			}
			return evalcache.Entry{
				Key:    key,
				Score:  WinProbability(ev),
				Raw:    ev.String(),
				Mate:   ev.IsMate,
				Depth:  ev.Depth,
				Engine: e.cfg.Engine,
			}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		e.log.Debug().Err(err).Str("key", key).Int("attempt", i+1).Msg("engine call failed")
	}
	e.log.Warn().Err(lastErr).Str("key", key).Int("attempts", attempts).Msg("position unevaluated")
	return evalcache.Entry{}, fmt.Errorf("%w: %s: %v", ErrUnevaluated, key, lastErr)
}

// terminal scores positions the engine cannot search.
func terminal(key string, pos *chess.Position) (evalcache.Entry, bool) {
	switch pos.Status() {
	case chess.Checkmate:
		score := 1.0
		if pos.Turn() == chess.White {
			score = 0
		}
		return evalcache.Entry{Key: key, Score: score, Raw: "checkmate", Mate: true}, true
	case chess.Stalemate:
		return evalcache.Entry{Key: key, Score: 0.5, Raw: "stalemate"}, true
	}
	return evalcache.Entry{}, false
}

func (e *Evaluator) fromWhite(p float64) float64 {
	if e.cfg.Color == chess.Black {
		return 1 - p
	}
	return p
}

// WinProbability maps an evaluation to the expected score of the side it is
// relative to: 1/(1+10^(-cp/400)) clamped away from 0 and 1, and exactly 1
// or 0 for a forced mate.
func WinProbability(ev engine.Eval) float64 {
	if ev.IsMate {
		if ev.Mate > 0 {
			return 1
		}
		return 0
	}
	p := 1 / (1 + math.Pow(10, -float64(ev.CP)/400))
	return math.Min(maxProb, math.Max(minProb, p))
}
