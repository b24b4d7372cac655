package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	engineCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expectree_engine_calls_total",
		Help: "UCI engine calls by outcome",
	}, []string{"outcome"})
	engineRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expectree_engine_restarts_total",
		Help: "Engine processes killed and replaced",
	})
	engineSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "expectree_engine_call_seconds",
		Help:    "Wall time of successful engine calls",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

// PoolConfig configures a pool of identical engine processes.
type PoolConfig struct {
	Path    string
	Args    []string
	Init    string // newline separated commands sent after the handshake
	Workers int
	// Grace is added to the search budget before a call is abandoned.
	Grace  time.Duration
	Logger zerolog.Logger
}

type slot struct {
	id  int
	eng *UCIEngine
	log zerolog.Logger
}

// Pool owns Workers engine processes. Each Score call checks out one
// process for its duration; a process that times out or fails is killed
// and replaced before the slot is returned.
type Pool struct {
	cfg PoolConfig
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	slots  chan *slot
	all    []*slot
	name   string

	closeOnce sync.Once
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("%w: no engine path", ErrEngineUnavailable)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "engine").Logger(),
		ctx:    ctx,
		cancel: cancel,
		slots:  make(chan *slot, cfg.Workers),
	}, nil
}

// Start launches every worker. Any failure is fatal: the pool is closed and
// the error wraps ErrEngineUnavailable.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.cfg.Workers; i++ {
		s := &slot{id: i, log: p.log.With().Int("worker_id", i).Logger()}
		if err := p.launch(ctx, s); err != nil {
			_ = p.Close()
			return fmt.Errorf("%w: %s: %v", ErrEngineUnavailable, p.cfg.Path, err)
		}
		if i == 0 {
			p.name = s.eng.Name()
		}
		p.all = append(p.all, s)
		p.slots <- s
	}
	p.log.Info().
		Str("engine", p.name).
		Int("workers", p.cfg.Workers).
		Msg("engine pool started")
	return nil
}

func (p *Pool) launch(ctx context.Context, s *slot) error {
	eng := NewUCIEngine(p.cfg.Path, p.cfg.Args)
	if err := eng.Start(p.ctx); err != nil {
		_ = eng.Kill()
		return fmt.Errorf("start: %w", err)
	}
	if err := applyInit(ctx, eng, p.cfg.Init); err != nil {
		_ = eng.Kill()
		return fmt.Errorf("init: %w", err)
	}
	s.eng = eng
	return nil
}

// Name is the engine's self-reported name.
func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Workers() int {
	return p.cfg.Workers
}

// Score runs one search on a free process. The call is abandoned after
// budget plus the configured grace; the process is then replaced and
// ErrTimeout returned.
func (p *Pool) Score(ctx context.Context, fen string, budget time.Duration) (Eval, error) {
	var s *slot
	select {
	case <-ctx.Done():
		return Eval{}, ctx.Err()
	case <-p.ctx.Done():
		return Eval{}, ErrEngineUnavailable
	case s = <-p.slots:
	}
	defer func() { p.slots <- s }()

	if s.eng == nil {
		if err := p.launch(ctx, s); err != nil {
			engineCalls.WithLabelValues("unavailable").Inc()
			return Eval{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, budget+p.cfg.Grace)
	defer cancel()
	start := time.Now()
	ev, err := s.eng.Analyse(callCtx, fen, budget)
	if err == nil {
		engineCalls.WithLabelValues("ok").Inc()
		engineSeconds.Observe(time.Since(start).Seconds())
		return ev, nil
	}

	timedOut := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
	if timedOut {
		err = fmt.Errorf("%w after %s", ErrTimeout, budget+p.cfg.Grace)
		engineCalls.WithLabelValues("timeout").Inc()
	} else {
		engineCalls.WithLabelValues("error").Inc()
	}
	s.log.Warn().Err(err).Str("fen", fen).Msg("restarting engine")
	p.restart(ctx, s)
	return Eval{}, err
}

func (p *Pool) restart(ctx context.Context, s *slot) {
	_ = s.eng.Kill()
	s.eng = nil
	engineRestarts.Inc()
	if p.ctx.Err() != nil {
		return
	}
	if err := p.launch(ctx, s); err != nil {
		// next checkout of this slot tries again
		s.log.Error().Err(err).Msg("engine restart failed")
	}
}

// Close stops every process, waiting for calls in flight to return their
// slots first.
func (p *Pool) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		for range p.all {
			s := <-p.slots
			if s.eng != nil {
				if err := s.eng.Close(); err != nil {
					errs = append(errs, err)
				}
				s.eng = nil
			}
		}
		p.cancel()
	})
	return errors.Join(errs...)
}
