// Package app wires the corpus, tree, engine and cache packages into one
// analysis run and serves its reports.
package app

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"expectree/internal/config"
	"expectree/internal/db"
	"expectree/internal/engine"
	"expectree/internal/evalcache"
	"expectree/internal/progress"
	"expectree/internal/web"
)

var ErrEmptyCorpus = errors.New("corpus produced no games")

type App struct {
	cfg config.Config
	log zerolog.Logger
	out io.Writer

	store   *db.Store
	journal *evalcache.Journal
	cache   *evalcache.Memo
	tracker *progress.Tracker
	handler *web.Handler

	scorer     engine.Scorer
	engineName string
	pool       *engine.Pool

	closeOnce sync.Once
}

type Option func(*App)

// WithScorer replaces the engine process pool.
func WithScorer(s engine.Scorer, name string) Option {
	return func(a *App) {
		a.scorer = s
		a.engineName = name
	}
}

// WithOutput sets where the rendered tree goes; stdout by default.
func WithOutput(w io.Writer) Option {
	return func(a *App) {
		a.out = w
	}
}

func New(cfg config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	a := &App{
		cfg:     cfg,
		log:     log,
		out:     os.Stdout,
		tracker: progress.NewTracker(),
	}
	for _, opt := range opts {
		opt(a)
	}

	store, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	a.store = store

	var backend evalcache.Store = store
	if cfg.Cache.Backend == config.BackendJournal {
		j, stats, err := evalcache.OpenJournal(cfg.JournalPath(), log)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		log.Info().
			Int("loaded", stats.Loaded).
			Int("skipped", stats.Skipped).
			Int64("truncated", stats.Truncated).
			Msg("evaluation journal opened")
		a.journal = j
		backend = j
	}

	memo, err := evalcache.NewMemo(backend, cfg.Cache.LRUSize)
	if err != nil {
		_ = backend.Close()
		if a.journal != nil {
			_ = store.Close()
		}
		return nil, err
	}
	a.cache = memo
	a.handler = web.NewHandler(store, memo, a.tracker)
	return a, nil
}

func (a *App) Router() http.Handler {
	return a.handler.Router()
}

func (a *App) Tracker() *progress.Tracker {
	return a.tracker
}

func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.pool != nil {
			_ = a.pool.Close()
		}
		// the memo closes its backend
		_ = a.cache.Close()
		if a.journal != nil {
			_ = a.store.Close()
		}
	})
}
