package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"strings"
	"time"

	"github.com/notnil/chess"
	"golang.org/x/sync/errgroup"

	"expectree/internal/config"
	"expectree/internal/corpus"
	"expectree/internal/db"
	"expectree/internal/engine"
	"expectree/internal/evaluator"
	"expectree/internal/expectimax"
	"expectree/internal/render"
	"expectree/internal/tree"
)

// Report summarizes a finished run.
type Report struct {
	RunID    string
	Games    int64
	Skipped  int64
	Nodes    int
	Retained int
	Stats    expectimax.Stats
	// Score is the root's expected score for the optimizer.
	Score    float64
	Line     []string
	Analysis *expectimax.Analysis
}

// Run builds the tree for the configured months, evaluates its leaves and
// writes the rendered result. The run and its outcome are recorded in the
// store even when it fails.
func (a *App) Run(ctx context.Context) (Report, error) {
	if err := a.startEngine(ctx); err != nil {
		return Report{}, err
	}
	a.checkSettings(ctx)

	months := a.cfg.Months()
	runID, err := a.store.InsertRun(ctx, db.Run{
		Period:       periodLabel(months),
		Color:        colorName(a.cfg.OptimizerColor()),
		Engine:       a.engineName,
		TimeBudgetMS: a.cfg.TimeBudgetMS,
	})
	if err != nil {
		return Report{}, fmt.Errorf("record run: %w", err)
	}
	log := a.log.With().Str("run_id", runID).Logger()
	log.Info().Str("period", periodLabel(months)).Str("engine", a.engineName).Msg("run started")
	a.tracker.Begin(runID, len(months))

	rep, err := a.run(ctx, runID, months)
	a.tracker.Finish(err)
	if ferr := a.finish(runID, rep, err); ferr != nil {
		log.Error().Err(ferr).Msg("record run result")
	}
	if err != nil {
		log.Error().Err(err).Msg("run failed")
		return rep, err
	}
	log.Info().
		Float64("score", rep.Score).
		Str("line", strings.Join(rep.Line, " ")).
		Int("leaves", rep.Stats.Leaves).
		Int("cached", rep.Stats.Cached).
		Int("failed", rep.Stats.Failed).
		Msg("run finished")
	return rep, nil
}

func (a *App) startEngine(ctx context.Context) error {
	if a.scorer != nil {
		return nil
	}
	pool, err := engine.NewPool(engine.PoolConfig{
		Path:    a.cfg.Engine.Path,
		Args:    strings.Fields(a.cfg.Engine.Args),
		Init:    a.cfg.Engine.Init,
		Workers: a.cfg.Engine.Workers,
		Grace:   a.cfg.Grace(),
		Logger:  a.log,
	})
	if err != nil {
		return err
	}
	if err := pool.Start(ctx); err != nil {
		return err
	}
	a.pool = pool
	a.scorer = pool
	a.engineName = pool.Name()
	return nil
}

// checkSettings warns when the cache was filled by a different engine or
// time budget, then records the current ones.
func (a *App) checkSettings(ctx context.Context) {
	prev, err := a.store.GetSettings(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("read settings")
		return
	}
	cur := db.Settings{EngineName: a.engineName, TimeBudgetMS: a.cfg.TimeBudgetMS}
	if prev.EngineName != "" && prev != cur {
		a.log.Warn().
			Str("cached_engine", prev.EngineName).
			Int("cached_time_budget_ms", prev.TimeBudgetMS).
			Str("engine", cur.EngineName).
			Int("time_budget_ms", cur.TimeBudgetMS).
			Msg("engine settings changed; cached evaluations were made with other settings")
	}
	if err := a.store.UpdateSettings(ctx, cur); err != nil {
		a.log.Warn().Err(err).Msg("update settings")
	}
}

func (a *App) run(ctx context.Context, runID string, months []config.Period) (Report, error) {
	rep := Report{RunID: runID}

	t, stats, err := a.build(ctx, months)
	if err != nil {
		return rep, err
	}
	rep.Games, rep.Skipped, rep.Nodes = stats.Games, stats.Skipped, t.Len()
	if t.Games() == 0 {
		return rep, ErrEmptyCorpus
	}

	p, err := tree.Prune(t, tree.PruneOptions{
		Breadth:   a.cfg.Breadth,
		MinShare:  a.cfg.MinFrequency,
		MinVisits: a.cfg.MinVisits,
	})
	if err != nil {
		return rep, err
	}
	rep.Retained = p.Len()
	a.tracker.Evaluating(len(p.Leaves()))
	a.log.Info().
		Int("nodes", t.Len()).
		Int("retained", p.Len()).
		Int("leaves", len(p.Leaves())).
		Msg("tree pruned")

	color := a.cfg.OptimizerColor()
	ev := evaluator.New(a.cache, a.scorer, evaluator.Config{
		Color:   color,
		Retries: a.cfg.Retries,
		Budget:  a.cfg.Budget(),
		Engine:  a.engineName,
		Logger:  a.log,
	})
	an, err := expectimax.Run(ctx, p, color, ev, expectimax.Options{
		Budget:   a.cfg.Budget(),
		Workers:  a.cfg.Engine.Workers,
		OnResult: a.tracker.Observe,
	})
	if an == nil {
		return rep, err
	}
	rep.Analysis = an
	rep.Stats = an.Stats()
	if err != nil {
		return rep, err
	}
	rep.Score = an.Score(tree.Root)
	rep.Line = an.Moves(an.PrincipalLine())

	if err := render.Text(a.out, an, a.cfg.TreeSize); err != nil {
		return rep, fmt.Errorf("render tree: %w", err)
	}
	return rep, nil
}

// build reads every month in its own builder and merges the shards in
// month order.
func (a *App) build(ctx context.Context, months []config.Period) (*tree.Tree, tree.Stats, error) {
	shards := make([]*tree.Tree, len(months))
	stats := make([]tree.Stats, len(months))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, m := range months {
		g.Go(func() error {
			t, s, err := a.buildShard(ctx, m)
			if err != nil {
				return fmt.Errorf("month %s: %w", m, err)
			}
			shards[i], stats[i] = t, s
			a.tracker.ShardDone(s.Games, s.Skipped)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, tree.Stats{}, err
	}

	var total tree.Stats
	for _, s := range stats {
		total.Games += s.Games
		total.Skipped += s.Skipped
	}
	if len(shards) == 1 {
		return shards[0], total, nil
	}
	return tree.Merge(shards...), total, nil
}

func (a *App) buildShard(ctx context.Context, m config.Period) (*tree.Tree, tree.Stats, error) {
	log := a.log.With().Str("month", m.String()).Logger()
	b := tree.NewBuilder(
		tree.WithMaxPlies(a.cfg.MaxPlies),
		tree.WithNewNodesPerGame(a.cfg.NewNodesPerGame),
	).WithLogger(log)

	location := corpus.Location(a.cfg.Corpus.Path, m.Year, m.Month)
	fp := fmt.Sprintf("%s src=%s max=%d filter=%+v",
		b.Options().Fingerprint(), location, a.cfg.Corpus.MaxGames, a.cfg.Corpus.Filter)
	path := a.cfg.SnapshotPath(m)

	t, err := tree.LoadFile(path, fp)
	switch {
	case err == nil:
		log.Info().Int64("games", t.Games()).Int("nodes", t.Len()).Msg("tree snapshot loaded")
		return t, tree.Stats{Games: t.Games()}, nil
	case errors.Is(err, fs.ErrNotExist):
	case errors.Is(err, tree.ErrStaleSnapshot):
		log.Info().Msg("tree snapshot is stale, rebuilding")
	default:
		log.Warn().Err(err).Msg("tree snapshot unreadable, rebuilding")
	}

	started := time.Now()
	rc, err := corpus.Open(ctx, location)
	if err != nil {
		return nil, tree.Stats{}, err
	}
	defer rc.Close()

	src := corpus.NewPGNSource(rc, a.cfg.Corpus.Filter, a.cfg.Corpus.MaxGames)
	stats, err := b.Consume(ctx, src)
	if err != nil {
		return nil, stats, err
	}
	t = b.Tree()
	ps := src.Stats()
	log.Info().
		Int64("games", stats.Games).
		Int64("skipped", stats.Skipped).
		Int64("filtered", ps.Filtered).
		Int("nodes", t.Len()).
		Dur("took", time.Since(started)).
		Msg("month built")

	if err := t.SaveFile(path, fp); err != nil {
		log.Warn().Err(err).Msg("save tree snapshot")
	}
	return t, stats, nil
}

func (a *App) finish(runID string, rep Report, runErr error) error {
	res := db.RunResult{
		Status:    db.RunDone,
		Games:     rep.Games,
		Nodes:     rep.Nodes,
		Leaves:    rep.Stats.Leaves,
		Evaluated: rep.Stats.Unique,
		CacheHits: rep.Stats.Cached,
		Failed:    rep.Stats.Failed,
		RootScore: rep.Score,
		Line:      strings.Join(rep.Line, " "),
	}
	if runErr != nil {
		res.Status = db.RunFailed
		res.Error = runErr.Error()
	}
	if rep.Analysis != nil {
		data, err := json.Marshal(render.Tree(rep.Analysis))
		if err != nil {
			return fmt.Errorf("encode tree: %w", err)
		}
		res.TreeJSON = data
	}
	// the run context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.store.FinishRun(ctx, runID, res)
}

func colorName(c chess.Color) string {
	if c == chess.Black {
		return "black"
	}
	return "white"
}

func periodLabel(months []config.Period) string {
	if len(months) == 0 {
		return ""
	}
	if len(months) == 1 {
		return months[0].String()
	}
	return months[0].String() + ".." + months[len(months)-1].String()
}
