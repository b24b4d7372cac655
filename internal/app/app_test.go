package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/notnil/chess"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"expectree/internal/config"
	"expectree/internal/db"
	"expectree/internal/engine"
	"expectree/internal/engine/enginetest"
	"expectree/internal/evaluator"
	"expectree/internal/expectimax"
)

func writeCorpus(t *testing.T, dir string, games map[string]int) {
	t.Helper()
	var b strings.Builder
	for moves, n := range games {
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, "[Event \"Rated Blitz game\"]\n[Result \"1/2-1/2\"]\n[WhiteElo \"1500\"]\n[BlackElo \"1600\"]\n[TimeControl \"180+2\"]\n\n%s 1/2-1/2\n\n", moves)
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "games-2024-01.pgn"), []byte(b.String()), 0o644))
}

func testConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.Period = config.Period{Year: 2024, Month: 1}
	cfg.Engine.Path = "unused"
	cfg.Engine.Workers = 2
	cfg.Breadth = 0
	cfg.MinFrequency = 0
	cfg.MinVisits = 0
	cfg.MaxPlies = 2
	cfg.Corpus.Path = filepath.Join(dir, "games-{year}-{month}.pgn")
	cfg.DataDir = filepath.Join(dir, "data")
	return cfg
}

func fenAfter(t *testing.T, moves string) string {
	t.Helper()
	g := chess.NewGame()
	for _, mv := range strings.Fields(moves) {
		require.NoError(t, g.MoveStr(mv))
	}
	return g.Position().String()
}

func newApp(t *testing.T, cfg config.Config, opts ...Option) *App {
	t.Helper()
	a, err := New(cfg, zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestRunScoresCorpus(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, map[string]int{"1. e4 e5": 6, "1. e4 c5": 2})
	cfg := testConfig(dir)

	fake := enginetest.New().
		SetCP(fenAfter(t, "e4 e5"), 0).
		SetCP(fenAfter(t, "e4 c5"), -150)
	var out bytes.Buffer
	a := newApp(t, cfg, WithScorer(fake, fake.Name()), WithOutput(&out))

	rep, err := a.Run(context.Background())
	require.NoError(t, err)

	want := 0.75*0.5 + 0.25*evaluator.WinProbability(engine.Eval{CP: -150})
	require.InDelta(t, want, rep.Score, 1e-9)
	require.Equal(t, []string{"e4", "e5"}, rep.Line)
	require.EqualValues(t, 8, rep.Games)
	require.Equal(t, expectimax.Stats{Leaves: 2, Unique: 2}, rep.Stats)
	require.Equal(t, 2, fake.Total())
	require.Contains(t, out.String(), fmt.Sprintf("expected score %.3f for white", want))
	require.FileExists(t, cfg.SnapshotPath(cfg.Period))

	run, err := a.store.GetRun(context.Background(), rep.RunID)
	require.NoError(t, err)
	require.Equal(t, db.RunDone, run.Status)
	require.Equal(t, "e4 e5", run.Line)
	require.Equal(t, "enginetest", run.Engine)
	tree, err := a.store.RunTree(context.Background(), rep.RunID)
	require.NoError(t, err)
	require.Contains(t, string(tree), `"move":"e4"`)
}

func TestRunResumesFromCacheAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, map[string]int{"1. e4 e5": 3, "1. d4 d5": 1})
	cfg := testConfig(dir)
	cfg.Cache.Backend = config.BackendJournal

	fake := enginetest.New()
	first := newApp(t, cfg, WithScorer(fake, fake.Name()), WithOutput(&bytes.Buffer{}))
	rep, err := first.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, fake.Total())
	first.Close()

	// the snapshot replaces the archive
	require.NoError(t, os.Remove(filepath.Join(dir, "games-2024-01.pgn")))

	again := newApp(t, cfg, WithScorer(fake, fake.Name()), WithOutput(&bytes.Buffer{}))
	rep2, err := again.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, fake.Total())
	require.Equal(t, 2, rep2.Stats.Cached)
	require.InDelta(t, rep.Score, rep2.Score, 1e-12)
	require.EqualValues(t, 4, rep2.Games)
}

func TestRunEmptyCorpus(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, map[string]int{"1. e4 e5": 2})
	cfg := testConfig(dir)
	cfg.Corpus.MinRating = 2500

	fake := enginetest.New()
	a := newApp(t, cfg, WithScorer(fake, fake.Name()), WithOutput(&bytes.Buffer{}))
	rep, err := a.Run(context.Background())
	require.ErrorIs(t, err, ErrEmptyCorpus)

	run, err := a.store.GetRun(context.Background(), rep.RunID)
	require.NoError(t, err)
	require.Equal(t, db.RunFailed, run.Status)
	require.Equal(t, ErrEmptyCorpus.Error(), run.Error)
	require.Zero(t, fake.Total())
}

func TestRunRootUnevaluated(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, map[string]int{"1. e4 e5": 2, "1. d4 d5": 1})
	cfg := testConfig(dir)
	cfg.Retries = 1

	fake := enginetest.New().
		FailTimes(fenAfter(t, "e4 e5"), -1).
		FailTimes(fenAfter(t, "d4 d5"), -1)
	a := newApp(t, cfg, WithScorer(fake, fake.Name()), WithOutput(&bytes.Buffer{}))
	rep, err := a.Run(context.Background())
	require.ErrorIs(t, err, expectimax.ErrRootUnevaluated)
	require.NotNil(t, rep.Analysis)
	require.Equal(t, 2, rep.Stats.Failed)
	require.Equal(t, 4, fake.Total())

	run, err := a.store.GetRun(context.Background(), rep.RunID)
	require.NoError(t, err)
	require.Equal(t, db.RunFailed, run.Status)
}

func TestRunEngineUnavailable(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Engine.Path = filepath.Join(dir, "no-such-engine")

	a := newApp(t, cfg)
	_, err := a.Run(context.Background())
	require.ErrorIs(t, err, engine.ErrEngineUnavailable)

	runs, err := a.store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestSettingsRecorded(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, map[string]int{"1. e4 e5": 1})
	cfg := testConfig(dir)

	fake := enginetest.New()
	a := newApp(t, cfg, WithScorer(fake, "stub 2.0"), WithOutput(&bytes.Buffer{}))
	_, err := a.Run(context.Background())
	require.NoError(t, err)

	s, err := a.store.GetSettings(context.Background())
	require.NoError(t, err)
	require.Equal(t, db.Settings{EngineName: "stub 2.0", TimeBudgetMS: cfg.TimeBudgetMS}, s)
}

func TestMultiMonthShards(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir, map[string]int{"1. e4 e5": 2})
	feb := "[Event \"x\"]\n[Result \"1-0\"]\n[WhiteElo \"1500\"]\n[BlackElo \"1500\"]\n[TimeControl \"180+2\"]\n\n1. e4 c5 1-0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "games-2024-02.pgn"), []byte(feb), 0o644))
	cfg := testConfig(dir)
	cfg.PeriodEnd = config.Period{Year: 2024, Month: 2}

	fake := enginetest.New()
	a := newApp(t, cfg, WithScorer(fake, fake.Name()), WithOutput(&bytes.Buffer{}))
	rep, err := a.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, rep.Games)
	require.Equal(t, 2, rep.Stats.Leaves)
	require.Equal(t, 2, a.Tracker().Snapshot().ShardsOK)

	run, err := a.store.GetRun(context.Background(), rep.RunID)
	require.NoError(t, err)
	require.Equal(t, "2024-01..2024-02", run.Period)
}
